package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wolfman30/symptom-assessment-engine/internal/catalog"
)

func newCatalogCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the ordered symptom list for a channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ch := catalog.Channel(channel)
			if !ch.Valid() {
				return fmt.Errorf("unknown channel %q", channel)
			}
			cat, err := catalog.LoadFile(catalogPath)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tID\tNAME\tPROMPT")
			for i, def := range cat.ForChannel(ch) {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, def.ID, def.DisplayName, def.PromptFor(ch))
			}
			for _, q := range cat.OpenEnded(ch) {
				fmt.Fprintf(tw, "-\t%s\t(open)\t%s\n", q.ID, q.Prompt)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&channel, "channel", string(catalog.ChannelChat), "chat or voice")
	return cmd
}
