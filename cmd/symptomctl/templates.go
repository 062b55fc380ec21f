package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wolfman30/symptom-assessment-engine/internal/templates"
)

func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Work with clinician response templates",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file> [file...]",
		Short: "Check template files for missing fields and duplicate ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				list, err := templates.LoadFile(path)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", path, err)
					continue
				}
				usable := 0
				for _, t := range list {
					if t.Usable() {
						usable++
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok   %s: %d templates, %d usable\n", path, len(list), usable)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files invalid", failed, len(args))
			}
			return nil
		},
	})

	var top int
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print category and usage totals for the configured template set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := templates.LoadFile(templatesPath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(templates.ComputeStats(list, top))
		},
	}
	stats.Flags().IntVar(&top, "top", 5, "number of most-used templates to list")
	cmd.AddCommand(stats)
	return cmd
}
