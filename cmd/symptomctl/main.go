package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

var (
	catalogPath   string
	templatesPath string
	logLevel      string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "symptomctl",
		Short: "Operator tools for the post-operative symptom assessment engine",
		Long: `symptomctl runs an assessment dialogue locally against in-memory stores,
validates clinician template files before they are loaded, and prints the
symptom catalog each channel asks.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&catalogPath, "catalog", "", "symptom catalog YAML (built-in when empty)")
	root.PersistentFlags().StringVar(&templatesPath, "templates", "", "response template YAML (built-in when empty)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "error", "log level for engine output on stderr")

	root.AddCommand(newSimulateCmd(), newTemplatesCmd(), newCatalogCmd())
	return root
}

func cliLogger(cmd *cobra.Command) *logging.Logger {
	return logging.NewWithWriter(logLevel, cmd.ErrOrStderr())
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
