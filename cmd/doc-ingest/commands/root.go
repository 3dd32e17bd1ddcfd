// Package commands implements the doc-ingest command tree.
package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical/doc-ingest/cmd/doc-ingest/ui"
	"github.com/spherical/doc-ingest/internal/config"
	"github.com/spherical/doc-ingest/internal/observability"
)

var (
	cfgFile string
	verbose bool
	noColor bool

	cfg    *config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:   "doc-ingest",
	Short: "Parse compliance PDFs into sectioned page text and tables",
	Long: `doc-ingest extracts page text, section labels and tables from PDF documents.
Text extraction falls back across several PDF engines, switches to OCR for
scanned documents, and caches results by document id.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.InitUI(noColor, verbose)

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		} else if cfgFile == "" && os.Getenv("LOG_LEVEL") == "" {
			level = "warn"
		}
		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      "console",
			Output:      os.Stderr,
			ServiceName: cfg.Observability.ServiceName,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// ExecuteContext runs the root command. Cancelling ctx aborts an
// in-flight parse.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
