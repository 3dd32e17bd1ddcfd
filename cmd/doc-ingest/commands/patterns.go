package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/doc-ingest/cmd/doc-ingest/ui"
	"github.com/spherical/doc-ingest/internal/patterns"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Work with custom section heading patterns",
}

var patternsCheckCmd = &cobra.Command{
	Use:   "check PATTERN...",
	Short: "Validate custom section patterns without parsing a document",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v := patterns.NewValidator(cfg.Sections.MaxPatternLength, cfg.Sections.ValidationTimeout, cfg.Sections.ScanTimeout)

		rows := make([][]string, 0, len(args))
		rejected := 0
		for _, src := range args {
			status, reason := "ok", ""
			if _, err := v.Validate(src); err != nil {
				rejected++
				status = "rejected"
				reason = err.Error()
			}
			rows = append(rows, []string{src, status, reason})
		}

		ui.Table([]string{"Pattern", "Status", "Reason"}, rows)
		if rejected > 0 {
			return fmt.Errorf("%d of %d pattern(s) rejected", rejected, len(args))
		}
		ui.Newline()
		ui.Success("All %d pattern(s) accepted", len(args))
		return nil
	},
}

func init() {
	patternsCmd.AddCommand(patternsCheckCmd)
	rootCmd.AddCommand(patternsCmd)
}
