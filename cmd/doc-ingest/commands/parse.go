package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/doc-ingest/cmd/doc-ingest/ui"
	"github.com/spherical/doc-ingest/internal/pipeline"
	"github.com/spherical/doc-ingest/pkg/ingest"
)

var (
	parseFile       string
	parseID         string
	parseOrg        string
	parseNoOCR      bool
	parseNoTables   bool
	parseNoParallel bool
	parsePatterns   []string
	parseOutput     string
	parseJSON       bool
	parseTimeout    time.Duration
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Parse a PDF into sectioned pages and tables",
	Long: `Parse a PDF document. Results are cached by document id, so parsing the
same id again returns the cached result without touching the file.`,
	RunE: runParse,
}

func init() {
	parseCmd.Flags().StringVarP(&parseFile, "file", "f", "", "path to PDF file (required)")
	parseCmd.Flags().StringVar(&parseID, "id", "", "document id (default: derived from the file path)")
	parseCmd.Flags().StringVar(&parseOrg, "org", "", "organization id for log context")
	parseCmd.Flags().BoolVar(&parseNoOCR, "no-ocr", false, "disable OCR for scanned documents")
	parseCmd.Flags().BoolVar(&parseNoTables, "no-tables", false, "skip table extraction")
	parseCmd.Flags().BoolVar(&parseNoParallel, "no-parallel", false, "extract pages sequentially")
	parseCmd.Flags().StringArrayVarP(&parsePatterns, "pattern", "p", nil, "custom section heading regex (repeatable)")
	parseCmd.Flags().StringVarP(&parseOutput, "output", "o", "", "write the result as JSON to this file")
	parseCmd.Flags().BoolVar(&parseJSON, "json", false, "print the result as JSON to stdout")
	parseCmd.Flags().DurationVar(&parseTimeout, "timeout", 10*time.Minute, "overall parse timeout")
	_ = parseCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), parseTimeout)
	defer cancel()

	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	documentID := parseID
	if documentID == "" {
		if documentID, err = defaultDocumentID(parseFile); err != nil {
			return err
		}
	}

	opts := client.DefaultOptions()
	opts.EnableOCR = !parseNoOCR
	opts.EnableTables = !parseNoTables
	opts.EnableParallel = !parseNoParallel
	opts.CustomPatterns = append(opts.CustomPatterns, parsePatterns...)

	progress := newParseProgress(!parseJSON && ui.Interactive())
	opts.OnStage = progress.stage
	opts.Progress = progress.pages

	start := time.Now()
	result, err := client.ParseFile(ctx, documentID, parseOrg, parseFile, opts)
	progress.stop()
	if err != nil {
		showParseError(err)
		return err
	}
	elapsed := time.Since(start)

	if parseOutput != "" {
		if err := writeJSON(parseOutput, result); err != nil {
			return err
		}
	}
	if parseJSON {
		return printJSON(result)
	}

	ui.Section("Parse Summary")
	ui.Table([]string{"Metric", "Value"}, summaryRows(result, elapsed))
	if n := ocrFailedPages(result); n > 0 {
		ui.Newline()
		ui.Warning("%d page(s) could not be recognised and have empty text", n)
	}
	if parseOutput != "" {
		ui.Newline()
		ui.Success("Result saved to: %s", parseOutput)
	}
	return nil
}

// parseProgress drives a spinner through the pipeline stages and swaps it
// for a progress bar while OCR runs.
type parseProgress struct {
	enabled bool
	spinner *ui.Spinner
	bar     *ui.ProgressBar
}

func newParseProgress(enabled bool) *parseProgress {
	p := &parseProgress{enabled: enabled}
	if enabled {
		p.spinner = ui.NewSpinner("Starting...")
		p.spinner.Start()
	}
	return p
}

func (p *parseProgress) stage(s pipeline.Stage) {
	if !p.enabled {
		return
	}
	if s == pipeline.StageOCR {
		p.spinner.Stop()
		p.bar = ui.NewProgressBar(-1, "OCR")
		return
	}
	p.spinner.UpdateMessage(stageMessage(s))
}

func (p *parseProgress) pages(done, total int) {
	if p.bar != nil {
		p.bar.Update(done, total)
	}
}

func (p *parseProgress) stop() {
	if !p.enabled {
		return
	}
	p.spinner.Stop()
	if p.bar != nil {
		p.bar.Finish()
	}
}

func stageMessage(s pipeline.Stage) string {
	switch s {
	case pipeline.StageCacheCheck:
		return "Checking cache..."
	case pipeline.StageValidate:
		return "Validating document..."
	case pipeline.StageExtractTables, pipeline.StageExtractText:
		return "Extracting text and tables..."
	case pipeline.StageDetectSections:
		return "Detecting sections..."
	case pipeline.StageCacheWrite:
		return "Caching result..."
	}
	return fmt.Sprintf("%s...", s)
}

func ocrFailedPages(result *ingest.ParseResult) int {
	n := 0
	for _, p := range result.Pages {
		if p.OCRFailed {
			n++
		}
	}
	return n
}
