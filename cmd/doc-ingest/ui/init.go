// Package ui provides terminal output helpers for the doc-ingest CLI.
package ui

import (
	"os"

	"github.com/fatih/color"
)

var verboseFlag bool

// InitUI applies color and verbosity settings.
func InitUI(noColor, verbose bool) {
	verboseFlag = verbose

	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
}

// Verbose reports whether verbose output was requested.
func Verbose() bool {
	return verboseFlag
}

// Interactive reports whether stderr is a terminal that can show
// spinners and progress bars.
func Interactive() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
