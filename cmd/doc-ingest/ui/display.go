package ui

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

var (
	successMark = color.New(color.FgGreen, color.Bold).SprintFunc()
	errorMark   = color.New(color.FgRed, color.Bold).SprintFunc()
	warnMark    = color.New(color.FgYellow, color.Bold).SprintFunc()
	infoMark    = color.New(color.FgCyan).SprintFunc()
	heading     = color.New(color.Bold).SprintFunc()
	dim         = color.New(color.Faint).SprintFunc()
)

// Table displays rows aligned under headers.
func Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, heading(strings.Join(headers, "\t")))

	separator := make([]string, len(headers))
	for i := range separator {
		separator[i] = strings.Repeat("-", len(headers[i]))
	}
	fmt.Fprintln(w, strings.Join(separator, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	_ = w.Flush()
}

// Box draws content inside a titled border on stderr.
func Box(title, content string) {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	width := len([]rune(title))
	for _, line := range lines {
		if n := len([]rune(line)); n > width {
			width = n
		}
	}
	if width < 40 {
		width = 40
	}

	rule := strings.Repeat("─", width+2)
	fmt.Fprintf(os.Stderr, "┌%s┐\n", rule)
	if title != "" {
		fmt.Fprintf(os.Stderr, "│ %s%s │\n", heading(title), pad(title, width))
		fmt.Fprintf(os.Stderr, "├%s┤\n", rule)
	}
	for _, line := range lines {
		fmt.Fprintf(os.Stderr, "│ %s%s │\n", line, pad(line, width))
	}
	fmt.Fprintf(os.Stderr, "└%s┘\n", rule)
}

func pad(s string, width int) string {
	n := width - len([]rune(s))
	if n <= 0 {
		return ""
	}
	return strings.Repeat(" ", n)
}

// ErrorBox displays a boxed error with a hint.
func ErrorBox(title, message string) {
	fmt.Fprintln(os.Stderr)
	Box("✗ "+title, message)
	fmt.Fprintln(os.Stderr)
}

// Section displays a section header.
func Section(title string) {
	fmt.Fprintf(os.Stdout, "\n%s\n", heading(title))
	fmt.Fprintf(os.Stdout, "%s\n\n", strings.Repeat("=", len([]rune(title))))
}

// KeyValue displays a key-value pair.
func KeyValue(key, value string) {
	fmt.Fprintf(os.Stdout, "  %s %s\n", dim(key+":"), value)
}

// Success displays a success message.
func Success(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "%s %s\n", successMark("✓"), fmt.Sprintf(format, args...))
}

// Error displays an error message to stderr.
func Error(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", errorMark("✗"), fmt.Sprintf(format, args...))
}

// Warning displays a warning message.
func Warning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "%s %s\n", warnMark("⚠"), fmt.Sprintf(format, args...))
}

// Info displays an informational message.
func Info(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "%s %s\n", infoMark("ℹ"), fmt.Sprintf(format, args...))
}

// Newline prints a newline.
func Newline() {
	fmt.Fprintln(os.Stdout)
}

// FormatDuration formats a duration for humans.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(100 * time.Millisecond)
	minutes := d / time.Minute
	seconds := (d - minutes*time.Minute).Seconds()
	if minutes > 0 {
		return fmt.Sprintf("%dm %.1fs", minutes, seconds)
	}
	return fmt.Sprintf("%.1fs", seconds)
}
