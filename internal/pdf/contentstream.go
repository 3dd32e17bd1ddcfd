package pdf

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/tsawler/tabula/contentstream"
	"github.com/tsawler/tabula/core"
)

// kernGap is the TJ displacement, in thousandths of an em, past which an
// adjustment is read as a word gap.
const kernGap = -200

// tabula's content parser keeps its operand stack in a package variable.
var parseMu sync.Mutex

// textFromContentStream pulls shown text out of a decoded page content
// stream. Strings passed to Tj, TJ, ' and " are emitted; line-moving
// operators and text-object ends become newlines so headings keep their
// own lines.
func textFromContentStream(data []byte) (string, error) {
	parseMu.Lock()
	ops, err := contentstream.NewParser(data).Parse()
	parseMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("content stream: %w", err)
	}

	var sb strings.Builder
	newline := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}
	space := func() {
		s := sb.String()
		if sb.Len() > 0 && !strings.HasSuffix(s, " ") && !strings.HasSuffix(s, "\n") {
			sb.WriteByte(' ')
		}
	}

	for _, op := range ops {
		switch op.Operator {
		case "Tj":
			sb.WriteString(lastString(op.Operands))
		case "'", "\"":
			newline()
			sb.WriteString(lastString(op.Operands))
		case "TJ":
			if len(op.Operands) == 0 {
				continue
			}
			arr, ok := op.Operands[len(op.Operands)-1].(core.Array)
			if !ok {
				continue
			}
			for _, item := range arr {
				switch v := item.(type) {
				case core.String:
					sb.WriteString(showString(v))
				case core.Int, core.Real:
					if number(v) < kernGap {
						sb.WriteByte(' ')
					}
				}
			}
		case "Td", "TD":
			if n := len(op.Operands); n >= 2 && number(op.Operands[n-1]) != 0 {
				newline()
			} else {
				space()
			}
		case "T*", "ET":
			newline()
		case "Tm":
			space()
		}
	}

	return normalizeStreamText(sb.String()), nil
}

func lastString(operands []core.Object) string {
	if len(operands) == 0 {
		return ""
	}
	if s, ok := operands[len(operands)-1].(core.String); ok {
		return showString(s)
	}
	return ""
}

func number(obj core.Object) float64 {
	switch v := obj.(type) {
	case core.Int:
		return float64(v)
	case core.Real:
		return float64(v)
	}
	return 0
}

// showString narrows two-byte code units when every high byte is zero,
// which covers common Identity-H ASCII text, then drops control bytes.
func showString(s core.String) string {
	b := []byte(s)
	if len(b) > 0 && len(b)%2 == 0 {
		wide := true
		for i := 0; i < len(b); i += 2 {
			if b[i] != 0 {
				wide = false
				break
			}
		}
		if wide {
			narrow := make([]byte, 0, len(b)/2)
			for i := 1; i < len(b); i += 2 {
				narrow = append(narrow, b[i])
			}
			b = narrow
		}
	}
	return printable(b)
}

// printable maps bytes to runes as Latin-1 and drops control characters
// other than line breaks and tabs.
func printable(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		r := rune(c)
		if r == '\n' || r == '\t' || unicode.IsPrint(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// normalizeStreamText collapses runs of spaces within lines and drops blank
// lines.
func normalizeStreamText(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
