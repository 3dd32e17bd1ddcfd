package patterns

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// ErrorKind classifies a pattern rejection.
type ErrorKind string

const (
	ErrTooLong          ErrorKind = "too_long"
	ErrInvalid          ErrorKind = "invalid"
	ErrUnsafeComplexity ErrorKind = "unsafe_complexity"
)

// PatternError is returned when a custom pattern is rejected.
type PatternError struct {
	Kind    ErrorKind
	Pattern string
	Reason  string
	Err     error
}

func (e *PatternError) Error() string {
	p := e.Pattern
	if len(p) > 60 {
		p = p[:60] + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("pattern %q rejected (%s): %s: %v", p, e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("pattern %q rejected (%s): %s", p, e.Kind, e.Reason)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

const (
	DefaultMaxLength         = 1000
	DefaultValidationTimeout = 100 * time.Millisecond
)

// Validator decides whether a custom pattern may join the active set.
// It is stateless and safe for concurrent use.
type Validator struct {
	MaxLength int
	// Timeout bounds each adversarial probe during validation.
	Timeout time.Duration
	// ScanTimeout is attached to accepted patterns for use at scan time.
	ScanTimeout time.Duration
}

// NewValidator creates a validator, substituting defaults for zero values.
func NewValidator(maxLength int, timeout, scanTimeout time.Duration) *Validator {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if timeout <= 0 {
		timeout = DefaultValidationTimeout
	}
	if scanTimeout <= 0 {
		scanTimeout = DefaultTimeout
	}
	return &Validator{MaxLength: maxLength, Timeout: timeout, ScanTimeout: scanTimeout}
}

// Validate checks src and returns the compiled custom pattern.
func (v *Validator) Validate(src string) (*Pattern, error) {
	if len(src) > v.MaxLength {
		return nil, &PatternError{
			Kind:    ErrTooLong,
			Pattern: src,
			Reason:  fmt.Sprintf("length %d exceeds %d", len(src), v.MaxLength),
		}
	}
	if strings.TrimSpace(src) == "" {
		return nil, &PatternError{Kind: ErrInvalid, Pattern: src, Reason: "empty pattern"}
	}

	re, err := regexp2.Compile(src, regexp2.None)
	if err != nil {
		return nil, &PatternError{Kind: ErrInvalid, Pattern: src, Reason: "does not compile", Err: err}
	}

	if reason := nestedQuantifier(src); reason != "" {
		return nil, &PatternError{Kind: ErrUnsafeComplexity, Pattern: src, Reason: reason}
	}

	re.MatchTimeout = v.Timeout
	for _, probe := range adversarialInputs {
		if _, err := re.MatchString(probe); err != nil {
			return nil, &PatternError{
				Kind:    ErrUnsafeComplexity,
				Pattern: src,
				Reason:  fmt.Sprintf("probe match exceeded %s", v.Timeout),
				Err:     err,
			}
		}
	}

	re.MatchTimeout = v.ScanTimeout
	return &Pattern{Source: src, Origin: OriginCustom, Kind: KindCustom, re: re}, nil
}

// ValidateAll validates every source and stops at the first rejection.
func (v *Validator) ValidateAll(srcs []string) ([]*Pattern, error) {
	out := make([]*Pattern, 0, len(srcs))
	for _, src := range srcs {
		p, err := v.Validate(src)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// adversarialInputs are long near-miss strings that drive backtracking
// engines into their worst case for common overlapping constructs.
var adversarialInputs = []string{
	strings.Repeat("a", 4096) + "!",
	strings.Repeat("A", 4096) + "!",
	strings.Repeat("1.", 2048) + "x",
	strings.Repeat(" ", 4096) + "!",
	strings.Repeat("a ", 2048) + "!",
	strings.Repeat("=", 4096) + "x",
	strings.Repeat("aA1 .-=", 600) + "\x00",
}

type groupState struct {
	unbounded bool
}

// nestedQuantifier reports a reason when src applies an unbounded quantifier
// to a group that already contains one, e.g. (a+)+ or (\w*\s?)*.
// Bounded repetition such as {1,3} is not counted.
func nestedQuantifier(src string) string {
	stack := []groupState{{}}
	rs := []rune(src)

	for i := 0; i < len(rs); i++ {
		switch rs[i] {
		case '\\':
			i++
		case '[':
			i = skipClass(rs, i)
		case '(':
			stack = append(stack, groupState{})
		case ')':
			if len(stack) == 1 {
				continue
			}
			inner := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			unbounded, width := quantifierAt(rs, i+1)
			if unbounded && inner.unbounded {
				return fmt.Sprintf("nested unbounded quantifier at offset %d", i)
			}
			if inner.unbounded || unbounded {
				stack[len(stack)-1].unbounded = true
			}
			i += width
		default:
			unbounded, width := quantifierAt(rs, i)
			if width > 0 {
				if unbounded {
					stack[len(stack)-1].unbounded = true
				}
				i += width - 1
			}
		}
	}
	return ""
}

// skipClass returns the index of the ']' closing the class opened at i.
func skipClass(rs []rune, i int) int {
	j := i + 1
	if j < len(rs) && rs[j] == '^' {
		j++
	}
	if j < len(rs) && rs[j] == ']' {
		j++
	}
	for ; j < len(rs); j++ {
		switch rs[j] {
		case '\\':
			j++
		case ']':
			return j
		}
	}
	return len(rs)
}

// quantifierAt inspects rs[i:] for a quantifier and returns whether it is
// unbounded and how many runes it spans, including lazy/possessive suffixes.
func quantifierAt(rs []rune, i int) (bool, int) {
	if i >= len(rs) {
		return false, 0
	}
	var unbounded bool
	width := 0
	switch rs[i] {
	case '*', '+':
		unbounded, width = true, 1
	case '?':
		width = 1
	case '{':
		j := i + 1
		digits := 0
		for j < len(rs) && rs[j] >= '0' && rs[j] <= '9' {
			j++
			digits++
		}
		if digits == 0 || j >= len(rs) {
			return false, 0
		}
		if rs[j] == '}' {
			width = j - i + 1
			break
		}
		if rs[j] != ',' {
			return false, 0
		}
		j++
		upper := 0
		for j < len(rs) && rs[j] >= '0' && rs[j] <= '9' {
			j++
			upper++
		}
		if j >= len(rs) || rs[j] != '}' {
			return false, 0
		}
		unbounded = upper == 0
		width = j - i + 1
	default:
		return false, 0
	}
	if next := i + width; next < len(rs) && (rs[next] == '?' || rs[next] == '+') {
		width++
	}
	return unbounded, width
}
