// Package patterns validates and compiles section-heading patterns.
//
// Patterns are compiled with regexp2 so callers can supply the backtracking
// syntax common in hand-written heading rules (lookarounds, backreferences).
// Because backtracking engines are exposed to catastrophic inputs, every
// custom pattern passes a Validator before it joins the active set, and every
// compiled pattern carries a match timeout.
package patterns

import (
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// Origin records where a pattern came from.
type Origin string

const (
	OriginDefault Origin = "default"
	OriginCustom  Origin = "custom"
)

// Kind is the heading family a pattern belongs to. Kinds are scanned in
// declaration order.
type Kind int

const (
	KindNumbered Kind = iota
	KindUppercase
	KindUnderlined
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindNumbered:
		return "numbered"
	case KindUppercase:
		return "uppercase"
	case KindUnderlined:
		return "underlined"
	case KindCustom:
		return "custom"
	}
	return "unknown"
}

// Pattern is a validated, compiled heading pattern.
type Pattern struct {
	Source string
	Origin Origin
	Kind   Kind

	re *regexp2.Regexp
}

// Window is the number of consecutive lines the pattern is matched against.
// Underlined headings need the heading line and the rule beneath it.
func (p *Pattern) Window() int {
	if p.Kind == KindUnderlined {
		return 2
	}
	return 1
}

// Match reports whether text matches and returns the heading it names. The
// heading is the first capture group when the pattern has one, otherwise the
// whole match. A non-nil error means the match timed out.
func (p *Pattern) Match(text string) (string, bool, error) {
	m, err := p.re.FindStringMatch(text)
	if err != nil {
		return "", false, err
	}
	if m == nil {
		return "", false, nil
	}
	heading := m.String()
	if g := m.GroupByNumber(1); g != nil && len(g.Captures) > 0 {
		heading = g.String()
	}
	heading = strings.TrimSpace(heading)
	if heading == "" {
		return "", false, nil
	}
	return heading, true, nil
}

// Default heading sources. They avoid nested unbounded quantifiers so they
// pass the same checks custom patterns do. A numbered heading needs at least
// one dot, so "2.1 Scope" and "4. Access" match but "100 Main Street" does
// not.
const (
	NumberedSource   = `^((?:\d{1,3}\.){1,6}(?:\d{1,3})?[ \t]+[A-Z].{0,118})$`
	UppercaseSource  = `^([A-Z][A-Z0-9 ,&'()/:\-]{3,79})$`
	UnderlinedSource = `^([^\s=\-][^\n]{0,118})\n[=\-]{3,}[ \t]*$`
)

// DefaultTimeout bounds a single scan-time match.
const DefaultTimeout = 250 * time.Millisecond

// DefaultSet returns the built-in heading patterns in precedence order:
// numbered, uppercase, underlined.
func DefaultSet(timeout time.Duration) []*Pattern {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return []*Pattern{
		mustCompile(NumberedSource, KindNumbered, timeout),
		mustCompile(UppercaseSource, KindUppercase, timeout),
		mustCompile(UnderlinedSource, KindUnderlined, timeout),
	}
}

func mustCompile(src string, kind Kind, timeout time.Duration) *Pattern {
	re := regexp2.MustCompile(src, regexp2.None)
	re.MatchTimeout = timeout
	return &Pattern{Source: src, Origin: OriginDefault, Kind: kind, re: re}
}
