package extract

import (
	"fmt"
	"regexp"
	"time"

	"github.com/dlclark/regexp2"
)

// Regex engine names accepted by Compile.
const (
	EnginePCRE = "pcre"
	EngineRE2  = "re2"
)

// matchTimeout bounds a single backtracking match.
const matchTimeout = time.Second

// Group is one capture group of a match.
type Group struct {
	Text string
	Set  bool // false when the group did not participate
}

// Pattern matches a line against a compiled expression.
type Pattern interface {
	// Match returns the groups of the first match, groups[0] being the
	// whole match. matched is false when the line does not match.
	Match(line string) (groups []Group, matched bool, err error)
	String() string
}

// Compile builds a Pattern for the named engine. The empty engine name
// selects pcre.
func Compile(expr, engine string) (Pattern, error) {
	switch engine {
	case "", EnginePCRE:
		re, err := regexp2.Compile(expr, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("extract: compile %q: %w", expr, err)
		}
		re.MatchTimeout = matchTimeout
		return pcrePattern{re: re}, nil
	case EngineRE2:
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("extract: compile %q: %w", expr, err)
		}
		return re2Pattern{re: re}, nil
	default:
		return nil, fmt.Errorf("extract: unknown regex engine %q", engine)
	}
}

type pcrePattern struct{ re *regexp2.Regexp }

func (p pcrePattern) Match(line string) ([]Group, bool, error) {
	m, err := p.re.FindStringMatch(line)
	if err != nil {
		return nil, false, fmt.Errorf("extract: match: %w", err)
	}
	if m == nil {
		return nil, false, nil
	}
	gs := m.Groups()
	out := make([]Group, len(gs))
	for i := range gs {
		out[i] = Group{Text: gs[i].String(), Set: len(gs[i].Captures) > 0}
	}
	return out, true, nil
}

func (p pcrePattern) String() string { return p.re.String() }

type re2Pattern struct{ re *regexp.Regexp }

func (p re2Pattern) Match(line string) ([]Group, bool, error) {
	idx := p.re.FindStringSubmatchIndex(line)
	if idx == nil {
		return nil, false, nil
	}
	out := make([]Group, len(idx)/2)
	for i := range out {
		lo, hi := idx[2*i], idx[2*i+1]
		if lo >= 0 {
			out[i] = Group{Text: line[lo:hi], Set: true}
		}
	}
	return out, true, nil
}

func (p re2Pattern) String() string { return p.re.String() }
