// Package extract turns a line of text into a count, a value, a grouping
// name, or a name/value pair.
package extract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tinytelemetry/anystat/internal/model"
)

var (
	// ErrMissingField is returned when the configured capture group or
	// word index is not present in the line.
	ErrMissingField = errors.New("extract: missing field")
	// ErrNoValue is returned when a field has no numeric prefix.
	ErrNoValue = errors.New("extract: no numeric value")
)

// Kind of an extraction result.
type Kind int

const (
	Count Kind = iota + 1
	Value
	Name
	NameValue
)

// Result is what one line contributes.
type Result struct {
	Kind  Kind
	Name  string
	Value float64
}

// Params configure extraction for one record.
type Params struct {
	Mode       model.ExtractMode
	Pattern    Pattern // nil selects delimiter words
	ValueIndex int     // 1-indexed word, or capture group number
	NameIndex  int
	Delimiter  byte // defaults to ' '
}

// Extract parses line. ok is false when a pattern is configured and the
// line does not match it; such lines are not an error. A non-nil error is
// a per-line failure and the line should be skipped.
func Extract(line string, p Params) (res Result, ok bool, err error) {
	var groups []Group
	if p.Pattern != nil {
		groups, ok, err = p.Pattern.Match(line)
		if err != nil || !ok {
			return Result{}, false, err
		}
	}
	field := func(idx int) (string, error) {
		if p.Pattern != nil {
			if idx < 0 || idx >= len(groups) || !groups[idx].Set {
				return "", fmt.Errorf("%w: group %d", ErrMissingField, idx)
			}
			return groups[idx].Text, nil
		}
		w, found := Word(line, idx, p.Delimiter)
		if !found {
			return "", fmt.Errorf("%w: word %d", ErrMissingField, idx)
		}
		return w, nil
	}
	value := func(idx int) (float64, error) {
		s, err := field(idx)
		if err != nil {
			return 0, err
		}
		return ParseValue(s)
	}

	switch p.Mode {
	case model.ModeLineCount, model.ModeElapsedTime:
		return Result{Kind: Count}, true, nil
	case model.ModeWordPosition, model.ModeFixedLineWordPosition:
		v, err := value(p.ValueIndex)
		if err != nil {
			return Result{}, true, err
		}
		return Result{Kind: Value, Value: v}, true, nil
	case model.ModeGroupCount:
		n, err := field(p.NameIndex)
		if err != nil {
			return Result{}, true, err
		}
		return Result{Kind: Name, Name: n}, true, nil
	case model.ModeGroupValue, model.ModeAggregate:
		ni, vi := p.NameIndex, p.ValueIndex
		if p.Mode == model.ModeAggregate {
			if ni == 0 {
				ni = 1
			}
			if vi == 0 {
				vi = 2
			}
		}
		n, err := field(ni)
		if err != nil {
			return Result{}, true, err
		}
		v, err := value(vi)
		if err != nil {
			return Result{}, true, err
		}
		return Result{Kind: NameValue, Name: n, Value: v}, true, nil
	default:
		return Result{}, true, fmt.Errorf("extract: unsupported mode %v", p.Mode)
	}
}

// Word returns the nth (1-indexed) delim-separated word of line. Runs of
// delimiters count as one separator and scanning stops at a newline.
func Word(line string, n int, delim byte) (string, bool) {
	if n < 1 {
		return "", false
	}
	if delim == 0 {
		delim = ' '
	}
	i := 0
	for w := 1; ; w++ {
		for i < len(line) && line[i] == delim {
			i++
		}
		if i >= len(line) || line[i] == '\n' {
			return "", false
		}
		start := i
		for i < len(line) && line[i] != delim && line[i] != '\n' {
			i++
		}
		if w == n {
			return line[start:i], true
		}
	}
}

// ParseValue reads the leading number of s, ignoring trailing text.
func ParseValue(s string) (float64, error) {
	s = strings.TrimLeft(s, " \t")
	end := numericPrefix(s)
	if end == 0 {
		return 0, fmt.Errorf("%w: %q", ErrNoValue, s)
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrNoValue, s, err)
	}
	return v, nil
}

func numericPrefix(s string) int {
	i, digits := 0, 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			i = k
		}
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
