// Package tomledit implements the TOML section/key locator and editor
// (§4.5): a linewise scanner over TOML documents that computes section and
// key byte spans, and a set of structural operations (insert/append/replace
// section and key) that produce edit.Edit values against those spans.
package tomledit

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath indicates a section or key path failed to parse: an
// unterminated quote, or whitespace inside an unquoted segment.
var ErrInvalidPath = errors.New("tomledit: invalid path")

// Path is a dotted sequence of segments, quoted segments supporting
// embedded dots, grounded on `toml/query.rs`'s SectionPath/KeyPath::parse:
// `profile."zack.test"` parses to ["profile", "zack.test"].
type Path []string

// ParsePath parses a dotted, optionally-quoted path string into segments.
func ParsePath(s string) (Path, error) {
	var segments []string
	i, n := 0, len(s)

	for i < n {
		switch s[i] {
		case '"':
			seg, next, err := scanQuoted(s, i, '"', true)
			if err != nil {
				return nil, err
			}
			segments = append(segments, seg)
			i = next
		case '\'':
			seg, next, err := scanQuoted(s, i, '\'', false)
			if err != nil {
				return nil, err
			}
			segments = append(segments, seg)
			i = next
		default:
			start := i
			for i < n && s[i] != '.' {
				if s[i] == ' ' || s[i] == '\t' {
					return nil, fmt.Errorf("%w: %q: whitespace inside unquoted segment", ErrInvalidPath, s)
				}
				i++
			}
			if i == start {
				return nil, fmt.Errorf("%w: %q: empty segment", ErrInvalidPath, s)
			}
			segments = append(segments, s[start:i])
		}

		if i < n {
			if s[i] != '.' {
				return nil, fmt.Errorf("%w: %q: expected '.' after segment, got %q", ErrInvalidPath, s, s[i])
			}
			i++
			if i == n {
				return nil, fmt.Errorf("%w: %q: trailing '.'", ErrInvalidPath, s)
			}
		}
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %q: empty path", ErrInvalidPath, s)
	}
	return segments, nil
}

// scanQuoted reads a quoted segment starting at s[start] (the opening
// quote). For double quotes, backslash escapes are processed; for single
// quotes, the content is literal. Returns the unescaped segment text and
// the index just past the closing quote.
func scanQuoted(s string, start int, quote byte, escapes bool) (string, int, error) {
	var b strings.Builder
	i := start + 1
	n := len(s)
	for i < n {
		c := s[i]
		if escapes && c == '\\' && i+1 < n {
			b.WriteByte(s[i+1])
			i += 2
			continue
		}
		if c == quote {
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
		i++
	}
	return "", 0, fmt.Errorf("%w: %q: unterminated quote", ErrInvalidPath, s)
}

// String renders p back into dotted form, quoting any segment that
// contains a dot, quote, or whitespace.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, seg := range p {
		if strings.ContainsAny(seg, ".\"' \t") {
			parts[i] = `"` + strings.ReplaceAll(seg, `"`, `\"`) + `"`
		} else {
			parts[i] = seg
		}
	}
	return strings.Join(parts, ".")
}

// Equal reports whether p and o name the same path.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}
