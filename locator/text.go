// Package locator implements the structural locators (§4.2-4.4): engines
// that map a high-level target description to a byte span (or zero/many) in
// a source buffer, from which the applicator (§4.7) derives an Edit.
package locator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoMatch indicates a locator found zero candidate spans.
var ErrNoMatch = errors.New("locator: no match")

// ErrAmbiguousMatch indicates a locator found more than one candidate span
// where exactly one was required.
type ErrAmbiguousMatch struct {
	Count   int
	Pattern string
}

func (e *ErrAmbiguousMatch) Error() string {
	return fmt.Sprintf("locator: ambiguous match: %d occurrences of %q, expected exactly 1", e.Count, e.Pattern)
}

// Span is a byte range within a source buffer.
type Span struct {
	Start, End int
}

// Text implements the literal-text locator (§4.2): find all occurrences of
// an exact substring.
func Text(source, search string) ([]Span, error) {
	var spans []Span
	from := 0
	for {
		idx := strings.Index(source[from:], search)
		if idx < 0 {
			break
		}
		start := from + idx
		spans = append(spans, Span{Start: start, End: start + len(search)})
		from = start + len(search)
	}
	return spans, nil
}

// UniqueText finds the unique occurrence of search in source, applying the
// idempotency escape hatch from §4.2: if zero occurrences are found but
// newTextIfNoMatch already appears in source, the locator reports the
// situation as already-applied (alreadyApplied=true, nil error) rather than a hard
// failure, since the replacement has likely already happened.
func UniqueText(source, search, newTextIfNoMatch string) (span Span, alreadyApplied bool, err error) {
	spans, _ := Text(source, search)
	switch len(spans) {
	case 0:
		if newTextIfNoMatch != "" && strings.Contains(source, newTextIfNoMatch) {
			return Span{}, true, nil
		}
		return Span{}, false, fmt.Errorf("%w: %q", ErrNoMatch, search)
	case 1:
		return spans[0], false, nil
	default:
		return Span{}, false, &ErrAmbiguousMatch{Count: len(spans), Pattern: search}
	}
}
