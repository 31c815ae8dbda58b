package tomledit

import (
	"fmt"
	"strings"
)

// Section is one `[a.b.c]` header and the byte ranges derived from it by a
// single linewise pass over the document.
type Section struct {
	Path Path

	HeaderStart int // start of '[' on the header line (after leading whitespace)
	HeaderEnd   int // position just past the closing ']'
	LineEnd     int // position just past the header line's newline (or EOF)

	BodyStart int // start of the line after the header
	BodyEnd   int // start of the next section header, or EOF
}

// Key is one key/value pair found within a section's body.
type Key struct {
	Name string

	LineStart int // start of the key's line
	LineEnd   int // position just past the line's newline (or EOF)

	KeyStart, KeyEnd int // the key identifier's byte span
	ValStart, ValEnd int // the value's byte span, trailing comment excluded
}

// scanSections walks source linewise and returns every `[section]` header
// found, in document order, with the section's body bounded by the next
// header or EOF. Array-of-tables headers (`[[x]]`) are not sections in this
// model and are skipped, since this engine's patches never target them.
func scanSections(source []byte) ([]Section, error) {
	var sections []Section
	pos := 0
	n := len(source)

	for pos < n {
		lineStart := pos
		lineEnd := indexLineEnd(source, pos)
		line := string(source[lineStart:lineEnd])
		trimmed := strings.TrimSpace(stripComment(line))

		if strings.HasPrefix(trimmed, "[") && !strings.HasPrefix(trimmed, "[[") && strings.HasSuffix(trimmed, "]") {
			headerStart := lineStart + strings.IndexByte(line, '[')
			closeRel := strings.LastIndexByte(line, ']')
			if closeRel < 0 {
				return nil, fmt.Errorf("tomledit: malformed header at byte %d", lineStart)
			}
			headerEnd := lineStart + closeRel + 1
			inner := trimmed[1 : len(trimmed)-1]
			path, err := ParsePath(inner)
			if err != nil {
				return nil, fmt.Errorf("tomledit: section header %q: %w", inner, err)
			}

			if len(sections) > 0 {
				sections[len(sections)-1].BodyEnd = lineStart
			}
			sections = append(sections, Section{
				Path:        path,
				HeaderStart: headerStart,
				HeaderEnd:   headerEnd,
				LineEnd:     lineEnd,
				BodyStart:   lineEnd,
			})
		}

		pos = lineEnd
	}

	if len(sections) > 0 {
		sections[len(sections)-1].BodyEnd = n
	}
	return sections, nil
}

// scanKeys walks a section's body linewise and returns every key/value
// pair found.
func scanKeys(source []byte, body Section) ([]Key, error) {
	var keys []Key
	pos := body.BodyStart
	end := body.BodyEnd

	for pos < end {
		lineStart := pos
		lineEnd := indexLineEnd(source, pos)
		if lineEnd > end {
			lineEnd = end
		}
		line := string(source[lineStart:lineEnd])
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			pos = lineEnd
			continue
		}

		k, err := parseKeyLine(source, lineStart, lineEnd)
		if err != nil {
			return nil, err
		}
		if k != nil {
			keys = append(keys, *k)
		}
		pos = lineEnd
	}
	return keys, nil
}

// parseKeyLine parses one `key = value # comment` line into a Key, honoring
// quoted keys and quote-aware comment-boundary detection (a '#' inside a
// quoted value is not a comment). Returns nil if the line is not a key/value
// line (e.g. an inline-table/array continuation this engine doesn't target).
func parseKeyLine(source []byte, lineStart, lineEnd int) (*Key, error) {
	line := string(source[lineStart:lineEnd])
	leading := len(line) - len(strings.TrimLeft(line, " \t"))

	keyStartRel, keyEndRel, name, eqRel, err := parseKeyName(line, leading)
	if err != nil || eqRel < 0 {
		return nil, nil
	}

	valStartRel := eqRel + 1
	for valStartRel < len(line) && (line[valStartRel] == ' ' || line[valStartRel] == '\t') {
		valStartRel++
	}

	valEndRel := findCommentBoundary(line, valStartRel)
	for valEndRel > valStartRel && (line[valEndRel-1] == ' ' || line[valEndRel-1] == '\t') {
		valEndRel--
	}

	return &Key{
		Name:      name,
		LineStart: lineStart,
		LineEnd:   lineEnd,
		KeyStart:  lineStart + keyStartRel,
		KeyEnd:    lineStart + keyEndRel,
		ValStart:  lineStart + valStartRel,
		ValEnd:    lineStart + valEndRel,
	}, nil
}

// parseKeyName extracts the key identifier (quoted or bare) from the start
// of a trimmed key/value line, returning its relative span, decoded name,
// and the relative index of the '=' separator (-1 if none is found before
// end of line, meaning this isn't a key/value line).
func parseKeyName(line string, from int) (keyStart, keyEnd int, name string, eqIdx int, err error) {
	i := from
	n := len(line)
	keyStart = i

	if i < n && (line[i] == '"' || line[i] == '\'') {
		quote := line[i]
		seg, next, serr := scanQuoted(line, i, quote, quote == '"')
		if serr != nil {
			return 0, 0, "", -1, serr
		}
		name = seg
		keyEnd = next
		i = next
	} else {
		for i < n && line[i] != '=' && line[i] != ' ' && line[i] != '\t' {
			i++
		}
		if i == from {
			return 0, 0, "", -1, nil
		}
		name = line[from:i]
		keyEnd = i
	}

	for i < n && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	if i >= n || line[i] != '=' {
		return 0, 0, "", -1, nil
	}
	return keyStart, keyEnd, name, i, nil
}

// findCommentBoundary returns the index of a '#' that starts a trailing
// comment, skipping over quoted regions, or len(line) if there is none.
func findCommentBoundary(line string, from int) int {
	i := from
	n := len(line)
	for i < n {
		switch line[i] {
		case '"', '\'':
			quote := line[i]
			_, next, err := scanQuoted(line, i, quote, quote == '"')
			if err != nil {
				return n
			}
			i = next
		case '#':
			return i
		default:
			i++
		}
	}
	return n
}

// stripComment removes a trailing '#' comment for the purposes of detecting
// section headers; quoting inside a header is not meaningful so a plain
// scan is sufficient here.
func stripComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}

// indexLineEnd returns the index just past the next newline at or after
// pos, or len(source) if there is none.
func indexLineEnd(source []byte, pos int) int {
	idx := indexByte(source, pos, '\n')
	if idx < 0 {
		return len(source)
	}
	return idx + 1
}

func indexByte(source []byte, from int, b byte) int {
	for i := from; i < len(source); i++ {
		if source[i] == b {
			return i
		}
	}
	return -1
}

// FindSection returns the first section matching path, if present.
func FindSection(source []byte, path Path) (Section, bool, error) {
	sections, err := scanSections(source)
	if err != nil {
		return Section{}, false, err
	}
	for _, s := range sections {
		if s.Path.Equal(path) {
			return s, true, nil
		}
	}
	return Section{}, false, nil
}

// FindKey returns the first key matching name within section, if
// present.
func FindKey(source []byte, section Section, name string) (Key, bool, error) {
	keys, err := scanKeys(source, section)
	if err != nil {
		return Key{}, false, err
	}
	for _, k := range keys {
		if k.Name == name {
			return k, true, nil
		}
	}
	return Key{}, false, nil
}
