package tomledit

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	toml "github.com/BurntSushi/toml"

	"patchctl.dev/edit"
)

// ErrSectionNotFound and ErrKeyNotFound are returned when an operation's
// target section or key can't be located.
var (
	ErrSectionNotFound    = errors.New("tomledit: section not found")
	ErrKeyNotFound        = errors.New("tomledit: key not found")
	ErrSectionExists      = errors.New("tomledit: section already exists")
	ErrInvalidPositioning = errors.New("tomledit: exactly one positioning directive required")
)

// Anchor selects where InsertSection places new text.
type Anchor struct {
	AfterSection  *Path
	BeforeSection *Path
	AtEnd         bool
	AtBeginning   bool
}

func (a Anchor) directiveCount() int {
	n := 0
	if a.AfterSection != nil {
		n++
	}
	if a.BeforeSection != nil {
		n++
	}
	if a.AtEnd {
		n++
	}
	if a.AtBeginning {
		n++
	}
	return n
}

// InsertSection builds the Edit that inserts a new `[section]` block (text
// must be the full section text, header included) at the anchor named by
// positioning. Idempotent: if the section already exists, returns
// (zero Edit, true, nil) without an error. An existing section is always
// reported this way; no ensure_absent setting is consulted and
// ErrSectionExists is not returned.
func InsertSection(source []byte, file string, path Path, text string, positioning Anchor) (edit.Edit, bool, error) {
	if positioning.directiveCount() != 1 {
		return edit.Edit{}, false, ErrInvalidPositioning
	}

	if _, found, err := FindSection(source, path); err != nil {
		return edit.Edit{}, false, err
	} else if found {
		return edit.Edit{}, true, nil
	}

	switch {
	case positioning.AfterSection != nil:
		sec, found, err := FindSection(source, *positioning.AfterSection)
		if err != nil {
			return edit.Edit{}, false, err
		}
		if !found {
			return edit.Edit{}, false, fmt.Errorf("%w: %s", ErrSectionNotFound, positioning.AfterSection)
		}
		return insertAfterByte(source, file, sec.BodyEnd, text), false, nil

	case positioning.BeforeSection != nil:
		sec, found, err := FindSection(source, *positioning.BeforeSection)
		if err != nil {
			return edit.Edit{}, false, err
		}
		if !found {
			return edit.Edit{}, false, fmt.Errorf("%w: %s", ErrSectionNotFound, positioning.BeforeSection)
		}
		return insertBeforeByte(source, file, sec.HeaderStart, text), false, nil

	case positioning.AtEnd:
		return insertAfterByte(source, file, len(source), text), false, nil

	default: // AtBeginning
		return insertBeforeByte(source, file, 0, text), false, nil
	}
}

// AppendSection is InsertSection with AtEnd positioning.
func AppendSection(source []byte, file string, path Path, text string) (edit.Edit, bool, error) {
	return InsertSection(source, file, path, text, Anchor{AtEnd: true})
}

// insertAfterByte places normalized text right after byte offset pos,
// anchoring the Edit's pre-image on the preceding line so a prior
// application is detectable as idempotent (§4.5: "produce an Edit whose
// pre-image is the anchor line to allow idempotent re-verification").
func insertAfterByte(source []byte, file string, pos int, text string) edit.Edit {
	lineStart := lastLineStart(source, pos)
	if pos > 0 && source[pos-1] == '\n' {
		lineStart = lastLineStart(source, pos-1)
	}
	anchorText := string(source[lineStart:pos])
	insertion := normalizeInsertion(text, pos > 0)
	return edit.New(file, lineStart, pos, anchorText+insertion, anchorText)
}

// insertBeforeByte places normalized text right before byte offset pos,
// anchoring the Edit's pre-image on the following line.
func insertBeforeByte(source []byte, file string, pos int, text string) edit.Edit {
	lineEnd := nextLineEnd(source, pos)
	anchorText := string(source[pos:lineEnd])
	insertion := normalizeInsertion(text, pos > 0)
	return edit.New(file, pos, lineEnd, insertion+anchorText, anchorText)
}

// normalizeInsertion ensures text ends with exactly one trailing newline,
// and is preceded by a blank-line separator unless it lands at the very
// start of the file.
func normalizeInsertion(text string, precededByContent bool) string {
	t := strings.TrimRight(text, "\n") + "\n"
	if precededByContent {
		return "\n" + t
	}
	return t
}

func lastLineStart(source []byte, pos int) int {
	for i := pos - 1; i >= 0; i-- {
		if source[i] == '\n' {
			return i + 1
		}
	}
	return 0
}

func nextLineEnd(source []byte, pos int) int {
	idx := indexByte(source, pos, '\n')
	if idx < 0 {
		return len(source)
	}
	return idx + 1
}

// ReplaceValue finds section.key (first match of each) and builds the Edit that replaces
// only the value bytes. Idempotent: if the current value (trimmed) already
// equals value, returns (zero-Edit, true, nil).
func ReplaceValue(source []byte, file string, section Path, keyName, value string) (edit.Edit, bool, error) {
	sec, found, err := FindSection(source, section)
	if err != nil {
		return edit.Edit{}, false, err
	}
	if !found {
		return edit.Edit{}, false, fmt.Errorf("%w: %s", ErrSectionNotFound, section)
	}
	key, found, err := FindKey(source, sec, keyName)
	if err != nil {
		return edit.Edit{}, false, err
	}
	if !found {
		return edit.Edit{}, false, fmt.Errorf("%w: %s.%s", ErrKeyNotFound, section, keyName)
	}

	current := strings.TrimSpace(string(source[key.ValStart:key.ValEnd]))
	if current == strings.TrimSpace(value) {
		return edit.Edit{}, true, nil
	}

	return edit.New(file, key.ValStart, key.ValEnd, value, string(source[key.ValStart:key.ValEnd])), false, nil
}

// ReplaceKey finds section.key (first match of each) and builds the Edit that replaces
// the key identifier bytes, leaving the value untouched.
func ReplaceKey(source []byte, file string, section Path, keyName, newKey string) (edit.Edit, error) {
	sec, found, err := FindSection(source, section)
	if err != nil {
		return edit.Edit{}, err
	}
	if !found {
		return edit.Edit{}, fmt.Errorf("%w: %s", ErrSectionNotFound, section)
	}
	key, found, err := FindKey(source, sec, keyName)
	if err != nil {
		return edit.Edit{}, err
	}
	if !found {
		return edit.Edit{}, fmt.Errorf("%w: %s.%s", ErrKeyNotFound, section, keyName)
	}

	return edit.New(file, key.KeyStart, key.KeyEnd, newKey, string(source[key.KeyStart:key.KeyEnd])), nil
}

// DeleteSection builds the Edit that removes bytes [header_start, body_end).
func DeleteSection(source []byte, file string, path Path) (edit.Edit, error) {
	sec, found, err := FindSection(source, path)
	if err != nil {
		return edit.Edit{}, err
	}
	if !found {
		return edit.Edit{}, fmt.Errorf("%w: %s", ErrSectionNotFound, path)
	}
	removed := string(source[sec.HeaderStart:sec.BodyEnd])
	return edit.New(file, sec.HeaderStart, sec.BodyEnd, "", removed), nil
}

// ValidateResult re-parses candidate as TOML, failing if it is not valid
// syntax (§4.5: "splice it into a virtual buffer and re-parse as TOML").
func ValidateResult(candidate []byte) error {
	var doc any
	if _, err := toml.NewDecoder(bytes.NewReader(candidate)).Decode(&doc); err != nil {
		return fmt.Errorf("tomledit: result is not valid TOML: %w", err)
	}
	return nil
}
