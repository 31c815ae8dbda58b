package validator

import (
	"fmt"

	"patchctl.dev/locator/tsrust"
)

// FragmentKind names a grammatical category a generated replacement
// snippet can be checked against in isolation, supplementing the
// whole-file re-parse in ValidateEdit (§12, grounded on validate.rs's
// syn_validate module — there is no Go equivalent of `syn`, so this reuses
// the tree-sitter grammar already wired in rather than a second parser).
type FragmentKind string

const (
	FragmentItem     FragmentKind = "item"
	FragmentExpr     FragmentKind = "expr"
	FragmentStmt     FragmentKind = "stmt"
	FragmentBlock    FragmentKind = "block"
	FragmentMatchArm FragmentKind = "match_arm"
)

// ValidateFragment reports whether snippet parses as a standalone fragment
// of the given kind, by wrapping it in the minimal enclosing Rust syntax
// tree-sitter needs and checking the wrapped parse is error-free.
func ValidateFragment(kind FragmentKind, snippet string) error {
	wrapped, err := wrapFragment(kind, snippet)
	if err != nil {
		return err
	}

	parsed, parseErr := tsrust.Parse([]byte(wrapped))
	if parseErr != nil {
		return fmt.Errorf("validator: parse fragment: %w", parseErr)
	}
	defer parsed.Close()

	if parsed.Root().HasError() {
		return fmt.Errorf("validator: %q is not a valid %s fragment", snippet, kind)
	}
	return nil
}

func wrapFragment(kind FragmentKind, snippet string) (string, error) {
	switch kind {
	case FragmentItem:
		return snippet, nil
	case FragmentBlock:
		return "fn __patchctl_fragment__() " + snippet, nil
	case FragmentStmt:
		return "fn __patchctl_fragment__() {\n" + snippet + "\n}", nil
	case FragmentExpr:
		return "fn __patchctl_fragment__() {\n let __patchctl_expr__ = " + snippet + ";\n}", nil
	case FragmentMatchArm:
		return "fn __patchctl_fragment__() {\nmatch __patchctl_scrutinee__ {\n" + snippet + "\n}\n}", nil
	default:
		return "", fmt.Errorf("validator: unsupported fragment kind %q", kind)
	}
}
