package config

import (
	"fmt"
	"strings"

	"patchctl.dev/validator"
)

// Issue is one reason a PatchConfig failed validation.
type Issue struct {
	PatchID string // empty when the issue isn't tied to one patch
	Field   string // set for MissingField issues
	Message string
	empty   bool // EmptyPatchList marker
}

func (i Issue) String() string {
	switch {
	case i.empty:
		return "patch config contains no patches"
	case i.Field != "":
		if i.PatchID != "" {
			return fmt.Sprintf("patch %q missing required field %q", i.PatchID, i.Field)
		}
		return fmt.Sprintf("patch missing required field %q", i.Field)
	default:
		if i.PatchID != "" {
			return fmt.Sprintf("patch %q has invalid configuration: %s", i.PatchID, i.Message)
		}
		return fmt.Sprintf("invalid patch configuration: %s", i.Message)
	}
}

// ValidationError aggregates every Issue found across one Validate call
// (§3.1: report all problems, not just the first).
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	lines := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		lines[i] = issue.String()
	}
	return strings.Join(lines, "\n")
}

// Validate checks c against every rule in §3's legality matrix and §3.1's
// schema constraints, accumulating every violation found.
func (c *PatchConfig) Validate() error {
	var issues []Issue

	if len(c.Patches) == 0 {
		issues = append(issues, Issue{empty: true})
	}

	for _, p := range c.Patches {
		if trimEmpty(p.ID) {
			issues = append(issues, Issue{Field: "id"})
		}
		if trimEmpty(p.File) {
			issues = append(issues, Issue{PatchID: p.ID, Field: "file"})
		}

		issues = append(issues, validateQuery(p)...)
		issues = append(issues, validateOperation(p)...)
		issues = append(issues, validateVerify(p)...)

		if p.Query.Kind != "" && p.Operation.Kind != "" && !IsLegalCombination(p.Query.Kind, p.Operation.Kind) {
			issues = append(issues, Issue{
				PatchID: p.ID,
				Message: fmt.Sprintf("operation %q is not valid for query type %q", p.Operation.Kind, p.Query.Kind),
			})
		}
	}

	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

func validateQuery(p PatchDefinition) []Issue {
	var issues []Issue
	q := p.Query
	switch q.Kind {
	case QueryToml:
		sectionEmpty := q.Section == nil || trimEmpty(*q.Section)
		if sectionEmpty && q.Key == nil {
			issues = append(issues, Issue{PatchID: p.ID, Field: "query.section"})
		}
		if q.Section == nil && q.Key != nil {
			issues = append(issues, Issue{PatchID: p.ID, Message: "toml query with key requires section"})
		}
		if q.EnsureAbsent && q.EnsurePresent {
			issues = append(issues, Issue{PatchID: p.ID, Message: "ensure_absent and ensure_present cannot both be true"})
		}
	case QueryAstGrep, QueryTreeSitter:
		if trimEmpty(q.Pattern) {
			issues = append(issues, Issue{PatchID: p.ID, Field: "query.pattern"})
		}
	case QueryText:
		if trimEmpty(q.Search) {
			issues = append(issues, Issue{PatchID: p.ID, Field: "query.search"})
		}
	}
	return issues
}

func validateOperation(p PatchDefinition) []Issue {
	var issues []Issue
	op := p.Operation
	switch op.Kind {
	case OpInsertSection:
		if trimEmpty(op.Text) {
			issues = append(issues, Issue{PatchID: p.ID, Field: "operation.text"})
		}
		if op.Positioning.directiveCount() > 1 {
			issues = append(issues, Issue{PatchID: p.ID, Message: "only one positioning directive is allowed"})
		}
	case OpAppendSection:
		if trimEmpty(op.Text) {
			issues = append(issues, Issue{PatchID: p.ID, Field: "operation.text"})
		}
	case OpReplaceValue:
		if trimEmpty(op.Value) {
			issues = append(issues, Issue{PatchID: p.ID, Field: "operation.value"})
		}
		if !p.Query.IsKeyQuery() {
			issues = append(issues, Issue{PatchID: p.ID, Message: "replace_value requires toml key query"})
		}
	case OpReplaceKey:
		if trimEmpty(op.NewKey) {
			issues = append(issues, Issue{PatchID: p.ID, Field: "operation.new_key"})
		}
		if !p.Query.IsKeyQuery() {
			issues = append(issues, Issue{PatchID: p.ID, Message: "replace_key requires toml key query"})
		}
	case OpDeleteSection:
		if !p.Query.IsSectionQuery() {
			issues = append(issues, Issue{PatchID: p.ID, Message: "delete_section requires toml section query"})
		}
	case OpReplace:
		if trimEmpty(op.Text) {
			issues = append(issues, Issue{PatchID: p.ID, Field: "operation.text"})
		}
	case OpReplaceCapture:
		if trimEmpty(op.Capture) {
			issues = append(issues, Issue{PatchID: p.ID, Field: "operation.capture"})
		}
		if trimEmpty(op.Text) {
			issues = append(issues, Issue{PatchID: p.ID, Field: "operation.text"})
		}
	case OpDelete:
		// no required fields
	}
	if op.FragmentKind != nil {
		if op.Kind != OpReplace && op.Kind != OpReplaceCapture {
			issues = append(issues, Issue{PatchID: p.ID, Message: "fragment_kind is only valid on replace/replace-capture operations"})
		}
		if p.Query.Kind != QueryAstGrep {
			issues = append(issues, Issue{PatchID: p.ID, Message: "fragment_kind is only valid on ast-grep queries"})
		}
		if !isKnownFragmentKind(*op.FragmentKind) {
			issues = append(issues, Issue{PatchID: p.ID, Message: fmt.Sprintf("unsupported fragment_kind %q", *op.FragmentKind)})
		}
	}
	return issues
}

func isKnownFragmentKind(s string) bool {
	switch validator.FragmentKind(s) {
	case validator.FragmentItem, validator.FragmentExpr, validator.FragmentStmt, validator.FragmentBlock, validator.FragmentMatchArm:
		return true
	default:
		return false
	}
}

// validateVerify checks the optional §3 pre-image assertion, when present.
func validateVerify(p PatchDefinition) []Issue {
	if p.Verify == nil {
		return nil
	}
	var issues []Issue
	switch p.Verify.Method {
	case VerifyExactMatch:
		if trimEmpty(p.Verify.ExpectedText) {
			issues = append(issues, Issue{PatchID: p.ID, Field: "verify.expected_text"})
		}
	case VerifyHashMethod:
		if trimEmpty(p.Verify.Expected) {
			issues = append(issues, Issue{PatchID: p.ID, Field: "verify.expected"})
		}
		if p.Verify.Algorithm != nil && *p.Verify.Algorithm != Xxh3 {
			issues = append(issues, Issue{PatchID: p.ID, Message: fmt.Sprintf("unsupported verify algorithm %q", *p.Verify.Algorithm)})
		}
	default:
		issues = append(issues, Issue{PatchID: p.ID, Message: fmt.Sprintf("unsupported verify method %q", p.Verify.Method)})
	}
	return issues
}

// legalOperations lists, per query kind, the operation kinds §3's matrix
// permits. The applicator (§4.7) consults this for a defense-in-depth check
// even though Validate already rejects illegal combinations at load time.
var legalOperations = map[QueryKind]map[OperationKind]bool{
	QueryText: {
		OpReplace: true,
	},
	QueryAstGrep: {
		OpReplace: true, OpDelete: true, OpReplaceCapture: true,
	},
	QueryTreeSitter: {
		OpReplace: true, OpDelete: true,
	},
	QueryToml: {
		OpInsertSection: true, OpAppendSection: true, OpReplaceValue: true,
		OpReplaceKey: true, OpDeleteSection: true,
	},
}

// IsLegalCombination reports whether query and operation are a permitted
// pairing per §3's matrix.
func IsLegalCombination(q QueryKind, op OperationKind) bool {
	return legalOperations[q][op]
}
