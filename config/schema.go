// Package config defines the patch data model (§3) and the loader that
// decodes and validates a TOML patch configuration file into a validated
// in-memory PatchConfig (§3.1), the collaborator spec.md assumes already ran.
package config

import "strings"

// Metadata describes a patch set as a whole.
type Metadata struct {
	Name              string `toml:"name"`
	Description       string `toml:"description"`
	VersionRange      string `toml:"version_range"`
	WorkspaceRelative bool   `toml:"workspace_relative"`
}

// PatchConfig is the decoded shape of a patch configuration file; the same
// value is checked in place by Validate.
type PatchConfig struct {
	Meta    Metadata          `toml:"meta"`
	Patches []PatchDefinition `toml:"patches"`
}

// PatchDefinition is one patch's declarative intent (§3).
type PatchDefinition struct {
	ID         string       `toml:"id"`
	File       string       `toml:"file"`
	Query      Query        `toml:"query"`
	Operation  Operation    `toml:"operation"`
	Verify     *Verify      `toml:"verify"`
	Constraint *Constraints `toml:"constraint"`
}

// QueryKind tags which variant of Query is populated.
type QueryKind string

const (
	QueryText       QueryKind = "text"
	QueryAstGrep    QueryKind = "ast-grep"
	QueryTreeSitter QueryKind = "tree-sitter"
	QueryToml       QueryKind = "toml"
)

// Query is the closed tagged union of structural query kinds (§3). Only the
// fields relevant to Kind are populated; this mirrors the teacher's
// preference for plain tagged structs over one-interface-per-variant
// polymorphism so the (query, operation) legality matrix (§3) can be
// checked with a single exhaustive switch.
type Query struct {
	Kind QueryKind `toml:"type"`

	// QueryText
	Search string `toml:"search"`

	// QueryAstGrep, QueryTreeSitter
	Pattern string `toml:"pattern"`

	// QueryToml
	Section       *string `toml:"section"`
	Key           *string `toml:"key"`
	EnsureAbsent  bool    `toml:"ensure_absent"`
	EnsurePresent bool    `toml:"ensure_present"`
}

// IsKeyQuery reports whether this is a TOML query naming a specific key.
func (q Query) IsKeyQuery() bool {
	return q.Kind == QueryToml && q.Key != nil
}

// IsSectionQuery reports whether this is a TOML query naming a section.
func (q Query) IsSectionQuery() bool {
	return q.Kind == QueryToml && q.Section != nil
}

// OperationKind tags which variant of Operation is populated.
type OperationKind string

const (
	OpReplace        OperationKind = "replace"
	OpDelete         OperationKind = "delete"
	OpReplaceCapture OperationKind = "replace-capture"
	OpInsertSection  OperationKind = "insert-section"
	OpAppendSection  OperationKind = "append-section"
	OpReplaceValue   OperationKind = "replace-value"
	OpReplaceKey     OperationKind = "replace-key"
	OpDeleteSection  OperationKind = "delete-section"
)

// Operation is the closed tagged union of transformations (§3).
type Operation struct {
	Kind OperationKind `toml:"type"`

	// OpReplace, OpReplaceCapture, OpInsertSection, OpAppendSection
	Text string `toml:"text"`

	// OpInsertSection
	Positioning Positioning `toml:"positioning"`

	// OpReplaceValue
	Value string `toml:"value"`

	// OpReplaceKey
	NewKey string `toml:"new_key"`

	// OpReplaceCapture
	Capture string `toml:"capture"`

	// OpDelete
	InsertComment *string `toml:"insert_comment"`

	// OpReplace, OpReplaceCapture against an ast-grep query (§12,
	// supplemented): an optional hint telling the validator to also check
	// the new fragment parses in isolation as this grammatical category,
	// in addition to the whole-file re-parse every edit already gets.
	FragmentKind *string `toml:"fragment_kind"`
}

// Positioning names where a TOML InsertSection anchors (§4.5). Exactly one
// field may be set.
type Positioning struct {
	AfterSection  *string `toml:"after_section"`
	BeforeSection *string `toml:"before_section"`
	AtEnd         bool    `toml:"at_end"`
	AtBeginning   bool    `toml:"at_beginning"`
}

// RelativePositionKind tags Positioning's resolved directive.
type RelativePositionKind string

const (
	PosAfter       RelativePositionKind = "after"
	PosBefore      RelativePositionKind = "before"
	PosAtEnd       RelativePositionKind = "at-end"
	PosAtBeginning RelativePositionKind = "at-beginning"
)

// RelativePosition is the resolved, exactly-one-of directive.
type RelativePosition struct {
	Kind RelativePositionKind
	Path string // set for PosAfter/PosBefore
}

// directiveCount returns how many of the four Positioning fields are set.
func (p Positioning) directiveCount() int {
	count := 0
	if p.AfterSection != nil {
		count++
	}
	if p.BeforeSection != nil {
		count++
	}
	if p.AtEnd {
		count++
	}
	if p.AtBeginning {
		count++
	}
	return count
}

// Resolve returns the effective directive, defaulting to AtEnd when none is
// set (matching the original schema's fall-through default).
func (p Positioning) Resolve() RelativePosition {
	if p.AfterSection != nil {
		return RelativePosition{Kind: PosAfter, Path: *p.AfterSection}
	}
	if p.BeforeSection != nil {
		return RelativePosition{Kind: PosBefore, Path: *p.BeforeSection}
	}
	if p.AtBeginning {
		return RelativePosition{Kind: PosAtBeginning}
	}
	return RelativePosition{Kind: PosAtEnd}
}

// Constraints adds fine-grained presence/absence and context narrowing on
// top of a structural query (§3).
type Constraints struct {
	EnsureAbsent    bool    `toml:"ensure_absent"`
	EnsurePresent   bool    `toml:"ensure_present"`
	FunctionContext *string `toml:"function_context"`
}

// HashAlgorithm names a supported pre-image hash algorithm for Verify.
type HashAlgorithm string

// Xxh3 is the only accepted algorithm name, matching the engine's
// single-algorithm Edit verification policy (§3, §4.1). The hashes it is
// checked against are computed with XXH64 (github.com/cespare/xxhash/v2),
// not XXH3.
const Xxh3 HashAlgorithm = "xxh3"

// VerifyMethod tags which variant of Verify is populated.
type VerifyMethod string

const (
	VerifyExactMatch VerifyMethod = "exact_match"
	VerifyHashMethod VerifyMethod = "hash"
)

// Verify is an optional pre-image assertion attached to a patch (§3).
type Verify struct {
	Method       VerifyMethod   `toml:"method"`
	ExpectedText string         `toml:"expected_text"`
	Algorithm    *HashAlgorithm `toml:"algorithm"`
	Expected     string         `toml:"expected"`
}

// trimEmpty reports whether s is empty once whitespace is trimmed.
func trimEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}
