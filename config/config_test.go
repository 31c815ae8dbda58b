package config

import (
	"strings"
	"testing"
)

func TestValidateEmptyPatchList(t *testing.T) {
	cfg := &PatchConfig{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for empty patch list")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("got %T, want *ValidationError", err)
	}
	if len(ve.Issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(ve.Issues))
	}
}

func TestValidateAccumulatesAllIssues(t *testing.T) {
	cfg := &PatchConfig{
		Patches: []PatchDefinition{
			{
				// missing id, missing file
				Query:     Query{Kind: QueryText, Search: ""},
				Operation: Operation{Kind: OpReplace, Text: ""},
			},
			{
				ID:   "replace-value-bad-query",
				File: "Cargo.toml",
				Query: Query{
					Kind:    QueryToml,
					Section: strPtr("profile.release"),
				},
				Operation: Operation{Kind: OpReplaceValue, Value: "3"},
			},
		},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve := err.(*ValidationError)

	// missing id, missing file, missing query.search, missing operation.text,
	// replace_value-requires-key on the second patch: at least 5 issues.
	if len(ve.Issues) < 5 {
		t.Fatalf("got %d issues, want >= 5: %v", len(ve.Issues), ve.Issues)
	}

	msg := err.Error()
	if !strings.Contains(msg, "missing required field") {
		t.Fatalf("message missing expected content: %s", msg)
	}
}

func TestValidateLegalConfig(t *testing.T) {
	cfg := &PatchConfig{
		Patches: []PatchDefinition{
			{
				ID:        "disable-telemetry",
				File:      "src/telemetry.rs",
				Query:     Query{Kind: QueryText, Search: `println!("Hello")`},
				Operation: Operation{Kind: OpReplace, Text: `println!("Modified")`},
			},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateIllegalCombination(t *testing.T) {
	cfg := &PatchConfig{
		Patches: []PatchDefinition{
			{
				ID:        "bad-combo",
				File:      "src/lib.rs",
				Query:     Query{Kind: QueryTreeSitter, Pattern: "fn $NAME() {}"},
				Operation: Operation{Kind: OpReplaceCapture, Capture: "$NAME", Text: "renamed"},
			},
		},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for illegal (tree-sitter, replace-capture) combination")
	}
}

func TestParseToml(t *testing.T) {
	doc := `
[meta]
name = "privacy-patches"
version_range = ">=0.92.0"

[[patches]]
id = "disable-telemetry"
file = "src/telemetry.rs"

[patches.query]
type = "text"
search = "enabled: true"

[patches.operation]
type = "replace"
text = "enabled: false"
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Meta.Name != "privacy-patches" {
		t.Fatalf("meta.name = %q", cfg.Meta.Name)
	}
	if len(cfg.Patches) != 1 {
		t.Fatalf("got %d patches, want 1", len(cfg.Patches))
	}
	p := cfg.Patches[0]
	if p.Query.Kind != QueryText || p.Query.Search != "enabled: true" {
		t.Fatalf("query = %+v", p.Query)
	}
	if p.Operation.Kind != OpReplace || p.Operation.Text != "enabled: false" {
		t.Fatalf("operation = %+v", p.Operation)
	}
}

func TestValidateVerifyClause(t *testing.T) {
	base := func(verify *Verify) *PatchConfig {
		return &PatchConfig{
			Patches: []PatchDefinition{{
				ID:        "p1",
				File:      "lib.rs",
				Query:     Query{Kind: QueryText, Search: "x"},
				Operation: Operation{Kind: OpReplace, Text: "y"},
				Verify:    verify,
			}},
		}
	}

	if err := base(nil).Validate(); err != nil {
		t.Fatalf("no verify clause: unexpected error: %v", err)
	}
	if err := base(&Verify{Method: VerifyExactMatch, ExpectedText: "x"}).Validate(); err != nil {
		t.Fatalf("valid exact_match: unexpected error: %v", err)
	}
	if err := base(&Verify{Method: VerifyHashMethod, Expected: "0xdeadbeef"}).Validate(); err != nil {
		t.Fatalf("valid hash: unexpected error: %v", err)
	}
	if err := base(&Verify{Method: VerifyExactMatch}).Validate(); err == nil {
		t.Fatal("expected error for exact_match with empty expected_text")
	}
	if err := base(&Verify{Method: VerifyHashMethod}).Validate(); err == nil {
		t.Fatal("expected error for hash with empty expected")
	}
	bogus := HashAlgorithm("md5")
	if err := base(&Verify{Method: VerifyHashMethod, Expected: "0x1", Algorithm: &bogus}).Validate(); err == nil {
		t.Fatal("expected error for unsupported hash algorithm")
	}
	if err := base(&Verify{Method: "bogus"}).Validate(); err == nil {
		t.Fatal("expected error for unsupported verify method")
	}
}

func strPtr(s string) *string { return &s }
