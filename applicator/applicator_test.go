package applicator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cespare/xxhash/v2"

	"patchctl.dev/config"
	"patchctl.dev/workspace"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func newGuard(t *testing.T, dir string) *workspace.Guard {
	t.Helper()
	g, err := workspace.New(dir)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	return g
}

func findResult(t *testing.T, results []PatchResult, id string) PatchResult {
	t.Helper()
	for _, r := range results {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("no result for patch %q", id)
	return PatchResult{}
}

func TestRunTextReplaceApply(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.rs", "fn main() { let x = 1; }")
	guard := newGuard(t, dir)

	cfg := &config.PatchConfig{
		Meta: config.Metadata{WorkspaceRelative: true},
		Patches: []config.PatchDefinition{{
			ID:        "p1",
			File:      "lib.rs",
			Query:     config.Query{Kind: config.QueryText, Search: "let x = 1;"},
			Operation: config.Operation{Kind: config.OpReplace, Text: "let x = 2;"},
		}},
	}

	results, err := Run(cfg, guard, "1.0.0", ModeApply)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := findResult(t, results, "p1")
	if r.Kind != ResultApplied {
		t.Fatalf("expected Applied, got %s (%s)", r.Kind, r.Reason)
	}
	if got := readFile(t, filepath.Join(dir, "lib.rs")); got != "fn main() { let x = 2; }" {
		t.Fatalf("content = %q", got)
	}
}

func TestRunTextReplaceIdempotentOnRerun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.rs", "fn main() { let x = 2; }")
	guard := newGuard(t, dir)

	cfg := &config.PatchConfig{
		Meta: config.Metadata{WorkspaceRelative: true},
		Patches: []config.PatchDefinition{{
			ID:        "p1",
			File:      "lib.rs",
			Query:     config.Query{Kind: config.QueryText, Search: "let x = 1;"},
			Operation: config.Operation{Kind: config.OpReplace, Text: "let x = 2;"},
		}},
	}

	results, err := Run(cfg, guard, "1.0.0", ModeApply)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := findResult(t, results, "p1")
	if r.Kind != ResultAlreadyApplied {
		t.Fatalf("expected AlreadyApplied, got %s (%s)", r.Kind, r.Reason)
	}
}

func TestRunVersionGateSkipsAllPatches(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.rs", "fn main() {}")
	guard := newGuard(t, dir)

	cfg := &config.PatchConfig{
		Meta: config.Metadata{WorkspaceRelative: true, VersionRange: ">=2.0.0"},
		Patches: []config.PatchDefinition{{
			ID:        "p1",
			File:      "lib.rs",
			Query:     config.Query{Kind: config.QueryText, Search: "fn main() {}"},
			Operation: config.Operation{Kind: config.OpReplace, Text: "fn main() { loop {} }"},
		}},
	}

	results, err := Run(cfg, guard, "1.0.0", ModeApply)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := findResult(t, results, "p1")
	if r.Kind != ResultSkippedVersion {
		t.Fatalf("expected SkippedVersion, got %s", r.Kind)
	}
	if got := readFile(t, filepath.Join(dir, "lib.rs")); got != "fn main() {}" {
		t.Fatalf("file should be untouched, got %q", got)
	}
}

func TestRunDryRunDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.rs", "fn main() { let x = 1; }")
	guard := newGuard(t, dir)

	cfg := &config.PatchConfig{
		Meta: config.Metadata{WorkspaceRelative: true},
		Patches: []config.PatchDefinition{{
			ID:        "p1",
			File:      "lib.rs",
			Query:     config.Query{Kind: config.QueryText, Search: "let x = 1;"},
			Operation: config.Operation{Kind: config.OpReplace, Text: "let x = 2;"},
		}},
	}

	results, err := Run(cfg, guard, "1.0.0", ModeDryRun)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := findResult(t, results, "p1")
	if r.Kind != ResultApplied {
		t.Fatalf("expected Applied (would-change), got %s (%s)", r.Kind, r.Reason)
	}
	if got := readFile(t, filepath.Join(dir, "lib.rs")); got != "fn main() { let x = 1; }" {
		t.Fatalf("dry run must not touch disk, got %q", got)
	}
}

func TestRunAmbiguousTextMatchFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.rs", "let x = 1; let x = 1;")
	guard := newGuard(t, dir)

	cfg := &config.PatchConfig{
		Meta: config.Metadata{WorkspaceRelative: true},
		Patches: []config.PatchDefinition{{
			ID:        "p1",
			File:      "lib.rs",
			Query:     config.Query{Kind: config.QueryText, Search: "let x = 1;"},
			Operation: config.Operation{Kind: config.OpReplace, Text: "let x = 2;"},
		}},
	}

	results, err := Run(cfg, guard, "1.0.0", ModeApply)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := findResult(t, results, "p1")
	if r.Kind != ResultFailed {
		t.Fatalf("expected Failed for ambiguous match, got %s", r.Kind)
	}
}

func TestRunAstDeleteZeroMatchIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.rs", "fn main() {}")
	guard := newGuard(t, dir)

	cfg := &config.PatchConfig{
		Meta: config.Metadata{WorkspaceRelative: true},
		Patches: []config.PatchDefinition{{
			ID:        "p1",
			File:      "lib.rs",
			Query:     config.Query{Kind: config.QueryAstGrep, Pattern: "fn obsolete() {}"},
			Operation: config.Operation{Kind: config.OpDelete},
		}},
	}

	results, err := Run(cfg, guard, "1.0.0", ModeApply)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := findResult(t, results, "p1")
	if r.Kind != ResultAlreadyApplied {
		t.Fatalf("expected AlreadyApplied for a missing delete target, got %s (%s)", r.Kind, r.Reason)
	}
}

func TestRunMultiplePatchesSameFileBatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.rs", "fn a() { 1 } fn b() { 2 }")
	guard := newGuard(t, dir)

	cfg := &config.PatchConfig{
		Meta: config.Metadata{WorkspaceRelative: true},
		Patches: []config.PatchDefinition{
			{
				ID:        "p1",
				File:      "lib.rs",
				Query:     config.Query{Kind: config.QueryText, Search: "fn a() { 1 }"},
				Operation: config.Operation{Kind: config.OpReplace, Text: "fn a() { 10 }"},
			},
			{
				ID:        "p2",
				File:      "lib.rs",
				Query:     config.Query{Kind: config.QueryText, Search: "fn b() { 2 }"},
				Operation: config.Operation{Kind: config.OpReplace, Text: "fn b() { 20 }"},
			},
		},
	}

	results, err := Run(cfg, guard, "1.0.0", ModeApply)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r := findResult(t, results, "p1"); r.Kind != ResultApplied {
		t.Fatalf("p1: expected Applied, got %s (%s)", r.Kind, r.Reason)
	}
	if r := findResult(t, results, "p2"); r.Kind != ResultApplied {
		t.Fatalf("p2: expected Applied, got %s (%s)", r.Kind, r.Reason)
	}
	if got := readFile(t, filepath.Join(dir, "lib.rs")); got != "fn a() { 10 } fn b() { 20 }" {
		t.Fatalf("content = %q", got)
	}
}

func TestRunTomlInsertAndReplaceSequential(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", "[package]\nname = \"demo\"\nversion = \"0.1.0\"\n")
	guard := newGuard(t, dir)

	cfg := &config.PatchConfig{
		Meta: config.Metadata{WorkspaceRelative: true},
		Patches: []config.PatchDefinition{
			{
				ID:        "p1",
				File:      "Cargo.toml",
				Query:     config.Query{Kind: config.QueryToml, Section: strPtr("package"), Key: strPtr("version")},
				Operation: config.Operation{Kind: config.OpReplaceValue, Value: "\"0.2.0\""},
			},
			{
				ID:    "p2",
				File:  "Cargo.toml",
				Query: config.Query{Kind: config.QueryToml, Section: strPtr("dependencies")},
				Operation: config.Operation{
					Kind:        config.OpInsertSection,
					Text:        "[dependencies]\nserde = \"1\"\n",
					Positioning: config.Positioning{AtEnd: true},
				},
			},
		},
	}

	results, err := Run(cfg, guard, "1.0.0", ModeApply)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r := findResult(t, results, "p1"); r.Kind != ResultApplied {
		t.Fatalf("p1: expected Applied, got %s (%s)", r.Kind, r.Reason)
	}
	if r := findResult(t, results, "p2"); r.Kind != ResultApplied {
		t.Fatalf("p2: expected Applied, got %s (%s)", r.Kind, r.Reason)
	}

	got := readFile(t, filepath.Join(dir, "Cargo.toml"))
	if !strings.Contains(got, "version = \"0.2.0\"") || !strings.Contains(got, "[dependencies]") || !strings.Contains(got, "serde = \"1\"") {
		t.Fatalf("content = %q", got)
	}
}

func TestRunVerifyExactMatchRejectsDriftedPreImage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.rs", "fn main() { let x = 1; }")
	guard := newGuard(t, dir)

	cfg := &config.PatchConfig{
		Meta: config.Metadata{WorkspaceRelative: true},
		Patches: []config.PatchDefinition{{
			ID:        "p1",
			File:      "lib.rs",
			Query:     config.Query{Kind: config.QueryText, Search: "let x = 1;"},
			Operation: config.Operation{Kind: config.OpReplace, Text: "let x = 2;"},
			Verify:    &config.Verify{Method: config.VerifyExactMatch, ExpectedText: "let x = 99;"},
		}},
	}

	results, err := Run(cfg, guard, "1.0.0", ModeApply)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := findResult(t, results, "p1")
	if r.Kind != ResultFailed {
		t.Fatalf("expected Failed for a verify clause that doesn't match the located text, got %s", r.Kind)
	}
	if got := readFile(t, filepath.Join(dir, "lib.rs")); got != "fn main() { let x = 1; }" {
		t.Fatalf("file should be untouched after a rejected verify, got %q", got)
	}
}

func TestRunVerifyExactMatchAcceptsMatchingPreImage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.rs", "fn main() { let x = 1; }")
	guard := newGuard(t, dir)

	cfg := &config.PatchConfig{
		Meta: config.Metadata{WorkspaceRelative: true},
		Patches: []config.PatchDefinition{{
			ID:        "p1",
			File:      "lib.rs",
			Query:     config.Query{Kind: config.QueryText, Search: "let x = 1;"},
			Operation: config.Operation{Kind: config.OpReplace, Text: "let x = 2;"},
			Verify:    &config.Verify{Method: config.VerifyExactMatch, ExpectedText: "let x = 1;"},
		}},
	}

	results, err := Run(cfg, guard, "1.0.0", ModeApply)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := findResult(t, results, "p1")
	if r.Kind != ResultApplied {
		t.Fatalf("expected Applied, got %s (%s)", r.Kind, r.Reason)
	}
	if got := readFile(t, filepath.Join(dir, "lib.rs")); got != "fn main() { let x = 2; }" {
		t.Fatalf("content = %q", got)
	}
}

func TestRunVerifyHashMatchesLocatedPreImage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.rs", "fn main() { let x = 1; }")
	guard := newGuard(t, dir)

	hash := xxhash.Sum64String("let x = 1;")

	cfg := &config.PatchConfig{
		Meta: config.Metadata{WorkspaceRelative: true},
		Patches: []config.PatchDefinition{{
			ID:        "p1",
			File:      "lib.rs",
			Query:     config.Query{Kind: config.QueryText, Search: "let x = 1;"},
			Operation: config.Operation{Kind: config.OpReplace, Text: "let x = 2;"},
			Verify:    &config.Verify{Method: config.VerifyHashMethod, Expected: fmt.Sprintf("0x%x", hash)},
		}},
	}

	results, err := Run(cfg, guard, "1.0.0", ModeApply)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := findResult(t, results, "p1")
	if r.Kind != ResultApplied {
		t.Fatalf("expected Applied, got %s (%s)", r.Kind, r.Reason)
	}
}

func TestRunTomlVerifyRejectsDriftedPreImage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", "[package]\nname = \"demo\"\nversion = \"0.1.0\"\n")
	guard := newGuard(t, dir)

	cfg := &config.PatchConfig{
		Meta: config.Metadata{WorkspaceRelative: true},
		Patches: []config.PatchDefinition{{
			ID:        "p1",
			File:      "Cargo.toml",
			Query:     config.Query{Kind: config.QueryToml, Section: strPtr("package"), Key: strPtr("version")},
			Operation: config.Operation{Kind: config.OpReplaceValue, Value: "\"0.2.0\""},
			Verify:    &config.Verify{Method: config.VerifyExactMatch, ExpectedText: "\"9.9.9\""},
		}},
	}

	results, err := Run(cfg, guard, "1.0.0", ModeApply)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := findResult(t, results, "p1")
	if r.Kind != ResultFailed {
		t.Fatalf("expected Failed for a drifted TOML verify clause, got %s", r.Kind)
	}
	if got := readFile(t, filepath.Join(dir, "Cargo.toml")); strings.Contains(got, "0.2.0") {
		t.Fatalf("file should be untouched after a rejected verify, got %q", got)
	}
}

func strPtr(s string) *string { return &s }
