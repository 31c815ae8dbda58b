// Package applicator implements the patch applicator (§4.7): resolving
// each patch's file, dispatching to the right locator, batching edits per
// file, and reporting results in original patch-set order.
package applicator

// ResultKind tags the outcome of one patch in a run.
type ResultKind string

const (
	ResultApplied        ResultKind = "applied"
	ResultAlreadyApplied ResultKind = "already_applied"
	ResultSkippedVersion ResultKind = "skipped_version"
	ResultFailed         ResultKind = "failed"
)

// PatchResult is one patch's outcome (§3 "Patch result"). Before/After hold
// the file's full text: for a TOML patch, immediately before and after this
// patch took effect; for any other patch, before and after the whole batch
// of edits to that file. They are only populated for ResultApplied, for
// callers that want to render a diff (the CLI's `-diff` flag).
type PatchResult struct {
	ID           string
	File         string
	Kind         ResultKind
	Reason       string
	BytesChanged int
	Before       string
	After        string
}

// Mode selects whether a run mutates the workspace or only evaluates what
// it would do (§4.7 "Status / verify modes"). Both status and verify share
// this same dry-run evaluation; only the CLI's interpretation of an
// Applied result (and thus its exit code) differs between them.
type Mode int

const (
	ModeApply Mode = iota
	ModeDryRun
)
