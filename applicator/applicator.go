package applicator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"patchctl.dev/config"
	"patchctl.dev/edit"
	"patchctl.dev/locator"
	"patchctl.dev/validator"
	"patchctl.dev/versiongate"
	"patchctl.dev/workspace"
)

// checkFragmentKind runs the §12 fragment-kind hint check, when present,
// against a Replace/ReplaceCapture operation's new text, independently of
// the whole-file re-parse ValidateEdit performs after the edit lands.
func checkFragmentKind(op config.Operation, newText string) string {
	if op.FragmentKind == nil {
		return ""
	}
	if err := validator.ValidateFragment(validator.FragmentKind(*op.FragmentKind), newText); err != nil {
		return err.Error()
	}
	return ""
}

// Run evaluates every patch in cfg against the workspace guarded by guard,
// at the given workspace version, in the given mode (§4.7's data flow:
// version gate → group by file → per-file pipeline → reorder to patch-set
// order).
func Run(cfg *config.PatchConfig, guard *workspace.Guard, workspaceVersion string, mode Mode) ([]PatchResult, error) {
	if cfg.Meta.VersionRange != "" {
		ok, err := versiongate.Matches(workspaceVersion, cfg.Meta.VersionRange)
		if err != nil {
			return nil, fmt.Errorf("applicator: version gate: %w", err)
		}
		if !ok {
			return skipAll(cfg, "workspace version does not satisfy "+cfg.Meta.VersionRange), nil
		}
	}

	results := make([]PatchResult, len(cfg.Patches))
	var order []string
	groups := make(map[string][]locatedPatch)

	for i, p := range cfg.Patches {
		file, err := resolveFile(p, cfg.Meta.WorkspaceRelative, guard)
		if err != nil {
			results[i] = PatchResult{ID: p.ID, File: p.File, Kind: ResultFailed, Reason: err.Error()}
			continue
		}
		if _, ok := groups[file]; !ok {
			order = append(order, file)
		}
		groups[file] = append(groups[file], locatedPatch{patch: p, index: i, file: file})
	}

	for _, file := range order {
		group := groups[file]
		containsToml := false
		for _, lp := range group {
			if lp.patch.Query.Kind == config.QueryToml {
				containsToml = true
				break
			}
		}

		if containsToml {
			runTomlGroup(file, group, mode, results)
			continue
		}

		runStructuralGroup(file, group, mode, results)
	}

	return results, nil
}

func skipAll(cfg *config.PatchConfig, reason string) []PatchResult {
	results := make([]PatchResult, len(cfg.Patches))
	for i, p := range cfg.Patches {
		results[i] = PatchResult{ID: p.ID, File: p.File, Kind: ResultSkippedVersion, Reason: reason}
	}
	return results
}

func resolveFile(p config.PatchDefinition, workspaceRelative bool, guard *workspace.Guard) (string, error) {
	raw := p.File
	if workspaceRelative {
		raw = filepath.Join(guard.Root(), p.File)
	}
	canonical, err := guard.Validate(raw)
	if err != nil {
		return "", fmt.Errorf("path outside workspace: %w", err)
	}
	return canonical, nil
}

// runStructuralGroup handles a group of Text/AstGrep/TreeSitter patches
// against one file: read once, resolve each patch to an edit (or a
// terminal result), batch the edits, and record outcomes (§4.7 steps 2-7).
func runStructuralGroup(file string, group []locatedPatch, mode Mode, results []PatchResult) {
	source, err := os.ReadFile(file)
	if err != nil {
		for _, lp := range group {
			results[lp.index] = PatchResult{ID: lp.patch.ID, File: file, Kind: ResultFailed, Reason: "file not found: " + err.Error()}
		}
		return
	}

	var edits []edit.Edit
	editOwners := map[int]int{} // edits-slice index -> patch index

	for _, lp := range group {
		r := resolveStructuralEdit(lp.patch, file, source)
		if r.terminal != nil {
			results[lp.index] = *r.terminal
			continue
		}
		editOwners[len(edits)] = lp.index
		edits = append(edits, *r.edit)
	}

	if len(edits) == 0 {
		return
	}

	var batchResults []edit.Result
	var postImage []byte
	if mode == ModeApply {
		batchResults, err = edit.ApplyBatch(file, edits)
		if err == nil {
			postImage, err = os.ReadFile(file)
		}
	} else {
		batchResults, postImage, err = edit.PreviewBatch(file, edits)
	}

	if err != nil {
		markBatchFailed(group, editOwners, len(edits), results, file, err)
		return
	}

	if mode == ModeApply {
		anyApplied := false
		for _, r := range batchResults {
			if r.Applied {
				anyApplied = true
			}
		}
		if anyApplied {
			vr, verr := validator.ValidateEdit(source, postImage)
			if verr == nil && !vr.OK {
				reason := "post-edit validation: introduced new parse errors, rolled back"
				rollback := edit.NewVerified(file, 0, len(postImage), string(source), edit.VerifyExact(string(postImage)))
				if _, rerr := rollback.Apply(); rerr != nil {
					reason = fmt.Sprintf("post-edit validation: introduced new parse errors, and rollback failed: %v (workspace may be left with invalid source)", rerr)
				}
				markBatchFailed(group, editOwners, len(edits), results, file, errors.New(reason))
				return
			}
		}
	}

	for i, r := range batchResults {
		idx := editOwners[i]
		if r.Applied {
			results[idx] = PatchResult{ID: group[ownerPos(group, idx)].patch.ID, File: file, Kind: ResultApplied, BytesChanged: r.BytesChanged, Before: string(source), After: string(postImage)}
		} else {
			results[idx] = PatchResult{ID: group[ownerPos(group, idx)].patch.ID, File: file, Kind: ResultAlreadyApplied}
		}
	}
}

func ownerPos(group []locatedPatch, patchIndex int) int {
	for i, lp := range group {
		if lp.index == patchIndex {
			return i
		}
	}
	return 0
}

func markBatchFailed(group []locatedPatch, editOwners map[int]int, n int, results []PatchResult, file string, err error) {
	for i := 0; i < n; i++ {
		idx := editOwners[i]
		results[idx] = PatchResult{ID: group[ownerPos(group, idx)].patch.ID, File: file, Kind: ResultFailed, Reason: err.Error()}
	}
}

// locatedPatch is one patch paired with its resolved, guard-validated file
// path and its position in the original patch set (for result reordering).
type locatedPatch struct {
	patch config.PatchDefinition
	index int
	file  string
}

type editResolution struct {
	edit     *edit.Edit
	terminal *PatchResult
}

// resolveStructuralEdit dispatches a single Text/AstGrep/TreeSitter patch
// to its locator and produces either an Edit ready for batching or a
// terminal (AlreadyApplied/Failed) result (§4.2-§4.4).
func resolveStructuralEdit(p config.PatchDefinition, file string, source []byte) editResolution {
	switch p.Query.Kind {
	case config.QueryText:
		return resolveTextEdit(p, file, source)
	case config.QueryAstGrep:
		return resolveAstEdit(p, file, source)
	case config.QueryTreeSitter:
		return resolveTreeEdit(p, file, source)
	default:
		return terminalFailed(p, file, fmt.Sprintf("unsupported query kind %q in structural group", p.Query.Kind))
	}
}

func terminalFailed(p config.PatchDefinition, file, reason string) editResolution {
	r := PatchResult{ID: p.ID, File: file, Kind: ResultFailed, Reason: reason}
	return editResolution{terminal: &r}
}

func terminalAlreadyApplied(p config.PatchDefinition, file string) editResolution {
	r := PatchResult{ID: p.ID, File: file, Kind: ResultAlreadyApplied}
	return editResolution{terminal: &r}
}

func resolveTextEdit(p config.PatchDefinition, file string, source []byte) editResolution {
	span, alreadyApplied, err := locator.UniqueText(string(source), p.Query.Search, p.Operation.Text)
	if err != nil {
		var ambig *locator.ErrAmbiguousMatch
		if errors.As(err, &ambig) {
			return terminalFailed(p, file, ambig.Error())
		}
		return terminalFailed(p, file, "no match: "+err.Error())
	}
	if alreadyApplied {
		return terminalAlreadyApplied(p, file)
	}
	current := string(source[span.Start:span.End])
	v, failReason := resolveVerification(p, current)
	if failReason != "" {
		return terminalFailed(p, file, failReason)
	}
	e := edit.NewVerified(file, span.Start, span.End, p.Operation.Text, v)
	return editResolution{edit: &e}
}

// resolveVerification builds the Verification an Edit should carry: the
// patch's explicit §3 verify clause when present, else the located
// pre-image text (the prior default-idempotent behavior). Mirrors
// `_examples/original_source/src/config/applicator.rs`'s
// `apply_structural_patch`: a present `verify` clause always wins over
// the located text, so a patch whose target has drifted from the
// author's expectation fails loudly instead of applying silently.
func resolveVerification(p config.PatchDefinition, current string) (v edit.Verification, failReason string) {
	if p.Verify == nil {
		return edit.FromText(current), ""
	}
	switch p.Verify.Method {
	case config.VerifyExactMatch:
		return edit.VerifyExact(p.Verify.ExpectedText), ""
	case config.VerifyHashMethod:
		hash, err := edit.ParseHashHex(p.Verify.Expected)
		if err != nil {
			return edit.Verification{}, err.Error()
		}
		return edit.VerifyHashValue(hash), ""
	default:
		return edit.Verification{}, fmt.Sprintf("unsupported verify method %q", p.Verify.Method)
	}
}

func resolveAstEdit(p config.PatchDefinition, file string, source []byte) editResolution {
	functionContext := ""
	if p.Constraint != nil && p.Constraint.FunctionContext != nil {
		functionContext = *p.Constraint.FunctionContext
	}

	matches, err := locator.FindAstPattern(source, p.Query.Pattern, functionContext)
	if err != nil {
		return terminalFailed(p, file, "ast-pattern locator: "+err.Error())
	}

	switch len(matches) {
	case 0:
		return resolveZeroMatchIdempotency(p, file, source)
	case 1:
		return resolveAstMatch(p, file, source, matches[0])
	default:
		return terminalFailed(p, file, fmt.Sprintf("ambiguous match: %d occurrences of pattern %q", len(matches), p.Query.Pattern))
	}
}

func resolveAstMatch(p config.PatchDefinition, file string, source []byte, m locator.AstMatch) editResolution {
	current := string(source[m.Span.Start:m.Span.End])

	switch p.Operation.Kind {
	case config.OpReplace:
		newText := adjustTrailingNewline(p.Operation.Text, current)
		if newText == current {
			return terminalAlreadyApplied(p, file)
		}
		if reason := checkFragmentKind(p.Operation, newText); reason != "" {
			return terminalFailed(p, file, reason)
		}
		v, failReason := resolveVerification(p, current)
		if failReason != "" {
			return terminalFailed(p, file, failReason)
		}
		e := edit.NewVerified(file, m.Span.Start, m.Span.End, newText, v)
		return editResolution{edit: &e}

	case config.OpDelete:
		v, failReason := resolveVerification(p, current)
		if failReason != "" {
			return terminalFailed(p, file, failReason)
		}
		e := edit.NewVerified(file, m.Span.Start, m.Span.End, "", v)
		return editResolution{edit: &e}

	case config.OpReplaceCapture:
		cap, ok := m.Captures[p.Operation.Capture]
		if !ok {
			return terminalFailed(p, file, fmt.Sprintf("capture %q not bound by pattern %q", p.Operation.Capture, p.Query.Pattern))
		}
		if cap.Text == p.Operation.Text {
			return terminalAlreadyApplied(p, file)
		}
		if reason := checkFragmentKind(p.Operation, p.Operation.Text); reason != "" {
			return terminalFailed(p, file, reason)
		}
		v, failReason := resolveVerification(p, cap.Text)
		if failReason != "" {
			return terminalFailed(p, file, failReason)
		}
		e := edit.NewVerified(file, cap.Span.Start, cap.Span.End, p.Operation.Text, v)
		return editResolution{edit: &e}

	default:
		return terminalFailed(p, file, fmt.Sprintf("operation %q not legal for ast-grep query", p.Operation.Kind))
	}
}

// resolveZeroMatchIdempotency implements §4.3's tolerant zero-match rules:
// Delete always treats a missing target as already handled (it may have
// been deleted manually, or by a prior run whose post-marker is present);
// Replace/ReplaceCapture only do so if the replacement text is already
// present.
func resolveZeroMatchIdempotency(p config.PatchDefinition, file string, source []byte) editResolution {
	switch p.Operation.Kind {
	case config.OpDelete:
		return terminalAlreadyApplied(p, file)
	case config.OpReplace, config.OpReplaceCapture:
		if containsNormalized(source, p.Operation.Text) {
			return terminalAlreadyApplied(p, file)
		}
		return terminalFailed(p, file, "no match for pattern "+p.Query.Pattern)
	default:
		return terminalFailed(p, file, "no match for pattern "+p.Query.Pattern)
	}
}

func resolveTreeEdit(p config.PatchDefinition, file string, source []byte) editResolution {
	target, err := parseTreeQueryPattern(p.Query.Pattern)
	if err != nil {
		return terminalFailed(p, file, err.Error())
	}

	matches, err := locator.FindAll(source, target)
	if err != nil {
		return terminalFailed(p, file, "tree-query locator: "+err.Error())
	}

	switch len(matches) {
	case 0:
		return resolveZeroMatchIdempotency(p, file, source)
	case 1:
		m := matches[0]
		current := string(source[m.Span.Start:m.Span.End])
		switch p.Operation.Kind {
		case config.OpReplace:
			newText := adjustTrailingNewline(p.Operation.Text, current)
			if newText == current {
				return terminalAlreadyApplied(p, file)
			}
			v, failReason := resolveVerification(p, current)
			if failReason != "" {
				return terminalFailed(p, file, failReason)
			}
			e := edit.NewVerified(file, m.Span.Start, m.Span.End, newText, v)
			return editResolution{edit: &e}
		case config.OpDelete:
			v, failReason := resolveVerification(p, current)
			if failReason != "" {
				return terminalFailed(p, file, failReason)
			}
			e := edit.NewVerified(file, m.Span.Start, m.Span.End, "", v)
			return editResolution{edit: &e}
		default:
			return terminalFailed(p, file, fmt.Sprintf("operation %q not legal for tree-sitter query", p.Operation.Kind))
		}
	default:
		return terminalFailed(p, file, fmt.Sprintf("ambiguous match: %d occurrences of pattern %q", len(matches), p.Query.Pattern))
	}
}

// adjustTrailingNewline makes newText's trailing-newline status match
// current's, per §4.3's "trailing-newline alignment".
func adjustTrailingNewline(newText, current string) string {
	currentHasNL := strings.HasSuffix(current, "\n")
	newHasNL := strings.HasSuffix(newText, "\n")
	switch {
	case currentHasNL && !newHasNL:
		return newText + "\n"
	case !currentHasNL && newHasNL:
		return strings.TrimSuffix(newText, "\n")
	default:
		return newText
	}
}

func containsNormalized(source []byte, text string) bool {
	s := string(source)
	if strings.Contains(s, text) {
		return true
	}
	alt := strings.TrimSuffix(text, "\n")
	if alt != text && strings.Contains(s, alt) {
		return true
	}
	return strings.Contains(s, text+"\n")
}
