package applicator

import (
	"errors"
	"fmt"
	"os"

	"patchctl.dev/config"
	"patchctl.dev/edit"
	"patchctl.dev/tomledit"
)

// runTomlGroup processes a file group containing at least one TOML patch.
// Per §9's resolved open question, TOML patches within a file are never
// batched: each patch is resolved and spliced against the output of the
// one before it, so a later patch sees an earlier patch's insertion or
// rename. The whole group still produces at most one disk write.
func runTomlGroup(file string, group []locatedPatch, mode Mode, results []PatchResult) {
	current, err := os.ReadFile(file)
	if err != nil {
		for _, lp := range group {
			results[lp.index] = PatchResult{ID: lp.patch.ID, File: file, Kind: ResultFailed, Reason: "file not found: " + err.Error()}
		}
		return
	}
	if err := tomledit.ValidateResult(current); err != nil {
		for _, lp := range group {
			results[lp.index] = PatchResult{ID: lp.patch.ID, File: file, Kind: ResultFailed, Reason: "file is not valid TOML before patching: " + err.Error()}
		}
		return
	}

	original := current
	anyApplied := false

	for _, lp := range group {
		if lp.patch.Query.Kind != config.QueryToml {
			results[lp.index] = PatchResult{ID: lp.patch.ID, File: file, Kind: ResultFailed, Reason: "non-TOML query mixed into a TOML-bearing file group"}
			continue
		}

		e, outcome, reason, hasEdit := resolveTomlEdit(lp.patch, file, current)
		if !hasEdit {
			results[lp.index] = PatchResult{ID: lp.patch.ID, File: file, Kind: outcome, Reason: reason}
			continue
		}

		applyResult, next, err := e.ApplyInMemory(current)
		if err != nil {
			results[lp.index] = PatchResult{ID: lp.patch.ID, File: file, Kind: ResultFailed, Reason: err.Error()}
			continue
		}
		if !applyResult.Applied {
			results[lp.index] = PatchResult{ID: lp.patch.ID, File: file, Kind: ResultAlreadyApplied}
			continue
		}

		if err := tomledit.ValidateResult(next); err != nil {
			results[lp.index] = PatchResult{ID: lp.patch.ID, File: file, Kind: ResultFailed, Reason: err.Error()}
			continue
		}

		before := current
		current = next
		anyApplied = true
		results[lp.index] = PatchResult{ID: lp.patch.ID, File: file, Kind: ResultApplied, BytesChanged: applyResult.BytesChanged, Before: string(before), After: string(current)}
	}

	if mode != ModeApply || !anyApplied {
		return
	}

	whole := edit.NewVerified(file, 0, len(original), string(current), edit.VerifyExact(string(original)))
	if _, err := whole.Apply(); err != nil {
		for _, lp := range group {
			if results[lp.index].Kind == ResultApplied {
				results[lp.index] = PatchResult{ID: lp.patch.ID, File: file, Kind: ResultFailed, Reason: "writing combined TOML result: " + err.Error()}
			}
		}
	}
}

// resolveTomlEdit dispatches one TOML patch to the tomledit editor
// appropriate for its operation kind (§4.5), then applies the patch's
// §3 verify clause (if any) in place of the editor's default located-text
// expectation, same as the structural locators (see resolveVerification).
func resolveTomlEdit(p config.PatchDefinition, file string, source []byte) (e edit.Edit, outcome ResultKind, reason string, hasEdit bool) {
	switch p.Operation.Kind {
	case config.OpInsertSection:
		path, err := requireSectionPath(p)
		if err != nil {
			return edit.Edit{}, ResultFailed, err.Error(), false
		}
		anchor, err := buildAnchor(p.Operation.Positioning)
		if err != nil {
			return edit.Edit{}, ResultFailed, err.Error(), false
		}
		e, already, err := tomledit.InsertSection(source, file, path, p.Operation.Text, anchor)
		if err != nil {
			return edit.Edit{}, ResultFailed, err.Error(), false
		}
		if already {
			return edit.Edit{}, ResultAlreadyApplied, "", false
		}
		return applyVerifyOverride(e, p, source)

	case config.OpAppendSection:
		path, err := requireSectionPath(p)
		if err != nil {
			return edit.Edit{}, ResultFailed, err.Error(), false
		}
		e, already, err := tomledit.AppendSection(source, file, path, p.Operation.Text)
		if err != nil {
			return edit.Edit{}, ResultFailed, err.Error(), false
		}
		if already {
			return edit.Edit{}, ResultAlreadyApplied, "", false
		}
		return applyVerifyOverride(e, p, source)

	case config.OpReplaceValue:
		path, key, err := requireSectionAndKey(p)
		if err != nil {
			return edit.Edit{}, ResultFailed, err.Error(), false
		}
		e, already, err := tomledit.ReplaceValue(source, file, path, key, p.Operation.Value)
		if err != nil {
			return edit.Edit{}, ResultFailed, err.Error(), false
		}
		if already {
			return edit.Edit{}, ResultAlreadyApplied, "", false
		}
		return applyVerifyOverride(e, p, source)

	case config.OpReplaceKey:
		path, key, err := requireSectionAndKey(p)
		if err != nil {
			return edit.Edit{}, ResultFailed, err.Error(), false
		}
		e, err := tomledit.ReplaceKey(source, file, path, key, p.Operation.NewKey)
		if err != nil {
			if errors.Is(err, tomledit.ErrKeyNotFound) && keyAlreadyRenamed(source, path, p.Operation.NewKey) {
				return edit.Edit{}, ResultAlreadyApplied, "", false
			}
			return edit.Edit{}, ResultFailed, err.Error(), false
		}
		return applyVerifyOverride(e, p, source)

	case config.OpDeleteSection:
		path, err := requireSectionPath(p)
		if err != nil {
			return edit.Edit{}, ResultFailed, err.Error(), false
		}
		e, err := tomledit.DeleteSection(source, file, path)
		if err != nil {
			if errors.Is(err, tomledit.ErrSectionNotFound) {
				return edit.Edit{}, ResultAlreadyApplied, "", false
			}
			return edit.Edit{}, ResultFailed, err.Error(), false
		}
		return applyVerifyOverride(e, p, source)

	default:
		return edit.Edit{}, ResultFailed, fmt.Sprintf("operation %q not legal for toml query", p.Operation.Kind), false
	}
}

// applyVerifyOverride replaces e's default located-text expectation with
// the patch's explicit §3 verify clause, when one is present.
func applyVerifyOverride(e edit.Edit, p config.PatchDefinition, source []byte) (edit.Edit, ResultKind, string, bool) {
	if p.Verify == nil {
		return e, "", "", true
	}
	current := string(source[e.ByteStart:e.ByteEnd])
	v, failReason := resolveVerification(p, current)
	if failReason != "" {
		return edit.Edit{}, ResultFailed, failReason, false
	}
	return edit.NewVerified(e.File, e.ByteStart, e.ByteEnd, e.NewText, v), "", "", true
}

func requireSectionPath(p config.PatchDefinition) (tomledit.Path, error) {
	if p.Query.Section == nil {
		return nil, fmt.Errorf("applicator: toml patch %q missing query.section", p.ID)
	}
	return tomledit.ParsePath(*p.Query.Section)
}

func requireSectionAndKey(p config.PatchDefinition) (tomledit.Path, string, error) {
	path, err := requireSectionPath(p)
	if err != nil {
		return nil, "", err
	}
	if p.Query.Key == nil {
		return nil, "", fmt.Errorf("applicator: toml patch %q missing query.key", p.ID)
	}
	return path, *p.Query.Key, nil
}

func buildAnchor(pos config.Positioning) (tomledit.Anchor, error) {
	resolved := pos.Resolve()
	switch resolved.Kind {
	case config.PosAfter:
		path, err := tomledit.ParsePath(resolved.Path)
		if err != nil {
			return tomledit.Anchor{}, err
		}
		return tomledit.Anchor{AfterSection: &path}, nil
	case config.PosBefore:
		path, err := tomledit.ParsePath(resolved.Path)
		if err != nil {
			return tomledit.Anchor{}, err
		}
		return tomledit.Anchor{BeforeSection: &path}, nil
	case config.PosAtBeginning:
		return tomledit.Anchor{AtBeginning: true}, nil
	default:
		return tomledit.Anchor{AtEnd: true}, nil
	}
}

func keyAlreadyRenamed(source []byte, section tomledit.Path, newKey string) bool {
	sec, found, err := tomledit.FindSection(source, section)
	if err != nil || !found {
		return false
	}
	_, found, err = tomledit.FindKey(source, sec, newKey)
	return err == nil && found
}
