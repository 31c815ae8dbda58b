// Package validator implements the post-edit validator (§4.8): re-parsing a
// candidate Rust source against its pre-edit counterpart and rejecting only
// parse errors that are genuinely new, plus the supplemented fragment-kind
// check (§12) for generated replacement snippets.
package validator

import (
	"fmt"

	"patchctl.dev/locator/tsrust"
)

// Result is the outcome of validating one edit's effect on a file.
type Result struct {
	OK        bool
	NewErrors []tsrust.ErrorPosition
}

// errorSet is a set of error positions for set-difference comparison,
// grounded on validate.rs's collect_errors tuple-set comparison.
type errorSet map[[2]int]struct{}

func toSet(positions []tsrust.ErrorPosition) errorSet {
	s := make(errorSet, len(positions))
	for _, p := range positions {
		s[[2]int{p.ByteStart, p.ByteEnd}] = struct{}{}
	}
	return s
}

// ValidateEdit re-parses preImage and postImage as Rust source and reports
// whether postImage introduced any parse error not already present in
// preImage. The two error sets are compared as exact (start, end) byte
// positions by plain set difference, so a pre-existing error whose offsets
// shifted (because earlier bytes in the file changed length) is reported as
// new.
func ValidateEdit(preImage, postImage []byte) (Result, error) {
	preParsed, err := tsrust.Parse(preImage)
	if err != nil {
		return Result{}, fmt.Errorf("validator: parse pre-image: %w", err)
	}
	defer preParsed.Close()
	preErrors := tsrust.CollectErrorPositions(preParsed.Root())

	postParsed, err := tsrust.Parse(postImage)
	if err != nil {
		return Result{}, fmt.Errorf("validator: parse post-image: %w", err)
	}
	defer postParsed.Close()
	postErrors := tsrust.CollectErrorPositions(postParsed.Root())

	preSet := toSet(preErrors)
	var newErrors []tsrust.ErrorPosition
	for _, p := range postErrors {
		if _, ok := preSet[[2]int{p.ByteStart, p.ByteEnd}]; !ok {
			newErrors = append(newErrors, p)
		}
	}

	return Result{OK: len(newErrors) == 0, NewErrors: newErrors}, nil
}
