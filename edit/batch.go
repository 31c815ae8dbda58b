package edit

// GroupByFile partitions edits by their File field, preserving the relative
// order of edits within each group. It returns the distinct file paths in
// first-seen order alongside the grouping, since map iteration order is not
// stable and callers (the applicator) must process files in insertion order
// (§5 ordering guarantees).
func GroupByFile(edits []Edit) (order []string, groups map[string][]Edit) {
	groups = make(map[string][]Edit)
	for _, e := range edits {
		if _, ok := groups[e.File]; !ok {
			order = append(order, e.File)
		}
		groups[e.File] = append(groups[e.File], e)
	}
	return order, groups
}

// ApplyAll applies every file's batch in turn, in the order files first
// appeared in edits, and returns a flat slice of results in the same order
// as the input edits (not file-grouped order).
func ApplyAll(edits []Edit) ([]Result, error) {
	order, groups := GroupByFile(edits)

	// For each file, the original-slice indices that contributed its edits,
	// in the same order groups[file] holds them, so results can be
	// reassembled in caller order once every file's batch is applied.
	indices := make(map[string][]int)
	for i, e := range edits {
		indices[e.File] = append(indices[e.File], i)
	}

	results := make([]Result, len(edits))
	for _, file := range order {
		fileResults, err := ApplyBatch(file, groups[file])
		if err != nil {
			return nil, err
		}
		idxs := indices[file]
		for i, r := range fileResults {
			results[idxs[i]] = r
		}
	}

	return results, nil
}
