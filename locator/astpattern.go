package locator

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"patchctl.dev/locator/tsrust"
)

// metavarToken matches the three metavariable forms from §4.3/GLOSSARY:
// "$$$NAME"/"$$NAME" (variadic, binds a sequence of sibling nodes),
// "$NAME" (single node), and "$_" (anonymous wildcard, no binding).
var metavarToken = regexp.MustCompile(`\$(\$\$?)?([A-Za-z_][A-Za-z0-9_]*|_)`)

const (
	mvSinglePrefix   = "patchctlmvsingle"
	mvVariadicPrefix = "patchctlmvvariadic"
	mvAnonIdent      = "patchctlmvanon"
)

// compilePattern rewrites metavariable tokens into synthetic identifiers the
// Rust grammar accepts, so the pattern parses into a normal (error-free)
// parse tree that can be walked structurally. There is no Go binding for
// ast-grep's native metavariable parsing, so this substitution is an
// original bridge onto the tree-sitter binding already in use elsewhere in
// this package (§4.3's pattern compilation step).
func compilePattern(pattern string) string {
	return metavarToken.ReplaceAllStringFunc(pattern, func(tok string) string {
		m := metavarToken.FindStringSubmatch(tok)
		dollars, name := m[1], m[2]
		if name == "_" {
			return mvAnonIdent
		}
		if dollars == "$" || dollars == "$$" {
			return mvVariadicPrefix + name
		}
		return mvSinglePrefix + name
	})
}

// compiledPattern is a memoized, parsed pattern: the rewritten source plus
// the tree-sitter node that is the pattern's effective root.
type compiledPattern struct {
	source []byte
	parsed *tsrust.Parsed
	root   *sitter.Node
}

// patternCache memoizes compiled patterns keyed by pattern text, with
// bulk-clear eviction at 256 entries (§4.3: "eviction: bulk-clear on
// reaching 256 entries — batch workloads tolerate this coarse policy
// because compilation cost is amortized across all files in a run").
var (
	patternCacheMu sync.Mutex
	patternCache   = map[string]*compiledPattern{}
)

const patternCacheLimit = 256

func getCompiledPattern(pattern string) (*compiledPattern, error) {
	patternCacheMu.Lock()
	if cp, ok := patternCache[pattern]; ok {
		patternCacheMu.Unlock()
		return cp, nil
	}
	patternCacheMu.Unlock()

	rewritten := compilePattern(pattern)
	cp, err := parsePatternFragment(rewritten, pattern)
	if err != nil {
		return nil, err
	}

	patternCacheMu.Lock()
	if len(patternCache) >= patternCacheLimit {
		patternCache = map[string]*compiledPattern{}
	}
	patternCache[pattern] = cp
	patternCacheMu.Unlock()

	return cp, nil
}

const fragmentWrapperName = "__patchctl_pattern_wrapper__"

// parsePatternFragment parses rewritten as a standalone item first (covers
// patterns like "fn $NAME() {}" or "struct $NAME { $$FIELDS }"). Most useful
// patterns are statements or expressions ("let $NAME = fetch_value();",
// "log_event($_);"), which aren't valid at item level, so on a parse error
// it retries wrapped in a synthetic function body and anchors the pattern
// root to the wrapped statement instead — the same fragment-kind problem
// `syn`-based snippet validation solves on the source side of this tool.
func parsePatternFragment(rewritten, original string) (*compiledPattern, error) {
	parsed, err := tsrust.Parse([]byte(rewritten))
	if err != nil {
		return nil, fmt.Errorf("locator: parse pattern %q: %w", original, err)
	}

	root := parsed.Root()
	if !root.HasError() {
		patternRoot := root
		if int(root.NamedChildCount()) == 1 {
			patternRoot = root.NamedChild(0)
		}
		return &compiledPattern{source: []byte(rewritten), parsed: parsed, root: patternRoot}, nil
	}
	parsed.Close()

	wrapped := "fn " + fragmentWrapperName + "() {\n" + rewritten + "\n}"
	wrappedParsed, err := tsrust.Parse([]byte(wrapped))
	if err != nil {
		return nil, fmt.Errorf("locator: parse pattern %q: %w", original, err)
	}
	if wrappedParsed.Root().HasError() {
		wrappedParsed.Close()
		return nil, fmt.Errorf("locator: pattern %q is not valid Rust syntax as an item or statement", original)
	}

	block := findWrapperBlock(wrappedParsed.Root())
	if block == nil || int(block.NamedChildCount()) == 0 {
		wrappedParsed.Close()
		return nil, fmt.Errorf("locator: pattern %q produced no statement", original)
	}

	patternRoot := block
	if int(block.NamedChildCount()) == 1 {
		patternRoot = block.NamedChild(0)
	}
	return &compiledPattern{source: []byte(wrapped), parsed: wrappedParsed, root: patternRoot}, nil
}

func findWrapperBlock(root *sitter.Node) *sitter.Node {
	fn := root.NamedChild(0)
	if fn == nil {
		return nil
	}
	for i := 0; i < int(fn.ChildCount()); i++ {
		if fn.Child(i).Type() == "block" {
			return fn.Child(i)
		}
	}
	return nil
}

// AstMatch is one AST-pattern match: its byte span plus any bound
// metavariable captures (§4.3 "capture replacement").
type AstMatch struct {
	Span     Span
	Captures map[string]Capture
}

// FindAstPattern matches pattern (with metavariables) against source and
// returns every match's span and captures, optionally filtered to lie
// within the unique function named functionContext (§4.3 "context
// constraint").
func FindAstPattern(source []byte, pattern string, functionContext string) ([]AstMatch, error) {
	cp, err := getCompiledPattern(pattern)
	if err != nil {
		return nil, err
	}

	parsed, err := tsrust.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("locator: parse source: %w", err)
	}
	defer parsed.Close()

	var bound *Span
	if functionContext != "" {
		m, err := FindUnique(source, StructuralTarget{Kind: TargetFunction, Name: functionContext})
		if err != nil {
			return nil, fmt.Errorf("locator: resolve function_context %q: %w", functionContext, err)
		}
		bound = &m.Span
	}

	m := &matcher{patternSource: cp.source, candidateSource: source}

	var matches []AstMatch
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == cp.root.Type() {
			captures := map[string]Capture{}
			if m.matchNode(cp.root, n, captures) {
				span := Span{Start: int(n.StartByte()), End: int(n.EndByte())}
				if bound == nil || (span.Start >= bound.Start && span.End <= bound.End) {
					matches = append(matches, AstMatch{Span: span, Captures: captures})
				}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(parsed.Root())

	return matches, nil
}

// matcher holds the two byte buffers matchNode needs: the rewritten
// pattern's source (to read synthetic metavariable identifiers and literal
// pattern text) and the candidate source being searched.
type matcher struct {
	patternSource   []byte
	candidateSource []byte
}

// matchNode structurally compares a pattern node against a candidate node,
// treating synthetic metavariable identifiers specially and binding
// captures as they're encountered.
func (m *matcher) matchNode(pattern, candidate *sitter.Node, captures map[string]Capture) bool {
	text := pattern.Content(m.patternSource)

	if text == mvAnonIdent {
		return true
	}
	if strings.HasPrefix(text, mvSinglePrefix) {
		name := strings.TrimPrefix(text, mvSinglePrefix)
		return m.bindCapture(captures, name, candidate)
	}

	if pattern.Type() != candidate.Type() {
		return false
	}

	pCount := int(pattern.NamedChildCount())
	cCount := int(candidate.NamedChildCount())

	// Leaf nodes (no named children): compare text directly, since neither
	// side has structure left to recurse into (literals, plain identifiers).
	if pCount == 0 {
		if cCount != 0 {
			return false
		}
		return candidate.Content(m.candidateSource) == text
	}

	pi, ci := 0, 0
	for pi < pCount {
		pChild := pattern.NamedChild(pi)
		pChildText := pChild.Content(m.patternSource)

		if strings.HasPrefix(pChildText, mvVariadicPrefix) {
			name := strings.TrimPrefix(pChildText, mvVariadicPrefix)
			remainingPattern := pCount - pi - 1
			take := cCount - ci - remainingPattern
			if take < 0 {
				return false
			}
			m.bindVariadicCapture(captures, name, candidate, ci, ci+take)
			ci += take
			pi++
			continue
		}

		if ci >= cCount {
			return false
		}
		if !m.matchNode(pChild, candidate.NamedChild(ci), captures) {
			return false
		}
		pi++
		ci++
	}

	return ci == cCount
}

func (m *matcher) bindCapture(captures map[string]Capture, name string, candidate *sitter.Node) bool {
	text := candidate.Content(m.candidateSource)
	if existing, ok := captures[name]; ok {
		return existing.Text == text
	}
	captures[name] = Capture{
		Span: Span{Start: int(candidate.StartByte()), End: int(candidate.EndByte())},
		Text: text,
		Kind: candidate.Type(),
	}
	return true
}

func (m *matcher) bindVariadicCapture(captures map[string]Capture, name string, parent *sitter.Node, fromIdx, toIdx int) {
	if toIdx <= fromIdx {
		captures[name] = Capture{Text: ""}
		return
	}
	start := int(parent.NamedChild(fromIdx).StartByte())
	end := int(parent.NamedChild(toIdx - 1).EndByte())
	captures[name] = Capture{
		Span: Span{Start: start, End: end},
		Text: string(m.candidateSource[start:end]),
		Kind: "variadic",
	}
}
