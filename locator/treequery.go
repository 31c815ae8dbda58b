package locator

import (
	"fmt"
	"regexp"

	sitter "github.com/smacker/go-tree-sitter"

	"patchctl.dev/locator/tsrust"
)

// TargetKind names a supported declaration kind for the grammar-query
// locator (§4.4).
type TargetKind string

const (
	TargetFunction      TargetKind = "function"
	TargetMethod        TargetKind = "method"
	TargetStruct        TargetKind = "struct"
	TargetEnum          TargetKind = "enum"
	TargetConst         TargetKind = "const"
	TargetConstMatching TargetKind = "const-matching"
	TargetStatic        TargetKind = "static"
	TargetImpl          TargetKind = "impl"
	TargetImplTrait     TargetKind = "impl-trait"
	TargetUse           TargetKind = "use"
)

// StructuralTarget describes what the grammar-query locator should find.
// Exactly the fields relevant to Kind are populated.
type StructuralTarget struct {
	Kind       TargetKind
	Name       string // function/method/struct/enum/const/static/impl name
	MethodName string // TargetMethod: method name within the impl named Name
	Pattern    string // TargetConstMatching, TargetUse: regex
	TraitName  string // TargetImplTrait
}

// QueryMatch is one grammar-query hit.
type QueryMatch struct {
	Span     Span
	Captures map[string]Capture
}

// Capture is one named capture within a QueryMatch.
type Capture struct {
	Span Span
	Text string
	Kind string
}

func rustIdentifierPattern(name string) string {
	return regexp.QuoteMeta(name)
}

// buildQuery compiles target into the S-expression query string the
// original's `ts/query.rs` `queries` module templates, one-for-one
// (function_by_name, method_by_name, struct_by_name, enum_by_name,
// const_by_name, const_matching, static_by_name, impl_by_type,
// impl_trait_for_type, use_declaration).
func buildQuery(t StructuralTarget) (string, error) {
	switch t.Kind {
	case TargetFunction:
		return fmt.Sprintf(`(function_item name: (identifier) @name (#eq? @name "%s")) @function`, t.Name), nil
	case TargetMethod:
		return fmt.Sprintf(`(impl_item type: (_) @type (#match? @type "%s") body: (declaration_list (function_item name: (identifier) @method_name (#eq? @method_name "%s")) @method))`,
			rustIdentifierPattern(t.Name), t.MethodName), nil
	case TargetStruct:
		return fmt.Sprintf(`(struct_item name: (type_identifier) @name (#eq? @name "%s")) @struct`, t.Name), nil
	case TargetEnum:
		return fmt.Sprintf(`(enum_item name: (type_identifier) @name (#eq? @name "%s")) @enum`, t.Name), nil
	case TargetConst:
		return fmt.Sprintf(`(const_item name: (identifier) @name (#eq? @name "%s")) @const`, t.Name), nil
	case TargetConstMatching:
		return fmt.Sprintf(`(const_item name: (identifier) @name (#match? @name "%s")) @const`, t.Pattern), nil
	case TargetStatic:
		return fmt.Sprintf(`(static_item name: (identifier) @name (#eq? @name "%s")) @static`, t.Name), nil
	case TargetImpl:
		return fmt.Sprintf(`(impl_item type: (type_identifier) @type !trait (#eq? @type "%s")) @impl`, t.Name), nil
	case TargetImplTrait:
		return fmt.Sprintf(`(impl_item trait: [(type_identifier) @trait (scoped_type_identifier name: (type_identifier) @trait)] (#eq? @trait "%s") type: (type_identifier) @type (#eq? @type "%s")) @impl`,
			t.TraitName, t.Name), nil
	case TargetUse:
		return fmt.Sprintf(`(use_declaration argument: (_) @path (#match? @path "%s")) @use`, t.Pattern), nil
	default:
		return "", fmt.Errorf("locator: unsupported target kind %q", t.Kind)
	}
}

// Bulk discovery query constants (§12), used by the `list` CLI subcommand
// to surface candidate targets before a patch author writes a query.
const (
	QueryAllFunctions = `(function_item name: (identifier) @name) @function`
	QueryAllStructs   = `(struct_item name: (type_identifier) @name) @struct`
	QueryAllImpls     = `(impl_item type: (_) @type) @impl`
)

// FindAll runs a grammar query against source and returns every match.
func FindAll(source []byte, target StructuralTarget) ([]QueryMatch, error) {
	queryStr, err := buildQuery(target)
	if err != nil {
		return nil, err
	}
	return runQuery(source, queryStr)
}

// FindUnique runs a grammar query and requires exactly one match.
func FindUnique(source []byte, target StructuralTarget) (QueryMatch, error) {
	matches, err := FindAll(source, target)
	if err != nil {
		return QueryMatch{}, err
	}
	switch len(matches) {
	case 0:
		return QueryMatch{}, fmt.Errorf("%w: target %+v", ErrNoMatch, target)
	case 1:
		return matches[0], nil
	default:
		return QueryMatch{}, &ErrAmbiguousMatch{Count: len(matches), Pattern: string(target.Kind) + ":" + target.Name}
	}
}

// RunRawQuery executes an arbitrary tree-sitter S-expression query string
// against source, used by the `list` subcommand's bulk-discovery templates.
func RunRawQuery(source []byte, queryStr string) ([]QueryMatch, error) {
	return runQuery(source, queryStr)
}

// wholeMatchCaptures names the outermost capture each buildQuery template
// tags its whole declaration with (the one trailing `@function`/`@method`/
// etc. outside the node's own field captures). A QueryMatch's Span must
// come from this single node, not the union of every capture in the
// match: a query like TargetMethod's also captures `@type` (the impl's
// type identifier, which appears *before* the method in source) purely to
// constrain which impl block to search, and unioning it into the span
// would make the match start at the impl header instead of the method.
var wholeMatchCaptures = []string{"function", "method", "struct", "enum", "const", "static", "impl", "use"}

func runQuery(source []byte, queryStr string) ([]QueryMatch, error) {
	parsed, err := tsrust.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("locator: parse source: %w", err)
	}
	defer parsed.Close()

	lang := tsrust.Language()
	q, err := sitter.NewQuery([]byte(queryStr), lang)
	if err != nil {
		return nil, fmt.Errorf("locator: invalid query: %w", err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, parsed.Root())

	var results []QueryMatch
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		m = qc.FilterPredicates(m, source)

		captures := make(map[string]Capture)
		start, end := -1, -1
		for _, c := range m.Captures {
			name := q.CaptureNameForId(c.Index)
			node := c.Node
			s, e := int(node.StartByte()), int(node.EndByte())
			captures[name] = Capture{
				Span: Span{Start: s, End: e},
				Text: node.Content(source),
				Kind: node.Type(),
			}
			if start == -1 || s < start {
				start = s
			}
			if e > end {
				end = e
			}
		}
		if start == -1 {
			continue
		}

		span := Span{Start: start, End: end}
		for _, name := range wholeMatchCaptures {
			if c, ok := captures[name]; ok {
				span = c.Span
				break
			}
		}
		results = append(results, QueryMatch{Span: span, Captures: captures})
	}
	return results, nil
}
