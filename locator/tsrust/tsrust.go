// Package tsrust wraps the tree-sitter Rust grammar binding with the
// pooled-parser and parse-error-collection helpers shared by the
// AST-pattern locator (§4.3), the grammar-query locator (§4.4), and the
// post-edit validator (§4.8).
package tsrust

import (
	"context"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
)

var parserPool = sync.Pool{
	New: func() any {
		p := sitter.NewParser()
		p.SetLanguage(rust.GetLanguage())
		return p
	},
}

// Language returns the tree-sitter Rust grammar, for callers (e.g. query
// compilation) that need it directly rather than through a pooled parser.
func Language() *sitter.Language {
	return rust.GetLanguage()
}

// WithParser runs fn with a pooled *sitter.Parser, returning it to the pool
// afterward. This realizes §5's thread-local parser pool as a goroutine-safe
// sync.Pool, since nothing in the spec requires single-goroutine execution
// (§9: correctness must not depend on cache state, cold or warm).
func WithParser[T any](fn func(*sitter.Parser) (T, error)) (T, error) {
	p := parserPool.Get().(*sitter.Parser)
	defer parserPool.Put(p)
	return fn(p)
}

// Parsed is a parsed Rust source buffer together with the tree-sitter tree
// that produced it.
type Parsed struct {
	Source []byte
	Tree   *sitter.Tree
}

// Root returns the tree's root node.
func (p *Parsed) Root() *sitter.Node {
	return p.Tree.RootNode()
}

// Close releases the underlying tree-sitter tree.
func (p *Parsed) Close() {
	if p.Tree != nil {
		p.Tree.Close()
	}
}

// Parse parses source using a pooled parser and returns a Parsed buffer.
// Callers must call Close when done with the result.
func Parse(source []byte) (*Parsed, error) {
	return WithParser(func(p *sitter.Parser) (*Parsed, error) {
		tree, err := p.ParseCtx(context.Background(), nil, source)
		if err != nil {
			return nil, err
		}
		return &Parsed{Source: source, Tree: tree}, nil
	})
}

// NodeText returns the source text spanned by node.
func NodeText(node *sitter.Node, source []byte) string {
	return node.Content(source)
}

// ErrorPosition is a byte range where tree-sitter reports a parse error or a
// missing node (grounded on validate.rs's collect_error_positions).
type ErrorPosition struct {
	ByteStart, ByteEnd int
}

// CollectErrorPositions walks the parsed tree and returns every ERROR or
// MISSING node's byte range.
func CollectErrorPositions(root *sitter.Node) []ErrorPosition {
	var out []ErrorPosition
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if !n.HasError() {
			return
		}
		if n.IsError() || n.IsMissing() {
			out = append(out, ErrorPosition{ByteStart: int(n.StartByte()), ByteEnd: int(n.EndByte())})
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return out
}
