package tsrust

import (
	"context"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
)

func TestParseRoundTrip(t *testing.T) {
	src := []byte("fn add(a: i32, b: i32) -> i32 { a + b }")
	p, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer p.Close()

	root := p.Root()
	if root.Type() != "source_file" {
		t.Fatalf("root type = %q", root.Type())
	}
	if root.HasError() {
		t.Fatalf("unexpected parse error in well-formed source")
	}
}

func TestCollectErrorPositionsCleanSource(t *testing.T) {
	src := []byte("fn main() {}")
	p, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer p.Close()

	errs := CollectErrorPositions(p.Root())
	if len(errs) != 0 {
		t.Fatalf("got %d error positions for clean source: %v", len(errs), errs)
	}
}

func TestCollectErrorPositionsBrokenSource(t *testing.T) {
	src := []byte("fn main( {{{ broken")
	p, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer p.Close()

	errs := CollectErrorPositions(p.Root())
	if len(errs) == 0 {
		t.Fatal("expected at least one error position in malformed source")
	}
}

func TestLanguageReturnsGrammar(t *testing.T) {
	if Language() == nil {
		t.Fatal("Language() returned nil")
	}
}

func TestWithParserRunsAgainstPooledParser(t *testing.T) {
	count, err := WithParser(func(p *sitter.Parser) (int, error) {
		tree, err := p.ParseCtx(context.Background(), nil, []byte("const X: i32 = 1;"))
		if err != nil {
			return 0, err
		}
		defer tree.Close()
		return int(tree.RootNode().NamedChildCount()), nil
	})
	if err != nil {
		t.Fatalf("WithParser: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d named children, want 1", count)
	}
}
