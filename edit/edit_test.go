package edit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cespare/xxhash/v2"
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

func TestApplyBasic(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "test.rs", "fn main() { let x = 1; }")

	e := New(path, 12, 22, "let y = 2;", "let x = 1;")
	res, err := e.Apply()
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Applied {
		t.Fatalf("expected Applied, got AlreadyApplied")
	}
	if got := readFile(t, path); got != "fn main() { let y = 2; }" {
		t.Fatalf("content = %q", got)
	}
}

func TestApplyIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "test.rs", "fn main() { let y = 2; }")

	e := New(path, 12, 22, "let y = 2;", "let y = 2;")
	res, err := e.Apply()
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Applied {
		t.Fatalf("expected AlreadyApplied")
	}
	if got := readFile(t, path); got != "fn main() { let y = 2; }" {
		t.Fatalf("content changed: %q", got)
	}
}

func TestApplyPreImageMismatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "test.rs", "fn main() { let x = 1; }")

	e := New(path, 12, 22, "let y = 2;", "let z = 9;")
	_, err := e.Apply()
	if !errors.Is(err, ErrPreImageMismatch) {
		t.Fatalf("err = %v, want ErrPreImageMismatch", err)
	}
	if got := readFile(t, path); got != "fn main() { let x = 1; }" {
		t.Fatalf("file was modified despite mismatch: %q", got)
	}
}

func TestApplyInvalidRange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "test.rs", "short")

	e := New(path, 3, 100, "x", "ort")
	_, err := e.Apply()
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("err = %v, want ErrInvalidRange", err)
	}
}

func TestApplyHashVerification(t *testing.T) {
	dir := t.TempDir()
	long := strings.Repeat("a", 2000)
	path := writeFile(t, dir, "big.rs", "fn f() { "+long+" }")

	e := New(path, 9, 9+len(long), "short", long)
	res, err := e.Apply()
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Applied {
		t.Fatalf("expected Applied")
	}
	if got := readFile(t, path); got != "fn f() { short }" {
		t.Fatalf("content = %q", got)
	}
}

func TestParseHashHex(t *testing.T) {
	got, err := ParseHashHex("0xdeadbeef")
	if err != nil {
		t.Fatalf("ParseHashHex: %v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("got %x, want deadbeef", got)
	}

	if _, err := ParseHashHex("deadbeef"); err != nil {
		t.Fatalf("ParseHashHex without 0x prefix: %v", err)
	}

	if _, err := ParseHashHex("not-hex"); err == nil {
		t.Fatal("expected error for non-hex input")
	}
}

func TestVerifyHashValueMatchesSameHash(t *testing.T) {
	v := VerifyHashValue(xxhash.Sum64String("hello"))
	if !v.Matches("hello") {
		t.Fatal("expected VerifyHashValue to match the text it was derived from")
	}
	if v.Matches("goodbye") {
		t.Fatal("expected VerifyHashValue to reject different text")
	}
}

func TestApplyBatchDescendingOrder(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "test.rs", "aaa bbb ccc")

	edits := []Edit{
		New(path, 0, 3, "AAA", "aaa"),
		New(path, 8, 11, "CCC", "ccc"),
		New(path, 4, 7, "BBB", "bbb"),
	}
	results, err := ApplyBatch(path, edits)
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if !r.Applied {
			t.Fatalf("result %d not applied", i)
		}
	}
	if got := readFile(t, path); got != "AAA BBB CCC" {
		t.Fatalf("content = %q", got)
	}
}

func TestApplyBatchOverlapRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "test.rs", "aaa bbb ccc")

	edits := []Edit{
		New(path, 0, 5, "X", "aaa b"),
		New(path, 4, 7, "BBB", "bbb"),
	}
	_, err := ApplyBatch(path, edits)
	if !errors.Is(err, ErrOverlap) {
		t.Fatalf("err = %v, want ErrOverlap", err)
	}
	if got := readFile(t, path); got != "aaa bbb ccc" {
		t.Fatalf("file was modified despite overlap: %q", got)
	}
}

func TestApplyBatchResultOrderMatchesInput(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "test.rs", "aaa bbb ccc")

	// Input order deliberately not sorted by ByteStart.
	edits := []Edit{
		New(path, 8, 11, "CCC", "ccc"),
		New(path, 0, 3, "AAA", "aaa"),
		New(path, 4, 7, "BBB", "bbb"),
	}
	results, err := ApplyBatch(path, edits)
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	for i, r := range results {
		if !r.Applied {
			t.Fatalf("result %d (input order) not applied: %+v", i, r)
		}
	}
}

func TestApplyAllGroupsByFileAndPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	pathA := writeFile(t, dir, "a.rs", "aaa")
	pathB := writeFile(t, dir, "b.rs", "bbb")

	edits := []Edit{
		New(pathB, 0, 3, "BBB", "bbb"),
		New(pathA, 0, 3, "AAA", "aaa"),
	}
	results, err := ApplyAll(edits)
	if err != nil {
		t.Fatalf("ApplyAll: %v", err)
	}
	if len(results) != 2 || !results[0].Applied || !results[1].Applied {
		t.Fatalf("results = %+v", results)
	}
	if got := readFile(t, pathA); got != "AAA" {
		t.Fatalf("a.rs = %q", got)
	}
	if got := readFile(t, pathB); got != "BBB" {
		t.Fatalf("b.rs = %q", got)
	}
}
