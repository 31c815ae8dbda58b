// Package edit implements the verified, atomic, idempotent byte-span
// replacement primitive that every structural locator ultimately produces.
package edit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// verifyInline is the byte threshold under which a pre-image is stored
// verbatim for verification rather than as a hash.
const verifyInline = 1024

// ErrPreImageMismatch indicates the bytes currently on disk at an edit's
// byte range don't match what the edit expected.
var ErrPreImageMismatch = errors.New("edit: pre-image mismatch")

// ErrInvalidRange indicates byte_start/byte_end are out of bounds.
var ErrInvalidRange = errors.New("edit: invalid byte range")

// ErrInvalidUTF8 indicates a slice that was supposed to be valid UTF-8
// (either the extracted pre-image or the spliced result) was not.
var ErrInvalidUTF8 = errors.New("edit: invalid utf-8")

// ErrOverlap indicates two edits in the same batch touch overlapping bytes.
var ErrOverlap = errors.New("edit: overlapping edits in batch")

// Verification is the pre-image expectation stored on an Edit: either the
// literal text (for small pre-images) or its 64-bit hash.
type Verification struct {
	exact   string
	hash    uint64
	isExact bool
}

// VerifyExact builds a Verification that stores the pre-image verbatim.
func VerifyExact(text string) Verification {
	return Verification{exact: text, isExact: true}
}

// VerifyHash builds a Verification that stores only the pre-image's hash.
func VerifyHash(text string) Verification {
	return Verification{hash: xxhash.Sum64String(text), isExact: false}
}

// VerifyHashValue builds a Verification from an already-computed hash, for
// callers that parsed the hash from a config file rather than hashing a
// text they have in hand (§3 "verify" clause, hash method).
func VerifyHashValue(hash uint64) Verification {
	return Verification{hash: hash, isExact: false}
}

// ParseHashHex parses a hex-encoded pre-image hash, tolerating an optional
// "0x" prefix, for the §3 verify clause's hash method.
func ParseHashHex(s string) (uint64, error) {
	hash, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("edit: invalid hash value %q: %w", s, err)
	}
	return hash, nil
}

// FromText builds the appropriate Verification for text, choosing exact
// storage under the 1024-byte inline threshold and a hash above it.
func FromText(text string) Verification {
	if len(text) <= verifyInline {
		return VerifyExact(text)
	}
	return VerifyHash(text)
}

// Matches reports whether text satisfies this verification.
func (v Verification) Matches(text string) bool {
	if v.isExact {
		return v.exact == text
	}
	return xxhash.Sum64String(text) == v.hash
}

func (v Verification) String() string {
	if v.isExact {
		return fmt.Sprintf("%q", v.exact)
	}
	return fmt.Sprintf("hash:%x", v.hash)
}

// PreImageMismatchError carries both sides of a failed verification for
// diagnosis.
type PreImageMismatchError struct {
	File      string
	ByteStart int
	ByteEnd   int
	Expected  Verification
	Found     string
}

func (e *PreImageMismatchError) Error() string {
	return fmt.Sprintf("%s:%d-%d: pre-image mismatch: expected %s, found %q", e.File, e.ByteStart, e.ByteEnd, e.Expected, e.Found)
}

func (e *PreImageMismatchError) Unwrap() error { return ErrPreImageMismatch }

// Edit is the universal byte-span replacement primitive.
type Edit struct {
	File           string
	ByteStart      int
	ByteEnd        int
	NewText        string
	ExpectedBefore Verification
}

// New builds an Edit whose pre-image verification is derived automatically
// from expectedBefore's length (§4.1 policy).
func New(file string, byteStart, byteEnd int, newText, expectedBefore string) Edit {
	return Edit{
		File:           file,
		ByteStart:      byteStart,
		ByteEnd:        byteEnd,
		NewText:        newText,
		ExpectedBefore: FromText(expectedBefore),
	}
}

// NewVerified builds an Edit with an explicit Verification, bypassing the
// length-based exact/hash choice (used when a locator already computed one,
// e.g. a caller-supplied §3 verify clause).
func NewVerified(file string, byteStart, byteEnd int, newText string, v Verification) Edit {
	return Edit{File: file, ByteStart: byteStart, ByteEnd: byteEnd, NewText: newText, ExpectedBefore: v}
}

// Result is the outcome of applying one Edit.
type Result struct {
	File         string
	Applied      bool
	BytesChanged int
}

// Apply performs the full single-edit contract against disk: read, range
// check, idempotency check, pre-image verification, splice, atomic write,
// mtime bump.
func (e Edit) Apply() (Result, error) {
	content, err := os.ReadFile(e.File)
	if err != nil {
		return Result{}, fmt.Errorf("edit: read %s: %w", e.File, err)
	}
	return e.applyToBytes(content)
}

func (e Edit) applyToBytes(content []byte) (Result, error) {
	result, newContent, err := e.ApplyInMemory(content)
	if err != nil {
		return Result{}, err
	}
	if !result.Applied {
		return result, nil
	}
	if err := atomicWrite(e.File, newContent); err != nil {
		return Result{}, err
	}
	return result, nil
}

// ApplyInMemory performs the same range check, idempotency short-circuit,
// pre-image verification, and splice as Apply, but returns the spliced
// buffer instead of writing it to disk. Used wherever edits against the
// same file must be sequenced in memory before (or instead of) a single
// disk write, e.g. the applicator's per-patch TOML pipeline (§4.7).
func (e Edit) ApplyInMemory(content []byte) (Result, []byte, error) {
	if e.ByteStart > e.ByteEnd || e.ByteEnd > len(content) || e.ByteStart < 0 {
		return Result{}, nil, fmt.Errorf("%w: %s [%d:%d) len=%d", ErrInvalidRange, e.File, e.ByteStart, e.ByteEnd, len(content))
	}

	current := content[e.ByteStart:e.ByteEnd]
	if !utf8.Valid(current) {
		return Result{}, nil, fmt.Errorf("%w: %s [%d:%d) pre-image", ErrInvalidUTF8, e.File, e.ByteStart, e.ByteEnd)
	}
	currentText := string(current)

	if currentText == e.NewText {
		return Result{File: e.File, Applied: false}, content, nil
	}

	if !e.ExpectedBefore.Matches(currentText) {
		return Result{}, nil, &PreImageMismatchError{
			File:      e.File,
			ByteStart: e.ByteStart,
			ByteEnd:   e.ByteEnd,
			Expected:  e.ExpectedBefore,
			Found:     currentText,
		}
	}

	newContent := make([]byte, 0, len(content)-len(current)+len(e.NewText))
	newContent = append(newContent, content[:e.ByteStart]...)
	newContent = append(newContent, e.NewText...)
	newContent = append(newContent, content[e.ByteEnd:]...)

	if !utf8.Valid(newContent) {
		return Result{}, nil, fmt.Errorf("%w: %s post-splice", ErrInvalidUTF8, e.File)
	}

	return Result{File: e.File, Applied: true, BytesChanged: len(newContent) - len(content)}, newContent, nil
}

// atomicWrite writes content to path via a same-directory temp file, fsync,
// and rename, then bumps the file's mtime so downstream incremental build
// caches treat it as changed.
func atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("edit: create temp file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("edit: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("edit: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("edit: close temp file: %w", err)
	}
	if info, err := os.Stat(path); err == nil {
		os.Chmod(tmp, info.Mode())
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("edit: rename temp file into place: %w", err)
	}

	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("edit: update mtime: %w", err)
	}
	return nil
}

// ApplyBatch applies multiple edits against a single file atomically.
// Partitioning by file is the caller's responsibility (all edits here must
// share File); ApplyBatch sorts descending by ByteStart, rejects overlaps,
// splices them all into one in-memory copy, and performs one atomic write.
// Results are returned in the same order as the input slice.
func ApplyBatch(file string, edits []Edit) ([]Result, error) {
	results, buf, anyApplied, err := computeBatch(file, edits)
	if err != nil {
		return nil, err
	}
	if !anyApplied {
		return results, nil
	}
	if err := atomicWrite(file, buf); err != nil {
		return nil, err
	}
	return results, nil
}

// PreviewBatch runs the same validation and splicing ApplyBatch does but
// never writes to disk, for status/verify read-only evaluation. It returns
// the would-be post-image alongside the per-edit results.
func PreviewBatch(file string, edits []Edit) ([]Result, []byte, error) {
	results, buf, _, err := computeBatch(file, edits)
	return results, buf, err
}

// computeBatch holds the logic shared by ApplyBatch and PreviewBatch: read,
// sort descending by ByteStart, reject overlaps, splice into one buffer.
func computeBatch(file string, edits []Edit) ([]Result, []byte, bool, error) {
	if len(edits) == 0 {
		return nil, nil, false, nil
	}

	content, err := os.ReadFile(file)
	if err != nil {
		return nil, nil, false, fmt.Errorf("edit: read %s: %w", file, err)
	}

	// Preserve a mapping back to original order.
	type indexed struct {
		idx int
		e   Edit
	}
	ordered := make([]indexed, len(edits))
	for i, e := range edits {
		ordered[i] = indexed{idx: i, e: e}
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].e.ByteStart > ordered[j].e.ByteStart
	})

	for i := 1; i < len(ordered); i++ {
		earlier := ordered[i-1].e // larger ByteStart, applied first
		later := ordered[i].e
		if later.ByteEnd > earlier.ByteStart {
			return nil, nil, false, fmt.Errorf("%w: %s [%d:%d) overlaps [%d:%d)", ErrOverlap, file, later.ByteStart, later.ByteEnd, earlier.ByteStart, earlier.ByteEnd)
		}
	}

	results := make([]Result, len(edits))
	buf := content
	anyApplied := false
	for _, item := range ordered {
		e := item.e
		if e.ByteStart > e.ByteEnd || e.ByteEnd > len(buf) || e.ByteStart < 0 {
			return nil, nil, false, fmt.Errorf("%w: %s [%d:%d) len=%d", ErrInvalidRange, file, e.ByteStart, e.ByteEnd, len(buf))
		}
		current := buf[e.ByteStart:e.ByteEnd]
		if !utf8.Valid(current) {
			return nil, nil, false, fmt.Errorf("%w: %s [%d:%d) pre-image", ErrInvalidUTF8, file, e.ByteStart, e.ByteEnd)
		}
		currentText := string(current)

		if currentText == e.NewText {
			results[item.idx] = Result{File: file, Applied: false}
			continue
		}
		if !e.ExpectedBefore.Matches(currentText) {
			return nil, nil, false, &PreImageMismatchError{
				File: file, ByteStart: e.ByteStart, ByteEnd: e.ByteEnd,
				Expected: e.ExpectedBefore, Found: currentText,
			}
		}

		next := make([]byte, 0, len(buf)-len(current)+len(e.NewText))
		next = append(next, buf[:e.ByteStart]...)
		next = append(next, e.NewText...)
		next = append(next, buf[e.ByteEnd:]...)
		if !utf8.Valid(next) {
			return nil, nil, false, fmt.Errorf("%w: %s post-splice", ErrInvalidUTF8, file)
		}

		results[item.idx] = Result{File: file, Applied: true, BytesChanged: len(next) - len(buf)}
		buf = next
		anyApplied = true
	}

	return results, buf, anyApplied, nil
}
