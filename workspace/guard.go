// Package workspace bounds where the patch engine is allowed to write.
//
// A Guard canonicalizes the workspace root once at construction and rejects
// any path that, after resolving symlinks, falls outside the root or inside
// a forbidden prefix (build output, dependency caches, toolchain installs).
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace is returned when a path canonicalizes to somewhere
// outside the workspace root.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

// ErrForbiddenPath is returned when a path canonicalizes into a forbidden
// prefix even though it is nominally under the workspace root.
var ErrForbiddenPath = errors.New("path is under a forbidden prefix")

// Guard is a precomputed containment policy for one workspace root.
type Guard struct {
	root      string
	forbidden []string
}

// New canonicalizes root and builds the default forbidden-prefix list:
// the workspace's own build-output directory plus any dependency-cache or
// toolchain-install directories under the user's home that actually exist.
// Candidates that don't canonicalize (don't exist) are silently skipped,
// mirroring the upstream guard's probing of ~/.cargo and ~/.rustup.
func New(root string) (*Guard, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root %q: %w", root, err)
	}
	canonRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, fmt.Errorf("workspace: canonicalize root %q: %w", root, err)
	}

	var forbidden []string
	candidates := []string{filepath.Join(canonRoot, "target")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".cargo", "registry"),
			filepath.Join(home, ".cargo", "git"),
			filepath.Join(home, ".rustup"),
		)
	}
	for _, c := range candidates {
		if canon, err := filepath.EvalSymlinks(c); err == nil {
			forbidden = append(forbidden, canon)
		}
	}

	return &Guard{root: canonRoot, forbidden: forbidden}, nil
}

// WithForbidden builds a Guard with an explicit forbidden-prefix list,
// bypassing the home-directory probing in New. Intended for tests.
func WithForbidden(root string, forbidden []string) (*Guard, error) {
	canonRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: canonicalize root %q: %w", root, err)
	}
	out := make([]string, 0, len(forbidden))
	for _, f := range forbidden {
		canon, err := filepath.EvalSymlinks(f)
		if err != nil {
			continue
		}
		out = append(out, canon)
	}
	return &Guard{root: canonRoot, forbidden: out}, nil
}

// Root returns the canonicalized workspace root.
func (g *Guard) Root() string {
	return g.root
}

// Validate resolves path (relative paths are joined to the workspace root)
// and checks containment. It returns the canonical absolute path on success.
func (g *Guard) Validate(path string) (string, error) {
	var candidate string
	if filepath.IsAbs(path) {
		candidate = path
	} else {
		candidate = filepath.Join(g.root, path)
	}
	return g.checkCanonical(candidate)
}

// Revalidate re-resolves an already-canonical path immediately before a
// write, narrowing the time-of-check/time-of-use window against a symlink
// swapped in between Validate and the actual write.
func (g *Guard) Revalidate(canonicalPath string) error {
	_, err := g.checkCanonical(canonicalPath)
	return err
}

func (g *Guard) checkCanonical(path string) (string, error) {
	canon, err := filepath.EvalSymlinks(path)
	if err != nil {
		// The target file, or some of its parent directories, may not exist
		// yet; canonicalize the nearest existing ancestor and re-join the
		// remaining components, which still defeats a symlink-escape on any
		// existing ancestor.
		dir, rest := filepath.Clean(path), ""
		for {
			parent := filepath.Dir(dir)
			rest = filepath.Join(filepath.Base(dir), rest)
			if parent == dir {
				return "", fmt.Errorf("workspace: canonicalize %q: %w", path, err)
			}
			if canonDir, dirErr := filepath.EvalSymlinks(parent); dirErr == nil {
				canon = filepath.Join(canonDir, rest)
				break
			}
			dir = parent
		}
	}

	if canon != g.root && !strings.HasPrefix(canon, g.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, canon)
	}
	for _, f := range g.forbidden {
		if canon == f || strings.HasPrefix(canon, f+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s", ErrForbiddenPath, canon)
		}
	}
	return canon, nil
}
