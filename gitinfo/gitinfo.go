// Package gitinfo reports the git state of a workspace root, for the
// provenance attributes patchctl attaches to a run (§6) and for the
// optional clean-tree check before apply (§12). It shells out to the git
// binary the same way git_tools.go did, trimmed to the two invocations
// this engine actually needs instead of full diff/show plumbing.
package gitinfo

import (
	"fmt"
	"os/exec"
	"strings"
)

// HeadCommit returns the full commit hash HEAD resolves to in root, or
// "" with no error if root is not inside a git repository. A patch
// applicator that mutates a private fork benefits from recording which
// upstream commit it ran against, even though git itself is optional.
func HeadCommit(root string) (string, error) {
	out, err := run(root, "rev-parse", "HEAD")
	if err != nil {
		if notAGitRepo(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsDirty reports whether root's working tree has uncommitted changes
// (tracked modifications or staged changes; untracked files are not
// considered, matching `git status --porcelain` semantics restricted to
// tracked paths). Returns false, nil if root is not a git repository.
func IsDirty(root string) (bool, error) {
	out, err := run(root, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		if notAGitRepo(err) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func run(root string, args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", root}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func notAGitRepo(err error) bool {
	return strings.Contains(err.Error(), "not a git repository")
}
