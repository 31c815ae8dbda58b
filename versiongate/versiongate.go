// Package versiongate evaluates a semver constraint against a workspace
// version, with a relaxed rule for pre-release ordering across minor
// version boundaries (§4.6).
package versiongate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// base is a (major, minor, patch) tuple used for the domination check.
type base struct {
	major, minor, patch uint64
}

func (b base) less(o base) bool {
	if b.major != o.major {
		return b.major < o.major
	}
	if b.minor != o.minor {
		return b.minor < o.minor
	}
	return b.patch < o.patch
}

// comparatorVersion extracts the version operand from one comparator in a
// constraint string, e.g. ">=0.99.0-alpha.10" -> "0.99.0-alpha.10".
var comparatorVersion = regexp.MustCompile(`(?:>=|<=|>|<|=|~|\^)?\s*v?(\d+\.\d+\.\d+[^\s,]*)`)

// comparatorBases parses every comma-separated comparator in constraint and
// returns each one's (major, minor, patch) base. Masterminds/semver/v3 does
// not expose parsed comparators publicly, so this is a light hand-rolled
// extraction tailored to the operator-prefixed, comma-joined constraint
// grammar that constraint is restricted to.
func comparatorBases(constraint string) ([]base, error) {
	parts := strings.Split(constraint, ",")
	bases := make([]base, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		m := comparatorVersion.FindStringSubmatch(p)
		if m == nil {
			return nil, fmt.Errorf("versiongate: cannot extract version from comparator %q", p)
		}
		verPart := m[1]
		// Strip any pre-release/build metadata suffix to isolate major.minor.patch.
		core := verPart
		if i := strings.IndexAny(core, "-+"); i >= 0 {
			core = core[:i]
		}
		nums := strings.SplitN(core, ".", 3)
		if len(nums) != 3 {
			return nil, fmt.Errorf("versiongate: malformed version %q in comparator %q", verPart, p)
		}
		b, err := parseBase(nums)
		if err != nil {
			return nil, fmt.Errorf("versiongate: comparator %q: %w", p, err)
		}
		bases = append(bases, b)
	}
	return bases, nil
}

func parseBase(nums []string) (base, error) {
	vals := make([]uint64, 3)
	for i, n := range nums {
		v, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			return base{}, err
		}
		vals[i] = v
	}
	return base{major: vals[0], minor: vals[1], patch: vals[2]}, nil
}

// Matches reports whether version satisfies constraint. An empty constraint
// always matches (§8 property 7: matches("0.88.0", None) is true).
//
// Relaxation: if version is a pre-release and its stable base strictly
// dominates every comparator's base, retry the match against the stripped
// base version. Domination authorizes a retry, not a guaranteed pass — a
// tight upper-bound comparator can still reject the stripped version.
func Matches(version, constraint string) (bool, error) {
	if strings.TrimSpace(constraint) == "" {
		return true, nil
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("versiongate: parse version %q: %w", version, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("versiongate: parse constraint %q: %w", constraint, err)
	}

	if c.Check(v) {
		return true, nil
	}

	if v.Prerelease() == "" {
		return false, nil
	}

	bases, err := comparatorBases(constraint)
	if err != nil {
		// Can't compute dominance without understanding every comparator;
		// fall back to the strict result rather than guessing.
		return false, nil
	}
	vb := base{major: v.Major(), minor: v.Minor(), patch: v.Patch()}
	for _, cb := range bases {
		if !cb.less(vb) {
			return false, nil
		}
	}

	stripped, err := semver.NewVersion(fmt.Sprintf("%d.%d.%d", vb.major, vb.minor, vb.patch))
	if err != nil {
		return false, nil
	}
	return c.Check(stripped), nil
}
