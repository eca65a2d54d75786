// Package firmware parses and orders device firmware version strings
// (C11) and queries release metadata feeds for available updates (C13).
package firmware

import (
	"regexp"
	"strconv"
	"strings"
)

// Version is a parsed semver-with-pre-release firmware version (§4.11).
type Version struct {
	Major int
	Minor int
	Patch int
	Label string // lowercased; empty for a release build
	Num   int
}

// IsRelease reports whether v carries no pre-release label.
func (v Version) IsRelease() bool {
	return v.Label == ""
}

var versionPattern = regexp.MustCompile(
	`^(\d+)(?:\.(\d+)(?:\.(\d+))?)?([A-Za-z]+)?(\d+)?$`)

// labelRank orders pre-release labels per §4.11: release > rc > beta ≈ b >
// alpha ≈ a ≈ pre ≈ preview ≈ dev.
func labelRank(label string) int {
	switch label {
	case "":
		return 3
	case "rc":
		return 2
	case "beta", "b":
		return 1
	case "alpha", "a", "pre", "preview", "dev":
		return 0
	default:
		return 0
	}
}

// Parse implements `parse(s) -> Option<Version>` from §4.11: trim, strip a
// leading v/V, match MAJOR(.MINOR(.PATCH)?)?(LABEL NUM?)?. Reports ok=false
// for anything that doesn't match the grammar.
func Parse(s string) (Version, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "v")
	s = strings.TrimPrefix(s, "V")
	if s == "" {
		return Version{}, false
	}

	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, false
	}

	major, err := strconv.Atoi(m[1])
	if err != nil {
		return Version{}, false
	}
	v := Version{Major: major}
	if m[2] != "" {
		v.Minor, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		v.Patch, _ = strconv.Atoi(m[3])
	}
	if m[4] != "" {
		v.Label = strings.ToLower(m[4])
	}
	if m[5] != "" {
		v.Num, _ = strconv.Atoi(m[5])
	}
	return v, true
}

// Less reports whether a orders strictly before b per §4.11's total order:
// (major, minor, patch) lexicographically, then label rank, then Num.
func Less(a, b Version) bool {
	if a.Major != b.Major {
		return a.Major < b.Major
	}
	if a.Minor != b.Minor {
		return a.Minor < b.Minor
	}
	if a.Patch != b.Patch {
		return a.Patch < b.Patch
	}
	ra, rb := labelRank(a.Label), labelRank(b.Label)
	if ra != rb {
		return ra < rb
	}
	return a.Num < b.Num
}

// Compare implements `compare(a, b)` for raw strings (§4.11): an
// unparseable string sorts strictly before any parseable one, and two
// unparseable strings compare equal. Returns -1, 0, or 1.
func Compare(a, b string) int {
	va, aok := Parse(a)
	vb, bok := Parse(b)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	case Less(va, vb):
		return -1
	case Less(vb, va):
		return 1
	default:
		return 0
	}
}

// Max returns the greatest of versions by Less, and reports ok=false if
// versions is empty.
func Max(versions []Version) (Version, bool) {
	if len(versions) == 0 {
		return Version{}, false
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if Less(best, v) {
			best = v
		}
	}
	return best, true
}
