package urn

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/coreos/go-semver/semver"
)

// ReasonInvalidVersion is reported when either side of a compatibility check
// is not a strict major.minor.patch triple.
const ReasonInvalidVersion = "invalid version format"

var triplePattern = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+$`)

// Compatibility is the outcome of CheckCompatibility.
type Compatibility struct {
	Compatible bool   `json:"compatible"`
	Reason     string `json:"reason,omitempty"`
}

// StripV removes a single leading "v" or "V".
func StripV(version string) string {
	if len(version) > 1 && (version[0] == 'v' || version[0] == 'V') {
		return version[1:]
	}
	return version
}

// ParseVersion parses a strict major.minor.patch triple. A leading "v" is
// accepted here; CheckCompatibility expects callers to strip it first.
func ParseVersion(s string) (*semver.Version, error) {
	s = StripV(strings.TrimSpace(s))
	if !triplePattern.MatchString(s) {
		return nil, fmt.Errorf("%w: version %q", ErrInvalidFormat, s)
	}
	return semver.NewVersion(s)
}

// CompareVersions orders two version strings by (major, minor, patch).
// Unparseable versions sort before every valid one.
func CompareVersions(a, b string) int {
	va, errA := ParseVersion(a)
	vb, errB := ParseVersion(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(*vb)
}

// CheckCompatibility decides whether a consumer built against requested can
// use a manifest at actual.
//
// The rule is asymmetric: majors must match, a requested minor above the
// actual minor is rejected, and within the same minor a requested patch above
// the actual patch is rejected. A requested version at or below actual is
// compatible. "latest" is compatible with anything.
func CheckCompatibility(requested, actual string) Compatibility {
	if requested == Latest {
		return Compatibility{Compatible: true}
	}
	if !triplePattern.MatchString(requested) || !triplePattern.MatchString(actual) {
		return Compatibility{Reason: ReasonInvalidVersion}
	}
	req, err := semver.NewVersion(requested)
	if err != nil {
		return Compatibility{Reason: ReasonInvalidVersion}
	}
	act, err := semver.NewVersion(actual)
	if err != nil {
		return Compatibility{Reason: ReasonInvalidVersion}
	}

	switch {
	case req.Major != act.Major:
		return Compatibility{Reason: fmt.Sprintf("major version mismatch: requested %d, actual %d", req.Major, act.Major)}
	case req.Minor > act.Minor:
		return Compatibility{Reason: fmt.Sprintf("requested minor %d exceeds actual minor %d", req.Minor, act.Minor)}
	case req.Minor == act.Minor && req.Patch > act.Patch:
		return Compatibility{Reason: fmt.Sprintf("requested patch %d exceeds actual patch %d", req.Patch, act.Patch)}
	}
	return Compatibility{Compatible: true}
}
