package policy

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// CompareVersions orders two policy version strings using semver
// precedence. Non-semver strings sort lexicographically after any valid
// semver string, so a misconfigured version never panics a comparison.
func CompareVersions(a, b string) int {
	va, aErr := semver.NewVersion(a)
	vb, bErr := semver.NewVersion(b)
	switch {
	case aErr == nil && bErr == nil:
		return va.Compare(vb)
	case aErr == nil:
		return 1
	case bErr == nil:
		return -1
	default:
		if a == b {
			return 0
		}
		if a < b {
			return -1
		}
		return 1
	}
}

// SortVersionsDescending orders version strings from newest to oldest.
func SortVersionsDescending(versions []string) {
	sort.Slice(versions, func(i, j int) bool {
		return CompareVersions(versions[i], versions[j]) > 0
	})
}

// NearestPriorVersion returns the highest version strictly less than
// current, or ok=false when none exists — the case the orchestrator
// surfaces as VERSION_NOT_FOUND during a rollback.
func NearestPriorVersion(current string, candidates []string) (version string, ok bool) {
	best := ""
	found := false
	for _, v := range candidates {
		if CompareVersions(v, current) < 0 {
			if !found || CompareVersions(v, best) > 0 {
				best = v
				found = true
			}
		}
	}
	return best, found
}
