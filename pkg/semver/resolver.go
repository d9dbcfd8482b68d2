package semver

import (
	"fmt"
	"sort"

	masterminds "github.com/Masterminds/semver/v3"
)

const resolverLogPrefix = "semver:resolver"

// Normalize validates version and returns its canonical form.
func Normalize(version string) (string, error) {
	sv, err := masterminds.StrictNewVersion(version)
	if err != nil {
		return "", fmt.Errorf("%s - invalid version %q: %w", resolverLogPrefix, version, err)
	}
	return sv.String(), nil
}

// SatisfiesRange checks if a version string satisfies a range. An empty range matches
// every valid version.
func SatisfiesRange(version, rangeStr string) bool {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}
	if rangeStr == "" {
		return true
	}
	if IsMajorOnly(rangeStr) {
		return int(sv.Major()) == ExtractMajorFromRange(rangeStr)
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}

// ResolveVersion returns the highest version satisfying rangeStr, preferring stable
// releases over prereleases. It reports false when nothing matches.
func ResolveVersion(versions []string, rangeStr string) (string, bool) {
	var stable, pre []*masterminds.Version
	for _, v := range versions {
		if !SatisfiesRange(v, rangeStr) {
			continue
		}
		sv, _ := masterminds.NewVersion(v)
		if sv.Prerelease() == "" {
			stable = append(stable, sv)
		} else {
			pre = append(pre, sv)
		}
	}
	candidates := stable
	if len(candidates) == 0 {
		candidates = pre
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Sort(sort.Reverse(masterminds.Collection(candidates)))
	return candidates[0].Original(), true
}
