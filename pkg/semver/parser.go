// Package semver provides protocol reference parsing and SemVer resolution logic.
package semver

import (
	"fmt"
	"regexp"
	"strings"
)

const logPrefix = "semver:parser"

// ProtocolRef holds the parsed components of a protocol reference string.
type ProtocolRef struct {
	// Protocol name (e.g., "booking")
	Name string
	// Version range if specified (e.g., "^1.2.0", "1", ""); empty string means any version
	Range string
	// Raw input string
	Raw string
}

var (
	protocolNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	majorOnlyRegex    = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseProtocolRef parses a protocol reference string.
//
// Supported formats:
//   - booking            (any version)
//   - booking@1          (major only)
//   - booking@1.2.3      (exact version)
//   - booking@^1.2.0     (caret range)
//   - booking@>=1.0.0    (comparison range)
func ParseProtocolRef(input string) (*ProtocolRef, error) {
	raw := strings.TrimSpace(input)
	name, rangeStr, _ := strings.Cut(raw, "@")

	if !ValidateProtocolName(name) {
		return nil, fmt.Errorf("%s - invalid protocol name: %s", logPrefix, raw)
	}
	return &ProtocolRef{Name: name, Range: rangeStr, Raw: raw}, nil
}

// String rebuilds the reference.
func (r *ProtocolRef) String() string {
	if r.Range == "" {
		return r.Name
	}
	return r.Name + "@" + r.Range
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is an exact version (e.g., "3.2.1").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	var major int
	fmt.Sscanf(rangeStr, "%d", &major)
	return major
}

// ValidateProtocolName validates a protocol name (letters, digits, dots, hyphens, underscores).
func ValidateProtocolName(name string) bool {
	return protocolNameRegex.MatchString(name)
}
