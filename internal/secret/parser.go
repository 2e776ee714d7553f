package secret

import (
	"fmt"
	"regexp"
	"strings"
)

var refPattern = regexp.MustCompile(`\$\{([^:}]+):([^}]+)\}`)

// ParseRef parses a string holding exactly one reference
func ParseRef(input string) (Ref, error) {
	m := refPattern.FindStringSubmatch(input)
	if len(m) != 3 || m[0] != strings.TrimSpace(input) {
		return Ref{}, fmt.Errorf("invalid secret reference format: %s", input)
	}
	return Ref{
		Type:     strings.TrimSpace(m[1]),
		Name:     strings.TrimSpace(m[2]),
		Original: m[0],
	}, nil
}

// IsRef reports whether input contains at least one reference
func IsRef(input string) bool {
	return refPattern.MatchString(input)
}

// FindRefs returns every reference embedded in input, in order of appearance
func FindRefs(input string) []Ref {
	matches := refPattern.FindAllStringSubmatch(input, -1)
	refs := make([]Ref, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, Ref{
			Type:     strings.TrimSpace(m[1]),
			Name:     strings.TrimSpace(m[2]),
			Original: m[0],
		})
	}
	return refs
}

// Mask hides a secret value for display
func Mask(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "****" + value[len(value)-2:]
}
