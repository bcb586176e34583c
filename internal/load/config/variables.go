package config

import (
	"maps"
	"regexp"
	"slices"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

// Resolve replaces {{name}} placeholders in input with values from vars.
// Placeholders without a value are left in place.
func Resolve(input string, vars map[string]string) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	return placeholder.ReplaceAllStringFunc(input, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// Unresolved returns the sorted names of placeholders in input that have no value in vars.
func Unresolved(input string, vars map[string]string) []string {
	seen := make(map[string]struct{})
	for _, m := range placeholder.FindAllStringSubmatch(input, -1) {
		if _, ok := vars[m[1]]; !ok {
			seen[m[1]] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// MergeVariables merges multiple variable maps in order.
// Later maps override earlier ones.
func MergeVariables(sets ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range sets {
		maps.Copy(result, m)
	}
	return result
}
