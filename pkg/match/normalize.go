// Package match selects source files by doublestar glob patterns over
// project-relative paths.
package match

import (
	"strings"
)

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// NormalizePattern converts a user-provided glob pattern to canonical form.
//
// A backslash before a glob metacharacter (\*, \?, \[ ...) is always an
// escape and is preserved. Any other backslash becomes a forward slash, so a
// separator in front of a wildcard must be written as '/'. A leading "./" is
// dropped since paths are matched relative to the project root.
//
//	"src\gen\a.cpp"  → "src/gen/a.cpp"
//	"src\lib/**"     → "src/lib/**"
//	"gen/file\*.cc"  → "gen/file\*.cc"
//	"./src/**"       → "src/**"
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\\' {
			if i+1 < len(runes) && strings.ContainsRune(globEscapable, runes[i+1]) {
				result.WriteRune('\\')
				result.WriteRune(runes[i+1])
				i++
				continue
			}
			result.WriteRune('/')
			continue
		}
		result.WriteRune(r)
	}

	return strings.TrimPrefix(result.String(), "./")
}

// IsHidden reports whether any '/'-separated segment of path starts with a
// dot. "." and ".." are not hidden.
//
//	"src/a.cpp"          → false
//	".git/x.c"           → true
//	"third_party/.gen/y" → true
func IsHidden(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == "." || seg == ".." {
			continue
		}
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
