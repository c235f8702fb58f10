package regex

import (
	"regexp"
	"strings"
)

// CombinePatterns joins patterns into one alternation.
func CombinePatterns(patterns []string) (*regexp.Regexp, error) {
	combined := "(?:" + strings.Join(patterns, ")|(?:") + ")"
	return regexp.Compile(combined)
}
