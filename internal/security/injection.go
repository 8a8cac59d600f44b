package security

import "regexp"

// injectionPatterns are the fixed, case-insensitive phrases that mark an
// attempt to override the system prompt from within tool output or
// untrusted content. Matching is advisory: it escalates risk, it never
// rewrites content.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)forget\s+your\s+instructions`),
	regexp.MustCompile(`(?i)new\s+instructions\s*:`),
	regexp.MustCompile(`(?i)override\s+system\s+prompt`),
	regexp.MustCompile(`(?i)disregard\s+.*\s+above`),
}

// InjectionMatch describes a single pattern hit in scanned content.
type InjectionMatch struct {
	Pattern string
	Excerpt string
}

// DetectInjection scans content against the fixed pattern set and returns
// every match found. A nil/empty result means no injection markers were
// found.
func DetectInjection(content string) []InjectionMatch {
	var matches []InjectionMatch
	for _, pattern := range injectionPatterns {
		if loc := pattern.FindStringIndex(content); loc != nil {
			matches = append(matches, InjectionMatch{
				Pattern: pattern.String(),
				Excerpt: content[loc[0]:loc[1]],
			})
		}
	}
	return matches
}
