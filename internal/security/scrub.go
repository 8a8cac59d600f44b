package security

import "regexp"

// scrubPattern pairs a compiled secret-shaped regex with the kind name used
// in its redaction token.
type scrubPattern struct {
	kind string
	re   *regexp.Regexp
}

// scrubPatterns is the fixed set of secret shapes redacted from every
// outbound observable string: log lines, tool results returned to the
// model, and persisted step content. Scrub is the single call site; callers
// must not reimplement redaction locally.
var scrubPatterns = []scrubPattern{
	{"openai_key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"google_key", regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)},
	{"telegram_token", regexp.MustCompile(`[0-9]{10}:[A-Za-z0-9\-_]{35}`)},
	{"github_token", regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`)},
	{"bearer_token", regexp.MustCompile(`Bearer\s+[^\s]{20,}`)},
}

// Scrub replaces every secret-shaped substring with a [REDACTED:<kind>]
// token. It is the only place this redaction happens; every boundary that
// emits a string to a log, the model, or the store calls this first.
func Scrub(s string) string {
	for _, p := range scrubPatterns {
		s = p.re.ReplaceAllString(s, "[REDACTED:"+p.kind+"]")
	}
	return s
}
