package routing

import (
	"regexp"
	"strings"

	"github.com/OvrisHQ/rove/internal/agent"
)

var (
	codeRegex    = regexp.MustCompile("(?i)\\b(func|class|def|package|import|SELECT|INSERT|UPDATE|DELETE)\\b")
	reasonRegex  = regexp.MustCompile("(?i)\\b(analyze|reason|think through|derive|prove|why|tradeoff)\\b")
	quickRegex   = regexp.MustCompile("(?i)\\b(what is|define|quick|brief|summary)\\b")
	markdownCode = regexp.MustCompile("```")

	// secretRegex flags content that looks like it carries live credentials or
	// secret material, independent of the dedicated secret scrubber (this is a
	// routing signal, not a redaction pass).
	secretRegex = regexp.MustCompile(`(?i)\b(api[_-]?key|secret|password|token|private[_-]?key|ssh-rsa|BEGIN [A-Z ]*PRIVATE KEY)\b`)
	// piiRegex flags personal-data-shaped content (emails, SSN-like digit groups).
	piiRegex = regexp.MustCompile(`(?i)\b[\w.+-]+@[\w-]+\.\w+\b|\b\d{3}-\d{2}-\d{4}\b`)
	// localPathRegex flags references to local filesystem paths, which tend to
	// accompany requests about the user's own machine.
	localPathRegex = regexp.MustCompile(`(?i)(^|[\s"'])(/(home|Users|etc|var|root)/|~/|[A-Za-z]:\\\\)`)

	// multiStepRegex flags cues that a request chains several sub-tasks.
	multiStepRegex = regexp.MustCompile(`(?i)\b(then|and also|after that|next,|first,|finally,)\b`)
	// enumerationRegex flags numbered or bulleted step lists.
	enumerationRegex = regexp.MustCompile(`(?m)^\s*(\d+[.)]|[-*])\s+\S`)
)

// complexityLengthThreshold is the character count above which a request is
// considered complex by length alone.
const complexityLengthThreshold = 400

// HeuristicClassifier tags requests using simple content heuristics.
type HeuristicClassifier struct{}

// Classify returns a list of tags for the request. Besides the original
// content tags (code/reasoning/quick), it flags "sensitive" requests that
// look like they carry secrets, PII, or local-machine paths (these should
// rank local providers first) and "complex" requests that are long or have
// multi-step cues (these should rank stronger cloud providers first).
func (c *HeuristicClassifier) Classify(req *agent.CompletionRequest) []string {
	content := strings.TrimSpace(lastUserContent(req))
	if content == "" {
		return nil
	}
	lower := strings.ToLower(content)
	var tags []string

	if markdownCode.MatchString(lower) || codeRegex.MatchString(lower) {
		tags = append(tags, "code")
	}
	if reasonRegex.MatchString(lower) {
		tags = append(tags, "reasoning")
	}
	if quickRegex.MatchString(lower) || len(lower) < 80 {
		tags = append(tags, "quick")
	}
	if secretRegex.MatchString(content) || piiRegex.MatchString(content) || localPathRegex.MatchString(content) {
		tags = append(tags, "sensitive")
	}
	if len(content) > complexityLengthThreshold || multiStepRegex.MatchString(lower) || enumerationRegex.MatchString(content) {
		tags = append(tags, "complex")
	}

	return tags
}
