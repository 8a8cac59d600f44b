package security

import (
	"regexp"
	"strings"
)

// Tier is the risk classification assigned to a tool invocation.
type Tier int

const (
	T0 Tier = iota // read-only / no side effects
	T1             // bounded, reversible side effects (write within workspace)
	T2             // irreversible or broad-impact (delete, exec, network push)
)

func (t Tier) String() string {
	switch t {
	case T0:
		return "T0"
	case T1:
		return "T1"
	case T2:
		return "T2"
	default:
		return "unknown"
	}
}

// toolBaseTier is the default tier for known tool names. Unknown tools
// default to T1 (treated as a bounded side effect until classified).
var toolBaseTier = map[string]Tier{
	"read_file":      T0,
	"list_directory": T0,
	"search":         T0,
	"write_file":     T1,
	"edit_file":      T1,
	"exec_git":       T1,
	"run_command":    T2,
	"delete_file":    T2,
	"http_request":   T1,
}

// dangerousFlags are argv tokens that signal a destructive intent strong
// enough to bump the assigned tier by one.
var dangerousFlagPattern = regexp.MustCompile(`^(--force|-rf|--delete|--hard|--no-verify|-f)$`)

// Assessment is the outcome of risk classification for one tool call.
type Assessment struct {
	Tier      Tier
	Escalated bool
	Reasons   []string
}

// AssessRisk classifies a tool invocation: base tier by name, then escalation
// for dangerous flags, remote-origin tasks, and injection-detector matches.
// The result is capped at T2.
func AssessRisk(toolName string, args []string, remoteOrigin bool, injectionMatches []InjectionMatch) Assessment {
	tier, ok := toolBaseTier[toolName]
	if !ok {
		tier = T1
	}
	a := Assessment{Tier: tier}

	if hasDangerousFlag(args) {
		a.bump("dangerous flag present")
	}
	if remoteOrigin {
		a.bump("task originated from a remote source")
	}
	if len(injectionMatches) > 0 {
		a.bump("prompt injection marker detected")
	}

	return a
}

func (a *Assessment) bump(reason string) {
	a.Escalated = true
	a.Reasons = append(a.Reasons, reason)
	if a.Tier < T2 {
		a.Tier++
	}
}

func hasDangerousFlag(args []string) bool {
	for _, arg := range args {
		if dangerousFlagPattern.MatchString(strings.TrimSpace(arg)) {
			return true
		}
	}
	return false
}
