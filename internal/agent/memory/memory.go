// Package memory implements the agent's working memory: a bounded,
// role-tagged message window that evicts older turns once a token ceiling is
// crossed.
package memory

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/OvrisHQ/rove/pkg/models"
)

// charsPerToken is the character-to-token ratio used for estimation. This
// matches providers.AnthropicProvider.CountTokens's ~4 chars/token rule of
// thumb for English text.
const charsPerToken = 4

// toolResultTruncateFloor is the smallest a tool_result's content is shrunk
// to before eviction moves on to an older tool_result instead of squeezing
// the same one further.
const toolResultTruncateFloor = 200

// Memory is an ordered sequence of role-tagged messages bounded by a token
// budget. Appending a message that would push the total over budget evicts
// older content: first whole non-system messages from the front (oldest
// first), then — once only the system messages and the most recent
// user/assistant pair remain — the newest tool_result content from the tail,
// working backwards. The final user/assistant pair is never evicted, even if
// the budget is still exceeded after every tool_result has been truncated to
// its floor.
type Memory struct {
	mu       sync.Mutex
	budget   int
	messages []*models.Message
}

// New creates a Memory with the given token budget.
func New(budgetTokens int) *Memory {
	if budgetTokens <= 0 {
		budgetTokens = 1
	}
	return &Memory{budget: budgetTokens}
}

// Append adds a message and evicts older content until the total estimate
// fits the budget (or nothing further can be evicted).
func (m *Memory) Append(msg *models.Message) {
	if msg == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	m.evict()
}

// Messages returns a snapshot of the current window, in order.
func (m *Memory) Messages() []*models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// TokenEstimate returns the current total estimated token usage.
func (m *Memory) TokenEstimate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalTokens()
}

func (m *Memory) totalTokens() int {
	total := 0
	for _, msg := range m.messages {
		total += EstimateTokens(msg)
	}
	return total
}

// EstimateTokens estimates a single message's token footprint at ~4
// characters per token. tool_result content is JSON-compacted first, since
// pretty-printed whitespace inflates a raw character count without adding
// tokens.
func EstimateTokens(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	chars := len(msg.Content)
	for _, tc := range msg.ToolCalls {
		chars += len(tc.Name) + len(tc.Input)
	}
	for _, tr := range msg.ToolResults {
		chars += compactedLen(tr.Content)
	}
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}

func compactedLen(content string) int {
	if content == "" {
		return 0
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(content)); err == nil {
		return buf.Len()
	}
	return len(content)
}

// evict repeatedly drops content until the window fits m.budget or no
// further eviction is possible.
func (m *Memory) evict() {
	for m.totalTokens() > m.budget {
		if m.dropOldestNonSystem() {
			continue
		}
		if m.truncateNewestToolResult() {
			continue
		}
		return
	}
}

// dropOldestNonSystem removes the oldest non-system message that is not part
// of the final user/assistant pair. Returns false if none remain (only
// system messages and the final pair are left).
func (m *Memory) dropOldestNonSystem() bool {
	keepFrom := m.finalPairStart()
	for i, msg := range m.messages {
		if msg == nil || msg.Role == models.RoleSystem {
			continue
		}
		if i >= keepFrom {
			break
		}
		m.messages = append(m.messages[:i:i], m.messages[i+1:]...)
		return true
	}
	return false
}

// finalPairStart returns the index of the first message belonging to the
// final user/assistant pair (the last two non-system messages, or the last
// one if there is an odd message out).
func (m *Memory) finalPairStart() int {
	nonSystem := 0
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i] == nil || m.messages[i].Role == models.RoleSystem {
			continue
		}
		nonSystem++
		if nonSystem == 2 {
			return i
		}
	}
	if nonSystem == 1 {
		for i := len(m.messages) - 1; i >= 0; i-- {
			if m.messages[i] != nil && m.messages[i].Role != models.RoleSystem {
				return i
			}
		}
	}
	return len(m.messages)
}

// truncateNewestToolResult finds the most recent message (searching from the
// tail) carrying a tool_result not yet at the truncation floor, and shrinks
// its largest result by half. Returns false if nothing is left to shrink.
func (m *Memory) truncateNewestToolResult() bool {
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg == nil || len(msg.ToolResults) == 0 {
			continue
		}
		biggest := -1
		for j, tr := range msg.ToolResults {
			if len(tr.Content) <= toolResultTruncateFloor {
				continue
			}
			if biggest == -1 || len(tr.Content) > len(msg.ToolResults[biggest].Content) {
				biggest = j
			}
		}
		if biggest == -1 {
			continue
		}
		clone := *msg
		clone.ToolResults = append([]models.ToolResult(nil), msg.ToolResults...)
		content := clone.ToolResults[biggest].Content
		newLen := len(content) / 2
		if newLen < toolResultTruncateFloor {
			newLen = toolResultTruncateFloor
		}
		clone.ToolResults[biggest].Content = content[:newLen] + "...[truncated]"
		m.messages[i] = &clone
		return true
	}
	return false
}
