package memory

import (
	"strings"
	"testing"

	"github.com/OvrisHQ/rove/pkg/models"
)

func TestMemory_EvictsOldestNonSystemFirst(t *testing.T) {
	m := New(1) // tiny budget forces eviction on every append
	m.Append(&models.Message{ID: "sys", Role: models.RoleSystem, Content: "you are an agent"})
	for i := 0; i < 5; i++ {
		m.Append(&models.Message{ID: string(rune('a' + i)), Role: models.RoleUser, Content: strings.Repeat("x", 40)})
		m.Append(&models.Message{ID: string(rune('A' + i)), Role: models.RoleAssistant, Content: strings.Repeat("y", 40)})
	}

	msgs := m.Messages()
	if msgs[0].Role != models.RoleSystem {
		t.Fatalf("expected system message to survive eviction, got role %q first", msgs[0].Role)
	}
	last := msgs[len(msgs)-1]
	secondLast := msgs[len(msgs)-2]
	if last.Role != models.RoleAssistant || secondLast.Role != models.RoleUser {
		t.Fatalf("expected the final user/assistant pair preserved, got %q then %q", secondLast.Role, last.Role)
	}
}

func TestMemory_TruncatesToolResultBeforeDroppingFinalPair(t *testing.T) {
	m := New(1)
	m.Append(&models.Message{ID: "sys", Role: models.RoleSystem, Content: "system"})
	m.Append(&models.Message{
		ID:   "user",
		Role: models.RoleUser,
		ToolResults: []models.ToolResult{
			{ToolCallID: "1", Content: strings.Repeat("z", 5000)},
		},
	})

	msgs := m.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected system + latest user preserved, got %d messages", len(msgs))
	}
	result := msgs[1].ToolResults[0].Content
	if len(result) >= 5000 {
		t.Fatalf("expected tool_result content to be truncated, got length %d", len(result))
	}
	if !strings.Contains(result, "...[truncated]") {
		t.Fatalf("expected truncation marker in content")
	}
}

func TestMemory_FitsWithinBudgetUnderLoad(t *testing.T) {
	m := New(50)
	m.Append(&models.Message{ID: "sys", Role: models.RoleSystem, Content: "system prompt"})
	for i := 0; i < 20; i++ {
		m.Append(&models.Message{ID: string(rune('a' + i%26)), Role: models.RoleUser, Content: strings.Repeat("hello world ", 10)})
		m.Append(&models.Message{ID: string(rune('A' + i%26)), Role: models.RoleAssistant, Content: strings.Repeat("response text ", 10)})
	}
	if got := m.TokenEstimate(); got > 50 {
		// The final pair and system message may still exceed a very small
		// budget once tool_result truncation has nothing left to squeeze;
		// verify we at least evicted everything evictable.
		msgs := m.Messages()
		if len(msgs) > 3 {
			t.Fatalf("expected eviction to reduce to system + final pair, got %d messages (tokens=%d)", len(msgs), got)
		}
	}
}

func TestEstimateTokens_CompactsToolResultJSON(t *testing.T) {
	pretty := &models.Message{
		Role: models.RoleTool,
		ToolResults: []models.ToolResult{
			{ToolCallID: "1", Content: "{\n  \"a\": 1,\n  \"b\": 2\n}"},
		},
	}
	compact := &models.Message{
		Role: models.RoleTool,
		ToolResults: []models.ToolResult{
			{ToolCallID: "1", Content: `{"a":1,"b":2}`},
		},
	}
	if EstimateTokens(pretty) != EstimateTokens(compact) {
		t.Fatalf("expected whitespace-only JSON formatting to estimate the same token count")
	}
}
