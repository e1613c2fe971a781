package composer

import (
	"strings"
	"testing"

	"github.com/kalambet/knowitall/internal/engine"
	"github.com/kalambet/knowitall/internal/importance"
	"github.com/kalambet/knowitall/internal/memory"
	"github.com/kalambet/knowitall/internal/retrieval"
	"github.com/kalambet/knowitall/internal/vault"
)

func TestCompose_EmptyContext(t *testing.T) {
	c := New(4000)
	history := []engine.Message{{Role: "user", Content: "hello"}}

	out := c.Compose(history, Context{})
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].Role != "system" || out[0].Content != DefaultSystemPrompt {
		t.Errorf("system message = %+v", out[0])
	}
	if out[1] != history[0] {
		t.Errorf("user message changed: %+v", out[1])
	}
}

func TestCompose_AllSections(t *testing.T) {
	c := New(4000)
	out := c.Compose([]engine.Message{{Role: "user", Content: "where should I hike?"}}, Context{
		Personal: map[string]string{"name": "Sam", "location": "Seattle"},
		Facts:    []importance.Scored{{Record: importance.Record{Text: "I love hiking in Alaska", Category: importance.Preferences}, Similarity: 0.8}},
		Memories: []memory.Result{{Entry: memory.Entry{Text: "Flattop Mountain is nice", Role: memory.RoleAssistant, Timestamp: 1714550400}, Score: 0.7}},
		Notes: []retrieval.Candidate{{Score: 18, Note: vault.NoteInfo{
			Path:    "mem/20250501_Alaska_Trip.md",
			Content: "# 20250501_Alaska_Trip\n\nCreated: x\n\n## Conversation\n\n### User\nAnchorage trails\n",
		}}},
	})

	sys := out[0].Content
	for _, want := range []string{
		"[Personal Details]\n- location: Seattle\n- name: Sam\n",
		"[Important Facts]\n- (preferences) I love hiking in Alaska",
		"[Relevant Memories]\n(Score: 0.70, assistant,",
		"[Knowledge Base Notes]\n(Score: 18, Note: mem/20250501_Alaska_Trip.md)\n### User\nAnchorage trails",
	} {
		if !strings.Contains(sys, want) {
			t.Errorf("system message missing %q:\n%s", want, sys)
		}
	}
	if strings.Index(sys, "[Personal Details]") > strings.Index(sys, "[Knowledge Base Notes]") {
		t.Error("sections out of order")
	}
}

func TestCompose_MergesExistingSystem(t *testing.T) {
	c := New(4000)
	out := c.Compose([]engine.Message{
		{Role: "system", Content: "Be brief."},
		{Role: "user", Content: "hi"},
	}, Context{Personal: map[string]string{"name": "Sam"}})

	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if !strings.HasSuffix(out[0].Content, "---\n\nBe brief.") {
		t.Errorf("existing system prompt not kept last: %q", out[0].Content)
	}
}

func TestCompose_BudgetDropsEntries(t *testing.T) {
	c := New(60)
	big := strings.Repeat("x", 400)
	out := c.Compose(nil, Context{
		Personal: map[string]string{"name": "Sam"},
		Memories: []memory.Result{
			{Entry: memory.Entry{Text: big}, Score: 0.9},
			{Entry: memory.Entry{Text: "short"}, Score: 0.5},
		},
	})
	sys := out[0].Content
	if strings.Contains(sys, big) {
		t.Error("oversized memory should have been dropped")
	}
	if !strings.Contains(sys, "short") || !strings.Contains(sys, "name: Sam") {
		t.Errorf("expected small entries to fit:\n%s", sys)
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt("# T\n\n## Conversation\n\nbody", 100); got != "body" {
		t.Errorf("Excerpt = %q, want body", got)
	}
	got := Excerpt("ééééé", 3)
	if got != "é..." {
		t.Errorf("Excerpt cut = %q, want rune-safe cut", got)
	}
}

func TestTrim(t *testing.T) {
	h := []engine.Message{{Content: "1"}, {Content: "2"}, {Content: "3"}}
	if got := Trim(h, 2); len(got) != 2 || got[0].Content != "2" {
		t.Errorf("Trim = %+v", got)
	}
	if got := Trim(h, 0); len(got) != 3 {
		t.Errorf("Trim(0) = %d messages, want 3", len(got))
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("abcd"); got != 1 {
		t.Errorf("EstimateTokens = %d, want 1", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(\"\") = %d, want 0", got)
	}
}
