package composer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/knowitall/internal/engine"
	"github.com/kalambet/knowitall/internal/importance"
	"github.com/kalambet/knowitall/internal/memory"
	"github.com/kalambet/knowitall/internal/retrieval"
)

const (
	defaultMaxContextTokens = 4000
	maxNoteExcerpt          = 800
)

// DefaultSystemPrompt opens every composed conversation.
const DefaultSystemPrompt = "You are a helpful assistant with long-term memory of past conversations. " +
	"Use the context below when it is relevant to the user's message and ignore it otherwise. " +
	"Do not mention the context unless asked."

// Context is everything retrieved for one user turn.
type Context struct {
	Personal map[string]string
	Facts    []importance.Scored
	Memories []memory.Result
	Notes    []retrieval.Candidate
}

// Composer assembles chat prompts from retrieved context and the running
// conversation.
type Composer struct {
	MaxContextTokens int
	SystemPrompt     string
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens, SystemPrompt: DefaultSystemPrompt}
}

// Compose returns history with a system message carrying the context in
// front. An existing leading system message is kept after the context.
// history is not modified.
func (c *Composer) Compose(history []engine.Message, ctx Context) []engine.Message {
	system := c.SystemPrompt
	if enrichment := c.buildEnrichment(ctx); enrichment != "" {
		system += "\n\n" + enrichment
	}

	out := make([]engine.Message, 0, len(history)+1)
	if len(history) > 0 && history[0].Role == "system" {
		out = append(out, engine.Message{Role: "system", Content: system + "\n\n---\n\n" + history[0].Content})
		history = history[1:]
	} else {
		out = append(out, engine.Message{Role: "system", Content: system})
	}
	return append(out, history...)
}

// buildEnrichment renders the context sections in priority order, skipping
// entries that no longer fit in the token budget.
func (c *Composer) buildEnrichment(ctx Context) string {
	remaining := c.MaxContextTokens
	var sb strings.Builder

	section := func(header string, entries []string) {
		var picked []string
		cost := EstimateTokens(header)
		for _, e := range entries {
			t := EstimateTokens(e)
			if cost+t > remaining {
				continue
			}
			picked = append(picked, e)
			cost += t
		}
		if len(picked) == 0 {
			return
		}
		remaining -= cost
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(header)
		for _, e := range picked {
			sb.WriteString(e)
		}
	}

	section("[Personal Details]\n", formatPersonal(ctx.Personal))
	section("[Important Facts]\n", formatFacts(ctx.Facts))
	section("[Relevant Memories]\n", formatMemories(ctx.Memories))
	section("[Knowledge Base Notes]\n", formatNotes(ctx.Notes))
	return strings.TrimRight(sb.String(), "\n")
}

func formatPersonal(details map[string]string) []string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("- %s: %s\n", k, details[k]))
	}
	return out
}

func formatFacts(facts []importance.Scored) []string {
	sorted := append([]importance.Scored(nil), facts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Similarity > sorted[j].Similarity })
	out := make([]string, 0, len(sorted))
	for _, f := range sorted {
		out = append(out, fmt.Sprintf("- (%s) %s\n", f.Record.Category, f.Record.Text))
	}
	return out
}

func formatMemories(results []memory.Result) []string {
	sorted := append([]memory.Result(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	out := make([]string, 0, len(sorted))
	for _, r := range sorted {
		when := time.Unix(int64(r.Entry.Timestamp), 0).Format("2006-01-02 15:04")
		out = append(out, fmt.Sprintf("(Score: %.2f, %s, %s)\n%s\n\n", r.Score, r.Entry.Role, when, r.Entry.Text))
	}
	return out
}

func formatNotes(notes []retrieval.Candidate) []string {
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		out = append(out, fmt.Sprintf("(Score: %d, Note: %s)\n%s\n\n", n.Score, n.Note.Path, Excerpt(n.Note.Content, maxNoteExcerpt)))
	}
	return out
}

// Excerpt returns the body of a conversation note with its header lines
// removed, cut to at most max bytes on a rune boundary.
func Excerpt(content string, max int) string {
	if i := strings.Index(content, "## Conversation\n"); i >= 0 {
		content = content[i+len("## Conversation\n"):]
	}
	content = strings.TrimSpace(content)
	if len(content) <= max {
		return content
	}
	cut := max
	for cut > 0 && !utf8RuneStart(content[cut]) {
		cut--
	}
	return strings.TrimSpace(content[:cut]) + "..."
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// Trim keeps the last maxTurns messages of history. maxTurns <= 0 keeps
// everything.
func Trim(history []engine.Message, maxTurns int) []engine.Message {
	if maxTurns <= 0 || len(history) <= maxTurns {
		return history
	}
	return history[len(history)-maxTurns:]
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
