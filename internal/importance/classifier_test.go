package importance

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/knowitall/internal/memory"
)

type letterEmbedder struct {
	err error
}

func (l *letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if l.err != nil {
		return nil, l.err
	}
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, nil
}

func (l *letterEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := l.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newTestClassifier(t *testing.T, rules Rules) (*Classifier, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "importance.json")
	c, err := New(rules, path, &letterEmbedder{}, WithClock(func() time.Time { return time.Unix(1700000000, 0) }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, path
}

func TestClassify_NameStripsPunctuation(t *testing.T) {
	c, _ := newTestClassifier(t, DefaultRules())

	rec, err := c.Classify("My name is Alice.", memory.RoleUser)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if rec == nil {
		t.Fatal("Classify returned nil, want a record")
	}
	if rec.Category != Personal {
		t.Errorf("category = %q, want %q", rec.Category, Personal)
	}
	if got := rec.PersonalInfo["name"]; got != "Alice" {
		t.Errorf("name = %q, want %q", got, "Alice")
	}
}

func TestClassify_LowercaseNameFallback(t *testing.T) {
	c, _ := newTestClassifier(t, DefaultRules())
	rec, _ := c.Classify("my name is bob!", memory.RoleUser)
	if rec == nil || rec.PersonalInfo["name"] != "bob" {
		t.Fatalf("record = %+v, want name bob", rec)
	}
}

func TestClassify_Categories(t *testing.T) {
	tests := []struct {
		text string
		want Category
	}{
		{"I love hiking in Alaska", Preferences},
		{"I have a dentist appointment tomorrow", Events},
		{"My salary review is next month", Other},
		{"my email is alice@example.com and I like tea", Personal},
		{"I live in Portland", Personal},
		{"I have a meeting on 2026-10-14", Events},
		{"My flight is 2026-10-14 at 10:30", Events},
	}
	for _, tt := range tests {
		c, _ := newTestClassifier(t, DefaultRules())
		rec, err := c.Classify(tt.text, memory.RoleUser)
		if err != nil {
			t.Fatalf("Classify(%q): %v", tt.text, err)
		}
		if rec == nil {
			t.Errorf("Classify(%q) = nil, want %q", tt.text, tt.want)
			continue
		}
		if rec.Category != tt.want {
			t.Errorf("Classify(%q) category = %q, want %q", tt.text, rec.Category, tt.want)
		}
	}
}

func TestExtract_Phone(t *testing.T) {
	c, _ := newTestClassifier(t, DefaultRules())
	tests := []struct {
		text string
		want string
	}{
		{"my phone number is 555-123-4567", "555-123-4567"},
		{"text me at (555) 123 4567 later", "(555) 123 4567"},
		{"office line +44 20 7946 0958", "+44 20 7946 0958"},
		{"the deadline is 2026-10-14", ""},
		{"order 12345678 shipped", ""},
	}
	for _, tt := range tests {
		info, _, _ := c.Extract(tt.text)
		if got := info["phone"]; got != tt.want {
			t.Errorf("Extract(%q) phone = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestClassify_IndependentFields(t *testing.T) {
	c, _ := newTestClassifier(t, DefaultRules())
	info, cat, ok := c.Extract("My name is Alice and I love jazz")
	if !ok {
		t.Fatal("Extract matched nothing")
	}
	if cat != Personal {
		t.Errorf("category = %q, want personal", cat)
	}
	if info["name"] != "Alice" {
		t.Errorf("name = %q, want Alice", info["name"])
	}
	if info["preference"] != "jazz" {
		t.Errorf("preference = %q, want jazz", info["preference"])
	}
}

func TestClassify_IgnoresNonUserAndUnmatched(t *testing.T) {
	c, path := newTestClassifier(t, DefaultRules())

	if rec, _ := c.Classify("My name is Alice.", memory.RoleAssistant); rec != nil {
		t.Errorf("assistant message classified: %+v", rec)
	}
	if rec, _ := c.Classify("The sky is blue", memory.RoleUser); rec != nil {
		t.Errorf("plain message classified: %+v", rec)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ledger written without a classification: %v", err)
	}
}

func TestClassify_Idempotent(t *testing.T) {
	c, _ := newTestClassifier(t, DefaultRules())
	text := "Call me Sam, my birthday is March 3, 1990."

	first, _ := c.Classify(text, memory.RoleUser)
	second, _ := c.Classify(text, memory.RoleUser)
	if first == nil || second == nil {
		t.Fatal("expected records")
	}
	if first.Category != second.Category {
		t.Errorf("categories differ: %q vs %q", first.Category, second.Category)
	}
	for k, v := range first.PersonalInfo {
		if second.PersonalInfo[k] != v {
			t.Errorf("field %s: %q vs %q", k, v, second.PersonalInfo[k])
		}
	}
	if first.PersonalInfo["birthday"] != "March 3, 1990" {
		t.Errorf("birthday = %q, want %q", first.PersonalInfo["birthday"], "March 3, 1990")
	}
	// Duplicates are recorded, not merged.
	if c.Count() != 2 {
		t.Errorf("ledger count = %d, want 2", c.Count())
	}
}

func TestClassify_PersistsLedgerWholesale(t *testing.T) {
	c, path := newTestClassifier(t, DefaultRules())
	c.Classify("My name is Alice.", memory.RoleUser)
	c.Classify("I love hiking in Alaska", memory.RoleUser)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading ledger: %v", err)
	}
	var ledger map[Category][]Record
	if err := json.Unmarshal(data, &ledger); err != nil {
		t.Fatalf("decoding ledger: %v", err)
	}
	if len(ledger[Personal]) != 1 || len(ledger[Preferences]) != 1 {
		t.Errorf("ledger = %+v, want one personal and one preference record", ledger)
	}

	reloaded, err := New(DefaultRules(), path, &letterEmbedder{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if reloaded.Count() != 2 {
		t.Errorf("reloaded count = %d, want 2", reloaded.Count())
	}
}

func TestClassify_InjectedRules(t *testing.T) {
	rules := Rules{
		Keywords: map[Category][]string{Events: {"standup"}},
		Patterns: []Pattern{{Field: "team", Regex: `team (\w+)`}},
	}
	c, _ := newTestClassifier(t, rules)

	rec, _ := c.Classify("daily standup moved", memory.RoleUser)
	if rec == nil || rec.Category != Events {
		t.Errorf("record = %+v, want events", rec)
	}
	rec, _ = c.Classify("I joined team rocket", memory.RoleUser)
	if rec == nil || rec.Category != Personal || rec.PersonalInfo["team"] != "rocket" {
		t.Errorf("record = %+v, want personal team=rocket", rec)
	}
	if rec, _ := c.Classify("My name is Alice.", memory.RoleUser); rec != nil {
		t.Errorf("default rules leaked into injected rules: %+v", rec)
	}
}

func TestNew_RejectsBadPattern(t *testing.T) {
	rules := Rules{Patterns: []Pattern{{Field: "x", Regex: "("}}}
	if _, err := New(rules, filepath.Join(t.TempDir(), "l.json"), &letterEmbedder{}); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestPersonalDetails_LatestWins(t *testing.T) {
	now := time.Unix(100, 0)
	path := filepath.Join(t.TempDir(), "importance.json")
	c, err := New(DefaultRules(), path, &letterEmbedder{}, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Classify("I live in Portland", memory.RoleUser)
	now = now.Add(time.Hour)
	c.Classify("I moved to Denver", memory.RoleUser)
	c.Classify("My name is Alice.", memory.RoleUser)

	got := c.PersonalDetails()
	if got["location"] != "Denver" || got["name"] != "Alice" {
		t.Errorf("PersonalDetails() = %v, want location Denver, name Alice", got)
	}
}

func TestLoadRules_YAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	yml := `keywords:
  events: [standup, retro]
min_similarity: 0.5
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if got := rules.Keywords[Events]; len(got) != 2 || got[0] != "standup" {
		t.Errorf("events keywords = %v, want [standup retro]", got)
	}
	if len(rules.Keywords[Preferences]) == 0 {
		t.Error("preferences defaults were dropped")
	}
	if len(rules.Patterns) != len(DefaultRules().Patterns) {
		t.Errorf("patterns = %d, want defaults kept", len(rules.Patterns))
	}
	if rules.MinSimilarity != 0.5 {
		t.Errorf("MinSimilarity = %v, want 0.5", rules.MinSimilarity)
	}
}

func TestLoadRules_EmptyPathIsDefault(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if rules.MinSimilarity != 0.3 {
		t.Errorf("MinSimilarity = %v, want 0.3", rules.MinSimilarity)
	}
}
