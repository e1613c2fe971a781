// Package importance flags personally significant user messages and keeps
// the extracted facts in a JSON ledger grouped by category.
package importance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/knowitall/internal/memory"
)

// Record is one classified message.
type Record struct {
	Text         string            `json:"text"`
	Category     Category          `json:"category"`
	PersonalInfo map[string]string `json:"personal_info,omitempty"`
	Timestamp    float64           `json:"timestamp"`
}

// Embedder embeds single texts and batches.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Classifier matches user messages against Rules and appends hits to the
// ledger file. It is not safe for concurrent use.
type Classifier struct {
	rules    *compiledRules
	minSim   float64
	path     string
	embedder Embedder
	now      func() time.Time

	ledger map[Category][]Record
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// New compiles rules and loads the ledger at ledgerPath if it exists.
func New(rules Rules, ledgerPath string, emb Embedder, opts ...Option) (*Classifier, error) {
	compiled, err := compile(rules)
	if err != nil {
		return nil, err
	}
	c := &Classifier{
		rules:    compiled,
		minSim:   rules.MinSimilarity,
		path:     ledgerPath,
		embedder: emb,
		now:      time.Now,
		ledger:   make(map[Category][]Record),
	}
	for _, o := range opts {
		o(c)
	}

	data, err := os.ReadFile(ledgerPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading importance ledger: %w", err)
	default:
		if err := json.Unmarshal(data, &c.ledger); err != nil {
			return nil, fmt.Errorf("decoding importance ledger: %w", err)
		}
		if c.ledger == nil {
			c.ledger = make(map[Category][]Record)
		}
	}
	return c, nil
}

// Extract runs the rules over text without touching the ledger. ok is
// false when nothing matched.
func (c *Classifier) Extract(text string) (info map[string]string, cat Category, ok bool) {
	info = make(map[string]string)
	votes := make(map[Category]bool)
	for _, p := range c.rules.patterns {
		if _, done := info[p.field]; done {
			continue
		}
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		val := m[0]
		if len(m) > 1 {
			val = m[1]
		}
		val = cleanValue(val)
		if val == "" {
			continue
		}
		info[p.field] = val
		votes[p.category] = true
	}

	for _, cat := range Categories {
		if c.rules.hasKeyword(cat, text) {
			votes[cat] = true
			ok = true
		}
	}
	if len(info) > 0 {
		ok = true
	}
	if !ok {
		return nil, "", false
	}

	switch {
	case hasPersonalField(c.rules, info):
		cat = Personal
	case votes[Preferences]:
		cat = Preferences
	case votes[Events]:
		cat = Events
	default:
		cat = Other
	}
	if len(info) == 0 {
		info = nil
	}
	return info, cat, true
}

// hasPersonalField reports whether any extracted field came from a
// personal pattern; a bare personal keyword is not enough.
func hasPersonalField(r *compiledRules, info map[string]string) bool {
	for _, p := range r.patterns {
		if p.category != Personal {
			continue
		}
		if _, ok := info[p.field]; ok {
			return true
		}
	}
	return false
}

// Classify records text when it is a user message matching the rules.
// The ledger is rewritten in full on every hit. Duplicates are kept.
func (c *Classifier) Classify(text string, role memory.Role) (*Record, error) {
	if role != memory.RoleUser || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	info, cat, ok := c.Extract(text)
	if !ok {
		return nil, nil
	}

	rec := Record{
		Text:         text,
		Category:     cat,
		PersonalInfo: info,
		Timestamp:    float64(c.now().UnixNano()) / 1e9,
	}
	c.ledger[cat] = append(c.ledger[cat], rec)
	if err := c.save(); err != nil {
		return &rec, err
	}
	slog.Debug("classified message", "category", cat, "fields", len(info))
	return &rec, nil
}

// Ledger returns a copy of all records by category.
func (c *Classifier) Ledger() map[Category][]Record {
	out := make(map[Category][]Record, len(c.ledger))
	for cat, recs := range c.ledger {
		out[cat] = append([]Record(nil), recs...)
	}
	return out
}

// Count returns the total number of records.
func (c *Classifier) Count() int {
	n := 0
	for _, recs := range c.ledger {
		n += len(recs)
	}
	return n
}

// PersonalDetails collects extracted fields across the ledger; later
// records win.
func (c *Classifier) PersonalDetails() map[string]string {
	type stamped struct {
		val string
		ts  float64
	}
	latest := make(map[string]stamped)
	for _, cat := range Categories {
		for _, r := range c.ledger[cat] {
			for k, v := range r.PersonalInfo {
				if cur, ok := latest[k]; !ok || r.Timestamp >= cur.ts {
					latest[k] = stamped{val: v, ts: r.Timestamp}
				}
			}
		}
	}
	out := make(map[string]string, len(latest))
	for k, s := range latest {
		out[k] = s.val
	}
	return out
}

func (c *Classifier) save() error {
	data, err := json.MarshalIndent(c.ledger, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("creating ledger dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing importance ledger: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replacing importance ledger: %w", err)
	}
	return nil
}

func cleanValue(s string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ".,!?;:"))
}
