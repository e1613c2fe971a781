package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/kalambet/knowitall/internal/vault"
)

// DefaultMinResults is the smallest cascade target.
const DefaultMinResults = 3

// DefaultDenylist marks notes holding fabricated or placeholder data.
var DefaultDenylist = []string{
	"[simulated]",
	"simulated log",
	"simulated data",
	"test data",
	"lorem ipsum",
}

// NoteSource is the part of the knowledge base the Ranker searches.
type NoteSource interface {
	Search(ctx context.Context, query string) ([]vault.NoteInfo, error)
	Read(ctx context.Context, rel string) (string, error)
	Recent(ctx context.Context, limit int) ([]vault.NoteInfo, error)
}

// Candidate is a scored note.
type Candidate struct {
	Note  vault.NoteInfo
	Score int
}

// Ranker finds notes relevant to a query with progressively looser
// lexical searches and orders them with a fixed heuristic score.
type Ranker struct {
	src        NoteSource
	minResults int
	denylist   []string
	now        func() time.Time
}

// RankerOption configures a Ranker.
type RankerOption func(*Ranker)

// WithDenylist replaces DefaultDenylist. Markers are matched
// case-insensitively against note content.
func WithDenylist(markers []string) RankerOption {
	return func(r *Ranker) { r.denylist = markers }
}

// WithRankerClock sets the clock used for the recency bonus.
func WithRankerClock(now func() time.Time) RankerOption {
	return func(r *Ranker) { r.now = now }
}

// NewRanker creates a Ranker. minResults below DefaultMinResults is raised.
func NewRanker(src NoteSource, minResults int, opts ...RankerOption) *Ranker {
	if minResults < DefaultMinResults {
		minResults = DefaultMinResults
	}
	r := &Ranker{src: src, minResults: minResults, denylist: DefaultDenylist, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Search returns at most limit candidates, best first. Knowledge base
// failures shrink the result; they are never returned.
func (r *Ranker) Search(ctx context.Context, query string, limit int) []Candidate {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil
	}

	words := queryWords(query)
	var found []vault.NoteInfo
	seen := make(map[string]bool)
	collect := func(notes []vault.NoteInfo) {
		for _, n := range notes {
			if !seen[n.Path] {
				seen[n.Path] = true
				found = append(found, n)
			}
		}
	}
	queried := make(map[string]bool)
	search := func(q string) {
		key := strings.ToLower(q)
		if q == "" || queried[key] || len(found) >= r.minResults {
			return
		}
		queried[key] = true
		notes, err := r.src.Search(ctx, q)
		if err != nil {
			slog.Warn("note search failed", "query", q, "error", err)
			return
		}
		collect(notes)
	}

	search(query)
	for _, step := range [][]string{significant(words), capitalized(words), longest(words, 3)} {
		search(strings.Join(step, " "))
	}
	if len(found) < r.minResults {
		notes, err := r.src.Recent(ctx, r.minResults)
		if err != nil {
			slog.Warn("listing recent notes failed", "error", err)
		} else {
			collect(notes)
		}
	}

	terms := lowerAll(significant(words))
	if len(terms) == 0 {
		terms = lowerAll(words)
	}
	now := r.now()

	out := make([]Candidate, 0, len(found))
	for _, n := range found {
		if n.Content == "" {
			content, err := r.src.Read(ctx, n.Path)
			if err != nil {
				slog.Debug("reading note for ranking failed", "path", n.Path, "error", err)
			}
			n.Content = content
		}
		if r.denied(n.Content) {
			continue
		}
		out = append(out, Candidate{Note: n, Score: score(n, query, terms, now)})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *Ranker) denied(content string) bool {
	lc := strings.ToLower(content)
	for _, m := range r.denylist {
		if m != "" && strings.Contains(lc, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func score(n vault.NoteInfo, query string, terms []string, now time.Time) int {
	name := strings.ToLower(n.Name)
	q := strings.ToLower(query)
	content := strings.ToLower(n.Content)

	s := 0
	if strings.Contains(name, q) {
		s += 10
	}
	for _, t := range terms {
		if len(t) > 3 && strings.Contains(name, t) {
			s += 5
		}
	}
	if strings.Contains(content, q) {
		s += 8
	} else {
		hits := 0
		for _, t := range terms {
			hits += strings.Count(content, t)
		}
		s += min(7, hits)
	}

	switch age := now.Sub(n.Modified); {
	case n.Modified.IsZero():
	case age <= 24*time.Hour:
		s += 2
	case age <= 7*24*time.Hour:
		s += 1
	}
	return s
}

func queryWords(query string) []string {
	var words []string
	for _, f := range strings.Fields(query) {
		w := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

func significant(words []string) []string {
	var out []string
	for _, w := range words {
		if len([]rune(w)) > 3 {
			out = append(out, w)
		}
	}
	return out
}

func capitalized(words []string) []string {
	var out []string
	for _, w := range words {
		if r := []rune(w); unicode.IsUpper(r[0]) {
			out = append(out, w)
		}
	}
	return out
}

func longest(words []string, n int) []string {
	sorted := append([]string(nil), words...)
	sort.SliceStable(sorted, func(i, j int) bool { return len([]rune(sorted[i])) > len([]rune(sorted[j])) })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func lowerAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strings.ToLower(w)
	}
	return out
}
