package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	IndexFile    = "memory_index.bin"
	MetadataFile = "metadata.json"
)

// Embedder maps text to a fixed-size vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the vector memory. It is not safe for concurrent use; callers
// serialize access.
type Store struct {
	dir      string
	embedder Embedder
	now      func() time.Time

	index   *flatIndex
	entries []Entry
	session string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for timestamps and session ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the index and metadata from dir, or starts empty when they
// do not exist. A length mismatch between the two files is logged and the
// longer one is cut back to the shorter.
func Open(dir string, emb Embedder, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating memory dir: %w", err)
	}
	s := &Store{dir: dir, embedder: emb, now: time.Now, index: &flatIndex{}}
	for _, o := range opts {
		o(s)
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	s.session = NewSessionID(s.now())
	return s, nil
}

// NewSessionID formats "<unix seconds>-<8 hex chars>".
func NewSessionID(t time.Time) string {
	return fmt.Sprintf("%d-%s", t.Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (s *Store) load() error {
	indexPath := filepath.Join(s.dir, IndexFile)
	metaPath := filepath.Join(s.dir, MetadataFile)

	raw, err := os.ReadFile(indexPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("reading %s: %w", IndexFile, err)
	default:
		ix, err := decodeIndex(raw)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", IndexFile, err)
		}
		s.index = ix
	}

	meta, err := os.ReadFile(metaPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("reading %s: %w", MetadataFile, err)
	default:
		if err := json.Unmarshal(meta, &s.entries); err != nil {
			return fmt.Errorf("decoding %s: %w", MetadataFile, err)
		}
	}

	if n, m := s.index.len(), len(s.entries); n != m {
		keep := min(n, m)
		slog.Warn("memory index and metadata out of sync, truncating to common prefix",
			"vectors", n, "entries", m, "keep", keep)
		s.index.truncate(keep)
		s.entries = s.entries[:keep]
	}
	return nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int { return len(s.entries) }

// Dims returns the embedding size, or 0 for an empty store.
func (s *Store) Dims() int { return s.index.dims }

// Session returns the current session id.
func (s *Store) Session() string { return s.session }

// ResetSession starts a new session and returns its id.
func (s *Store) ResetSession() string {
	s.session = NewSessionID(s.now())
	return s.session
}

// Add embeds text and appends it to the index and the metadata, writing
// both files before returning. Blank text is ignored and yields nil.
// ts is seconds since the epoch; nil means now.
func (s *Store) Add(ctx context.Context, text string, role Role, ts *float64) (*Entry, error) {
	return s.AddToSession(ctx, s.session, text, role, ts)
}

// AddToSession is Add with an explicit session id, used when importing
// past conversations.
func (s *Store) AddToSession(ctx context.Context, session, text string, role Role, ts *float64) (*Entry, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding message: %w", err)
	}

	stamp := UnixSeconds(s.now())
	if ts != nil {
		stamp = *ts
	}
	if err := s.index.add(vec); err != nil {
		return nil, err
	}
	e := Entry{
		Text:      text,
		Role:      role,
		Timestamp: stamp,
		SessionID: session,
		Index:     len(s.entries),
	}
	s.entries = append(s.entries, e)

	if err := s.persist(); err != nil {
		return &e, err
	}
	return &e, nil
}

// MarkImportant flags entry i as important and rewrites the metadata file.
func (s *Store) MarkImportant(i int) error {
	if i < 0 || i >= len(s.entries) {
		return fmt.Errorf("entry %d out of range", i)
	}
	if s.entries[i].Important {
		return nil
	}
	s.entries[i].Important = true
	return s.writeMetadata()
}

// Search returns up to k entries nearest to query, nearest first.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if len(s.entries) == 0 || k <= 0 {
		return []Result{}, nil
	}
	k = min(k, len(s.entries))

	q, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	hits, err := s.index.nearest(q, k)
	if err != nil {
		return nil, err
	}

	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{Entry: s.entries[h.idx], Distance: h.dist, Score: 1 / (1 + h.dist)}
	}
	return out, nil
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Store) Recent(limit int) []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// SessionEntries returns the entries of one session in insertion order.
func (s *Store) SessionEntries(id string) []Entry {
	var out []Entry
	for _, e := range s.entries {
		if e.SessionID == id {
			out = append(out, e)
		}
	}
	return out
}

// Sessions lists session ids in the order they first appear.
func (s *Store) Sessions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range s.entries {
		if !seen[e.SessionID] {
			seen[e.SessionID] = true
			out = append(out, e.SessionID)
		}
	}
	return out
}

func (s *Store) persist() error {
	if err := writeFileAtomic(filepath.Join(s.dir, IndexFile), s.index.encode()); err != nil {
		return fmt.Errorf("writing %s: %w", IndexFile, err)
	}
	return s.writeMetadata()
}

func (s *Store) writeMetadata() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(s.dir, MetadataFile), data); err != nil {
		return fmt.Errorf("writing %s: %w", MetadataFile, err)
	}
	return nil
}

// UnixSeconds converts t to the fractional epoch seconds used in Entry.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
