// Package pipeline ties the memory store, the importance classifier, the
// vault mirror and the note ranker into the single object the front ends
// talk to.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/knowitall/internal/composer"
	"github.com/kalambet/knowitall/internal/conversation"
	"github.com/kalambet/knowitall/internal/engine"
	"github.com/kalambet/knowitall/internal/importance"
	"github.com/kalambet/knowitall/internal/memory"
	"github.com/kalambet/knowitall/internal/retrieval"
	"github.com/kalambet/knowitall/internal/storage"
	"github.com/kalambet/knowitall/internal/vault"
)

const defaultTopK = 5

// Components are the collaborators of a Memory. Sessions and Composer may
// be nil.
type Components struct {
	Store      *memory.Store
	Classifier *importance.Classifier
	Vault      *vault.Vault
	Linker     *vault.Linker
	Titles     conversation.TitleGenerator
	Sessions   *storage.Store
	Composer   *composer.Composer

	TopK         int
	MinResults   int
	HistoryTurns int
}

// Results is the merged answer to a query.
type Results struct {
	Memories []memory.Result       `json:"memories"`
	Notes    []retrieval.Candidate `json:"notes"`
	Facts    []importance.Scored   `json:"facts"`
}

// Stats summarizes the state of a Memory.
type Stats struct {
	Memories int    `json:"memories"`
	Dims     int    `json:"dims"`
	Facts    int    `json:"facts"`
	Concepts int    `json:"concepts"`
	Session  string `json:"session"`
	Note     string `json:"active_note,omitempty"`
	VaultAPI bool   `json:"vault_api"`
}

// Memory is safe for concurrent use; every method holds one lock because
// none of the underlying components lock.
type Memory struct {
	mu sync.Mutex

	store      *memory.Store
	classifier *importance.Classifier
	vault      *vault.Vault
	linker     *vault.Linker
	sessions   *storage.Store
	composer   *composer.Composer
	sync       *conversation.Engine
	ranker     *retrieval.Ranker

	topK         int
	historyTurns int
}

// New wires c into a Memory.
func New(c Components) *Memory {
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.Composer == nil {
		c.Composer = composer.New(0)
	}
	if c.Linker == nil {
		c.Linker = vault.NewLinker(nil)
	}

	opts := []conversation.Option{
		conversation.WithSession(c.Store.Session()),
		conversation.WithLinker(c.Linker),
	}
	if c.Sessions != nil {
		opts = append(opts, conversation.WithRecorder(sessionRecorder{c.Sessions}))
	}

	return &Memory{
		store:        c.Store,
		classifier:   c.Classifier,
		vault:        c.Vault,
		linker:       c.Linker,
		sessions:     c.Sessions,
		composer:     c.Composer,
		sync:         conversation.New(c.Vault, c.Titles, opts...),
		ranker:       retrieval.NewRanker(c.Vault, c.MinResults),
		topK:         c.TopK,
		historyTurns: c.HistoryTurns,
	}
}

// Add stores msg, classifies it and mirrors it into the vault. Only a
// failure to persist the message is returned; classifier and mirror
// problems are logged.
func (m *Memory) Add(ctx context.Context, msg memory.Message) (*memory.Entry, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var ts *float64
	if !msg.Time.IsZero() {
		s := memory.UnixSeconds(msg.Time)
		ts = &s
	}
	entry, storeErr := m.store.Add(ctx, msg.Content, msg.Role, ts)
	if storeErr != nil {
		slog.Warn("storing message failed", "session", m.store.Session(), "error", storeErr)
	}
	m.classify(msg.Content, msg.Role, entry)
	m.sync.Add(ctx, msg)

	if storeErr != nil {
		return nil, fmt.Errorf("storing message: %w", storeErr)
	}
	return entry, nil
}

func (m *Memory) classify(text string, role memory.Role, entry *memory.Entry) {
	rec, err := m.classifier.Classify(text, role)
	if err != nil {
		slog.Warn("saving importance ledger failed", "error", err)
	}
	if rec == nil || entry == nil {
		return
	}
	if err := m.store.MarkImportant(entry.Index); err != nil {
		slog.Warn("marking entry important failed", "index", entry.Index, "error", err)
	}
}

// Search runs the vector search, the note ranker and the importance
// lookup independently and returns all three. k <= 0 uses the configured
// top-k.
func (m *Memory) Search(ctx context.Context, query string, k int) Results {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.search(ctx, query, k)
}

func (m *Memory) search(ctx context.Context, query string, k int) Results {
	if k <= 0 {
		k = m.topK
	}
	res := Results{Memories: []memory.Result{}, Notes: []retrieval.Candidate{}, Facts: []importance.Scored{}}

	if mems, err := m.store.Search(ctx, query, k); err != nil {
		slog.Warn("memory search failed", "error", err)
	} else {
		res.Memories = mems
	}
	if notes := m.ranker.Search(ctx, query, k); notes != nil {
		res.Notes = notes
	}
	if facts, err := m.classifier.Relevant(ctx, query, k); err == nil && facts != nil {
		res.Facts = facts
	}
	return res
}

// Prompt builds the chat request for history, whose last message is the
// user's new turn, enriched with everything retrieved for query.
func (m *Memory) Prompt(ctx context.Context, history []engine.Message, query string) []engine.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := m.search(ctx, query, m.topK)
	return m.composer.Compose(composer.Trim(history, m.historyTurns), composer.Context{
		Personal: m.classifier.PersonalDetails(),
		Facts:    res.Facts,
		Memories: res.Memories,
		Notes:    res.Notes,
	})
}

// SearchNotes ranks vault notes only.
func (m *Memory) SearchNotes(ctx context.Context, query string, limit int) []retrieval.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = m.topK
	}
	return m.ranker.Search(ctx, query, limit)
}

// Notes lists every note in the vault.
func (m *Memory) Notes(ctx context.Context) ([]vault.NoteInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vault.List(ctx)
}

// Recent returns the latest stored messages, newest first.
func (m *Memory) Recent(limit int) []memory.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Recent(limit)
}

// Ledger returns the importance ledger by category.
func (m *Memory) Ledger() map[importance.Category][]importance.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classifier.Ledger()
}

// PersonalDetails returns the latest value of every extracted field.
func (m *Memory) PersonalDetails() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classifier.PersonalDetails()
}

// Session returns the current session id.
func (m *Memory) Session() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Session()
}

// Reset starts a new session in the store and the vault mirror.
func (m *Memory) Reset() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.store.ResetSession()
	m.sync.Reset(id)
	slog.Info("started new session", "session", id)
	return id
}

// Sessions lists recorded sessions, newest first. Without a session
// registry the list is derived from the store and carries counts only.
func (m *Memory) Sessions(limit int) ([]storage.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions != nil {
		return m.sessions.ListSessions(limit)
	}

	ids := m.store.Sessions()
	out := make([]storage.Session, 0, len(ids))
	for i := len(ids) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		entries := m.store.SessionEntries(ids[i])
		sess := storage.Session{ID: ids[i], Messages: len(entries)}
		for _, e := range entries {
			if e.Role == memory.RoleUser {
				sess.UserMessages++
			}
		}
		if len(entries) > 0 {
			sess.StartedAt = entries[0].Time()
			sess.UpdatedAt = entries[len(entries)-1].Time()
		}
		out = append(out, sess)
	}
	return out, nil
}

// Stats reports sizes and the active session.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Memories: m.store.Len(),
		Dims:     m.store.Dims(),
		Facts:    m.classifier.Count(),
		Concepts: m.linker.Len(),
		Session:  m.sync.SessionID(),
		Note:     m.sync.ActivePath(),
		VaultAPI: m.vault.UsingAPI(),
	}
}

// RefreshConcepts rebuilds the concept cache from the vault.
func (m *Memory) RefreshConcepts(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	titles, err := m.vault.Titles(ctx)
	if err != nil {
		return fmt.Errorf("listing note titles: %w", err)
	}
	m.linker.Rebuild(titles)
	return nil
}

// ImportNote adds the messages of an existing conversation note to the
// store and the ledger under their own session. The note is not mirrored
// again. With a session registry, notes unchanged since their last import
// are skipped.
func (m *Memory) ImportNote(ctx context.Context, rel string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.importNote(ctx, rel)
}

func (m *Memory) importNote(ctx context.Context, rel string) (int, error) {
	info, err := m.vault.Stat(ctx, rel)
	if err != nil {
		return 0, err
	}
	if m.sessions != nil {
		at, err := m.sessions.ImportedAt(rel)
		if err == nil && !info.Modified.After(at) {
			slog.Debug("note already imported", "path", rel)
			return 0, nil
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return 0, err
		}
	}

	content, err := m.vault.Read(ctx, rel)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", rel, err)
	}
	doc := vault.Parse(content)
	base := doc.Created
	if base.IsZero() {
		base = info.Modified
	}
	session := "import-" + conversation.NoteTitle(rel)

	n := 0
	for i, msg := range doc.Messages {
		if err := msg.Validate(); err != nil {
			slog.Warn("skipping malformed imported message", "path", rel, "error", err)
			continue
		}
		ts := memory.UnixSeconds(base.Add(time.Duration(i) * time.Millisecond))
		entry, err := m.store.AddToSession(ctx, session, msg.Content, msg.Role, &ts)
		if err != nil {
			return n, fmt.Errorf("importing %s: %w", rel, err)
		}
		n++
		m.classify(msg.Content, msg.Role, entry)
	}

	if m.sessions != nil {
		if err := m.sessions.MarkImported(rel, info.Modified, n); err != nil {
			slog.Warn("recording import failed", "path", rel, "error", err)
		}
	}
	slog.Info("imported note", "path", rel, "messages", n)
	return n, nil
}

// ImportAll imports every conversation note in the memory folder and
// returns the number of messages added.
func (m *Memory) ImportAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	notes, err := m.vault.ConversationNotes(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing conversation notes: %w", err)
	}
	total := 0
	for _, n := range notes {
		added, err := m.importNote(ctx, n.Path)
		total += added
		if err != nil {
			slog.Warn("importing note failed", "path", n.Path, "error", err)
		}
	}
	return total, nil
}

// Backfill writes one note per stored session when the memory folder
// holds no conversation notes yet. It returns the number of notes written.
func (m *Memory) Backfill(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store.Len() == 0 {
		return 0, nil
	}
	existing, err := m.vault.ConversationNotes(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing conversation notes: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	written := 0
	for _, id := range m.store.Sessions() {
		entries := m.store.SessionEntries(id)
		if len(entries) == 0 {
			continue
		}
		msgs := make([]memory.Message, 0, len(entries))
		for _, e := range entries {
			msgs = append(msgs, memory.Message{Role: e.Role, Content: e.Text, Time: e.Time()})
		}
		title := "Session_" + id
		rel := m.vault.NotePath(title + ".md")
		if m.vault.Exists(ctx, rel) {
			continue
		}
		content := vault.Render(vault.Document{Title: title, Created: entries[0].Time(), Messages: msgs}, m.linker.Link)
		if err := m.vault.Create(ctx, rel, content); err != nil {
			slog.Warn("backfilling session failed", "session", id, "error", err)
			continue
		}
		m.linker.Add(title)
		written++
	}
	slog.Info("backfilled vault from memory store", "notes", written)
	return written, nil
}

type sessionRecorder struct{ store *storage.Store }

func (r sessionRecorder) RecordSession(_ context.Context, ev conversation.SessionEvent) error {
	return r.store.UpsertSession(storage.Session{
		ID:           ev.SessionID,
		NotePath:     ev.NotePath,
		Title:        ev.Title,
		State:        ev.State.String(),
		Messages:     ev.Messages,
		UserMessages: ev.UserMessages,
		UpdatedAt:    ev.At,
	})
}
