package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kalambet/knowitall/internal/importance"
	"github.com/kalambet/knowitall/internal/memory"
	"github.com/kalambet/knowitall/internal/pipeline"
	"github.com/kalambet/knowitall/internal/retrieval"
	"github.com/kalambet/knowitall/internal/storage"
	"github.com/kalambet/knowitall/internal/vault"
)

// fakeMemory records what the handlers pass in and returns canned data.
type fakeMemory struct {
	mu sync.Mutex

	session  string
	added    []memory.Message
	addErr   error
	results  pipeline.Results
	notes    []vault.NoteInfo
	notesErr error
	entries  []memory.Entry
	ledger   map[importance.Category][]importance.Record
	personal map[string]string
	sessions []storage.Session
	imported []string
	resets   int

	lastQuery string
	lastK     int
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{
		session:  "1700000000-abcd1234",
		ledger:   map[importance.Category][]importance.Record{},
		personal: map[string]string{},
	}
}

func (f *fakeMemory) Add(_ context.Context, msg memory.Message) (*memory.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.added = append(f.added, msg)
	return &memory.Entry{
		Text:      msg.Content,
		Role:      msg.Role,
		Timestamp: memory.UnixSeconds(time.Now()),
		SessionID: f.session,
		Index:     len(f.added) - 1,
	}, nil
}

func (f *fakeMemory) Search(_ context.Context, query string, k int) pipeline.Results {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery, f.lastK = query, k
	return f.results
}

func (f *fakeMemory) SearchNotes(_ context.Context, query string, limit int) []retrieval.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery, f.lastK = query, limit
	return f.results.Notes
}

func (f *fakeMemory) Notes(context.Context) ([]vault.NoteInfo, error) { return f.notes, f.notesErr }

func (f *fakeMemory) Recent(limit int) []memory.Entry {
	f.lastK = limit
	if len(f.entries) > limit {
		return f.entries[:limit]
	}
	return f.entries
}

func (f *fakeMemory) Ledger() map[importance.Category][]importance.Record { return f.ledger }

func (f *fakeMemory) PersonalDetails() map[string]string { return f.personal }

func (f *fakeMemory) Sessions(limit int) ([]storage.Session, error) {
	f.lastK = limit
	return f.sessions, nil
}

func (f *fakeMemory) Reset() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.session = "1700000001-ffff0000"
	return f.session
}

func (f *fakeMemory) Stats() pipeline.Stats {
	return pipeline.Stats{Memories: len(f.added), Session: f.session}
}

func (f *fakeMemory) ImportNote(_ context.Context, rel string) (int, error) {
	if rel == "mem/missing.md" {
		return 0, errors.Join(errors.New("stat"), vault.ErrNotFound)
	}
	f.imported = append(f.imported, rel)
	return 2, nil
}

func (f *fakeMemory) ImportAll(context.Context) (int, error) {
	f.imported = append(f.imported, "*")
	return 6, nil
}

func (f *fakeMemory) Backfill(context.Context) (int, error) { return 3, nil }
