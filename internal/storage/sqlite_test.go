package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent opens the same database twice and checks that
// no migration is applied again.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("applied %v, want 2 migrations", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", "idx_sessions_updated").Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	if count != 1 {
		t.Errorf("index idx_sessions_updated not found")
	}
}

func TestUpsertSession_KeepsStartedAt(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	if err := s.UpsertSession(Session{ID: "s1", State: "active_unnamed", Messages: 1, UserMessages: 1, StartedAt: start, UpdatedAt: start}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	later := start.Add(time.Minute)
	if err := s.UpsertSession(Session{ID: "s1", NotePath: "mem/20250501_Trip.md", Title: "20250501_Trip", State: "active_named", Messages: 4, UserMessages: 2, StartedAt: later, UpdatedAt: later}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	got, err := s.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !got.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, start)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
	}
	if got.State != "active_named" || got.Messages != 4 || got.NotePath != "mem/20250501_Trip.md" {
		t.Errorf("session = %+v", got)
	}
}

func TestUpsertSession_RequiresID(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertSession(Session{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestGetSession_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetSession("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListSessions_Order(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		if err := s.UpsertSession(Session{ID: fmt.Sprintf("s%d", i), StartedAt: ts, UpdatedAt: ts}); err != nil {
			t.Fatalf("UpsertSession: %v", err)
		}
	}

	got, err := s.ListSessions(3)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d sessions, want 3", len(got))
	}
	for i, want := range []string{"s4", "s3", "s2"} {
		if got[i].ID != want {
			t.Errorf("got[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestImports(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.ImportedAt("mem/a.md"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	mod := time.Date(2025, 5, 1, 9, 0, 0, 123456789, time.UTC)
	if err := s.MarkImported("mem/a.md", mod, 3); err != nil {
		t.Fatalf("MarkImported: %v", err)
	}
	got, err := s.ImportedAt("mem/a.md")
	if err != nil {
		t.Fatalf("ImportedAt: %v", err)
	}
	if !got.Equal(mod) {
		t.Errorf("ImportedAt = %v, want %v", got, mod)
	}

	newer := mod.Add(time.Hour)
	if err := s.MarkImported("mem/a.md", newer, 5); err != nil {
		t.Fatalf("MarkImported again: %v", err)
	}
	if got, _ := s.ImportedAt("mem/a.md"); !got.Equal(newer) {
		t.Errorf("ImportedAt after update = %v, want %v", got, newer)
	}
}
