// Package vault is the markdown knowledge base: a local Obsidian vault,
// optionally reached through the Local REST API plugin, plus the note
// format and the concept linker used when writing notes.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"
)

// Vault routes note operations to the REST API when the startup probe
// succeeded and to the filesystem otherwise. API failures fall through
// to the filesystem; callers never see the difference.
type Vault struct {
	fs    *FileSystem
	api   *APIClient
	apiUp bool
	now   func() time.Time
}

// New creates a Vault. api may be nil. Call Probe once before use to
// enable the API path.
func New(fs *FileSystem, api *APIClient) *Vault {
	return &Vault{fs: fs, api: api, now: time.Now}
}

// Probe checks the API once and remembers the result.
func (v *Vault) Probe(ctx context.Context) bool {
	if v.api == nil {
		return false
	}
	v.apiUp = v.api.Probe(ctx)
	if v.apiUp {
		slog.Info("vault api reachable", "url", v.api.baseURL)
	} else {
		slog.Warn("vault api not available, using filesystem", "url", v.api.baseURL)
	}
	return v.apiUp
}

// UsingAPI reports whether the API path is active.
func (v *Vault) UsingAPI() bool { return v.apiUp }

// Folder returns the vault-relative memory folder.
func (v *Vault) Folder() string { return v.fs.Folder() }

// NotePath joins a file name onto the memory folder.
func (v *Vault) NotePath(name string) string {
	if v.fs.Folder() == "" {
		return name
	}
	return v.fs.Folder() + "/" + name
}

// Close releases filesystem resources.
func (v *Vault) Close() { v.fs.Close() }

// Create writes a new note at the vault-relative path rel.
func (v *Vault) Create(ctx context.Context, rel, content string) error {
	if v.apiUp {
		if v.fs.Exists(rel) {
			return fmt.Errorf("%s: %w", rel, ErrExists)
		}
		err := v.api.Create(ctx, rel, content)
		if err == nil {
			v.fs.Invalidate(rel)
			return nil
		}
		slog.Warn("vault api create failed, using filesystem", "path", rel, "error", err)
	}
	return v.fs.Create(rel, content)
}

// Update replaces a note, creating it if missing.
func (v *Vault) Update(ctx context.Context, rel, content string) error {
	if v.apiUp {
		err := v.api.Update(ctx, rel, content)
		if err == nil {
			v.fs.Invalidate(rel)
			return nil
		}
		slog.Warn("vault api update failed, using filesystem", "path", rel, "error", err)
	}
	return v.fs.Update(rel, content)
}

// Read returns a note's content.
func (v *Vault) Read(ctx context.Context, rel string) (string, error) {
	if v.apiUp {
		content, err := v.api.Read(ctx, rel)
		if err == nil {
			return content, nil
		}
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("vault api read failed, using filesystem", "path", rel, "error", err)
		}
	}
	return v.fs.Read(rel)
}

// Rename moves a note on disk. The REST API has no rename, and notes it
// writes live in the same directory, so this always uses the filesystem.
func (v *Vault) Rename(_ context.Context, oldRel, newRel string) error {
	return v.fs.Rename(oldRel, newRel)
}

// Exists reports whether a note is present on disk.
func (v *Vault) Exists(_ context.Context, rel string) bool {
	return v.fs.Exists(rel)
}

// Stat describes a note on disk.
func (v *Vault) Stat(_ context.Context, rel string) (NoteInfo, error) {
	return v.fs.Stat(rel)
}

// List returns all notes.
func (v *Vault) List(ctx context.Context) ([]NoteInfo, error) {
	if v.apiUp {
		notes, err := v.api.List(ctx)
		if err == nil {
			return notes, nil
		}
		slog.Warn("vault api list failed, using filesystem", "error", err)
	}
	return v.fs.List()
}

// Search returns notes matching query by name or content.
func (v *Vault) Search(ctx context.Context, query string) ([]NoteInfo, error) {
	if v.apiUp {
		notes, err := v.api.Search(ctx, query)
		if err == nil {
			return notes, nil
		}
		slog.Warn("vault api search failed, using filesystem", "query", query, "error", err)
	}
	return v.fs.Search(query)
}

// Recent returns up to limit notes, newest first. Modification times come
// from disk.
func (v *Vault) Recent(_ context.Context, limit int) ([]NoteInfo, error) {
	return v.fs.Recent(limit)
}

// Titles returns the names of all notes, without extension.
func (v *Vault) Titles(ctx context.Context) ([]string, error) {
	notes, err := v.List(ctx)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(notes))
	for _, n := range notes {
		name := n.Name
		if name == "" {
			name = strings.TrimSuffix(path.Base(n.Path), path.Ext(n.Path))
		}
		titles = append(titles, name)
	}
	return titles, nil
}

// ConversationNotes lists notes directly inside the memory folder,
// excluding the README.
func (v *Vault) ConversationNotes(ctx context.Context) ([]NoteInfo, error) {
	notes, err := v.fs.List()
	if err != nil {
		return nil, err
	}
	var out []NoteInfo
	for _, n := range notes {
		if path.Dir(n.Path) == v.fs.Folder() && !strings.EqualFold(path.Base(n.Path), "README.md") {
			out = append(out, n)
		}
	}
	return out, nil
}
