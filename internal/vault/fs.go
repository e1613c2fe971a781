package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
)

var (
	ErrNotFound    = errors.New("note not found")
	ErrExists      = errors.New("note already exists")
	ErrInvalidPath = errors.New("invalid note path")
	ErrUnavailable = errors.New("vault api not configured")
)

// DailyDir is the folder, under the memory folder, holding daily notes.
const DailyDir = "Daily Notes"

// NoteInfo describes a note. Path is vault-relative with forward slashes.
type NoteInfo struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	Content  string    `json:"content,omitempty"`
}

type cachedNote struct {
	content string
	modTime time.Time
	size    int64
}

// FileSystem reads and writes notes directly in the vault directory.
// Note reads go through a small cache that is checked against the file's
// mtime and size, so edits made outside this process are never masked.
type FileSystem struct {
	root   string
	folder string
	cache  *ristretto.Cache
}

// NewFileSystem opens the vault at root and makes sure the memory folder,
// the daily notes folder and the Obsidian app settings exist.
func NewFileSystem(root, folder string) (*FileSystem, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     32 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating note cache: %w", err)
	}
	f := &FileSystem{root: root, folder: strings.Trim(filepath.ToSlash(folder), "/"), cache: cache}
	if err := f.bootstrap(); err != nil {
		cache.Close()
		return nil, err
	}
	return f, nil
}

func (f *FileSystem) bootstrap() error {
	memDir := filepath.Join(f.root, filepath.FromSlash(f.folder))
	if err := os.MkdirAll(filepath.Join(memDir, DailyDir), 0o755); err != nil {
		return fmt.Errorf("creating memory folder: %w", err)
	}

	obsidian := filepath.Join(f.root, ".obsidian")
	if err := os.MkdirAll(obsidian, 0o755); err != nil {
		return fmt.Errorf("creating .obsidian: %w", err)
	}
	appJSON := filepath.Join(obsidian, "app.json")
	if _, err := os.Stat(appJSON); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(appJSON, []byte(`{"promptDelete": false}`+"\n"), 0o644); err != nil {
			return fmt.Errorf("writing app.json: %w", err)
		}
	}

	readme := filepath.Join(memDir, "README.md")
	if _, err := os.Stat(readme); errors.Is(err, os.ErrNotExist) {
		body := "# AI Memory\n\nConversation notes written by knowitall. " +
			"Each chat session gets its own note; daily notes in `" + DailyDir + "` link to them.\n"
		if err := os.WriteFile(readme, []byte(body), 0o644); err != nil {
			return fmt.Errorf("writing README: %w", err)
		}
	}
	return nil
}

// Close releases the read cache.
func (f *FileSystem) Close() { f.cache.Close() }

// Root returns the vault directory.
func (f *FileSystem) Root() string { return f.root }

// Folder returns the vault-relative memory folder.
func (f *FileSystem) Folder() string { return f.folder }

func (f *FileSystem) abs(rel string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(rel))
	if clean == "/" {
		return "", ErrInvalidPath
	}
	return filepath.Join(f.root, filepath.FromSlash(clean[1:])), nil
}

// Exists reports whether the note at rel is present.
func (f *FileSystem) Exists(rel string) bool {
	p, err := f.abs(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Create writes a new note and fails with ErrExists if rel is taken.
func (f *FileSystem) Create(rel, content string) error {
	p, err := f.abs(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating note dir: %w", err)
	}
	fh, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", rel, ErrExists)
		}
		return fmt.Errorf("creating %s: %w", rel, err)
	}
	_, werr := fh.WriteString(content)
	if cerr := fh.Close(); werr == nil {
		werr = cerr
	}
	f.cache.Del(rel)
	if werr != nil {
		return fmt.Errorf("writing %s: %w", rel, werr)
	}
	return nil
}

// Update replaces the note content, creating the note if needed.
func (f *FileSystem) Update(rel, content string) error {
	p, err := f.abs(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating note dir: %w", err)
	}
	f.cache.Del(rel)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	return nil
}

// Read returns the note content.
func (f *FileSystem) Read(rel string) (string, error) {
	p, err := f.abs(rel)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", rel, ErrNotFound)
		}
		return "", err
	}
	if v, ok := f.cache.Get(rel); ok {
		if c, ok := v.(cachedNote); ok && c.modTime.Equal(st.ModTime()) && c.size == st.Size() {
			return c.content, nil
		}
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", rel, err)
	}
	content := string(data)
	f.cache.Set(rel, cachedNote{content: content, modTime: st.ModTime(), size: st.Size()}, int64(len(data))+1)
	return content, nil
}

// Rename moves a note. The target must not exist.
func (f *FileSystem) Rename(oldRel, newRel string) error {
	from, err := f.abs(oldRel)
	if err != nil {
		return err
	}
	to, err := f.abs(newRel)
	if err != nil {
		return err
	}
	if _, err := os.Stat(to); err == nil {
		return fmt.Errorf("%s: %w", newRel, ErrExists)
	}
	f.cache.Del(oldRel)
	f.cache.Del(newRel)
	if err := os.Rename(from, to); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", oldRel, ErrNotFound)
		}
		return fmt.Errorf("renaming %s: %w", oldRel, err)
	}
	return nil
}

// Stat describes a single note without reading it.
func (f *FileSystem) Stat(rel string) (NoteInfo, error) {
	p, err := f.abs(rel)
	if err != nil {
		return NoteInfo{}, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return NoteInfo{}, fmt.Errorf("%s: %w", rel, ErrNotFound)
	}
	if err != nil {
		return NoteInfo{}, fmt.Errorf("stat %s: %w", rel, err)
	}
	name := path.Base(rel)
	return NoteInfo{
		Path:     path.Clean(rel),
		Name:     strings.TrimSuffix(name, path.Ext(name)),
		Size:     info.Size(),
		Created:  info.ModTime(),
		Modified: info.ModTime(),
	}, nil
}

// Invalidate drops a cached read after the note was written elsewhere.
func (f *FileSystem) Invalidate(rel string) { f.cache.Del(rel) }

// List returns every markdown note in the vault, skipping hidden entries.
// Created is the modification time; portable creation times do not exist.
func (f *FileSystem) List() ([]NoteInfo, error) {
	var notes []NoteInfo
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if p != f.root && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(name), ".md") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return nil
		}
		notes = append(notes, NoteInfo{
			Path:     filepath.ToSlash(rel),
			Name:     strings.TrimSuffix(name, filepath.Ext(name)),
			Size:     info.Size(),
			Created:  info.ModTime(),
			Modified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking vault: %w", err)
	}
	return notes, nil
}

// Search returns notes whose name or content contains query, ignoring
// case, with their content filled in.
func (f *FileSystem) Search(query string) ([]NoteInfo, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	notes, err := f.List()
	if err != nil {
		return nil, err
	}
	var out []NoteInfo
	for _, n := range notes {
		content, err := f.Read(n.Path)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(n.Name), q) || strings.Contains(strings.ToLower(content), q) {
			n.Content = content
			out = append(out, n)
		}
	}
	return out, nil
}

// Recent returns up to limit notes, most recently modified first.
func (f *FileSystem) Recent(limit int) ([]NoteInfo, error) {
	notes, err := f.List()
	if err != nil {
		return nil, err
	}
	SortByModified(notes)
	if limit > 0 && limit < len(notes) {
		notes = notes[:limit]
	}
	return notes, nil
}

// SortByModified orders notes newest first.
func SortByModified(notes []NoteInfo) {
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].Modified.After(notes[j].Modified) })
}
