// Package conversation mirrors the active chat session into a vault note.
// The engine owns one note at a time: it creates it on the first message,
// rewrites it on every later message, renames it once when there is
// enough context, and links it from the daily note.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/kalambet/knowitall/internal/memory"
	"github.com/kalambet/knowitall/internal/vault"
)

// State is the lifecycle position of the active note.
type State int

const (
	NoActiveNote State = iota
	ActiveUnnamed
	ActiveNamed
)

func (s State) String() string {
	switch s {
	case NoActiveNote:
		return "no_active_note"
	case ActiveUnnamed:
		return "active_unnamed"
	case ActiveNamed:
		return "active_named"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// renameThreshold is the number of user messages that triggers the one
// rename attempt.
const renameThreshold = 2

// KnowledgeBase is the subset of the vault the engine writes through.
type KnowledgeBase interface {
	NotePath(name string) string
	Create(ctx context.Context, rel, content string) error
	Update(ctx context.Context, rel, content string) error
	Rename(ctx context.Context, oldRel, newRel string) error
	Exists(ctx context.Context, rel string) bool
	AppendDailyLink(ctx context.Context, notePath, summary string, at time.Time) error
}

// TitleGenerator produces a raw title from recent user turns.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, userTurns []string) (string, error)
}

// Linker rewrites concept mentions and learns new note titles.
type Linker interface {
	Link(text string) string
	Add(title string)
}

// SessionEvent is reported to a SessionRecorder after every message.
type SessionEvent struct {
	SessionID    string
	NotePath     string
	Title        string
	State        State
	Messages     int
	UserMessages int
	At           time.Time
}

// SessionRecorder persists session progress.
type SessionRecorder interface {
	RecordSession(ctx context.Context, ev SessionEvent) error
}

// Engine is the note lifecycle state machine. It is not safe for
// concurrent use.
type Engine struct {
	kb       KnowledgeBase
	titles   TitleGenerator
	linker   Linker
	recorder SessionRecorder
	now      func() time.Time

	session         string
	state           State
	active          string
	title           string
	created         time.Time
	messages        []memory.Message
	renameAttempted bool
}

// Option configures an Engine.
type Option func(*Engine)

func WithLinker(l Linker) Option { return func(e *Engine) { e.linker = l } }
func WithRecorder(r SessionRecorder) Option { return func(e *Engine) { e.recorder = r } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithSession(id string) Option { return func(e *Engine) { e.session = id } }

// New returns an engine in NoActiveNote.
func New(kb KnowledgeBase, titles TitleGenerator, opts ...Option) *Engine {
	e := &Engine{kb: kb, titles: titles, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	if e.session == "" {
		e.session = memory.NewSessionID(e.now())
	}
	return e
}

func (e *Engine) State() State { return e.state }
func (e *Engine) ActivePath() string { return e.active }
func (e *Engine) Title() string { return e.title }
func (e *Engine) SessionID() string { return e.session }
func (e *Engine) MessageCount() int { return len(e.messages) }

// Reset forgets the active note and starts sessionID. An empty id
// generates a fresh one.
func (e *Engine) Reset(sessionID string) {
	if sessionID == "" {
		sessionID = memory.NewSessionID(e.now())
	}
	e.session = sessionID
	e.state = NoActiveNote
	e.active = ""
	e.title = ""
	e.created = time.Time{}
	e.messages = nil
	e.renameAttempted = false
}

// Add mirrors msg into the vault. Failures are logged, never returned:
// the conversation continues whether or not the note could be written.
func (e *Engine) Add(ctx context.Context, msg memory.Message) {
	if err := msg.Validate(); err != nil {
		slog.Warn("skipping malformed message", "session", e.session, "error", err)
		return
	}
	if msg.Time.IsZero() {
		msg.Time = e.now()
	}
	e.messages = append(e.messages, msg)

	if e.state == NoActiveNote {
		e.createNote(ctx)
	} else {
		e.updateNote(ctx)
	}

	if e.state == ActiveUnnamed && !e.renameAttempted && e.userMessages() >= renameThreshold {
		e.rename(ctx)
	}
	e.record(ctx)
}

func (e *Engine) createNote(ctx context.Context) {
	now := e.now()
	rel, title := e.freshNote(ctx, now)
	content := e.render(title, now)
	if err := e.kb.Create(ctx, rel, content); err != nil {
		slog.Warn("creating conversation note failed, will retry on next message",
			"session", e.session, "path", rel, "error", err)
		return
	}
	e.state = ActiveUnnamed
	e.adopt(ctx, rel, title, now, "")
}

func (e *Engine) updateNote(ctx context.Context) {
	err := e.kb.Update(ctx, e.active, e.render(e.title, e.created))
	if err == nil {
		return
	}
	slog.Warn("updating conversation note failed, starting a new note",
		"session", e.session, "path", e.active, "error", err)

	now := e.now()
	rel, title := e.freshNote(ctx, now)
	if err := e.kb.Create(ctx, rel, e.render(title, now)); err != nil {
		slog.Warn("creating replacement note failed", "session", e.session, "path", rel, "error", err)
		return
	}
	e.adopt(ctx, rel, title, now, "")
}

// adopt points the engine at a newly written note.
func (e *Engine) adopt(ctx context.Context, rel, title string, created time.Time, summary string) {
	e.active = rel
	e.title = title
	e.created = created
	if e.linker != nil {
		e.linker.Add(title)
	}
	if err := e.kb.AppendDailyLink(ctx, rel, summary, created); err != nil {
		slog.Warn("updating daily note failed", "note", rel, "error", err)
	}
}

func (e *Engine) rename(ctx context.Context) {
	e.renameAttempted = true

	raw, err := e.titles.GenerateTitle(ctx, e.recentUserTurns(3))
	if err != nil {
		slog.Warn("generating note title failed", "session", e.session, "error", err)
		return
	}
	clean := SanitizeTitle(raw)
	if clean == "" {
		slog.Warn("generated note title unusable", "session", e.session, "raw", raw)
		return
	}

	now := e.now()
	name := now.Format("20060102") + "_" + clean
	rel := e.kb.NotePath(name + ".md")
	if e.kb.Exists(ctx, rel) {
		name += "_" + now.Format("150405")
		rel = e.kb.NotePath(name + ".md")
	}
	if err := e.kb.Rename(ctx, e.active, rel); err != nil {
		slog.Warn("renaming conversation note failed", "session", e.session, "from", e.active, "to", rel, "error", err)
		return
	}

	slog.Info("renamed conversation note", "session", e.session, "path", rel)
	e.state = ActiveNamed
	e.title = name
	e.active = rel
	if e.linker != nil {
		e.linker.Add(name)
	}
	if err := e.kb.Update(ctx, rel, e.render(name, e.created)); err != nil {
		slog.Warn("rewriting renamed note failed", "path", rel, "error", err)
	}
	if err := e.kb.AppendDailyLink(ctx, rel, strings.ReplaceAll(clean, "_", " "), now); err != nil {
		slog.Warn("updating daily note failed", "note", rel, "error", err)
	}
}

// freshNote picks an unused timestamped note path.
func (e *Engine) freshNote(ctx context.Context, t time.Time) (rel, title string) {
	base := "Conversation_" + t.Format("20060102_150405")
	title = base
	rel = e.kb.NotePath(title + ".md")
	for i := 2; e.kb.Exists(ctx, rel); i++ {
		title = fmt.Sprintf("%s_%d", base, i)
		rel = e.kb.NotePath(title + ".md")
	}
	return rel, title
}

func (e *Engine) render(title string, created time.Time) string {
	var link func(string) string
	if e.linker != nil {
		link = e.linker.Link
	}
	return vault.Render(vault.Document{Title: title, Created: created, Messages: e.messages}, link)
}

func (e *Engine) userMessages() int {
	n := 0
	for _, m := range e.messages {
		if m.Role == memory.RoleUser {
			n++
		}
	}
	return n
}

func (e *Engine) recentUserTurns(max int) []string {
	var turns []string
	for i := len(e.messages) - 1; i >= 0 && len(turns) < max; i-- {
		if e.messages[i].Role == memory.RoleUser {
			turns = append([]string{e.messages[i].Content}, turns...)
		}
	}
	return turns
}

func (e *Engine) record(ctx context.Context) {
	if e.recorder == nil {
		return
	}
	ev := SessionEvent{
		SessionID:    e.session,
		NotePath:     e.active,
		Title:        e.title,
		State:        e.state,
		Messages:     len(e.messages),
		UserMessages: e.userMessages(),
		At:           e.now(),
	}
	if err := e.recorder.RecordSession(ctx, ev); err != nil {
		slog.Warn("recording session failed", "session", e.session, "error", err)
	}
}

// NoteTitle returns the file name of rel without its extension.
func NoteTitle(rel string) string {
	return strings.TrimSuffix(path.Base(rel), path.Ext(rel))
}
