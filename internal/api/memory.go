package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/knowitall/internal/memory"
	"github.com/kalambet/knowitall/internal/storage"
	"github.com/kalambet/knowitall/internal/vault"
)

// RememberRequest is the body of POST /v1/memory. Role accepts "ai" as an
// alias for assistant; a missing time means now.
type RememberRequest struct {
	Role    string     `json:"role"`
	Content string     `json:"content"`
	Time    *time.Time `json:"time,omitempty"`
}

// Message normalizes the request into a memory.Message.
func (req RememberRequest) Message() (memory.Message, error) {
	role, err := memory.ParseRole(req.Role)
	if err != nil {
		return memory.Message{}, err
	}
	msg := memory.Message{Role: role, Content: req.Content}
	if req.Time != nil {
		msg.Time = *req.Time
	}
	if err := msg.Validate(); err != nil {
		return memory.Message{}, err
	}
	return msg, nil
}

func handleRemember(m Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req RememberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		msg, err := req.Message()
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		entry, err := m.Add(r.Context(), msg)
		if err != nil {
			slog.Error("remember failed", "request_id", requestIDFrom(r.Context()), "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store message: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func handleSearch(m Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		k := parseIntParam(r, "k", 0, 50)
		writeJSON(w, http.StatusOK, m.Search(r.Context(), q, k))
	}
}

func handleRecent(m Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 10, 200)
		entries := m.Recent(limit)
		if entries == nil {
			entries = []memory.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleNotes(m Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notes, err := m.Notes(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to list notes: %v", err)
			return
		}
		if notes == nil {
			notes = []vault.NoteInfo{}
		}
		writeJSON(w, http.StatusOK, notes)
	}
}

func handleSearchNotes(m Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", 0, 50)
		writeJSON(w, http.StatusOK, m.SearchNotes(r.Context(), q, limit))
	}
}

// ImportRequest is the body of POST /v1/notes/import. An empty path
// imports every conversation note.
type ImportRequest struct {
	Path string `json:"path"`
}

func handleImport(m Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var (
			n   int
			err error
		)
		if req.Path == "" {
			n, err = m.ImportAll(r.Context())
		} else {
			n, err = m.ImportNote(r.Context(), req.Path)
		}
		switch {
		case errors.Is(err, vault.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found_error", "note not found: %s", req.Path)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "import failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"imported": n})
	}
}

func handleBackfill(m Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := m.Backfill(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "backfill failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"written": n})
	}
}

func handleLedger(m Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Ledger())
	}
}

func handlePersonal(m Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.PersonalDetails())
	}
}

func handleSessions(m Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		sessions, err := m.Sessions(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sessions: %v", err)
			return
		}
		if sessions == nil {
			sessions = []storage.Session{}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func handleReset(m Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"session": m.Reset()})
	}
}
