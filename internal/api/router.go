// Package api exposes the memory pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/knowitall/internal/importance"
	"github.com/kalambet/knowitall/internal/memory"
	"github.com/kalambet/knowitall/internal/pipeline"
	"github.com/kalambet/knowitall/internal/retrieval"
	"github.com/kalambet/knowitall/internal/storage"
	"github.com/kalambet/knowitall/internal/vault"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Memory is the subset of *pipeline.Memory the front ends use.
type Memory interface {
	Add(ctx context.Context, msg memory.Message) (*memory.Entry, error)
	Search(ctx context.Context, query string, k int) pipeline.Results
	SearchNotes(ctx context.Context, query string, limit int) []retrieval.Candidate
	Notes(ctx context.Context) ([]vault.NoteInfo, error)
	Recent(limit int) []memory.Entry
	Ledger() map[importance.Category][]importance.Record
	PersonalDetails() map[string]string
	Sessions(limit int) ([]storage.Session, error)
	Reset() string
	Stats() pipeline.Stats
	ImportNote(ctx context.Context, rel string) (int, error)
	ImportAll(ctx context.Context) (int, error)
	Backfill(ctx context.Context) (int, error)
}

var _ Memory = (*pipeline.Memory)(nil)

// Deps holds what the HTTP handler needs.
type Deps struct {
	Memory Memory
	Token  string
}

// NewHandler returns the REST API. /health is open; everything under /v1
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)

	r.Get("/health", handleHealth(deps.Memory))

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/memory", handleRemember(deps.Memory))
		r.Get("/memory/search", handleSearch(deps.Memory))
		r.Get("/memory/recent", handleRecent(deps.Memory))
		r.Get("/notes", handleNotes(deps.Memory))
		r.Get("/notes/search", handleSearchNotes(deps.Memory))
		r.Post("/notes/import", handleImport(deps.Memory))
		r.Post("/notes/backfill", handleBackfill(deps.Memory))
		r.Get("/ledger", handleLedger(deps.Memory))
		r.Get("/personal", handlePersonal(deps.Memory))
		r.Get("/sessions", handleSessions(deps.Memory))
		r.Post("/session/reset", handleReset(deps.Memory))
	})

	return r
}

func handleHealth(m Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"stats":  m.Stats(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
