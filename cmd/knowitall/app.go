package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/kalambet/knowitall/internal/composer"
	"github.com/kalambet/knowitall/internal/config"
	"github.com/kalambet/knowitall/internal/engine"
	"github.com/kalambet/knowitall/internal/importance"
	"github.com/kalambet/knowitall/internal/memory"
	"github.com/kalambet/knowitall/internal/pipeline"
	"github.com/kalambet/knowitall/internal/retrieval"
	"github.com/kalambet/knowitall/internal/storage"
	"github.com/kalambet/knowitall/internal/vault"
)

const ledgerFile = "importance.json"

// app is everything a front end needs, opened from one config.
type app struct {
	cfg      config.Config
	engine   engine.Engine
	memory   *pipeline.Memory
	vault    *vault.Vault
	sessions *storage.Store
}

// openApp wires the components and probes the vault API once. The
// inference engine is not contacted; callers that need it run
// engine.EnsureReady themselves.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	emb := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)

	store, err := memory.Open(cfg.Storage.DataDir, emb)
	if err != nil {
		return nil, fmt.Errorf("opening memory store: %w", err)
	}

	rules, err := loadRules(cfg.Importance)
	if err != nil {
		return nil, err
	}
	cls, err := importance.New(rules, filepath.Join(cfg.Storage.DataDir, ledgerFile), emb)
	if err != nil {
		return nil, fmt.Errorf("opening importance ledger: %w", err)
	}

	fs, err := vault.NewFileSystem(cfg.Vault.Path, cfg.Vault.Folder)
	if err != nil {
		return nil, fmt.Errorf("opening vault: %w", err)
	}
	var apiClient *vault.APIClient
	if cfg.Vault.APIURL != "" {
		apiClient = vault.NewAPIClient(cfg.Vault.APIURL, cfg.Vault.APIToken, cfg.Vault.APITimeout)
	}
	v := vault.New(fs, apiClient)
	v.Probe(ctx)

	sessions, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	mem := pipeline.New(pipeline.Components{
		Store:        store,
		Classifier:   cls,
		Vault:        v,
		Linker:       vault.NewLinker(nil),
		Titles:       engine.NewTitleGenerator(eng, cfg.Ollama.ChatModel),
		Sessions:     sessions,
		Composer:     composer.New(0),
		TopK:         cfg.Retrieval.TopK,
		MinResults:   cfg.Retrieval.MinResults,
		HistoryTurns: cfg.Chat.HistoryTurns,
	})
	if err := mem.RefreshConcepts(ctx); err != nil {
		slog.Warn("loading concepts failed", "error", err)
	}

	return &app{cfg: cfg, engine: eng, memory: mem, vault: v, sessions: sessions}, nil
}

// loadRules reads the rules file when one is configured; otherwise the
// built-in rules use the configured similarity floor.
func loadRules(cfg config.ImportanceConfig) (importance.Rules, error) {
	if cfg.RulesFile == "" {
		rules := importance.DefaultRules()
		rules.MinSimilarity = cfg.MinSimilarity
		return rules, nil
	}
	rules, err := importance.LoadRules(cfg.RulesFile)
	if err != nil {
		return importance.Rules{}, fmt.Errorf("loading importance rules: %w", err)
	}
	return rules, nil
}

func (a *app) Close() {
	if err := a.sessions.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
	a.vault.Close()
}

// loadConfig loads the config and installs logging in one step.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}
