package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Ollama     OllamaConfig
	Storage    StorageConfig
	Vault      VaultConfig
	Retrieval  RetrievalConfig
	Importance ImportanceConfig
	Chat       ChatConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type VaultConfig struct {
	Path       string
	Folder     string
	APIURL     string
	APIToken   string
	APITimeout time.Duration
}

type RetrievalConfig struct {
	TopK       int
	MinResults int
}

type ImportanceConfig struct {
	RulesFile     string
	MinSimilarity float64
}

type ChatConfig struct {
	HistoryTurns int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	vaultPath := filepath.Join("Documents", "Obsidian Vault")
	if home, err := os.UserHomeDir(); err == nil {
		vaultPath = filepath.Join(home, vaultPath)
	}
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Vault: VaultConfig{
			Path:       vaultPath,
			Folder:     "ai-know-it-all",
			APIURL:     "http://127.0.0.1:27124",
			APITimeout: 2 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:       5,
			MinResults: 3,
		},
		Importance: ImportanceConfig{
			MinSimilarity: 0.3,
		},
		Chat: ChatConfig{
			HistoryTurns: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from, lowest precedence first: defaults,
// the JSON file at $XDG_CONFIG_HOME/knowitall/config.json, a .env file in
// the working directory, KNOWITALL_* environment variables, and finally
// secrets from $XDG_DATA_HOME/knowitall/secrets.json for any secret the
// environment left empty.
//
// Values from .env never replace variables already set in the process
// environment.
func Load() (Config, error) {
	loadDotEnv(".env")
	return loadWith(newFileBackend(configFilePath()), fileSecrets{path: secretsFilePath()})
}

func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load %s: %v. Ignoring it.\n", path, err)
	}
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	cfg.Vault.Path = expandHome(cfg.Vault.Path)
	cfg.Storage.DataDir = expandHome(cfg.Storage.DataDir)
	cfg.Importance.RulesFile = expandHome(cfg.Importance.RulesFile)

	if cfg.Vault.Folder == "" || strings.Contains(cfg.Vault.Folder, "..") {
		return Config{}, fmt.Errorf("invalid vault.folder %q", cfg.Vault.Folder)
	}
	return cfg, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
