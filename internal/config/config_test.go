package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// mockSecrets is a test double for the secrets file.
type mockSecrets map[string]string

func (m mockSecrets) Get(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m mockSecrets) Set(key, value string) error {
	m[key] = value
	return nil
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(newFileBackend(writeTempConfig(t, `{}`)), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q, want %q", cfg.Ollama.BaseURL, "http://localhost:11434")
	}
	if cfg.Ollama.ChatModel != "llama3" {
		t.Errorf("Ollama.ChatModel = %q, want %q", cfg.Ollama.ChatModel, "llama3")
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("Ollama.EmbedModel = %q, want %q", cfg.Ollama.EmbedModel, "nomic-embed-text")
	}
	if cfg.Vault.Folder != "ai-know-it-all" {
		t.Errorf("Vault.Folder = %q, want %q", cfg.Vault.Folder, "ai-know-it-all")
	}
	if cfg.Vault.APIURL != "http://127.0.0.1:27124" {
		t.Errorf("Vault.APIURL = %q", cfg.Vault.APIURL)
	}
	if cfg.Vault.APITimeout != 2*time.Second {
		t.Errorf("Vault.APITimeout = %v, want 2s", cfg.Vault.APITimeout)
	}
	if cfg.Retrieval.TopK != 5 || cfg.Retrieval.MinResults != 3 {
		t.Errorf("Retrieval = %+v, want top_k 5, min_results 3", cfg.Retrieval)
	}
	if cfg.Importance.MinSimilarity != 0.3 {
		t.Errorf("Importance.MinSimilarity = %v, want 0.3", cfg.Importance.MinSimilarity)
	}
	if cfg.Chat.HistoryTurns != 10 {
		t.Errorf("Chat.HistoryTurns = %d, want 10", cfg.Chat.HistoryTurns)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

// TestFileValues verifies that every kind of key is read from the JSON file.
func TestFileValues(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{
  "server.port": 5000,
  "ollama.chat_model": "mistral",
  "storage.data_dir": "/tmp/knowitall-test",
  "vault.folder": "memories",
  "vault.api_timeout": "500ms",
  "retrieval.min_results": "4",
  "importance.min_similarity": 0.55
}`)

	cfg, err := loadWith(newFileBackend(path), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Ollama.ChatModel != "mistral" {
		t.Errorf("Ollama.ChatModel = %q", cfg.Ollama.ChatModel)
	}
	if cfg.Storage.DataDir != "/tmp/knowitall-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Vault.Folder != "memories" {
		t.Errorf("Vault.Folder = %q", cfg.Vault.Folder)
	}
	if cfg.Vault.APITimeout != 500*time.Millisecond {
		t.Errorf("Vault.APITimeout = %v", cfg.Vault.APITimeout)
	}
	if cfg.Retrieval.MinResults != 4 {
		t.Errorf("Retrieval.MinResults = %d", cfg.Retrieval.MinResults)
	}
	if cfg.Importance.MinSimilarity != 0.55 {
		t.Errorf("Importance.MinSimilarity = %v", cfg.Importance.MinSimilarity)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"server.port": 5000, "vault.folder": "from-file"}`)
	t.Setenv("KNOWITALL_SERVER_PORT", "6000")
	t.Setenv("KNOWITALL_VAULT_FOLDER", "from-env")
	t.Setenv("KNOWITALL_VAULT_API_TIMEOUT", "bogus")

	cfg, err := loadWith(newFileBackend(path), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Vault.Folder != "from-env" {
		t.Errorf("Vault.Folder = %q, want from-env", cfg.Vault.Folder)
	}
	if cfg.Vault.APITimeout != 2*time.Second {
		t.Errorf("unparsable env should keep the default, got %v", cfg.Vault.APITimeout)
	}
}

// TestSecretsFallback verifies the secrets file is consulted only when the env is empty.
func TestSecretsFallback(t *testing.T) {
	clearEnv(t)
	secrets := mockSecrets{"server.api_token": "file-token", "vault.api_token": "vault-file"}
	t.Setenv("KNOWITALL_VAULT_API_TOKEN", "vault-env")

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, `{}`)), secrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIToken != "file-token" {
		t.Errorf("Server.APIToken = %q, want file-token", cfg.Server.APIToken)
	}
	if cfg.Vault.APIToken != "vault-env" {
		t.Errorf("Vault.APIToken = %q, want vault-env", cfg.Vault.APIToken)
	}
}

// TestSecretsIgnoredInFile verifies that tokens in config.json are not read.
func TestSecretsIgnoredInFile(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(newFileBackend(writeTempConfig(t, `{"server.api_token": "leaked"}`)), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIToken != "" {
		t.Errorf("Server.APIToken = %q, want empty", cfg.Server.APIToken)
	}
}

func TestDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("KNOWITALL_OLLAMA_CHAT_MODEL")
	os.Unsetenv("KNOWITALL_SERVER_PORT")
	t.Setenv("KNOWITALL_SERVER_PORT", "7000")

	env := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(env, []byte("KNOWITALL_OLLAMA_CHAT_MODEL=phi3\nKNOWITALL_SERVER_PORT=8000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	loadDotEnv(env)
	t.Cleanup(func() { os.Unsetenv("KNOWITALL_OLLAMA_CHAT_MODEL") })

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, `{}`)), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Ollama.ChatModel != "phi3" {
		t.Errorf("Ollama.ChatModel = %q, want phi3 from .env", cfg.Ollama.ChatModel)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, .env must not override the environment", cfg.Server.Port)
	}

	loadDotEnv(filepath.Join(t.TempDir(), "missing.env"))
}

func TestInvalidFolder(t *testing.T) {
	clearEnv(t)
	_, err := loadWith(newFileBackend(writeTempConfig(t, `{"vault.folder": "../outside"}`)), mockSecrets{})
	if err == nil {
		t.Fatal("expected error for a folder escaping the vault")
	}
}

func TestSetKey(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.json"))
	secrets := mockSecrets{}

	if err := setKeyWith(b, secrets, "retrieval.top_k", "8"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if v, ok, _ := b.GetInt("retrieval.top_k"); !ok || v != 8 {
		t.Errorf("retrieval.top_k = %d (%v), want 8", v, ok)
	}
	if err := setKeyWith(b, secrets, "retrieval.top_k", "many"); err == nil {
		t.Error("expected error for non-integer")
	}
	if err := setKeyWith(b, secrets, "vault.api_timeout", "3s"); err != nil {
		t.Errorf("setKeyWith duration: %v", err)
	}
	if err := setKeyWith(b, secrets, "vault.api_timeout", "soon"); err == nil {
		t.Error("expected error for bad duration")
	}
	if err := setKeyWith(b, secrets, "vault.api_token", "tok"); err != nil {
		t.Fatalf("setKeyWith secret: %v", err)
	}
	if secrets["vault.api_token"] != "tok" {
		t.Error("secret not written to the secrets store")
	}
	if _, ok, _ := b.GetString("vault.api_token"); ok {
		t.Error("secret leaked into config file")
	}
	if err := setKeyWith(b, secrets, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Server.APIToken = "hunter2"
	for _, k := range ShowAll(cfg) {
		if k.Value == "hunter2" {
			t.Fatalf("secret %s shown", k.Key)
		}
		if k.Key == "server.api_token" && k.Value != "(set)" {
			t.Errorf("server.api_token shown as %q, want (set)", k.Value)
		}
	}
	if len(ValidKeys()) != len(specs) {
		t.Errorf("ValidKeys() = %d keys, want %d", len(ValidKeys()), len(specs))
	}
}

func TestFileSecrets(t *testing.T) {
	f := fileSecrets{path: filepath.Join(t.TempDir(), "knowitall", "secrets.json")}
	if _, err := f.Get("server.api_token"); err == nil {
		t.Fatal("expected error before the file exists")
	}
	if err := f.Set("server.api_token", "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, err := f.Get("server.api_token"); err != nil || v != "abc" {
		t.Errorf("Get = %q, %v", v, err)
	}
	info, err := os.Stat(f.path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestEnsureToken_GeneratesOnce(t *testing.T) {
	f := fileSecrets{path: filepath.Join(t.TempDir(), "secrets.json")}
	first, err := ensureToken(f)
	if err != nil {
		t.Fatalf("ensureToken: %v", err)
	}
	if first == "" {
		t.Fatal("generated token is empty")
	}
	second, err := ensureToken(f)
	if err != nil {
		t.Fatalf("ensureToken: %v", err)
	}
	if second != first {
		t.Errorf("second call = %q, want stored %q", second, first)
	}
}

func TestEnsureAPIToken_Configured(t *testing.T) {
	cfg := defaults()
	cfg.Server.APIToken = "from-env"
	tok, err := EnsureAPIToken(cfg)
	if err != nil || tok != "from-env" {
		t.Errorf("EnsureAPIToken = %q, %v, want from-env", tok, err)
	}
}
