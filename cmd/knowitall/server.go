package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/knowitall/internal/api"
	"github.com/kalambet/knowitall/internal/config"
	"github.com/kalambet/knowitall/internal/engine"
	"github.com/kalambet/knowitall/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the memory tools over MCP on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, engine and vault status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "knowitall version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	token, err := config.EnsureAPIToken(cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(api.Deps{Memory: a.memory, Token: token}),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("knowitall listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		warmUp(gctx, a)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// warmUp readies the models and backfills the vault. Failures only
// degrade the server: searches return nothing until the engine is up.
func warmUp(ctx context.Context, a *app) {
	if err := engine.EnsureReady(ctx, a.engine, a.cfg.Ollama.ChatModel, a.cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		slog.Warn("inference engine not ready", "error", err)
	}
	if n, err := a.memory.Backfill(ctx); err != nil {
		slog.Warn("vault backfill failed", "error", err)
	} else if n > 0 {
		slog.Info("vault backfilled", "notes", n)
	}
}

func runMCP() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.engine.IsRunning(ctx) {
		slog.Warn("inference engine not reachable; recall will return no memories", "url", cfg.Ollama.BaseURL)
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{Memory: a.memory, Version: version})
	slog.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &apiClient{baseURL: serverURL, httpClient: &http.Client{Timeout: 2 * time.Second}}

	var health struct {
		Status string         `json:"status"`
		Stats  pipeline.Stats `json:"stats"`
	}
	resp, err := client.get(ctx, "/health")
	if err == nil {
		err = decodeJSON(resp, &health)
	}
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		printStatus("Server", "running on port %d", cfg.Server.Port)
		printStatus("Memories", "%d (dims %d)", health.Stats.Memories, health.Stats.Dims)
		printStatus("Important facts", "%d", health.Stats.Facts)
		printStatus("Concepts", "%d", health.Stats.Concepts)
		printStatus("Session", "%s", health.Stats.Session)
		if health.Stats.Note != "" {
			printStatus("Active note", "%s", health.Stats.Note)
		}
		printStatus("Vault API", "%s", onOff(health.Stats.VaultAPI))
	}

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if eng.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}
	printStatus("Chat model", "%s", cfg.Ollama.ChatModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Vault", "%s (folder %s)", cfg.Vault.Path, cfg.Vault.Folder)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func onOff(b bool) string {
	if b {
		return "connected"
	}
	return "filesystem fallback"
}
