package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/contextmore/internal/api"
	"github.com/kalambet/contextmore/internal/config"
	"github.com/kalambet/contextmore/internal/engine"
	"github.com/kalambet/contextmore/internal/storage"
	"github.com/kalambet/contextmore/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and MCP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		return runServer(host)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStdioMCP()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show contextmore system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "interface to listen on")
}

func newMCPServer(a *app) *server.MCPServer {
	return api.NewMCPServer(api.MCPDeps{
		Ingester:    a.pipeline,
		Searcher:    a.retriever,
		DefaultTopK: a.cfg.Retrieval.TopK,
		Version:     version,
	})
}

func runServer(host string) error {
	fmt.Fprintf(os.Stderr, "contextmore version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	handler := api.NewHandler(api.Deps{
		Ingester:    a.pipeline,
		Searcher:    a.retriever,
		Deleter:     a.registry,
		DefaultTopK: cfg.Retrieval.TopK,
		MCP:         newMCPServer(a),
		Logger:      logger,
	})

	addr := net.JoinHostPort(host, fmt.Sprint(cfg.Server.Port))
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go a.runWorker(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("contextmore listening", "addr", addr, "mcp", "/mcp")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runStdioMCP serves MCP on stdin/stdout. Logs stay on stderr so they do not
// corrupt the protocol stream.
func runStdioMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.runWorker(ctx)

	logger.Info("MCP server started (stdio transport)")
	stdioSrv := server.NewStdioServer(newMCPServer(a))
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	base := serverURL
	if base == "" {
		base = fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	}
	client := &http.Client{Timeout: 2 * time.Second}
	printStatus("Server", "%s", serverState(client, base))

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	eng, err := engine.Detect(engine.DetectConfig{
		Provider:      cfg.Embedding.Provider,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
	})
	switch {
	case err != nil:
		printStatus("Embedding", "%v", err)
	case eng.IsRunning(probeCtx):
		printStatus("Embedding", "%s running (%s)", cfg.Embedding.Provider, cfg.Embedding.Model)
	default:
		printStatus("Embedding", "%s not reachable", cfg.Embedding.Provider)
	}

	printStatus("Vector store", "%s (size %s)", cfg.Vector.Backend, vectorSizeLabel(cfg.Vector.Size))

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		printStatus("Journal", "unavailable: %v", err)
	} else {
		defer store.Close()
		if counts, err := store.CountJobs(); err == nil {
			printStatus("Journal", "%s", journalLabel(counts))
		}
		if cfg.Vector.Backend == config.BackendSQLite {
			if n, err := vectorstore.NewSQLiteStore(store.DB()).Count(ctx); err == nil {
				printStatus("Chunks", "%d", n)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Config", "%s", config.ConfigFilePath())
	return nil
}

func serverState(client *http.Client, base string) string {
	resp, err := client.Get(base + "/health")
	if err != nil {
		return "stopped"
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return "running at " + base
	}
	return fmt.Sprintf("error (HTTP %d)", resp.StatusCode)
}

func vectorSizeLabel(size int) string {
	if size == 0 {
		return "native"
	}
	return fmt.Sprint(size)
}

// journalLabel renders job counts in a fixed status order.
func journalLabel(counts storage.JobCounts) string {
	if len(counts) == 0 {
		return "empty"
	}
	order := map[string]int{
		storage.JobInflight:   0,
		storage.JobPending:    1,
		storage.JobRunning:    2,
		storage.JobFailed:     3,
		storage.JobCompleted:  4,
		storage.JobSuperseded: 5,
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool {
		oi, iok := order[statuses[i]]
		oj, jok := order[statuses[j]]
		if iok != jok {
			return iok
		}
		if oi != oj {
			return oi < oj
		}
		return statuses[i] < statuses[j]
	})
	label := ""
	for i, s := range statuses {
		if i > 0 {
			label += ", "
		}
		label += fmt.Sprintf("%d %s", counts[s], s)
	}
	return label
}
