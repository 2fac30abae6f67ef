// Command contextmore ingests documents into a vector store and answers
// similarity queries over HTTP, MCP and the command line.
package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kalambet/contextmore/internal/config"
)

var version = "dev"

var (
	noColor   bool
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:           "contextmore",
	Short:         "Document ingestion and semantic retrieval",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (default: http://127.0.0.1:<server.port>)")

	rootCmd.AddCommand(serveCmd, mcpCmd, statusCmd)
	rootCmd.AddCommand(ingestCmd, ingestFolderCmd, queryCmd, deleteCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		printWarning("could not load .env: %v", err)
	}
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// setupLogging installs the default text logger on stderr.
func setupLogging(cfg config.Config) *slog.Logger {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
