package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/contextmore/internal/api"
	"github.com/kalambet/contextmore/internal/config"
	"github.com/kalambet/contextmore/internal/extract"
	"github.com/kalambet/contextmore/internal/ingest"
	"github.com/kalambet/contextmore/internal/retrieval"
)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a file or URL into the knowledge base",
	Long: `Ingest a file or URL into the knowledge base. Re-ingesting the same
URL or file name replaces the stored document.

Examples:
  contextmore ingest --url https://example.com/article --call-name "Example article"
  contextmore ingest --url https://intranet/wiki --call-name Wiki --header "Cookie=session=abc"
  contextmore ingest --file ./notes.pdf --tag team=docs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		rawURL, _ := cmd.Flags().GetString("url")
		callName, _ := cmd.Flags().GetString("call-name")
		tags, _ := cmd.Flags().GetStringArray("tag")

		if (file == "") == (rawURL == "") {
			return fmt.Errorf("exactly one of --file or --url is required")
		}
		metadata, err := ingest.ParseTags(tags)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)

		var res api.IngestResponse
		if file != "" {
			if _, err := extract.FormatFromFileName(file); err != nil {
				return err
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			if callName == "" {
				callName = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
			}
			resp, err := client.upload(ctx, filepath.Base(file), data, callName, metadata)
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &res); err != nil {
				return err
			}
		} else {
			if callName == "" {
				return fmt.Errorf("--call-name is required with --url")
			}
			req, err := embedRequest(cmd, rawURL, callName, metadata)
			if err != nil {
				return err
			}
			resp, err := client.post(ctx, "/embed", req)
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &res); err != nil {
				return err
			}
		}

		printSuccess("%s", res.Message)
		printStatus("Doc ID", "%s", res.DocID)
		printStatus("Call name", "%s", res.CallName)
		return nil
	},
}

func embedRequest(cmd *cobra.Command, rawURL, callName string, metadata map[string]string) (api.EmbedRequest, error) {
	headers, _ := cmd.Flags().GetStringArray("header")
	basic, _ := cmd.Flags().GetString("basic-auth")

	req := api.EmbedRequest{URL: rawURL, CallName: callName, Metadata: metadata}
	if len(headers) > 0 {
		h := make(map[string]string, len(headers))
		for _, kv := range headers {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return api.EmbedRequest{}, fmt.Errorf("invalid header %q, expected Name=value", kv)
			}
			h[strings.TrimSpace(k)] = v
		}
		req.AuthHeaders = &api.AuthHeaders{Headers: h}
	}
	if basic != "" {
		user, pass, ok := strings.Cut(basic, ":")
		if !ok {
			return api.EmbedRequest{}, fmt.Errorf("invalid --basic-auth, expected user:password")
		}
		req.BasicAuth = &extract.BasicAuth{Username: user, Password: pass}
	}
	return req, nil
}

func init() {
	ingestCmd.Flags().String("file", "", "file to upload (.txt, .pdf, .docx)")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
	ingestCmd.Flags().String("call-name", "", "display name (default: file name without extension)")
	ingestCmd.Flags().StringArray("tag", nil, "metadata key=value, repeatable")
	ingestCmd.Flags().StringArray("header", nil, "extra request header Name=value when fetching --url, repeatable")
	ingestCmd.Flags().String("basic-auth", "", "user:password for fetching --url")
}

// --- ingest-folder ---

var ingestFolderCmd = &cobra.Command{
	Use:   "ingest-folder <dir>",
	Short: "Upload every supported file in a folder",
	Long: `Upload every .txt, .pdf and .docx file in a folder. Call names are built
from the prefix, the relative subfolder (with --recursive) and the file name.

With --watch the folder is ingested once and then watched; changed files
are re-ingested until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		prefix, _ := cmd.Flags().GetString("prefix")
		recursive, _ := cmd.Flags().GetBool("recursive")
		tags, _ := cmd.Flags().GetStringArray("tag")
		workers, _ := cmd.Flags().GetInt("workers")
		watch, _ := cmd.Flags().GetBool("watch")

		metadata, err := ingest.ParseTags(tags)
		if err != nil {
			return err
		}
		if workers <= 0 {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			workers = cfg.Ingest.Workers
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		opts := ingest.FolderOptions{
			Prefix:    prefix,
			Recursive: recursive,
			Metadata:  metadata,
			Workers:   workers,
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		printStep("Ingesting %s", dir)
		summary, err := ingest.IngestFolder(ctx, client, dir, opts)
		if err != nil {
			return err
		}
		for _, fr := range summary.Files {
			printFileResult(fr)
		}
		if len(summary.Files) == 0 {
			printWarning("No supported files found in %s", dir)
		} else {
			printStatus("Summary", "%d succeeded, %d failed", summary.Succeeded, summary.Failed)
		}

		if !watch {
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d files failed", summary.Failed, len(summary.Files))
			}
			return nil
		}

		printStep("Watching %s for changes (Ctrl-C to stop)", dir)
		w := ingest.NewWatcher(client, dir, opts, 0)
		return w.Run(ctx, printFileResult)
	},
}

func printFileResult(fr ingest.FileResult) {
	if fr.Err != nil {
		printError("%s: %v", fr.Path, fr.Err)
		return
	}
	verb := "embedded"
	if fr.Result.IsUpdate {
		verb = "updated"
	}
	printSuccess("%s %s as %q (%d chunks)", verb, fr.Path, fr.CallName, fr.Result.ChunkCount)
}

func init() {
	ingestFolderCmd.Flags().String("prefix", "", "prefix for every call name")
	ingestFolderCmd.Flags().Bool("recursive", false, "include subfolders")
	ingestFolderCmd.Flags().StringArray("tag", nil, "metadata key=value applied to every file, repeatable")
	ingestFolderCmd.Flags().Int("workers", 0, "concurrent uploads (default: ingest.workers)")
	ingestFolderCmd.Flags().Bool("watch", false, "keep watching the folder and re-ingest changed files")
}

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Semantic search over the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		topK, _ := cmd.Flags().GetInt("top-k")
		grouped, _ := cmd.Flags().GetBool("group-by-doc")
		docID, _ := cmd.Flags().GetString("doc-id")
		asJSON, _ := cmd.Flags().GetBool("json")

		req := api.RetrieveRequest{Query: text, GroupByDoc: grouped, DocID: docID}
		if cmd.Flags().Changed("top-k") {
			req.TopK = &topK
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(commandContext(cmd), "/retrieve", req)
		if err != nil {
			return err
		}

		var raw struct {
			Results json.RawMessage `json:"results"`
		}
		if err := decodeJSON(resp, &raw); err != nil {
			return err
		}
		if asJSON {
			_, err := os.Stdout.Write(append(raw.Results, '\n'))
			return err
		}
		if grouped {
			var docs []retrieval.DocumentHit
			if err := json.Unmarshal(raw.Results, &docs); err != nil {
				return fmt.Errorf("decoding results: %w", err)
			}
			printDocuments(docs)
			return nil
		}
		var hits []retrieval.Hit
		if err := json.Unmarshal(raw.Results, &hits); err != nil {
			return fmt.Errorf("decoding results: %w", err)
		}
		printHits(hits)
		return nil
	},
}

func printHits(hits []retrieval.Hit) {
	if len(hits) == 0 {
		fmt.Println("No results found.")
		return
	}
	for i, h := range hits {
		fmt.Printf("\n%s [score: %.3f]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), h.Score)
		fmt.Printf("  %s (%s) chunk %d\n", h.CallName, h.URL, h.ChunkID)
		fmt.Printf("  %s\n", truncate(h.Text, 500))
	}
}

func printDocuments(docs []retrieval.DocumentHit) {
	if len(docs) == 0 {
		fmt.Println("No results found.")
		return
	}
	for i, d := range docs {
		fmt.Printf("\n%s [avg score: %.3f, %d chunks]\n", colorize(colorBold, fmt.Sprintf("%d. %s", i+1, d.CallName)), d.AvgScore, d.TotalChunks)
		fmt.Printf("  %s  %s  %s\n", colorize(colorCyan, d.DocID), d.URL, d.Date.Format(time.DateOnly))
		for _, c := range d.Chunks {
			fmt.Printf("  [%d %.3f] %s\n", c.ChunkID, c.Score, truncate(c.Text, 200))
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func init() {
	queryCmd.Flags().Int("top-k", 5, "number of chunks to return (default: retrieval.top_k on the server)")
	queryCmd.Flags().Bool("group-by-doc", false, "group matching chunks by document")
	queryCmd.Flags().String("doc-id", "", "restrict the search to one document")
	queryCmd.Flags().Bool("json", false, "print raw JSON results")
}

// --- delete ---

var deleteCmd = &cobra.Command{
	Use:   "delete <doc_id>",
	Short: "Delete a document and all of its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(commandContext(cmd), "/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List configuration keys and their environment variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range config.ShowAll(config.Config{}) {
			fmt.Printf("  %s  %s\n", colorize(colorBold, k.Key), k.EnvVar)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configKeysCmd)
}
