package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kalambet/contextmore/internal/extract"
	"github.com/panjf2000/ants/v2"
)

const defaultFolderWorkers = 4

// FileIngester ingests one uploaded file.
type FileIngester interface {
	IngestFile(ctx context.Context, req FileRequest) (Result, error)
}

// FolderOptions controls a folder ingestion.
type FolderOptions struct {
	// Prefix is prepended to every derived call name.
	Prefix    string
	Recursive bool
	Metadata  map[string]string
	Workers   int
	Logger    *slog.Logger
}

// FileResult is the outcome for one file of a folder.
type FileResult struct {
	Path     string
	CallName string
	Result   Result
	Err      error
}

// FolderSummary lists per-file outcomes in scan order.
type FolderSummary struct {
	Files     []FileResult
	Succeeded int
	Failed    int
}

// ScanFolder returns the supported files under dir, sorted by path. Only
// the top level is scanned unless recursive is set.
func ScanFolder(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("reading folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && extract.IsSupportedFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// FolderCallName derives a call name from the file stem, its folder relative
// to root (recursive scans only) and an optional prefix, joined by " - ".
func FolderCallName(root, path, prefix string, recursive bool) string {
	var parts []string
	if prefix != "" {
		parts = append(parts, prefix)
	}
	if recursive {
		if rel, err := filepath.Rel(root, filepath.Dir(path)); err == nil && rel != "." {
			parts = append(parts, filepath.ToSlash(rel))
		}
	}
	parts = append(parts, fileStem(filepath.Base(path)))
	return strings.Join(parts, " - ")
}

// IngestFolder ingests every supported file under dir on a bounded worker
// pool. A failing file is recorded in the summary and does not stop the
// others; the returned error covers only scan and pool failures.
func IngestFolder(ctx context.Context, ing FileIngester, dir string, opts FolderOptions) (FolderSummary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "folder", "dir", dir)

	files, err := ScanFolder(dir, opts.Recursive)
	if err != nil {
		return FolderSummary{}, err
	}
	if len(files) == 0 {
		logger.Warn("no supported files found")
		return FolderSummary{}, nil
	}
	logger.Info("ingesting folder", "files", len(files))

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultFolderWorkers
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return FolderSummary{}, fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Release()

	results := make([]FileResult, len(files))
	var wg sync.WaitGroup
	for i, path := range files {
		i, path := i, path
		results[i] = FileResult{Path: path, CallName: FolderCallName(dir, path, opts.Prefix, opts.Recursive)}

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				results[i].Err = ctx.Err()
				return
			}
			results[i].Result, results[i].Err = ingestPath(ctx, ing, path, results[i].CallName, opts.Metadata)
		})
		if submitErr != nil {
			wg.Done()
			results[i].Err = fmt.Errorf("submitting %s: %w", path, submitErr)
		}
	}
	wg.Wait()

	summary := FolderSummary{Files: results}
	for _, r := range results {
		if r.Err != nil {
			summary.Failed++
			logger.Warn("file failed", "path", r.Path, "error", r.Err)
			continue
		}
		summary.Succeeded++
	}
	logger.Info("folder done", "succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary, nil
}

func ingestPath(ctx context.Context, ing FileIngester, path, callName string, metadata map[string]string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return ing.IngestFile(ctx, FileRequest{
		FileName: filepath.Base(path),
		Data:     data,
		CallName: callName,
		Metadata: metadata,
	})
}
