package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFileIngester struct {
	mu   sync.Mutex
	reqs map[string]FileRequest
	fail map[string]error
}

func newRecordingFileIngester() *recordingFileIngester {
	return &recordingFileIngester{reqs: map[string]FileRequest{}, fail: map[string]error{}}
}

func (r *recordingFileIngester) IngestFile(_ context.Context, req FileRequest) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs[req.FileName] = req
	if err := r.fail[req.FileName]; err != nil {
		return Result{}, err
	}
	return Result{DocID: "doc-" + req.FileName, CallName: req.CallName, FileName: req.FileName}, nil
}

func (r *recordingFileIngester) get(name string) (FileRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[name]
	return req, ok
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func makeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.txt"), "bee")
	writeFile(t, filepath.Join(root, "a.pdf"), "%PDF")
	writeFile(t, filepath.Join(root, "skip.png"), "img")
	writeFile(t, filepath.Join(root, "sub", "deep", "c.docx"), "zip")
	writeFile(t, filepath.Join(root, "sub", "d.TXT"), "dee")
	return root
}

func TestScanFolder(t *testing.T) {
	root := makeTree(t)

	top, err := ScanFolder(root, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.pdf"), filepath.Join(root, "b.txt")}, top)

	all, err := ScanFolder(root, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.pdf"),
		filepath.Join(root, "b.txt"),
		filepath.Join(root, "sub", "d.TXT"),
		filepath.Join(root, "sub", "deep", "c.docx"),
	}, all)
}

func TestScanFolder_NotADirectory(t *testing.T) {
	root := makeTree(t)
	_, err := ScanFolder(filepath.Join(root, "b.txt"), false)
	assert.Error(t, err)
	_, err = ScanFolder(filepath.Join(root, "missing"), false)
	assert.Error(t, err)
}

func TestFolderCallName(t *testing.T) {
	root := "/data/docs"
	tests := []struct {
		path      string
		prefix    string
		recursive bool
		want      string
	}{
		{"/data/docs/report.pdf", "", false, "report"},
		{"/data/docs/report.pdf", "Q3", false, "Q3 - report"},
		{"/data/docs/report.pdf", "Q3", true, "Q3 - report"},
		{"/data/docs/eu/sales/plan.docx", "", true, "eu/sales - plan"},
		{"/data/docs/eu/plan.docx", "Q3", true, "Q3 - eu - plan"},
		{"/data/docs/eu/plan.docx", "Q3", false, "Q3 - plan"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FolderCallName(root, tt.path, tt.prefix, tt.recursive), tt.path)
	}
}

func TestIngestFolder(t *testing.T) {
	root := makeTree(t)
	ing := newRecordingFileIngester()
	ing.fail["a.pdf"] = errors.New("broken pdf")

	summary, err := IngestFolder(context.Background(), ing, root, FolderOptions{
		Prefix:    "Batch",
		Recursive: true,
		Metadata:  map[string]string{"team": "docs"},
		Workers:   2,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Files, 4)
	assert.Equal(t, filepath.Join(root, "a.pdf"), summary.Files[0].Path)
	assert.Error(t, summary.Files[0].Err)

	req, ok := ing.get("c.docx")
	require.True(t, ok)
	assert.Equal(t, "Batch - sub/deep - c", req.CallName)
	assert.Equal(t, []byte("zip"), req.Data)
	assert.Equal(t, "docs", req.Metadata["team"])

	req, ok = ing.get("b.txt")
	require.True(t, ok)
	assert.Equal(t, "Batch - b", req.CallName)
}

func TestIngestFolder_Empty(t *testing.T) {
	summary, err := IngestFolder(context.Background(), newRecordingFileIngester(), t.TempDir(), FolderOptions{})
	require.NoError(t, err)
	assert.Empty(t, summary.Files)
}

func TestIngestFolder_EndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "one.txt"), "first file text")
	writeFile(t, filepath.Join(root, "two.txt"), "second file text")

	summary, err := IngestFolder(context.Background(), env.pipeline, root, FolderOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Succeeded)

	docID, found, err := env.store.FindBySourceIdentity(context.Background(), "file://two.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, summary.Files[1].Result.DocID, docID)
	assert.Equal(t, "two", summary.Files[1].Result.CallName)
}

func TestWatcher_ReingestsChangedFiles(t *testing.T) {
	root := t.TempDir()
	ing := newRecordingFileIngester()
	w := NewWatcher(ing, root, FolderOptions{Prefix: "W"}, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan FileResult, 8)
	started := make(chan error, 1)
	go func() {
		started <- w.Run(ctx, func(r FileResult) { results <- r })
	}()

	// Give the watcher time to register before creating files.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	path := filepath.Join(root, "live.txt")
	for {
		writeFile(t, path, "live content")
		select {
		case r := <-results:
			require.NoError(t, r.Err)
			assert.Equal(t, "W - live", r.CallName)
			req, ok := ing.get("live.txt")
			require.True(t, ok)
			assert.Equal(t, []byte("live content"), req.Data)
			cancel()
			select {
			case err := <-started:
				assert.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("watcher did not stop")
			}
			return
		case err := <-started:
			t.Fatalf("watcher exited early: %v", err)
		case <-deadline:
			t.Fatal("no re-ingest observed")
		case <-tick.C:
		}
	}
}

func TestWatcher_IgnoresUnsupportedFiles(t *testing.T) {
	root := t.TempDir()
	ing := newRecordingFileIngester()
	w := NewWatcher(ing, root, FolderOptions{}, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(root, "image.png"), []byte("x"), 0o644)
	}()
	require.NoError(t, w.Run(ctx, nil))

	_, ok := ing.get("image.png")
	assert.False(t, ok)
}

func TestParseTags(t *testing.T) {
	got, err := ParseTags([]string{"team=docs", " env = prod ", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"team": "docs", "env": "prod", "empty": ""}, got)

	got, err = ParseTags(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseTags([]string{"novalue"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = ParseTags([]string{"=x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
