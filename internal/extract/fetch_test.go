package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_HTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><p>Hello</p><script>x()</script><p>there</p></body></html>`))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{})
	got, err := f.Fetch(context.Background(), FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", got)
}

func TestFetcher_PassesHeadersAndBasicAuth(t *testing.T) {
	var gotHeader, gotUser, gotPass string
	var gotOK bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Token")
		gotUser, gotPass, gotOK = r.BasicAuth()
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("private body"))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{})
	got, err := f.Fetch(context.Background(), FetchRequest{
		URL:       srv.URL,
		Headers:   map[string]string{"X-Api-Token": "secret"},
		BasicAuth: &BasicAuth{Username: "alice", Password: "pw"},
	})
	require.NoError(t, err)
	assert.Equal(t, "private body", got)
	assert.Equal(t, "secret", gotHeader)
	assert.True(t, gotOK)
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "pw", gotPass)
}

func TestFetcher_Non2xxIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{})
	_, err := f.Fetch(context.Background(), FetchRequest{URL: srv.URL})
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
}

func TestFetcher_UnreachableIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := NewFetcher(FetcherConfig{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), FetchRequest{URL: url})
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Zero(t, fetchErr.StatusCode)
}

func TestFetcher_OversizedTextRejected(t *testing.T) {
	for _, contentType := range []string{"text/plain", "text/html"} {
		t.Run(contentType, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", contentType)
				_, _ = w.Write([]byte(strings.Repeat("a", 100)))
			}))
			defer srv.Close()

			f := NewFetcher(FetcherConfig{MaxBytes: 10})
			_, err := f.Fetch(context.Background(), FetchRequest{URL: srv.URL})
			var fetchErr *FetchError
			require.True(t, errors.As(err, &fetchErr))
			assert.ErrorIs(t, err, ErrTooLarge)
		})
	}
}

func TestFetcher_BodyAtLimitAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("a", 10)))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{MaxBytes: 10})
	got, err := f.Fetch(context.Background(), FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestFetcher_OversizedBinaryRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{MaxBytes: 10})
	_, err := f.Fetch(context.Background(), FetchRequest{URL: srv.URL})
	var fetchErr *FetchError
	assert.True(t, errors.As(err, &fetchErr))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFormatFromContentType(t *testing.T) {
	assert.Equal(t, FormatPDF, formatFromContentType("application/pdf"))
	assert.Equal(t, FormatText, formatFromContentType("text/plain; charset=utf-8"))
	assert.Equal(t, FormatDOCX, formatFromContentType("application/vnd.openxmlformats-officedocument.wordprocessingml.document"))
	assert.Equal(t, FormatHTML, formatFromContentType("text/html"))
	assert.Equal(t, FormatHTML, formatFromContentType(""))
}
