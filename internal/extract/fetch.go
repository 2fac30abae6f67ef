package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultFetchTimeout  = 30 * time.Second
	defaultFetchMaxBytes = 5 << 20 // 5MB
)

// BasicAuth carries credentials for HTTP basic authentication.
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// FetchRequest describes a page to fetch. Headers and BasicAuth are passed
// through to the remote server unchanged.
type FetchRequest struct {
	URL       string
	Headers   map[string]string
	BasicAuth *BasicAuth
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Timeout  time.Duration
	MaxBytes int64
	// RequestsPerSecond limits outbound fetches. Zero disables limiting.
	RequestsPerSecond float64
	Client            *http.Client
	Logger            *slog.Logger
}

// Fetcher downloads URLs and extracts their text.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher with defaults for unset fields.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultFetchMaxBytes
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	f := &Fetcher{
		client:   cfg.Client,
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxBytes,
		logger:   cfg.Logger.With("component", "fetcher"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := max(int(cfg.RequestsPerSecond), 1)
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return f
}

// Fetch downloads req.URL and returns its text. HTML is reduced to visible
// text; PDF, DOCX and plain-text responses go through their extractors.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (string, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", &FetchError{URL: req.URL, Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", &FetchError{URL: req.URL, Err: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.BasicAuth != nil {
		httpReq.SetBasicAuth(req.BasicAuth.Username, req.BasicAuth.Password)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", &FetchError{URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &FetchError{URL: req.URL, StatusCode: resp.StatusCode}
	}

	body, truncated, err := readAllLimited(resp.Body, f.maxBytes)
	if err != nil {
		return "", &FetchError{URL: req.URL, Err: fmt.Errorf("reading body: %w", err)}
	}
	if truncated {
		f.logger.Warn("response exceeds size limit", "url", req.URL, "max_bytes", f.maxBytes)
		return "", &FetchError{URL: req.URL, Err: fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)}
	}

	format := formatFromContentType(resp.Header.Get("Content-Type"))
	f.logger.Debug("fetched url", "url", req.URL, "bytes", len(body), "format", format)
	return Text(format, body)
}

func formatFromContentType(contentType string) Format {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return FormatHTML
	}
	switch mt {
	case "application/pdf":
		return FormatPDF
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return FormatDOCX
	case "text/plain":
		return FormatText
	default:
		return FormatHTML
	}
}

// readAllLimited reads at most limit bytes and reports whether the source
// had more.
func readAllLimited(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}
