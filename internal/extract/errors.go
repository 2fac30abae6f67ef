package extract

import (
	"errors"
	"fmt"
)

// ErrTooLarge is wrapped in a FetchError when a response body exceeds the
// configured size limit.
var ErrTooLarge = errors.New("document exceeds size limit")

// FetchError reports an unreachable URL or a non-2xx response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UnsupportedFormatError rejects a file extension no extractor handles.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Ext == "" {
		return fmt.Sprintf("unsupported file format: missing extension. Supported formats: %s", supportedList())
	}
	return fmt.Sprintf("unsupported file format: .%s. Supported formats: %s", e.Ext, supportedList())
}

// ExtractionError reports a parser failure on malformed input.
type ExtractionError struct {
	Format Format
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting text from %s: %v", e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
