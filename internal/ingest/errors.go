package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyContent is returned when a document yields no chunks. Nothing
	// is written in that case.
	ErrEmptyContent = errors.New("document has no text content")

	// ErrInvalidRequest is returned by Request.Validate.
	ErrInvalidRequest = errors.New("invalid ingest request")

	// ErrSuperseded is returned when a journaled replay was overtaken by a
	// later ingest of the same source. The replay writes nothing.
	ErrSuperseded = errors.New("journaled update superseded by a later ingest")
)

// PartialUpdateError reports an update whose old chunks were deleted but
// whose new chunks were not written. The document is absent from the store
// until it is re-ingested.
type PartialUpdateError struct {
	DocID          string
	SourceIdentity string
	Err            error
}

func (e *PartialUpdateError) Error() string {
	return fmt.Sprintf("partial update of %s (doc_id %s): old chunks deleted, new chunks not written: %v",
		e.SourceIdentity, e.DocID, e.Err)
}

func (e *PartialUpdateError) Unwrap() error { return e.Err }
