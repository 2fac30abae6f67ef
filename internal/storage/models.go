package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job statuses. "inflight" marks a write-ahead entry for an update that has
// started but not finished; it is never claimed until released. A
// "superseded" entry was overtaken by a later write of the same subject and
// is never replayed.
const (
	JobPending    = "pending"
	JobInflight   = "inflight"
	JobRunning    = "running"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobSuperseded = "superseded"
)

type Job struct {
	ID   string
	Type string
	// Subject groups jobs that act on the same thing, such as the source
	// identity of a journaled update.
	Subject     string
	PayloadJSON string
	Status      string
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// JobCounts summarizes the queue by status.
type JobCounts map[string]int
