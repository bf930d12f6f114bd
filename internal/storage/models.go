package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Background job lifecycle states, mirroring the remote job system.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// JobRecord is one entry in the job registry: a queued background import
// whose completion is tracked outside the orchestrator.
type JobRecord struct {
	JobID        string
	SessionID    string
	HumanMessage string
	Status       string
	Progress     int
	Message      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the job still needs status polling.
func (j JobRecord) Active() bool {
	return j.Status == JobQueued || j.Status == JobProcessing
}

// SessionRecord is the listing row for a cached session. The full session
// payload lives in the payload column as JSON.
type SessionRecord struct {
	ID        string
	Phase     string
	Filename  string
	UpdatedAt time.Time
}
