package session

import "encoding/json"

// FileReference identifies the uploaded file. Immutable once set.
type FileReference struct {
	Filename   string `json:"filename"`
	StorageKey string `json:"storage_key"`
}

// TraceType classifies a reasoning trace step.
type TraceType string

const (
	TraceThought     TraceType = "thought"
	TraceObservation TraceType = "observation"
	TraceAction      TraceType = "action"
)

// TraceStep is one entry in the append-only reasoning trace. The trace exists
// for transparency and audit; nothing branches on it.
type TraceStep struct {
	Type    TraceType `json:"type"`
	Content string    `json:"content"`
}

// Importance ranks how much a question matters to the import outcome.
type Importance string

const (
	ImportanceCritical Importance = "critical"
	ImportanceNormal   Importance = "normal"
)

// Question is one open clarification from the remote service. A blocking
// question (typically an unmapped source column) gates entry into processing.
type Question struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	Importance Importance `json:"importance"`
	Options    []string   `json:"options,omitempty"`
	Blocking   bool       `json:"blocking"`
}

// ColumnMapping maps one source column to a destination field.
type ColumnMapping struct {
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence"`
}

// Confidence is the remote service's self-assessment of the analysis.
type Confidence struct {
	Overall             float64 `json:"overall"`
	RiskLevel           string  `json:"risk_level"`
	RequiresHumanReview bool    `json:"requires_human_review"`
}

// ApplyThreshold sets the mandatory-review flag from the adaptive threshold:
// anything below it requires a human look before execution.
func (c *Confidence) ApplyThreshold(threshold float64) {
	c.RequiresHumanReview = c.Overall < threshold
}

// NewColumnRequest is a schema-evolution request surfaced by the analysis.
// Only approved entries are shown during final review.
type NewColumnRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Reason   string `json:"reason,omitempty"`
	Approved bool   `json:"approved"`
}

// AggregationPlan describes a server-computed row collapse keyed by a column,
// surfaced as an explicit validation line before commit.
type AggregationPlan struct {
	KeyColumn string `json:"key_column"`
	RowsIn    int    `json:"rows_in"`
	RowsOut   int    `json:"rows_out"`
}

// SessionError carries the last human-readable failure message plus an
// optional structured diagnostic payload from the remote service.
type SessionError struct {
	Message    string          `json:"message"`
	Diagnostic json.RawMessage `json:"diagnostic,omitempty"`
}

// MissingColumn names a required destination field the mapped data does not
// cover. Reported by the server during prepare_processing.
type MissingColumn struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Source string `json:"source,omitempty"`
}

// ReviewSummary is the human-facing approval summary. It is derived fresh
// from the current session and never persisted independently. Exactly one of
// ReadyToImport and IsBlocked is true.
type ReviewSummary struct {
	ReadyToImport  bool               `json:"ready_to_import"`
	IsBlocked      bool               `json:"is_blocked"`
	Validations    []string           `json:"validations,omitempty"`
	Warnings       []string           `json:"warnings,omitempty"`
	MissingColumns []MissingColumn    `json:"missing_columns,omitempty"`
	BlockMessage   string             `json:"block_message,omitempty"`
	NewColumns     []NewColumnRequest `json:"new_columns,omitempty"`
}

// AsyncJob is the hand-off descriptor for the asynchronous execution path.
// Once returned, completion tracking belongs to the background job system.
type AsyncJob struct {
	JobID        string `json:"job_id"`
	HumanMessage string `json:"human_message"`
}
