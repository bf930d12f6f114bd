package analyst

import (
	"encoding/json"

	"github.com/kargohq/stevedore/internal/session"
)

// Actions accepted by the remote analysis service. One call per pipeline
// stage; the server is stateless and keyed only by the session payload.
const (
	ActionAnalyze           = "analyze"
	ActionSubmitAnswers     = "submit_answers"
	ActionPrepareProcessing = "prepare_processing"
	ActionExecuteImport     = "execute_import"
	ActionRecallKnowledge   = "recall_prior_knowledge"
	ActionAdaptiveThreshold = "get_adaptive_threshold"
	ActionReportLearning    = "report_learning_outcome"
	ActionJobStatus         = "job_status"
)

// AnalysisResult is the payload returned by analyze and submit_answers.
type AnalysisResult struct {
	SessionID           string                           `json:"session_id,omitempty"`
	FileAnalysis        json.RawMessage                  `json:"file_analysis,omitempty"`
	Questions           []session.Question               `json:"questions,omitempty"`
	ColumnMappings      map[string]session.ColumnMapping `json:"column_mappings,omitempty"`
	Confidence          *session.Confidence              `json:"confidence,omitempty"`
	RequestedNewColumns []session.NewColumnRequest       `json:"requested_new_columns,omitempty"`
	Aggregation         *session.AggregationPlan         `json:"aggregation,omitempty"`
	Trace               []session.TraceStep              `json:"reasoning_trace,omitempty"`

	// Status carries the known upstream defect: some failures arrive with
	// the literal value "success" in an error-ish field. See the pipeline's
	// compatibility shim.
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`

	// Re-analysis outcome fields (submit_answers only).
	ValidationErrors  []string           `json:"validation_errors,omitempty"`
	ReasoningFailed   bool               `json:"reasoning_failed,omitempty"`
	FallbackQuestions []session.Question `json:"fallback_questions,omitempty"`
}

// HasAnalysisData reports whether the result carries recognizable analysis
// keys. Used by the ambiguous-success shim to tell a mislabeled success from
// a genuinely malformed reply.
func (r *AnalysisResult) HasAnalysisData() bool {
	return len(r.FileAnalysis) > 0 || len(r.Questions) > 0 || len(r.ColumnMappings) > 0
}

// PrepareResult is the payload of prepare_processing: either a ready
// configuration or the missing destination columns that block it.
type PrepareResult struct {
	MissingColumns []session.MissingColumn          `json:"missing_columns,omitempty"`
	Message        string                           `json:"message,omitempty"`
	ColumnMappings map[string]session.ColumnMapping `json:"column_mappings,omitempty"`
	Aggregation    *session.AggregationPlan         `json:"aggregation,omitempty"`
}

// ExecuteResult is the payload of execute_import. A non-nil Job means the
// import went asynchronous and ownership passes to the background job system.
type ExecuteResult struct {
	Job       *session.AsyncJob `json:"job,omitempty"`
	Imported  int               `json:"imported_rows,omitempty"`
	Failed    int               `json:"failed_rows,omitempty"`
	RowErrors []string          `json:"row_errors,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// PriorKnowledge is what the service remembers about files like this one.
type PriorKnowledge struct {
	Hints         []string          `json:"hints,omitempty"`
	KnownMappings map[string]string `json:"known_mappings,omitempty"`
}

// ThresholdResult carries the adaptive confidence threshold for this tenant.
type ThresholdResult struct {
	Threshold float64 `json:"threshold"`
}

// JobStatus is the background job lifecycle as reported by the service.
type JobStatus struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"` // queued | processing | completed | failed
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
}

// LearningReport is the outcome submitted for future improvement.
type LearningReport struct {
	SessionID      string                           `json:"session_id"`
	Outcome        string                           `json:"outcome"`
	ImportedRows   int                              `json:"imported_rows,omitempty"`
	FailedRows     int                              `json:"failed_rows,omitempty"`
	ColumnMappings map[string]session.ColumnMapping `json:"column_mappings,omitempty"`
	AnswerCount    int                              `json:"answer_count,omitempty"`
}
