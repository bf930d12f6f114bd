// Package session holds the ImportSession aggregate: the single serializable
// record of one import attempt, round-tripped with the stateless remote
// analysis service on every call. The orchestrator is its only writer.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrFileAlreadySet is returned when a second file is attached to a session.
var ErrFileAlreadySet = errors.New("session already has a file reference")

// ImportSession is the aggregate root for one end-to-end import attempt.
// The remote service is stateless: it receives this record, possibly mutates
// it, and returns it. Phase is client-local and never interpreted remotely.
type ImportSession struct {
	SessionID           string                   `json:"session_id,omitempty"`
	Stage               Stage                    `json:"stage"`
	File                *FileReference           `json:"file_reference,omitempty"`
	FileAnalysis        json.RawMessage          `json:"file_analysis,omitempty"`
	ReasoningTrace      []TraceStep              `json:"reasoning_trace,omitempty"`
	Questions           []Question               `json:"questions,omitempty"`
	Answers             map[string]string        `json:"answers,omitempty"`
	ColumnMappings      map[string]ColumnMapping `json:"column_mappings,omitempty"`
	Confidence          *Confidence              `json:"confidence,omitempty"`
	AdaptiveThreshold   float64                  `json:"adaptive_threshold,omitempty"`
	RequestedNewColumns []NewColumnRequest       `json:"requested_new_columns,omitempty"`
	Aggregation         *AggregationPlan         `json:"aggregation,omitempty"`
	Err                 *SessionError            `json:"error,omitempty"`

	// Phase is the client state machine position, persisted in the local
	// cache for resume but carried in a field the server ignores.
	Phase Phase `json:"client_phase"`
}

// New returns a fresh idle session. The session id is assigned by the remote
// service on the first analyze call.
func New() *ImportSession {
	return &ImportSession{
		Phase:   PhaseIdle,
		Answers: make(map[string]string),
	}
}

// Advance moves the session along one edge of the transition graph, keeping
// the wire Stage in sync. Entering processing is refused while an unanswered
// blocking question remains.
func (s *ImportSession) Advance(to Phase) error {
	if !s.Phase.canAdvance(to) {
		return &ErrInvalidTransition{From: s.Phase, To: to}
	}
	if to == PhaseProcessing && s.HasOpenBlockingQuestion() {
		return fmt.Errorf("cannot enter processing: %d blocking question(s) unanswered", len(s.openBlocking()))
	}
	s.Phase = to
	if stage, ok := to.WireStage(); ok {
		s.Stage = stage
	}
	return nil
}

// Fail transitions to the terminal error phase from anywhere, recording the
// last human-readable message and any structured diagnostic.
func (s *ImportSession) Fail(msg string, diagnostic json.RawMessage) {
	if s.Phase != PhaseError {
		s.Phase = PhaseError
	}
	s.Err = &SessionError{Message: msg, Diagnostic: diagnostic}
}

// SetFile attaches the uploaded file reference. It is immutable once set.
func (s *ImportSession) SetFile(filename, storageKey string) error {
	if s.File != nil {
		return ErrFileAlreadySet
	}
	s.File = &FileReference{Filename: filename, StorageKey: storageKey}
	return nil
}

// AppendTrace extends the reasoning trace. The trace is append-only.
func (s *ImportSession) AppendTrace(t TraceType, content string) {
	s.ReasoningTrace = append(s.ReasoningTrace, TraceStep{Type: t, Content: content})
}

// MergeAnswers unions new answers into the session, last write wins per key.
// The answer set accumulates across rounds and never shrinks.
func (s *ImportSession) MergeAnswers(answers map[string]string) {
	if s.Answers == nil {
		s.Answers = make(map[string]string, len(answers))
	}
	for id, v := range answers {
		s.Answers[id] = v
	}
}

// SetQuestions replaces the open question set, ordering blocking questions
// first. The sort is stable so server ordering is preserved within each group.
func (s *ImportSession) SetQuestions(qs []Question) {
	sorted := make([]Question, len(qs))
	copy(sorted, qs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Blocking && !sorted[j].Blocking
	})
	s.Questions = sorted
}

// UnansweredQuestions returns the open questions with no recorded answer.
func (s *ImportSession) UnansweredQuestions() []Question {
	var open []Question
	for _, q := range s.Questions {
		if _, ok := s.Answers[q.ID]; !ok {
			open = append(open, q)
		}
	}
	return open
}

func (s *ImportSession) openBlocking() []Question {
	var open []Question
	for _, q := range s.UnansweredQuestions() {
		if q.Blocking {
			open = append(open, q)
		}
	}
	return open
}

// HasOpenBlockingQuestion reports whether an unanswered blocking question
// remains. While true, the session may not enter processing.
func (s *ImportSession) HasOpenBlockingQuestion() bool {
	return len(s.openBlocking()) > 0
}

// ApprovedNewColumns filters the schema-evolution requests down to the
// entries that may be disclosed during final review.
func (s *ImportSession) ApprovedNewColumns() []NewColumnRequest {
	var approved []NewColumnRequest
	for _, c := range s.RequestedNewColumns {
		if c.Approved {
			approved = append(approved, c)
		}
	}
	return approved
}

// Reset returns a fresh session, the only way out of the error phase.
func (s *ImportSession) Reset() *ImportSession {
	return New()
}
