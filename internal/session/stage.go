package session

import "fmt"

// Stage is the wire-visible lifecycle value carried inside an ImportSession.
// The remote analysis service validates this field on every call and rejects
// values outside this set.
type Stage string

const (
	StageAnalyzing   Stage = "analyzing"
	StageQuestioning Stage = "questioning"
	StageAwaiting    Stage = "awaiting"
	StageReasoning   Stage = "reasoning"
	StageProcessing  Stage = "processing"
	StageLearning    Stage = "learning"
	StageComplete    Stage = "complete"
)

// Phase is the client-side state machine position. Uploading and recalling
// are preparatory sub-stages of analyzing; reviewing, importing, job-queued
// and error exist only on the client and are mapped to a wire Stage before
// the session is sent to the remote service.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseUploading   Phase = "uploading"
	PhaseRecalling   Phase = "recalling"
	PhaseAnalyzing   Phase = "analyzing"
	PhaseQuestioning Phase = "questioning"
	PhaseReanalyzing Phase = "re-analyzing"
	PhaseReviewing   Phase = "reviewing"
	PhaseProcessing  Phase = "processing"
	PhaseImporting   Phase = "importing"
	PhaseComplete    Phase = "complete"
	PhaseJobQueued   Phase = "job_queued"
	PhaseError       Phase = "error"
)

// transitions is the forward edge set of the client state machine. PhaseError
// is reachable from any phase and is therefore not listed here.
var transitions = map[Phase][]Phase{
	PhaseIdle:        {PhaseUploading},
	PhaseUploading:   {PhaseRecalling},
	PhaseRecalling:   {PhaseAnalyzing},
	PhaseAnalyzing:   {PhaseQuestioning, PhaseProcessing},
	PhaseQuestioning: {PhaseReanalyzing},
	PhaseReanalyzing: {PhaseQuestioning, PhaseReviewing},
	PhaseReviewing:   {PhaseQuestioning, PhaseProcessing},
	PhaseProcessing:  {PhaseReviewing, PhaseImporting},
	PhaseImporting:   {PhaseComplete, PhaseJobQueued},
}

// wireStages maps each client phase to the Stage value the remote service
// accepts. Phases without an entry (idle, error) are never sent.
var wireStages = map[Phase]Stage{
	PhaseUploading:   StageAnalyzing,
	PhaseRecalling:   StageAnalyzing,
	PhaseAnalyzing:   StageAnalyzing,
	PhaseQuestioning: StageQuestioning,
	PhaseReanalyzing: StageReasoning,
	PhaseReviewing:   StageAwaiting,
	PhaseProcessing:  StageProcessing,
	PhaseImporting:   StageProcessing,
	PhaseJobQueued:   StageProcessing,
	PhaseComplete:    StageComplete,
}

// WireStage returns the Stage value to serialize for this phase. The second
// return is false for phases that never cross the wire.
func (p Phase) WireStage() (Stage, bool) {
	s, ok := wireStages[p]
	return s, ok
}

// Terminal reports whether the phase has no outgoing edges. Error is terminal
// but recoverable via a full Reset; complete and job_queued are final.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseJobQueued || p == PhaseError
}

// canAdvance reports whether the edge p -> to exists in the transition graph.
// The error phase is reachable from everywhere except itself.
func (p Phase) canAdvance(to Phase) bool {
	if to == PhaseError {
		return p != PhaseError
	}
	for _, next := range transitions[p] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition wraps an attempted edge that is not in the graph.
type ErrInvalidTransition struct {
	From, To Phase
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid session transition: %s -> %s", e.From, e.To)
}
