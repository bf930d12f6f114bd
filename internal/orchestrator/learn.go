package orchestrator

import (
	"context"

	"github.com/kargohq/stevedore/internal/analyst"
	"github.com/kargohq/stevedore/internal/session"
)

// reportLearning submits the import outcome so future analyses of similar
// files improve. Best effort: a failure is logged and never affects the
// already-successful import.
func (o *Orchestrator) reportLearning(ctx context.Context, sess *session.ImportSession, imported, failed int) {
	outcome := "success"
	if failed > 0 {
		outcome = "partial"
	}
	report := analyst.LearningReport{
		SessionID:      sess.SessionID,
		Outcome:        outcome,
		ImportedRows:   imported,
		FailedRows:     failed,
		ColumnMappings: sess.ColumnMappings,
		AnswerCount:    len(sess.Answers),
	}
	if err := o.analyst.ReportLearning(ctx, sess, report); err != nil {
		o.logger.Warn("reporting learning outcome", "session_id", sess.SessionID, "error", err)
	}
}
