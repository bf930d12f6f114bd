package orchestrator

import (
	"context"
	"fmt"

	"github.com/kargohq/stevedore/internal/session"
	"github.com/kargohq/stevedore/internal/storage"
)

// Outcome is the result of an approved import: either a synchronous count,
// a background job hand-off, or a designed stop back in review.
type Outcome struct {
	// Blocked means prepare_processing refused: required destination columns
	// are missing and the session is back in review. Not an error.
	Blocked bool
	Summary *session.ReviewSummary

	// Job is set on the asynchronous path. Completion tracking belongs to
	// the background job system from here on.
	Job *session.AsyncJob

	Imported int
	Failed   int
	Message  string
}

// Approve finalizes and executes an import the user signed off on. The server
// re-validates first; missing destination columns are a designed stop, not a
// failure, and return the session to review with a blocked summary.
func (o *Orchestrator) Approve(ctx context.Context, sess *session.ImportSession, hints map[string]string) (*Outcome, error) {
	if err := sess.Advance(session.PhaseProcessing); err != nil {
		return nil, err
	}
	o.save(sess)

	prep, err := o.analyst.PrepareProcessing(ctx, sess)
	if err != nil {
		return nil, o.failRemote(sess, "preparing processing", err)
	}
	if len(prep.MissingColumns) > 0 {
		if err := sess.Advance(session.PhaseReviewing); err != nil {
			return nil, o.fail(sess, "returning to review", err)
		}
		sess.AppendTrace(session.TraceObservation,
			fmt.Sprintf("processing blocked: %d missing destination column(s)", len(prep.MissingColumns)))
		o.save(sess)
		return &Outcome{Blocked: true, Summary: blockedSummary(prep)}, nil
	}
	if len(prep.ColumnMappings) > 0 {
		sess.ColumnMappings = prep.ColumnMappings
	}
	if prep.Aggregation != nil {
		sess.Aggregation = prep.Aggregation
	}

	if err := sess.Advance(session.PhaseImporting); err != nil {
		return nil, o.fail(sess, "entering import", err)
	}
	o.save(sess)

	res, err := o.analyst.ExecuteImport(ctx, sess, hints)
	if err != nil {
		return nil, o.failRemote(sess, "executing import", err)
	}

	if res.Job != nil {
		if err := sess.Advance(session.PhaseJobQueued); err != nil {
			return nil, o.fail(sess, "recording queued job", err)
		}
		if o.registry != nil {
			if err := o.registry.PutJob(storage.JobRecord{
				JobID:        res.Job.JobID,
				SessionID:    sess.SessionID,
				HumanMessage: res.Job.HumanMessage,
			}); err != nil {
				o.logger.Warn("registering background job", "job_id", res.Job.JobID, "error", err)
			}
		}
		o.save(sess)
		// No learning report here: the session's outcome is not known yet
		// and ownership has passed to the job system.
		return &Outcome{Job: res.Job, Message: res.Job.HumanMessage}, nil
	}

	if res.Imported == 0 && (res.Failed > 0 || len(res.RowErrors) > 0) {
		execErr := &ExecutionError{Message: res.Message, RowErrors: res.RowErrors}
		return nil, o.fail(sess, execErr.Error(), execErr)
	}

	sess.Stage = session.StageLearning
	o.reportLearning(ctx, sess, res.Imported, res.Failed)

	if err := sess.Advance(session.PhaseComplete); err != nil {
		return nil, o.fail(sess, "completing import", err)
	}
	sess.AppendTrace(session.TraceObservation,
		fmt.Sprintf("import complete: %d row(s) imported, %d failed", res.Imported, res.Failed))
	o.save(sess)
	return &Outcome{Imported: res.Imported, Failed: res.Failed, Message: res.Message}, nil
}
