package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/kargohq/stevedore/internal/envelope"
	"github.com/kargohq/stevedore/internal/session"
)

// recoveryQuestionID marks the synthesized human-in-the-loop continuation
// question used when re-reasoning fails without a server-provided fallback.
const recoveryQuestionID = "continue_after_reasoning_failure"

// SubmitAnswers merges a round of answers into the session and re-analyzes.
// A re-reasoning failure is not fatal: the session returns to questioning
// with a fallback or continuation question. Validation failures against the
// destination schema are fatal and surfaced verbatim.
func (o *Orchestrator) SubmitAnswers(ctx context.Context, sess *session.ImportSession, answers map[string]string, feedback string) error {
	if sess.Phase != session.PhaseQuestioning {
		return fmt.Errorf("cannot submit answers in phase %q", sess.Phase)
	}

	sess.MergeAnswers(answers)
	sess.AppendTrace(session.TraceAction, fmt.Sprintf("submitted %d answer(s)", len(answers)))
	if err := sess.Advance(session.PhaseReanalyzing); err != nil {
		return err
	}
	o.save(sess)

	res, err := o.analyst.SubmitAnswers(ctx, sess, feedback)
	if err != nil {
		// A remote-reported failure during re-reasoning is recoverable;
		// anything else (network, malformed payload) is not.
		var remote *envelope.RemoteError
		if errors.As(err, &remote) {
			o.recoverReasoning(sess, remote.Message, nil)
			o.save(sess)
			return nil
		}
		return o.fail(sess, "re-analysis failed", &TransportError{Op: "submitting answers", Err: err})
	}

	if len(res.ValidationErrors) > 0 {
		verr := &ValidationError{Problems: res.ValidationErrors}
		return o.fail(sess, verr.Error(), verr)
	}
	if res.ReasoningFailed {
		o.recoverReasoning(sess, res.Error, res.FallbackQuestions)
		o.save(sess)
		return nil
	}
	if err := o.checkAnalysis(res); err != nil {
		return o.fail(sess, err.Error(), err)
	}

	o.applyAnalysis(sess, res)

	next := session.PhaseReviewing
	if len(sess.UnansweredQuestions()) > 0 {
		next = session.PhaseQuestioning
	}
	if err := sess.Advance(next); err != nil {
		return o.fail(sess, "advancing after re-analysis", err)
	}
	o.save(sess)
	return nil
}

// recoverReasoning turns a re-reasoning failure into another questioning
// round. Server-provided fallback questions are used when present; otherwise
// a single continuation question is synthesized so a human decides how to
// proceed.
func (o *Orchestrator) recoverReasoning(sess *session.ImportSession, reason string, fallback []session.Question) {
	if reason == "" {
		reason = "the analysis service could not complete re-reasoning"
	}
	o.logger.Warn("re-reasoning failed, returning to questioning",
		"session_id", sess.SessionID, "reason", reason)
	sess.AppendTrace(session.TraceObservation, "re-reasoning failed: "+reason)

	if len(fallback) == 0 {
		fallback = []session.Question{{
			ID:         recoveryQuestionID,
			Text:       fmt.Sprintf("Analysis hit a snag (%s). How should we proceed?", reason),
			Importance: session.ImportanceCritical,
			Options:    []string{"Retry with my answers as given", "Let me revise my answers", "Cancel this import"},
		}}
	}
	sess.SetQuestions(fallback)
	if err := sess.Advance(session.PhaseQuestioning); err != nil {
		o.logger.Error("returning to questioning", "session_id", sess.SessionID, "error", err)
	}
}
