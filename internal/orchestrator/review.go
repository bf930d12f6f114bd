package orchestrator

import (
	"fmt"

	"github.com/kargohq/stevedore/internal/analyst"
	"github.com/kargohq/stevedore/internal/session"
)

// Review builds the human-facing approval summary for a session awaiting
// review. It is derived entirely client-side; blocked summaries come from the
// execute path once the server has re-validated against the destination.
func (o *Orchestrator) Review(sess *session.ImportSession) (*session.ReviewSummary, error) {
	if sess.Phase != session.PhaseReviewing {
		return nil, fmt.Errorf("no review pending in phase %q", sess.Phase)
	}
	return buildSummary(sess, o.threshold(sess)), nil
}

// RequestEdit returns a session under review to the questioning phase so the
// user can revise answers. Accumulated answers are preserved.
func (o *Orchestrator) RequestEdit(sess *session.ImportSession) error {
	if err := sess.Advance(session.PhaseQuestioning); err != nil {
		return err
	}
	sess.AppendTrace(session.TraceAction, "user requested changes during review")
	o.save(sess)
	return nil
}

func buildSummary(sess *session.ImportSession, threshold float64) *session.ReviewSummary {
	summary := &session.ReviewSummary{
		ReadyToImport: true,
		NewColumns:    sess.ApprovedNewColumns(),
	}

	var high, low int
	for _, m := range sess.ColumnMappings {
		if m.Confidence >= threshold {
			high++
		} else {
			low++
		}
	}
	if high > 0 {
		summary.Validations = append(summary.Validations,
			fmt.Sprintf("%d column(s) mapped with high confidence", high))
	}
	if low > 0 {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("%d low-confidence mapping(s), double-check the targets", low))
	}
	if agg := sess.Aggregation; agg != nil {
		summary.Validations = append(summary.Validations,
			fmt.Sprintf("rows will be collapsed by %s: %d -> %d", agg.KeyColumn, agg.RowsIn, agg.RowsOut))
	}
	if c := sess.Confidence; c != nil {
		summary.Validations = append(summary.Validations,
			fmt.Sprintf("overall confidence %.0f%% (%s risk)", c.Overall*100, c.RiskLevel))
		if c.RequiresHumanReview {
			summary.Warnings = append(summary.Warnings,
				"confidence is below the adaptive threshold, review carefully")
		}
	}
	return summary
}

// blockedSummary converts a prepare_processing refusal into the approval
// summary shape: not ready, missing columns listed, one block message.
func blockedSummary(prep *analyst.PrepareResult) *session.ReviewSummary {
	msg := prep.Message
	if msg == "" {
		msg = fmt.Sprintf("%d required destination column(s) are not covered by the mapped data", len(prep.MissingColumns))
	}
	return &session.ReviewSummary{
		IsBlocked:      true,
		MissingColumns: prep.MissingColumns,
		BlockMessage:   msg,
	}
}
