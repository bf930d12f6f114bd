package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kargohq/stevedore/internal/analyst"
	"github.com/kargohq/stevedore/internal/envelope"
	"github.com/kargohq/stevedore/internal/preview"
	"github.com/kargohq/stevedore/internal/session"
)

// Start begins a new import: uploads the file, recalls prior knowledge, and
// runs the first analysis. On return the session is in the questioning phase
// (questions pending), the processing phase (nothing to ask), or the error
// phase alongside a non-nil error.
func (o *Orchestrator) Start(ctx context.Context, filename, contentType string, data []byte) (*session.ImportSession, error) {
	sess := session.New()
	if err := sess.Advance(session.PhaseUploading); err != nil {
		return sess, err
	}

	loc, err := o.blobs.RequestWriteLocation(ctx, filename, contentType)
	if err != nil {
		return sess, o.fail(sess, "could not prepare file upload", &TransportError{Op: "requesting write location", Err: err})
	}
	if err := o.blobs.Upload(ctx, loc, bytes.NewReader(data), int64(len(data))); err != nil {
		return sess, o.fail(sess, "file upload failed", &TransportError{Op: "uploading file", Err: err})
	}
	if err := sess.SetFile(filename, loc.Key); err != nil {
		return sess, o.fail(sess, "attaching file reference", err)
	}

	if err := sess.Advance(session.PhaseRecalling); err != nil {
		return sess, err
	}
	prior, threshold := o.recall(ctx, filename)
	sess.AdaptiveThreshold = threshold
	if prior != nil && len(prior.Hints) > 0 {
		sess.AppendTrace(session.TraceObservation,
			fmt.Sprintf("recalled %d hint(s) from prior imports of similar files", len(prior.Hints)))
	}

	if err := sess.Advance(session.PhaseAnalyzing); err != nil {
		return sess, err
	}
	params := map[string]any{
		"filename":    filename,
		"storage_key": loc.Key,
	}
	if prior != nil {
		params["prior_knowledge"] = prior
	}
	if hint := preview.Build(filename, data); hint != nil {
		params["preview"] = hint
	}

	res, err := o.analyst.Analyze(ctx, sess, params)
	if err != nil {
		return sess, o.failRemote(sess, "analysis", err)
	}
	if err := o.checkAnalysis(res); err != nil {
		return sess, o.fail(sess, err.Error(), err)
	}
	o.applyAnalysis(sess, res)

	next := session.PhaseProcessing
	if len(sess.Questions) > 0 {
		next = session.PhaseQuestioning
	}
	if err := sess.Advance(next); err != nil {
		return sess, o.fail(sess, "advancing after analysis", err)
	}
	o.save(sess)
	return sess, nil
}

// recall fetches prior knowledge and the adaptive threshold concurrently.
// Both lookups are best-effort: a failure is logged and the defaults apply.
func (o *Orchestrator) recall(ctx context.Context, filename string) (*analyst.PriorKnowledge, float64) {
	var (
		prior     *analyst.PriorKnowledge
		threshold = defaultThreshold
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := o.analyst.RecallPriorKnowledge(gCtx, filename)
		if err != nil {
			o.logger.Warn("recalling prior knowledge", "filename", filename, "error", err)
			return nil
		}
		prior = p
		return nil
	})
	g.Go(func() error {
		t, err := o.analyst.AdaptiveThreshold(gCtx, filename)
		if err != nil {
			o.logger.Warn("fetching adaptive threshold", "filename", filename, "error", err)
			return nil
		}
		if t > 0 && t <= 1 {
			threshold = t
		}
		return nil
	})
	_ = g.Wait() // both lookups swallow their own errors
	return prior, threshold
}

// checkAnalysis applies the ambiguous-success shim. The upstream service has
// a known defect where some replies carry "success" in an error-ish field;
// a reply with recognizable analysis keys is accepted regardless of those
// fields, while one without them is rejected as malformed.
func (o *Orchestrator) checkAnalysis(res *analyst.AnalysisResult) error {
	flagged := res.Error != "" || (res.Status != "" && res.Status != "success" && res.Status != "ok")
	if !res.HasAnalysisData() {
		detail := res.Error
		if detail == "" {
			detail = "no analysis fields in reply"
		}
		return &AmbiguousResponseError{Detail: detail}
	}
	if flagged {
		o.logger.Warn("analysis reply flagged an error but carries analysis data; accepting",
			"status", res.Status, "error", res.Error)
	}
	return nil
}

// failRemote classifies a call failure: remote-reported errors keep their
// message, everything else is a transport failure.
func (o *Orchestrator) failRemote(sess *session.ImportSession, op string, err error) error {
	var remote *envelope.RemoteError
	if errors.As(err, &remote) {
		msg := remote.Message
		if remote.Specialist != "" {
			msg = fmt.Sprintf("%s (%s)", remote.Message, remote.Specialist)
		}
		sess.Fail(msg, remote.Raw)
		o.save(sess)
		return err
	}
	return o.fail(sess, op+" failed", &TransportError{Op: op, Err: err})
}
