// Package orchestrator drives an import session through its lifecycle:
// upload, recall, analyze, clarify, review, execute, learn. It owns every
// session mutation; the remote analysis service only proposes state.
package orchestrator

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kargohq/stevedore/internal/analyst"
	"github.com/kargohq/stevedore/internal/blobstore"
	"github.com/kargohq/stevedore/internal/session"
	"github.com/kargohq/stevedore/internal/storage"
)

// defaultThreshold is the confidence threshold used when the adaptive
// threshold lookup fails or returns nothing usable.
const defaultThreshold = 0.75

// AnalysisService is the remote agent surface the orchestrator depends on.
type AnalysisService interface {
	Analyze(ctx context.Context, sess *session.ImportSession, params map[string]any) (*analyst.AnalysisResult, error)
	SubmitAnswers(ctx context.Context, sess *session.ImportSession, feedback string) (*analyst.AnalysisResult, error)
	PrepareProcessing(ctx context.Context, sess *session.ImportSession) (*analyst.PrepareResult, error)
	ExecuteImport(ctx context.Context, sess *session.ImportSession, hints map[string]string) (*analyst.ExecuteResult, error)
	RecallPriorKnowledge(ctx context.Context, filename string) (*analyst.PriorKnowledge, error)
	AdaptiveThreshold(ctx context.Context, filename string) (float64, error)
	ReportLearning(ctx context.Context, sess *session.ImportSession, report analyst.LearningReport) error
}

// BlobStore uploads the raw file before analysis starts.
type BlobStore interface {
	RequestWriteLocation(ctx context.Context, filename, contentType string) (*blobstore.WriteLocation, error)
	Upload(ctx context.Context, loc *blobstore.WriteLocation, r io.Reader, size int64) error
}

// JobRegistry records background imports handed off to the remote job system.
type JobRegistry interface {
	PutJob(j storage.JobRecord) error
}

// SessionCache persists sessions between commands so an import can resume.
type SessionCache interface {
	SaveSession(sess *session.ImportSession) error
}

// Orchestrator coordinates the collaborators for one or more import sessions.
// It is stateless itself; all state lives in the ImportSession.
type Orchestrator struct {
	analyst  AnalysisService
	blobs    BlobStore
	registry JobRegistry
	cache    SessionCache
	logger   *slog.Logger
}

// New wires an Orchestrator. registry and cache may be nil when persistence
// is not configured (for example one-shot CLI runs against a scratch dir).
func New(svc AnalysisService, blobs BlobStore, registry JobRegistry, cache SessionCache, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		analyst:  svc,
		blobs:    blobs,
		registry: registry,
		cache:    cache,
		logger:   logger,
	}
}

// save writes the session to the local cache, if one is configured. Cache
// failures are logged, not fatal: the in-memory session stays authoritative.
func (o *Orchestrator) save(sess *session.ImportSession) {
	if o.cache == nil || sess.SessionID == "" {
		return
	}
	if err := o.cache.SaveSession(sess); err != nil {
		o.logger.Warn("caching session", "session_id", sess.SessionID, "error", err)
	}
}

// fail records a terminal error on the session, persists it, and returns err.
func (o *Orchestrator) fail(sess *session.ImportSession, msg string, err error) error {
	sess.Fail(msg, nil)
	o.save(sess)
	return err
}

// applyAnalysis merges an analysis result into the session. The file analysis
// blob is stored verbatim; questions are re-sorted blocking-first; confidence
// is re-flagged against the session's threshold.
func (o *Orchestrator) applyAnalysis(sess *session.ImportSession, res *analyst.AnalysisResult) {
	if sess.SessionID == "" {
		if res.SessionID != "" {
			sess.SessionID = res.SessionID
		} else {
			// Some service deployments omit the id; the local cache still
			// needs a stable key.
			sess.SessionID = uuid.New().String()
		}
	}
	if len(res.FileAnalysis) > 0 {
		sess.FileAnalysis = res.FileAnalysis
	}
	if len(res.ColumnMappings) > 0 {
		sess.ColumnMappings = res.ColumnMappings
	}
	if res.Confidence != nil {
		res.Confidence.ApplyThreshold(o.threshold(sess))
		sess.Confidence = res.Confidence
	}
	if len(res.RequestedNewColumns) > 0 {
		sess.RequestedNewColumns = res.RequestedNewColumns
	}
	if res.Aggregation != nil {
		sess.Aggregation = res.Aggregation
	}
	for _, step := range res.Trace {
		sess.AppendTrace(step.Type, step.Content)
	}
	sess.SetQuestions(res.Questions)
}

func (o *Orchestrator) threshold(sess *session.ImportSession) float64 {
	if sess.AdaptiveThreshold > 0 {
		return sess.AdaptiveThreshold
	}
	return defaultThreshold
}
