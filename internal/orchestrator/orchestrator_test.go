package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kargohq/stevedore/internal/analyst"
	"github.com/kargohq/stevedore/internal/blobstore"
	"github.com/kargohq/stevedore/internal/envelope"
	"github.com/kargohq/stevedore/internal/session"
	"github.com/kargohq/stevedore/internal/storage"
)

// fakeAnalyst is a scriptable AnalysisService. Unset function fields make the
// corresponding call fail the test.
type fakeAnalyst struct {
	t *testing.T

	analyzeFn  func(sess *session.ImportSession, params map[string]any) (*analyst.AnalysisResult, error)
	answersFn  func(sess *session.ImportSession, feedback string) (*analyst.AnalysisResult, error)
	prepareFn  func(sess *session.ImportSession) (*analyst.PrepareResult, error)
	executeFn  func(sess *session.ImportSession, hints map[string]string) (*analyst.ExecuteResult, error)
	recallErr  error
	threshold  float64
	learnCalls int
	learnErr   error
}

func (f *fakeAnalyst) Analyze(_ context.Context, sess *session.ImportSession, params map[string]any) (*analyst.AnalysisResult, error) {
	if f.analyzeFn == nil {
		f.t.Fatal("unexpected Analyze call")
	}
	return f.analyzeFn(sess, params)
}

func (f *fakeAnalyst) SubmitAnswers(_ context.Context, sess *session.ImportSession, feedback string) (*analyst.AnalysisResult, error) {
	if f.answersFn == nil {
		f.t.Fatal("unexpected SubmitAnswers call")
	}
	return f.answersFn(sess, feedback)
}

func (f *fakeAnalyst) PrepareProcessing(_ context.Context, sess *session.ImportSession) (*analyst.PrepareResult, error) {
	if f.prepareFn == nil {
		f.t.Fatal("unexpected PrepareProcessing call")
	}
	return f.prepareFn(sess)
}

func (f *fakeAnalyst) ExecuteImport(_ context.Context, sess *session.ImportSession, hints map[string]string) (*analyst.ExecuteResult, error) {
	if f.executeFn == nil {
		f.t.Fatal("unexpected ExecuteImport call")
	}
	return f.executeFn(sess, hints)
}

func (f *fakeAnalyst) RecallPriorKnowledge(context.Context, string) (*analyst.PriorKnowledge, error) {
	if f.recallErr != nil {
		return nil, f.recallErr
	}
	return &analyst.PriorKnowledge{Hints: []string{"zone column is usually zone_code"}}, nil
}

func (f *fakeAnalyst) AdaptiveThreshold(context.Context, string) (float64, error) {
	if f.threshold == 0 {
		return 0, errors.New("no threshold recorded")
	}
	return f.threshold, nil
}

func (f *fakeAnalyst) ReportLearning(_ context.Context, _ *session.ImportSession, _ analyst.LearningReport) error {
	f.learnCalls++
	return f.learnErr
}

// fakeBlobs is an always-succeeding BlobStore unless failUpload is set.
type fakeBlobs struct {
	failLocation bool
	failUpload   bool
	uploaded     int64
}

func (f *fakeBlobs) RequestWriteLocation(_ context.Context, filename, _ string) (*blobstore.WriteLocation, error) {
	if f.failLocation {
		return nil, errors.New("storage unavailable")
	}
	return &blobstore.WriteLocation{WriteURL: "https://blob.test/put", Key: "uploads/" + filename}, nil
}

func (f *fakeBlobs) Upload(_ context.Context, _ *blobstore.WriteLocation, r io.Reader, size int64) error {
	if f.failUpload {
		return errors.New("write rejected")
	}
	f.uploaded = size
	_, _ = io.Copy(io.Discard, r)
	return nil
}

type fakeRegistry struct {
	jobs []storage.JobRecord
	err  error
}

func (f *fakeRegistry) PutJob(j storage.JobRecord) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, j)
	return nil
}

func newTestOrchestrator(fa *fakeAnalyst, fb *fakeBlobs, fr *fakeRegistry) *Orchestrator {
	var reg JobRegistry
	if fr != nil {
		reg = fr
	}
	return New(fa, fb, reg, nil, nil)
}

func analysisFixture(questions ...session.Question) *analyst.AnalysisResult {
	return &analyst.AnalysisResult{
		SessionID:    "s-100",
		FileAnalysis: json.RawMessage(`{"columns":["origin","dest","rate"]}`),
		ColumnMappings: map[string]session.ColumnMapping{
			"origin": {Target: "origin_zone", Confidence: 0.95},
			"rate":   {Target: "base_rate", Confidence: 0.60},
		},
		Confidence: &session.Confidence{Overall: 0.82, RiskLevel: "low"},
		Questions:  questions,
	}
}

func TestStart_NoQuestionsGoesStraightToProcessing(t *testing.T) {
	fa := &fakeAnalyst{t: t, threshold: 0.8}
	fa.analyzeFn = func(sess *session.ImportSession, params map[string]any) (*analyst.AnalysisResult, error) {
		if sess.Stage != session.StageAnalyzing {
			t.Errorf("wire stage = %q, want analyzing", sess.Stage)
		}
		if params["filename"] != "rates.csv" {
			t.Errorf("params filename = %v", params["filename"])
		}
		return analysisFixture(), nil
	}
	fb := &fakeBlobs{}
	o := newTestOrchestrator(fa, fb, nil)

	sess, err := o.Start(context.Background(), "rates.csv", "text/csv", []byte("origin,dest,rate\nA,B,1.50\n"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Phase != session.PhaseProcessing {
		t.Errorf("phase = %q, want processing", sess.Phase)
	}
	if sess.SessionID != "s-100" {
		t.Errorf("session id = %q", sess.SessionID)
	}
	if sess.File == nil || sess.File.StorageKey != "uploads/rates.csv" {
		t.Errorf("file reference = %+v", sess.File)
	}
	if fb.uploaded == 0 {
		t.Error("file bytes were never uploaded")
	}
	if sess.AdaptiveThreshold != 0.8 {
		t.Errorf("threshold = %v, want 0.8", sess.AdaptiveThreshold)
	}
}

func TestStart_QuestionsSortedBlockingFirst(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	fa.analyzeFn = func(*session.ImportSession, map[string]any) (*analyst.AnalysisResult, error) {
		return analysisFixture(
			session.Question{ID: "q-fmt", Text: "Date format?", Importance: session.ImportanceNormal},
			session.Question{ID: "q-zone", Text: "Which zone column?", Importance: session.ImportanceCritical, Blocking: true},
		), nil
	}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)

	sess, err := o.Start(context.Background(), "rates.csv", "text/csv", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Phase != session.PhaseQuestioning {
		t.Errorf("phase = %q, want questioning", sess.Phase)
	}
	if sess.Questions[0].ID != "q-zone" {
		t.Errorf("first question = %q, want blocking one first", sess.Questions[0].ID)
	}
}

func TestStart_RecallFailureIsNonFatal(t *testing.T) {
	fa := &fakeAnalyst{t: t, recallErr: errors.New("memory service down")}
	fa.analyzeFn = func(_ *session.ImportSession, params map[string]any) (*analyst.AnalysisResult, error) {
		if _, ok := params["prior_knowledge"]; ok {
			t.Error("prior knowledge passed despite recall failure")
		}
		return analysisFixture(), nil
	}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)

	sess, err := o.Start(context.Background(), "rates.csv", "text/csv", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.AdaptiveThreshold != defaultThreshold {
		t.Errorf("threshold = %v, want default", sess.AdaptiveThreshold)
	}
}

func TestStart_UploadFailureIsFatal(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	o := newTestOrchestrator(fa, &fakeBlobs{failUpload: true}, nil)

	sess, err := o.Start(context.Background(), "rates.csv", "text/csv", []byte("x"))
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if sess.Phase != session.PhaseError {
		t.Errorf("phase = %q, want error", sess.Phase)
	}
}

func TestStart_AmbiguousSuccessWithDataIsAccepted(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	fa.analyzeFn = func(*session.ImportSession, map[string]any) (*analyst.AnalysisResult, error) {
		res := analysisFixture()
		res.Error = "success" // known upstream defect
		return res, nil
	}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)

	sess, err := o.Start(context.Background(), "rates.csv", "text/csv", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Phase == session.PhaseError {
		t.Error("mislabeled success was rejected")
	}
}

func TestStart_ErrorWithoutDataIsMalformed(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	fa.analyzeFn = func(*session.ImportSession, map[string]any) (*analyst.AnalysisResult, error) {
		return &analyst.AnalysisResult{Error: "success"}, nil
	}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)

	sess, err := o.Start(context.Background(), "rates.csv", "text/csv", nil)
	var aerr *AmbiguousResponseError
	if !errors.As(err, &aerr) {
		t.Fatalf("err = %v, want AmbiguousResponseError", err)
	}
	if sess.Phase != session.PhaseError {
		t.Errorf("phase = %q, want error", sess.Phase)
	}
}

func TestStart_RemoteErrorSurfacesMessage(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	fa.analyzeFn = func(*session.ImportSession, map[string]any) (*analyst.AnalysisResult, error) {
		return nil, &envelope.RemoteError{Message: "unsupported file layout", Specialist: "analysis"}
	}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)

	sess, err := o.Start(context.Background(), "rates.csv", "text/csv", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if sess.Err == nil || !strings.Contains(sess.Err.Message, "unsupported file layout") {
		t.Errorf("session error = %+v", sess.Err)
	}
}

func startQuestioning(t *testing.T, o *Orchestrator, fa *fakeAnalyst, qs ...session.Question) *session.ImportSession {
	t.Helper()
	fa.analyzeFn = func(*session.ImportSession, map[string]any) (*analyst.AnalysisResult, error) {
		return analysisFixture(qs...), nil
	}
	sess, err := o.Start(context.Background(), "rates.csv", "text/csv", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return sess
}

func TestSubmitAnswers_ResolvedQuestionsReachReview(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)
	sess := startQuestioning(t, o, fa,
		session.Question{ID: "q-zone", Text: "Which zone column?", Blocking: true})

	fa.answersFn = func(got *session.ImportSession, feedback string) (*analyst.AnalysisResult, error) {
		if got.Stage != session.StageReasoning {
			t.Errorf("wire stage = %q, want reasoning", got.Stage)
		}
		if got.Answers["q-zone"] != "zone_code" {
			t.Errorf("answers not merged before call: %v", got.Answers)
		}
		if feedback != "use the second header row" {
			t.Errorf("feedback = %q", feedback)
		}
		res := analysisFixture() // no remaining questions
		res.Confidence = &session.Confidence{Overall: 0.9, RiskLevel: "low"}
		return res, nil
	}

	err := o.SubmitAnswers(context.Background(), sess,
		map[string]string{"q-zone": "zone_code"}, "use the second header row")
	if err != nil {
		t.Fatalf("SubmitAnswers: %v", err)
	}
	if sess.Phase != session.PhaseReviewing {
		t.Errorf("phase = %q, want reviewing", sess.Phase)
	}
	if sess.Answers["q-zone"] != "zone_code" {
		t.Error("answer lost after re-analysis")
	}
}

func TestSubmitAnswers_NewQuestionsStayQuestioning(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)
	sess := startQuestioning(t, o, fa, session.Question{ID: "q-1", Text: "Zone column?"})

	fa.answersFn = func(*session.ImportSession, string) (*analyst.AnalysisResult, error) {
		return analysisFixture(session.Question{ID: "q-2", Text: "And the rate currency?"}), nil
	}

	if err := o.SubmitAnswers(context.Background(), sess, map[string]string{"q-1": "zone"}, ""); err != nil {
		t.Fatalf("SubmitAnswers: %v", err)
	}
	if sess.Phase != session.PhaseQuestioning {
		t.Errorf("phase = %q, want questioning", sess.Phase)
	}
	if len(sess.Answers) != 1 {
		t.Errorf("answers = %v, earlier round should be retained", sess.Answers)
	}
}

func TestSubmitAnswers_ReasoningFailureRecoversWithFallback(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)
	sess := startQuestioning(t, o, fa, session.Question{ID: "q-1", Text: "Zone column?"})

	fa.answersFn = func(*session.ImportSession, string) (*analyst.AnalysisResult, error) {
		return &analyst.AnalysisResult{
			ReasoningFailed: true,
			Error:           "reasoning timeout",
			FallbackQuestions: []session.Question{
				{ID: "q-fb", Text: "Pick the zone column manually", Options: []string{"col_a", "col_b"}},
			},
		}, nil
	}

	if err := o.SubmitAnswers(context.Background(), sess, map[string]string{"q-1": "zone"}, ""); err != nil {
		t.Fatalf("reasoning failure should not error: %v", err)
	}
	if sess.Phase != session.PhaseQuestioning {
		t.Errorf("phase = %q, want questioning", sess.Phase)
	}
	if len(sess.Questions) != 1 || sess.Questions[0].ID != "q-fb" {
		t.Errorf("questions = %+v, want fallback set", sess.Questions)
	}
}

func TestSubmitAnswers_RemoteFailureSynthesizesContinuation(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)
	sess := startQuestioning(t, o, fa, session.Question{ID: "q-1", Text: "Zone column?"})

	fa.answersFn = func(*session.ImportSession, string) (*analyst.AnalysisResult, error) {
		return nil, &envelope.RemoteError{Message: "specialist crashed"}
	}

	if err := o.SubmitAnswers(context.Background(), sess, map[string]string{"q-1": "zone"}, ""); err != nil {
		t.Fatalf("remote reasoning failure should not error: %v", err)
	}
	if sess.Phase != session.PhaseQuestioning {
		t.Errorf("phase = %q, want questioning", sess.Phase)
	}
	if len(sess.Questions) != 1 || sess.Questions[0].ID != recoveryQuestionID {
		t.Errorf("questions = %+v, want synthesized continuation", sess.Questions)
	}
}

func TestSubmitAnswers_ValidationErrorsAreFatal(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)
	sess := startQuestioning(t, o, fa, session.Question{ID: "q-1", Text: "Zone column?"})

	fa.answersFn = func(*session.ImportSession, string) (*analyst.AnalysisResult, error) {
		return &analyst.AnalysisResult{
			ValidationErrors: []string{"rate must be numeric", "zone_code unknown: ZZ"},
		}, nil
	}

	err := o.SubmitAnswers(context.Background(), sess, map[string]string{"q-1": "zone"}, "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(verr.Problems) != 2 {
		t.Errorf("problems = %v", verr.Problems)
	}
	if sess.Phase != session.PhaseError {
		t.Errorf("phase = %q, want error", sess.Phase)
	}
}

func TestSubmitAnswers_TransportFailureIsFatal(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)
	sess := startQuestioning(t, o, fa, session.Question{ID: "q-1", Text: "Zone column?"})

	fa.answersFn = func(*session.ImportSession, string) (*analyst.AnalysisResult, error) {
		return nil, errors.New("connection reset")
	}

	err := o.SubmitAnswers(context.Background(), sess, map[string]string{"q-1": "zone"}, "")
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if sess.Phase != session.PhaseError {
		t.Errorf("phase = %q, want error", sess.Phase)
	}
}

func reviewingSession(t *testing.T, o *Orchestrator, fa *fakeAnalyst) *session.ImportSession {
	t.Helper()
	sess := startQuestioning(t, o, fa, session.Question{ID: "q-1", Text: "Zone column?"})
	fa.answersFn = func(*session.ImportSession, string) (*analyst.AnalysisResult, error) {
		return analysisFixture(), nil
	}
	if err := o.SubmitAnswers(context.Background(), sess, map[string]string{"q-1": "zone"}, ""); err != nil {
		t.Fatalf("SubmitAnswers: %v", err)
	}
	if sess.Phase != session.PhaseReviewing {
		t.Fatalf("setup: phase = %q", sess.Phase)
	}
	return sess
}

func TestReview_SummaryCountsMappingsByConfidence(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)
	sess := reviewingSession(t, o, fa)
	sess.Aggregation = &session.AggregationPlan{KeyColumn: "zone_code", RowsIn: 120, RowsOut: 40}
	sess.RequestedNewColumns = []session.NewColumnRequest{
		{Name: "fuel_pct", Type: "numeric", Approved: true},
		{Name: "scratch", Type: "text", Approved: false},
	}

	summary, err := o.Review(sess)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !summary.ReadyToImport || summary.IsBlocked {
		t.Errorf("summary flags = %+v", summary)
	}
	// Fixture has one mapping at 0.95 and one at 0.60 against the 0.75 default.
	if len(summary.Validations) == 0 || !strings.Contains(summary.Validations[0], "1 column(s)") {
		t.Errorf("validations = %v", summary.Validations)
	}
	if len(summary.Warnings) == 0 || !strings.Contains(summary.Warnings[0], "low-confidence") {
		t.Errorf("warnings = %v", summary.Warnings)
	}
	foundAgg := false
	for _, v := range summary.Validations {
		if strings.Contains(v, "120 -> 40") {
			foundAgg = true
		}
	}
	if !foundAgg {
		t.Errorf("aggregation line missing from %v", summary.Validations)
	}
	if len(summary.NewColumns) != 1 || summary.NewColumns[0].Name != "fuel_pct" {
		t.Errorf("new columns = %+v, want approved only", summary.NewColumns)
	}
}

func TestRequestEdit_ReturnsToQuestioningKeepingAnswers(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)
	sess := reviewingSession(t, o, fa)

	if err := o.RequestEdit(sess); err != nil {
		t.Fatalf("RequestEdit: %v", err)
	}
	if sess.Phase != session.PhaseQuestioning {
		t.Errorf("phase = %q", sess.Phase)
	}
	if sess.Answers["q-1"] != "zone" {
		t.Error("answers lost on edit")
	}
}

func TestApprove_MissingColumnsBlockWithoutError(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)
	sess := reviewingSession(t, o, fa)

	fa.prepareFn = func(*session.ImportSession) (*analyst.PrepareResult, error) {
		return &analyst.PrepareResult{
			MissingColumns: []session.MissingColumn{
				{Name: "effective_date", Type: "date"},
				{Name: "carrier_id", Type: "text"},
			},
		}, nil
	}

	out, err := o.Approve(context.Background(), sess, nil)
	if err != nil {
		t.Fatalf("blocked prepare must not error: %v", err)
	}
	if !out.Blocked || out.Summary == nil || !out.Summary.IsBlocked {
		t.Fatalf("outcome = %+v, want blocked", out)
	}
	if len(out.Summary.MissingColumns) != 2 {
		t.Errorf("missing columns = %+v", out.Summary.MissingColumns)
	}
	if sess.Phase != session.PhaseReviewing {
		t.Errorf("phase = %q, want back in reviewing", sess.Phase)
	}
	if fa.learnCalls != 0 {
		t.Error("learning reported for a blocked import")
	}
}

func TestApprove_SynchronousSuccessReportsLearning(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	fr := &fakeRegistry{}
	o := newTestOrchestrator(fa, &fakeBlobs{}, fr)
	sess := reviewingSession(t, o, fa)

	fa.prepareFn = func(*session.ImportSession) (*analyst.PrepareResult, error) {
		return &analyst.PrepareResult{}, nil
	}
	fa.executeFn = func(got *session.ImportSession, hints map[string]string) (*analyst.ExecuteResult, error) {
		if hints["table"] != "carrier_rates" {
			t.Errorf("hints = %v", hints)
		}
		return &analyst.ExecuteResult{Imported: 40, Failed: 2, Message: "40 rows imported"}, nil
	}

	out, err := o.Approve(context.Background(), sess, map[string]string{"table": "carrier_rates"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if out.Imported != 40 || out.Failed != 2 {
		t.Errorf("outcome = %+v", out)
	}
	if sess.Phase != session.PhaseComplete {
		t.Errorf("phase = %q, want complete", sess.Phase)
	}
	if fa.learnCalls != 1 {
		t.Errorf("learning calls = %d, want 1", fa.learnCalls)
	}
	if len(fr.jobs) != 0 {
		t.Errorf("jobs registered = %d, want 0", len(fr.jobs))
	}
}

func TestApprove_AsyncHandoffSkipsLearning(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	fr := &fakeRegistry{}
	o := newTestOrchestrator(fa, &fakeBlobs{}, fr)
	sess := reviewingSession(t, o, fa)

	fa.prepareFn = func(*session.ImportSession) (*analyst.PrepareResult, error) {
		return &analyst.PrepareResult{}, nil
	}
	fa.executeFn = func(*session.ImportSession, map[string]string) (*analyst.ExecuteResult, error) {
		return &analyst.ExecuteResult{
			Job: &session.AsyncJob{JobID: "job-7", HumanMessage: "Large file queued, check back soon"},
		}, nil
	}

	out, err := o.Approve(context.Background(), sess, nil)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if out.Job == nil || out.Job.JobID != "job-7" {
		t.Fatalf("outcome = %+v, want async job", out)
	}
	if sess.Phase != session.PhaseJobQueued {
		t.Errorf("phase = %q, want job_queued", sess.Phase)
	}
	if fa.learnCalls != 0 {
		t.Error("learning must not be reported on async hand-off")
	}
	if len(fr.jobs) != 1 || fr.jobs[0].JobID != "job-7" || fr.jobs[0].SessionID != sess.SessionID {
		t.Errorf("registry = %+v", fr.jobs)
	}
}

func TestApprove_SyncFailureJoinsRowErrors(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)
	sess := reviewingSession(t, o, fa)

	fa.prepareFn = func(*session.ImportSession) (*analyst.PrepareResult, error) {
		return &analyst.PrepareResult{}, nil
	}
	fa.executeFn = func(*session.ImportSession, map[string]string) (*analyst.ExecuteResult, error) {
		return &analyst.ExecuteResult{
			Failed:    2,
			RowErrors: []string{"row 3: bad rate", "row 9: unknown zone"},
		}, nil
	}

	_, err := o.Approve(context.Background(), sess, nil)
	var eerr *ExecutionError
	if !errors.As(err, &eerr) {
		t.Fatalf("err = %v, want ExecutionError", err)
	}
	if !strings.Contains(err.Error(), "row 3: bad rate; row 9: unknown zone") {
		t.Errorf("message = %q, want joined row errors", err.Error())
	}
	if sess.Phase != session.PhaseError {
		t.Errorf("phase = %q, want error", sess.Phase)
	}
}

func TestApprove_LearningFailureDoesNotFailImport(t *testing.T) {
	fa := &fakeAnalyst{t: t, learnErr: errors.New("learning endpoint down")}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)
	sess := reviewingSession(t, o, fa)

	fa.prepareFn = func(*session.ImportSession) (*analyst.PrepareResult, error) {
		return &analyst.PrepareResult{}, nil
	}
	fa.executeFn = func(*session.ImportSession, map[string]string) (*analyst.ExecuteResult, error) {
		return &analyst.ExecuteResult{Imported: 10}, nil
	}

	if _, err := o.Approve(context.Background(), sess, nil); err != nil {
		t.Fatalf("learning failure must not surface: %v", err)
	}
	if sess.Phase != session.PhaseComplete {
		t.Errorf("phase = %q, want complete", sess.Phase)
	}
}

func TestApprove_RefusedWhileBlockingQuestionOpen(t *testing.T) {
	fa := &fakeAnalyst{t: t}
	o := newTestOrchestrator(fa, &fakeBlobs{}, nil)
	sess := startQuestioning(t, o, fa,
		session.Question{ID: "q-b", Text: "Which zone column?", Blocking: true})

	if _, err := o.Approve(context.Background(), sess, nil); err == nil {
		t.Fatal("approve must be refused while a blocking question is open")
	}
}
