// Package analyst is the HTTP client for the remote intelligent-analysis
// service. Every request posts an action name plus the current ImportSession;
// replies pass through the envelope decoder before anything interprets them.
package analyst

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kargohq/stevedore/internal/envelope"
	"github.com/kargohq/stevedore/internal/session"
)

const (
	defaultTimeout = 120 * time.Second
	maxReplySize   = 16 << 20 // 16MB
)

// Client communicates with the analysis service's agent endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client for the given base URL. The API key is optional; when
// set it is sent as a bearer token.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// request is the wire shape of one agent call. Session is nil only for the
// first analyze call, which creates the session server-side.
type request struct {
	Action  string                 `json:"action"`
	Session *session.ImportSession `json:"session,omitempty"`
	Params  map[string]any         `json:"params,omitempty"`
}

// call posts one action and returns the decoded canonical payload.
// A *envelope.RemoteError passes through untouched so callers can branch on
// remote-reported failures; everything else is a transport-level error.
func (c *Client) call(ctx context.Context, action string, sess *session.ImportSession, params map[string]any) (envelope.Result, error) {
	body, err := json.Marshal(request{Action: action, Session: sess, Params: params})
	if err != nil {
		return envelope.Result{}, fmt.Errorf("marshaling %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/agent", bytes.NewReader(body))
	if err != nil {
		return envelope.Result{}, fmt.Errorf("creating %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope.Result{}, fmt.Errorf("%s request: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return envelope.Result{}, fmt.Errorf("reading %s response: %w", action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Error bodies are often double-wrapped; let the decoder have a go
		// at extracting something readable before falling back to status.
		if _, decErr := envelope.Decode(raw); decErr != nil {
			return envelope.Result{}, fmt.Errorf("%s: %w", action, decErr)
		}
		return envelope.Result{}, fmt.Errorf("%s: unexpected status %d", action, resp.StatusCode)
	}

	return envelope.Decode(raw)
}

// callInto runs one action and unmarshals the payload into out.
func (c *Client) callInto(ctx context.Context, action string, sess *session.ImportSession, params map[string]any, out any) error {
	res, err := c.call(ctx, action, sess, params)
	if err != nil {
		return err
	}
	if !res.Parsed {
		return fmt.Errorf("%s: response is not parseable JSON: %.120s", action, res.Raw)
	}
	if err := json.Unmarshal(res.Payload, out); err != nil {
		return fmt.Errorf("%s: decoding payload: %w", action, err)
	}
	return nil
}

// Analyze submits the stored file reference plus hints for first analysis.
// The service assigns the session id.
func (c *Client) Analyze(ctx context.Context, sess *session.ImportSession, params map[string]any) (*AnalysisResult, error) {
	var out AnalysisResult
	if err := c.callInto(ctx, ActionAnalyze, sess, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitAnswers resubmits the session with merged answers for re-analysis.
func (c *Client) SubmitAnswers(ctx context.Context, sess *session.ImportSession, feedback string) (*AnalysisResult, error) {
	var params map[string]any
	if feedback != "" {
		params = map[string]any{"feedback": feedback}
	}
	var out AnalysisResult
	if err := c.callInto(ctx, ActionSubmitAnswers, sess, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PrepareProcessing asks the server to re-validate against the destination
// schema and finalize the processing configuration.
func (c *Client) PrepareProcessing(ctx context.Context, sess *session.ImportSession) (*PrepareResult, error) {
	var out PrepareResult
	if err := c.callInto(ctx, ActionPrepareProcessing, sess, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteImport runs the finalized import, with optional destination hints.
func (c *Client) ExecuteImport(ctx context.Context, sess *session.ImportSession, hints map[string]string) (*ExecuteResult, error) {
	var params map[string]any
	if len(hints) > 0 {
		params = map[string]any{"destination_hints": hints}
	}
	var out ExecuteResult
	if err := c.callInto(ctx, ActionExecuteImport, sess, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecallPriorKnowledge fetches what the service remembers about similarly
// named files. Callers treat failures as non-fatal.
func (c *Client) RecallPriorKnowledge(ctx context.Context, filename string) (*PriorKnowledge, error) {
	var out PriorKnowledge
	if err := c.callInto(ctx, ActionRecallKnowledge, nil, map[string]any{"filename": filename}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdaptiveThreshold fetches the tenant's confidence threshold. Callers treat
// failures as non-fatal and fall back to a default.
func (c *Client) AdaptiveThreshold(ctx context.Context, filename string) (float64, error) {
	var out ThresholdResult
	if err := c.callInto(ctx, ActionAdaptiveThreshold, nil, map[string]any{"filename": filename}, &out); err != nil {
		return 0, err
	}
	return out.Threshold, nil
}

// ReportLearning submits the import outcome for future improvement.
func (c *Client) ReportLearning(ctx context.Context, sess *session.ImportSession, report LearningReport) error {
	_, err := c.call(ctx, ActionReportLearning, sess, map[string]any{"report": report})
	return err
}

// GetJobStatus asks about a queued background import.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var out JobStatus
	if err := c.callInto(ctx, ActionJobStatus, nil, map[string]any{"job_id": jobID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
