package orchestrator

import (
	"fmt"
	"strings"
)

// TransportError wraps a failed network or storage operation. Fatal at this
// layer; the session moves to the error phase and nothing retries.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError carries remote schema-validation failures against the
// destination. Surfaced verbatim to the user and never retried.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "destination schema validation failed: " + strings.Join(e.Problems, "; ")
}

// AmbiguousResponseError means the decoder produced something, but the
// heuristics could not tell success from failure. Presented as a generic
// malformed-response message.
type AmbiguousResponseError struct {
	Detail string
}

func (e *AmbiguousResponseError) Error() string {
	if e.Detail != "" {
		return "malformed response from analysis service: " + e.Detail
	}
	return "malformed response from analysis service"
}

// ExecutionError is a synchronous import failure, built from the most
// specific detail available (row failures joined when present).
type ExecutionError struct {
	Message   string
	RowErrors []string
}

func (e *ExecutionError) Error() string {
	if len(e.RowErrors) > 0 {
		return "import failed: " + strings.Join(e.RowErrors, "; ")
	}
	if e.Message != "" {
		return "import failed: " + e.Message
	}
	return "import failed"
}
