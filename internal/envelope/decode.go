// Package envelope normalizes replies from the remote analysis service.
//
// The service answers in one of five observed shapes: a bare object with a
// success flag, a JSON string, a legacy dict-literal string, a content-array
// wrapper, or an orchestrator envelope nesting the payload under "response".
// All shape knowledge lives here so callers see a single canonical result.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// contentKeys are the alternate wrapper keys a content array may hide under,
// depending on which upstream component routed the reply.
var contentKeys = [...]string{"content", "output", "result"}

// RemoteError is a failure the remote service reported about its own work.
type RemoteError struct {
	Message    string
	Specialist string          // which specialist produced the reply, when annotated
	Raw        json.RawMessage // the envelope as received
}

func (e *RemoteError) Error() string {
	if e.Specialist != "" {
		return fmt.Sprintf("remote %s failed: %s", e.Specialist, e.Message)
	}
	return "remote call failed: " + e.Message
}

// Result is the outcome of decoding one reply. When Parsed is false the
// reply could not be reduced to JSON; Raw still holds the original bytes so
// the caller can decide whether unparseable-but-present is acceptable.
type Result struct {
	Payload json.RawMessage // canonical JSON, nil unless Parsed
	Raw     []byte          // original input, always retained
	Parsed  bool
}

// Decode reduces one raw reply to a canonical payload or a *RemoteError.
// It never fails on shape alone: an unrecognized body comes back unparsed.
func Decode(raw []byte) (Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Result{Raw: raw}, nil
	}

	// Direct-object shortcut first: cheapest and by far the most common.
	var v any
	if err := json.Unmarshal(trimmed, &v); err == nil {
		switch val := v.(type) {
		case map[string]any:
			if text, ok := contentText(val); ok {
				return decodeText(text, raw)
			}
			return unwrap(val, raw)
		case string:
			return decodeText(val, raw)
		default:
			return canonical(v, raw)
		}
	}

	// Not valid JSON at the top level; treat the body as text.
	return decodeText(string(trimmed), raw)
}

// DecodeInto decodes raw and unmarshals the canonical payload into v.
func DecodeInto(raw []byte, v any) error {
	res, err := Decode(raw)
	if err != nil {
		return err
	}
	if !res.Parsed {
		return fmt.Errorf("response is not parseable JSON: %.120s", res.Raw)
	}
	if err := json.Unmarshal(res.Payload, v); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}

// decodeText handles string bodies: markdown fences are stripped, strict JSON
// is attempted, then the legacy dict-literal normalization as a fallback.
func decodeText(text string, raw []byte) (Result, error) {
	t := stripFences(strings.TrimSpace(text))

	var v any
	if err := json.Unmarshal([]byte(t), &v); err != nil {
		if err := json.Unmarshal([]byte(normalizeLiteral(t)), &v); err != nil {
			return Result{Raw: raw}, nil
		}
	}

	if m, ok := v.(map[string]any); ok {
		return unwrap(m, raw)
	}
	return canonical(v, raw)
}

// unwrap applies the orchestrator-envelope rule: a boolean success field next
// to a nested response means the true payload is one level down. A false
// success flag is raised as a RemoteError using the envelope's error field.
func unwrap(m map[string]any, raw []byte) (Result, error) {
	success, hasSuccess := m["success"].(bool)
	if !hasSuccess {
		return canonical(m, raw)
	}

	if !success {
		specialist, _ := m["specialist"].(string)
		return Result{Raw: raw, Parsed: true}, &RemoteError{
			Message:    errorMessage(m["error"]),
			Specialist: specialist,
			Raw:        json.RawMessage(bytes.TrimSpace(raw)),
		}
	}

	if resp, ok := m["response"]; ok {
		return canonical(resp, raw)
	}
	return canonical(m, raw)
}

func canonical(v any, raw []byte) (Result, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Result{Raw: raw}, nil
	}
	return Result{Payload: b, Raw: raw, Parsed: true}, nil
}

// errorMessage digs a human-readable message out of an error field that may
// be a plain string, a nested object, or a double-encoded JSON string.
func errorMessage(v any) string {
	switch e := v.(type) {
	case string:
		t := strings.TrimSpace(e)
		if strings.HasPrefix(t, "{") {
			var inner map[string]any
			if json.Unmarshal([]byte(t), &inner) == nil {
				if msg := objectMessage(inner); msg != "" {
					return msg
				}
			}
		}
		if e != "" {
			return e
		}
	case map[string]any:
		if msg := objectMessage(e); msg != "" {
			return msg
		}
	}
	return "unspecified remote failure"
}

func objectMessage(m map[string]any) string {
	for _, k := range [...]string{"message", "error", "detail"} {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// contentText extracts the concatenated text parts of a content-array
// wrapper, trying each known alternate key in order.
func contentText(m map[string]any) (string, bool) {
	for _, key := range contentKeys {
		arr, ok := m[key].([]any)
		if !ok {
			continue
		}
		var b strings.Builder
		found := false
		for _, item := range arr {
			part, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := part["text"].(string); ok {
				b.WriteString(text)
				found = true
			}
		}
		if found {
			return b.String(), true
		}
	}
	return "", false
}

// stripFences removes an optional markdown code fence around a JSON body.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = s[3:]
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
