package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Step result status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Fields is the payload of one step result as it appears on the wire.
type Fields map[string]any

// StepKey builds the report key for one step, e.g. "step_0_navigate".
func StepKey(index int, kind string) string {
	return fmt.Sprintf("step_%d_%s", index, kind)
}

// SuccessFields wraps a handler payload with a success status.
func SuccessFields(payload Fields) Fields {
	f := Fields{"status": StatusSuccess}
	for k, v := range payload {
		f[k] = v
	}
	return f
}

// FailureFields renders an ActionError as step result fields. The selector
// (empty when the action has none) feeds the suggestion heuristics.
func FailureFields(e *ActionError, selector string) Fields {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	msg = TruncateMessage(msg)
	return Fields{
		"status":     StatusError,
		"error_type": e.Code,
		"message":    msg,
		"suggestion": SuggestionFor(e.Code, msg, selector),
	}
}

// StepRecord is the indexed outcome of executing one ActionRequest.
type StepRecord struct {
	Index  int
	Kind   string
	Fields Fields
}

// Report accumulates step outcomes in execution order, plus an optional
// session-level error when the run aborted. It marshals to a single JSON
// object keyed step_<index>_<kind>, preserving step order.
type Report struct {
	Steps []StepRecord
	Err   *ErrorDetail
}

// Add appends one step outcome.
func (r *Report) Add(index int, kind string, fields Fields) {
	r.Steps = append(r.Steps, StepRecord{Index: index, Kind: kind, Fields: fields})
}

// Len returns the number of recorded steps.
func (r *Report) Len() int {
	return len(r.Steps)
}

// MarshalJSON emits the step entries in order, then the session error if any.
// encoding/json sorts map keys, which would interleave step_10 before step_2;
// hand-rolling the object keeps the report readable.
func (r *Report) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(key)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(vb)
		return nil
	}

	for _, s := range r.Steps {
		if err := write(StepKey(s.Index, s.Kind), s.Fields); err != nil {
			return nil, err
		}
	}
	if r.Err != nil {
		if err := write("error", r.Err); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ClipRunes truncates s to max characters (not bytes, so multibyte text
// never gets split mid-rune) and reports whether anything was cut. A max of
// zero or less means no limit.
func ClipRunes(s string, max int) (string, bool) {
	if max <= 0 {
		return s, false
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s, false
	}
	return string(runes[:max]), true
}

// RequestRecord is one captured network request. Status is backfilled from
// the matching response while capture is active and omitted when no response
// arrived before stop.
type RequestRecord struct {
	URL          string `json:"url"`
	Method       string `json:"method"`
	Status       int    `json:"status,omitempty"`
	ResourceType string `json:"resource_type"`
}
