package models

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ActionRequest is one caller-supplied instruction in a step list.
type ActionRequest struct {
	// Action names the operation to perform, e.g. "navigate" or "click".
	// An empty or unrecognized name produces a per-step failure, not a crash.
	Action string `json:"action"`

	// Params carries the handler-specific parameters. Each handler validates
	// its own; there is no central schema.
	Params Params `json:"params"`
}

// Params is the loosely-typed parameter bag of an ActionRequest. Values come
// straight from JSON, so numbers arrive as float64.
type Params map[string]any

// Str returns the string value for key, or def when absent or not a string.
func (p Params) Str(key, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

// Int returns the integer value for key, or def when absent.
// JSON numbers decode as float64; both forms are accepted.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// Bool returns the boolean value for key, or def when absent or not a bool.
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// Duration interprets the value for key as milliseconds and returns it as a
// time.Duration, or def when absent or non-positive.
func (p Params) Duration(key string, def time.Duration) time.Duration {
	ms := p.Int(key, 0)
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// Input is the top-level invocation payload.
type Input struct {
	// Steps is either a JSON array of ActionRequests or a string containing
	// one (agents frequently double-encode the array).
	Steps json.RawMessage `json:"steps"`

	// StepsFile is an optional path to a file holding the step array.
	// Takes precedence over Steps when set.
	StepsFile string `json:"steps_file,omitempty"`
}

// ParseInput decodes the raw invocation JSON into an ordered step list.
//
// Error contract for the caller:
//   - malformed JSON surfaces the json package's error types unwrapped
//   - a missing steps file surfaces fs.ErrNotExist via os.ReadFile
//   - structural problems (not an array, empty list) surface as
//     *ActionError with code INVALID_INPUT
func ParseInput(raw []byte) ([]ActionRequest, error) {
	var in Input
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	stepsJSON := []byte(in.Steps)
	if in.StepsFile != "" {
		data, err := os.ReadFile(in.StepsFile)
		if err != nil {
			return nil, fmt.Errorf("read steps file: %w", err)
		}
		stepsJSON = data
	}

	return ParseSteps(stepsJSON)
}

// ParseSteps decodes a step array, tolerating one level of string encoding
// around it. Used directly by callers that receive the array without the
// Input envelope.
func ParseSteps(raw []byte) ([]ActionRequest, error) {
	if len(raw) == 0 {
		return nil, NewActionError(ErrCodeInvalidInput, "'steps' array cannot be empty", nil)
	}

	// Unwrap one level of string encoding if present.
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = []byte(encoded)
	}

	var steps []ActionRequest
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, NewActionError(ErrCodeInvalidInput, "'steps' must be a JSON array", err)
	}
	if len(steps) == 0 {
		return nil, NewActionError(ErrCodeInvalidInput, "'steps' array cannot be empty", nil)
	}

	for i := range steps {
		if steps[i].Params == nil {
			steps[i].Params = Params{}
		}
	}
	return steps, nil
}
