// Package protocol implements the versioned request/response envelope and
// the dispatcher that resolves a request's runtime, runs its operation and
// persists the resulting context delta.
package protocol

import (
	"encoding/json"

	"github.com/entrhq/pw/pkg/config"
	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
)

// SchemaVersion is the only envelope version accepted.
const SchemaVersion = 5

// RuntimeSelector picks the profile and per-request overrides.
type RuntimeSelector struct {
	Profile   string           `json:"profile,omitempty"`
	Overrides config.Overrides `json:"overrides,omitempty"`
}

// RequestEnvelope is one request.
type RequestEnvelope struct {
	SchemaVersion int              `json:"schemaVersion"`
	RequestID     string           `json:"requestId,omitempty"`
	Op            string           `json:"op"`
	Input         json.RawMessage  `json:"input,omitempty"`
	Runtime       *RuntimeSelector `json:"runtime,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    types.ErrorCode        `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ResponseEnvelope answers one request. EffectiveRuntime is always set,
// including on failures.
type ResponseEnvelope struct {
	SchemaVersion    int                     `json:"schemaVersion"`
	RequestID        string                  `json:"requestId,omitempty"`
	Op               string                  `json:"op"`
	OK               bool                    `json:"ok"`
	Inputs           interface{}             `json:"inputs,omitempty"`
	Data             interface{}             `json:"data,omitempty"`
	Artifacts        []tools.Artifact        `json:"artifacts,omitempty"`
	Diagnostics      []tools.Diagnostic      `json:"diagnostics,omitempty"`
	ContextDelta     *contextstore.Delta     `json:"contextDelta,omitempty"`
	EffectiveRuntime config.EffectiveRuntime `json:"effectiveRuntime"`
	Error            *ErrorBody              `json:"error,omitempty"`
	DurationMs       int64                   `json:"durationMs"`
}

// fail turns resp into a failure carrying err's code.
func (r *ResponseEnvelope) fail(err error) {
	body := &ErrorBody{Code: types.CodeOf(err), Message: err.Error()}
	if e, ok := types.AsError(err); ok && len(e.Details) > 0 {
		body.Details = e.Details
	}

	r.OK = false
	r.Error = body
	r.Data = nil
	r.Artifacts = nil
	r.ContextDelta = nil
}

// ParseRequest decodes one envelope.
func ParseRequest(data []byte) (RequestEnvelope, error) {
	var req RequestEnvelope
	if err := json.Unmarshal(data, &req); err != nil {
		return RequestEnvelope{}, types.WrapError(types.CodeInvalidInput, err, "malformed request envelope")
	}
	return req, nil
}
