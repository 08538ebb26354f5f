package daemon

import (
	"encoding/json"
	"time"

	"github.com/entrhq/pw/pkg/types"
)

// Methods understood by the daemon.
const (
	MethodPing     = "ping"
	MethodSpawn    = "spawn"
	MethodList     = "list"
	MethodKill     = "kill"
	MethodShutdown = "shutdown"
)

// Request is one newline-delimited JSON call. Params are positional.
type Request struct {
	ID     string            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params,omitempty"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *RPCError       `json:"error,omitempty"`
}

// RPCError carries a classified failure across the socket.
type RPCError struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

// BrowserInfo describes a pooled browser.
type BrowserInfo struct {
	Port      int               `json:"port"`
	Browser   types.BrowserKind `json:"browser"`
	Headless  bool              `json:"headless"`
	PID       int               `json:"pid"`
	Endpoint  string            `json:"endpoint"`
	CreatedAt time.Time         `json:"createdAt"`
}

// PingResult is returned by ping.
type PingResult struct {
	Version   string    `json:"version"`
	PID       int       `json:"pid"`
	Browsers  int       `json:"browsers"`
	StartedAt time.Time `json:"startedAt"`
}

func errorResponse(id string, err error) Response {
	code := types.CodeOf(err)
	return Response{ID: id, Error: &RPCError{Code: code, Message: err.Error()}}
}

func dataResponse(id string, v interface{}) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResponse(id, types.WrapError(types.CodeInternal, err, "failed to encode result"))
	}
	return Response{ID: id, OK: true, Data: data}
}

// param decodes positional parameter i into v. Missing optional
// parameters leave v untouched.
func (r *Request) param(i int, v interface{}, required bool) error {
	if i >= len(r.Params) || string(r.Params[i]) == "null" {
		if required {
			return types.NewError(types.CodeInvalidInput, "%s: missing parameter %d", r.Method, i)
		}
		return nil
	}
	if err := json.Unmarshal(r.Params[i], v); err != nil {
		return types.WrapError(types.CodeInvalidInput, err, "%s: invalid parameter %d", r.Method, i)
	}
	return nil
}
