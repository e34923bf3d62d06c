// Package httpapi defines the response and error types shared by every
// stage of the request pipeline.
//
// Every business handler and every middleware stage produces the same
// *Response type, so header-mutation helpers never need a runtime type
// check, and failures travel as explicit *Error values rather than
// panics or sentinel strings.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/reachmetrics/reachmetrics-api/internal/auth"
)

// Handler is the signature of a business handler behind the security
// wrapper. user is nil on public routes.
type Handler func(ctx context.Context, r *http.Request, user *auth.User) (*Response, error)

// Response is the single response shape returned by handlers and built
// by the pipeline for its own exits (401, 429, 500, preflight).
type Response struct {
	Status int
	Header http.Header
	Body   any // marshalled as JSON; nil writes no body
}

// NewResponse returns a Response with an initialized header map.
func NewResponse(status int, body any) *Response {
	return &Response{
		Status: status,
		Header: make(http.Header),
		Body:   body,
	}
}

// OK returns a 200 response wrapping body in the success envelope.
func OK(body any) *Response {
	return NewResponse(http.StatusOK, Envelope{Success: true, Data: body})
}

// NoContent returns an empty response, used for preflight answers.
func NoContent() *Response {
	return NewResponse(http.StatusNoContent, nil)
}

// Envelope is the uniform JSON body shape for API responses.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Count   int    `json:"count"`
	Stale   bool   `json:"stale,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Write marshals the response to w. Headers already set on w (CORS,
// version, rate-limit) are preserved; resp.Header entries are merged in.
func (resp *Response) Write(w http.ResponseWriter) error {
	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	if resp.Body == nil {
		w.WriteHeader(resp.Status)
		return nil
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.Status)
	return json.NewEncoder(w).Encode(resp.Body)
}
