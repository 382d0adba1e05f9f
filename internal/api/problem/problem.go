// Package problem writes RFC 7807 problem responses.
package problem

import (
	"encoding/json"
	"net/http"
)

const contentType = "application/problem+json"
const baseTypeURL = "https://errors.captcha-solver.dev/"

// traceHeader mirrors middleware.TraceHeader; the middleware sets it on the
// response before any handler runs.
const traceHeader = "X-Trace-ID"

// Details represents RFC 7807 Problem Details plus the trace id and, for
// validation failures, the offending parameters.
type Details struct {
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Status        int            `json:"status"`
	Detail        string         `json:"detail"`
	Instance      string         `json:"instance"`
	TraceID       string         `json:"trace_id"`
	InvalidParams []InvalidParam `json:"invalid_params,omitempty"`
}

// InvalidParam names one request field that failed validation.
type InvalidParam struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

func Type(slug string) string {
	return baseTypeURL + slug
}

// Write sends an RFC 7807 response.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	send(w, r, Details{Type: problemType, Title: title, Status: status, Detail: detail})
}

// WriteInvalid sends a 400 listing the fields that failed validation.
func WriteInvalid(w http.ResponseWriter, r *http.Request, problemType, detail string, params ...InvalidParam) {
	send(w, r, Details{
		Type:          problemType,
		Status:        http.StatusBadRequest,
		Detail:        detail,
		InvalidParams: params,
	})
}

func send(w http.ResponseWriter, r *http.Request, d Details) {
	if d.Title == "" {
		d.Title = http.StatusText(d.Status)
	}
	if d.Type == "" {
		d.Type = "about:blank"
	}
	if r != nil {
		d.Instance = r.URL.Path
	}
	d.TraceID = w.Header().Get(traceHeader)
	if d.TraceID == "" && r != nil {
		d.TraceID = r.Header.Get(traceHeader)
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}
