// Package problem renders RFC 7807 error documents.
package problem

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	ContentType = "application/problem+json"
	baseTypeURL = "https://errors.legal-settlement.dev/"
	traceHeader = "X-Trace-ID"
)

type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Type expands a slug such as "withdrawal/insufficient-balance" into a type URI.
// Absolute URIs and about:blank pass through.
func Type(slug string) string {
	if slug == "" || slug == "about:blank" || strings.HasPrefix(slug, "http") {
		return slug
	}
	return baseTypeURL + strings.TrimPrefix(slug, "/")
}

// Write sends a problem document. The request id is taken from the response's
// trace header, which the trace middleware sets before any handler runs.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	d := Details{
		Type:      problemType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		RequestID: w.Header().Get(traceHeader),
	}
	if d.Type == "" {
		d.Type = "about:blank"
	}
	if d.Title == "" {
		d.Title = http.StatusText(status)
	}
	if r != nil {
		d.Instance = r.URL.Path
		if d.RequestID == "" {
			d.RequestID = r.Header.Get(traceHeader)
		}
	}

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(d)
}
