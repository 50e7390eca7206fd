package domain

import (
	"net/http"
	"time"
)

// AdapterEndpoint describes where the adapter for one capability lives.
type AdapterEndpoint struct {
	Name    string
	Address string
	Timeout time.Duration
}

// RequestMetadata is the subset of the page request forwarded to adapters.
type RequestMetadata struct {
	Method  string
	Path    string
	Headers map[string][]string
	Params  map[string][]string
}

// AdapterRequest is what an adapter receives for a submitted form.
type AdapterRequest struct {
	FormAttributes map[string][]string
	Request        RequestMetadata
}

// AdapterResponse is an adapter's verdict on a submission.
type AdapterResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string][]string
	// Signal names the transition to continue with; empty means absent.
	Signal string
}

// IsRedirect reports whether the adapter asked for a 3xx redirect.
func (r AdapterResponse) IsRedirect() bool {
	return r.StatusCode >= http.StatusMultipleChoices && r.StatusCode < http.StatusBadRequest
}

// IsSuccess reports a 2xx adapter status.
func (r AdapterResponse) IsSuccess() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// Location returns the redirect target header verbatim.
func (r AdapterResponse) Location() string {
	return firstValue(r.Headers, "Location")
}
