package domain

import (
	"net/http"
	"strings"
)

// PageRequest is the input of one knot invocation.
type PageRequest struct {
	Method    string
	Path      string
	Headers   map[string][]string
	Params    map[string][]string
	Fragments []Fragment
	// FormAttributes is only meaningful for submitting methods.
	FormAttributes map[string][]string
}

// PageResponse is the transport-level result produced by the outcome builder.
// Fragments is nil and Transition empty for redirect and failure outcomes.
type PageResponse struct {
	StatusCode int
	Headers    map[string][]string
	Fragments  []Fragment
	Transition string
}

// IsSubmitMethod reports whether the HTTP method carries submitted form data.
func IsSubmitMethod(method string) bool {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// IsSubmit reports whether the request follows the submit path.
func (r PageRequest) IsSubmit() bool {
	return IsSubmitMethod(r.Method)
}

// FirstFormValue returns the first value submitted for key, or "" when absent.
func (r PageRequest) FirstFormValue(key string) string {
	return firstValue(r.FormAttributes, key)
}

func firstValue(values map[string][]string, key string) string {
	if len(values) == 0 {
		return ""
	}
	if v, ok := values[key]; ok && len(v) > 0 {
		return v[0]
	}
	for k, v := range values {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// CloneValues deep-copies a multi-valued map.
func CloneValues(values map[string][]string) map[string][]string {
	if values == nil {
		return nil
	}
	out := make(map[string][]string, len(values))
	for k, v := range values {
		out[k] = append([]string(nil), v...)
	}
	return out
}
