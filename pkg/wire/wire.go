// Package wire holds the JSON representations exchanged with the outside
// world: the inbound page call served by the knot and the outbound call made
// to adapters. Domain types never carry JSON tags; the conversions here are
// the only place where field names are fixed.
package wire

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/polisai/forms-knot/pkg/domain"
)

// api is the codec used for every payload. Standard-library compatible
// behaviour keeps map key ordering and HTML escaping stable.
var api = sonic.ConfigStd

// Fragment is the wire form of domain.Fragment.
type Fragment struct {
	Type         string   `json:"type"`
	Content      string   `json:"content"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// PageRequest is the body of POST /v1/knot/process.
type PageRequest struct {
	Method         string              `json:"method"`
	Path           string              `json:"path"`
	Headers        map[string][]string `json:"headers,omitempty"`
	Params         map[string][]string `json:"params,omitempty"`
	FormAttributes map[string][]string `json:"formAttributes,omitempty"`
	Fragments      []Fragment          `json:"fragments"`
}

// PageResponse is the body answered by POST /v1/knot/process. Fragments is
// encoded as null for redirect and failure outcomes.
type PageResponse struct {
	StatusCode int                 `json:"statusCode"`
	Transition string              `json:"transition,omitempty"`
	Fragments  []Fragment          `json:"fragments"`
	Headers    map[string][]string `json:"headers,omitempty"`
}

// RequestMetadata is the wire form of domain.RequestMetadata.
type RequestMetadata struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Headers map[string][]string `json:"headers,omitempty"`
	Params  map[string][]string `json:"params,omitempty"`
}

// AdapterRequest is the body POSTed to an adapter address.
type AdapterRequest struct {
	FormAttributes map[string][]string `json:"formAttributes"`
	Request        RequestMetadata     `json:"request"`
}

// AdapterResponse is the body an adapter answers with.
type AdapterResponse struct {
	StatusCode int                 `json:"statusCode"`
	Body       string              `json:"body,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Signal     string              `json:"signal,omitempty"`
}

// FragmentFromDomain converts a domain fragment.
func FragmentFromDomain(f domain.Fragment) Fragment {
	return Fragment{
		Type:         string(f.Type),
		Content:      f.Content,
		Capabilities: append([]string(nil), f.Capabilities...),
	}
}

// ToDomain converts a wire fragment. An empty type is read as raw; a raw
// fragment never carries capabilities.
func (f Fragment) ToDomain() (domain.Fragment, error) {
	switch domain.FragmentType(strings.ToLower(strings.TrimSpace(f.Type))) {
	case "", domain.FragmentRaw:
		return domain.RawFragment(f.Content), nil
	case domain.FragmentSnippet:
		return domain.SnippetFragment(f.Capabilities, f.Content), nil
	default:
		return domain.Fragment{}, fmt.Errorf("%w: unknown fragment type %q", domain.ErrInvalidPageRequest, f.Type)
	}
}

// FragmentsFromDomain converts a fragment sequence, preserving nil.
func FragmentsFromDomain(fragments []domain.Fragment) []Fragment {
	if fragments == nil {
		return nil
	}
	out := make([]Fragment, len(fragments))
	for i, f := range fragments {
		out[i] = FragmentFromDomain(f)
	}
	return out
}

// ToDomain converts the inbound page call.
func (r PageRequest) ToDomain() (domain.PageRequest, error) {
	if strings.TrimSpace(r.Method) == "" {
		return domain.PageRequest{}, fmt.Errorf("%w: method is required", domain.ErrInvalidPageRequest)
	}
	fragments := make([]domain.Fragment, len(r.Fragments))
	for i, f := range r.Fragments {
		df, err := f.ToDomain()
		if err != nil {
			return domain.PageRequest{}, fmt.Errorf("fragment %d: %w", i, err)
		}
		fragments[i] = df
	}
	req := domain.PageRequest{
		Method:    strings.ToUpper(strings.TrimSpace(r.Method)),
		Path:      r.Path,
		Headers:   domain.CloneValues(r.Headers),
		Params:    domain.CloneValues(r.Params),
		Fragments: fragments,
	}
	if req.IsSubmit() {
		req.FormAttributes = domain.CloneValues(r.FormAttributes)
	}
	return req, nil
}

// PageRequestFromDomain converts a domain page request for transmission.
func PageRequestFromDomain(r domain.PageRequest) PageRequest {
	return PageRequest{
		Method:         r.Method,
		Path:           r.Path,
		Headers:        domain.CloneValues(r.Headers),
		Params:         domain.CloneValues(r.Params),
		FormAttributes: domain.CloneValues(r.FormAttributes),
		Fragments:      FragmentsFromDomain(r.Fragments),
	}
}

// PageResponseFromDomain converts the outcome builder's result.
func PageResponseFromDomain(r domain.PageResponse) PageResponse {
	return PageResponse{
		StatusCode: r.StatusCode,
		Transition: r.Transition,
		Fragments:  FragmentsFromDomain(r.Fragments),
		Headers:    domain.CloneValues(r.Headers),
	}
}

// ToDomain converts a decoded page response.
func (r PageResponse) ToDomain() (domain.PageResponse, error) {
	var fragments []domain.Fragment
	if r.Fragments != nil {
		fragments = make([]domain.Fragment, len(r.Fragments))
		for i, f := range r.Fragments {
			df, err := f.ToDomain()
			if err != nil {
				return domain.PageResponse{}, fmt.Errorf("fragment %d: %w", i, err)
			}
			fragments[i] = df
		}
	}
	return domain.PageResponse{
		StatusCode: r.StatusCode,
		Headers:    domain.CloneValues(r.Headers),
		Fragments:  fragments,
		Transition: r.Transition,
	}, nil
}

// AdapterRequestFromDomain converts the outbound adapter call.
func AdapterRequestFromDomain(r domain.AdapterRequest) AdapterRequest {
	attrs := domain.CloneValues(r.FormAttributes)
	if attrs == nil {
		attrs = map[string][]string{}
	}
	return AdapterRequest{
		FormAttributes: attrs,
		Request: RequestMetadata{
			Method:  r.Request.Method,
			Path:    r.Request.Path,
			Headers: domain.CloneValues(r.Request.Headers),
			Params:  domain.CloneValues(r.Request.Params),
		},
	}
}

// ToDomain converts a decoded adapter request.
func (r AdapterRequest) ToDomain() domain.AdapterRequest {
	return domain.AdapterRequest{
		FormAttributes: domain.CloneValues(r.FormAttributes),
		Request: domain.RequestMetadata{
			Method:  r.Request.Method,
			Path:    r.Request.Path,
			Headers: domain.CloneValues(r.Request.Headers),
			Params:  domain.CloneValues(r.Request.Params),
		},
	}
}

// AdapterResponseFromDomain converts an adapter verdict for transmission.
func AdapterResponseFromDomain(r domain.AdapterResponse) AdapterResponse {
	return AdapterResponse{
		StatusCode: r.StatusCode,
		Body:       string(r.Body),
		Headers:    domain.CloneValues(r.Headers),
		Signal:     r.Signal,
	}
}

// ToDomain converts a decoded adapter verdict. A whitespace-only signal is
// treated as absent.
func (r AdapterResponse) ToDomain() domain.AdapterResponse {
	var body []byte
	if r.Body != "" {
		body = []byte(r.Body)
	}
	return domain.AdapterResponse{
		StatusCode: r.StatusCode,
		Body:       body,
		Headers:    domain.CloneValues(r.Headers),
		Signal:     strings.TrimSpace(r.Signal),
	}
}

// Marshal encodes v with the package codec.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal decodes data into v with the package codec.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// DecodePageRequest decodes and converts an inbound page call.
func DecodePageRequest(data []byte) (domain.PageRequest, error) {
	var req PageRequest
	if err := Unmarshal(data, &req); err != nil {
		return domain.PageRequest{}, fmt.Errorf("%w: %v", domain.ErrInvalidPageRequest, err)
	}
	return req.ToDomain()
}

// EncodePageResponse converts and encodes a page response.
func EncodePageResponse(resp domain.PageResponse) ([]byte, error) {
	return Marshal(PageResponseFromDomain(resp))
}

// EncodeAdapterRequest converts and encodes an adapter call.
func EncodeAdapterRequest(req domain.AdapterRequest) ([]byte, error) {
	return Marshal(AdapterRequestFromDomain(req))
}

// DecodeAdapterRequest decodes an adapter call on the adapter side.
func DecodeAdapterRequest(data []byte) (domain.AdapterRequest, error) {
	var req AdapterRequest
	if err := Unmarshal(data, &req); err != nil {
		return domain.AdapterRequest{}, fmt.Errorf("decode adapter request: %w", err)
	}
	return req.ToDomain(), nil
}

// EncodeAdapterResponse converts and encodes an adapter verdict.
func EncodeAdapterResponse(resp domain.AdapterResponse) ([]byte, error) {
	return Marshal(AdapterResponseFromDomain(resp))
}

// DecodeAdapterResponse decodes an adapter verdict.
func DecodeAdapterResponse(data []byte) (domain.AdapterResponse, error) {
	var resp AdapterResponse
	if err := Unmarshal(data, &resp); err != nil {
		return domain.AdapterResponse{}, fmt.Errorf("decode adapter response: %w", err)
	}
	return resp.ToDomain(), nil
}
