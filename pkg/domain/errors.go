package domain

import "errors"

// Forms knot errors
var (
	ErrMalformedForm             = errors.New("fragment has no form element to mark")
	ErrMissingCorrelationMarker  = errors.New("submitted form carries no correlation marker")
	ErrUnknownFragmentIdentifier = errors.New("correlation marker does not identify exactly one fragment")
	ErrMissingAdapterAddress     = errors.New("fragment does not declare exactly one adapter capability")
	ErrAdapterNotConfigured      = errors.New("no adapter configured for capability")
	ErrAdapterTimeout            = errors.New("adapter call timed out")
	ErrAdapterUnavailable        = errors.New("adapter unavailable")
	ErrMissingRedirectLocation   = errors.New("adapter redirect has no location")
	ErrInvalidPageRequest        = errors.New("invalid page request")
)

// Machine-readable error codes.
const (
	CodeMalformedForm            = "FORMS_MALFORMED_FORM"
	CodeMissingCorrelationMarker = "FORMS_MISSING_MARKER"
	CodeUnknownFragment          = "FORMS_UNKNOWN_FRAGMENT"
	CodeMissingAdapterAddress    = "FORMS_MISSING_ADAPTER_ADDRESS"
	CodeAdapterNotConfigured     = "FORMS_ADAPTER_NOT_CONFIGURED"
	CodeAdapterTimeout           = "FORMS_ADAPTER_TIMEOUT"
	CodeAdapterUnavailable       = "FORMS_ADAPTER_UNAVAILABLE"
	CodeMissingRedirectLocation  = "FORMS_MISSING_REDIRECT_LOCATION"
	CodeInvalidPageRequest       = "FORMS_INVALID_REQUEST"
	CodeAdapterRejected          = "FORMS_ADAPTER_REJECTED"
	CodeInternal                 = "FORMS_INTERNAL"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrMalformedForm, CodeMalformedForm},
	{ErrMissingCorrelationMarker, CodeMissingCorrelationMarker},
	{ErrUnknownFragmentIdentifier, CodeUnknownFragment},
	{ErrMissingAdapterAddress, CodeMissingAdapterAddress},
	{ErrAdapterNotConfigured, CodeAdapterNotConfigured},
	{ErrAdapterTimeout, CodeAdapterTimeout},
	{ErrAdapterUnavailable, CodeAdapterUnavailable},
	{ErrMissingRedirectLocation, CodeMissingRedirectLocation},
	{ErrInvalidPageRequest, CodeInvalidPageRequest},
}

// DispatchError wraps errors with additional context.
type DispatchError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

// NewDispatchError wraps a sentinel with its code and a message.
func NewDispatchError(err error, message string, details map[string]any) *DispatchError {
	return &DispatchError{Err: err, Code: ErrorCode(err), Message: message, Details: details}
}

func (e *DispatchError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// ErrorCode maps an error to its machine-readable code. Unknown errors map to CodeInternal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var de *DispatchError
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}

// ErrorResponse is the JSON error model returned by the knot transport.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}
