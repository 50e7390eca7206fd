package knot

import (
	"net/http"

	"github.com/polisai/forms-knot/pkg/domain"
)

// BuildResponse maps a dispatch outcome to the page response. Continue keeps
// the fragment order produced by the dispatcher; redirect and failure carry no
// fragments and no transition.
func BuildResponse(o domain.DispatchOutcome) domain.PageResponse {
	switch o.Kind {
	case domain.OutcomeContinue:
		return domain.PageResponse{
			StatusCode: http.StatusOK,
			Fragments:  o.Fragments,
			Transition: o.Transition,
		}
	case domain.OutcomeRedirect:
		return domain.PageResponse{
			StatusCode: o.StatusCode,
			Headers:    map[string][]string{"Location": {o.Location}},
		}
	default:
		status := o.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return domain.PageResponse{StatusCode: status}
	}
}
