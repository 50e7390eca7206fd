// Package knot implements the forms knot: the pipeline stage that marks
// rendered forms with a correlation marker and, on submission, routes the
// submitted data to the adapter registered for the submitted form.
//
// A Knot is stateless across requests. Process never returns an error; every
// failure is folded into a domain.DispatchOutcome so the surrounding pipeline
// sees exactly one of continue, redirect or failure. BuildResponse maps that
// outcome to the transport-level page response, and Handler serves it over
// HTTP.
package knot
