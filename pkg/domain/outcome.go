package domain

// OutcomeKind tags the DispatchOutcome variant.
type OutcomeKind string

const (
	// OutcomeContinue hands the rewritten fragments to the next pipeline stage.
	OutcomeContinue OutcomeKind = "continue"
	// OutcomeRedirect short-circuits the page with a redirect.
	OutcomeRedirect OutcomeKind = "redirect"
	// OutcomeFailure short-circuits the page with an error status.
	OutcomeFailure OutcomeKind = "failure"
)

// DispatchOutcome is the sole output of the dispatch controller. Only the fields of
// the variant named by Kind are populated.
type DispatchOutcome struct {
	Kind OutcomeKind

	// Continue
	Fragments  []Fragment
	Transition string

	// Redirect and Failure
	StatusCode int
	Location   string

	// Err records why a Failure was produced. It never reaches the transport.
	Err error
}

// Continue builds a continue outcome.
func Continue(fragments []Fragment, transition string) DispatchOutcome {
	return DispatchOutcome{Kind: OutcomeContinue, Fragments: fragments, Transition: transition}
}

// Redirect builds a redirect outcome.
func Redirect(statusCode int, location string) DispatchOutcome {
	return DispatchOutcome{Kind: OutcomeRedirect, StatusCode: statusCode, Location: location}
}

// Failure builds a failure outcome carrying its cause.
func Failure(statusCode int, err error) DispatchOutcome {
	return DispatchOutcome{Kind: OutcomeFailure, StatusCode: statusCode, Err: err}
}
