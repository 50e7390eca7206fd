package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestSnippetFragmentDeduplicatesCapabilities(t *testing.T) {
	f := SnippetFragment([]string{"form", "", "form-subscribe", "form"}, "<form></form>")

	if !f.IsSnippet() {
		t.Fatalf("expected snippet fragment")
	}
	if len(f.Capabilities) != 2 || f.Capabilities[0] != "form" || f.Capabilities[1] != "form-subscribe" {
		t.Fatalf("unexpected capabilities: %v", f.Capabilities)
	}
	if !f.HasCapability("form-subscribe") {
		t.Fatalf("expected form-subscribe capability")
	}
	if RawFragment("x").HasCapability("form") {
		t.Fatalf("raw fragments declare no capabilities")
	}
}

func TestFragmentWithContentDoesNotShareState(t *testing.T) {
	original := SnippetFragment([]string{"form"}, "before")
	updated := original.WithContent("after")
	updated.Capabilities[0] = "changed"

	if original.Content != "before" {
		t.Fatalf("original content mutated: %q", original.Content)
	}
	if original.Capabilities[0] != "form" {
		t.Fatalf("original capabilities mutated: %v", original.Capabilities)
	}
}

func TestIsSubmitMethod(t *testing.T) {
	cases := map[string]bool{
		http.MethodGet:    false,
		http.MethodHead:   false,
		http.MethodPost:   true,
		"post":            true,
		http.MethodPut:    true,
		http.MethodPatch:  true,
		http.MethodDelete: false,
	}
	for method, want := range cases {
		if got := IsSubmitMethod(method); got != want {
			t.Errorf("IsSubmitMethod(%q) = %v, want %v", method, got, want)
		}
	}
}

func TestFirstFormValueIsCaseInsensitive(t *testing.T) {
	req := PageRequest{FormAttributes: map[string][]string{"Snippet-Identifier": {"abc", "def"}}}
	if got := req.FirstFormValue("snippet-identifier"); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if got := (PageRequest{}).FirstFormValue("snippet-identifier"); got != "" {
		t.Fatalf("expected empty value, got %q", got)
	}
}

func TestAdapterResponseClassification(t *testing.T) {
	redirect := AdapterResponse{StatusCode: http.StatusFound, Headers: map[string][]string{"location": {"/next"}}}
	if !redirect.IsRedirect() || redirect.IsSuccess() {
		t.Fatalf("302 should classify as redirect")
	}
	if redirect.Location() != "/next" {
		t.Fatalf("unexpected location %q", redirect.Location())
	}
	if (AdapterResponse{StatusCode: http.StatusOK}).IsRedirect() {
		t.Fatalf("200 is not a redirect")
	}
	if (AdapterResponse{StatusCode: http.StatusBadRequest}).IsRedirect() {
		t.Fatalf("400 is not a redirect")
	}
}

func TestErrorCode(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", ErrAdapterTimeout)
	if got := ErrorCode(wrapped); got != CodeAdapterTimeout {
		t.Fatalf("expected %s, got %s", CodeAdapterTimeout, got)
	}

	de := NewDispatchError(ErrUnknownFragmentIdentifier, "marker abc matched 2 fragments", nil)
	if !errors.Is(de, ErrUnknownFragmentIdentifier) {
		t.Fatalf("dispatch error should unwrap to its sentinel")
	}
	if got := ErrorCode(fmt.Errorf("outer: %w", de)); got != CodeUnknownFragment {
		t.Fatalf("expected %s, got %s", CodeUnknownFragment, got)
	}
	if de.Error() != "marker abc matched 2 fragments" {
		t.Fatalf("unexpected message %q", de.Error())
	}
	if got := ErrorCode(errors.New("boom")); got != CodeInternal {
		t.Fatalf("expected internal code, got %s", got)
	}
	if got := ErrorCode(nil); got != "" {
		t.Fatalf("expected empty code for nil, got %s", got)
	}
}
