package knot

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"github.com/polisai/forms-knot/pkg/adapter"
	"github.com/polisai/forms-knot/pkg/domain"
)

func genPage(t *rapid.T) ([]domain.Fragment, []int) {
	n := rapid.IntRange(1, 8).Draw(t, "fragments")
	fragments := make([]domain.Fragment, n)
	var forms []int
	for i := 0; i < n; i++ {
		text := rapid.StringMatching(`[a-zA-Z0-9 .,]{0,24}`).Draw(t, fmt.Sprintf("text%d", i))
		switch rapid.IntRange(0, 2).Draw(t, fmt.Sprintf("kind%d", i)) {
		case 0:
			fragments[i] = domain.RawFragment("<p>" + text + "</p>")
		case 1:
			fragments[i] = domain.SnippetFragment([]string{"handlebars"}, "<div>"+text+"</div>")
		default:
			fragments[i] = domain.SnippetFragment([]string{"form", "form-subscribe"},
				`<form method="post"><label>`+text+`</label></form>`)
			forms = append(forms, i)
		}
	}
	return fragments, forms
}

func TestReadPathProperties(t *testing.T) {
	k := newTestKnot(t, &recordingInvoker{})

	rapid.Check(t, func(t *rapid.T) {
		in, forms := genPage(t)

		out := k.Process(context.Background(), domain.PageRequest{Method: http.MethodGet, Fragments: in})

		if out.Kind != domain.OutcomeContinue {
			t.Fatalf("read path produced %s", out.Kind)
		}
		if len(out.Fragments) != len(in) {
			t.Fatalf("fragment count %d, want %d", len(out.Fragments), len(in))
		}

		isForm := map[int]bool{}
		for _, i := range forms {
			isForm[i] = true
		}
		seen := map[string]bool{}
		for i := range in {
			if !isForm[i] {
				if diff := cmp.Diff(in[i], out.Fragments[i]); diff != "" {
					t.Fatalf("non-form fragment %d changed:\n%s", i, diff)
				}
				continue
			}
			m := markerPattern.FindStringSubmatch(out.Fragments[i].Content)
			if len(m) != 2 {
				t.Fatalf("form fragment %d not marked: %q", i, out.Fragments[i].Content)
			}
			if seen[m[1]] {
				t.Fatalf("marker %q reused", m[1])
			}
			seen[m[1]] = true
		}
	})
}

func TestSubmitReplacesOnlyMatchedFragmentProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in, forms := genPage(t)
		if len(forms) == 0 {
			in = append(in, domain.SnippetFragment([]string{"form-subscribe"}, `<form method="post"></form>`))
			forms = append(forms, len(in)-1)
		}
		target := rapid.SampledFrom(forms).Draw(t, "target")
		body := rapid.StringMatching(`[a-z]{1,12}`).Draw(t, "body")

		k, err := New(Config{
			Registry: mustRegistry(t),
			Invoker: adapter.Func(func(context.Context, domain.AdapterEndpoint, domain.AdapterRequest) (domain.AdapterResponse, error) {
				return domain.AdapterResponse{StatusCode: http.StatusOK, Body: []byte(body), Signal: "next"}, nil
			}),
		})
		if err != nil {
			t.Fatalf("new knot: %v", err)
		}

		rendered := k.Process(context.Background(), domain.PageRequest{Method: http.MethodGet, Fragments: in}).Fragments
		m := markerPattern.FindStringSubmatch(rendered[target].Content)
		if len(m) != 2 {
			t.Fatalf("target not marked")
		}

		out := k.Process(context.Background(), domain.PageRequest{
			Method:         http.MethodPost,
			FormAttributes: map[string][]string{"snippet-identifier": {m[1]}},
			Fragments:      rendered,
		})
		if out.Kind != domain.OutcomeContinue || out.Transition != "next" {
			t.Fatalf("unexpected outcome %s/%q err=%v", out.Kind, out.Transition, out.Err)
		}

		want := domain.CloneFragments(rendered)
		want[target] = rendered[target].WithContent(body)
		if diff := cmp.Diff(want, out.Fragments); diff != "" {
			t.Fatalf("fragments mismatch (-want +got):\n%s", diff)
		}
	})
}

func mustRegistry(t *rapid.T) *adapter.Registry {
	reg, err := adapter.NewRegistry(domain.AdapterEndpoint{Name: "form-subscribe", Address: "http://adapters/subscribe"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}
