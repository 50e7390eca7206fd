// Package marker embeds and reads the correlation marker that ties a submitted form back
// to the page fragment it was rendered from.
//
// Markup is processed with the golang.org/x/net/html tokenizer and re-emitted token by
// token from the raw input, so everything outside the inserted hidden field stays
// byte-identical.
package marker

import (
	"errors"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/google/uuid"
	xhtml "golang.org/x/net/html"

	"github.com/polisai/forms-knot/pkg/domain"
)

const (
	// DefaultFieldName is the hidden input name carrying the marker.
	DefaultFieldName = "snippet-identifier"
	// KnotsAttribute lists the capability identifiers of a snippet in its markup.
	KnotsAttribute = "data-knotx-knots"
	// SignalAttributePrefix prefixes form attributes mapping an adapter signal to a redirect location.
	SignalAttributePrefix = "data-knotx-on-"
	// SelfTarget as a signal location keeps the submission on the current page.
	SelfTarget = "_self"
)

// Codec injects and extracts correlation markers.
type Codec struct {
	fieldName string
	generate  func() string
}

// Option customises a Codec.
type Option func(*Codec)

// WithFieldName overrides the hidden field name. Blank names are ignored.
func WithFieldName(name string) Option {
	return func(c *Codec) {
		if name = strings.TrimSpace(name); name != "" {
			c.fieldName = name
		}
	}
}

// WithGenerator replaces the marker generator. Tests use it for deterministic markers.
func WithGenerator(generate func() string) Option {
	return func(c *Codec) {
		if generate != nil {
			c.generate = generate
		}
	}
}

// NewCodec creates a codec using random UUID markers.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		fieldName: DefaultFieldName,
		generate:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FieldName returns the hidden field name shared by injection and extraction.
func (c *Codec) FieldName() string {
	return c.fieldName
}

// Inject inserts a fresh marker as a hidden input directly after the first <form> start
// tag and returns the rewritten content together with the marker.
func (c *Codec) Inject(content string) (string, string, error) {
	marker := c.generate()
	hidden := fmt.Sprintf(`<input name="%s" type="hidden" value="%s">`,
		html.EscapeString(c.fieldName), html.EscapeString(marker))

	var out strings.Builder
	out.Grow(len(content) + len(hidden))

	injected := false
	z := xhtml.NewTokenizer(strings.NewReader(content))
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", "", fmt.Errorf("%w: %v", domain.ErrMalformedForm, err)
			}
			break
		}
		// Raw must be copied before TagName, which lower-cases the buffer in place.
		out.Write(z.Raw())
		if injected || tt != xhtml.StartTagToken {
			continue
		}
		if name, _ := z.TagName(); string(name) == "form" {
			out.WriteString(hidden)
			injected = true
		}
	}

	if !injected {
		return "", "", domain.ErrMalformedForm
	}
	return out.String(), marker, nil
}

// Extract reads the marker from submitted form data. The boolean is false when the
// submission did not originate from a marked form.
func (c *Codec) Extract(formAttributes map[string][]string) (string, bool) {
	value := strings.TrimSpace(domain.PageRequest{FormAttributes: formAttributes}.FirstFormValue(c.fieldName))
	return value, value != ""
}

// Contains reports whether content carries a hidden marker field with exactly the given value.
func (c *Codec) Contains(content, marker string) bool {
	if marker == "" {
		return false
	}
	found := false
	walkTags(content, func(tag string, attrs map[string]string) bool {
		if tag != "input" || attrs["name"] != c.fieldName {
			return true
		}
		if attrs["value"] == marker {
			found = true
			return false
		}
		return true
	})
	return found
}

// DeclaredCapabilities returns the capability identifiers attached to a snippet.
func DeclaredCapabilities(f domain.Fragment) []string {
	if !f.IsSnippet() || len(f.Capabilities) == 0 {
		return nil
	}
	return append([]string(nil), f.Capabilities...)
}

// CapabilitiesFromMarkup reads the comma separated capability list of the first element
// declaring the knots attribute.
func CapabilitiesFromMarkup(content string) []string {
	var capabilities []string
	walkTags(content, func(_ string, attrs map[string]string) bool {
		raw, ok := attrs[KnotsAttribute]
		if !ok {
			return true
		}
		for _, part := range strings.Split(raw, ",") {
			if id := strings.TrimSpace(part); id != "" {
				capabilities = append(capabilities, id)
			}
		}
		return false
	})
	return capabilities
}

// SnippetFromMarkup builds a snippet whose capabilities come from its own markup.
func SnippetFromMarkup(content string) domain.Fragment {
	return domain.SnippetFragment(CapabilitiesFromMarkup(content), content)
}

// SignalLocation returns the redirect location the first form declares for signal.
func SignalLocation(content, signal string) (string, bool) {
	signal = strings.ToLower(strings.TrimSpace(signal))
	if signal == "" {
		return "", false
	}
	key := SignalAttributePrefix + signal
	var location string
	found := false
	walkTags(content, func(tag string, attrs map[string]string) bool {
		if tag != "form" {
			return true
		}
		location, found = attrs[key]
		location = strings.TrimSpace(location)
		found = found && location != ""
		return false
	})
	return location, found
}

// walkTags visits start and self-closing tags until visit returns false.
// Attribute keys are lower-cased by the tokenizer; values are unescaped.
func walkTags(content string, visit func(tag string, attrs map[string]string) bool) {
	z := xhtml.NewTokenizer(strings.NewReader(content))
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			attrs := make(map[string]string)
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				attrs[string(key)] = string(val)
			}
			if !visit(tag, attrs) {
				return
			}
		}
	}
}
