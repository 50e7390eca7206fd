package domain

// FragmentType distinguishes passthrough content from processable snippets.
type FragmentType string

const (
	// FragmentRaw is opaque page content that no knot acts on.
	FragmentRaw FragmentType = "raw"
	// FragmentSnippet is content tagged with the capabilities that must process it.
	FragmentSnippet FragmentType = "snippet"
)

// Fragment is one segment of an assembled page.
type Fragment struct {
	Type         FragmentType
	Content      string
	Capabilities []string
}

// RawFragment builds a passthrough fragment.
func RawFragment(content string) Fragment {
	return Fragment{Type: FragmentRaw, Content: content}
}

// SnippetFragment builds a snippet fragment declaring the given capabilities in order.
// Duplicate identifiers are dropped so the result behaves as an ordered set.
func SnippetFragment(capabilities []string, content string) Fragment {
	return Fragment{
		Type:         FragmentSnippet,
		Content:      content,
		Capabilities: uniqueStrings(capabilities),
	}
}

// IsSnippet reports whether the fragment carries capability identifiers.
func (f Fragment) IsSnippet() bool {
	return f.Type == FragmentSnippet
}

// HasCapability reports whether the snippet declares the given identifier.
func (f Fragment) HasCapability(id string) bool {
	if !f.IsSnippet() {
		return false
	}
	for _, c := range f.Capabilities {
		if c == id {
			return true
		}
	}
	return false
}

// WithContent returns a copy of the fragment carrying new content. Capabilities are copied
// so the returned value shares no state with the receiver.
func (f Fragment) WithContent(content string) Fragment {
	clone := f.Clone()
	clone.Content = content
	return clone
}

// Clone returns a deep copy of the fragment.
func (f Fragment) Clone() Fragment {
	clone := Fragment{Type: f.Type, Content: f.Content}
	if len(f.Capabilities) > 0 {
		clone.Capabilities = append([]string(nil), f.Capabilities...)
	}
	return clone
}

// CloneFragments deep-copies a fragment sequence preserving order.
func CloneFragments(fragments []Fragment) []Fragment {
	if fragments == nil {
		return nil
	}
	out := make([]Fragment, len(fragments))
	for i, f := range fragments {
		out[i] = f.Clone()
	}
	return out
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
