package adapter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/polisai/forms-knot/pkg/domain"
)

// Registry maps capability identifiers to adapter endpoints.
type Registry struct {
	endpoints map[string]domain.AdapterEndpoint
}

// NewRegistry builds an immutable registry. Endpoint names must be unique and
// non-empty, and every endpoint needs an address.
func NewRegistry(endpoints ...domain.AdapterEndpoint) (*Registry, error) {
	r := &Registry{endpoints: make(map[string]domain.AdapterEndpoint, len(endpoints))}
	for i, ep := range endpoints {
		name := strings.TrimSpace(ep.Name)
		if name == "" {
			return nil, fmt.Errorf("adapter %d: capability is required", i)
		}
		if strings.TrimSpace(ep.Address) == "" {
			return nil, fmt.Errorf("adapter %q: address is required", name)
		}
		if _, dup := r.endpoints[name]; dup {
			return nil, fmt.Errorf("adapter %q: registered twice", name)
		}
		ep.Name = name
		r.endpoints[name] = ep
	}
	return r, nil
}

// Resolve returns the endpoint registered for capability.
func (r *Registry) Resolve(capability string) (domain.AdapterEndpoint, error) {
	if r != nil {
		if ep, ok := r.endpoints[capability]; ok {
			return ep, nil
		}
	}
	return domain.AdapterEndpoint{}, domain.NewDispatchError(
		domain.ErrAdapterNotConfigured,
		fmt.Sprintf("no adapter registered for capability %q", capability),
		map[string]any{"capability": capability},
	)
}

// Has reports whether capability is registered.
func (r *Registry) Has(capability string) bool {
	if r == nil {
		return false
	}
	_, ok := r.endpoints[capability]
	return ok
}

// Capabilities lists registered capability identifiers in sorted order.
func (r *Registry) Capabilities() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.endpoints)
}
