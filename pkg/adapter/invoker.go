package adapter

import (
	"context"

	"github.com/polisai/forms-knot/pkg/domain"
)

// Invoker performs one adapter call. Implementations return errors wrapping
// domain.ErrAdapterTimeout or domain.ErrAdapterUnavailable on transport
// failure; a business rejection is a successful call carrying a non-2xx
// AdapterResponse.StatusCode.
type Invoker interface {
	Invoke(ctx context.Context, endpoint domain.AdapterEndpoint, req domain.AdapterRequest) (domain.AdapterResponse, error)
}

// Func adapts an in-process function to the Invoker interface.
type Func func(ctx context.Context, endpoint domain.AdapterEndpoint, req domain.AdapterRequest) (domain.AdapterResponse, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, endpoint domain.AdapterEndpoint, req domain.AdapterRequest) (domain.AdapterResponse, error) {
	return f(ctx, endpoint, req)
}
