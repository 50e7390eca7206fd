package adapter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/forms-knot/pkg/domain"
)

func TestRegistryResolve(t *testing.T) {
	reg, err := NewRegistry(
		domain.AdapterEndpoint{Name: "form-subscribe", Address: "http://adapters/subscribe", Timeout: time.Second},
		domain.AdapterEndpoint{Name: " form-contact ", Address: "http://adapters/contact"},
	)
	require.NoError(t, err)

	ep, err := reg.Resolve("form-subscribe")
	require.NoError(t, err)
	assert.Equal(t, "http://adapters/subscribe", ep.Address)
	assert.Equal(t, time.Second, ep.Timeout)

	assert.True(t, reg.Has("form-contact"))
	assert.Equal(t, []string{"form-contact", "form-subscribe"}, reg.Capabilities())
	assert.Equal(t, 2, reg.Len())

	_, err = reg.Resolve("form-unknown")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAdapterNotConfigured))
	assert.Equal(t, domain.CodeAdapterNotConfigured, domain.ErrorCode(err))
}

func TestRegistryRejectsInvalidEndpoints(t *testing.T) {
	cases := map[string][]domain.AdapterEndpoint{
		"empty name":    {{Name: " ", Address: "http://a"}},
		"empty address": {{Name: "form-a"}},
		"duplicate":     {{Name: "form-a", Address: "http://a"}, {Name: "form-a", Address: "http://b"}},
	}
	for name, eps := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewRegistry(eps...)
			assert.Error(t, err)
		})
	}
}

func TestNilRegistry(t *testing.T) {
	var reg *Registry
	_, err := reg.Resolve("form-a")
	assert.True(t, errors.Is(err, domain.ErrAdapterNotConfigured))
	assert.False(t, reg.Has("form-a"))
	assert.Nil(t, reg.Capabilities())
}
