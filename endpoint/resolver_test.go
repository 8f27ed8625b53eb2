package endpoint

import (
	"context"
	"errors"
	"net/netip"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(addrs ...string) LookupFunc {
	return func(context.Context, string, string) ([]netip.Addr, error) {
		out := make([]netip.Addr, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, netip.MustParseAddr(a))
		}
		return out, nil
	}
}

func TestResolveHostLiteralSkipsLookup(t *testing.T) {
	r := Resolver{Lookup: func(context.Context, string, string) ([]netip.Addr, error) {
		t.Fatal("lookup called for a literal address")
		return nil, nil
	}}

	for _, lit := range []string{"10.0.0.5", "::1", "fe80::1"} {
		addr, ok := r.ResolveHost(context.Background(), lit)
		require.True(t, ok, lit)
		assert.Equal(t, netip.MustParseAddr(lit), addr)
	}
}

func TestResolveHostPrefersFirstIPv4(t *testing.T) {
	r := Resolver{Lookup: fixed("2001:db8::1", "192.0.2.7", "192.0.2.8")}

	addr, ok := r.ResolveHost(context.Background(), "svc.example")
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("192.0.2.7"), addr)
}

func TestResolveHostUnmapsIPv4(t *testing.T) {
	r := Resolver{Lookup: fixed("::ffff:192.0.2.9")}

	addr, ok := r.ResolveHost(context.Background(), "svc.example")
	require.True(t, ok)
	assert.True(t, addr.Is4())
	assert.Equal(t, "192.0.2.9", addr.String())
}

func TestResolveHostUnresolved(t *testing.T) {
	tests := []struct {
		name   string
		lookup LookupFunc
	}{
		{"ipv6 only", fixed("2001:db8::1", "2001:db8::2")},
		{"empty result", fixed()},
		{"lookup error", func(context.Context, string, string) ([]netip.Addr, error) {
			return nil, errors.New("no such host")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, ok := Resolver{Lookup: tt.lookup}.ResolveHost(context.Background(), "svc.example")
			assert.False(t, ok)
			assert.False(t, addr.IsValid())
		})
	}
}

func TestResolveHostEmpty(t *testing.T) {
	var calls atomic.Int32
	r := Resolver{Lookup: func(context.Context, string, string) ([]netip.Addr, error) {
		calls.Add(1)
		return nil, nil
	}}
	_, ok := r.ResolveHost(context.Background(), "")
	assert.False(t, ok)
	assert.Zero(t, calls.Load())
}

func TestResolve(t *testing.T) {
	r := Resolver{Lookup: fixed("192.0.2.7")}

	u, _ := url.Parse("tcp://svc.example:7001/church")
	ap, ok := r.Resolve(context.Background(), u)
	require.True(t, ok)
	assert.Equal(t, "192.0.2.7:7001", ap.String())

	noPort, _ := url.Parse("tcp://svc.example/church")
	_, ok = r.Resolve(context.Background(), noPort)
	assert.False(t, ok)

	_, ok = r.Resolve(context.Background(), nil)
	assert.False(t, ok)
}
