package security

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockResolver struct {
	addrs map[string][]string
	delay time.Duration
}

func (m *mockResolver) LookupNetIP(ctx context.Context, _, host string) ([]netip.Addr, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	raw, ok := m.addrs[host]
	if !ok {
		return nil, fmt.Errorf("no such host: %s", host)
	}
	out := make([]netip.Addr, len(raw))
	for i, s := range raw {
		out[i] = netip.MustParseAddr(s)
	}
	return out, nil
}

func TestBlocked(t *testing.T) {
	tests := []struct {
		addr    string
		blocked bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.20.0.1", true},
		{"192.168.1.10", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"fd00::1", true},
		{"fe80::1", true},
		{"::ffff:127.0.0.1", true},
		{"::ffff:10.0.0.1", true},
		{"93.184.216.34", false},
		{"8.8.8.8", false},
		{"172.32.0.1", false},
		{"2606:4700::1111", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.blocked, Blocked(netip.MustParseAddr(tt.addr)))
		})
	}
}

func TestGuard_Resolve(t *testing.T) {
	g := &Guard{Resolver: &mockResolver{addrs: map[string][]string{
		"api.sendgrid.com": {"93.184.216.34"},
		"metadata.local":   {"169.254.169.254"},
		"rebind.example":   {"93.184.216.34", "10.0.0.5"},
		"empty.example":    {},
	}}}
	ctx := context.Background()

	addrs, err := g.resolve(ctx, "api.sendgrid.com")
	require.NoError(t, err)
	assert.Len(t, addrs, 1)

	_, err = g.resolve(ctx, "metadata.local")
	assert.ErrorIs(t, err, ErrBlockedAddress)

	_, err = g.resolve(ctx, "rebind.example")
	assert.ErrorIs(t, err, ErrBlockedAddress, "one private answer blocks the host")

	_, err = g.resolve(ctx, "empty.example")
	assert.ErrorIs(t, err, ErrDNSFailed)

	_, err = g.resolve(ctx, "unknown.example")
	assert.ErrorIs(t, err, ErrDNSFailed)

	_, err = g.resolve(ctx, "127.0.0.1")
	assert.ErrorIs(t, err, ErrBlockedAddress)
}

func TestGuard_ResolveTimeout(t *testing.T) {
	g := &Guard{Resolver: &mockResolver{delay: 2 * time.Second, addrs: map[string][]string{"slow.example": {"8.8.8.8"}}}}
	_, err := g.resolve(context.Background(), "slow.example")
	assert.ErrorIs(t, err, ErrDNSTimeout)
}

func TestHTTPClient_RefusesLoopback(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit = true
	}))
	defer srv.Close()

	client := NewGuard().NewHTTPClient(2*time.Second, 3)
	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBlockedAddress))
	assert.False(t, hit)
}

func TestCheckRedirect(t *testing.T) {
	g := &Guard{Resolver: &mockResolver{addrs: map[string][]string{
		"hooks.slack.com": {"52.1.2.3"},
		"internal.corp":   {"10.0.0.7"},
	}}}
	check := g.CheckRedirect(2)

	req := httptest.NewRequest(http.MethodGet, "https://hooks.slack.com/services/x", nil)
	assert.NoError(t, check(req, nil))

	req = httptest.NewRequest(http.MethodGet, "https://internal.corp/", nil)
	assert.ErrorIs(t, check(req, nil), ErrBlockedAddress)

	req = httptest.NewRequest(http.MethodGet, "https://hooks.slack.com/", nil)
	assert.ErrorIs(t, check(req, []*http.Request{req, req}), ErrTooManyRedirects)
}
