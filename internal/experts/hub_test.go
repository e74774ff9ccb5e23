// ABOUTME: Tests for the expert hub lifecycle, health probing, and breakers.
// ABOUTME: Exercises connect-all asymmetry, fail-fast rejection, and reconnect.

package experts

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthchat/relay/internal/breaker"
)

func newTestHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	h := NewHub(cfg, nil)
	t.Cleanup(h.Close)
	return h
}

// waitForStatus polls until the client reaches the wanted status or the
// deadline passes.
func waitForStatus(t *testing.T, c *Client, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client %s never reached status %q (stuck at %q)", c.Name(), want, c.Status())
}

func TestHub_RegisterCatalogSkipsDisabled(t *testing.T) {
	h := newTestHub(t, Config{})

	off := false
	cat := &Catalog{Experts: []Expert{
		{Name: "weather", Endpoint: "http://weather.local/mcp"},
		{Name: "legacy", Endpoint: "http://legacy.local/mcp", Enabled: &off},
	}}
	require.NoError(t, h.RegisterCatalog(cat))

	_, ok := h.Client("weather")
	assert.True(t, ok)
	_, ok = h.Client("legacy")
	assert.False(t, ok)
}

func TestHub_RegisterRejectsDuplicate(t *testing.T) {
	h := newTestHub(t, Config{})

	_, err := h.Register(Expert{Name: "weather", Endpoint: "http://a.local/mcp"})
	require.NoError(t, err)
	_, err = h.Register(Expert{Name: "weather", Endpoint: "http://b.local/mcp"})
	require.ErrorIs(t, err, ErrExpertAlreadyRegistered)
}

func TestHub_ConnectAllContinuesPastFailure(t *testing.T) {
	h := newTestHub(t, Config{})

	good := newMCPServer()
	goodTS := httptest.NewServer(good)
	t.Cleanup(goodTS.Close)

	deadTS := httptest.NewServer(newMCPServer())
	deadTS.Close()

	// The dead endpoint registers first so a failure there must not stop
	// the healthy one from connecting.
	_, err := h.Register(Expert{Name: "dead", Endpoint: deadTS.URL})
	require.NoError(t, err)
	_, err = h.Register(Expert{Name: "live", Endpoint: goodTS.URL})
	require.NoError(t, err)

	h.ConnectAll(t.Context())

	deadClient, _ := h.Client("dead")
	liveClient, _ := h.Client("live")
	assert.Equal(t, StatusError, deadClient.Status())
	assert.Equal(t, StatusConnected, liveClient.Status())
}

func TestHub_CallToolThroughHub(t *testing.T) {
	h := newTestHub(t, Config{})

	srv := newMCPServer()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	_, err := h.Register(Expert{Name: "calc", Endpoint: ts.URL})
	require.NoError(t, err)
	require.NoError(t, h.Connect(t.Context(), "calc"))

	got, err := h.CallTool(t.Context(), "calc", "lookup", map[string]any{"q": "6x7"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"answer": float64(42)}, got)
}

func TestHub_UnknownExpert(t *testing.T) {
	h := newTestHub(t, Config{})

	_, err := h.CallTool(t.Context(), "ghost", "lookup", nil)
	require.ErrorIs(t, err, ErrExpertNotFound)

	require.ErrorIs(t, h.Connect(t.Context(), "ghost"), ErrExpertNotFound)
	require.ErrorIs(t, h.Disconnect(t.Context(), "ghost"), ErrExpertNotFound)
}

func TestHub_BreakerFailsFastWithoutNetworkCall(t *testing.T) {
	h := newTestHub(t, Config{BreakerThreshold: 3, BreakerRecovery: time.Minute})

	srv := newMCPServer()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	_, err := h.Register(Expert{Name: "flaky", Endpoint: ts.URL})
	require.NoError(t, err)
	require.NoError(t, h.Connect(t.Context(), "flaky"))

	srv.failing.Store(true)
	for range 3 {
		_, err := h.CallTool(t.Context(), "flaky", "lookup", nil)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrExpertUnavailable)
	}

	before := srv.posts.Load()
	_, err = h.CallTool(t.Context(), "flaky", "lookup", nil)
	require.ErrorIs(t, err, ErrExpertUnavailable)
	assert.Equal(t, before, srv.posts.Load(), "open breaker must not reach the network")
}

func TestHub_StatusesInRegistrationOrder(t *testing.T) {
	h := newTestHub(t, Config{})

	_, err := h.Register(Expert{Name: "b", Endpoint: "http://b.local/mcp", Type: "tools"})
	require.NoError(t, err)
	_, err = h.Register(Expert{Name: "a", Endpoint: "http://a.local/mcp"})
	require.NoError(t, err)

	statuses := h.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "b", statuses[0].Name)
	assert.Equal(t, "tools", statuses[0].Type)
	assert.Equal(t, StatusDisconnected, statuses[0].Status)
	assert.Equal(t, breaker.StateClosed, statuses[0].Breaker.State)
	assert.Equal(t, "a", statuses[1].Name)
}

func TestHub_HealthCheckDrivesReconnect(t *testing.T) {
	h := newTestHub(t, Config{HealthInterval: 15 * time.Millisecond})

	srv := newMCPServer()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client, err := h.Register(Expert{Name: "wobbly", Endpoint: ts.URL})
	require.NoError(t, err)
	require.NoError(t, h.Connect(t.Context(), "wobbly"))

	srv.failing.Store(true)
	waitForStatus(t, client, StatusReconnecting, 2*time.Second)

	srv.failing.Store(false)
	waitForStatus(t, client, StatusConnected, 3*time.Second)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	h := NewHub(Config{}, nil)

	srv := newMCPServer()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client, err := h.Register(Expert{Name: "calc", Endpoint: ts.URL})
	require.NoError(t, err)
	require.NoError(t, h.Connect(t.Context(), "calc"))

	h.Close()
	h.Close()

	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Len(t, srv.deletedSessions(), 1)
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{5, 1600 * time.Millisecond},
		{9, 25600 * time.Millisecond},
		{10, 30 * time.Second},
		{20, 30 * time.Second},
		{0, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
