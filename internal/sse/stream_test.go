// ABOUTME: Tests for SSE streaming: frames, headers, heartbeats, cancellation
// ABOUTME: Uses httptest recorders; bodies are inspected only after Serve returns

package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthchat/relay/internal/events"
)

// serveUntilCancel runs Serve with a cancellable request and returns the body
// once Serve has returned.
func serveUntilCancel(t *testing.T, m *Manager, conn *Connection, wait time.Duration) string {
	t.Helper()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events/test", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan error, 1)
	go func() {
		done <- m.Serve(rec, req, conn)
	}()

	time.Sleep(wait)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	return rec.Body.String()
}

func TestServe_ConnectFrameComesFirst(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	conn, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)

	m.SendEvent(events.ChannelConversation, "conv-1", "message", map[string]any{"text": "hi"}, false)

	body := serveUntilCancel(t, m, conn, 100*time.Millisecond)

	assert.True(t, strings.HasPrefix(body, "event: connect\ndata: {\"connected\":true"),
		"stream should start with the connect frame, got: %q", body)
	assert.Contains(t, body, "event: message\ndata: {\"text\":\"hi\"}\n\n")
}

func TestServe_SetsStreamingHeaders(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	conn, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	req := httptest.NewRequest(http.MethodGet, "/api/events/test", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan error, 1)
	go func() {
		done <- m.Serve(rec, req, conn)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}

func TestServe_StreamsEnvelopesInOrder(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	conn, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)

	m.SendEvent(events.ChannelConversation, "conv-1", "message", map[string]any{"seq": 1}, false)
	m.SendEvent(events.ChannelConversation, "conv-1", "status", map[string]any{"seq": 2}, false)
	m.SendEvent(events.ChannelConversation, "conv-1", "message", map[string]any{"seq": 3}, false)

	body := serveUntilCancel(t, m, conn, 100*time.Millisecond)

	first := strings.Index(body, `{"seq":1}`)
	second := strings.Index(body, `{"seq":2}`)
	third := strings.Index(body, `{"seq":3}`)
	require.GreaterOrEqual(t, first, 0, "missing first event in %q", body)
	require.GreaterOrEqual(t, second, 0, "missing second event in %q", body)
	require.GreaterOrEqual(t, third, 0, "missing third event in %q", body)
	assert.Less(t, first, second)
	assert.Less(t, second, third)
}

func TestServe_ReplayedEventsCarryRepublishedFlag(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	// A first subscriber keeps the resource bucket (and its ring) alive.
	_, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)
	m.SendEvent(events.ChannelConversation, "conv-1", "message", map[string]any{"text": "before"}, true)

	late, err := m.Register(events.ChannelConversation, "conv-1", "user-2")
	require.NoError(t, err)

	body := serveUntilCancel(t, m, late, 100*time.Millisecond)

	assert.Contains(t, body, `"republished":true`)
	assert.Contains(t, body, `"text":"before"`)
}

func TestServe_HeartbeatsArriveWithoutTraffic(t *testing.T) {
	m := NewManager(Config{HeartbeatInterval: 50 * time.Millisecond}, nil)
	defer m.Close()

	conn, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)

	// Hold the stream open for a bit over three intervals with no events
	body := serveUntilCancel(t, m, conn, 180*time.Millisecond)

	beats := strings.Count(body, "event: heartbeat\n")
	assert.GreaterOrEqual(t, beats, 2, "expected at least two heartbeats, body: %q", body)
	assert.Contains(t, body, `"timestamp":"`)
}

func TestServe_EndsWhenConnectionRemoved(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	conn, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/events/test", nil).WithContext(t.Context())
	rec := httptest.NewRecorder()

	done := make(chan error, 1)
	go func() {
		done <- m.Serve(rec, req, conn)
	}()

	time.Sleep(50 * time.Millisecond)
	require.True(t, m.Remove(events.ChannelConversation, "conv-1", conn.ID))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after connection removal")
	}
}

func TestServe_RemovesConnectionOnDisconnect(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	conn, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)

	serveUntilCancel(t, m, conn, 50*time.Millisecond)

	assert.Zero(t, m.Stats().Total, "connection should be removed after the stream ends")
}

type noFlushWriter struct {
	header http.Header
}

func (w *noFlushWriter) Header() http.Header { return w.header }

func (w *noFlushWriter) Write(b []byte) (int, error) { return len(b), nil }

func (w *noFlushWriter) WriteHeader(statusCode int) {}

func TestServe_RequiresFlusher(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	conn, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/events/test", nil)
	err = m.Serve(&noFlushWriter{header: make(http.Header)}, req, conn)
	assert.ErrorContains(t, err, "streaming not supported")
}

func TestFormatFrame(t *testing.T) {
	frame, err := formatFrame("message_received", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "event: message_received\ndata: {\"text\":\"hi\"}\n\n", frame)

	_, err = formatFrame("bad", map[string]any{"fn": func() {}})
	assert.Error(t, err, "unmarshalable data should error")
}
