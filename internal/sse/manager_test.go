// ABOUTME: Tests for the SSE connection manager
// ABOUTME: Covers scoped delivery, bucket cleanup, replay, drops, stats, concurrency

package sse

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthchat/relay/internal/events"
)

func TestManager_SendEventReachesOnlyMatchingResource(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	conn1, err := m.Register(events.ChannelConversation, "conv-123", "user-1")
	require.NoError(t, err)
	conn2, err := m.Register(events.ChannelConversation, "conv-456", "user-2")
	require.NoError(t, err)

	delivered := m.SendEvent(events.ChannelConversation, "conv-123", "message_received", map[string]any{"text": "hi"}, false)
	assert.Equal(t, 1, delivered)

	select {
	case env := <-conn1.Queue():
		assert.Equal(t, "message_received", env.Event)
		assert.Equal(t, map[string]any{"text": "hi"}, env.Data)
		assert.False(t, env.Republished)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event on conv-123")
	}

	select {
	case env := <-conn2.Queue():
		t.Fatalf("conv-456 should not receive conv-123 events, got %q", env.Event)
	case <-time.After(100 * time.Millisecond):
		// Expected: no event
	}
}

func TestManager_NoLeakageAcrossChannelTypes(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	// Same resource id in two different channel scopes
	userConn, err := m.Register(events.ChannelUser, "u-1", "u-1")
	require.NoError(t, err)
	convConn, err := m.Register(events.ChannelConversation, "u-1", "u-1")
	require.NoError(t, err)

	m.SendEvent(events.ChannelConversation, "u-1", "message", map[string]any{"n": 1}, false)

	select {
	case <-convConn.Queue():
	case <-time.After(time.Second):
		t.Fatal("conversation connection timed out")
	}

	select {
	case <-userConn.Queue():
		t.Fatal("user channel should not receive conversation events")
	case <-time.After(100 * time.Millisecond):
		// Expected
	}
}

func TestManager_GlobalChannelIsFlat(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	conn1, err := m.Register(events.ChannelGlobal, "", "user-1")
	require.NoError(t, err)
	conn2, err := m.Register(events.ChannelGlobal, "", "user-2")
	require.NoError(t, err)

	delivered := m.SendEvent(events.ChannelGlobal, "", "announcement", map[string]any{"text": "maintenance"}, false)
	assert.Equal(t, 2, delivered)

	for i, conn := range []*Connection{conn1, conn2} {
		select {
		case env := <-conn.Queue():
			assert.Equal(t, "announcement", env.Event, "connection %d", i)
		case <-time.After(time.Second):
			t.Fatalf("global connection %d timed out", i)
		}
	}
}

func TestManager_FIFOPerConnection(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	conn, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		m.SendEvent(events.ChannelConversation, "conv-1", "message", map[string]any{"seq": i}, false)
	}

	for want := 1; want <= 3; want++ {
		select {
		case env := <-conn.Queue():
			data := env.Data.(map[string]any)
			if got := data["seq"].(int); got != want {
				t.Errorf("event %d: got seq %d", want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", want)
		}
	}
}

func TestManager_RegisterValidation(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	_, err := m.Register("broadcast", "r-1", "user-1")
	assert.Error(t, err)

	_, err = m.Register(events.ChannelConversation, "", "user-1")
	assert.Error(t, err, "scoped channels require a resource id")

	_, err = m.Register(events.ChannelGlobal, "r-1", "user-1")
	assert.Error(t, err, "global channel takes no resource id")
}

func TestManager_RemoveReclaimsEmptyBucket(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	conn1, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)
	conn2, err := m.Register(events.ChannelConversation, "conv-1", "user-2")
	require.NoError(t, err)

	assert.True(t, m.Remove(events.ChannelConversation, "conv-1", conn1.ID))

	m.mu.RLock()
	_, bucketExists := m.scoped[events.ChannelConversation]["conv-1"]
	m.mu.RUnlock()
	assert.True(t, bucketExists, "bucket should survive while a connection remains")

	assert.True(t, m.Remove(events.ChannelConversation, "conv-1", conn2.ID))

	m.mu.RLock()
	_, bucketExists = m.scoped[events.ChannelConversation]["conv-1"]
	m.mu.RUnlock()
	assert.False(t, bucketExists, "last removal should delete the resource bucket")

	// Queue of a removed connection is closed
	select {
	case _, open := <-conn1.Queue():
		assert.False(t, open, "queue should be closed after removal")
	case <-time.After(time.Second):
		t.Fatal("queue not closed after removal")
	}
}

func TestManager_RemoveUnknownConnection(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	assert.False(t, m.Remove(events.ChannelConversation, "conv-1", "no-such-id"))

	_, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)
	assert.False(t, m.Remove(events.ChannelConversation, "conv-1", "still-wrong"))
}

func TestManager_SendToEmptyResourceIsNoOp(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	delivered := m.SendEvent(events.ChannelConversation, "conv-none", "message", map[string]any{"n": 1}, false)
	assert.Zero(t, delivered)
}

func TestManager_ReplayDeliversRecentEventsToNewConnection(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	// Events sent before anyone is connected, retained for replay
	m.SendEvent(events.ChannelConversation, "conv-1", "message", map[string]any{"seq": 1}, true)
	m.SendEvent(events.ChannelConversation, "conv-1", "message", map[string]any{"seq": 2}, true)

	conn, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)

	for want := 1; want <= 2; want++ {
		select {
		case env := <-conn.Queue():
			assert.True(t, env.Republished, "replayed envelope should be marked")
			data := env.Data.(map[string]any)
			assert.Equal(t, want, data["seq"])
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for replayed event %d", want)
		}
	}
}

func TestManager_ReplayRingIsCapped(t *testing.T) {
	m := NewManager(Config{ReplaySize: 2}, nil)
	defer m.Close()

	for i := 1; i <= 5; i++ {
		m.SendEvent(events.ChannelConversation, "conv-1", "message", map[string]any{"seq": i}, true)
	}

	conn, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)

	got := make([]int, 0, 2)
	for range 2 {
		select {
		case env := <-conn.Queue():
			got = append(got, env.Data.(map[string]any)["seq"].(int))
		case <-time.After(time.Second):
			t.Fatal("timed out draining replay")
		}
	}
	assert.Equal(t, []int{4, 5}, got, "ring should keep only the newest entries")

	select {
	case env := <-conn.Queue():
		t.Fatalf("unexpected extra replayed event: %v", env.Data)
	case <-time.After(100 * time.Millisecond):
		// Expected
	}
}

func TestManager_TypingEventsAreNotReplayed(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	m.SendEvent(events.ChannelConversation, "conv-1", "typing_indicator", map[string]any{"typing": true}, false)

	conn, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)

	select {
	case env := <-conn.Queue():
		t.Fatalf("ephemeral event should not be replayed, got %q", env.Event)
	case <-time.After(100 * time.Millisecond):
		// Expected
	}
}

func TestManager_SlowConnectionDropsNewest(t *testing.T) {
	m := NewManager(Config{QueueSize: 2}, nil)
	defer m.Close()

	conn, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)

	// Nobody drains the queue; third send overflows
	assert.Equal(t, 1, m.SendEvent(events.ChannelConversation, "conv-1", "message", map[string]any{"seq": 1}, false))
	assert.Equal(t, 1, m.SendEvent(events.ChannelConversation, "conv-1", "message", map[string]any{"seq": 2}, false))
	assert.Equal(t, 0, m.SendEvent(events.ChannelConversation, "conv-1", "message", map[string]any{"seq": 3}, false))

	assert.Equal(t, 1, conn.droppedCount())
	assert.Equal(t, 1, m.Stats().DroppedEvents)

	// The two buffered events are intact and in order
	for want := 1; want <= 2; want++ {
		env := <-conn.Queue()
		assert.Equal(t, want, env.Data.(map[string]any)["seq"])
	}
}

func TestManager_Stats(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	mustRegister := func(ct events.ChannelType, rid, uid string) {
		t.Helper()
		_, err := m.Register(ct, rid, uid)
		require.NoError(t, err)
	}

	mustRegister(events.ChannelGlobal, "", "user-1")
	mustRegister(events.ChannelConversation, "conv-1", "user-1")
	mustRegister(events.ChannelConversation, "conv-2", "user-2")
	mustRegister(events.ChannelWorkspace, "ws-1", "user-2")

	stats := m.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.ByChannel["global"])
	assert.Equal(t, 2, stats.ByChannel["conversation"])
	assert.Equal(t, 1, stats.ByChannel["workspace"])
	assert.Equal(t, 2, stats.ByUser["user-1"])
	assert.Equal(t, 2, stats.ByUser["user-2"])
}

func TestManager_CloseClosesAllConnections(t *testing.T) {
	m := NewManager(Config{}, nil)

	conn1, err := m.Register(events.ChannelGlobal, "", "user-1")
	require.NoError(t, err)
	conn2, err := m.Register(events.ChannelConversation, "conv-1", "user-1")
	require.NoError(t, err)

	m.Close()

	for i, conn := range []*Connection{conn1, conn2} {
		select {
		case _, open := <-conn.Queue():
			assert.False(t, open, "connection %d queue should be closed", i)
		case <-time.After(time.Second):
			t.Fatalf("connection %d queue not closed", i)
		}
	}

	_, err = m.Register(events.ChannelGlobal, "", "user-1")
	assert.Error(t, err, "register after close should fail")
	assert.Zero(t, m.SendEvent(events.ChannelGlobal, "", "x", nil, false))

	// Second close is a no-op
	m.Close()
}

func TestManager_ConcurrentRegisterSendRemove(t *testing.T) {
	m := NewManager(Config{}, nil)
	defer m.Close()

	var wg sync.WaitGroup

	for range 5 {
		wg.Go(func() {
			for range 10 {
				conn, err := m.Register(events.ChannelConversation, "conv-stress", "user-1")
				if err != nil {
					return
				}
				m.Remove(events.ChannelConversation, "conv-stress", conn.ID)
			}
		})
	}

	for range 5 {
		wg.Go(func() {
			for i := range 20 {
				m.SendEvent(events.ChannelConversation, "conv-stress", "message", map[string]any{"seq": i}, i%2 == 0)
			}
		})
	}

	wg.Wait()
	// Passing means no deadlock, panic, or race
}
