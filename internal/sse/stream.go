// ABOUTME: SSE wire protocol: connect frame, event frames, heartbeats, cancel grace
// ABOUTME: One writer loop per connection fed by its queue and a heartbeat goroutine

package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// formatFrame renders one SSE frame: event: <name>\ndata: <json>\n\n
func formatFrame(event string, data any) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal sse data: %w", err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, payload), nil
}

// flagRepublished folds republished: true into the serialized data object so
// replayed copies are distinguishable on the wire. Non-object payloads are
// wrapped rather than dropped.
func flagRepublished(data any) any {
	raw, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return map[string]any{"data": json.RawMessage(raw), "republished": true}
	}
	obj["republished"] = true
	return obj
}

// Serve streams the connection's queue to the client as Server-Sent Events.
// The first frame is always a synthetic connect event; heartbeat frames are
// injected every HeartbeatInterval independent of traffic. Serve returns when
// the client disconnects or the connection is removed, after signalling the
// heartbeat goroutine and waiting out the cancel grace. The connection is
// removed from the manager on the way out.
func (m *Manager) Serve(w http.ResponseWriter, r *http.Request, conn *Connection) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("serve sse: streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := m.writeFrame(w, "connect", map[string]any{
		"connected":     true,
		"connection_id": conn.ID,
	}); err != nil {
		return err
	}
	flusher.Flush()

	heartbeats := make(chan Envelope, 1)
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		m.heartbeatLoop(done, heartbeats)
	}()

	defer func() {
		close(done)
		select {
		case <-stopped:
		case <-time.After(m.cfg.CancelGrace):
			m.logger.Warn("heartbeat loop did not stop within grace period",
				"connection_id", conn.ID)
		}
		if !conn.isClosed() {
			m.Remove(conn.ChannelType, conn.ResourceID, conn.ID)
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("sse client disconnected", "connection_id", conn.ID)
			return nil

		case env, open := <-conn.queue:
			if !open {
				// Connection removed elsewhere; end the stream cleanly
				return nil
			}
			if err := m.writeEnvelope(w, env); err != nil {
				return err
			}
			flusher.Flush()

		case hb := <-heartbeats:
			if err := m.writeEnvelope(w, hb); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

// writeEnvelope writes one queued envelope as a frame. Marshal failures are
// not fatal to the stream: they are logged, optionally surfaced as an error
// frame, and the stream continues. Write failures end the stream.
func (m *Manager) writeEnvelope(w http.ResponseWriter, env Envelope) error {
	data := env.Data
	if env.Republished {
		data = flagRepublished(data)
	}
	frame, err := formatFrame(env.Event, data)
	if err != nil {
		m.logger.Error("failed to marshal sse event",
			"event_type", env.Event,
			"error", err)
		if m.cfg.EmitErrorEvents {
			return m.writeFrame(w, "error", map[string]string{
				"error": "event delivery failed",
			})
		}
		return nil
	}
	if _, err := fmt.Fprint(w, frame); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	return nil
}

// writeFrame marshals and writes a single frame directly.
func (m *Manager) writeFrame(w http.ResponseWriter, event string, data any) error {
	frame, err := formatFrame(event, data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, frame); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	return nil
}

// heartbeatLoop emits heartbeat envelopes on the configured interval until
// done is closed.
func (m *Manager) heartbeatLoop(done <-chan struct{}, out chan<- Envelope) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			env := Envelope{
				ID:    uuid.New().String(),
				Event: "heartbeat",
				Data: map[string]any{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				},
			}
			select {
			case out <- env:
			case <-done:
				return
			}
		}
	}
}
