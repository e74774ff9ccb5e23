// ABOUTME: SSE subscription support for the client SDK.
// ABOUTME: Parses event/data framed streams from the gateway's event endpoints.

package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hearthchat/relay/internal/events"
)

// Event is one parsed frame from a gateway event stream. Data holds the raw
// JSON payload of the frame.
type Event struct {
	Type string
	Data json.RawMessage
}

// streamPath maps a channel scope to its subscription endpoint.
func streamPath(channel events.ChannelType, resourceID string) (string, error) {
	if channel == events.ChannelGlobal {
		if resourceID != "" {
			return "", fmt.Errorf("global channel takes no resource id")
		}
		return "/api/events/global", nil
	}
	if resourceID == "" {
		return "", fmt.Errorf("resource id is required for %s channel", channel)
	}

	escaped := url.PathEscape(resourceID)
	switch channel {
	case events.ChannelUser:
		return "/api/events/users/" + escaped, nil
	case events.ChannelWorkspace:
		return "/api/events/workspaces/" + escaped, nil
	case events.ChannelConversation:
		return "/api/events/conversations/" + escaped, nil
	case events.ChannelNotification:
		return "/api/events/notifications/" + escaped, nil
	default:
		return "", fmt.Errorf("unknown channel type %q", channel)
	}
}

// StreamEvents subscribes to a channel's event stream and calls handler for
// every frame, including the synthetic connect frame and heartbeats. It
// blocks until the stream ends or ctx is cancelled; a cancelled context
// returns nil.
func (c *Client) StreamEvents(ctx context.Context, channel events.ChannelType, resourceID string, handler func(Event)) error {
	path, err := streamPath(channel, resourceID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp)
	}

	if err := parseStream(ctx, resp.Body, handler); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}

// parseStream reads SSE frames from body and dispatches them to handler.
// Frames are event:/data: lines terminated by a blank line; comment lines
// starting with ':' are ignored.
func parseStream(ctx context.Context, body io.Reader, handler func(Event)) error {
	scanner := bufio.NewScanner(body)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		// Empty line signals end of frame
		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				handler(Event{
					Type: eventType,
					Data: json.RawMessage(strings.Join(dataLines, "\n")),
				})
			}
			eventType = ""
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}

		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return nil
}
