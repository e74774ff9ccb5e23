// ABOUTME: HTTP API handlers for events, conversations, message ingress, and experts
// ABOUTME: Request validation, dedupe, and JSON error responses live here

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/hearthchat/relay/internal/auth"
	"github.com/hearthchat/relay/internal/dedupe"
	"github.com/hearthchat/relay/internal/events"
	"github.com/hearthchat/relay/internal/experts"
	"github.com/hearthchat/relay/internal/router"
	"github.com/hearthchat/relay/internal/sse"
	"github.com/hearthchat/relay/internal/store"
)

// CreateConversationRequest is the JSON body for POST /api/conversations.
type CreateConversationRequest struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
	Title       string `json:"title,omitempty"`
}

// ConversationView is the JSON shape of a conversation in API responses.
type ConversationView struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PostMessageRequest is the JSON body for POST /api/conversations/{id}/messages.
type PostMessageRequest struct {
	Content  string         `json:"content"`
	Role     string         `json:"role,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MessageAck is the 202 response for accepted ingress messages.
type MessageAck struct {
	Status    string         `json:"status"`
	MessageID string         `json:"message_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MessageView is the JSON shape of a stored message. HTML is only set when
// the client asked for rendered markdown.
type MessageView struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	HTML           string         `json:"html,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// MessagesResponse is the JSON response for GET /api/conversations/{id}/messages.
type MessagesResponse struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []MessageView `json:"messages"`
}

// StatsResponse is the JSON response for GET /api/stats.
type StatsResponse struct {
	ServerID      string                 `json:"server_id"`
	Connections   sse.Stats              `json:"connections"`
	Subscriptions map[string]int         `json:"bus_subscriptions"`
	Router        router.Stats           `json:"router"`
	Experts       []experts.ExpertStatus `json:"experts"`
	DedupeTracked int                    `json:"dedupe_tracked"`
}

func sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, map[string]string{"error": message})
}

// sendJSONErrorCode writes an error body carrying a stable machine-readable
// code alongside the human message.
func sendJSONErrorCode(w http.ResponseWriter, status int, message, code string) {
	sendJSON(w, status, map[string]string{"error": message, "code": code})
}

// parseLimit reads the optional ?limit= query parameter, applying the default
// and clamping to max.
func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

// renderMarkdown converts message markdown to HTML.
func renderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func conversationView(c *store.Conversation) ConversationView {
	return ConversationView{
		ID:          c.ID,
		WorkspaceID: c.WorkspaceID,
		UserID:      c.UserID,
		Title:       c.Title,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// handleStats reports a snapshot of connection, bus, router, dedupe, and
// expert state.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, StatsResponse{
		ServerID:      g.serverID,
		Connections:   g.sse.Stats(),
		Subscriptions: g.bus.Counts(),
		Router:        g.router.Stats(),
		Experts:       g.hub.Statuses(),
		DedupeTracked: g.dedupe.Len(),
	})
}

// handleSubscribe returns the SSE subscription handler for one channel type.
// The resource id comes from the path; the global channel has none.
func (g *Gateway) handleSubscribe(ct events.ChannelType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resourceID := r.PathValue("id")
		identity := auth.FromContext(r.Context())

		if err := g.access.CanSubscribe(r.Context(), identity, ct, resourceID); err != nil {
			if errors.Is(err, auth.ErrForbidden) {
				sendJSONError(w, http.StatusForbidden, "forbidden")
				return
			}
			g.logger.Error("subscription access check failed",
				"channel_type", ct,
				"resource_id", resourceID,
				"error", err)
			sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		conn, err := g.sse.Register(ct, resourceID, identity.UserID)
		if err != nil {
			sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := g.sse.Serve(w, r, conn); err != nil {
			g.logger.Error("sse stream ended with error",
				"connection_id", conn.ID,
				"error", err)
		}
	}
}

// handleCreateConversation creates a conversation owned by the caller,
// optionally scoped to a workspace the caller belongs to.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.WorkspaceID != "" {
		if _, err := g.store.GetWorkspace(r.Context(), req.WorkspaceID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				sendJSONError(w, http.StatusNotFound, "workspace not found")
				return
			}
			g.logger.Error("failed to load workspace", "workspace_id", req.WorkspaceID, "error", err)
			sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !identity.Anonymous {
			ok, err := g.store.IsMember(r.Context(), req.WorkspaceID, identity.UserID)
			if err != nil {
				g.logger.Error("membership check failed", "workspace_id", req.WorkspaceID, "error", err)
				sendJSONError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if !ok {
				sendJSONError(w, http.StatusForbidden, "not a workspace member")
				return
			}
		}
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		UserID:      identity.UserID,
		Title:       req.Title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.store.CreateConversation(r.Context(), conv); err != nil {
		g.logger.Error("failed to create conversation", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	sendJSON(w, http.StatusCreated, conversationView(conv))
}

// handleListConversations lists the caller's conversations, most recently
// updated first.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	limit, err := parseLimit(r, 100, 1000)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	convs, err := g.store.ListConversations(r.Context(), identity.UserID, limit)
	if err != nil {
		g.logger.Error("failed to list conversations", "user_id", identity.UserID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	views := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		views = append(views, conversationView(c))
	}
	sendJSON(w, http.StatusOK, map[string]any{"conversations": views})
}

// handleGetConversation returns one conversation the caller may read.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	identity := auth.FromContext(r.Context())

	conv, err := g.store.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to load conversation", "conversation_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := g.access.CanSubscribe(r.Context(), identity, events.ChannelConversation, id); err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			sendJSONError(w, http.StatusForbidden, "forbidden")
			return
		}
		g.logger.Error("conversation access check failed", "conversation_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	sendJSON(w, http.StatusOK, conversationView(conv))
}

// handleListMessages returns the most recent messages of a conversation in
// chronological order. ?format=html additionally renders markdown content.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	identity := auth.FromContext(r.Context())

	if _, err := g.store.GetConversation(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		g.logger.Error("failed to load conversation", "conversation_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := g.access.CanSubscribe(r.Context(), identity, events.ChannelConversation, id); err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			sendJSONError(w, http.StatusForbidden, "forbidden")
			return
		}
		g.logger.Error("conversation access check failed", "conversation_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	limit, err := parseLimit(r, 50, 500)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := g.store.ListMessages(r.Context(), id, limit)
	if err != nil {
		g.logger.Error("failed to list messages", "conversation_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	renderHTML := r.URL.Query().Get("format") == "html"
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		view := MessageView{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			UserID:         m.UserID,
			Role:           m.Role,
			Content:        m.Content,
			Metadata:       m.Metadata,
			CreatedAt:      m.CreatedAt,
		}
		if renderHTML {
			html, err := renderMarkdown(m.Content)
			if err != nil {
				g.logger.Warn("markdown rendering failed", "message_id", m.ID, "error", err)
			} else {
				view.HTML = html
			}
		}
		views = append(views, view)
	}

	sendJSON(w, http.StatusOK, MessagesResponse{ConversationID: id, Messages: views})
}

// handlePostMessage is message ingress: it validates, dedupes, persists, and
// announces the inbound message, then hands it to the router. The 202 reply
// acknowledges acceptance, not completion; the routed response arrives over
// the conversation's event stream.
func (g *Gateway) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	identity := auth.FromContext(r.Context())

	conv, err := g.store.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to load conversation", "conversation_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := g.access.CanSubscribe(r.Context(), identity, events.ChannelConversation, id); err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			sendJSONError(w, http.StatusForbidden, "forbidden")
			return
		}
		g.logger.Error("conversation access check failed", "conversation_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}
	role := req.Role
	if role == "" {
		role = store.RoleUser
	}
	if role != store.RoleUser && role != store.RoleSystem {
		sendJSONError(w, http.StatusBadRequest, `role must be "user" or "system"`)
		return
	}

	// Client retries carry the same client_message_id; the first accepted
	// copy wins and later copies get the duplicate ack.
	var dedupeKey string
	if cmid, ok := req.Metadata["client_message_id"].(string); ok && cmid != "" {
		dedupeKey = dedupe.Key(id, cmid)
		if g.dedupe.CheckAndMark(dedupeKey) {
			g.logger.Debug("duplicate message suppressed",
				"conversation_id", id,
				"client_message_id", cmid)
			sendJSON(w, http.StatusAccepted, map[string]string{
				"status":            "duplicate",
				"client_message_id": cmid,
			})
			return
		}
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		UserID:         identity.UserID,
		Role:           role,
		Content:        req.Content,
		Metadata:       req.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	if err := g.store.CreateMessage(r.Context(), msg); err != nil {
		if dedupeKey != "" {
			g.dedupe.Forget(dedupeKey)
		}
		if errors.Is(err, store.ErrDuplicate) {
			sendJSONError(w, http.StatusConflict, "message already exists")
			return
		}
		g.logger.Error("failed to persist message", "conversation_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := g.store.TouchConversation(r.Context(), conv.ID, msg.CreatedAt); err != nil {
		g.logger.Warn("failed to touch conversation", "conversation_id", conv.ID, "error", err)
	}

	// The event and the routed response outlive this request, so detach
	// publish and enqueue from the request's cancellation.
	ctx := context.WithoutCancel(r.Context())
	g.bus.Publish(ctx, events.TypeMessageReceived, &events.ReceivedEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Role:           msg.Role,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
		Metadata:       msg.Metadata,
	}, g.serverID)

	in := events.NewInputMessage(events.ChannelConversation, conv.ID, identity.UserID, req.Content)
	in.MessageID = msg.ID
	in.ConversationID = conv.ID
	in.WorkspaceID = conv.WorkspaceID
	in.Metadata = req.Metadata

	if !g.router.ProcessInput(in) {
		// The message is stored but will not be routed. Unwind the dedupe
		// mark so the client's retry is processed rather than suppressed.
		if dedupeKey != "" {
			g.dedupe.Forget(dedupeKey)
		}
		sendJSONError(w, http.StatusServiceUnavailable, "message queue full")
		return
	}

	sendJSON(w, http.StatusAccepted, MessageAck{
		Status:    "message_received",
		MessageID: msg.ID,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		Metadata:  msg.Metadata,
	})
}

// handleListExperts reports hub registration and connection state.
func (g *Gateway) handleListExperts(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]any{"experts": g.hub.Statuses()})
}

// handleCallTool invokes a tool on a connected expert through the hub.
func (g *Gateway) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	tool := r.PathValue("tool")

	var args map[string]any
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := g.hub.CallTool(r.Context(), name, tool, args)
	switch {
	case err == nil:
	case errors.Is(err, experts.ErrExpertNotFound):
		sendJSONError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, experts.ErrExpertUnavailable):
		sendJSONErrorCode(w, http.StatusServiceUnavailable, err.Error(), experts.CodeExpertUnavailable)
		return
	default:
		g.logger.Error("tool call failed",
			"expert", name,
			"tool", tool,
			"error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	sendJSON(w, http.StatusOK, result)
}
