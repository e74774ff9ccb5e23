// ABOUTME: Store interface and data types for relay-gateway persistence.
// ABOUTME: Defines User, Workspace, Conversation, Message and the Store interface.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("already exists")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Workspace membership roles.
const (
	MemberRoleOwner  = "owner"
	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"
)

// User is an account known to the gateway.
type User struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   time.Time
}

// Workspace groups users and conversations.
type Workspace struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// Member is a user's membership in a workspace.
type Member struct {
	WorkspaceID string
	UserID      string
	Role        string
	AddedAt     time.Time
}

// Conversation is a message thread owned by a user, optionally scoped to a
// workspace.
type Conversation struct {
	ID          string
	WorkspaceID string
	UserID      string
	Title       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Message is one entry in a conversation. Metadata is stored as JSON and
// round-trips arbitrary client-supplied keys.
type Message struct {
	ID             string
	ConversationID string
	UserID         string
	Role           string
	Content        string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// Store defines persistence for users, workspaces, conversations, and
// messages.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// Workspaces
	CreateWorkspace(ctx context.Context, ws *Workspace) error
	GetWorkspace(ctx context.Context, id string) (*Workspace, error)
	AddMember(ctx context.Context, m *Member) error
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
	ListMembers(ctx context.Context, workspaceID string) ([]*Member, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Close releases any resources held by the store.
	Close() error
}
