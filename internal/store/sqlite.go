// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Provides user/workspace/conversation/message persistence with schema creation.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is created if it doesn't exist, as are parent directories.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

		CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner_id TEXT NOT NULL REFERENCES users(id),
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS workspace_members (
			workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role TEXT NOT NULL DEFAULT 'member',
			added_at TEXT NOT NULL,

			PRIMARY KEY (workspace_id, user_id),
			CHECK (role IN ('owner', 'admin', 'member'))
		);

		CREATE INDEX IF NOT EXISTS idx_members_user ON workspace_members(user_id);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			workspace_id TEXT REFERENCES workspaces(id),
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_user
			ON conversations(user_id, updated_at);
		CREATE INDEX IF NOT EXISTS idx_conversations_workspace
			ON conversations(workspace_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at TEXT NOT NULL,

			CHECK (role IN ('user', 'assistant', 'system'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isUniqueViolation checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateUser inserts a new user. Returns ErrDuplicate if the id or email is
// already taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, email, display_name, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		user.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "email", user.Email)
	return nil
}

// GetUser retrieves a user by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, email, display_name, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByEmail retrieves a user by email. Returns ErrNotFound if no user
// has that email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, email, display_name, created_at
		FROM users
		WHERE email = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	var createdAtStr string

	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &user, nil
}

// CreateWorkspace inserts a new workspace and adds the owner as a member.
func (s *SQLiteStore) CreateWorkspace(ctx context.Context, ws *Workspace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := ws.CreatedAt.UTC().Format(time.RFC3339)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)`,
		ws.ID, ws.Name, ws.OwnerID, createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting workspace: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id, role, added_at) VALUES (?, ?, ?, ?)`,
		ws.ID, ws.OwnerID, MemberRoleOwner, createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing workspace: %w", err)
	}

	s.logger.Debug("created workspace", "id", ws.ID, "owner", ws.OwnerID)
	return nil
}

// GetWorkspace retrieves a workspace by ID.
func (s *SQLiteStore) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	query := `
		SELECT id, name, owner_id, created_at
		FROM workspaces
		WHERE id = ?
	`

	var ws Workspace
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(&ws.ID, &ws.Name, &ws.OwnerID, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying workspace: %w", err)
	}

	ws.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &ws, nil
}

// AddMember adds a user to a workspace. Returns ErrDuplicate if the user is
// already a member.
func (s *SQLiteStore) AddMember(ctx context.Context, m *Member) error {
	role := m.Role
	if role == "" {
		role = MemberRoleMember
	}

	query := `
		INSERT INTO workspace_members (workspace_id, user_id, role, added_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		m.WorkspaceID,
		m.UserID,
		role,
		m.AddedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting member: %w", err)
	}

	s.logger.Debug("added member", "workspace_id", m.WorkspaceID, "user_id", m.UserID, "role", role)
	return nil
}

// IsMember reports whether the user belongs to the workspace.
func (s *SQLiteStore) IsMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	query := `
		SELECT 1 FROM workspace_members
		WHERE workspace_id = ? AND user_id = ?
	`

	var one int
	err := s.db.QueryRowContext(ctx, query, workspaceID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying membership: %w", err)
	}
	return true, nil
}

// ListMembers returns all memberships of a workspace.
func (s *SQLiteStore) ListMembers(ctx context.Context, workspaceID string) ([]*Member, error) {
	query := `
		SELECT workspace_id, user_id, role, added_at
		FROM workspace_members
		WHERE workspace_id = ?
		ORDER BY added_at ASC, user_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		var m Member
		var addedAtStr string

		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.Role, &addedAtStr); err != nil {
			return nil, fmt.Errorf("scanning member row: %w", err)
		}

		m.AddedAt, err = time.Parse(time.RFC3339, addedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing added_at: %w", err)
		}
		members = append(members, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating member rows: %w", err)
	}
	return members, nil
}

// CreateConversation inserts a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, workspace_id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		nullString(conv.WorkspaceID),
		conv.UserID,
		conv.Title,
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "user_id", conv.UserID)
	return nil
}

// nullString returns nil for empty strings so the column stores NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, workspace_id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) scanConversation(row *sql.Row) (*Conversation, error) {
	var conv Conversation
	var workspaceID sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(&conv.ID, &workspaceID, &conv.UserID, &conv.Title, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.WorkspaceID = workspaceID.String

	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

// ListConversations retrieves a user's conversations ordered by most recent
// activity. If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, workspace_id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var conv Conversation
		var workspaceID sql.NullString
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(&conv.ID, &workspaceID, &conv.UserID, &conv.Title, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}

		conv.WorkspaceID = workspaceID.String

		conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		convs = append(convs, &conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

// TouchConversation bumps a conversation's updated_at. Returns ErrNotFound
// if the conversation doesn't exist.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage inserts a message. Metadata is stored as JSON text.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	role := msg.Role
	if role == "" {
		role = RoleUser
	}

	var metadata any
	if len(msg.Metadata) > 0 {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		metadata = string(data)
	}

	query := `
		INSERT INTO messages (id, conversation_id, user_id, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.UserID,
		role,
		msg.Content,
		metadata,
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "role", role)
	return nil
}

// ListMessages retrieves the most recent `limit` messages of a conversation
// in chronological order (oldest first). If limit is 0 or negative, all
// messages are returned. Ties on created_at keep insert order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		query = `
			SELECT id, conversation_id, user_id, role, content, metadata, created_at
			FROM (
				SELECT rowid AS rid, id, conversation_id, user_id, role, content, metadata, created_at
				FROM messages
				WHERE conversation_id = ?
				ORDER BY created_at DESC, rid DESC
				LIMIT ?
			)
			ORDER BY created_at ASC, rid ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT id, conversation_id, user_id, role, content, metadata, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at ASC, rowid ASC
		`
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var metadata sql.NullString
		var createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &msg.Role, &msg.Content, &metadata, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata: %w", err)
			}
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}
