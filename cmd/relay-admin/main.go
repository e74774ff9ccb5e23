// ABOUTME: Operator CLI for the relay gateway
// ABOUTME: Local store verbs plus remote API and event-stream verbs over the client SDK

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/hearthchat/relay/internal/auth"
	"github.com/hearthchat/relay/internal/client"
	"github.com/hearthchat/relay/internal/config"
	"github.com/hearthchat/relay/internal/events"
	"github.com/hearthchat/relay/internal/store"
)

const banner = `
          _                         _           _
 _ __ ___| | __ _ _   _        __ _| |_ __ ___ (_)_ __
| '__/ _ \ |/ _' | | | |_____ / _' | | '_ ' _ \| | '_ \
| | |  __/ | (_| | |_| |_____| (_| | | | | | | | | | | |
|_|  \___|_|\__,_|\__, |      \__,_|_|_| |_| |_|_|_| |_|
                  |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "user":
		err = cmdUser(ctx, args)
	case "workspace":
		err = cmdWorkspace(ctx, args)
	case "member":
		err = cmdMember(ctx, args)
	case "conversation":
		err = cmdConversation(ctx, args)
	case "token":
		err = cmdToken(args)
	case "send":
		err = cmdSend(ctx, args)
	case "tail":
		err = cmdTail(ctx, args)
	case "experts":
		err = cmdExperts(ctx)
	case "status":
		err = cmdStatus(ctx)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: relay-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  user add                Create a user")
	fmt.Println("  workspace add           Create a workspace (the owner joins automatically)")
	fmt.Println("  member add              Add a user to a workspace")
	fmt.Println("  conversation new        Create a conversation")
	fmt.Println("  conversation list       List your conversations")
	fmt.Println("  conversation log <id>   Show a conversation's messages")
	fmt.Println("  token                   Mint a JWT for a user")
	fmt.Println("  send                    Post a message to a conversation")
	fmt.Println("  tail                    Stream live events from the gateway")
	fmt.Println("  experts                 List experts and their circuit state")
	fmt.Println("  status                  Show gateway status")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  RELAY_GATEWAY_URL       Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  RELAY_TOKEN             JWT bearer token for API verbs")
	fmt.Println("  RELAY_CONFIG            Gateway config path (used by store and token verbs)")
	fmt.Println("  RELAY_DB_PATH           SQLite path override for store verbs")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  relay-admin user add --email ada@example.com --name \"Ada\"")
	fmt.Println("  relay-admin token --user <user-id> --ttl 30")
	fmt.Println("  relay-admin send --conversation <conv-id> \"hello there\"")
	fmt.Println("  relay-admin tail --channel conversation --id <conv-id>")
	fmt.Println()
}

// getConfigPath returns the path to the gateway config file.
// Priority: RELAY_CONFIG env var > XDG_CONFIG_HOME/relay/gateway.yaml > ~/.config/relay/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "relay", "gateway.yaml")
}

// getDataPath returns the path to the relay data directory.
// Priority: XDG_DATA_HOME/relay > ~/.local/share/relay
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "relay")
}

// getToken returns the JWT token from RELAY_TOKEN or ~/.config/relay/token.
func getToken() string {
	if token := os.Getenv("RELAY_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "relay", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func gatewayURL() string {
	if url := os.Getenv("RELAY_GATEWAY_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func newAPIClient() *client.Client {
	return client.New(gatewayURL(), client.WithToken(getToken()))
}

// openStore opens the SQLite store for local admin verbs. Path resolution:
// --db flag > RELAY_DB_PATH > configured store.path > the default data dir.
func openStore(dbPath string) (store.Store, error) {
	if dbPath == "" {
		dbPath = os.Getenv("RELAY_DB_PATH")
	}
	if dbPath == "" {
		if cfg, err := config.Load(getConfigPath()); err == nil {
			dbPath = cfg.Store.Path
		}
	}
	if dbPath == "" {
		dbPath = filepath.Join(getDataPath(), "relay.db")
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", dbPath, err)
	}
	return s, nil
}

// cmdUser handles user subcommands
func cmdUser(ctx context.Context, args []string) error {
	subcmd := ""
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "add", "create":
		return cmdUserAdd(ctx, args)
	default:
		return fmt.Errorf("usage: user add --email <email> --name <name> [--id <id>] [--db <path>]")
	}
}

// cmdUserAdd creates a user directly in the store
func cmdUserAdd(ctx context.Context, args []string) error {
	var email, name, id, dbPath string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--email", "-e":
			if i+1 < len(args) {
				email = args[i+1]
				i++
			}
		case "--name", "-n":
			if i+1 < len(args) {
				name = args[i+1]
				i++
			}
		case "--id":
			if i+1 < len(args) {
				id = args[i+1]
				i++
			}
		case "--db", "-d":
			if i+1 < len(args) {
				dbPath = args[i+1]
				i++
			}
		}
	}

	if email == "" || name == "" {
		return fmt.Errorf("usage: user add --email <email> --name <name> [--id <id>]")
	}
	if id == "" {
		id = uuid.New().String()
	}

	s, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	user := &store.User{
		ID:          id,
		Email:       email,
		DisplayName: name,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Created user: %s\n", id)
	fmt.Printf("  Email:  %s\n", email)
	fmt.Printf("  Name:   %s\n", name)

	return nil
}

// cmdWorkspace handles workspace subcommands
func cmdWorkspace(ctx context.Context, args []string) error {
	subcmd := ""
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "add", "create":
		return cmdWorkspaceAdd(ctx, args)
	default:
		return fmt.Errorf("usage: workspace add --name <name> --owner <user-id> [--id <id>] [--db <path>]")
	}
}

// cmdWorkspaceAdd creates a workspace; the store enrolls the owner as a member
func cmdWorkspaceAdd(ctx context.Context, args []string) error {
	var name, owner, id, dbPath string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name", "-n":
			if i+1 < len(args) {
				name = args[i+1]
				i++
			}
		case "--owner", "-o":
			if i+1 < len(args) {
				owner = args[i+1]
				i++
			}
		case "--id":
			if i+1 < len(args) {
				id = args[i+1]
				i++
			}
		case "--db", "-d":
			if i+1 < len(args) {
				dbPath = args[i+1]
				i++
			}
		}
	}

	if name == "" || owner == "" {
		return fmt.Errorf("usage: workspace add --name <name> --owner <user-id>")
	}
	if id == "" {
		id = uuid.New().String()
	}

	s, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	ws := &store.Workspace{
		ID:        id,
		Name:      name,
		OwnerID:   owner,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateWorkspace(ctx, ws); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Created workspace: %s\n", id)
	fmt.Printf("  Name:   %s\n", name)
	fmt.Printf("  Owner:  %s (added as member)\n", owner)

	return nil
}

// cmdMember handles member subcommands
func cmdMember(ctx context.Context, args []string) error {
	subcmd := ""
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "add":
		return cmdMemberAdd(ctx, args)
	default:
		return fmt.Errorf("usage: member add --workspace <id> --user <id> [--role <role>] [--db <path>]")
	}
}

// cmdMemberAdd adds a user to a workspace
func cmdMemberAdd(ctx context.Context, args []string) error {
	var workspaceID, userID, dbPath string
	role := store.MemberRoleMember

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--workspace", "-w":
			if i+1 < len(args) {
				workspaceID = args[i+1]
				i++
			}
		case "--user", "-u":
			if i+1 < len(args) {
				userID = args[i+1]
				i++
			}
		case "--role", "-r":
			if i+1 < len(args) {
				role = args[i+1]
				i++
			}
		case "--db", "-d":
			if i+1 < len(args) {
				dbPath = args[i+1]
				i++
			}
		}
	}

	if workspaceID == "" || userID == "" {
		return fmt.Errorf("usage: member add --workspace <id> --user <id> [--role <role>]")
	}

	switch role {
	case store.MemberRoleOwner, store.MemberRoleAdmin, store.MemberRoleMember:
	default:
		return fmt.Errorf("invalid role %q (use owner, admin, member)", role)
	}

	s, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	m := &store.Member{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        role,
		AddedAt:     time.Now().UTC(),
	}
	if err := s.AddMember(ctx, m); err != nil {
		return fmt.Errorf("adding member: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Added member: %s\n", userID)
	fmt.Printf("  Workspace:  %s\n", workspaceID)
	fmt.Printf("  Role:       %s\n", role)

	return nil
}

// cmdToken mints a JWT locally using the configured signing secret
func cmdToken(args []string) error {
	var userID string
	ttlDays := 30

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--user", "-u":
			if i+1 < len(args) {
				userID = args[i+1]
				i++
			}
		case "--ttl", "-t":
			if i+1 < len(args) {
				days, err := parseIntFlag("ttl", args[i+1])
				if err != nil {
					return err
				}
				ttlDays = days
				i++
			}
		}
	}

	if userID == "" {
		return fmt.Errorf("usage: token --user <id> [--ttl <days>]")
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured in %s", configPath)
	}

	ttl := time.Duration(ttlDays) * 24 * time.Hour
	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(userID, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	fmt.Println()
	green.Println("  Token created")
	fmt.Println()
	cyan.Println("  User:     " + userID)
	cyan.Println("  Expires:  " + time.Now().Add(ttl).UTC().Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Token (keep this secret!):")
	fmt.Println()
	fmt.Println("  " + token)
	fmt.Println()

	return nil
}

// cmdConversation handles conversation subcommands
func cmdConversation(ctx context.Context, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "new", "create":
		return cmdConversationNew(ctx, args)
	case "list", "ls":
		return cmdConversationList(ctx, args)
	case "log":
		return cmdConversationLog(ctx, args)
	default:
		return fmt.Errorf("unknown conversation subcommand: %s (use new, list, log)", subcmd)
	}
}

// cmdConversationNew creates a conversation through the gateway API
func cmdConversationNew(ctx context.Context, args []string) error {
	var title, workspaceID string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--title", "-t":
			if i+1 < len(args) {
				title = args[i+1]
				i++
			}
		case "--workspace", "-w":
			if i+1 < len(args) {
				workspaceID = args[i+1]
				i++
			}
		}
	}

	conv, err := newAPIClient().CreateConversation(ctx, client.CreateConversationRequest{
		Title:       title,
		WorkspaceID: workspaceID,
	})
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Created conversation: %s\n", conv.ID)
	if conv.Title != "" {
		fmt.Printf("  Title:      %s\n", conv.Title)
	}
	if conv.WorkspaceID != "" {
		fmt.Printf("  Workspace:  %s\n", conv.WorkspaceID)
	}

	return nil
}

// cmdConversationList lists the caller's conversations
func cmdConversationList(ctx context.Context, args []string) error {
	limit := 0

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--limit", "-l":
			if i+1 < len(args) {
				n, err := parseIntFlag("limit", args[i+1])
				if err != nil {
					return err
				}
				limit = n
				i++
			}
		}
	}

	convs, err := newAPIClient().Conversations(ctx, limit)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Conversations")
	cyan.Println("  -------------")

	if len(convs) == 0 {
		fmt.Println("  (no conversations)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTITLE\tWORKSPACE\tUPDATED")
	fmt.Fprintln(w, "  --\t-----\t---------\t-------")
	for _, conv := range convs {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
			truncate(conv.ID, 24),
			truncate(conv.Title, 28),
			truncate(conv.WorkspaceID, 16),
			conv.UpdatedAt.Format("Jan 02 15:04"),
		)
	}
	w.Flush()
	fmt.Println()

	return nil
}

// cmdConversationLog prints a conversation's messages oldest first
func cmdConversationLog(ctx context.Context, args []string) error {
	if len(args) < 1 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("usage: conversation log <conversation-id> [--limit <n>]")
	}
	conversationID := args[0]
	args = args[1:]

	limit := 0
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--limit", "-l":
			if i+1 < len(args) {
				n, err := parseIntFlag("limit", args[i+1])
				if err != nil {
					return err
				}
				limit = n
				i++
			}
		}
	}

	msgs, err := newAPIClient().Messages(ctx, conversationID, limit)
	if err != nil {
		return err
	}

	if len(msgs) == 0 {
		fmt.Println("(no messages)")
		return nil
	}

	dim := color.New(color.Faint)
	for _, m := range msgs {
		dim.Printf("%s ", m.CreatedAt.Local().Format("15:04:05"))
		roleColor(m.Role).Printf("%s: ", m.Role)
		fmt.Println(m.Content)
	}

	return nil
}

func roleColor(role string) *color.Color {
	switch role {
	case store.RoleAssistant:
		return color.New(color.FgCyan)
	case store.RoleSystem:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

// cmdSend posts one message to a conversation through the gateway API
func cmdSend(ctx context.Context, args []string) error {
	var conversationID string
	var parts []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--conversation", "-c":
			if i+1 < len(args) {
				conversationID = args[i+1]
				i++
			}
		default:
			parts = append(parts, args[i])
		}
	}

	if conversationID == "" || len(parts) == 0 {
		return fmt.Errorf("usage: send --conversation <id> <message>")
	}

	// A fresh client_message_id per invocation keeps accidental double-runs
	// distinguishable from transport retries on the gateway side.
	ack, err := newAPIClient().SendMessage(ctx, conversationID, client.SendMessageRequest{
		Content: strings.Join(parts, " "),
		Metadata: map[string]any{
			"client_message_id": uuid.New().String(),
		},
	})
	if err != nil {
		return err
	}

	if ack.Status == "duplicate" {
		color.Yellow("Duplicate suppressed (client_message_id %s)\n", ack.ClientMessageID)
		return nil
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Accepted message: %s\n", ack.MessageID)
	fmt.Println("  The routed reply arrives on the conversation stream:")
	fmt.Printf("  relay-admin tail --channel conversation --id %s\n", conversationID)

	return nil
}

// cmdTail follows a live event stream until interrupted
func cmdTail(ctx context.Context, args []string) error {
	channelStr := "global"
	var resourceID string
	var raw bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--channel", "-c":
			if i+1 < len(args) {
				channelStr = args[i+1]
				i++
			}
		case "--id", "-i":
			if i+1 < len(args) {
				resourceID = args[i+1]
				i++
			}
		case "--raw":
			raw = true
		}
	}

	channel, err := events.ParseChannelType(channelStr)
	if err != nil {
		return err
	}

	dim := color.New(color.Faint)
	if resourceID != "" {
		dim.Printf("tailing %s/%s (Ctrl+C to stop)\n", channel, resourceID)
	} else {
		dim.Printf("tailing %s (Ctrl+C to stop)\n", channel)
	}

	return newAPIClient().StreamEvents(ctx, channel, resourceID, func(ev client.Event) {
		printEvent(ev, raw)
	})
}

// printEvent renders one stream frame. Heartbeats are dropped unless --raw is
// set; everything else prints as a one-line summary.
func printEvent(ev client.Event, raw bool) {
	if raw {
		fmt.Printf("%s %s\n", ev.Type, string(ev.Data))
		return
	}

	dim := color.New(color.Faint)
	yellow := color.New(color.FgYellow)

	switch ev.Type {
	case "connect":
		var data struct {
			ConnectionID string `json:"connection_id"`
		}
		_ = json.Unmarshal(ev.Data, &data)
		dim.Printf("connected (%s)\n", data.ConnectionID)

	case "heartbeat":
		// Keepalive only; nothing worth printing.

	case "message":
		var data struct {
			Message struct {
				ConversationID string `json:"conversation_id"`
				Content        string `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			yellow.Printf("message (unreadable payload: %v)\n", err)
			return
		}
		color.New(color.FgCyan).Printf("[%s] ", data.Message.ConversationID)
		fmt.Println(data.Message.Content)

	case "message_received":
		var data struct {
			ConversationID string `json:"conversation_id"`
			Role           string `json:"role"`
			Content        string `json:"content"`
		}
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			yellow.Printf("message_received (unreadable payload: %v)\n", err)
			return
		}
		color.New(color.FgGreen).Printf("[%s] %s: ", data.ConversationID, data.Role)
		fmt.Println(data.Content)

	case "status":
		var data struct {
			ConversationID string `json:"conversation_id"`
			Status         string `json:"status"`
		}
		_ = json.Unmarshal(ev.Data, &data)
		dim.Printf("[%s] status: %s\n", data.ConversationID, data.Status)

	case "typing_indicator":
		var data struct {
			ConversationID string `json:"conversation_id"`
			Typing         bool   `json:"typing"`
		}
		_ = json.Unmarshal(ev.Data, &data)
		if data.Typing {
			dim.Printf("[%s] typing...\n", data.ConversationID)
		}

	default:
		yellow.Printf("%s %s\n", ev.Type, string(ev.Data))
	}
}

// cmdExperts lists registered experts with breaker state
func cmdExperts(ctx context.Context) error {
	statuses, err := newAPIClient().Experts(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Experts")
	cyan.Println("  -------")

	if len(statuses) == 0 {
		fmt.Println("  (no experts registered)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tTYPE\tENDPOINT\tSTATUS\tBREAKER\tFAILURES")
	fmt.Fprintln(w, "  ----\t----\t--------\t------\t-------\t--------")
	for _, e := range statuses {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%d\n",
			truncate(e.Name, 20),
			e.Type,
			truncate(e.Endpoint, 32),
			e.Status,
			e.Breaker.State,
			e.Breaker.Failures,
		)
	}
	w.Flush()
	fmt.Println()

	return nil
}

// cmdStatus shows gateway liveness and the runtime stats snapshot
func cmdStatus(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	baseURL := gatewayURL()

	// Liveness first; /health stays open even when auth is required.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		yellow.Printf("  Gateway:  ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}
	resp.Body.Close()

	green.Printf("  Gateway:  ")
	fmt.Printf("%s (status %d)\n", baseURL, resp.StatusCode)

	stats, err := newAPIClient().Stats(ctx)
	if err != nil {
		yellow.Printf("  Stats:    ")
		color.Red("unavailable (%v)\n", err)
		fmt.Println()
		return nil
	}

	green.Printf("  Server:   ")
	fmt.Println(stats.ServerID)
	green.Printf("  Streams:  ")
	fmt.Printf("%d connections, %d dropped events\n", stats.Connections.Total, stats.Connections.DroppedEvents)
	green.Printf("  Router:   ")
	fmt.Printf("queue %d, processed %d, failed %d\n", stats.Router.QueueDepth, stats.Router.Processed, stats.Router.Failed)
	green.Printf("  Experts:  ")
	fmt.Printf("%d registered\n", len(stats.Experts))
	fmt.Println()

	return nil
}

func parseIntFlag(name, val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, val)
	}
	return n, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
