// ABOUTME: Entry point for the relay-gateway server
// ABOUTME: Serves the HTTP API, SSE event streams, and expert integrations

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/hearthchat/relay/internal/config"
	"github.com/hearthchat/relay/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
          _                               _
 _ __ ___| | __ _ _   _       __ _  __ _| |_ _____      ____ _ _   _
| '__/ _ \ |/ _' | | | |_____/ _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| | |  __/ | (_| | |_| |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_|  \___|_|\__,_|\__, |      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                  |___/       |___/                             |___/
`

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

func main() {
	cmd := "serve"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Printf("relay-gateway %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: relay-gateway [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve      Start the gateway server (default)")
	fmt.Println("  init       Create a new config file interactively")
	fmt.Println("  health     Check gateway health")
	fmt.Println("  version    Print the version")
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	storePath := cfg.Store.Path
	if envPath := os.Getenv("RELAY_DB_PATH"); envPath != "" {
		storePath = envPath
	}

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.Addr())
	green.Print("    ▶ ")
	fmt.Printf("Store:    %s\n", storePath)

	if cfg.Experts.Catalog != "" {
		green.Print("    ▶ ")
		fmt.Printf("Experts:  ")
		cyan.Println(cfg.Experts.Catalog)
	}

	green.Print("    ▶ ")
	fmt.Printf("Auth:     ")
	switch {
	case cfg.Auth.JWTSecret == "":
		yellow.Println("disabled")
	case cfg.Auth.RequireAuth:
		fmt.Println("JWT (required)")
	default:
		fmt.Println("JWT (optional)")
	}

	fmt.Println()

	logger.Info("starting relay-gateway",
		"config", configPath,
		"addr", cfg.Server.Addr(),
	)

	// Create and run gateway
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// A wildcard listen host is not dialable; probe loopback instead.
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s/health", net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("relay-gateway configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDBPath := filepath.Join(defaultDataPath, "relay.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	host := prompt(reader, "Listen host", "0.0.0.0")
	port := prompt(reader, "Listen port", "8080")
	if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("invalid port %q", port)
	}

	// Store
	fmt.Println("\n--- Store Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDBPath)

	// Auth
	fmt.Println("\n--- Auth Configuration ---")
	jwtSecret := prompt(reader, "JWT secret (leave empty to generate)", "")
	if jwtSecret == "" {
		secret, err := generateSecret()
		if err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = secret
		fmt.Println("Generated a random JWT secret.")
	}
	requireAuth := isYes(prompt(reader, "Require authentication on API routes?", "no"))

	// Experts
	fmt.Println("\n--- Experts Configuration ---")
	var catalogPath string
	if isYes(prompt(reader, "Write a starter expert catalog?", "yes")) {
		defaultCatalog := filepath.Join(filepath.Dir(outputFile), "experts.toml")
		catalogPath = prompt(reader, "Catalog path", defaultCatalog)
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# relay-gateway configuration\n")
	cfg.WriteString("# Generated by relay-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  host: \"%s\"\n", host))
	cfg.WriteString(fmt.Sprintf("  port: %s\n", port))
	cfg.WriteString("  shutdown_grace: \"10s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("store:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString(fmt.Sprintf("  require_auth: %t\n", requireAuth))
	cfg.WriteString("\n")

	cfg.WriteString("sse:\n")
	cfg.WriteString("  heartbeat_interval: \"30s\"\n")
	cfg.WriteString("  queue_size: 64\n")
	cfg.WriteString("  replay_buffer: 16\n")
	cfg.WriteString("\n")

	cfg.WriteString("router:\n")
	cfg.WriteString("  queue_size: 256\n")
	cfg.WriteString("  delay_unit: \"1s\"\n")
	cfg.WriteString("\n")

	if catalogPath != "" {
		cfg.WriteString("experts:\n")
		cfg.WriteString(fmt.Sprintf("  catalog: \"%s\"\n", catalogPath))
		cfg.WriteString("\n")
	}

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The config holds the JWT secret, so keep it readable by the owner only.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if catalogPath != "" {
		if err := writeStarterCatalog(catalogPath); err != nil {
			return err
		}
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	if catalogPath != "" {
		fmt.Printf("Expert catalog: %s\n", catalogPath)
	}
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  relay-gateway serve\n")

	return nil
}

// writeStarterCatalog writes an expert catalog with a disabled example entry
// so serve starts cleanly until a real endpoint is filled in.
func writeStarterCatalog(path string) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Expert catalog already exists, leaving it alone: %s\n", path)
		return nil
	}

	const starter = `# relay-gateway expert catalog
# Each entry is an MCP-style tool server the gateway can call.

[[experts]]
name = "calculator"
endpoint = "http://localhost:9000/mcp"
type = "mcp"
enabled = false
`

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating catalog directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(starter), 0644); err != nil {
		return fmt.Errorf("writing expert catalog: %w", err)
	}
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
