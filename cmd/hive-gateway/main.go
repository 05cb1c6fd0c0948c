// ABOUTME: Entry point for the hive-gateway server.
// ABOUTME: Bridges clients, nodes, and agent sessions over one listener.

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/hive-gateway/internal/agent"
	"github.com/2389/hive-gateway/internal/auth"
	"github.com/2389/hive-gateway/internal/config"
	"github.com/2389/hive-gateway/internal/gateway"
	"github.com/2389/hive-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _     _                            _
| |__ (_)_   _____        __ _  __ _| |_ _____      ____ _ _   _
| '_ \| \ \ / / _ \_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| | | | |\ V /  __/_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_| |_|_| \_/ \___|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                         |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: HIVE_CONFIG env var > XDG_CONFIG_HOME/hive/gateway.yaml > ~/.config/hive/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HIVE_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "hive", "gateway.yaml")
}

// getDataPath returns the path to the hive data directory.
// Priority: XDG_DATA_HOME/hive > ~/.local/share/hive
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "hive")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: hive-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                 Start the gateway server")
		fmt.Println("  init                  Create a new config file interactively")
		fmt.Println("  token --subject NAME  Mint a signed gateway token")
		fmt.Println("  health                Check gateway health")
		fmt.Println("  stats                 Show gateway stats")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken()
	case "health":
		err = runHealth(ctx)
	case "stats":
		err = runStats(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
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
	slog.SetDefault(logger)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Auth:     %s\n", cfg.Auth.Mode)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting hive-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"auth_mode", cfg.Auth.Mode,
	)

	var roster []agent.Definition
	if cfg.Agents.RosterPath != "" {
		roster, err = agent.LoadRoster(cfg.Agents.RosterPath)
		if err != nil {
			return fmt.Errorf("loading agent roster: %w", err)
		}
		logger.Info("agent roster loaded", "path", cfg.Agents.RosterPath, "agents", len(roster))
	} else {
		// No roster configured: run a single echo agent so the gateway is
		// usable out of the box.
		roster = []agent.Definition{{ID: "echo", Name: "Echo", Default: true}}
		logger.Warn("no agent roster configured, using the echo agent")
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	gw, err := gateway.New(cfg, gateway.Deps{
		Invoker: agent.EchoInvoker{},
		Store:   s,
		Roster:  roster,
		Logger:  logger,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runToken mints a signed gateway token using the configured token secret.
func runToken() error {
	var subject string
	ttl := 30 * 24 * time.Hour

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--subject" || arg == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--subject requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--subject="):
			subject = strings.TrimPrefix(arg, "--subject=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
			i++
		case strings.HasPrefix(arg, "--ttl="):
			d, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("--subject flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.TokenSecret == "" {
		return fmt.Errorf("auth.token_secret not configured (required for signed tokens)")
	}

	issuer := auth.NewTokenIssuer([]byte(cfg.Auth.TokenSecret))
	token, err := issuer.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
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
	body, err := gatewayGet(ctx, "/health")
	if err != nil {
		return err
	}
	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}
	fmt.Printf("%s (gateway %s)\n", health.Status, health.Version)
	return nil
}

func runStats(ctx context.Context) error {
	body, err := gatewayGet(ctx, "/stats")
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func gatewayGet(ctx context.Context, path string) ([]byte, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("hive-gateway configuration setup")
	fmt.Println("================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Auth
	fmt.Println("\n--- Auth Configuration ---")
	authMode := prompt(reader, "Auth mode (none/token/password/transport-identity)", "token")

	var tokenSecret string
	if authMode == "token" {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating token secret: %w", err)
		}
		tokenSecret = base64.StdEncoding.EncodeToString(secretBytes)
	}

	// Agents
	fmt.Println("\n--- Agent Configuration ---")
	rosterPath := prompt(reader, "Agent roster TOML path (leave empty for echo agent)", "")

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# hive-gateway configuration\n")
	cfg.WriteString("# Generated by hive-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  mode: \"%s\"\n", authMode))
	if tokenSecret != "" {
		cfg.WriteString(fmt.Sprintf("  token_secret: \"%s\"\n", tokenSecret))
	}
	cfg.WriteString("\n")

	cfg.WriteString("nodes:\n")
	cfg.WriteString("  max_nodes: 200\n")
	cfg.WriteString("  ping_interval: \"30s\"\n")
	cfg.WriteString("  ping_timeout: \"60s\"\n")
	cfg.WriteString("\n")

	if rosterPath != "" {
		cfg.WriteString("agents:\n")
		cfg.WriteString(fmt.Sprintf("  roster_path: \"%s\"\n", rosterPath))
		cfg.WriteString("\n")
	}

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	if tokenSecret != "" {
		fmt.Println("\nMint a client token:")
		fmt.Println("  hive-gateway token --subject you@example.com")
	}
	fmt.Println("\nTo start the server:")
	fmt.Printf("  hive-gateway serve\n")

	return nil
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
