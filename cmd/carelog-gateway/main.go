// ABOUTME: Entry point for the carelog-gateway authentication server
// ABOUTME: Wires config, store, auth service and HTTP surface together

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/didip/tollbooth/v6"
	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/carelog/carelog-gateway/internal/audit"
	"github.com/carelog/carelog-gateway/internal/auth"
	"github.com/carelog/carelog-gateway/internal/config"
	"github.com/carelog/carelog-gateway/internal/inflight"
	"github.com/carelog/carelog-gateway/internal/lockout"
	"github.com/carelog/carelog-gateway/internal/password"
	"github.com/carelog/carelog-gateway/internal/ratelimit"
	"github.com/carelog/carelog-gateway/internal/store"
	"github.com/carelog/carelog-gateway/internal/token"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                          _
  ___ __ _ _ __ ___| | ___   __ _
 / __/ _' | '__/ _ \ |/ _ \ / _' |
| (_| (_| | | |  __/ | (_) | (_| |
 \___\__,_|_|  \___|_|\___/ \__, |
                            |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: CARELOG_CONFIG env var > XDG_CONFIG_HOME/carelog/gateway.yaml > ~/.config/carelog/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CARELOG_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "carelog", "gateway.yaml")
}

// getDataPath returns the path to the carelog data directory.
// Priority: XDG_DATA_HOME/carelog > ~/.local/share/carelog
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "carelog")
}

func main() {
	// Local development keeps secrets in a .env file; absence is normal.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: carelog-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the auth gateway server")
		fmt.Println("  init    Create a config file with a fresh JWT secret")
		fmt.Println("  health  Check gateway health")
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
	case "health":
		err = runHealth(ctx)
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

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting carelog-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = st.Close() }()

	recorder := audit.NewRecorder(st)
	codec := token.NewCodec([]byte(cfg.Auth.JWTSecret))

	service := auth.NewService(
		st,
		password.NewBcryptHasher(),
		codec,
		ratelimit.New(cfg.Auth.RateLimit, cfg.Auth.RateWindow),
		inflight.New(),
		lockout.Policy{Threshold: cfg.Auth.LockoutThreshold, LockFor: cfg.Auth.LockoutDuration},
		recorder,
		auth.Config{
			SessionTTL:      cfg.Auth.SessionTTL,
			DemoSessionTTL:  cfg.Auth.DemoSessionTTL,
			TokenTTL:        cfg.Auth.TokenTTL,
			DemoEmail:       cfg.Demo.Email,
			DemoDisplayName: cfg.Demo.DisplayName,
		},
	)

	handler := auth.NewHandler(service, auth.NewTokenResolver(codec, st), cfg.Server.SecureCookies)
	mux := http.NewServeMux()
	handler.Routes(mux)

	// Transport-level throttle in front of the per-key auth limiter. The
	// legacy clients parse this exact {"detail": ...} shape on 429.
	lmt := tollbooth.NewLimiter(cfg.Server.RequestsPerSecond, nil)
	lmt.SetMessage(`{"detail":"rate limited"}`)
	lmt.SetMessageContentType("application/json; charset=utf-8")

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           tollbooth.LimitHandler(lmt, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if serr := srv.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	recorder.Flush()
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
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := strings.TrimPrefix(cfg.Server.HTTPAddr, "http://")
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	url := fmt.Sprintf("http://%s/healthz", addr)
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

	green := color.New(color.FgGreen)
	green.Println("healthy")
	return nil
}

// runInit writes a starter config with a freshly generated JWT secret.
// It refuses to overwrite an existing file.
func runInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "gateway.db")

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# carelog-gateway configuration
# Generated by carelog-gateway init

server:
  http_addr: "localhost:8080"
  secure_cookies: false

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  session_ttl: 24h
  demo_session_ttl: 1h
  lockout_threshold: 5
  lockout_duration: 15m
  rate_limit: 10
  rate_window: 1m

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println()
	fmt.Println("To start the server:")
	fmt.Println("  carelog-gateway serve")

	return nil
}
