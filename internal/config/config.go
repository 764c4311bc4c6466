package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/sheet-sync/internal/auth"
	"github.com/alexjbarnes/sheet-sync/internal/state"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Sheet backends.
const (
	BackendGoogle = "google"
	BackendCSV    = "csv"
)

// Config holds all environment-based configuration for sheet-sync.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// LogFile, when set, receives a rotated copy of the log output.
	LogFile string `env:"LOG_FILE"`

	// Record store
	DBPath    string `env:"DB_PATH" envDefault:"sheet-sync.db"`
	TableName string `env:"TABLE_NAME" envDefault:"data_table"`

	// StatePath is the bbolt database holding schema, watermark and
	// fingerprints. Defaults to ~/.sheet-sync/state.db.
	StatePath string `env:"STATE_PATH"`

	// Sheet store
	SheetBackend          string `env:"SHEET_BACKEND" envDefault:"google"`
	SheetID               string `env:"SHEET_ID"`
	GoogleCredentialsFile string `env:"GOOGLE_CREDENTIALS_FILE"`
	SheetFile             string `env:"SHEET_FILE"`

	// SheetRange is an A1 range. Empty means the first tab, columns A:Z.
	SheetRange string `env:"SHEET_RANGE"`

	// Schema discovery
	KeyColumn       string   `env:"KEY_COLUMN" envDefault:"id"`
	TimestampColumn string   `env:"TIMESTAMP_COLUMN" envDefault:"last_updated"`
	DefaultHeaders  []string `env:"DEFAULT_HEADERS" envSeparator:"," envDefault:"id,first_name,last_name,email,department,hire_date"`
	SchemaFile      string   `env:"SCHEMA_FILE"`

	// Scheduling
	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"10s"`
	PassTimeout  time.Duration `env:"PASS_TIMEOUT" envDefault:"2m"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"15s"`

	// HTTP API
	ListenAddr   string `env:"LISTEN_ADDR" envDefault:":8000"`
	APIAuthUsers string `env:"API_AUTH_USERS"`
	EnableMCP    bool   `env:"ENABLE_MCP" envDefault:"false"`

	// Change notifications
	NotifyURL     string `env:"NOTIFY_URL"`
	NotifyChannel string `env:"NOTIFY_CHANNEL" envDefault:"data_change"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.SheetBackend = strings.ToLower(strings.TrimSpace(cfg.SheetBackend))
	cfg.DefaultHeaders = trimAll(cfg.DefaultHeaders)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath == "" {
		p, err := state.DefaultPath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = p
	}

	// The watcher compares event paths against SheetFile, which only
	// works reliably with absolute paths.
	if cfg.SheetFile != "" {
		abs, err := filepath.Abs(cfg.SheetFile)
		if err != nil {
			return nil, fmt.Errorf("resolving sheet file to absolute path: %w", err)
		}

		cfg.SheetFile = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.SheetBackend {
	case BackendGoogle:
		if c.SheetID == "" {
			return fmt.Errorf("SHEET_ID is required when SHEET_BACKEND is google")
		}
	case BackendCSV:
		if c.SheetFile == "" {
			return fmt.Errorf("SHEET_FILE is required when SHEET_BACKEND is csv")
		}
	default:
		return fmt.Errorf("SHEET_BACKEND must be %q or %q, got %q", BackendGoogle, BackendCSV, c.SheetBackend)
	}

	if strings.TrimSpace(c.TableName) == "" {
		return fmt.Errorf("TABLE_NAME must not be empty")
	}

	if strings.TrimSpace(c.KeyColumn) == "" {
		return fmt.Errorf("KEY_COLUMN must not be empty")
	}

	for name, d := range map[string]time.Duration{
		"SYNC_INTERVAL": c.SyncInterval,
		"PASS_TIMEOUT":  c.PassTimeout,
		"STORE_TIMEOUT": c.StoreTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	users, err := c.Users()
	if err != nil {
		return err
	}

	if c.EnableMCP && len(users) == 0 {
		return fmt.Errorf("API_AUTH_USERS is required when MCP is enabled")
	}

	if c.NotifyURL != "" && !strings.HasPrefix(c.NotifyURL, "ws://") && !strings.HasPrefix(c.NotifyURL, "wss://") {
		return fmt.Errorf("NOTIFY_URL must be a ws:// or wss:// URL")
	}

	return nil
}

// Users parses API_AUTH_USERS. An empty value disables Basic auth.
func (c *Config) Users() (auth.Users, error) {
	users, err := auth.ParseUsers(c.APIAuthUsers)
	if err != nil {
		return nil, fmt.Errorf("parsing API_AUTH_USERS: %w", err)
	}

	return users, nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func trimAll(in []string) []string {
	out := in[:0]

	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}

	return out
}
