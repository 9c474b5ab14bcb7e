package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/social-sync/internal/auth"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Config holds all environment-based configuration for social-sync.
type Config struct {
	// REST API base URL, e.g. https://api.example.com/v1
	APIURL string `env:"SOCIAL_API_URL"`

	// Push channel URL (ws:// or wss://). Empty runs on snapshots only.
	PushURL string `env:"SOCIAL_PUSH_URL"`

	// Session credentials. When empty the cached session is used.
	Token    string `env:"SOCIAL_TOKEN"`
	UserID   string `env:"SOCIAL_USER_ID"`
	Username string `env:"SOCIAL_USERNAME"`

	// Path of the bbolt state file. Defaults to ~/.social-sync/state.db.
	StatePath string `env:"STATE_PATH"`

	// Push channel tuning.
	ChannelIdleTimeout time.Duration `env:"CHANNEL_IDLE_TIMEOUT" envDefault:"60s"`
	PingInterval       time.Duration `env:"PING_INTERVAL" envDefault:"25s"`
	ReconnectMin       time.Duration `env:"RECONNECT_MIN" envDefault:"5s"`
	ReconnectMax       time.Duration `env:"RECONNECT_MAX" envDefault:"5m"`

	// REST throttling (requests per second and burst).
	APIRateLimit float64 `env:"API_RATE_LIMIT" envDefault:"10"`
	APIBurst     int     `env:"API_BURST" envDefault:"20"`

	// Upper bound for one mutation round trip.
	MutationTimeout time.Duration `env:"MUTATION_TIMEOUT" envDefault:"30s"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	// MCP server settings (MCP_API_KEYS required when MCP is enabled).
	// Hashes contain '$', so quote the value with single quotes in .env.
	EnableMCP     bool   `env:"ENABLE_MCP" envDefault:"false"`
	MCPListenAddr string `env:"MCP_LISTEN_ADDR" envDefault:":8090"`
	MCPAPIKeys    string `env:"MCP_API_KEYS"`
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

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath != "" {
		abs, err := filepath.Abs(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
		}

		cfg.StatePath = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("SOCIAL_API_URL is required")
	}

	if err := checkURL("SOCIAL_API_URL", c.APIURL, "http", "https"); err != nil {
		return err
	}

	if c.PushURL != "" {
		if err := checkURL("SOCIAL_PUSH_URL", c.PushURL, "ws", "wss"); err != nil {
			return err
		}
	}

	if (c.Token == "") != (c.UserID == "") {
		return fmt.Errorf("SOCIAL_TOKEN and SOCIAL_USER_ID must be set together")
	}

	for name, d := range map[string]time.Duration{
		"CHANNEL_IDLE_TIMEOUT": c.ChannelIdleTimeout,
		"PING_INTERVAL":        c.PingInterval,
		"RECONNECT_MIN":        c.ReconnectMin,
		"RECONNECT_MAX":        c.ReconnectMax,
		"MUTATION_TIMEOUT":     c.MutationTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.ReconnectMin > c.ReconnectMax {
		return fmt.Errorf("RECONNECT_MIN (%s) exceeds RECONNECT_MAX (%s)", c.ReconnectMin, c.ReconnectMax)
	}

	if c.PingInterval >= c.ChannelIdleTimeout {
		return fmt.Errorf("PING_INTERVAL must be shorter than CHANNEL_IDLE_TIMEOUT")
	}

	if c.APIRateLimit <= 0 || c.APIBurst <= 0 {
		return fmt.Errorf("API_RATE_LIMIT and API_BURST must be positive")
	}

	if c.EnableMCP && c.MCPAPIKeys == "" {
		return fmt.Errorf("MCP_API_KEYS is required when MCP is enabled")
	}

	return nil
}

func checkURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s is not a valid URL", name)
	}

	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}

	return fmt.Errorf("%s must use one of %s", name, strings.Join(schemes, ", "))
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ParseMCPAPIKeys parses the MCP_API_KEYS string.
// Format: "laptop:<bcrypt hash>,phone:<bcrypt hash>"
// Hashes come from `social-sync hash-key`.
func (c *Config) ParseMCPAPIKeys() ([]auth.KeyEntry, error) {
	if c.MCPAPIKeys == "" {
		return nil, nil
	}

	seen := make(map[string]struct{})

	var entries []auth.KeyEntry

	for _, pair := range strings.Split(c.MCPAPIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid API key entry (missing ':')")
		}

		name := pair[:idx]

		hash := pair[idx+1:]
		if name == "" || hash == "" {
			return nil, fmt.Errorf("empty name or hash in entry %d", len(entries)+1)
		}

		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("entry %d is not a bcrypt hash (use social-sync hash-key)", len(entries)+1)
		}

		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate key name %q in MCP_API_KEYS", name)
		}

		seen[name] = struct{}{}
		entries = append(entries, auth.KeyEntry{Name: name, Hash: hash})
	}

	return entries, nil
}
