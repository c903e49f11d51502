package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"
	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"

	"github.com/tphan267/pulse-relay/pkg/utils"
)

// Identity modes for WebSocket connections.
const (
	// AuthModeSession binds every socket to the user of a valid session token.
	AuthModeSession = "session"
	// AuthModeTrust accepts the senderId a client asserts in its first envelope.
	AuthModeTrust = "trust"
)

// Policies for a host join on a stream that already has a different host.
const (
	HostPolicyReject   = "reject"
	HostPolicyTransfer = "transfer"
)

var cfg *Config

// SeedUser is an account created at startup when missing.
type SeedUser struct {
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Role        string `yaml:"role"`
	DisplayName string `yaml:"display_name"`
	AvatarURL   string `yaml:"avatar_url"`
}

// ICEServer is the YAML form of a STUN/TURN server handed out to clients.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// Config holds the application configuration
type Config struct {
	ServerAddr string `yaml:"server_addr"`
	DBPath     string `yaml:"db_path"`
	LogLevel   string `yaml:"log_level"`

	WSPath              string        `yaml:"ws_path"`
	AuthMode            string        `yaml:"auth_mode"`             // "session" or "trust"
	DuplicateHostPolicy string        `yaml:"duplicate_host_policy"` // "reject" or "transfer"
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	PingInterval        time.Duration `yaml:"ping_interval"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	MaxMessageSize      int64         `yaml:"max_message_size"`
	SendQueueSize       int           `yaml:"send_queue_size"`
	RateLimit           float64       `yaml:"rate_limit"` // envelopes per second, 0 disables
	RateBurst           int           `yaml:"rate_burst"`
	ValidateSignaling   bool          `yaml:"validate_signaling"`
	AllowedOrigins      []string      `yaml:"allowed_origins"`

	SessionTTL time.Duration `yaml:"session_ttl"`
	Users      []SeedUser    `yaml:"users"`

	ICEServers []ICEServer `yaml:"ice_servers"`

	Version string `yaml:"-"`

	mu   sync.Mutex `yaml:"-"`
	file string     `yaml:"-"`
}

// GetServerPort returns the port part of ServerAddr
func (c *Config) GetServerPort() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := strings.LastIndex(c.ServerAddr, ":")
	if idx < 0 {
		return ""
	}
	return c.ServerAddr[idx+1:]
}

// File returns the path the configuration was loaded from
func (c *Config) File() string {
	return c.file
}

// Save writes the current configuration back to the file
func (c *Config) Save() error {
	if c.file == "" {
		return fmt.Errorf("config file path is not set")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.file, data, 0o600)
}

// EnsureDefaultConfig applies PULSE_* environment overrides and fills defaults
// for missing fields. When save is set and a default was filled in, the file
// is rewritten.
func (c *Config) EnsureDefaultConfig(save bool) error {
	changed := false
	c.mu.Lock()

	// Env overrides
	if addr := utils.Env("PULSE_SERVER_ADDR", ""); addr != "" {
		c.ServerAddr = addr
	}
	if dbPath := utils.Env("PULSE_DB_PATH", ""); dbPath != "" {
		c.DBPath = dbPath
	}
	if logLevel := utils.Env("PULSE_LOG_LEVEL", ""); logLevel != "" {
		c.LogLevel = logLevel
	}
	if mode := utils.Env("PULSE_AUTH_MODE", ""); mode != "" {
		c.AuthMode = mode
	}
	if policy := utils.Env("PULSE_DUPLICATE_HOST_POLICY", ""); policy != "" {
		c.DuplicateHostPolicy = policy
	}
	c.IdleTimeout = utils.EnvDuration("PULSE_IDLE_TIMEOUT", c.IdleTimeout)
	if origins := utils.SplitList(utils.Env("PULSE_ALLOWED_ORIGINS", "")); len(origins) > 0 {
		c.AllowedOrigins = origins
	}

	// Create defaults
	if c.ServerAddr == "" {
		c.ServerAddr = ":3040"
		changed = true
	}
	if c.DBPath == "" {
		dir := "."
		if c.file != "" {
			dir = filepath.Dir(c.file)
		}
		c.DBPath = filepath.Join(dir, "pulse.db")
		changed = true
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
		changed = true
	}
	if c.WSPath == "" {
		c.WSPath = "/ws"
		changed = true
	}
	if c.AuthMode == "" {
		c.AuthMode = AuthModeSession
		changed = true
	}
	if c.DuplicateHostPolicy == "" {
		c.DuplicateHostPolicy = HostPolicyReject
		changed = true
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
		changed = true
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.IdleTimeout {
		c.PingInterval = c.IdleTimeout * 9 / 10
		changed = true
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
		changed = true
	}
	if c.MaxMessageSize <= 0 {
		// video_frame snapshots are base64 JPEGs
		c.MaxMessageSize = 1 << 20
		changed = true
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
		changed = true
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = int(c.RateLimit * 2)
		changed = true
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
		changed = true
	}

	c.mu.Unlock()

	if changed && save && c.file != "" {
		return c.Save()
	}
	return nil
}

// Validate checks enumerated values and ICE server URLs
func (c *Config) Validate() error {
	var errs []error

	switch c.AuthMode {
	case AuthModeSession, AuthModeTrust:
	default:
		errs = append(errs, fmt.Errorf("auth_mode must be %q or %q, got %q", AuthModeSession, AuthModeTrust, c.AuthMode))
	}

	switch c.DuplicateHostPolicy {
	case HostPolicyReject, HostPolicyTransfer:
	default:
		errs = append(errs, fmt.Errorf("duplicate_host_policy must be %q or %q, got %q", HostPolicyReject, HostPolicyTransfer, c.DuplicateHostPolicy))
	}

	if !strings.HasPrefix(c.WSPath, "/") {
		errs = append(errs, fmt.Errorf("ws_path must start with '/', got %q", c.WSPath))
	}

	if err := validateICEServers(c.ICEServers); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ConfigInstance returns the global config instance
func ConfigInstance() *Config {
	return cfg
}

// Load loads configuration from the specified file and environment variables.
// A missing file is created with defaults.
func Load(version, file, logLevel string) (*Config, error) {
	_ = godotenv.Load(".env")

	c := &Config{
		Version: version,
		file:    file,
	}

	if file != "" {
		if _, err := os.Stat(file); err == nil {
			yamlFeeder := feeder.Yaml{Path: file}
			if err := config.New().AddFeeder(yamlFeeder).AddStruct(c).Feed(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", file, err)
			}
		}
	}

	if err := c.EnsureDefaultConfig(true); err != nil {
		return nil, err
	}

	// Override log level from command-line argument
	if logLevel != "" {
		c.LogLevel = logLevel
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg = c
	return c, nil
}
