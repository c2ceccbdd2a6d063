// Package config holds the chat server settings: defaults, YAML file loading,
// CHAT_* environment overrides and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig configures the logger.
type LogConfig struct {
	// Level is one of zerolog's level names.
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
	// Dir enables daily rotated log files when non-empty.
	Dir string `yaml:"dir"`
}

// RedisConfig configures the optional Redis presence mirror.
type RedisConfig struct {
	// Addr enables the mirror when non-empty.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// Config is the chat server configuration.
type Config struct {
	// Addr is the TCP listen address.
	Addr string `yaml:"addr"`
	// MaxClients bounds concurrent connections; 0 means unlimited.
	MaxClients int64 `yaml:"max_clients"`

	MaxNicknameLength int      `yaml:"max_nickname_length"`
	ReservedNicknames []string `yaml:"reserved_nicknames"`
	// MaxHandshakeAttempts is the number of rejected nicknames tolerated on one
	// connection before it is closed.
	MaxHandshakeAttempts int           `yaml:"max_handshake_attempts"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	// HandshakeFailureLimit bounds rejected nicknames per remote host within
	// HandshakeFailureWindow; 0 disables the check.
	HandshakeFailureLimit  int           `yaml:"handshake_failure_limit"`
	HandshakeFailureWindow time.Duration `yaml:"handshake_failure_window"`

	// IdleTimeout disconnects members silent for that long; 0 disables it.
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	MaxLineLength int           `yaml:"max_line_length"`
	OutboxSize    int           `yaml:"outbox_size"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	Log   LogConfig   `yaml:"log"`
	Redis RedisConfig `yaml:"redis"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Addr:                   "localhost:12347",
		MaxClients:             0,
		MaxNicknameLength:      32,
		ReservedNicknames:      []string{"server", "system"},
		MaxHandshakeAttempts:   5,
		HandshakeTimeout:       time.Minute,
		HandshakeFailureLimit:  20,
		HandshakeFailureWindow: time.Minute,
		IdleTimeout:            0,
		WriteTimeout:           10 * time.Second,
		MaxLineLength:          4096,
		OutboxSize:             64,
		ShutdownGrace:          5 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Redis: RedisConfig{
			Key: "chat:presence",
		},
	}
}

// Load reads a YAML file on top of Default. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from CHAT_* variables found through lookup
// (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(name string, set func(int64)) {
		v, ok := lookup(name)
		if !ok || v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		set(n)
	}
	duration := func(name string, dst *time.Duration) {
		v, ok := lookup(name)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}

	str("CHAT_ADDR", &c.Addr)
	integer("CHAT_MAX_CLIENTS", func(n int64) { c.MaxClients = n })
	integer("CHAT_MAX_HANDSHAKE_ATTEMPTS", func(n int64) { c.MaxHandshakeAttempts = int(n) })
	duration("CHAT_HANDSHAKE_TIMEOUT", &c.HandshakeTimeout)
	duration("CHAT_IDLE_TIMEOUT", &c.IdleTimeout)
	if v, ok := lookup("CHAT_RESERVED_NICKNAMES"); ok {
		c.ReservedNicknames = splitList(v)
	}
	str("CHAT_LOG_LEVEL", &c.Log.Level)
	str("CHAT_LOG_FORMAT", &c.Log.Format)
	str("CHAT_LOG_DIR", &c.Log.Dir)
	str("CHAT_REDIS_ADDR", &c.Redis.Addr)
	str("CHAT_REDIS_PASSWORD", &c.Redis.Password)
	integer("CHAT_REDIS_DB", func(n int64) { c.Redis.DB = int(n) })
	str("CHAT_REDIS_KEY", &c.Redis.Key)

	return errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.MaxClients < 0 {
		errs = append(errs, errors.New("max_clients must be >= 0"))
	}
	if c.MaxNicknameLength < 1 {
		errs = append(errs, errors.New("max_nickname_length must be >= 1"))
	}
	if c.MaxHandshakeAttempts < 1 {
		errs = append(errs, errors.New("max_handshake_attempts must be >= 1"))
	}
	if c.HandshakeTimeout < 0 || c.IdleTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownGrace < 0 {
		errs = append(errs, errors.New("timeouts must be >= 0"))
	}
	if c.HandshakeFailureLimit < 0 {
		errs = append(errs, errors.New("handshake_failure_limit must be >= 0"))
	}
	if c.MaxLineLength < 64 {
		errs = append(errs, errors.New("max_line_length must be >= 64"))
	}
	if c.OutboxSize < 1 {
		errs = append(errs, errors.New("outbox_size must be >= 1"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	if c.Redis.Addr != "" && c.Redis.Key == "" {
		errs = append(errs, errors.New("redis.key must be set when redis.addr is"))
	}

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
