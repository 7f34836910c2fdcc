// Package config loads casedesk settings from YAML with CASEDESK_ environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	API     APIConfig     `yaml:"api"`
	Channel ChannelConfig `yaml:"channel"`
	Cache   CacheConfig   `yaml:"cache"`
	Server  ServerConfig  `yaml:"server"`
	Relay   RelayConfig   `yaml:"relay"`
}

// APIConfig points the desk at the bulk API.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type ChannelConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// CacheConfig selects the detail cache. An empty RedisURL keeps details in
// memory.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	ListenAddr  string        `yaml:"listen_addr"`
	DatabaseURL string        `yaml:"database_url"`
	JWTSecret   string        `yaml:"jwt_secret"`
	OfferTTL    time.Duration `yaml:"offer_ttl"`
	ExpiryEvery time.Duration `yaml:"expiry_every"`

	// Connection pool bounds for the API server.
	DBMaxConns    int32         `yaml:"db_max_conns"`
	DBMinConns    int32         `yaml:"db_min_conns"`
	DBMaxConnIdle time.Duration `yaml:"db_max_conn_idle"`
}

type RelayConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Batch       int           `yaml:"batch"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Default returns a configuration suitable for a local stack.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path if it exists, applies CASEDESK_ overrides and fills
// defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &c); err != nil {
				return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
			}
		}
	}
	if err := applyEnvOverrides(&c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return &c, nil
}

// LoadEnvFile exports a .env file into the process environment without
// overriding variables that are already set. A missing file is ignored.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load env file %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(c *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("CASEDESK_API_BASE_URL", &c.API.BaseURL)
	setString("CASEDESK_API_TOKEN", &c.API.Token)
	setString("CASEDESK_CHANNEL_URL", &c.Channel.URL)
	setString("CASEDESK_REDIS_URL", &c.Cache.RedisURL)
	setString("CASEDESK_LISTEN_ADDR", &c.Server.ListenAddr)
	setString("CASEDESK_JWT_SECRET", &c.Server.JWTSecret)
	setString("DATABASE_URL", &c.Server.DatabaseURL)
	setString("CASEDESK_DATABASE_URL", &c.Server.DatabaseURL)

	durations := map[string]*time.Duration{
		"CASEDESK_API_TIMEOUT":             &c.API.Timeout,
		"CASEDESK_CHANNEL_RECONNECT_DELAY": &c.Channel.ReconnectDelay,
		"CASEDESK_CACHE_TTL":               &c.Cache.TTL,
		"CASEDESK_OFFER_TTL":               &c.Server.OfferTTL,
		"CASEDESK_RELAY_INTERVAL":          &c.Relay.Interval,
		"CASEDESK_DB_MAX_CONN_IDLE":        &c.Server.DBMaxConnIdle,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
	}

	if v := os.Getenv("CASEDESK_RELAY_BATCH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: CASEDESK_RELAY_BATCH: %w", err)
		}
		c.Relay.Batch = n
	}

	conns := map[string]*int32{
		"CASEDESK_DB_MAX_CONNS": &c.Server.DBMaxConns,
		"CASEDESK_DB_MIN_CONNS": &c.Server.DBMinConns,
	}
	for key, dst := range conns {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = int32(n)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:8080"
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.Timeout <= 0 {
		c.API.Timeout = 10 * time.Second
	}
	if c.Channel.URL == "" {
		c.Channel.URL = websocketURL(c.API.BaseURL) + "/ws"
	}
	if c.Channel.ReconnectDelay <= 0 {
		c.Channel.ReconnectDelay = 5 * time.Second
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 30 * time.Minute
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.OfferTTL <= 0 {
		c.Server.OfferTTL = 14 * 24 * time.Hour
	}
	if c.Server.ExpiryEvery <= 0 {
		c.Server.ExpiryEvery = time.Hour
	}
	if c.Server.DBMaxConns <= 0 {
		c.Server.DBMaxConns = 16
	}
	if c.Server.DBMaxConnIdle <= 0 {
		c.Server.DBMaxConnIdle = 5 * time.Minute
	}
	if c.Relay.Interval <= 0 {
		c.Relay.Interval = 200 * time.Millisecond
	}
	if c.Relay.Batch <= 0 {
		c.Relay.Batch = 50
	}
	if c.Relay.MaxAttempts <= 0 {
		c.Relay.MaxAttempts = 5
	}
}

func websocketURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return httpURL
	}
}
