package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if c.Channel.ReconnectDelay != 5*time.Second {
		t.Fatalf("expected 5s reconnect delay, got %v", c.Channel.ReconnectDelay)
	}
	if c.Channel.URL != "ws://localhost:8080/ws" {
		t.Fatalf("expected channel url derived from api, got %q", c.Channel.URL)
	}
}

func TestLoad_YAMLAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casedesk.yaml")
	body := `
api:
  base_url: https://desk.example.com/
  timeout: 3s
channel:
  reconnect_delay: 250ms
relay:
  batch: 7
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CASEDESK_API_TOKEN", "tok")
	t.Setenv("CASEDESK_RELAY_BATCH", "9")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if c.API.BaseURL != "https://desk.example.com" || c.API.Timeout != 3*time.Second {
		t.Fatalf("unexpected api config %+v", c.API)
	}
	if c.Channel.URL != "wss://desk.example.com/ws" || c.Channel.ReconnectDelay != 250*time.Millisecond {
		t.Fatalf("unexpected channel config %+v", c.Channel)
	}
	if c.API.Token != "tok" || c.Relay.Batch != 9 {
		t.Fatalf("expected env overrides, got token=%q batch=%d", c.API.Token, c.Relay.Batch)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("CASEDESK_CACHE_TTL", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CASEDESK_LISTEN_ADDR=:9999\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("CASEDESK_LISTEN_ADDR", "")
	os.Unsetenv("CASEDESK_LISTEN_ADDR")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	c, err := Load("")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if c.Server.ListenAddr != ":9999" {
		t.Fatalf("expected listen addr from env file, got %q", c.Server.ListenAddr)
	}
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected missing env file to be ignored, got %v", err)
	}
}

func TestLoad_DatabasePoolSettings(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if c.Server.DBMaxConns != 16 || c.Server.DBMaxConnIdle != 5*time.Minute {
		t.Fatalf("expected default pool settings, got %d %v", c.Server.DBMaxConns, c.Server.DBMaxConnIdle)
	}

	t.Setenv("CASEDESK_DB_MAX_CONNS", "40")
	t.Setenv("CASEDESK_DB_MIN_CONNS", "4")
	t.Setenv("CASEDESK_DB_MAX_CONN_IDLE", "90s")
	c, err = Load("")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if c.Server.DBMaxConns != 40 || c.Server.DBMinConns != 4 || c.Server.DBMaxConnIdle != 90*time.Second {
		t.Fatalf("expected env pool settings, got %+v", c.Server)
	}

	t.Setenv("CASEDESK_DB_MAX_CONNS", "many")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric max conns")
	}
}
