package config

import "testing"

func TestParse_DefaultsAndOverrides(t *testing.T) {
	data := []byte(`
log:
  level: debug
listeners:
  socks5:
    address: "127.0.0.1:1080"
router:
  dial_timeout: 5s
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("Log.Level = %s, want debug", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Fatalf("Log.Format = %s, want default text", cfg.Log.Format)
	}
	if cfg.Listeners.SOCKS5 == nil || cfg.Listeners.SOCKS5.Address != "127.0.0.1:1080" {
		t.Fatalf("Listeners.SOCKS5 = %+v, want address 127.0.0.1:1080", cfg.Listeners.SOCKS5)
	}
	if cfg.Router.DialTimeout.Seconds() != 5 {
		t.Fatalf("Router.DialTimeout = %v, want 5s", cfg.Router.DialTimeout)
	}
}

func TestParse_AppliesDefaultDialTimeout(t *testing.T) {
	data := []byte(`
listeners:
  socks5:
    address: "127.0.0.1:1080"
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Router.DialTimeout <= 0 {
		t.Fatalf("Router.DialTimeout = %v, want default applied", cfg.Router.DialTimeout)
	}
}

func TestParse_RejectsNoListeners(t *testing.T) {
	data := []byte(`
router:
  dial_timeout: 5s
`)
	if _, err := Parse(data); err == nil {
		t.Fatal("expected error when no listener is configured")
	}
}

func TestParse_RejectsMissingAddress(t *testing.T) {
	data := []byte(`
listeners:
  socks5:
    max_connections: 10
`)
	if _, err := Parse(data); err == nil {
		t.Fatal("expected error when a configured listener has no address")
	}
}

func TestParse_ExpandsEnvVars(t *testing.T) {
	t.Setenv("RELAYMUX_SOCKS5_ADDR", "127.0.0.1:1090")
	data := []byte(`
listeners:
  socks5:
    address: "${RELAYMUX_SOCKS5_ADDR}"
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Listeners.SOCKS5.Address != "127.0.0.1:1090" {
		t.Fatalf("address = %s, want expanded env var", cfg.Listeners.SOCKS5.Address)
	}
}
