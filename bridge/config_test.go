package bridge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `# bridge settings
server:
  public_url: http://localhost:8080
  dev_mode: true
google:
  client_id: from-file.apps.googleusercontent.com
flows:
  flow_ttl: 5m
`)

	t.Setenv("GSIBRIDGE_SERVER_PUBLIC_URL", "https://bridge.example.com")
	t.Setenv("GSIBRIDGE_GOOGLE_CLIENT_ID", "from-env.apps.googleusercontent.com")
	t.Setenv("GSIBRIDGE_FLOWS_CONTAINERS", " main , sidebar ,")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Server.PublicURL != "https://bridge.example.com" {
		t.Fatalf("PublicURL override mismatch, got %q", cfg.Server.PublicURL)
	}
	if cfg.Google.ClientID != "from-env.apps.googleusercontent.com" {
		t.Fatalf("ClientID override mismatch, got %q", cfg.Google.ClientID)
	}
	if len(cfg.Flows.Containers) != 2 || cfg.Flows.Containers[1] != "sidebar" {
		t.Fatalf("Containers override mismatch, got %v", cfg.Flows.Containers)
	}
	if cfg.Flows.TTL() != 5*time.Minute {
		t.Fatalf("flow ttl = %s", cfg.Flows.TTL())
	}
	if cfg.Google.Issuer != DefaultIssuer || cfg.Google.Timeout() != DefaultLoadTimeout {
		t.Fatalf("defaults should survive partial config: %+v", cfg.Google)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `google:
  client_id: app
  clientid_typo: nope
`)
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestConfigValidateRequiresClientID(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "google.client_id") {
		t.Fatalf("expected client_id error, got %v", err)
	}

	cfg.Google.ClientID = "app"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config with client id should validate: %v", err)
	}
}

func TestConfigValidateReceiver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Google.ClientID = "app"

	cfg.Host.Receiver = ReceiverWebhook
	if err := cfg.Validate(); err == nil {
		t.Fatalf("webhook receiver without url should fail")
	}
	cfg.Host.WebhookURL = "http://127.0.0.1:9000/credentials"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("webhook receiver with url should validate: %v", err)
	}

	cfg.Host.Receiver = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown receiver should fail")
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"public url scheme": func(c *Config) { c.Server.PublicURL = "bridge.example.com" },
		"production tls":    func(c *Config) { c.Server.DevMode = false; c.Server.TLS.Domains = nil },
		"issuer":            func(c *Config) { c.Google.Issuer = "accounts.google.com" },
		"flow ttl":          func(c *Config) { c.Flows.FlowTTL = "-1m" },
		"load timeout":      func(c *Config) { c.Google.LoadTimeout = "soon" },
		"no containers":     func(c *Config) { c.Flows.Containers = nil },
		"blank container":   func(c *Config) { c.Flows.Containers = []string{"main", " "} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Google.ClientID = "app"
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestSplitAndTrimRemovesEmpty(t *testing.T) {
	out := splitAndTrim(" a , ,b,, c ")
	expected := []string{"a", "b", "c"}
	if len(out) != len(expected) {
		t.Fatalf("unexpected length: got %d want %d", len(out), len(expected))
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("element %d mismatch: got %q want %q", i, out[i], expected[i])
		}
	}
}

func TestParseBoolFallback(t *testing.T) {
	if parseBool("", true) != true {
		t.Fatalf("empty input should return fallback true")
	}
	if parseBool("invalid", false) != false {
		t.Fatalf("invalid input should return fallback false")
	}
	if parseBool("YES", false) != true {
		t.Fatalf("expected true for yes")
	}
	if parseBool("off", true) != false {
		t.Fatalf("expected false for off")
	}
}

func TestParseDurationFallback(t *testing.T) {
	if got := parseDuration("", time.Second); got != time.Second {
		t.Fatalf("empty input should return fallback, got %s", got)
	}
	if got := parseDuration("90s", time.Second); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
}

func TestStripYAMLComments(t *testing.T) {
	out := string(stripYAMLComments([]byte("# top\nserver:\n  # nested\n  dev_mode: true\n")))
	if strings.Contains(out, "#") {
		t.Fatalf("comments should be removed: %q", out)
	}
	if !strings.Contains(out, "dev_mode: true") {
		t.Fatalf("content should be kept: %q", out)
	}
}

func TestSaveConfigRoundTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Google.ClientID = "app.apps.googleusercontent.com"
	cfg.Flows.Containers = []string{"main", "sidebar"}
	cfg.Host.Receiver = ReceiverWebhook
	cfg.Host.WebhookURL = "http://127.0.0.1:9000/credentials"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig returned error: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("saved config should load: %v", err)
	}
	if got.Google.ClientID != cfg.Google.ClientID || got.Host.WebhookURL != cfg.Host.WebhookURL {
		t.Fatalf("round trip lost values: %+v", got)
	}
	if strings.Join(got.Flows.Containers, ",") != "main,sidebar" {
		t.Fatalf("containers = %v", got.Flows.Containers)
	}
}

func TestSaveConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := SaveConfig(path, DefaultConfig()); err == nil {
		t.Fatalf("config without client id should not be saved")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("nothing should be written, stat err = %v", err)
	}
}
