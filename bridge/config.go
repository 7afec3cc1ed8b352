package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded defaults
const (
	DefaultContainerID    = "google-signin-button"
	DefaultLoadTimeout    = 15 * time.Second
	DefaultWebhookTimeout = 10 * time.Second
	DefaultHSTSMaxAge     = 31536000

	ReceiverStdout  = "stdout"
	ReceiverWebhook = "webhook"
)

// Config captures the full bridge configuration loaded from YAML and environment variables.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Google GoogleConfig `yaml:"google"`
	Flows  FlowsConfig  `yaml:"flows"`
	Host   HostConfig   `yaml:"host"`
}

// ServerConfig controls listener and TLS concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	CacheDir   string   `yaml:"cache_dir"`
	HSTSMaxAge int      `yaml:"hsts_max_age"`
}

// GoogleConfig identifies the relying application to Google.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Issuer       string `yaml:"issuer"`
	ScriptURL    string `yaml:"script_url"`
	LoadTimeout  string `yaml:"load_timeout"`
}

// FlowsConfig tunes sign-in flow bookkeeping.
type FlowsConfig struct {
	FlowTTL    string   `yaml:"flow_ttl"`
	Containers []string `yaml:"containers"`
}

// HostConfig selects where credentials are delivered.
type HostConfig struct {
	Receiver       string `yaml:"receiver"`
	WebhookURL     string `yaml:"webhook_url"`
	WebhookTimeout string `yaml:"webhook_timeout"`
}

// TTL returns the configured flow TTL or the default.
func (f FlowsConfig) TTL() time.Duration {
	return parseDuration(f.FlowTTL, DefaultFlowTTL)
}

// Timeout returns the SDK load timeout or the default.
func (g GoogleConfig) Timeout() time.Duration {
	return parseDuration(g.LoadTimeout, DefaultLoadTimeout)
}

// Timeout returns the webhook timeout or the default.
func (h HostConfig) Timeout() time.Duration {
	return parseDuration(h.WebhookTimeout, DefaultWebhookTimeout)
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		sanitized := stripYAMLComments(b)

		decoder := yaml.NewDecoder(bytes.NewReader(sanitized))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating parent directories as needed.
func SaveConfig(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	var buf bytes.Buffer
	buf.WriteString("# gsibridge configuration\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	// Client secrets may be in here.
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			TLS: TLSConfig{
				Domains:    []string{"localhost"},
				CacheDir:   ".secrets/tls",
				HSTSMaxAge: DefaultHSTSMaxAge,
			},
		},
		Google: GoogleConfig{
			Issuer:      DefaultIssuer,
			ScriptURL:   DefaultScriptURL,
			LoadTimeout: DefaultLoadTimeout.String(),
		},
		Flows: FlowsConfig{
			FlowTTL:    DefaultFlowTTL.String(),
			Containers: []string{DefaultContainerID},
		},
		Host: HostConfig{
			Receiver:       ReceiverStdout,
			WebhookTimeout: DefaultWebhookTimeout.String(),
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"GSIBRIDGE_SERVER_PUBLIC_URL":      func(v string) { cfg.Server.PublicURL = v },
		"GSIBRIDGE_SERVER_DEV_LISTEN_ADDR": func(v string) { cfg.Server.DevListenAddr = v },
		"GSIBRIDGE_SERVER_DEV_MODE":        func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"GSIBRIDGE_SERVER_TLS_DOMAINS":     func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"GSIBRIDGE_SERVER_TLS_EMAIL":       func(v string) { cfg.Server.TLS.Email = v },
		"GSIBRIDGE_GOOGLE_CLIENT_ID":       func(v string) { cfg.Google.ClientID = v },
		"GSIBRIDGE_GOOGLE_CLIENT_SECRET":   func(v string) { cfg.Google.ClientSecret = v },
		"GSIBRIDGE_FLOWS_CONTAINERS":       func(v string) { cfg.Flows.Containers = splitAndTrim(v) },
		"GSIBRIDGE_HOST_RECEIVER":          func(v string) { cfg.Host.Receiver = v },
		"GSIBRIDGE_HOST_WEBHOOK_URL":       func(v string) { cfg.Host.WebhookURL = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isHTTPURL(v string) bool {
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		slog.Error("Missing required configuration", "field", "server.public_url")
		return errors.New("server.public_url is required")
	}
	if !isHTTPURL(c.Server.PublicURL) {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	// The application identifier is provisioned out of band and never defaulted.
	if strings.TrimSpace(c.Google.ClientID) == "" {
		slog.Error("Missing required configuration", "field", "google.client_id")
		return errors.New("google.client_id is required")
	}
	if !isHTTPURL(c.Google.Issuer) {
		slog.Error("Invalid configuration value", "field", "google.issuer", "value", c.Google.Issuer)
		return fmt.Errorf("google.issuer must start with http:// or https://, got: %s", c.Google.Issuer)
	}
	if !isHTTPURL(c.Google.ScriptURL) {
		slog.Error("Invalid configuration value", "field", "google.script_url", "value", c.Google.ScriptURL)
		return fmt.Errorf("google.script_url must start with http:// or https://, got: %s", c.Google.ScriptURL)
	}

	durations := map[string]string{
		"google.load_timeout":  c.Google.LoadTimeout,
		"flows.flow_ttl":       c.Flows.FlowTTL,
		"host.webhook_timeout": c.Host.WebhookTimeout,
	}
	for field, val := range durations {
		if val == "" {
			continue
		}
		if d, err := time.ParseDuration(val); err != nil || d <= 0 {
			slog.Error("Invalid duration", "field", field, "value", val)
			return fmt.Errorf("%s: invalid duration '%s'", field, val)
		}
	}

	if len(c.Flows.Containers) == 0 {
		slog.Error("Missing required configuration", "field", "flows.containers")
		return errors.New("flows.containers must list at least one container id")
	}
	for i, id := range c.Flows.Containers {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("flows.containers[%d]: container id is empty", i)
		}
	}

	switch c.Host.Receiver {
	case ReceiverStdout:
	case ReceiverWebhook:
		if !isHTTPURL(c.Host.WebhookURL) {
			slog.Error("Invalid webhook URL", "field", "host.webhook_url", "value", c.Host.WebhookURL)
			return fmt.Errorf("host.webhook_url must start with http:// or https:// when receiver is webhook, got: %q", c.Host.WebhookURL)
		}
	default:
		slog.Error("Unknown receiver", "field", "host.receiver", "value", c.Host.Receiver, "valid_values", []string{ReceiverStdout, ReceiverWebhook})
		return fmt.Errorf("host.receiver must be '%s' or '%s', got: %q", ReceiverStdout, ReceiverWebhook, c.Host.Receiver)
	}

	return nil
}
