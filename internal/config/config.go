package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultBackendURL is used when neither the config file nor the environment
// names a backend.
const DefaultBackendURL = "http://backend:5000"

// DefaultTimeout bounds each backend call.
const DefaultTimeout = 5 * time.Second

// Environment variables consulted for the backend URL, in priority order.
var backendURLEnv = []string{"NEXT_PUBLIC_API_URL", "GATECHECK_API_URL"}

// Duration is a time.Duration that unmarshals from a YAML string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// DegradedPolicy decides what an activation does when the backend answers the
// health probe with a declared state other than "healthy".
type DegradedPolicy string

const (
	// DegradedIgnore leaves the state untouched and ends the activation.
	DegradedIgnore DegradedPolicy = "ignore"
	// DegradedFail records a terminal failure.
	DegradedFail DegradedPolicy = "fail"
	// DegradedPass treats the backend as healthy and fetches the message.
	DegradedPass DegradedPolicy = "pass"
)

var validPolicies = map[DegradedPolicy]bool{
	DegradedIgnore: true,
	DegradedFail:   true,
	DegradedPass:   true,
}

// Endpoint is the immutable per-activation view of the backend.
type Endpoint struct {
	BaseURL string
	Timeout time.Duration
}

// URL joins the base URL with an API path.
func (e Endpoint) URL(path string) string {
	return strings.TrimRight(e.BaseURL, "/") + path
}

// BackendConfig describes the remote service being gated.
type BackendConfig struct {
	URL            string         `yaml:"url"`
	Timeout        Duration       `yaml:"timeout"`
	DegradedPolicy DegradedPolicy `yaml:"degraded_policy"`
}

// Endpoint returns the endpoint value handed to each activation.
func (b BackendConfig) Endpoint() Endpoint {
	return Endpoint{BaseURL: b.URL, Timeout: b.Timeout.Duration}
}

// WebhookConfig holds alert webhook settings.
type WebhookConfig struct {
	URL      string   `yaml:"url"`
	Cooldown Duration `yaml:"cooldown"`
}

// AlertsConfig holds all alert configuration.
type AlertsConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// StorageConfig holds storage settings. An empty path disables history.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// WatchConfig controls periodic re-activation. A zero interval disables it.
type WatchConfig struct {
	Interval Duration `yaml:"interval"`
}

// Config is the root application configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Watch   WatchConfig   `yaml:"watch"`
	Alerts  AlertsConfig  `yaml:"alerts"`
}

// Load reads the optional config file at path, applies environment overrides
// and defaults, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	type rawBackend struct {
		URL            string `yaml:"url"`
		Timeout        string `yaml:"timeout"`
		DegradedPolicy string `yaml:"degraded_policy"`
	}
	type rawWebhook struct {
		URL      string `yaml:"url"`
		Cooldown string `yaml:"cooldown"`
	}
	type rawConfig struct {
		Backend rawBackend     `yaml:"backend"`
		Server  ServerConfig   `yaml:"server"`
		Storage *StorageConfig `yaml:"storage"`
		Watch   struct {
			Interval string `yaml:"interval"`
		} `yaml:"watch"`
		Alerts struct {
			Webhook rawWebhook `yaml:"webhook"`
		} `yaml:"alerts"`
	}

	var raw rawConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	for _, key := range backendURLEnv {
		if v := os.Getenv(key); v != "" {
			raw.Backend.URL = v
			break
		}
	}

	// Apply defaults.
	if raw.Backend.URL == "" {
		raw.Backend.URL = DefaultBackendURL
	}
	if raw.Backend.DegradedPolicy == "" {
		raw.Backend.DegradedPolicy = string(DegradedIgnore)
	}
	if raw.Server.Address == "" {
		raw.Server.Address = ":3000"
	}
	if raw.Storage == nil {
		raw.Storage = &StorageConfig{Path: "gatecheck.db"}
	}

	cfg := &Config{
		Server:  raw.Server,
		Storage: *raw.Storage,
		Backend: BackendConfig{
			URL:            raw.Backend.URL,
			DegradedPolicy: DegradedPolicy(raw.Backend.DegradedPolicy),
		},
		Alerts: AlertsConfig{
			Webhook: WebhookConfig{URL: raw.Alerts.Webhook.URL},
		},
	}

	u, err := url.Parse(cfg.Backend.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("backend: invalid url %q (must be an absolute http or https URL)", cfg.Backend.URL)
	}

	if !validPolicies[cfg.Backend.DegradedPolicy] {
		return nil, fmt.Errorf("backend: invalid degraded_policy %q (must be ignore, fail, or pass)", cfg.Backend.DegradedPolicy)
	}

	timeout, err := parseDuration(raw.Backend.Timeout, DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("backend: invalid timeout %q: %w", raw.Backend.Timeout, err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("backend: timeout must be positive, got %s", timeout)
	}
	cfg.Backend.Timeout = Duration{timeout}

	interval, err := parseDuration(raw.Watch.Interval, 0)
	if err != nil {
		return nil, fmt.Errorf("watch: invalid interval %q: %w", raw.Watch.Interval, err)
	}
	if interval < 0 {
		return nil, fmt.Errorf("watch: interval must not be negative, got %s", interval)
	}
	cfg.Watch.Interval = Duration{interval}

	cooldown, err := parseDuration(raw.Alerts.Webhook.Cooldown, 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("alerts: invalid webhook cooldown %q: %w", raw.Alerts.Webhook.Cooldown, err)
	}
	cfg.Alerts.Webhook.Cooldown = Duration{cooldown}

	return cfg, nil
}

// Exists reports whether a config file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
