// Package config loads the pagewatch configuration from a YAML or TOML
// file plus environment overrides. A Config is built once at startup and
// handed to components by value; nothing reads the environment later.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pagewatch/engine"
	"github.com/hazyhaar/pagewatch/extract"
	"github.com/hazyhaar/pagewatch/fingerprint"
)

// Config is the top-level pagewatch configuration.
type Config struct {
	WatchID           string        `yaml:"watch_id" toml:"watch_id" json:"watch_id"`
	TargetURL         string        `yaml:"target_url" toml:"target_url" json:"target_url"`
	ContainerSelector string        `yaml:"container_selector" toml:"container_selector" json:"container_selector"`
	ItemSelector      string        `yaml:"item_selector" toml:"item_selector" json:"item_selector"`
	StatePath         string        `yaml:"state_path" toml:"state_path" json:"state_path"`
	Hash              string        `yaml:"hash" toml:"hash" json:"hash"`
	Baseline          string        `yaml:"baseline" toml:"baseline" json:"baseline"`
	Fetch             FetchConfig   `yaml:"fetch" toml:"fetch" json:"fetch"`
	Notify            NotifyConfig  `yaml:"notify" toml:"notify" json:"notify"`
	Metrics           MetricsConfig `yaml:"metrics" toml:"metrics" json:"metrics"`
	Serve             ServeConfig   `yaml:"serve" toml:"serve" json:"serve"`
	Log               LogConfig     `yaml:"log" toml:"log" json:"log"`
}

// FetchConfig controls document retrieval.
type FetchConfig struct {
	Timeout      Duration      `yaml:"timeout" toml:"timeout" json:"timeout"`
	MaxBytes     int64         `yaml:"max_bytes" toml:"max_bytes" json:"max_bytes"`
	UserAgent    string        `yaml:"user_agent" toml:"user_agent" json:"user_agent"`
	AllowPrivate bool          `yaml:"allow_private" toml:"allow_private" json:"allow_private"`
	Browser      BrowserConfig `yaml:"browser" toml:"browser" json:"browser"`
}

// BrowserConfig enables the headless Chrome fetcher.
type BrowserConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Remote  string `yaml:"remote" toml:"remote" json:"remote"`
}

// NotifyConfig lists the gateways. Every configured gateway receives each
// event; with none configured events are only logged.
type NotifyConfig struct {
	Webhook  WebhookConfig  `yaml:"webhook" toml:"webhook" json:"webhook"`
	Telegram TelegramConfig `yaml:"telegram" toml:"telegram" json:"telegram"`
	SMTP     SMTPConfig     `yaml:"smtp" toml:"smtp" json:"smtp"`
	Kafka    KafkaConfig    `yaml:"kafka" toml:"kafka" json:"kafka"`
}

type WebhookConfig struct {
	URL    string `yaml:"url" toml:"url" json:"url"`
	Secret string `yaml:"secret" toml:"secret" json:"-"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token" toml:"bot_token" json:"-"`
	ChatID   string `yaml:"chat_id" toml:"chat_id" json:"chat_id"`
	APIBase  string `yaml:"api_base" toml:"api_base" json:"api_base"`
}

type SMTPConfig struct {
	Host     string   `yaml:"host" toml:"host" json:"host"`
	Port     int      `yaml:"port" toml:"port" json:"port"`
	Username string   `yaml:"username" toml:"username" json:"username"`
	Password string   `yaml:"password" toml:"password" json:"-"`
	From     string   `yaml:"from" toml:"from" json:"from"`
	To       []string `yaml:"to" toml:"to" json:"to"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" toml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" toml:"topic" json:"topic"`
}

// MetricsConfig configures the optional Prometheus pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" toml:"pushgateway_url" json:"pushgateway_url"`
	Job            string `yaml:"job" toml:"job" json:"job"`
}

type ServeConfig struct {
	Addr string `yaml:"addr" toml:"addr" json:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`   // debug | info | warn | error
	Format string `yaml:"format" toml:"format" json:"format"` // json | text
}

// Duration accepts "30s"-style strings in YAML and TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// DefaultSMTPHost is used when mail credentials come from the environment
// without a host.
const DefaultSMTPHost = "mail.gmx.net"

// Load reads path (YAML, or TOML for a .toml extension), applies
// environment overrides and defaults. An empty path builds the
// configuration from the environment alone. Load does not validate.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, getenv func(string) string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(getenv)
	cfg.applyDefaults()
	return &cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.WatchID, "PAGEWATCH_WATCH_ID")
	set(&c.TargetURL, "PAGEWATCH_TARGET_URL")
	set(&c.ContainerSelector, "PAGEWATCH_CONTAINER_SELECTOR")
	set(&c.ItemSelector, "PAGEWATCH_ITEM_SELECTOR")
	set(&c.StatePath, "PAGEWATCH_STATE_PATH")
	set(&c.Notify.Webhook.Secret, "PAGEWATCH_WEBHOOK_SECRET")
	set(&c.Notify.Telegram.BotToken, "PAGEWATCH_TELEGRAM_TOKEN")
	set(&c.Notify.SMTP.Host, "PAGEWATCH_SMTP_HOST")

	// Mail credentials as the standalone checker script took them.
	if user := strings.TrimSpace(getenv("EMAIL_USER")); user != "" {
		c.Notify.SMTP.Username = user
		if c.Notify.SMTP.From == "" {
			c.Notify.SMTP.From = user
		}
		if c.Notify.SMTP.Host == "" {
			c.Notify.SMTP.Host = DefaultSMTPHost
		}
	}
	set(&c.Notify.SMTP.Password, "EMAIL_PASS")
	if rcpt := getenv("EMAIL_RECEIVER"); strings.TrimSpace(rcpt) != "" {
		c.Notify.SMTP.To = splitList(rcpt)
	}
}

func (c *Config) applyDefaults() {
	if c.WatchID == "" {
		c.WatchID = "default"
	}
	if c.Hash == "" {
		c.Hash = string(fingerprint.Default)
	}
	if c.Baseline == "" {
		c.Baseline = "notify"
	}
	if c.Fetch.Timeout.Duration <= 0 {
		c.Fetch.Timeout.Duration = 30 * time.Second
	}
	if c.Fetch.MaxBytes == 0 {
		c.Fetch.MaxBytes = 10 << 20
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "pagewatch/1.0"
	}
	if c.Notify.SMTP.Host != "" && c.Notify.SMTP.Port == 0 {
		c.Notify.SMTP.Port = 587
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = "pagewatch"
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// ErrInvalidConfig matches every *ValidationError.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// ValidationError lists every problem found, not just the first.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, strings.Join(e.Invalid, "; "))
	}
	return "config: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidConfig }

// Validate checks required fields and the syntax of every set option.
func (c *Config) Validate() error {
	ve := &ValidationError{}
	required := []struct{ key, val string }{
		{"target_url", c.TargetURL},
		{"container_selector", c.ContainerSelector},
		{"item_selector", c.ItemSelector},
		{"state_path", c.StatePath},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			ve.Missing = append(ve.Missing, r.key)
		}
	}
	invalid := func(format string, args ...any) {
		ve.Invalid = append(ve.Invalid, fmt.Sprintf(format, args...))
	}

	if c.TargetURL != "" {
		if u, err := url.Parse(c.TargetURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			invalid("target_url %q is not an absolute http(s) URL", c.TargetURL)
		}
	}
	if c.ContainerSelector != "" {
		if _, err := extract.ParseSelector(c.ContainerSelector); err != nil {
			invalid("container_selector: %v", err)
		}
	}
	if c.ItemSelector != "" && c.ItemSelector != extract.ScopeItem {
		if _, err := extract.ParseSelector(c.ItemSelector); err != nil {
			invalid("item_selector: %v", err)
		}
	}
	if _, err := fingerprint.ParseAlgorithm(c.Hash); err != nil {
		invalid("hash: %v", err)
	}
	if _, err := engine.ParseBaseline(c.Baseline); err != nil {
		invalid("baseline: %v", err)
	}
	if c.Fetch.MaxBytes < 0 {
		invalid("fetch.max_bytes must be positive")
	}

	n := c.Notify
	if n.Webhook.URL != "" {
		if u, err := url.Parse(n.Webhook.URL); err != nil || u.Host == "" {
			invalid("notify.webhook.url %q is not a URL", n.Webhook.URL)
		}
	}
	if (n.Telegram.BotToken == "") != (n.Telegram.ChatID == "") {
		invalid("notify.telegram needs both bot_token and chat_id")
	}
	if n.SMTP.Host != "" && len(n.SMTP.To) == 0 {
		invalid("notify.smtp.to is empty")
	}
	if n.SMTP.Port < 0 || n.SMTP.Port > 65535 {
		invalid("notify.smtp.port %d out of range", n.SMTP.Port)
	}
	if len(n.Kafka.Brokers) > 0 && n.Kafka.Topic == "" {
		invalid("notify.kafka.topic is empty")
	}

	if _, err := c.LogLevel(); err != nil {
		invalid("log.level: %v", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		invalid("log.format %q (want json or text)", c.Log.Format)
	}

	if len(ve.Missing) > 0 || len(ve.Invalid) > 0 {
		return ve
	}
	return nil
}

// Target returns the extraction target.
func (c *Config) Target() extract.Target {
	return extract.Target{Container: c.ContainerSelector, Item: c.ItemSelector}
}

// Algorithm returns the configured digest algorithm, or the default when
// the name is unknown. Validate reports unknown names.
func (c *Config) Algorithm() fingerprint.Algorithm {
	a, err := fingerprint.ParseAlgorithm(c.Hash)
	if err != nil {
		return fingerprint.Default
	}
	return a
}

// BaselinePolicy returns the first-run policy.
func (c *Config) BaselinePolicy() engine.Baseline {
	b, _ := engine.ParseBaseline(c.Baseline)
	return b
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, err
	}
	return l, nil
}

// Summary returns non-secret fields for logging.
func (c *Config) Summary() []any {
	return []any{
		"watch_id", c.WatchID,
		"target_url", c.TargetURL,
		"container", c.ContainerSelector,
		"item", c.ItemSelector,
		"state", redactURL(c.StatePath),
		"hash", c.Hash,
		"baseline", c.Baseline,
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// redactURL hides the password of a state URL such as postgres://u:pw@h/db.
func redactURL(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}
	if _, ok := u.User.Password(); ok {
		return u.Redacted()
	}
	return s
}
