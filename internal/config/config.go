package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all environment-based configuration for the realtime
// client daemon.
type Config struct {
	// Push endpoint, action sync endpoint, and identity.
	WSURL         string `env:"PLAZA_WS_URL"`
	SyncURL       string `env:"PLAZA_SYNC_URL"`
	IdentityToken string `env:"PLAZA_IDENTITY_TOKEN"`

	// Reconnect policy.
	AutoReconnect        bool          `env:"AUTO_RECONNECT" envDefault:"true"`
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS" envDefault:"8"`
	ReconnectBaseDelay   time.Duration `env:"RECONNECT_BASE_DELAY" envDefault:"1s"`

	// Heartbeat policy.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"90s"`

	// Queue bounds.
	OutboundQueueCapacity int `env:"OUTBOUND_QUEUE_CAPACITY" envDefault:"100"`
	ActionRetryCap        int `env:"ACTION_RETRY_CAP" envDefault:"5"`

	// StatePath is the bbolt database for the offline action queue and
	// session cursor. Empty means the default under the home directory.
	StatePath string `env:"STATE_PATH"`

	// SubscriptionsFile optionally declares startup subscriptions.
	SubscriptionsFile string `env:"SUBSCRIPTIONS_FILE"`

	// Environment controls log format; LogLevel the production level.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from environment variables. It first
// attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.WSURL == "" {
		return fmt.Errorf("PLAZA_WS_URL is required")
	}

	if c.SyncURL == "" {
		return fmt.Errorf("PLAZA_SYNC_URL is required")
	}

	if c.IdentityToken == "" {
		return fmt.Errorf("PLAZA_IDENTITY_TOKEN is required")
	}

	if c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must be at least 1")
	}

	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("RECONNECT_BASE_DELAY must be positive")
	}

	if c.OutboundQueueCapacity < 1 {
		return fmt.Errorf("OUTBOUND_QUEUE_CAPACITY must be at least 1")
	}

	return nil
}

// ManifestSubscription declares one startup subscription in the
// subscriptions manifest.
type ManifestSubscription struct {
	TopicType string `yaml:"topic_type"`
	Target    string `yaml:"target"`
	Filters   *struct {
		EventTypes []string `yaml:"event_types"`
		Priorities []string `yaml:"priorities"`
	} `yaml:"filters"`
}

// manifest is the on-disk shape of the subscriptions file.
type manifest struct {
	Subscriptions []ManifestSubscription `yaml:"subscriptions"`
}

// validTopicTypes mirrors the topic taxonomy of the core.
var validTopicTypes = map[string]bool{
	"feed":         true,
	"community":    true,
	"conversation": true,
	"user":         true,
	"global":       true,
}

// LoadSubscriptions parses the YAML subscriptions manifest at path.
// Entries with an unknown topic type or empty target are rejected so a
// typo does not silently drop a subscription.
func LoadSubscriptions(path string) ([]ManifestSubscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading subscriptions manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing subscriptions manifest: %w", err)
	}

	for i, sub := range m.Subscriptions {
		if !validTopicTypes[sub.TopicType] {
			return nil, fmt.Errorf("subscription %d: unknown topic type %q", i, sub.TopicType)
		}

		if sub.TopicType != "global" && sub.Target == "" {
			return nil, fmt.Errorf("subscription %d: target is required for topic type %q", i, sub.TopicType)
		}
	}

	return m.Subscriptions, nil
}
