// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN; required for OTP and contact persistence.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// APIKey is the shared secret callers must send in the X-Api-Key header.
	APIKey string `mapstructure:"API_KEY"`
	// BridgeURL is the WebSocket control endpoint of the messaging engine (e.g. ws://localhost:9223/control).
	BridgeURL string `mapstructure:"BRIDGE_URL"`
	// ChannelSuffix is appended to bare phone numbers to form a channel id (default @c.us).
	ChannelSuffix string `mapstructure:"CHANNEL_SUFFIX"`
	// AdminPhone receives the admin copy of contact-form notifications (international format).
	AdminPhone string `mapstructure:"ADMIN_PHONE"`
	// SendTimeout is the per-attempt send deadline (e.g. "15s").
	SendTimeout string `mapstructure:"SEND_TIMEOUT"`
	// SendMaxAttempts is the total number of send attempts before giving up (default 3).
	SendMaxAttempts int `mapstructure:"SEND_MAX_ATTEMPTS"`
	// OTPTTL is the OTP token lifetime (e.g. "5m").
	OTPTTL string `mapstructure:"OTP_TTL"`
	// OTPCooldown is the minimum spacing between OTP issuances per destination (e.g. "2m").
	OTPCooldown string `mapstructure:"OTP_COOLDOWN"`
	// OTPMaxAttempts is the verification attempt cap per token (default 5).
	OTPMaxAttempts int `mapstructure:"OTP_MAX_ATTEMPTS"`
	// WatchdogCeiling bounds total time in a non-ready state after authentication (e.g. "120s").
	WatchdogCeiling string `mapstructure:"WATCHDOG_CEILING"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTLPEndpoint enables OTel log/trace export when set (e.g. http://localhost:4317).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// Events (optional). When Kafka brokers are set, gateway events are also published to Kafka.
	// EventsKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	EventsKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic is the Kafka topic for gateway events (default gateway-events).
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the events worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the events worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("API_KEY", "")
	v.SetDefault("BRIDGE_URL", "")
	v.SetDefault("CHANNEL_SUFFIX", "@c.us")
	v.SetDefault("ADMIN_PHONE", "")
	v.SetDefault("SEND_TIMEOUT", "15s")
	v.SetDefault("SEND_MAX_ATTEMPTS", 3)
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_COOLDOWN", "2m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("WATCHDOG_CEILING", "120s")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "gateway-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "gateway-events-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.Env == "production" && cfg.APIKey == "" {
		return nil, errors.New("config: API_KEY must be set when APP_ENV=production")
	}
	if cfg.SendMaxAttempts < 1 {
		return nil, errors.New("config: SEND_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.OTPMaxAttempts < 1 {
		return nil, errors.New("config: OTP_MAX_ATTEMPTS must be at least 1")
	}

	return &cfg, nil
}

// SendTimeoutDuration parses SendTimeout as a time.Duration. Returns 15s if unset or invalid.
func (c *Config) SendTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.SendTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// OTPTTLDuration parses OTPTTL as a time.Duration. Returns 5m if unset or invalid.
func (c *Config) OTPTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.OTPTTL)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// OTPCooldownDuration parses OTPCooldown as a time.Duration. Returns 2m if unset or invalid.
func (c *Config) OTPCooldownDuration() time.Duration {
	d, err := time.ParseDuration(c.OTPCooldown)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}

// WatchdogCeilingDuration parses WatchdogCeiling as a time.Duration. Returns 120s if unset or invalid.
func (c *Config) WatchdogCeilingDuration() time.Duration {
	d, err := time.ParseDuration(c.WatchdogCeiling)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// EventsKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event publishing is enabled (non-empty list) and to create the producer.
func (c *Config) EventsKafkaBrokersList() []string {
	if c == nil || c.EventsKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.EventsKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
