package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Limit allows Requests per Window.
type Limit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

func (l Limit) String() string {
	return fmt.Sprintf("%d/%s", l.Requests, l.Window)
}

// RateLimits configures the per-client limiters.
type RateLimits struct {
	Auth    Limit `yaml:"auth"`
	API     Limit `yaml:"api"`
	Webhook Limit `yaml:"webhook"`
}

// Config holds application configuration values.
type Config struct {
	Env      string        `yaml:"env"`
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
	HTTPPort string        `yaml:"http_port"`

	// RowStore selects the backend: "rest", "sqlite" or "mysql".
	RowStore        string        `yaml:"rowstore"`
	RowStoreURL     string        `yaml:"rowstore_url"`
	RowStoreKey     string        `yaml:"rowstore_key"`
	RowStoreSchema  string        `yaml:"rowstore_schema"`
	RowStoreTimeout time.Duration `yaml:"rowstore_timeout"`
	DatabaseDSN     string        `yaml:"database_dsn"`
	LogQueries      bool          `yaml:"log_queries"`

	RedisAddr     string     `yaml:"redis_addr"`
	KafkaBrokers  []string   `yaml:"kafka_brokers"`
	KafkaTopic    string     `yaml:"kafka_topic"`
	WebhookSecret string     `yaml:"webhook_secret"`
	CatalogCSV    string     `yaml:"catalog_csv"`
	RateLimits    RateLimits `yaml:"rate_limits"`
}

func defaults() Config {
	return Config{
		Env:             "development",
		Secret:          "dev_secret",
		TokenTTL:        7 * 24 * time.Hour,
		HTTPPort:        "8080",
		RowStore:        "sqlite",
		RowStoreTimeout: 30 * time.Second,
		DatabaseDSN:     "file:medeasy.db",
		KafkaTopic:      "pharmacy-events",
		RateLimits: RateLimits{
			Auth:    Limit{Requests: 5, Window: 15 * time.Minute},
			API:     Limit{Requests: 100, Window: 15 * time.Minute},
			Webhook: Limit{Requests: 50, Window: time.Minute},
		},
	}
}

// Load reads configuration from the optional CONFIG_FILE and then from
// environment variables, which take precedence, with reasonable defaults.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	setString(&cfg.Env, "APP_ENV")
	setString(&cfg.Secret, "SECRET")
	setString(&cfg.Secret, "JWT_SECRET")
	setString(&cfg.HTTPPort, "HTTP_PORT")
	setString(&cfg.RowStore, "ROWSTORE")
	setString(&cfg.RowStoreURL, "SUPABASE_URL")
	setString(&cfg.RowStoreURL, "ROWSTORE_URL")
	setString(&cfg.RowStoreKey, "SUPABASE_KEY")
	setString(&cfg.RowStoreKey, "ROWSTORE_KEY")
	setString(&cfg.RowStoreSchema, "ROWSTORE_SCHEMA")
	setString(&cfg.DatabaseDSN, "DATABASE_DSN")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setString(&cfg.WebhookSecret, "CHAPA_WEBHOOK_SECRET")
	setString(&cfg.CatalogCSV, "CATALOG_CSV")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LOG_QUERIES"); v != "" {
		cfg.LogQueries = v == "true" || v == "1"
	} else if os.Getenv("CONFIG_FILE") == "" {
		cfg.LogQueries = cfg.Env == "development"
	}

	var errs []error
	errs = append(errs,
		setDuration(&cfg.TokenTTL, "JWT_TTL"),
		setDuration(&cfg.RowStoreTimeout, "ROWSTORE_TIMEOUT"),
		setLimit(&cfg.RateLimits.Auth, "AUTH_RATE_LIMIT"),
		setLimit(&cfg.RateLimits.API, "API_RATE_LIMIT"),
		setLimit(&cfg.RateLimits.Webhook, "WEBHOOK_RATE_LIMIT"),
	)
	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}

	// Validate that port is numeric.
	if _, err := strconv.Atoi(cfg.HTTPPort); err != nil {
		log.Printf("invalid HTTP_PORT value %q, defaulting to 8080", cfg.HTTPPort)
		cfg.HTTPPort = "8080"
	}

	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.RowStore {
	case "rest":
		if c.RowStoreURL == "" {
			return errors.New("rowstore rest requires SUPABASE_URL or ROWSTORE_URL")
		}
		if c.RowStoreKey == "" {
			return errors.New("rowstore rest requires SUPABASE_KEY or ROWSTORE_KEY")
		}
	case "sqlite", "mysql":
		if c.DatabaseDSN == "" {
			return fmt.Errorf("rowstore %s requires DATABASE_DSN", c.RowStore)
		}
	default:
		return fmt.Errorf("unknown rowstore %q (want rest, sqlite or mysql)", c.RowStore)
	}
	if c.Env == "production" && c.Secret == "dev_secret" {
		return errors.New("SECRET must be set in production")
	}
	if c.TokenTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	for name, l := range map[string]Limit{"auth": c.RateLimits.Auth, "api": c.RateLimits.API, "webhook": c.RateLimits.Webhook} {
		if l.Requests <= 0 || l.Window <= 0 {
			return fmt.Errorf("%s rate limit %s is not positive", name, l)
		}
	}
	return nil
}

// Development reports whether the app runs in development mode.
func (c Config) Development() bool {
	return c.Env == "development"
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

// setLimit parses values such as "5/15m".
func setLimit(dst *Limit, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	l, err := ParseLimit(v)
	if err != nil {
		return fmt.Errorf("invalid %s value: %w", key, err)
	}
	*dst = l
	return nil
}

// ParseLimit parses "<requests>/<window>", e.g. "100/15m".
func ParseLimit(s string) (Limit, error) {
	n, w, ok := strings.Cut(s, "/")
	if !ok {
		return Limit{}, fmt.Errorf("%q is not <requests>/<window>", s)
	}
	requests, err := strconv.Atoi(strings.TrimSpace(n))
	if err != nil {
		return Limit{}, fmt.Errorf("%q: %w", s, err)
	}
	window, err := time.ParseDuration(strings.TrimSpace(w))
	if err != nil {
		return Limit{}, fmt.Errorf("%q: %w", s, err)
	}
	return Limit{Requests: requests, Window: window}, nil
}
