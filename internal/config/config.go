package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	Kafka       KafkaConfig       `toml:"kafka"`
	NATS        NATSConfig        `toml:"nats"`
	Notify      NotifyConfig      `toml:"notify"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Auth        AuthConfig        `toml:"auth"`
	Stripe      StripeConfig      `toml:"stripe"`
	Pass        PassConfig        `toml:"pass"`
	Log         LogConfig         `toml:"log"`
}

type ServerConfig struct {
	Addr            string        `toml:"addr"`
	PaymentAddr     string        `toml:"payment_addr"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// DSN is a postgres URL or a sqlite DSN prefixed with "sqlite:".
	DSN          string        `toml:"dsn"`
	MaxOpenConns int           `toml:"max_open_conns"`
	MaxIdleConns int           `toml:"max_idle_conns"`
	MaxLifetime  time.Duration `toml:"max_lifetime"`
	ConnRetries  int           `toml:"conn_retries"`
	AutoMigrate  bool          `toml:"auto_migrate"`
}

type RedisConfig struct {
	// Addr empty selects the in-process locker (single instance only).
	Addr     string        `toml:"addr"`
	LockTTL  time.Duration `toml:"lock_ttl"`
	LockWait time.Duration `toml:"lock_wait"`
}

type KafkaConfig struct {
	Brokers []string    `toml:"brokers"`
	Enabled bool        `toml:"enabled"`
	GroupID string      `toml:"group_id"`
	Topics  TopicConfig `toml:"topics"`
}

type TopicConfig struct {
	Notifications    string `toml:"notifications"`
	Broadcasts       string `toml:"broadcasts"`
	PaymentConfirmed string `toml:"payment_confirmed"`
	PaymentReconcile string `toml:"payment_reconcile"`
}

type NATSConfig struct {
	URL string `toml:"url"`
}

type NotifyConfig struct {
	// Broker is one of "kafka", "nats" or "none".
	Broker    string `toml:"broker"`
	Workers   int    `toml:"workers"`
	QueueSize int    `toml:"queue_size"`
}

type CoordinatorConfig struct {
	MaxRetries int `toml:"max_retries"`
}

type AuthConfig struct {
	OIDCIssuer string `toml:"oidc_issuer"`
	JWTSecret  string `toml:"jwt_secret"`
}

type StripeConfig struct {
	WebhookSecret string `toml:"webhook_secret"`
}

type PassConfig struct {
	Secret string `toml:"secret"`
}

type LogConfig struct {
	Dir     string `toml:"dir"`
	Level   string `toml:"level"`
	NoColor bool   `toml:"no_color"`
}

// Defaults returns the configuration used when neither a file nor the
// environment says otherwise.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8086",
			PaymentAddr:     ":8087",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:          "sqlite:file::memory:?cache=shared",
			MaxOpenConns: 25,
			MaxIdleConns: 25,
			MaxLifetime:  5 * time.Minute,
			ConnRetries:  5,
			AutoMigrate:  true,
		},
		Redis: RedisConfig{
			LockTTL:  10 * time.Second,
			LockWait: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			GroupID: "activity-service",
			Topics: TopicConfig{
				Notifications:    "activity.notifications",
				Broadcasts:       "activity.broadcasts",
				PaymentConfirmed: "activity.payment.confirmed",
				PaymentReconcile: "activity.payment.reconcile",
			},
		},
		Notify: NotifyConfig{
			Broker:    "none",
			Workers:   4,
			QueueSize: 1024,
		},
		Coordinator: CoordinatorConfig{MaxRetries: 5},
		Log:         LogConfig{Dir: "logs", Level: "info"},
	}
}

// Load builds the configuration: defaults, then the TOML file named by
// ACTIVITY_CONFIG_FILE (if any), then environment overrides.
func Load() (*Config, error) {
	c := Defaults()

	if path := os.Getenv("ACTIVITY_CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	if err := applyEnv(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyEnv(c *Config) error {
	c.Server.Addr = getEnv("PORT", c.Server.Addr)
	c.Server.PaymentAddr = getEnv("PAYMENT_BRIDGE_ADDR", c.Server.PaymentAddr)

	c.Database.DSN = getEnv("DATABASE_DSN", c.Database.DSN)
	c.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnRetries = getEnvInt("DB_CONN_RETRIES", c.Database.ConnRetries)
	c.Database.AutoMigrate = getEnvBool("DB_AUTO_MIGRATE", c.Database.AutoMigrate)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)

	c.Kafka.Enabled = getEnvBool("KAFKA_ENABLED", c.Kafka.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
	}
	c.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", c.Kafka.GroupID)
	c.Kafka.Topics.Notifications = getEnv("KAFKA_TOPIC_NOTIFICATIONS", c.Kafka.Topics.Notifications)
	c.Kafka.Topics.Broadcasts = getEnv("KAFKA_TOPIC_BROADCASTS", c.Kafka.Topics.Broadcasts)
	c.Kafka.Topics.PaymentConfirmed = getEnv("KAFKA_TOPIC_PAYMENT_CONFIRMED", c.Kafka.Topics.PaymentConfirmed)
	c.Kafka.Topics.PaymentReconcile = getEnv("KAFKA_TOPIC_PAYMENT_RECONCILE", c.Kafka.Topics.PaymentReconcile)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)

	c.Notify.Broker = strings.ToLower(getEnv("NOTIFY_BROKER", c.Notify.Broker))
	c.Notify.Workers = getEnvInt("NOTIFY_WORKERS", c.Notify.Workers)
	c.Notify.QueueSize = getEnvInt("NOTIFY_QUEUE_SIZE", c.Notify.QueueSize)

	c.Coordinator.MaxRetries = getEnvInt("COORDINATOR_MAX_RETRIES", c.Coordinator.MaxRetries)

	c.Auth.OIDCIssuer = getEnv("OIDC_ISSUER", c.Auth.OIDCIssuer)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Stripe.WebhookSecret = getEnv("STRIPE_WEBHOOK_SECRET", c.Stripe.WebhookSecret)
	c.Pass.Secret = getEnv("PASS_SECRET", c.Pass.Secret)

	c.Log.Dir = getEnv("LOG_DIR", c.Log.Dir)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.NoColor = getEnvBool("LOG_NO_COLOR", c.Log.NoColor)

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", &c.Server.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout},
		{"DB_MAX_LIFETIME", &c.Database.MaxLifetime},
		{"LOCK_TTL", &c.Redis.LockTTL},
		{"LOCK_WAIT", &c.Redis.LockWait},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}
	switch c.Notify.Broker {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("NOTIFY_BROKER=kafka requires KAFKA_BROKERS")
		}
	case "nats":
		if c.NATS.URL == "" {
			return fmt.Errorf("NOTIFY_BROKER=nats requires NATS_URL")
		}
	case "none", "":
	default:
		return fmt.Errorf("unknown NOTIFY_BROKER %q (must be kafka, nats or none)", c.Notify.Broker)
	}
	if c.Coordinator.MaxRetries < 1 {
		return fmt.Errorf("COORDINATOR_MAX_RETRIES must be at least 1")
	}
	if c.Redis.LockTTL <= 0 || c.Redis.LockWait <= 0 {
		return fmt.Errorf("LOCK_TTL and LOCK_WAIT must be positive")
	}
	return nil
}

// ValidateServe adds the checks only the serve command needs. Passes cannot
// be signed without a secret, and consuming payment confirmations needs a
// real broker to carry reconciliation events for rejected payments.
func (c *Config) ValidateServe() error {
	if c.Pass.Secret == "" {
		return fmt.Errorf("PASS_SECRET is required")
	}
	if c.Kafka.Enabled && (c.Notify.Broker == "none" || c.Notify.Broker == "") {
		return fmt.Errorf("KAFKA_ENABLED requires NOTIFY_BROKER=kafka or nats to publish payment reconciliation")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
