// Package config builds immutable configuration from the environment.
// Components receive config structs at construction time; nothing reads the
// environment after startup.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level application configuration.
type Config struct {
	Server   Server
	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
	Ledger   Ledger
	Envelope Envelope
	Dispatch Dispatch
	Policy   Policy
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	ShutdownGrace time.Duration
}

// Postgres configures the durable ledger store. An empty URL selects the
// in-memory store.
type Postgres struct {
	URL string
}

// Redis configures the delivery idempotency marker store. An empty URL
// selects the in-memory marker store.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the audit mirror publisher and the Kafka transport.
type Kafka struct {
	Brokers       []string
	AuditTopic    string
	DeliveryTopic string
}

// Ledger configures hash-chain signing.
type Ledger struct {
	SigningSecret string
}

// Envelope configures wire message validation.
type Envelope struct {
	MaxPayloadBytes int
}

// Dispatch configures delivery transport and retry behavior. TargetURL
// selects the HTTP transport; when empty and Kafka brokers are configured,
// deliveries go to the Kafka delivery topic instead.
type Dispatch struct {
	TargetURL   string
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int

	// SweepInterval is how often the expiry worker scans open proposals.
	SweepInterval time.Duration
}

// Policy configures the quorum policy registry.
type Policy struct {
	File string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:          envOr("ASSENT_ADDR", ":8080"),
			JWTSigningKey: envOr("ASSENT_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			ShutdownGrace: envDuration("ASSENT_SHUTDOWN_GRACE", 10*time.Second),
		},
		Postgres: Postgres{
			URL: os.Getenv("ASSENT_POSTGRES_URL"),
		},
		Redis: Redis{
			URL:          os.Getenv("ASSENT_REDIS_URL"),
			PoolSize:     envInt("ASSENT_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("ASSENT_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("ASSENT_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("ASSENT_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("ASSENT_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:       envList("ASSENT_KAFKA_BROKERS"),
			AuditTopic:    envOr("ASSENT_KAFKA_AUDIT_TOPIC", "assent.audit"),
			DeliveryTopic: envOr("ASSENT_KAFKA_DELIVERY_TOPIC", "assent.delivery"),
		},
		Ledger: Ledger{
			SigningSecret: envOr("ASSENT_LEDGER_SIGNING_SECRET", "dev-ledger-secret-change-in-production"),
		},
		Envelope: Envelope{
			MaxPayloadBytes: envInt("ASSENT_MAX_PAYLOAD_BYTES", 256<<10),
		},
		Dispatch: Dispatch{
			TargetURL:     os.Getenv("ASSENT_DISPATCH_TARGET_URL"),
			BackoffBase:   envDuration("ASSENT_DISPATCH_BACKOFF_BASE", time.Second),
			BackoffCap:    envDuration("ASSENT_DISPATCH_BACKOFF_CAP", 60*time.Second),
			MaxAttempts:   envInt("ASSENT_DISPATCH_MAX_ATTEMPTS", 5),
			SweepInterval: envDuration("ASSENT_EXPIRY_SWEEP_INTERVAL", 30*time.Second),
		},
		Policy: Policy{
			File: os.Getenv("ASSENT_POLICY_FILE"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
