package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"credrep/internal/proof/models"
	id "credrep/pkg/domain"
)

// Config is the whole process configuration, read once in main.
type Config struct {
	Server     Server
	Log        LogConfig
	Ledger     LedgerConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Oracle     OracleConfig
	Auth       AuthConfig
	Outbox     OutboxConfig
	Proofs     ProofConfig
	Reputation ReputationConfig
	RateLimit  RateLimitConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// LedgerConfig selects the ledger backend. An empty PostgresDSN keeps all
// state in process memory. A PostgresDSN requires a Redis URL so the
// ciphertexts its rows point at survive a restart.
type LedgerConfig struct {
	PostgresDSN string
	Admin       id.Address
}

// RedisConfig backs the ciphertext store, the data store and the token
// revocation list. An empty URL keeps them in memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables the outbox relay's Kafka sink when Brokers is set.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// OracleConfig configures the decryption oracle. Without SignerKeys a fresh
// set of SignerCount keys is generated at start.
type OracleConfig struct {
	SignerKeys  []string
	SignerCount int
	Threshold   int
	Delay       time.Duration
	RetryDelay  time.Duration
	MaxAttempts int
}

type AuthConfig struct {
	JWTSigningKey  string
	JWTIssuer      string
	JWTAudience    string
	TokenTTL       time.Duration
	AdminTokenHash string
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

type ProofConfig struct {
	TimeBoundMode models.TimeBoundMode
}

type ReputationConfig struct {
	Parallelism int
}

// RateLimitConfig sets per-IP budgets per minute. Windows live in Redis when
// it is configured.
type RateLimitConfig struct {
	Disabled       bool
	ReadPerMinute  int
	WritePerMinute int
}

// FromEnv builds the config from CREDREP_* environment variables so main stays lean.
func FromEnv() (Config, error) {
	var p parser
	cfg := Config{
		Server: Server{
			Addr:            p.str("CREDREP_ADDR", ":8080"),
			ShutdownTimeout: p.duration("CREDREP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  p.str("CREDREP_LOG_LEVEL", "info"),
			Format: p.str("CREDREP_LOG_FORMAT", "json"),
		},
		Ledger: LedgerConfig{
			PostgresDSN: p.str("CREDREP_POSTGRES_DSN", ""),
		},
		Redis: RedisConfig{
			URL:          p.str("CREDREP_REDIS_URL", ""),
			PoolSize:     p.int("CREDREP_REDIS_POOL_SIZE", 10),
			MinIdleConns: p.int("CREDREP_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("CREDREP_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("CREDREP_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("CREDREP_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: p.list("CREDREP_KAFKA_BROKERS"),
			Topic:   p.str("CREDREP_KAFKA_TOPIC", "credrep.ledger.events"),
		},
		Oracle: OracleConfig{
			SignerKeys:  p.list("CREDREP_ORACLE_SIGNER_KEYS"),
			SignerCount: p.int("CREDREP_ORACLE_SIGNER_COUNT", 3),
			Threshold:   p.int("CREDREP_ORACLE_THRESHOLD", 2),
			Delay:       p.duration("CREDREP_ORACLE_DELAY", 0),
			RetryDelay:  p.duration("CREDREP_ORACLE_RETRY_DELAY", 500*time.Millisecond),
			MaxAttempts: p.int("CREDREP_ORACLE_MAX_ATTEMPTS", 5),
		},
		Auth: AuthConfig{
			// Development default; override in any shared environment.
			JWTSigningKey:  p.str("CREDREP_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:      p.str("CREDREP_JWT_ISSUER", "credrep"),
			JWTAudience:    p.str("CREDREP_JWT_AUDIENCE", "credrep-api"),
			TokenTTL:       p.duration("CREDREP_TOKEN_TTL", time.Hour),
			AdminTokenHash: p.str("CREDREP_ADMIN_TOKEN_HASH", ""),
		},
		Outbox: OutboxConfig{
			PollInterval: p.duration("CREDREP_OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    p.int("CREDREP_OUTBOX_BATCH_SIZE", 100),
		},
		Reputation: ReputationConfig{
			Parallelism: p.int("CREDREP_METRIC_PARALLELISM", 4),
		},
		RateLimit: RateLimitConfig{
			Disabled:       p.bool("CREDREP_RATELIMIT_DISABLED", false),
			ReadPerMinute:  p.int("CREDREP_RATELIMIT_READ_PER_MINUTE", 300),
			WritePerMinute: p.int("CREDREP_RATELIMIT_WRITE_PER_MINUTE", 60),
		},
	}

	mode, err := models.ParseTimeBoundMode(os.Getenv("CREDREP_TIME_BOUND_PROOF_MODE"))
	if err != nil {
		p.fail("CREDREP_TIME_BOUND_PROOF_MODE", err)
	}
	cfg.Proofs.TimeBoundMode = mode

	admin, err := id.ParseAddress(os.Getenv("CREDREP_LEDGER_ADMIN"))
	if err != nil {
		p.fail("CREDREP_LEDGER_ADMIN", err)
	}
	cfg.Ledger.Admin = admin

	if cfg.Oracle.Threshold < 1 {
		p.fail("CREDREP_ORACLE_THRESHOLD", fmt.Errorf("must be at least 1"))
	}
	if cfg.Oracle.MaxAttempts < 1 {
		p.fail("CREDREP_ORACLE_MAX_ATTEMPTS", fmt.Errorf("must be at least 1"))
	}
	if cfg.Ledger.PostgresDSN != "" && cfg.Redis.URL == "" {
		p.fail("CREDREP_REDIS_URL", fmt.Errorf("required when CREDREP_POSTGRES_DSN is set"))
	}

	if p.err != nil {
		return Config{}, p.err
	}
	return cfg, nil
}

// parser keeps the first malformed variable.
type parser struct {
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config %s: %w", key, err)
	}
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func (p *parser) list(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
