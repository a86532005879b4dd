package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Wallet    WalletConfig
	Transfer  TransferConfig
	Reconcile ReconcileConfig
	Tokens    TokensConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type WalletConfig struct {
	DaemonURL          string
	RequestTimeout     time.Duration
	ConfirmationBuffer int
}

type TransferConfig struct {
	QueueDepth     int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

type ReconcileConfig struct {
	SweepInterval       time.Duration
	ConfirmationTimeout time.Duration
}

type TokensConfig struct {
	// Bootstrap is a NAME:SYMBOL:CONTRACT:DOMAIN_SEPARATOR:DESCRIPTION
	// list (entries separated by |) registered at startup.
	Bootstrap string
}

func Load() Config {
	return Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8041"),
			Env:  getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "shielded_transfers"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: parseCSVEnv("KAFKA_BROKERS", ""),
			Topic:   getEnv("KAFKA_AUDIT_TOPIC", "transfer-audit"),
		},
		Wallet: WalletConfig{
			DaemonURL:          getEnv("WALLET_DAEMON_URL", "http://localhost:9044"),
			RequestTimeout:     getEnvDuration("WALLET_REQUEST_TIMEOUT", 120*time.Second),
			ConfirmationBuffer: getEnvInt("WALLET_CONFIRMATION_BUFFER", 256),
		},
		Transfer: TransferConfig{
			QueueDepth:     getEnvInt("TRANSFER_QUEUE_DEPTH", 64),
			MaxAttempts:    getEnvInt("TRANSFER_MAX_ATTEMPTS", 5),
			RetryBaseDelay: getEnvDuration("TRANSFER_RETRY_BASE_DELAY", 500*time.Millisecond),
			RetryMaxDelay:  getEnvDuration("TRANSFER_RETRY_MAX_DELAY", 30*time.Second),
		},
		Reconcile: ReconcileConfig{
			SweepInterval:       getEnvDuration("RECONCILE_SWEEP_INTERVAL", 30*time.Second),
			ConfirmationTimeout: getEnvDuration("RECONCILE_CONFIRMATION_TIMEOUT", 10*time.Minute),
		},
		Tokens: TokensConfig{
			Bootstrap: getEnv("TOKENS", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseCSVEnv(key, fallback string) []string {
	val := getEnv(key, fallback)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
