// ==============================================================================
// CONFIG PACKAGE - pkg/config/config.go
// ==============================================================================
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Log         LogConfig
	Ledger      LedgerConfig
	Coordinator CoordinatorConfig
	Hub         HubConfig
	Session     SessionConfig
	GiftCode    GiftCodeConfig
	Security    SecurityConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type LogConfig struct {
	Level string
}

type LedgerConfig struct {
	VerifyOnWrite     bool
	ReconcileInterval time.Duration
	ReconcileOnStart  bool
}

type CoordinatorConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	UnitTimeout time.Duration
}

type HubConfig struct {
	QueueSize      int
	RelayEnabled   bool
	RelayChannel   string
	BreakerTimeout time.Duration
}

type SessionConfig struct {
	SendBuffer   int
	WriteWait    time.Duration
	PongWait     time.Duration
	PingPeriod   time.Duration
	DrainTimeout time.Duration
	InboundRate  float64
	InboundBurst int
}

type GiftCodeConfig struct {
	AllowRepeat bool
}

type SecurityConfig struct {
	AdminOTPSecret string
	RateLimit      int
	RateWindow     time.Duration
	IdempotencyTTL time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-this-secret"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Ledger: LedgerConfig{
			VerifyOnWrite:     getBoolEnv("LEDGER_VERIFY_ON_WRITE", true),
			ReconcileInterval: getDurationEnv("LEDGER_RECONCILE_INTERVAL", time.Hour),
			ReconcileOnStart:  getBoolEnv("LEDGER_RECONCILE_ON_START", true),
		},
		Coordinator: CoordinatorConfig{
			MaxAttempts: getIntEnv("COORDINATOR_MAX_ATTEMPTS", 3),
			RetryDelay:  getDurationEnv("COORDINATOR_RETRY_DELAY", 15*time.Millisecond),
			UnitTimeout: getDurationEnv("COORDINATOR_UNIT_TIMEOUT", 10*time.Second),
		},
		Hub: HubConfig{
			QueueSize:      getIntEnv("HUB_QUEUE_SIZE", 1024),
			RelayEnabled:   getBoolEnv("HUB_RELAY_ENABLED", false),
			RelayChannel:   getEnv("HUB_RELAY_CHANNEL", "qatmarket:events"),
			BreakerTimeout: getDurationEnv("HUB_RELAY_BREAKER_TIMEOUT", 30*time.Second),
		},
		Session: SessionConfig{
			SendBuffer:   getIntEnv("SESSION_SEND_BUFFER", 256),
			WriteWait:    getDurationEnv("SESSION_WRITE_WAIT", 10*time.Second),
			PongWait:     getDurationEnv("SESSION_PONG_WAIT", 60*time.Second),
			PingPeriod:   getDurationEnv("SESSION_PING_PERIOD", 54*time.Second),
			DrainTimeout: getDurationEnv("SESSION_DRAIN_TIMEOUT", 5*time.Second),
			InboundRate:  getFloatEnv("SESSION_INBOUND_RATE", 2),
			InboundBurst: getIntEnv("SESSION_INBOUND_BURST", 5),
		},
		GiftCode: GiftCodeConfig{
			AllowRepeat: getBoolEnv("GIFTCODE_ALLOW_REPEAT", false),
		},
		Security: SecurityConfig{
			AdminOTPSecret: getEnv("ADMIN_OTP_SECRET", ""),
			RateLimit:      getIntEnv("RATE_LIMIT_REQUESTS", 120),
			RateWindow:     getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
			IdempotencyTTL: getDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}
