package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Config holds all configuration
type Config struct {
	MySQL    MySQLConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Session  SessionConfig
	Relay    RelayConfig
	Rate     RateConfig
	TLS      TLSConfig
	Migrate  bool
	HTTPAddr string
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	DSN string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string
	ExpireMinutes int
	Issuer        string
}

// SessionConfig holds Active-Session Set configuration
type SessionConfig struct {
	Store            string // "memory" or "redis"
	SweepIntervalSec int
}

// RelayConfig holds pending-command table configuration
type RelayConfig struct {
	RetentionSec     int
	MaxPayloadBytes  int64
	SweepIntervalSec int
}

// RatePolicy is a single route-class rate limit
type RatePolicy struct {
	MaxRequests int
	WindowSec   int
}

// RateConfig holds per-route-class rate limits
type RateConfig struct {
	Registration     RatePolicy
	Authentication   RatePolicy
	Dispatch         RatePolicy
	Polling          RatePolicy
	Messaging        RatePolicy
	SweepIntervalSec int
}

// TLSConfig holds optional static TLS configuration
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getEnv("MYSQL_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASS", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:        os.Getenv("JWT_SECRET"),
			ExpireMinutes: getEnvInt("JWT_EXPIRE_MINUTES", 1440),
			Issuer:        getEnv("JWT_ISSUER", "go_relay"),
		},
		Session: SessionConfig{
			Store:            getEnv("SESSION_STORE", "memory"),
			SweepIntervalSec: getEnvInt("SESSION_SWEEP_INTERVAL_SEC", 60),
		},
		Relay: RelayConfig{
			RetentionSec:     getEnvInt("RELAY_COMMAND_RETENTION_SEC", 3600),
			MaxPayloadBytes:  int64(getEnvInt("RELAY_MAX_PAYLOAD_BYTES", 32<<20)),
			SweepIntervalSec: getEnvInt("RELAY_SWEEP_INTERVAL_SEC", 300),
		},
		Rate: RateConfig{
			Registration:     RatePolicy{getEnvInt("RATE_REGISTRATION_MAX", 5), getEnvInt("RATE_REGISTRATION_WINDOW_SEC", 300)},
			Authentication:   RatePolicy{getEnvInt("RATE_AUTH_MAX", 10), getEnvInt("RATE_AUTH_WINDOW_SEC", 60)},
			Dispatch:         RatePolicy{getEnvInt("RATE_DISPATCH_MAX", 30), getEnvInt("RATE_DISPATCH_WINDOW_SEC", 60)},
			Polling:          RatePolicy{getEnvInt("RATE_POLLING_MAX", 300), getEnvInt("RATE_POLLING_WINDOW_SEC", 60)},
			Messaging:        RatePolicy{getEnvInt("RATE_MESSAGING_MAX", 120), getEnvInt("RATE_MESSAGING_WINDOW_SEC", 60)},
			SweepIntervalSec: getEnvInt("RATE_SWEEP_INTERVAL_SEC", 600),
		},
		TLS: TLSConfig{
			CertFile: getEnv("TLS_CERT", ""),
			KeyFile:  getEnv("TLS_KEY", ""),
		},
		Migrate:  getEnv("MIGRATE", "0") == "1",
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
	}

	// Validate required fields
	if cfg.MySQL.DSN == "" {
		return nil, fmt.Errorf("MYSQL_DSN is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// LoadFromINI loads configuration from INI file with environment variable override
func LoadFromINI(iniPath string) (*Config, error) {
	// Load INI file
	cfgFile, err := ini.Load(iniPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load INI file: %w", err)
	}

	// Helper function: get value with priority: ENV > INI > default
	getValue := func(envKey, iniSection, iniKey, defaultValue string) string {
		if value := os.Getenv(envKey); value != "" {
			return value
		}
		if value := cfgFile.Section(iniSection).Key(iniKey).String(); value != "" {
			return value
		}
		return defaultValue
	}

	getValueInt := func(envKey, iniSection, iniKey string, defaultValue int) int {
		if value := os.Getenv(envKey); value != "" {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
		if cfgFile.Section(iniSection).HasKey(iniKey) {
			if value, err := cfgFile.Section(iniSection).Key(iniKey).Int(); err == nil {
				return value
			}
		}
		return defaultValue
	}

	getValueBool := func(envKey, iniSection, iniKey string, defaultValue bool) bool {
		if value := os.Getenv(envKey); value != "" {
			return value == "1" || value == "true"
		}
		if value, err := cfgFile.Section(iniSection).Key(iniKey).Bool(); err == nil {
			return value
		}
		return defaultValue
	}

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getValue("MYSQL_DSN", "mysql", "dsn", ""),
		},
		Redis: RedisConfig{
			Addr:     getValue("REDIS_ADDR", "redis", "addr", "localhost:6379"),
			Password: getValue("REDIS_PASS", "redis", "pass", ""),
			DB:       getValueInt("REDIS_DB", "redis", "db", 0),
		},
		JWT: JWTConfig{
			Secret:        getValue("JWT_SECRET", "jwt", "secret", ""),
			ExpireMinutes: getValueInt("JWT_EXPIRE_MINUTES", "jwt", "expire_minutes", 1440),
			Issuer:        getValue("JWT_ISSUER", "jwt", "issuer", "go_relay"),
		},
		Session: SessionConfig{
			Store:            getValue("SESSION_STORE", "session", "store", "memory"),
			SweepIntervalSec: getValueInt("SESSION_SWEEP_INTERVAL_SEC", "session", "sweep_interval_sec", 60),
		},
		Relay: RelayConfig{
			RetentionSec:     getValueInt("RELAY_COMMAND_RETENTION_SEC", "relay", "command_retention_sec", 3600),
			MaxPayloadBytes:  int64(getValueInt("RELAY_MAX_PAYLOAD_BYTES", "relay", "max_payload_bytes", 32<<20)),
			SweepIntervalSec: getValueInt("RELAY_SWEEP_INTERVAL_SEC", "relay", "sweep_interval_sec", 300),
		},
		Rate: RateConfig{
			Registration:     RatePolicy{getValueInt("RATE_REGISTRATION_MAX", "rate", "registration_max", 5), getValueInt("RATE_REGISTRATION_WINDOW_SEC", "rate", "registration_window_sec", 300)},
			Authentication:   RatePolicy{getValueInt("RATE_AUTH_MAX", "rate", "auth_max", 10), getValueInt("RATE_AUTH_WINDOW_SEC", "rate", "auth_window_sec", 60)},
			Dispatch:         RatePolicy{getValueInt("RATE_DISPATCH_MAX", "rate", "dispatch_max", 30), getValueInt("RATE_DISPATCH_WINDOW_SEC", "rate", "dispatch_window_sec", 60)},
			Polling:          RatePolicy{getValueInt("RATE_POLLING_MAX", "rate", "polling_max", 300), getValueInt("RATE_POLLING_WINDOW_SEC", "rate", "polling_window_sec", 60)},
			Messaging:        RatePolicy{getValueInt("RATE_MESSAGING_MAX", "rate", "messaging_max", 120), getValueInt("RATE_MESSAGING_WINDOW_SEC", "rate", "messaging_window_sec", 60)},
			SweepIntervalSec: getValueInt("RATE_SWEEP_INTERVAL_SEC", "rate", "sweep_interval_sec", 600),
		},
		TLS: TLSConfig{
			CertFile: getValue("TLS_CERT", "tls", "cert", ""),
			KeyFile:  getValue("TLS_KEY", "tls", "key", ""),
		},
		Migrate:  getValueBool("MIGRATE", "app", "migrate", false),
		HTTPAddr: getValue("HTTP_ADDR", "http", "addr", ":8080"),
	}

	// Validate required fields
	if cfg.MySQL.DSN == "" {
		return nil, fmt.Errorf("MYSQL_DSN is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}
