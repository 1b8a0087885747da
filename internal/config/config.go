package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Backend  BackendConfig
	Feed     FeedConfig
	Sync     SyncConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	Timezone              string
}

// BackendConfig points at the ticket backend this dashboard mirrors.
type BackendConfig struct {
	URL                   string
	WSURL                 string
	Token                 string
	RequestTimeoutSeconds int
	TicketsTopic          string
}

// FeedConfig tunes the live-update connection.
type FeedConfig struct {
	ReconnectDelayMillis   int
	HandshakeTimeoutSecond int
}

// SyncConfig controls background synchronization.
type SyncConfig struct {
	ResyncSpec           string
	RefreshOnStart       bool
	JournalBuffer        int
	JournalRetentionDays int
	PruneSpec            string
	SnapshotsEnabled     bool
	SnapshotTTLHours     int
	StreamKeepAliveSec   int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters for dashboard API callers.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	backendURL := strings.TrimSuffix(getEnv("BACKEND_URL", "http://localhost:8081"), "/")

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-dashboard"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			Timezone:              getEnv("APP_TIMEZONE", "Local"),
		},
		Backend: BackendConfig{
			URL:                   backendURL,
			WSURL:                 getEnv("BACKEND_WS_URL", wsURLFor(backendURL)),
			Token:                 os.Getenv("BACKEND_TOKEN"),
			RequestTimeoutSeconds: getEnvAsInt("BACKEND_REQUEST_TIMEOUT_SECONDS", 20),
			TicketsTopic:          getEnv("BACKEND_TICKETS_TOPIC", "/topic/tickets"),
		},
		Feed: FeedConfig{
			ReconnectDelayMillis:   getEnvAsInt("FEED_RECONNECT_DELAY_MS", 5000),
			HandshakeTimeoutSecond: getEnvAsInt("FEED_HANDSHAKE_TIMEOUT_SECONDS", 10),
		},
		Sync: SyncConfig{
			ResyncSpec:           getEnv("SYNC_RESYNC_SPEC", "@every 5m"),
			RefreshOnStart:       getEnvAsBool("SYNC_REFRESH_ON_START", true),
			JournalBuffer:        getEnvAsInt("SYNC_JOURNAL_BUFFER", 256),
			JournalRetentionDays: getEnvAsInt("SYNC_JOURNAL_RETENTION_DAYS", 30),
			PruneSpec:            getEnv("SYNC_PRUNE_SPEC", "@daily"),
			SnapshotsEnabled:     getEnvAsBool("SYNC_SNAPSHOTS_ENABLED", true),
			SnapshotTTLHours:     getEnvAsInt("SYNC_SNAPSHOT_TTL_HOURS", 24),
			StreamKeepAliveSec:   getEnvAsInt("SYNC_STREAM_KEEPALIVE_SECONDS", 15),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "ticket-dashboard:"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
	}

	if _, err := cfg.App.Location(); err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE: %w", err)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Location resolves the dashboard time zone used for day buckets.
func (a AppConfig) Location() (*time.Location, error) {
	if a.Timezone == "" || a.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(a.Timezone)
}

// RequestTimeout returns the backend REST timeout.
func (b BackendConfig) RequestTimeout() time.Duration {
	if b.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(b.RequestTimeoutSeconds) * time.Second
}

// JournalRetention is how long journal entries are kept; zero keeps them.
func (s SyncConfig) JournalRetention() time.Duration {
	if s.JournalRetentionDays <= 0 {
		return 0
	}
	return time.Duration(s.JournalRetentionDays) * 24 * time.Hour
}

// SnapshotTTL bounds how long a stored snapshot may be restored.
func (s SyncConfig) SnapshotTTL() time.Duration {
	if s.SnapshotTTLHours <= 0 {
		return 0
	}
	return time.Duration(s.SnapshotTTLHours) * time.Hour
}

// StreamKeepAlive is the comment interval on idle event streams.
func (s SyncConfig) StreamKeepAlive() time.Duration {
	return time.Duration(s.StreamKeepAliveSec) * time.Second
}

// ReconnectDelay is the fixed wait between connection attempts.
func (f FeedConfig) ReconnectDelay() time.Duration {
	if f.ReconnectDelayMillis <= 0 {
		return 5 * time.Second
	}
	return time.Duration(f.ReconnectDelayMillis) * time.Millisecond
}

// HandshakeTimeout bounds websocket and STOMP handshakes.
func (f FeedConfig) HandshakeTimeout() time.Duration {
	if f.HandshakeTimeoutSecond <= 0 {
		return 10 * time.Second
	}
	return time.Duration(f.HandshakeTimeoutSecond) * time.Second
}

func wsURLFor(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://") + "/ws"
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://") + "/ws"
	default:
		return httpURL + "/ws"
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
