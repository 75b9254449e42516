package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Application roles. Both roles run the same core against a shared store.
const (
	RoleInstructor = "instructor"
	RoleStudent    = "student"
)

// Supported local store drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Supported shared store backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Sync     SyncConfig
	Share    ShareConfig
	Auth     AuthConfig
	Library  LibraryConfig
}

// AppConfig identifies which application this instance plays.
type AppConfig struct {
	Role     string
	DeviceID string
}

type DatabaseConfig struct {
	Driver       string
	Path         string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SyncConfig tunes the push queue and the reconciliation loop.
type SyncConfig struct {
	Backend           string
	Namespace         string
	PushWorkers       int
	QueueBuffer       int
	RetryDelay        time.Duration
	ReconcileSchedule string
	PullBatchSize     int
	FeedMaxLen        int64
}

// ShareConfig governs share activation.
type ShareConfig struct {
	PairingCodeTTL time.Duration
}

// AuthConfig holds local API credentials.
type AuthConfig struct {
	InstructorPassphraseHash string
}

// LibraryConfig optionally overrides the bundled template library.
type LibraryConfig struct {
	Path string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.App = AppConfig{
		Role:     strings.ToLower(strings.TrimSpace(v.GetString("APP_ROLE"))),
		DeviceID: v.GetString("DEVICE_ID"),
	}

	cfg.Database = DatabaseConfig{
		Driver:       strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
		Path:         v.GetString("DB_PATH"),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Sync = SyncConfig{
		Backend:           strings.ToLower(strings.TrimSpace(v.GetString("SYNC_BACKEND"))),
		Namespace:         v.GetString("SYNC_NAMESPACE"),
		PushWorkers:       v.GetInt("SYNC_PUSH_WORKERS"),
		QueueBuffer:       v.GetInt("SYNC_QUEUE_BUFFER"),
		RetryDelay:        parseDuration(v.GetString("SYNC_RETRY_DELAY"), 5*time.Second),
		ReconcileSchedule: v.GetString("SYNC_RECONCILE_SCHEDULE"),
		PullBatchSize:     v.GetInt("SYNC_PULL_BATCH_SIZE"),
		FeedMaxLen:        v.GetInt64("SYNC_FEED_MAX_LEN"),
	}

	cfg.Share = ShareConfig{
		PairingCodeTTL: parseDuration(v.GetString("SHARE_PAIRING_CODE_TTL"), 72*time.Hour),
	}

	cfg.Auth = AuthConfig{
		InstructorPassphraseHash: v.GetString("INSTRUCTOR_PASSPHRASE_HASH"),
	}

	cfg.Library = LibraryConfig{Path: v.GetString("TEMPLATE_LIBRARY_PATH")}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.App.Role {
	case RoleInstructor, RoleStudent:
	default:
		return fmt.Errorf("unsupported APP_ROLE %q", c.App.Role)
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Sync.Backend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unsupported SYNC_BACKEND %q", c.Sync.Backend)
	}
	if strings.TrimSpace(c.App.DeviceID) == "" {
		return errors.New("DEVICE_ID is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("APP_ROLE", RoleInstructor)
	v.SetDefault("DEVICE_ID", "local-device")

	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("DB_PATH", "./checkride.db")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "checkride")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "checkride-sync")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SYNC_BACKEND", BackendRedis)
	v.SetDefault("SYNC_NAMESPACE", "checkride")
	v.SetDefault("SYNC_PUSH_WORKERS", 2)
	v.SetDefault("SYNC_QUEUE_BUFFER", 256)
	v.SetDefault("SYNC_RETRY_DELAY", "5s")
	v.SetDefault("SYNC_RECONCILE_SCHEDULE", "@every 5m")
	v.SetDefault("SYNC_PULL_BATCH_SIZE", 500)
	v.SetDefault("SYNC_FEED_MAX_LEN", 10000)

	v.SetDefault("SHARE_PAIRING_CODE_TTL", "72h")
	v.SetDefault("INSTRUCTOR_PASSPHRASE_HASH", "")
	v.SetDefault("TEMPLATE_LIBRARY_PATH", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
