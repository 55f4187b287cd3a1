package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"cvSync/internal/cv"
)

// Config aggregates application settings sourced from environment variables.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Auth      AuthConfig      `mapstructure:"auth"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Languages LanguagesConfig `mapstructure:"languages"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Log       LogConfig       `mapstructure:"log"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr 返回 host:port 形式的地址。
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig points at the RSA key pair used to sign editor access tokens.
type AuthConfig struct {
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	AccessTTL      time.Duration `mapstructure:"access_ttl"`
}

// LLMConfig configures the OpenAI-compatible completion endpoint.
type LLMConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	DailyQuota        int64         `mapstructure:"daily_quota"`
	Concurrency       int           `mapstructure:"concurrency"`
	CacheSize         int           `mapstructure:"cache_size"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

// Enabled reports whether an API key is configured.
func (l LLMConfig) Enabled() bool {
	return strings.TrimSpace(l.APIKey) != ""
}

// RealtimeConfig controls session liveness and backpressure.
type RealtimeConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	QueueCapacity     int           `mapstructure:"queue_capacity"`
}

// LanguagesConfig lists the languages every CV is kept in.
type LanguagesConfig struct {
	Supported []string `mapstructure:"supported"`
}

// Parsed returns the supported languages as validated codes.
func (l LanguagesConfig) Parsed() []cv.Language {
	langs, err := cv.ParseLanguages(l.Supported)
	if err != nil {
		return cv.AllLanguages
	}
	return langs
}

// UploadConfig bounds uploads and optionally enables virus scanning.
type UploadConfig struct {
	MaxVideoBytes       int64  `mapstructure:"max_video_bytes"`
	MaxCertificateBytes int64  `mapstructure:"max_certificate_bytes"`
	ClamdAddr           string `mapstructure:"clamd_addr"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DSN builds a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.API.AllowedOrigins = splitList(cfg.API.AllowedOrigins)
	cfg.Languages.Supported = splitList(cfg.Languages.Supported)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.allowed_origins", []string{})
	v.SetDefault("api.shutdown_timeout", 15*time.Second)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "cvsync")
	v.SetDefault("database.user", "cvsync")
	v.SetDefault("database.password", "cvsync")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "cvs")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("auth.private_key_path", "keys/private.pem")
	v.SetDefault("auth.public_key_path", "keys/public.pem")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.daily_quota", 0)
	v.SetDefault("llm.concurrency", 4)
	v.SetDefault("llm.cache_size", 512)
	v.SetDefault("llm.cache_ttl", 24*time.Hour)
	v.SetDefault("realtime.heartbeat_interval", 30*time.Second)
	v.SetDefault("realtime.idle_timeout", 60*time.Second)
	v.SetDefault("realtime.queue_capacity", 8)
	v.SetDefault("languages.supported", []string{"tr", "en", "es", "zh", "ar", "hi", "de"})
	v.SetDefault("upload.max_video_bytes", int64(100<<20))
	v.SetDefault("upload.max_certificate_bytes", int64(10<<20))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                     "API_PORT",
		"api.allowed_origins":          "API_ALLOWED_ORIGINS",
		"api.shutdown_timeout":         "API_SHUTDOWN_TIMEOUT",
		"database.host":                "DATABASE_HOST",
		"database.port":                "DATABASE_PORT",
		"database.name":                "POSTGRES_DB",
		"database.user":                "POSTGRES_USER",
		"database.password":            "POSTGRES_PASSWORD",
		"database.sslmode":             "DATABASE_SSLMODE",
		"redis.host":                   "REDIS_HOST",
		"redis.port":                   "REDIS_PORT",
		"redis.password":               "REDIS_PASSWORD",
		"redis.db":                     "REDIS_DB",
		"minio.endpoint":               "MINIO_ENDPOINT",
		"minio.public_endpoint":        "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":          "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":      "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":                "MINIO_USE_SSL",
		"minio.bucket":                 "MINIO_BUCKET",
		"minio.region":                 "MINIO_REGION",
		"minio.bucket_lookup":          "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":     "MINIO_AUTO_CREATE_BUCKET",
		"auth.private_key_path":        "AUTH_PRIVATE_KEY_PATH",
		"auth.public_key_path":         "AUTH_PUBLIC_KEY_PATH",
		"auth.access_ttl":              "AUTH_ACCESS_TTL",
		"llm.base_url":                 "LLM_BASE_URL",
		"llm.api_key":                  "LLM_API_KEY",
		"llm.model":                    "LLM_MODEL",
		"llm.timeout":                  "LLM_TIMEOUT",
		"llm.max_retries":              "LLM_MAX_RETRIES",
		"llm.requests_per_second":      "LLM_REQUESTS_PER_SECOND",
		"llm.daily_quota":              "LLM_DAILY_QUOTA",
		"llm.concurrency":              "LLM_CONCURRENCY",
		"llm.cache_size":               "LLM_CACHE_SIZE",
		"llm.cache_ttl":                "LLM_CACHE_TTL",
		"realtime.heartbeat_interval":  "REALTIME_HEARTBEAT_INTERVAL",
		"realtime.idle_timeout":        "REALTIME_IDLE_TIMEOUT",
		"realtime.queue_capacity":      "REALTIME_QUEUE_CAPACITY",
		"languages.supported":          "SUPPORTED_LANGUAGES",
		"upload.max_video_bytes":       "UPLOAD_MAX_VIDEO_BYTES",
		"upload.max_certificate_bytes": "UPLOAD_MAX_CERTIFICATE_BYTES",
		"upload.clamd_addr":            "CLAMD_ADDR",
		"log.level":                    "LOG_LEVEL",
		"log.format":                   "LOG_FORMAT",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

// splitList 展开逗号分隔的环境变量值。
func splitList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.LLM.Timeout <= 0 {
		return errors.New("llm timeout must be positive")
	}
	if cfg.LLM.MaxRetries <= 0 {
		return errors.New("llm max retries must be positive")
	}
	if cfg.Realtime.HeartbeatInterval <= 0 {
		return errors.New("realtime heartbeat interval must be positive")
	}
	if cfg.Realtime.IdleTimeout <= cfg.Realtime.HeartbeatInterval {
		return errors.New("realtime idle timeout must exceed the heartbeat interval")
	}
	if cfg.Realtime.QueueCapacity <= 0 {
		return errors.New("realtime queue capacity must be positive")
	}
	langs, err := cv.ParseLanguages(cfg.Languages.Supported)
	if err != nil {
		return fmt.Errorf("supported languages: %w", err)
	}
	if !cv.Contains(langs, cv.DefaultLanguage) {
		return fmt.Errorf("supported languages must include %q", cv.DefaultLanguage)
	}
	if cfg.Upload.MaxVideoBytes <= 0 {
		return errors.New("upload max video bytes must be positive")
	}
	if cfg.Upload.MaxCertificateBytes <= 0 {
		return errors.New("upload max certificate bytes must be positive")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", cfg.Log.Format)
	}
	return nil
}
