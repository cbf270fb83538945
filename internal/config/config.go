package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Index     IndexConfig     `mapstructure:"index"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Encoder   EncoderConfig   `mapstructure:"encoder"`
	Video     VideoConfig     `mapstructure:"video"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Search    SearchConfig    `mapstructure:"search"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

type ServerConfig struct {
	Port      int        `mapstructure:"port"`
	Mode      string     `mapstructure:"mode"`
	UploadDir string     `mapstructure:"upload_dir"`
	CORS      CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Environment string `mapstructure:"environment"`
	File        string `mapstructure:"file"`
	FileOnly    bool   `mapstructure:"file_only"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres
	Path            string        `mapstructure:"path"`   // sqlite file
	URL             string        `mapstructure:"url"`    // postgres DSN
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
	Timeout         time.Duration `mapstructure:"timeout"`   // per metadata call, 0 disables
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path
}

// IndexConfig selects the similarity index backend.
type IndexConfig struct {
	Backend    string        `mapstructure:"backend"` // qdrant, memory
	Metric     string        `mapstructure:"metric"`  // cosine, euclid
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"` // per index call, 0 disables
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// StorageConfig configures archival of uploaded originals.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // none, local, s3, r2, s3compatible
	LocalDir  string `mapstructure:"local_dir"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

type EncoderConfig struct {
	Provider    string        `mapstructure:"provider"` // http, hash
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	NumFrames   int           `mapstructure:"num_frames"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type VideoConfig struct {
	AllowedFormats     []string `mapstructure:"allowed_formats"`
	MaxFileSizeMB      int64    `mapstructure:"max_file_size_mb"`
	MaxDurationSeconds float64  `mapstructure:"max_duration_seconds"`
	FFProbePath        string   `mapstructure:"ffprobe_path"` // empty disables duration probing
}

type CacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type IngestConfig struct {
	Workers     int         `mapstructure:"workers"`
	QueueSize   int         `mapstructure:"queue_size"`
	Schedulers  int         `mapstructure:"schedulers"`
	PersistJobs bool        `mapstructure:"persist_jobs"`
	Retry       RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

type SearchConfig struct {
	DefaultTopK int  `mapstructure:"default_top_k"`
	MaxTopK     int  `mapstructure:"max_top_k"`
	LogQueries  bool `mapstructure:"log_queries"`
}

// RateLimitConfig holds per-minute request budgets for each endpoint class.
type RateLimitConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"` // memory, redis
	SearchRPM int    `mapstructure:"search_rpm"`
	IndexRPM  int    `mapstructure:"index_rpm"`
	UploadRPM int    `mapstructure:"upload_rpm"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// Load reads configuration from an optional yaml file, .env and the environment.
// Parameters:
//   - configPath: explicit config file; empty searches ./configs and the working directory.
// Returns:
//   - *Config: resolved configuration.
//   - error: non-nil if the file cannot be parsed or validation fails.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Explicit bindings for secrets and the common deployment knobs.
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "LOG_FORMAT")
	_ = v.BindEnv("log.environment", "APP_ENV")
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("qdrant.host", "QDRANT_HOST")
	_ = v.BindEnv("qdrant.port", "QDRANT_PORT")
	_ = v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	_ = v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	_ = v.BindEnv("encoder.base_url", "ENCODER_BASE_URL")
	_ = v.BindEnv("encoder.api_key", "ENCODER_API_KEY")
	_ = v.BindEnv("redis.url", "REDIS_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.upload_dir", "./data/uploads")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "local")
	v.SetDefault("log.file", "/var/log/motionmatch/app.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/motionmatch.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.timeout", 5*time.Second)

	v.SetDefault("index.backend", "qdrant")
	v.SetDefault("index.metric", "cosine")
	v.SetDefault("index.dimensions", 1024)
	v.SetDefault("index.timeout", 10*time.Second)

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "motion_vectors")

	v.SetDefault("storage.type", "none")
	v.SetDefault("storage.local_dir", "./data/archive")
	v.SetDefault("storage.bucket", "motionmatch")
	v.SetDefault("storage.prefix", "videos")

	v.SetDefault("encoder.provider", "http")
	v.SetDefault("encoder.base_url", "http://localhost:9000")
	v.SetDefault("encoder.model", "facebook/vjepa2-vitl-fpc64-256")
	v.SetDefault("encoder.num_frames", 64)
	v.SetDefault("encoder.concurrency", 2)
	v.SetDefault("encoder.timeout", 2*time.Minute)

	v.SetDefault("video.allowed_formats", []string{"mp4", "avi", "mov", "mkv"})
	v.SetDefault("video.max_file_size_mb", 500)
	v.SetDefault("video.max_duration_seconds", 600.0)
	v.SetDefault("video.ffprobe_path", "ffprobe")

	v.SetDefault("cache.size", 1000)
	v.SetDefault("cache.ttl", time.Hour)

	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.queue_size", 64)
	v.SetDefault("ingest.schedulers", 1)
	v.SetDefault("ingest.persist_jobs", true)
	v.SetDefault("ingest.retry.max_attempts", 3)
	v.SetDefault("ingest.retry.initial_delay", 500*time.Millisecond)
	v.SetDefault("ingest.retry.max_delay", 10*time.Second)

	v.SetDefault("search.default_top_k", 20)
	v.SetDefault("search.max_top_k", 100)
	v.SetDefault("search.log_queries", true)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.search_rpm", 60)
	v.SetDefault("ratelimit.index_rpm", 10)
	v.SetDefault("ratelimit.upload_rpm", 5)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("database.url is required for postgres")
	}
	switch c.Index.Backend {
	case "qdrant", "memory":
	default:
		return fmt.Errorf("index.backend: unknown backend %q", c.Index.Backend)
	}
	switch c.Index.Metric {
	case "cosine", "euclid":
	default:
		return fmt.Errorf("index.metric: unknown metric %q", c.Index.Metric)
	}
	if c.Index.Dimensions <= 0 {
		return fmt.Errorf("index.dimensions must be positive")
	}
	switch c.Encoder.Provider {
	case "http", "hash":
	default:
		return fmt.Errorf("encoder.provider: unknown provider %q", c.Encoder.Provider)
	}
	if c.Index.Timeout < 0 || c.Database.Timeout < 0 || c.Encoder.Timeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Encoder.Concurrency <= 0 {
		return fmt.Errorf("encoder.concurrency must be positive")
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive")
	}
	if len(c.Video.AllowedFormats) == 0 {
		return fmt.Errorf("video.allowed_formats must not be empty")
	}
	if c.Search.MaxTopK <= 0 || c.Search.DefaultTopK <= 0 || c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("search: default_top_k must be within 1..max_top_k")
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("ratelimit.backend: unknown backend %q", c.RateLimit.Backend)
	}
	return nil
}
