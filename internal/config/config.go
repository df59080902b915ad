// backend-go/internal/config/config.go
package config

import (
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/gdelt"
)

type Config struct {
	App      AppConfig
	Source   SourceConfig
	HTTP     HTTPConfig
	Pacing   PacingConfig
	Extract  ExtractConfig
	Storage  StorageConfig
	Cache    CacheConfig
	Database DatabaseConfig
	Schedule ScheduleConfig
	Server   ServerConfig
}

type AppConfig struct {
	DownloadDir string
	LogLevel    string
	LogFormat   string
}

type SourceConfig struct {
	DailyBaseURL    string
	BackfileBaseURL string
	DailyIndexURL   string
	YearlyThreshold int
	LinkSuffix      string
}

type HTTPConfig struct {
	Timeout   time.Duration
	ChunkSize int
	UserAgent string
}

type PacingConfig struct {
	Interval time.Duration
}

type ExtractConfig struct {
	RequireUTF8 bool
}

type StorageConfig struct {
	Driver    string
	Bucket    string
	Folder    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool
}

type CacheConfig struct {
	Enabled           bool
	RedisURL          string
	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	ListingTTLSeconds int
}

type DatabaseConfig struct {
	URL            string
	MaxConcurrency int64
}

type ScheduleConfig struct {
	Cron     string
	Timezone string
}

type ServerConfig struct {
	Enabled        bool
	Port           string
	Mode           string
	AllowedOrigins []string
}

var (
	once     sync.Once
	instance *Config
)

// Load reads .env and the process environment once and returns the shared config.
func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		viper.AutomaticEnv()
		instance = FromViper(viper.GetViper())
	})

	return instance
}

// SetDefaults registers the default value of every known key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_DOWNLOAD_DIR", "./data/gdelt")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("GDELT_DAILY_BASE_URL", gdelt.DefaultDailyBaseURL)
	v.SetDefault("GDELT_BACKFILE_BASE_URL", gdelt.DefaultBackfileBaseURL)
	v.SetDefault("GDELT_DAILY_INDEX_URL", gdelt.DefaultDailyIndexURL)
	v.SetDefault("GDELT_YEARLY_THRESHOLD", gdelt.DefaultYearlyThreshold)
	v.SetDefault("GDELT_LINK_SUFFIX", ".zip")

	v.SetDefault("HTTP_TIMEOUT_SECONDS", 600)
	v.SetDefault("HTTP_CHUNK_SIZE", 1024)
	v.SetDefault("HTTP_USER_AGENT", "gdelt-fetch/1.0")

	v.SetDefault("PACING_INTERVAL_SECONDS", 15)
	v.SetDefault("EXTRACT_REQUIRE_UTF8", false)

	v.SetDefault("STORAGE_DRIVER", "s3")
	v.SetDefault("STORAGE_BUCKET", "")
	v.SetDefault("STORAGE_FOLDER", "")
	v.SetDefault("STORAGE_REGION", "us-east-1")
	v.SetDefault("STORAGE_ENDPOINT", "")
	v.SetDefault("STORAGE_ACCESS_KEY", "")
	v.SetDefault("STORAGE_SECRET_KEY", "")
	v.SetDefault("STORAGE_USE_SSL", true)
	v.SetDefault("STORAGE_PATH_STYLE", false)

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_LISTING_TTL_SECONDS", 3600)

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_CONCURRENCY", 4)

	v.SetDefault("SCHEDULE_CRON", "0 10 * * *")
	v.SetDefault("SCHEDULE_TIMEZONE", "Local")

	v.SetDefault("SERVER_ENABLED", false)
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "release")
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
}

// FromViper builds a Config from v after registering defaults on it.
func FromViper(v *viper.Viper) *Config {
	SetDefaults(v)

	return &Config{
		App: AppConfig{
			DownloadDir: v.GetString("APP_DOWNLOAD_DIR"),
			LogLevel:    v.GetString("LOG_LEVEL"),
			LogFormat:   strings.ToLower(v.GetString("LOG_FORMAT")),
		},
		Source: SourceConfig{
			DailyBaseURL:    v.GetString("GDELT_DAILY_BASE_URL"),
			BackfileBaseURL: v.GetString("GDELT_BACKFILE_BASE_URL"),
			DailyIndexURL:   v.GetString("GDELT_DAILY_INDEX_URL"),
			YearlyThreshold: v.GetInt("GDELT_YEARLY_THRESHOLD"),
			LinkSuffix:      v.GetString("GDELT_LINK_SUFFIX"),
		},
		HTTP: HTTPConfig{
			Timeout:   time.Duration(v.GetInt("HTTP_TIMEOUT_SECONDS")) * time.Second,
			ChunkSize: v.GetInt("HTTP_CHUNK_SIZE"),
			UserAgent: v.GetString("HTTP_USER_AGENT"),
		},
		Pacing: PacingConfig{
			Interval: time.Duration(v.GetInt("PACING_INTERVAL_SECONDS")) * time.Second,
		},
		Extract: ExtractConfig{
			RequireUTF8: v.GetBool("EXTRACT_REQUIRE_UTF8"),
		},
		Storage: StorageConfig{
			Driver:    strings.ToLower(v.GetString("STORAGE_DRIVER")),
			Bucket:    v.GetString("STORAGE_BUCKET"),
			Folder:    v.GetString("STORAGE_FOLDER"),
			Region:    v.GetString("STORAGE_REGION"),
			Endpoint:  v.GetString("STORAGE_ENDPOINT"),
			AccessKey: v.GetString("STORAGE_ACCESS_KEY"),
			SecretKey: v.GetString("STORAGE_SECRET_KEY"),
			UseSSL:    v.GetBool("STORAGE_USE_SSL"),
			PathStyle: v.GetBool("STORAGE_PATH_STYLE"),
		},
		Cache: CacheConfig{
			Enabled:           v.GetBool("CACHE_ENABLED"),
			RedisURL:          v.GetString("REDIS_URL"),
			RedisHost:         v.GetString("REDIS_HOST"),
			RedisPort:         v.GetString("REDIS_PORT"),
			RedisPassword:     v.GetString("REDIS_PASSWORD"),
			RedisDB:           v.GetInt("REDIS_DB"),
			ListingTTLSeconds: v.GetInt("CACHE_LISTING_TTL_SECONDS"),
		},
		Database: DatabaseConfig{
			URL:            v.GetString("DATABASE_URL"),
			MaxConcurrency: v.GetInt64("DB_MAX_CONCURRENCY"),
		},
		Schedule: ScheduleConfig{
			Cron:     v.GetString("SCHEDULE_CRON"),
			Timezone: v.GetString("SCHEDULE_TIMEZONE"),
		},
		Server: ServerConfig{
			Enabled:        v.GetBool("SERVER_ENABLED"),
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
	}
}

// GDELTSource converts the configured locations into a gdelt.Source.
func (c *Config) GDELTSource() gdelt.Source {
	return gdelt.Source{
		DailyBaseURL:    c.Source.DailyBaseURL,
		BackfileBaseURL: c.Source.BackfileBaseURL,
		DailyIndexURL:   c.Source.DailyIndexURL,
		YearlyThreshold: c.Source.YearlyThreshold,
	}
}
