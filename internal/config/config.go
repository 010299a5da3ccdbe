package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Project  string
	Storage  StorageConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Relay    RelayConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type StorageConfig struct {
	Backend     string
	Dir         string
	RawBucket   string
	ImageBucket string
}

type ScraperConfig struct {
	UserAgent         string
	Timeout           time.Duration
	DelayMin          time.Duration
	DelayMax          time.Duration
	MaxLinks          int
	MaxImages         int
	ImageWorkers      int
	ImageFetchTimeout time.Duration
}

type BrowserConfig struct {
	Headless    bool
	Locale      string
	ProxyServer string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RelayConfig struct {
	Enabled      bool
	PollInterval time.Duration
	BatchSize    int
	StreamMaxLen int64
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Project: getEnvOrDefault("FIREBASE_PROJECT", os.Getenv("GCP_PROJECT")),
		Storage: StorageConfig{
			Backend:     getEnvOrDefault("STORAGE_BACKEND", "gcs"),
			Dir:         getEnvOrDefault("STORAGE_DIR", "./data"),
			RawBucket:   os.Getenv("RAW_BUCKET"),
			ImageBucket: os.Getenv("IMAGE_BUCKET"),
		},
		Scraper: ScraperConfig{
			UserAgent:         getEnvOrDefault("SCRAPER_USER_AGENT", defaultUserAgent),
			Timeout:           time.Duration(getIntOrDefault("SCRAPER_TIMEOUT", 60)) * time.Second,
			DelayMin:          getDurationOrDefault("SCRAPER_DELAY_MIN", 3*time.Second),
			DelayMax:          getDurationOrDefault("SCRAPER_DELAY_MAX", 8*time.Second),
			MaxLinks:          getIntOrDefault("SCRAPER_MAX_LINKS", 5),
			MaxImages:         getIntOrDefault("SCRAPER_MAX_IMAGES", 5),
			ImageWorkers:      getIntOrDefault("SCRAPER_IMAGE_WORKERS", 4),
			ImageFetchTimeout: getDurationOrDefault("IMAGE_FETCH_TIMEOUT", 20*time.Second),
		},
		Browser: BrowserConfig{
			Headless:    getBoolOrDefault("BROWSER_HEADLESS", true),
			Locale:      getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			ProxyServer: os.Getenv("BROWSER_PROXY"),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", true),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "grid_scraper"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Relay: RelayConfig{
			Enabled:      getBoolOrDefault("RELAY_ENABLED", true),
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
			StreamMaxLen: int64(getIntOrDefault("RELAY_STREAM_MAX_LEN", 100000)),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/98.0.4758.102 Safari/537.36"

var storageBackends = []string{"gcs", "redis", "file", "memory"}

// Bucket names used by dry runs when none are configured. Dry runs keep
// everything in memory, so the names only label the mem:// URIs.
const (
	dryRunRawBucket   = "dry-run-raw"
	dryRunImageBucket = "dry-run-images"
)

// ForDryRun adjusts c for a run that writes nothing: storage moves to memory
// with default bucket names, and the database and relay are switched off.
func (c *Config) ForDryRun() {
	c.Storage.Backend = "memory"
	if c.Storage.RawBucket == "" {
		c.Storage.RawBucket = dryRunRawBucket
	}
	if c.Storage.ImageBucket == "" {
		c.Storage.ImageBucket = dryRunImageBucket
	}
	c.Database.Enabled = false
	c.Relay.Enabled = false
}

func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Server.Port)
	}

	if !contains(storageBackends, c.Storage.Backend) {
		return fmt.Errorf("STORAGE_BACKEND must be one of %s", strings.Join(storageBackends, ", "))
	}

	if c.Storage.RawBucket == "" || c.Storage.ImageBucket == "" {
		return fmt.Errorf("RAW_BUCKET and IMAGE_BUCKET are required")
	}

	if c.Storage.Backend == "file" && c.Storage.Dir == "" {
		return fmt.Errorf("STORAGE_DIR is required for the file backend")
	}

	if c.Scraper.DelayMin > c.Scraper.DelayMax {
		return fmt.Errorf("SCRAPER_DELAY_MIN cannot be greater than SCRAPER_DELAY_MAX")
	}

	if c.Scraper.Timeout <= 0 {
		return fmt.Errorf("SCRAPER_TIMEOUT must be positive")
	}

	if c.Scraper.MaxLinks < 1 || c.Scraper.MaxImages < 1 {
		return fmt.Errorf("SCRAPER_MAX_LINKS and SCRAPER_MAX_IMAGES must be at least 1")
	}

	if c.Scraper.ImageWorkers < 1 {
		return fmt.Errorf("SCRAPER_IMAGE_WORKERS must be at least 1")
	}

	if c.Relay.StreamMaxLen < 0 {
		return fmt.Errorf("RELAY_STREAM_MAX_LEN cannot be negative")
	}

	if c.Relay.BatchSize < 1 {
		return fmt.Errorf("RELAY_BATCH_SIZE must be at least 1")
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
