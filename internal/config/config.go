package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Worker  WorkerConfig  `yaml:"worker"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
}

// StorageConfig holds output layout configuration.
type StorageConfig struct {
	DownloadPath     string `yaml:"download_path" envconfig:"DOWNLOAD_PATH"`
	KeepIntermediate bool   `yaml:"keep_intermediate" envconfig:"KEEP_INTERMEDIATE"`
	MinFreeBytes     int64  `yaml:"min_free_bytes" envconfig:"MIN_FREE_BYTES"`
}

// WorkerConfig holds worker pool and retry configuration.
type WorkerConfig struct {
	Count        int           `yaml:"count" envconfig:"WORKER_COUNT"`
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"WORKER_POLL_INTERVAL"`
	MaxRetries   int           `yaml:"max_retries" envconfig:"RETRY_MAX"`
	RetryDelay   time.Duration `yaml:"retry_delay" envconfig:"RETRY_DELAY"`
}

// ProxyConfig holds relay proxy pool configuration.
type ProxyConfig struct {
	DefaultURL      string            `yaml:"default_url" envconfig:"DEFAULT_PROXY"`
	ListPath        string            `yaml:"list_path" envconfig:"PROXY_LIST_PATH"`
	Candidates      []ProxyCandidate  `yaml:"candidates" ignored:"true"`
	ProbeTimeout    time.Duration     `yaml:"probe_timeout" envconfig:"PROXY_PROBE_TIMEOUT"`
	RefreshInterval time.Duration     `yaml:"refresh_interval" envconfig:"PROXY_REFRESH_INTERVAL"`
	RequestTimeout  time.Duration     `yaml:"request_timeout" envconfig:"PROXY_REQUEST_TIMEOUT"`
	ManifestTTL     time.Duration     `yaml:"manifest_ttl" envconfig:"PROXY_MANIFEST_TTL"`
	ManifestCache   int               `yaml:"manifest_cache" envconfig:"PROXY_MANIFEST_CACHE"`
	Headers         map[string]string `yaml:"headers" ignored:"true"`
}

// ProxyCandidate is one statically configured relay.
type ProxyCandidate struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// FetchConfig holds stream download and mux configuration.
type FetchConfig struct {
	// Backend is "ffmpeg" (stream copy through ffmpeg) or "http" (direct GET).
	Backend       string        `yaml:"backend" envconfig:"FETCH_BACKEND"`
	FFmpegPath    string        `yaml:"ffmpeg_path" envconfig:"FFMPEG_PATH"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"FETCH_TIMEOUT"`
	HeaderTimeout time.Duration `yaml:"header_timeout" envconfig:"FETCH_HEADER_TIMEOUT"`
	ReadTimeout   time.Duration `yaml:"read_timeout" envconfig:"FETCH_READ_TIMEOUT"`
	UserAgent     string        `yaml:"user_agent" envconfig:"FETCH_USER_AGENT"`
}

// JobsConfig selects the job store backend.
type JobsConfig struct {
	// Store is "memory", "sqlite" or "redis".
	Store      string      `yaml:"store" envconfig:"JOB_STORE"`
	SQLitePath string      `yaml:"sqlite_path" envconfig:"JOB_SQLITE_PATH"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig holds the Redis job store connection.
type RedisConfig struct {
	Addr      string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Username  string `yaml:"username" envconfig:"REDIS_USER"`
	Password  string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" envconfig:"REDIS_DB"`
	TLS       bool   `yaml:"tls" envconfig:"REDIS_TLS"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"REDIS_KEY_PREFIX"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Minute,
		},
		Storage: StorageConfig{
			DownloadPath: "download",
			MinFreeBytes: 512 << 20,
		},
		Worker: WorkerConfig{
			Count:        2,
			PollInterval: 2 * time.Second,
			MaxRetries:   5,
			RetryDelay:   10 * time.Second,
		},
		Proxy: ProxyConfig{
			DefaultURL:      "https://pipedapi.kavin.rocks",
			ProbeTimeout:    5 * time.Second,
			RefreshInterval: 10 * time.Minute,
			RequestTimeout:  30 * time.Second,
			ManifestTTL:     10 * time.Minute,
			ManifestCache:   256,
		},
		Fetch: FetchConfig{
			Backend:       "ffmpeg",
			FFmpegPath:    "ffmpeg",
			Timeout:       30 * time.Minute,
			HeaderTimeout: 30 * time.Second,
			ReadTimeout:   2 * time.Minute,
			UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		},
		Jobs: JobsConfig{
			Store:      "memory",
			SQLitePath: "vidyodl.db",
			Redis: RedisConfig{
				Addr:      "celery-redis:6379",
				KeyPrefix: "vidyodl:",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration in three layers: built-in defaults, then
// the YAML file if one is given, then environment variables that are set.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// No field carries a default tag, so only variables that are set
	// change cfg.
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Proxy.DefaultURL == "" {
		return fmt.Errorf("DEFAULT_PROXY is required")
	}
	if c.Storage.DownloadPath == "" {
		return fmt.Errorf("DOWNLOAD_PATH is required")
	}
	if c.Worker.MaxRetries < 1 {
		return fmt.Errorf("RETRY_MAX must be at least 1, got %d", c.Worker.MaxRetries)
	}
	if c.Worker.RetryDelay < 0 {
		return fmt.Errorf("RETRY_DELAY must not be negative")
	}
	for i, p := range c.Proxy.Candidates {
		if p.URL == "" {
			return fmt.Errorf("proxy candidate %d has no url", i)
		}
	}
	switch c.Fetch.Backend {
	case "ffmpeg", "http":
	default:
		return fmt.Errorf("unknown FETCH_BACKEND %q", c.Fetch.Backend)
	}
	switch c.Jobs.Store {
	case "memory", "redis":
	case "sqlite":
		if c.Jobs.SQLitePath == "" {
			return fmt.Errorf("JOB_SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown JOB_STORE %q", c.Jobs.Store)
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
