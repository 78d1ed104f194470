package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Storage: StorageConfig{DownloadPath: "/data/download"},
		Worker:  WorkerConfig{MaxRetries: 5, RetryDelay: 10 * time.Second},
		Proxy:   ProxyConfig{DefaultURL: "https://pipedapi.kavin.rocks"},
		Fetch:   FetchConfig{Backend: "ffmpeg"},
		Jobs:    JobsConfig{Store: "memory"},
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() should pass, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "missing default proxy",
			mutate:  func(c *Config) { c.Proxy.DefaultURL = "" },
			wantErr: true,
		},
		{
			name:    "missing download path",
			mutate:  func(c *Config) { c.Storage.DownloadPath = "" },
			wantErr: true,
		},
		{
			name:    "zero retries",
			mutate:  func(c *Config) { c.Worker.MaxRetries = 0 },
			wantErr: true,
		},
		{
			name:    "negative retry delay",
			mutate:  func(c *Config) { c.Worker.RetryDelay = -time.Second },
			wantErr: true,
		},
		{
			name:    "candidate without url",
			mutate:  func(c *Config) { c.Proxy.Candidates = []ProxyCandidate{{Name: "broken"}} },
			wantErr: true,
		},
		{
			name:    "unknown fetch backend",
			mutate:  func(c *Config) { c.Fetch.Backend = "wget" },
			wantErr: true,
		},
		{
			name:    "http fetch backend",
			mutate:  func(c *Config) { c.Fetch.Backend = "http" },
			wantErr: false,
		},
		{
			name:    "unknown job store",
			mutate:  func(c *Config) { c.Jobs.Store = "postgres" },
			wantErr: true,
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Jobs.Store = "sqlite"; c.Jobs.SQLitePath = "" },
			wantErr: true,
		},
		{
			name:    "redis store",
			mutate:  func(c *Config) { c.Jobs.Store = "redis" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{
			name: "default",
			cfg:  ServerConfig{Host: "0.0.0.0", Port: 8000},
			want: "0.0.0.0:8000",
		},
		{
			name: "localhost",
			cfg:  ServerConfig{Host: "localhost", Port: 8080},
			want: "localhost:8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Address(); got != tt.want {
				t.Errorf("Address() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Worker.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Worker.MaxRetries)
	}
	if cfg.Worker.RetryDelay != 10*time.Second {
		t.Errorf("RetryDelay = %v, want 10s", cfg.Worker.RetryDelay)
	}
	if cfg.Proxy.DefaultURL != "https://pipedapi.kavin.rocks" {
		t.Errorf("DefaultURL = %q", cfg.Proxy.DefaultURL)
	}
	if cfg.Storage.DownloadPath != "download" {
		t.Errorf("DownloadPath = %q, want download", cfg.Storage.DownloadPath)
	}
	if cfg.Jobs.Store != "memory" {
		t.Errorf("Store = %q, want memory", cfg.Jobs.Store)
	}
	if cfg.Jobs.Redis.KeyPrefix != "vidyodl:" {
		t.Errorf("Redis.KeyPrefix = %q", cfg.Jobs.Redis.KeyPrefix)
	}
}

func TestLoad_FromYAMLFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  api_key: "yaml-api-key"
worker:
  max_retries: 2
  retry_delay: 1s
proxy:
  default_url: https://mine.example
  list_path: "/etc/vidyodl/proxy.json"
  candidates:
    - name: kavin
      url: https://pipedapi.kavin.rocks
    - name: adminforge
      url: https://pipedapi.adminforge.de
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.APIKey != "yaml-api-key" {
		t.Errorf("APIKey = %q, want %q", cfg.Server.APIKey, "yaml-api-key")
	}
	if cfg.Proxy.ListPath != "/etc/vidyodl/proxy.json" {
		t.Errorf("ListPath = %q", cfg.Proxy.ListPath)
	}
	if cfg.Worker.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.Worker.MaxRetries)
	}
	if cfg.Worker.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", cfg.Worker.RetryDelay)
	}
	if cfg.Proxy.DefaultURL != "https://mine.example" {
		t.Errorf("DefaultURL = %q, want https://mine.example", cfg.Proxy.DefaultURL)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Worker.Count != 2 {
		t.Errorf("Count = %d, want 2", cfg.Worker.Count)
	}
	if cfg.Fetch.Backend != "ffmpeg" {
		t.Errorf("Backend = %q, want ffmpeg", cfg.Fetch.Backend)
	}
	if len(cfg.Proxy.Candidates) != 2 {
		t.Fatalf("Candidates = %d, want 2", len(cfg.Proxy.Candidates))
	}
	if cfg.Proxy.Candidates[1].Name != "adminforge" {
		t.Errorf("Candidates[1].Name = %q", cfg.Proxy.Candidates[1].Name)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  api_key: "yaml-api-key"
worker:
  max_retries: 4
  count: 6
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("API_KEY", "env-api-key")
	t.Setenv("RETRY_MAX", "3")
	t.Setenv("RETRY_DELAY", "1s")
	t.Setenv("JOB_STORE", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6380")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.APIKey != "env-api-key" {
		t.Errorf("APIKey should be from env, got %q", cfg.Server.APIKey)
	}
	if cfg.Worker.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Worker.MaxRetries)
	}
	if cfg.Worker.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", cfg.Worker.RetryDelay)
	}
	if cfg.Jobs.Redis.Addr != "localhost:6380" {
		t.Errorf("Redis.Addr = %q", cfg.Jobs.Redis.Addr)
	}
	if cfg.Worker.Count != 6 {
		t.Errorf("Count = %d, want 6 from YAML", cfg.Worker.Count)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidYAML := `
server:
  host: "localhost
  port: 8080
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load should fail for invalid YAML")
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load should fail for nonexistent file")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	t.Setenv("FETCH_BACKEND", "curl")

	_, err := Load("")
	if err == nil {
		t.Error("Load should fail validation for an unknown fetch backend")
	}
}
