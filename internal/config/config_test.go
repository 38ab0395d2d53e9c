package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-recorder
stream:
  url: wss://flows.example.com
  topics:
    - user:u1
    - task:42
  reconnect:
    max_retries: 5
    base_delay: 500ms
database:
  host: localhost
  port: 5432
  name: flows
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-recorder" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-recorder")
	}
	if cfg.Stream.URL != "wss://flows.example.com" {
		t.Errorf("Stream.URL = %q, want %q", cfg.Stream.URL, "wss://flows.example.com")
	}
	if len(cfg.Stream.Topics) != 2 || cfg.Stream.Topics[1] != "task:42" {
		t.Errorf("Stream.Topics = %v, want [user:u1 task:42]", cfg.Stream.Topics)
	}
	if cfg.Stream.Reconnect.MaxRetries != 5 {
		t.Errorf("Stream.Reconnect.MaxRetries = %d, want 5", cfg.Stream.Reconnect.MaxRetries)
	}
	if cfg.Stream.Reconnect.BaseDelay != 500*time.Millisecond {
		t.Errorf("Stream.Reconnect.BaseDelay = %v, want 500ms", cfg.Stream.Reconnect.BaseDelay)
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_STREAM_TOKEN", "secret123")
	t.Setenv("TEST_DB_PASSWORD", "dbsecret")

	yaml := `
instance:
  id: test-recorder
stream:
  url: wss://flows.example.com
auth:
  token: ${TEST_STREAM_TOKEN}
database:
  host: localhost
  name: flows
  user: testuser
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.Token != "secret123" {
		t.Errorf("Auth.Token = %q, want %q", cfg.Auth.Token, "secret123")
	}
	if cfg.Database.Password != "dbsecret" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "dbsecret")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempFile(t, "stream: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-recorder
stream:
  url: wss://flows.example.com
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Stream.Path != DefaultStreamPath {
		t.Errorf("Stream.Path = %q, want default %q", cfg.Stream.Path, DefaultStreamPath)
	}
	if cfg.Stream.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("Stream.ConnectTimeout = %v, want default %v", cfg.Stream.ConnectTimeout, DefaultConnectTimeout)
	}
	if cfg.Stream.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("Stream.HeartbeatInterval = %v, want default %v", cfg.Stream.HeartbeatInterval, DefaultHeartbeatInterval)
	}
	if cfg.Stream.Reconnect.MaxRetries != DefaultMaxRetries {
		t.Errorf("Stream.Reconnect.MaxRetries = %d, want default %d", cfg.Stream.Reconnect.MaxRetries, DefaultMaxRetries)
	}
	if cfg.Stream.Reconnect.MaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("Stream.Reconnect.MaxDelay = %v, want default %v", cfg.Stream.Reconnect.MaxDelay, DefaultReconnectMaxDelay)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Database.MaxConns != DefaultMaxConns {
		t.Errorf("Database.MaxConns = %d, want default %d", cfg.Database.MaxConns, DefaultMaxConns)
	}
	if cfg.Writer.BatchSize != DefaultBatchSize {
		t.Errorf("Writer.BatchSize = %d, want default %d", cfg.Writer.BatchSize, DefaultBatchSize)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q, want default %q", cfg.Log.Level, DefaultLogLevel)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: x\n")

	_, err := LoadAndValidate(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "stream.url is required") {
		t.Errorf("error = %q, want it to mention stream.url", err.Error())
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: x\nstream:\n  urll: wss://flows.example.com\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "urll") {
		t.Errorf("error = %q, want it to name the unknown key", err.Error())
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeTempFile(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Instance.ID != "" {
		t.Errorf("Instance.ID = %q, want empty", cfg.Instance.ID)
	}
}

func TestLoadRecorder(t *testing.T) {
	yaml := `
instance:
  id: rec
stream:
  url: wss://flows.example.com
database:
  host: localhost
  name: flows
  user: recorder
  password: secret
`
	_, err := LoadRecorder(writeTempFile(t, yaml))
	if err == nil {
		t.Fatal("expected error without topics")
	}
	if !strings.Contains(err.Error(), "stream.topics") {
		t.Errorf("error = %q, want it to mention stream.topics", err.Error())
	}

	withTopics := strings.Replace(yaml, "url: wss://flows.example.com\n", "url: wss://flows.example.com\n  topics: [\"user:u1\"]\n", 1)
	cfg, err := LoadRecorder(writeTempFile(t, withTopics))
	if err != nil {
		t.Fatalf("LoadRecorder failed: %v", err)
	}
	if cfg.Writer.BatchSize != DefaultBatchSize {
		t.Errorf("Writer.BatchSize = %d, want default %d", cfg.Writer.BatchSize, DefaultBatchSize)
	}
}

func validConfig() Config {
	return Config{
		Instance: InstanceConfig{ID: "test"},
		Stream: StreamConfig{
			URL:            "wss://flows.example.com",
			Path:           "/ws",
			Topics:         []string{"user:u1"},
			ConnectTimeout: 10 * time.Second,
			Reconnect: ReconnectConfig{
				MaxRetries: 3,
				BaseDelay:  time.Second,
				MaxDelay:   30 * time.Second,
			},
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Port: 9090},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing stream url",
			mutate:  func(c *Config) { c.Stream.URL = "" },
			wantErr: "stream.url is required",
		},
		{
			name:    "http scheme",
			mutate:  func(c *Config) { c.Stream.URL = "https://flows.example.com" },
			wantErr: `stream.url scheme must be ws or wss, got "https"`,
		},
		{
			name:    "empty topic",
			mutate:  func(c *Config) { c.Stream.Topics = []string{"user:u1", ""} },
			wantErr: "stream.topics[1] is empty",
		},
		{
			name:    "topic with comma",
			mutate:  func(c *Config) { c.Stream.Topics = []string{"a,b"} },
			wantErr: "stream.topics[0] must not contain a comma",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Stream.Reconnect.MaxRetries = -1 },
			wantErr: "stream.reconnect.max_retries must be >= 0",
		},
		{
			name:    "base delay exceeds max",
			mutate:  func(c *Config) { c.Stream.Reconnect.BaseDelay = time.Minute },
			wantErr: "stream.reconnect.base_delay (1m0s) cannot exceed max_delay (30s)",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: `log.level must be one of debug, info, warn, error, got "verbose"`,
		},
		{
			name:    "bad metrics port",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestValidateRecorder(t *testing.T) {
	tests := []struct {
		name    string
		db       DBConfig
		writer   WriterConfig
		noTopics bool
		wantErr  string
	}{
		{
			name:    "missing database host",
			wantErr: "database.host is required",
		},
		{
			name:    "missing database password",
			db:      DBConfig{Host: "localhost", Name: "db", User: "user"},
			wantErr: "database.password is required",
		},
		{
			name:    "min_conns exceeds max_conns",
			db:      DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "zero batch size",
			db:      DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5},
			writer:  WriterConfig{BufferSize: 10, FlushInterval: time.Second},
			wantErr: "writer.batch_size must be >= 1",
		},
		{
			name:     "no topics",
			db:       DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 1},
			writer:   WriterConfig{BatchSize: 100, BufferSize: 10, FlushInterval: time.Second},
			noTopics: true,
			wantErr:  "stream.topics must name at least one topic to record",
		},
		{
			name:   "valid",
			db:     DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 1},
			writer: WriterConfig{BatchSize: 100, BufferSize: 10, FlushInterval: time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Database = tt.db
			cfg.Writer = tt.writer
			if tt.noTopics {
				cfg.Stream.Topics = nil
			}
			err := cfg.ValidateRecorder()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateRecorder() unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("ValidateRecorder() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLogConfig(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := (LogConfig{Level: tt.level}).SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}

	var buf bytes.Buffer
	logger := LogConfig{Level: "info", Format: "json"}.NewLogger(&buf)
	logger.Debug("hidden")
	logger.Info("shown", "topic", "task:1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug record written at info level")
	}
	if !strings.Contains(out, `"topic":"task:1"`) {
		t.Errorf("json output = %q, want topic attribute", out)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
