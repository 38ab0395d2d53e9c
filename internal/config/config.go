package config

import "time"

// Config is the root configuration shared by flowwatch and the recorder.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Stream   StreamConfig   `yaml:"stream"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
	Database DBConfig       `yaml:"database"`
	Writer   WriterConfig   `yaml:"writer"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// StreamConfig holds the stream connection settings.
type StreamConfig struct {
	URL               string          `yaml:"url"`    // e.g. wss://flows.example.com
	Path              string          `yaml:"path"`   // stream endpoint, default /ws
	Topics            []string        `yaml:"topics"` // subscribed on startup
	ConnectTimeout    time.Duration   `yaml:"connect_timeout"`
	HeartbeatInterval time.Duration   `yaml:"heartbeat_interval"`
	WriteTimeout      time.Duration   `yaml:"write_timeout"`
	BufferSize        int             `yaml:"buffer_size"`
	Reconnect         ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig holds the backoff policy applied after an abnormal close.
type ReconnectConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// AuthConfig holds the ambient credentials attached to the handshake.
type AuthConfig struct {
	Token     string `yaml:"token"`
	TokenPath string `yaml:"token_path"`
	Cookie    string `yaml:"cookie"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds history writer batching settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus metrics and health endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
