package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
// The database section is checked separately by ValidateRecorder.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Stream.validate("stream"); err != nil {
		return err
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

// ValidateRecorder runs Validate and additionally checks the sections only
// the recorder uses.
func (c *Config) ValidateRecorder() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if err := c.Database.Validate("database"); err != nil {
		return err
	}

	if c.Writer.BatchSize < 1 {
		return errors.New("writer.batch_size must be >= 1")
	}
	if c.Writer.BufferSize < 1 {
		return errors.New("writer.buffer_size must be >= 1")
	}
	if c.Writer.FlushInterval <= 0 {
		return errors.New("writer.flush_interval must be > 0")
	}

	if len(c.Stream.Topics) == 0 {
		return errors.New("stream.topics must name at least one topic to record")
	}

	return nil
}

func (s *StreamConfig) validate(prefix string) error {
	if s.URL == "" {
		return fmt.Errorf("%s.url is required", prefix)
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("%s.url is invalid: %w", prefix, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s.url scheme must be ws or wss, got %q", prefix, u.Scheme)
	}
	for i, topic := range s.Topics {
		if topic == "" {
			return fmt.Errorf("%s.topics[%d] is empty", prefix, i)
		}
		if strings.Contains(topic, ",") {
			return fmt.Errorf("%s.topics[%d] must not contain a comma", prefix, i)
		}
	}
	if s.ConnectTimeout <= 0 {
		return fmt.Errorf("%s.connect_timeout must be > 0", prefix)
	}
	if s.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("%s.reconnect.max_retries must be >= 0", prefix)
	}
	if s.Reconnect.MaxDelay < s.Reconnect.BaseDelay {
		return fmt.Errorf("%s.reconnect.base_delay (%s) cannot exceed max_delay (%s)",
			prefix, s.Reconnect.BaseDelay, s.Reconnect.MaxDelay)
	}
	return nil
}

// Validate checks a database section. prefix names the section in errors.
func (db *DBConfig) Validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
