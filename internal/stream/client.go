package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rickgao/flowstream/internal/auth"
	"github.com/rickgao/flowstream/internal/config"
	"github.com/rickgao/flowstream/internal/connection"
	"github.com/rickgao/flowstream/internal/envelope"
	"github.com/rickgao/flowstream/internal/router"
	"github.com/rickgao/flowstream/internal/version"
)

// ErrEmptyTopic is returned for an empty topic or task id.
var ErrEmptyTopic = errors.New("empty topic")

// Stats combines connection and dispatch statistics.
type Stats struct {
	Connection connection.ManagerStats
	Router     router.RouterStats
}

// Client multiplexes topic subscriptions over a single connection.
type Client struct {
	logger  *slog.Logger
	router  *router.Router
	manager *connection.Manager
}

// New creates a Client. Nothing is dialed until the first Connect,
// ConnectToTask or Subscribe.
func New(cfg connection.ManagerConfig, logger *slog.Logger, opts ...connection.Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	r := router.New(logger)
	return &Client{
		logger:  logger,
		router:  r,
		manager: connection.NewManager(cfg, r, logger, opts...),
	}
}

// ManagerConfig converts the stream and auth sections of a config file into
// a connection configuration. component names the process in the
// User-Agent.
func ManagerConfig(cfg *config.Config, component string) (connection.ManagerConfig, error) {
	var creds *auth.Credentials
	if cfg.Auth.Token != "" || cfg.Auth.TokenPath != "" || cfg.Auth.Cookie != "" {
		var err error
		creds, err = auth.LoadCredentials(cfg.Auth.Token, cfg.Auth.TokenPath, cfg.Auth.Cookie)
		if err != nil {
			return connection.ManagerConfig{}, err
		}
	}

	return connection.ManagerConfig{
		URL:               cfg.Stream.URL,
		Path:              cfg.Stream.Path,
		Header:            creds.Header(version.UserAgent(component)),
		ConnectTimeout:    cfg.Stream.ConnectTimeout,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		WriteTimeout:      cfg.Stream.WriteTimeout,
		MaxRetries:        cfg.Stream.Reconnect.MaxRetries,
		ReconnectBaseWait: cfg.Stream.Reconnect.BaseDelay,
		ReconnectMaxWait:  cfg.Stream.Reconnect.MaxDelay,
		BufferSize:        cfg.Stream.BufferSize,
	}, nil
}

// Connect ensures the connection is open and the given topics are
// requested. It returns once the connection attempt resolves; topic
// acknowledgments arrive asynchronously.
func (c *Client) Connect(ctx context.Context, topics ...string) error {
	for _, t := range topics {
		if t == "" {
			return ErrEmptyTopic
		}
	}
	return c.manager.EnsureSubscribed(ctx, topics...)
}

// ConnectToTask subscribes to the topic of one task over the shared
// connection.
func (c *Client) ConnectToTask(ctx context.Context, taskID string) error {
	if taskID == "" {
		return ErrEmptyTopic
	}
	return c.manager.EnsureSubscribed(ctx, envelope.TaskTopic(taskID))
}

// Subscribe requests one topic.
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	return c.manager.EnsureSubscribed(ctx, topic)
}

// Unsubscribe drops one topic. It never blocks on the network round-trip.
func (c *Client) Unsubscribe(topic string) {
	c.manager.Unsubscribe(topic)
}

// OnTaskUpdate registers h for execution updates of task id.
func (c *Client) OnTaskUpdate(taskID string, h func(router.TaskUpdate)) router.Unregister {
	return c.router.OnTaskUpdate(taskID, h)
}

// OnTaskLog registers h for log lines of task id.
func (c *Client) OnTaskLog(taskID string, h func(envelope.ExecutionLog)) router.Unregister {
	return c.router.OnTaskLog(taskID, h)
}

// OnNewTask registers h for new-task notifications.
func (c *Client) OnNewTask(h func(envelope.Notification)) router.Unregister {
	return c.router.OnNewTask(h)
}

// OnHistoryUpdate registers h for the history projection of every update.
func (c *Client) OnHistoryUpdate(h func(envelope.HistoryUpdate)) router.Unregister {
	return c.router.OnHistoryUpdate(h)
}

// OnAuxLog registers h for auxiliary stream log lines.
func (c *Client) OnAuxLog(h func(envelope.AuxLog)) router.Unregister {
	return c.router.OnAuxLog(h)
}

// OnAuxComplete registers h for auxiliary stream completion.
func (c *Client) OnAuxComplete(h func(envelope.AuxComplete)) router.Unregister {
	return c.router.OnAuxComplete(h)
}

// Disconnect closes the connection and forgets all subscriptions. Handler
// registrations are kept. It returns when the close frame has been written
// or ctx is done, whichever comes first.
func (c *Client) Disconnect(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- c.manager.Disconnect()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.logger.Warn("disconnect timed out")
		return ctx.Err()
	}
}

// IsConnected reports whether the connection is open.
func (c *Client) IsConnected() bool {
	return c.manager.IsConnected()
}

// Identity returns the server-assigned client identity, if known.
func (c *Client) Identity() string {
	return c.manager.Identity()
}

// Stats returns connection and dispatch statistics.
func (c *Client) Stats() Stats {
	return Stats{
		Connection: c.manager.Stats(),
		Router:     c.router.Stats(),
	}
}

// Header builds handshake headers from a token and cookie without a config
// file.
func Header(token, cookie, component string) http.Header {
	var creds *auth.Credentials
	if token != "" || cookie != "" {
		creds = &auth.Credentials{Token: token, Cookie: cookie}
	}
	return creds.Header(version.UserAgent(component))
}
