package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/flowstream/internal/envelope"
	"github.com/rickgao/flowstream/internal/metrics"
	"github.com/rickgao/flowstream/internal/subscription"
)

const connectKey = "connect"

// Dispatcher receives every decoded inbound frame in wire order. Dispatch is
// called from the session goroutine and must not block.
type Dispatcher interface {
	Dispatch(env envelope.Envelope)
}

// DispatcherFunc is a function adapter for Dispatcher.
type DispatcherFunc func(envelope.Envelope)

func (f DispatcherFunc) Dispatch(env envelope.Envelope) {
	f(env)
}

// DialFunc opens a connected Client for one connection attempt.
type DialFunc func(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (Client, error)

// stopper is the part of *time.Timer the manager needs.
type stopper interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

func dialWebSocket(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (Client, error) {
	c := NewClient(cfg, logger)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// session is one open connection. Its done channel is closed exactly once,
// by whichever of Disconnect or connection loss retires it, together with
// out.
type session struct {
	id     uint64
	client Client
	topics []string // requested in the connect URL
	done   chan struct{}

	// out holds control frames for writeLoop. Frames are pushed under mu so
	// they leave in the order of the registry changes that produced them;
	// Push never blocks, so a stalled write never holds mu.
	out *Queue[envelope.Command]
}

// retire ends the session's loops. Must be called once, with mu held.
func (s *session) retire() {
	close(s.done)
	s.out.Close()
}

// Manager owns the stream connection and the subscription registry.
// All methods are safe for concurrent use.
type Manager struct {
	cfg        ManagerConfig
	dispatcher Dispatcher
	logger     *slog.Logger
	dial       DialFunc
	after      afterFunc

	// Callers requesting a connection while one is being established join
	// the in-flight attempt.
	connectGroup singleflight.Group

	mu             sync.Mutex
	state          State
	retries        int
	identity       string
	subs           *subscription.Registry
	sess           *session
	generation     uint64 // bumped by every connect attempt and by Disconnect
	reconnectTimer stopper
	cancelConnect  context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the WebSocket dialer.
func WithDialer(dial DialFunc) Option {
	return func(m *Manager) {
		m.dial = dial
	}
}

// NewManager creates a new Connection Manager. Decoded frames are handed to
// dispatcher, which may be nil.
func NewManager(cfg ManagerConfig, dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger.With("component", "connection"),
		dial:       dialWebSocket,
		after:      realAfterFunc,
		subs:       subscription.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureSubscribed requests interest in topics. If the connection is open,
// newly requested topics are subscribed immediately. Otherwise the call
// establishes the connection, or joins the attempt in flight, and returns
// when that attempt resolves; the topics are requested as part of it.
// During a scheduled reconnect the call returns at once and the topics go
// out with the reconnect.
//
// Acknowledgments are asynchronous: a nil return means the request was
// issued, not that the server confirmed it.
func (m *Manager) EnsureSubscribed(ctx context.Context, topics ...string) error {
	m.mu.Lock()
	added := m.subs.Request(topics...)
	m.updateTopicMetricsLocked()

	switch m.state {
	case StateOpen:
		if len(added) == 0 {
			m.mu.Unlock()
			return nil
		}
		m.sess.out.Push(envelope.Subscribe(added...))
		m.mu.Unlock()
		return nil
	case StateReconnectWaiting:
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.connect(ctx)
}

// Unsubscribe drops interest in a topic. Local bookkeeping is updated
// regardless of the connection state; the unsubscribe frame is only sent
// while open.
func (m *Manager) Unsubscribe(topic string) {
	m.mu.Lock()
	open := m.state == StateOpen
	m.subs.Remove(topic, open)
	m.updateTopicMetricsLocked()

	if open {
		m.sess.out.Push(envelope.Unsubscribe(topic))
	}
	m.mu.Unlock()
}

// Disconnect closes the connection on purpose. It cancels the heartbeat, any
// scheduled reconnect and any attempt in flight, forgets every subscription
// and returns once the close frame has been written.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.stopReconnectLocked()
	if m.cancelConnect != nil {
		m.cancelConnect()
		m.cancelConnect = nil
	}
	m.subs.Reset()
	m.retries = 0
	m.identity = ""
	m.updateTopicMetricsLocked()

	sess := m.sess
	m.sess = nil
	if sess == nil {
		m.setStateLocked(StateIdle)
		m.mu.Unlock()
		return nil
	}
	sess.retire()
	m.setStateLocked(StateClosing)
	m.mu.Unlock()

	err := sess.client.Close()

	m.mu.Lock()
	if m.generation == gen {
		m.setStateLocked(StateIdle)
	}
	m.mu.Unlock()

	m.logger.Info("disconnected")
	return err
}

// IsConnected reports whether the connection is open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateOpen
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the identity the server assigned on the current
// connection, or "" if none is known.
func (m *Manager) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Topics returns the confirmed and pending topics.
func (m *Manager) Topics() (confirmed, pending []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs.Confirmed(), m.subs.Pending()
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	confirmed, pending := m.subs.Counts()
	stats := ManagerStats{
		State:     m.state,
		Retries:   m.retries,
		Identity:  m.identity,
		Confirmed: confirmed,
		Pending:   pending,
	}
	if m.sess != nil {
		stats.Inbound = m.sess.client.Stats()
	}
	return stats
}

// connect starts a connection attempt or joins the one in flight.
func (m *Manager) connect(ctx context.Context) error {
	ch := m.connectGroup.DoChan(connectKey, func() (any, error) {
		return nil, m.attempt(0)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reconnect runs the attempt scheduled for generation gen.
func (m *Manager) reconnect(gen uint64) {
	_, err, _ := m.connectGroup.Do(connectKey, func() (any, error) {
		return nil, m.attempt(gen)
	})
	if err != nil && !errors.Is(err, ErrDisconnected) {
		m.logger.Debug("reconnect attempt ended", "error", err)
	}
}

// attempt performs one connection attempt. timerGen is zero for attempts
// requested by callers and the scheduling generation for reconnects.
func (m *Manager) attempt(timerGen uint64) error {
	m.mu.Lock()
	switch {
	case m.state == StateOpen:
		m.mu.Unlock()
		return nil
	case timerGen != 0 && (timerGen != m.generation || m.state != StateReconnectWaiting):
		// Disconnected or superseded while the timer was firing.
		m.mu.Unlock()
		return ErrDisconnected
	case timerGen == 0 && m.state == StateReconnectWaiting:
		m.mu.Unlock()
		return nil
	}

	if timerGen == 0 {
		m.retries = 0
	}
	m.stopReconnectLocked()
	m.generation++
	gen := m.generation
	topics := m.subs.Wanted()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	m.cancelConnect = cancel
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	defer cancel()

	m.logger.Info("connecting",
		"url", m.cfg.URL,
		"topics", len(topics),
		"reconnect", timerGen != 0,
	)

	var client Client
	target, err := m.streamURL(topics)
	if err == nil {
		client, err = m.dial(ctx, ClientConfig{
			URL:              target,
			Header:           m.cfg.Header,
			HandshakeTimeout: m.cfg.ConnectTimeout,
			WriteTimeout:     m.cfg.WriteTimeout,
			BufferSize:       m.cfg.BufferSize,
		}, m.logger)
	}
	if err != nil && isTimeout(ctx, err) {
		err = fmt.Errorf("%w after %s: %w", ErrConnectTimeout, m.cfg.ConnectTimeout, err)
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		if client != nil {
			client.Close()
		}
		return ErrDisconnected
	}
	m.cancelConnect = nil

	if err != nil {
		result := "error"
		if errors.Is(err, ErrConnectTimeout) {
			result = "timeout"
		}
		metrics.RecordConnectAttempt(result)

		if timerGen != 0 {
			// Recovery of a lost session is not a caller-visible failure:
			// callers who joined this attempt keep their topics pending for
			// the next attempt, or for the next explicit request after a
			// give-up.
			m.logger.Warn("reconnect failed", "error", err, "attempt", m.retries)
			m.scheduleReconnectLocked()
			m.mu.Unlock()
			return nil
		}
		m.logger.Warn("connect failed", "error", err)
		m.setStateLocked(StateIdle)
		m.mu.Unlock()
		return &ConnectError{URL: m.cfg.URL, Err: err}
	}
	metrics.RecordConnectAttempt("success")

	sess := &session{
		id:     gen,
		client: client,
		topics: topics,
		done:   make(chan struct{}),
		out:    NewQueue[envelope.Command](8),
	}
	m.sess = sess
	m.retries = 0
	m.setStateLocked(StateOpen)

	// Topics requested while the handshake was running are not in the URL.
	inURL := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		inURL[t] = struct{}{}
	}
	var late []string
	for _, t := range m.subs.Pending() {
		if _, ok := inURL[t]; !ok {
			late = append(late, t)
		}
	}

	m.logger.Info("connected", "session", gen, "topics", len(topics), "late_topics", len(late))

	if len(late) > 0 {
		sess.out.Push(envelope.Subscribe(late...))
	}

	go m.sessionLoop(sess)
	go m.writeLoop(sess)
	go m.heartbeatLoop(sess)

	m.mu.Unlock()
	return nil
}

// scheduleReconnectLocked arms the backoff timer, or gives up once the retry
// ceiling is reached. Must be called with mu held.
func (m *Manager) scheduleReconnectLocked() {
	if m.retries >= m.cfg.MaxRetries {
		_, pending := m.subs.Counts()
		m.logger.Warn("reconnect retries exhausted",
			"max_retries", m.cfg.MaxRetries,
			"pending_topics", pending,
		)
		metrics.ReconnectGiveUpsTotal.Inc()
		m.setStateLocked(StateIdle)
		return
	}

	delay := Backoff(m.cfg.ReconnectBaseWait, m.cfg.ReconnectMaxWait, m.retries)
	m.retries++
	gen := m.generation
	m.setStateLocked(StateReconnectWaiting)
	m.reconnectTimer = m.after(delay, func() { m.reconnect(gen) })
	metrics.ReconnectsScheduledTotal.Inc()

	m.logger.Info("reconnect scheduled",
		"delay", delay,
		"attempt", m.retries,
		"max_retries", m.cfg.MaxRetries,
	)
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// sessionLoop is the serialized context of one connection: it decodes and
// dispatches frames in wire order and handles the end of the connection.
func (m *Manager) sessionLoop(sess *session) {
	for {
		msg, ok := sess.client.Receive()
		if !ok {
			m.sessionEnded(sess, sess.client.Err())
			return
		}

		select {
		case <-sess.done:
			return
		default:
		}

		m.handleFrame(sess, msg)
	}
}

// sessionEnded handles the loss of a connection that was not closed through
// Disconnect.
func (m *Manager) sessionEnded(sess *session, err error) {
	m.mu.Lock()
	if m.sess != sess {
		m.mu.Unlock()
		return
	}
	m.sess = nil
	sess.retire()
	m.identity = ""
	m.subs.Demote()
	m.updateTopicMetricsLocked()

	if IsAbnormalClose(err) {
		m.logger.Warn("connection lost", "session", sess.id, "error", err)
		m.scheduleReconnectLocked()
	} else {
		m.logger.Info("connection closed by server", "session", sess.id)
		m.setStateLocked(StateIdle)
	}
	m.mu.Unlock()

	sess.client.Close()
}

func (m *Manager) handleFrame(sess *session, msg TimestampedMessage) {
	env, err := envelope.Decode(msg.Data)
	if err != nil {
		metrics.FramesMalformedTotal.Inc()
		m.logger.Warn("dropping malformed frame", "error", err, "bytes", len(msg.Data))
		return
	}
	metrics.RecordFrame(string(env.Kind()))

	switch e := env.(type) {
	case *envelope.Connected:
		m.handleConnected(sess, e)
	case *envelope.Subscribed:
		m.handleSubscribed(sess, e.Channel)
	case *envelope.Unsubscribed:
		m.handleUnsubscribed(sess, e.Channel)
	case *envelope.Pong:
		m.logger.Debug("heartbeat acknowledged")
	}

	if m.dispatcher != nil {
		m.dispatcher.Dispatch(env)
	}
}

// handleConnected seeds the registry from the connected frame. Seeded topics
// that were dropped while connecting are unsubscribed again.
func (m *Manager) handleConnected(sess *session, c *envelope.Connected) {
	m.mu.Lock()
	if m.sess != sess {
		m.mu.Unlock()
		return
	}

	if c.ClientID != "" {
		m.identity = c.ClientID
	}
	seed := c.Channels
	if len(seed) == 0 {
		seed = sess.topics
	}
	unwanted := m.subs.Seed(seed)
	for _, t := range unwanted {
		m.subs.Remove(t, true)
	}
	m.updateTopicMetricsLocked()

	m.logger.Info("stream session established",
		"client_id", c.ClientID,
		"execution_id", c.ExecutionID,
		"channels", len(seed),
		"unwanted", len(unwanted),
	)

	for _, t := range unwanted {
		sess.out.Push(envelope.Unsubscribe(t))
	}
	m.mu.Unlock()
}

func (m *Manager) handleSubscribed(sess *session, topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != sess {
		return
	}
	if !m.subs.Confirm(topic) {
		m.logger.Debug("ignoring acknowledgment for dropped topic", "topic", topic)
	}
	m.updateTopicMetricsLocked()
}

func (m *Manager) handleUnsubscribed(sess *session, topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != sess {
		return
	}
	m.subs.Release(topic)
	m.updateTopicMetricsLocked()
}

// heartbeatLoop sends a ping frame periodically while the session lives.
func (m *Manager) heartbeatLoop(sess *session) {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			sess.out.Push(envelope.Ping())
		}
	}
}

// writeLoop is the only writer of a session's control frames. A write
// blocks for at most WriteTimeout; a failed write is left to the session
// loop, which notices the broken connection on its own.
func (m *Manager) writeLoop(sess *session) {
	for {
		cmd, ok := sess.out.Pop()
		if !ok {
			return
		}

		data, err := cmd.Encode()
		if err != nil {
			m.logger.Error("failed to encode control frame", "type", cmd.Type, "error", err)
			continue
		}
		if err := sess.client.Send(data); err != nil {
			m.logger.Debug("failed to send control frame", "type", cmd.Type, "error", err)
		}
	}
}

// isTimeout reports whether a failed dial ran out of time.
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// streamURL builds the connect URL carrying the initial topic list.
func (m *Manager) streamURL(topics []string) (string, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	if m.cfg.Path != "" {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(m.cfg.Path, "/")
	}
	q := u.Query()
	if len(topics) > 0 {
		q.Set("channels", strings.Join(topics, ","))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) setStateLocked(s State) {
	m.state = s
	metrics.SetConnectionState(s.String())
}

func (m *Manager) updateTopicMetricsLocked() {
	metrics.SetSubscribedTopics(m.subs.Counts())
}
