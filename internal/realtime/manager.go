// Package realtime keeps the single notification socket to the CRM backend
// alive and turns its frames into bus events.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"visadesk/internal/domain"
	"visadesk/internal/metrics"
)

const (
	DefaultOpenAckTimeout = 5 * time.Second
	DefaultReconnectDelay = 5 * time.Second

	writeTimeout = 10 * time.Second
	closeGrace   = time.Second
)

// Options configures a Manager. Zero durations fall back to the defaults;
// a zero PingInterval disables the client heartbeat.
type Options struct {
	URL            string
	OpenAckTimeout time.Duration
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	Dialer         Dialer
}

// Manager owns the notification socket.
//
// Every connection attempt runs under a generation number. Tearing down the
// current attempt bumps the generation, so callbacks from an older socket,
// timer or reader find a mismatch and do nothing.
//
// State changes are published to the bus while the manager lock is held;
// state handlers must not call back into the Manager. Event handlers may run
// while Reconnect or Close waits for them, so they must not call those either.
type Manager struct {
	tokens domain.TokenSource
	bus    domain.EventBus
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu             sync.Mutex
	ctx            context.Context
	cancel         context.CancelFunc
	gen            uint64
	active         bool // an attempt is dialing or a socket is open
	acked          bool
	sock           Socket
	ackTimer       *time.Timer
	reconnectTimer *time.Timer
	stopPing       chan struct{}
	closed         bool

	wmu   sync.Mutex // gorilla allows one concurrent writer
	pubMu sync.Mutex // held across the generation check and Publish
}

func NewManager(tokens domain.TokenSource, bus domain.EventBus, opts Options, logger *slog.Logger) *Manager {
	if opts.OpenAckTimeout <= 0 {
		opts.OpenAckTimeout = DefaultOpenAckTimeout
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer(opts.OpenAckTimeout)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		tokens: tokens,
		bus:    bus,
		opts:   opts,
		logger: logger.With("component", "realtime"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start binds the manager to ctx and connects. Cancelling ctx closes the manager.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	context.AfterFunc(ctx, m.Close)
	m.Connect()
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	return m.bus.State()
}

// Connect starts an attempt unless one is already dialing or open.
// A pending reconnect is superseded.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.active {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	gen := m.gen
	m.mu.Unlock()

	m.attempt(gen)
}

// Reconnect force-closes any socket, clears every timer and connects now.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	sock := m.detachLocked()
	m.setStateLocked(domain.Disconnected)
	gen := m.gen
	m.mu.Unlock()

	closeGracefully(sock)
	m.drainPublishes()
	m.logger.Info("manual reconnect")
	m.attempt(gen)
}

// Close disposes the manager: the socket is closed and every timer is
// stopped before Close returns. Later calls are no-ops.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sock := m.detachLocked()
	m.cancel()
	m.setStateLocked(domain.Disconnected)
	m.mu.Unlock()

	closeGracefully(sock)
	m.drainPublishes()
	m.logger.Debug("manager closed")
}

// attempt runs one connect for gen: token, dial, then hand the socket to a reader.
func (m *Manager) attempt(gen uint64) {
	m.mu.Lock()
	if !m.currentLocked(gen) {
		m.mu.Unlock()
		return
	}
	m.active = true
	ctx := m.ctx
	m.mu.Unlock()

	token, ok := m.tokens.ValidAccessToken(ctx)
	if !ok {
		metrics.ConnectAttempts.WithLabelValues("no_token").Inc()
		m.logger.Warn("no valid access token, staying disconnected")
		m.mu.Lock()
		if m.currentLocked(gen) {
			m.active = false
			m.setStateLocked(domain.Disconnected)
		}
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	if !m.currentLocked(gen) {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(domain.Connecting)
	m.mu.Unlock()

	target, err := withToken(m.opts.URL, token)
	if err != nil {
		m.logger.Error("invalid notification url", "err", err)
		m.fail(gen, false, err)
		return
	}

	sock, err := m.opts.Dialer(ctx, target)
	if err != nil {
		metrics.ConnectAttempts.WithLabelValues("dial_error").Inc()
		m.logger.Warn("dial failed", "url", m.opts.URL, "err", err)
		m.fail(gen, false, err)
		return
	}
	metrics.ConnectAttempts.WithLabelValues("dialed").Inc()

	m.mu.Lock()
	if !m.currentLocked(gen) {
		m.mu.Unlock()
		sock.Close()
		return
	}
	m.sock = sock
	m.acked = false
	m.ackTimer = time.AfterFunc(m.opts.OpenAckTimeout, func() { m.ackExpired(gen) })
	if m.opts.PingInterval > 0 {
		m.stopPing = make(chan struct{})
		go m.heartbeat(gen, sock, m.stopPing)
	}
	m.mu.Unlock()

	m.logger.Debug("socket open, awaiting connection.established", "gen", gen)
	go m.readLoop(gen, sock)
}

func (m *Manager) readLoop(gen uint64, sock Socket) {
	for {
		kind, data, err := sock.ReadMessage()
		if err != nil {
			clean := isCleanClose(err)
			if clean {
				m.logger.Info("socket closed by server", "err", err)
			} else {
				m.logger.Warn("socket closed uncleanly", "err", err)
			}
			m.fail(gen, clean, err)
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		m.handleFrame(gen, sock, data)
	}
}

func (m *Manager) handleFrame(gen uint64, sock Socket, data []byte) {
	ev, err := DecodeFrame(data, m.now())
	if err != nil {
		metrics.MalformedFrames.Inc()
		m.logger.Debug("dropping frame", "err", err)
		return
	}
	metrics.FramesReceived.WithLabelValues(ev.EventType()).Inc()

	switch ev.(type) {
	case domain.ConnectionEstablished:
		m.established(gen)
		return
	case domain.Ping:
		if err := m.write(sock, encodeControl(domain.EventPong)); err != nil {
			m.logger.Debug("pong write failed", "err", err)
		}
	}

	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	m.mu.Lock()
	current := m.currentLocked(gen)
	m.mu.Unlock()
	if current {
		m.bus.Publish(ev)
	}
}

// drainPublishes waits for a publish that passed its generation check before
// the generation moved on. Afterwards no frame of an older socket reaches the bus.
func (m *Manager) drainPublishes() {
	m.pubMu.Lock()
	m.pubMu.Unlock()
}

func (m *Manager) established(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.currentLocked(gen) || m.acked {
		return
	}
	m.acked = true
	if m.ackTimer != nil {
		m.ackTimer.Stop()
		m.ackTimer = nil
	}
	m.setStateLocked(domain.Connected)
	m.logger.Info("connected")
}

func (m *Manager) ackExpired(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.currentLocked(gen) || m.acked {
		return
	}

	metrics.Disconnects.WithLabelValues("ack_timeout").Inc()
	m.logger.Warn("no connection.established before timeout, closing", "timeout", m.opts.OpenAckTimeout)
	m.failLocked(false, domain.ErrConnectionTimeout)
}

// fail is the single close/error path: state goes to Disconnected, timers are
// cleared and, unless the close was clean, a reconnect is scheduled.
func (m *Manager) fail(gen uint64, clean bool, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.currentLocked(gen) {
		return
	}
	m.failLocked(clean, cause)
}

func (m *Manager) failLocked(clean bool, cause error) {
	m.resetLocked()
	m.setStateLocked(domain.Disconnected)

	if clean {
		metrics.Disconnects.WithLabelValues("clean").Inc()
		return
	}
	if !errors.Is(cause, domain.ErrConnectionTimeout) {
		metrics.Disconnects.WithLabelValues("unclean").Inc()
	}

	next := m.gen
	m.reconnectTimer = time.AfterFunc(m.opts.ReconnectDelay, func() { m.attempt(next) })
	metrics.ReconnectsScheduled.Inc()
	m.logger.Info("reconnect scheduled", "delay", m.opts.ReconnectDelay,
		"cause", fmt.Errorf("%w: %v", domain.ErrConnectionClosedUnclean, cause))
}

// resetLocked invalidates the current generation: the socket is closed and
// the ack timer, heartbeat and reconnect timer are stopped.
func (m *Manager) resetLocked() {
	if sock := m.detachLocked(); sock != nil {
		sock.Close()
	}
}

// detachLocked is resetLocked without closing the socket, which is returned
// so the caller can close it once the lock is released.
func (m *Manager) detachLocked() Socket {
	m.gen++
	m.active = false
	m.acked = false
	if m.ackTimer != nil {
		m.ackTimer.Stop()
		m.ackTimer = nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.stopPing != nil {
		close(m.stopPing)
		m.stopPing = nil
	}
	sock := m.sock
	m.sock = nil
	return sock
}

func (m *Manager) currentLocked(gen uint64) bool {
	return !m.closed && gen == m.gen
}

func (m *Manager) setStateLocked(s domain.ConnectionState) {
	metrics.ConnectionState.Set(float64(s))
	m.bus.SetState(s)
}

func (m *Manager) heartbeat(gen uint64, sock Socket, stop <-chan struct{}) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()
	ping := encodeControl(domain.EventPing)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.write(sock, ping); err != nil {
				m.logger.Debug("heartbeat write failed", "gen", gen, "err", err)
				return
			}
		}
	}
}

// write sends a text frame. A peer that stops reading fails the write after
// writeTimeout instead of holding the writer forever.
func (m *Manager) write(sock Socket, data []byte) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	if err := sock.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return sock.WriteMessage(websocket.TextMessage, data)
}

// closeGracefully sends a normal close frame, waiting at most closeGrace, and
// closes the socket. WriteControl may run alongside a pending write, so a
// stalled heartbeat cannot hold it up. Errors are irrelevant here.
func closeGracefully(sock Socket) {
	if sock == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	sock.Close()
}

// withToken appends the bearer token as the token query parameter.
func withToken(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
