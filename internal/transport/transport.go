// Package transport owns the logical duplex channel to a session: it
// dials, classifies failures, schedules at most one reconnect, and
// pushes everything inbound through a small hook surface.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tablesync/session"
)

// ConnState is the externally visible channel state. It is owned here
// and read-only everywhere else.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnected
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Destination names a view the embedding layer should navigate to.
type Destination int

const (
	// DestSummary is the post-session summary view.
	DestSummary Destination = iota
	// DestListing is the session listing view.
	DestListing
)

func (d Destination) String() string {
	if d == DestSummary {
		return "summary"
	}
	return "listing"
}

// Application close codes used by the session service.
const (
	closeAuthFailed       = 4001
	closePermissionDenied = 4003
	closeNotFound         = 4004
)

const summaryAvailableType = "summary_available"

// Hooks is the outward contract. Each hook fires at most once per
// event and never after Close. Hooks are invoked with internal state
// held and must not call back into the Manager; enqueue and return.
type Hooks struct {
	OnMessage          func(*session.Session)
	OnError            func(error)
	OnConnectionChange func(ConnState)
	OnNavigate         func(Destination)
}

// Config for a Manager. Zero delays take the service defaults.
type Config struct {
	// URL is the websocket base, e.g. ws://host:8080.
	URL string

	// ReconnectDelay is the wait before the single scheduled
	// reconnect after a retryable closure.
	ReconnectDelay time.Duration
	// NavigateDelay is the wait before a navigation side effect.
	NavigateDelay time.Duration

	HandshakeTimeout time.Duration
	Header           http.Header
	Logger           *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.NavigateDelay <= 0 {
		c.NavigateDelay = 2 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

var ErrClosed = errors.New("transport: closed")

// ParseError wraps a malformed inbound payload. The channel keeps
// running; the payload is dropped.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "transport: malformed payload: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// Manager owns one logical channel per active session.
type Manager struct {
	cfg   Config
	log   *zap.Logger
	hooks Hooks

	mu        sync.Mutex
	sessionID string
	conn      *websocket.Conn
	gen       uint64
	state     ConnState
	closed    bool

	reconnectTimer *time.Timer
	navTimers      []*time.Timer
}

// New creates a Manager. The channel is not opened until Connect.
func New(cfg Config, hooks Hooks) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:   cfg,
		log:   cfg.Logger.Named("transport"),
		hooks: hooks,
		state: StateDisconnected,
	}
}

// Connect opens the channel for the given session. Any pending
// reconnect is cancelled first; a previous live connection for the
// same Manager is discarded.
func (m *Manager) Connect(sessionID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.sessionID = sessionID
	m.cancelReconnectLocked()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.gen++
	gen := m.gen
	m.setStateLocked(StateConnecting)
	url := m.streamURL(sessionID)
	m.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(url, m.cfg.Header)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen {
		if conn != nil {
			conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		m.log.Warn("dial failed", zap.String("session", sessionID), zap.Error(err))
		m.setStateLocked(StateDisconnected)
		m.emitErrorLocked(fmt.Errorf("transport: dial: %w", err))
		m.scheduleReconnectLocked()
		return err
	}

	m.conn = conn
	m.setStateLocked(StateConnected)
	m.log.Info("connected", zap.String("session", sessionID))
	go m.readPump(conn, gen)
	return nil
}

func (m *Manager) streamURL(sessionID string) string {
	return strings.TrimRight(m.cfg.URL, "/") + "/sessions/" + sessionID + "/stream"
}

// State returns the current channel state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) readPump(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(err, gen)
			return
		}
		m.dispatchInbound(data)
	}
}

// dispatchInbound normalizes one envelope: either a side-channel
// notification or a full session snapshot. Notifications never reach
// the reconciler.
func (m *Manager) dispatchInbound(data []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		m.reportParse(err)
		return
	}
	if probe.Type == summaryAvailableType {
		m.mu.Lock()
		if !m.closed {
			m.log.Info("summary available, scheduling navigation")
			m.scheduleNavigateLocked(DestSummary)
		}
		m.mu.Unlock()
		return
	}

	var snap session.Session
	if err := json.Unmarshal(data, &snap); err != nil {
		m.reportParse(err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.hooks.OnMessage != nil {
		m.hooks.OnMessage(&snap)
	}
}

func (m *Manager) reportParse(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.log.Warn("dropping malformed payload", zap.Error(err))
	m.emitErrorLocked(&ParseError{Err: err})
}

// handleReadError classifies an abnormal closure. Normal closure,
// authentication failure, permission denial and not-found are
// terminal; not-found additionally navigates to the listing view.
// Every other code gets exactly one scheduled reconnect.
func (m *Manager) handleReadError(err error, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen {
		return
	}
	m.conn = nil

	code := websocket.CloseAbnormalClosure
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	}
	m.log.Info("channel closed", zap.Int("code", code), zap.Error(err))

	switch code {
	case websocket.CloseNormalClosure:
		m.setStateLocked(StateDisconnected)
	case closeAuthFailed:
		m.setStateLocked(StateError)
		m.emitErrorLocked(errors.New("transport: authentication failed"))
	case closePermissionDenied:
		m.setStateLocked(StateError)
		m.emitErrorLocked(errors.New("transport: permission denied"))
	case closeNotFound:
		m.setStateLocked(StateError)
		m.emitErrorLocked(errors.New("transport: session not found"))
		m.scheduleNavigateLocked(DestListing)
	default:
		m.setStateLocked(StateDisconnected)
		m.scheduleReconnectLocked()
	}
}

func (m *Manager) scheduleReconnectLocked() {
	m.cancelReconnectLocked()
	sessionID := m.sessionID
	m.log.Info("reconnect scheduled",
		zap.String("session", sessionID),
		zap.Duration("delay", m.cfg.ReconnectDelay))
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		_ = m.Connect(sessionID)
	})
}

func (m *Manager) cancelReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) scheduleNavigateLocked(dest Destination) {
	t := time.AfterFunc(m.cfg.NavigateDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return
		}
		if m.hooks.OnNavigate != nil {
			m.hooks.OnNavigate(dest)
		}
	})
	m.navTimers = append(m.navTimers, t)
}

func (m *Manager) setStateLocked(s ConnState) {
	if m.state == s {
		return
	}
	m.state = s
	if m.hooks.OnConnectionChange != nil {
		m.hooks.OnConnectionChange(s)
	}
}

func (m *Manager) emitErrorLocked(err error) {
	if m.hooks.OnError != nil {
		m.hooks.OnError(err)
	}
}

// Close tears the channel down: cancels every timer, closes the socket
// with a normal-closure frame and guarantees that no hook fires
// afterward. Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.gen++
	m.cancelReconnectLocked()
	for _, t := range m.navTimers {
		t.Stop()
	}
	m.navTimers = nil

	if m.conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		m.conn.Close()
		m.conn = nil
	}
	m.log.Info("closed", zap.String("session", m.sessionID))
	return nil
}
