package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatgo/internal/bus"
	"chatgo/internal/domain"
	"chatgo/internal/events"
)

const (
	eventOnlineUsers = "getOnlineUsers"
	eventNewMessage  = "newMessage"

	userIDQueryParam = "userId"
	handshakeTimeout = 6 * time.Second
	closeGracePeriod = 2 * time.Second
)

// envelope is the wire frame for server pushed events.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Manager owns the single push channel connection, keyed to the identity it
// was opened for. It publishes presence snapshots and inbound messages to
// the bus; nothing else may open or close the channel.
type Manager struct {
	bus    bus.MessageBus
	logger *slog.Logger
	url    string
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	userID string
}

func NewManager(pushURL string, messageBus bus.MessageBus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default().With("component", "push")
	}

	return &Manager{
		bus:    messageBus,
		logger: logger,
		url:    pushURL,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

// Connect opens the push channel for the given identity. Calling it again
// while already open for the same identity is a no-op. An open connection
// for a different identity should have been torn down with Disconnect first;
// if it was not, the stale connection is closed before dialing.
func (m *Manager) Connect(ctx context.Context, identity domain.Identity) error {
	if identity.ID == "" {
		return fmt.Errorf("connect push channel: identity id is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		if m.userID == identity.ID {
			m.logger.Debug("connect skipped: already connected", "user_id", identity.ID)

			return nil
		}
		m.logger.Warn("closing channel left open for another identity",
			"open_for", m.userID, "requested_for", identity.ID)
		_ = m.conn.Close()
		m.conn = nil
		m.userID = ""
	}

	target, err := m.buildURL(identity.ID)
	if err != nil {
		return err
	}

	m.publishStatus(events.ConnectionStatus{
		State:  events.ConnectionStateConnecting,
		UserID: identity.ID,
		Target: target,
	})
	m.logger.Info("connecting push channel", "user_id", identity.ID, "target", target)

	conn, resp, err := m.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		m.publishStatus(events.ConnectionStatus{
			State:  events.ConnectionStateDisconnected,
			Err:    err.Error(),
			UserID: identity.ID,
			Target: target,
		})
		m.logger.Warn("push channel connect failed", "user_id", identity.ID, "error", err)

		return fmt.Errorf("dial push channel: %w", err)
	}

	m.conn = conn
	m.userID = identity.ID

	m.publishStatus(events.ConnectionStatus{
		State:  events.ConnectionStateConnected,
		UserID: identity.ID,
		Target: target,
	})
	m.logger.Info("push channel connected", "user_id", identity.ID)

	go m.readLoop(conn, identity.ID)

	return nil
}

// Disconnect closes the push channel. No-op when not connected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	userID := m.userID
	m.conn = nil
	m.userID = ""
	m.mu.Unlock()

	if conn == nil {
		m.logger.Debug("disconnect skipped: not connected")

		return
	}

	deadline := time.Now().Add(closeGracePeriod)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = conn.Close()

	m.publishStatus(events.ConnectionStatus{
		State:  events.ConnectionStateDisconnected,
		UserID: userID,
	})
	m.logger.Info("push channel closed", "user_id", userID)
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.conn != nil
}

// ConnectedUserID returns the identity id the channel is open for, or "".
func (m *Manager) ConnectedUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.userID
}

// OnInboundMessage attaches a handler for pushed messages accepted by the
// filter. The returned cancel func detaches it and is safe to call twice.
func (m *Manager) OnInboundMessage(filter func(domain.Message) bool, handler func(domain.Message)) func() {
	sub := m.bus.Subscribe(events.TopicMessageIn)

	go func() {
		for raw := range sub {
			msg, ok := raw.(domain.Message)
			if !ok {
				continue
			}
			if filter != nil && !filter(msg) {
				continue
			}
			handler(msg)
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() {
			m.bus.Unsubscribe(sub, events.TopicMessageIn)
		})
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, userID string) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			m.handleClosed(conn, userID, err)

			return
		}
		m.dispatch(env)
	}
}

func (m *Manager) dispatch(env envelope) {
	switch env.Event {
	case eventOnlineUsers:
		var ids []string
		if err := json.Unmarshal(env.Data, &ids); err != nil {
			m.logger.Warn("malformed presence snapshot", "error", err)

			return
		}
		m.bus.Publish(events.TopicPresence, events.PresenceSnapshot{
			UserIDs:    ids,
			ReceivedAt: time.Now(),
		})
	case eventNewMessage:
		var msg domain.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			m.logger.Warn("malformed pushed message", "error", err)

			return
		}
		m.bus.Publish(events.TopicMessageIn, msg)
	default:
		m.logger.Debug("ignoring unknown push event", "event", env.Event)
	}
}

// handleClosed runs when the read loop ends. If the manager still considers
// this connection current, the channel dropped on its own; an explicit
// Disconnect already cleared the field and published the status.
func (m *Manager) handleClosed(conn *websocket.Conn, userID string, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()

		return
	}
	m.conn = nil
	m.userID = ""
	m.mu.Unlock()

	_ = conn.Close()

	status := events.ConnectionStatus{
		State:  events.ConnectionStateDisconnected,
		UserID: userID,
	}
	if cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		status.Err = cause.Error()
		m.logger.Warn("push channel dropped", "user_id", userID, "error", cause)
	} else {
		m.logger.Info("push channel closed by server", "user_id", userID)
	}
	m.publishStatus(status)
}

func (m *Manager) publishStatus(status events.ConnectionStatus) {
	status.Timestamp = time.Now()
	m.bus.Publish(events.TopicConnStatus, status)
}

func (m *Manager) buildURL(userID string) (string, error) {
	parsed, err := url.Parse(m.url)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	query := parsed.Query()
	query.Set(userIDQueryParam, userID)
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}
