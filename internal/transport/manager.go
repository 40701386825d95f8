package transport

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/washline/washline/internal/models"
)

// State is the transport-level connection state. It reflects only the
// socket itself, not application-level readiness such as an acknowledged
// identity-room join.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var errNoConnection = errors.New("no connection")

const (
	// reconnectAttempts and reconnectDelay bound the reconnection loop:
	// a fixed number of attempts with a fixed delay, no exponential backoff
	reconnectAttempts = 5
	reconnectDelay    = time.Second

	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
)

// Manager owns the process's single bidirectional connection to the chat
// backend and multiplexes all conversations over it via logical room
// memberships. All operations are fire-and-forget: connection failures are
// logged, never returned, and never block the caller.
type Manager struct {
	url string
	log *slog.Logger

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	identity models.Identity
	session  string
	// rooms holds joined conversation keys, replayed after a reconnect
	rooms map[string]struct{}
	done  chan struct{}

	handlerTok uint64
	handler    func(models.Message)
	stateTok   uint64
	stateFn    func(State)

	// writeMu serializes frame writes on the shared connection
	writeMu sync.Mutex
}

// NewManager creates a connection manager for the given websocket URL. The
// connection is not opened until Connect is called.
func NewManager(socketURL string, log *slog.Logger) *Manager {
	return &Manager{
		url:   socketURL,
		log:   log,
		rooms: make(map[string]struct{}),
	}
}

// Connect opens the connection and registers the identity room once the
// handshake completes. It is idempotent: if a connection is already open or
// being opened, the call is a no-op. Reconnection after a drop is the
// manager's own responsibility, bounded by reconnectAttempts.
func (m *Manager) Connect(identity models.Identity) {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		m.log.Debug("socket already connected, skipping")
		return
	}
	m.identity = identity
	m.session = uuid.NewString()
	m.state = StateConnecting
	m.done = make(chan struct{})
	done := m.done
	session := m.session
	fn := m.stateFn
	m.mu.Unlock()

	if fn != nil {
		fn(StateConnecting)
	}
	m.log.Info("connecting to socket",
		slog.String("url", m.url),
		slog.String("user", identity.ID),
		slog.String("role", string(identity.Role)),
		slog.String("session", session))

	go m.run(done)
}

// Disconnect closes the connection and clears internal state. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateDisconnected && m.conn == nil {
		m.mu.Unlock()
		return
	}
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	conn := m.conn
	m.conn = nil
	m.rooms = make(map[string]struct{})
	m.state = StateDisconnected
	fn := m.stateFn
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if fn != nil {
		fn(StateDisconnected)
	}
	m.log.Info("disconnected from socket")
}

// IsConnected reports the current transport-level connected flag.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// Send emits a message frame for low-latency delivery to the counterpart.
// If the socket is not connected the message is dropped with a log entry;
// the durable store is the caller's fallback of record.
func (m *Manager) Send(msg models.Message) {
	if !m.IsConnected() {
		m.log.Error("cannot send message, socket not connected")
		return
	}
	if err := m.writeFrame(EventSendMessage, msg); err != nil {
		m.log.Warn("socket send failed", slog.Any("error", err))
	}
}

// Subscribe registers the single active listener for inbound messages and
// returns its cancel func. A later Subscribe replaces the listener; cancel
// is a no-op once replaced.
func (m *Manager) Subscribe(fn func(models.Message)) func() {
	m.mu.Lock()
	m.handlerTok++
	tok := m.handlerTok
	m.handler = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		if m.handlerTok == tok {
			m.handler = nil
		}
		m.mu.Unlock()
	}
}

// StateChanges registers a listener invoked on every connection state
// transition, with the same replace-and-cancel semantics as Subscribe.
func (m *Manager) StateChanges(fn func(State)) func() {
	m.mu.Lock()
	m.stateTok++
	tok := m.stateTok
	m.stateFn = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		if m.stateTok == tok {
			m.stateFn = nil
		}
		m.mu.Unlock()
	}
}

// JoinConversation emits a room-membership frame for the conversation
// derived from the shop and the two participants. No-op if not connected.
func (m *Manager) JoinConversation(shopID string, a, b models.Identity) {
	key := models.ConversationKey(shopID, a, b)
	m.mu.Lock()
	connected := m.state == StateConnected
	if connected {
		m.rooms[key] = struct{}{}
	}
	m.mu.Unlock()

	if !connected {
		m.log.Debug("not connected, skipping room join", slog.String("room", key))
		return
	}
	if err := m.writeFrame(EventJoinConversation, RoomPayload{ConversationID: key}); err != nil {
		m.log.Warn("room join failed", slog.String("room", key), slog.Any("error", err))
		return
	}
	m.log.Info("joined conversation", slog.String("room", key))
}

// LeaveConversation releases the conversation room. No-op if not connected.
func (m *Manager) LeaveConversation(shopID string, a, b models.Identity) {
	key := models.ConversationKey(shopID, a, b)
	m.mu.Lock()
	connected := m.state == StateConnected
	delete(m.rooms, key)
	m.mu.Unlock()

	if !connected {
		m.log.Debug("not connected, skipping room leave", slog.String("room", key))
		return
	}
	if err := m.writeFrame(EventLeaveConversation, RoomPayload{ConversationID: key}); err != nil {
		m.log.Warn("room leave failed", slog.String("room", key), slog.Any("error", err))
		return
	}
	m.log.Info("left conversation", slog.String("room", key))
}

// run is the connect/read/reconnect loop for one Connect call. It exits
// when done closes or the bounded retry budget is spent.
func (m *Manager) run(done chan struct{}) {
	attempts := 0
	for {
		select {
		case <-done:
			return
		default:
		}

		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, _, err := dialer.Dial(m.url, nil)
		if err != nil {
			attempts++
			m.log.Warn("socket dial failed",
				slog.Int("attempt", attempts),
				slog.Any("error", err))
			if attempts >= reconnectAttempts {
				m.log.Error("socket reconnection attempts exhausted",
					slog.Int("attempts", attempts))
				m.setState(StateDisconnected)
				return
			}
			select {
			case <-done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		attempts = 0
		if !m.attach(conn, done) {
			conn.Close()
			return
		}
		m.readLoop(conn, done)
		m.detach(conn)

		select {
		case <-done:
			return
		default:
		}
		m.log.Info("socket connection lost, reconnecting")
		m.setState(StateConnecting)
	}
}

// attach installs a freshly dialed connection, announces the identity room
// and replays conversation-room memberships held before the drop. It reports
// false, leaving the connection for the caller to close, when Disconnect or
// a newer Connect tore this run loop down while the dial was in flight.
func (m *Manager) attach(conn *websocket.Conn, done chan struct{}) bool {
	m.mu.Lock()
	if m.done != done {
		m.mu.Unlock()
		m.log.Debug("discarding stale dial result")
		return false
	}
	m.conn = conn
	m.state = StateConnected
	identity := m.identity
	session := m.session
	rooms := make([]string, 0, len(m.rooms))
	for r := range m.rooms {
		rooms = append(rooms, r)
	}
	fn := m.stateFn
	m.mu.Unlock()

	if fn != nil {
		fn(StateConnected)
	}
	m.log.Info("connected to socket", slog.String("session", session))

	if err := m.writeFrame(EventJoin, JoinPayload{UserID: identity.ID, UserType: identity.Role}); err != nil {
		m.log.Warn("identity room join failed", slog.Any("error", err))
	}
	for _, r := range rooms {
		if err := m.writeFrame(EventJoinConversation, RoomPayload{ConversationID: r}); err != nil {
			m.log.Warn("room rejoin failed", slog.String("room", r), slog.Any("error", err))
		}
	}
	return true
}

func (m *Manager) detach(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	conn.Close()
}

func (m *Manager) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case <-done:
			default:
				m.log.Warn("socket read error", slog.Any("error", err))
			}
			return
		}
		m.handleFrame(f)
	}
}

func (m *Manager) handleFrame(f Frame) {
	switch f.Event {
	case EventReceiveMessage:
		var msg models.Message
		if err := f.Decode(&msg); err != nil {
			m.log.Warn("bad message frame", slog.Any("error", err))
			return
		}
		m.mu.Lock()
		handler := m.handler
		m.mu.Unlock()
		if handler == nil {
			m.log.Debug("no message listener registered, dropping frame")
			return
		}
		handler(msg)
	default:
		m.log.Debug("ignoring socket event", slog.String("event", f.Event))
	}
}

func (m *Manager) writeFrame(event string, payload interface{}) error {
	f, err := NewFrame(event, payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return errNoConnection
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	fn := m.stateFn
	m.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
