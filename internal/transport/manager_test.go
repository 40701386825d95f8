package transport_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/washline/washline/internal/models"
	"github.com/washline/washline/internal/stub"
	"github.com/washline/washline/internal/transport"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var (
	customer = models.Identity{ID: "7", Role: models.RoleCustomer}
	admin    = models.Identity{ID: "3", Role: models.RoleAdmin}
)

// inbox collects messages delivered to one subscriber.
type inbox struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (b *inbox) add(msg models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *inbox) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.msgs))
	for i, m := range b.msgs {
		out[i] = m.Text
	}
	return out
}

func startBackend(t *testing.T) string {
	t.Helper()
	backend := stub.NewServer(stub.NewStore(nil), discard)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(func() {
		srv.Close()
		backend.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func connect(t *testing.T, url string, id models.Identity) *transport.Manager {
	t.Helper()
	m := transport.NewManager(url, discard)
	m.Connect(id)
	t.Cleanup(m.Disconnect)
	require.Eventually(t, m.IsConnected, 2*time.Second, 10*time.Millisecond)
	return m
}

func TestExchangeOverConversationRoom(t *testing.T) {
	url := startBackend(t)

	sender := connect(t, url, customer)
	receiver := connect(t, url, admin)

	var got inbox
	receiver.Subscribe(got.add)

	sender.JoinConversation("12", customer, admin)
	receiver.JoinConversation("12", admin, customer)

	msg := models.Draft{Receiver: admin, ShopID: "12", Text: "is my laundry ready?"}.Message(customer)
	sender.Send(msg)

	require.Eventually(t, func() bool {
		return len(got.texts()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, "is my laundry ready?", got.msgs[0].Text)
	assert.Equal(t, customer, got.msgs[0].Sender())
	assert.False(t, got.msgs[0].CreatedAt.IsZero())
}

func TestDeliveryToIdentityRoom(t *testing.T) {
	url := startBackend(t)

	sender := connect(t, url, customer)
	receiver := connect(t, url, admin)

	// the receiver never joined the conversation room; delivery falls back
	// to the identity room registered at connect time
	var got inbox
	receiver.Subscribe(got.add)

	sender.JoinConversation("12", customer, admin)
	sender.Send(models.Draft{Receiver: admin, ShopID: "12", Text: "knock knock"}.Message(customer))

	require.Eventually(t, func() bool {
		return len(got.texts()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSenderSeesOwnEcho(t *testing.T) {
	url := startBackend(t)

	sender := connect(t, url, customer)

	var got inbox
	sender.Subscribe(got.add)

	sender.JoinConversation("12", customer, admin)
	sender.Send(models.Draft{Receiver: admin, ShopID: "12", Text: "echo"}.Message(customer))

	require.Eventually(t, func() bool {
		return len(got.texts()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendWhileDisconnected(t *testing.T) {
	m := transport.NewManager("ws://127.0.0.1:1/ws", discard)

	assert.False(t, m.IsConnected())
	// drops with a log entry, must not panic or block
	m.Send(models.Draft{Receiver: admin, ShopID: "12", Text: "void"}.Message(customer))
	m.JoinConversation("12", customer, admin)
	m.LeaveConversation("12", customer, admin)
}

func TestSubscribeReplacesListener(t *testing.T) {
	url := startBackend(t)

	sender := connect(t, url, customer)
	receiver := connect(t, url, admin)

	var first, second inbox
	cancelFirst := receiver.Subscribe(first.add)
	receiver.Subscribe(second.add)
	// cancelling a replaced subscription must not detach the new listener
	cancelFirst()

	sender.JoinConversation("12", customer, admin)
	sender.Send(models.Draft{Receiver: admin, ShopID: "12", Text: "for the second"}.Message(customer))

	require.Eventually(t, func() bool {
		return len(second.texts()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, first.texts())
}

func TestStateChanges(t *testing.T) {
	url := startBackend(t)

	m := transport.NewManager(url, discard)

	var mu sync.Mutex
	var states []transport.State
	m.StateChanges(func(s transport.State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	m.Connect(customer)
	require.Eventually(t, m.IsConnected, 2*time.Second, 10*time.Millisecond)
	m.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []transport.State{
		transport.StateConnecting,
		transport.StateConnected,
		transport.StateDisconnected,
	}, states)
}

func TestDisconnectIdempotent(t *testing.T) {
	url := startBackend(t)

	m := transport.NewManager(url, discard)
	m.Disconnect()
	m.Disconnect()

	m.Connect(customer)
	require.Eventually(t, m.IsConnected, 2*time.Second, 10*time.Millisecond)

	m.Disconnect()
	m.Disconnect()
	assert.False(t, m.IsConnected())
}

func TestConnectIdempotent(t *testing.T) {
	url := startBackend(t)

	m := connect(t, url, customer)
	m.Connect(customer)
	assert.True(t, m.IsConnected())
}

// wsRecorder is a bare websocket endpoint that records inbound frames and
// can drop its connections to force the manager's reconnect path.
type wsRecorder struct {
	upgrader websocket.Upgrader
	// delay holds the handshake open before upgrading
	delay time.Duration

	mu     sync.Mutex
	frames []transport.Frame
	conns  []*websocket.Conn
}

func (r *wsRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conns = append(r.conns, conn)
	r.mu.Unlock()

	for {
		var f transport.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		r.mu.Lock()
		r.frames = append(r.frames, f)
		r.mu.Unlock()
	}
}

func (r *wsRecorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Event
	}
	return out
}

func (r *wsRecorder) dropConnections() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		c.Close()
	}
	r.conns = nil
}

func startRecorder(t *testing.T, rec *wsRecorder) string {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestReconnectReplaysRooms(t *testing.T) {
	rec := &wsRecorder{}
	m := connect(t, startRecorder(t, rec), customer)
	m.JoinConversation("12", customer, admin)

	require.Eventually(t, func() bool {
		return len(rec.events()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{transport.EventJoin, transport.EventJoinConversation}, rec.events())

	// server-side drop: the manager must redial, re-emit the identity join
	// and replay the conversation room on its own
	rec.dropConnections()

	require.Eventually(t, func() bool {
		return len(rec.events()) == 4
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, m.IsConnected, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{
		transport.EventJoin, transport.EventJoinConversation,
		transport.EventJoin, transport.EventJoinConversation,
	}, []string{rec.frames[0].Event, rec.frames[1].Event, rec.frames[2].Event, rec.frames[3].Event})

	var room transport.RoomPayload
	require.NoError(t, rec.frames[3].Decode(&room))
	assert.Equal(t, "shop_12_customer_7_admin_3", room.ConversationID)
}

func TestReconnectGivesUpAfterBoundedAttempts(t *testing.T) {
	m := transport.NewManager("ws://127.0.0.1:1/ws", discard)

	var mu sync.Mutex
	var states []transport.State
	m.StateChanges(func(s transport.State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	m.Connect(customer)

	// 5 attempts at a fixed 1s delay, then the manager stops trying
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 2 && states[1] == transport.StateDisconnected
	}, 10*time.Second, 50*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []transport.State{
		transport.StateConnecting,
		transport.StateDisconnected,
	}, states)
	mu.Unlock()
	assert.False(t, m.IsConnected())
}

func TestDisconnectDuringDialIsHonored(t *testing.T) {
	rec := &wsRecorder{delay: 300 * time.Millisecond}
	url := startRecorder(t, rec)

	m := transport.NewManager(url, discard)

	var mu sync.Mutex
	var states []transport.State
	m.StateChanges(func(s transport.State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	m.Connect(customer)
	time.Sleep(100 * time.Millisecond)
	// teardown lands while the handshake is still in flight; the late dial
	// result must be discarded, not attached
	m.Disconnect()

	time.Sleep(500 * time.Millisecond)
	assert.False(t, m.IsConnected())
	assert.Empty(t, rec.events())

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, states, transport.StateConnected)
	assert.Equal(t, transport.StateDisconnected, states[len(states)-1])
}
