package stub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/washline/washline/internal/models"
	"github.com/washline/washline/internal/transport"
)

// Hub maintains the set of active socket clients and relays message frames
// between them. It handles client registration, room membership, and
// per-room delivery.
//
// Rooms are of two kinds: identity rooms ("customer_1", "admin_2") that a
// client enters with a join frame, and conversation rooms keyed by the
// deterministic conversation key.
type Hub struct {
	// register requests from clients
	register chan *client

	// unregister requests from clients
	unregister chan *client

	// inbound carries parsed frames from client read pumps
	inbound chan inboundFrame

	// quit stops the run loop
	quit chan struct{}

	// rooms maps a room name to the set of clients in it
	rooms map[string]map[*client]bool

	log *slog.Logger
	now func() time.Time
}

type inboundFrame struct {
	c *client
	f transport.Frame
}

// NewHub creates a new Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan inboundFrame),
		quit:       make(chan struct{}),
		rooms:      make(map[string]map[*client]bool),
		log:        log,
		now:        time.Now,
	}
}

// Run starts the hub's main event loop.
// This should be called in a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.log.Info("socket client connected", slog.String("client", c.id))

		case c := <-h.unregister:
			h.removeClient(c)

		case in := <-h.inbound:
			h.handleFrame(in.c, in.f)

		case <-h.quit:
			return
		}
	}
}

// Stop terminates the run loop.
func (h *Hub) Stop() {
	close(h.quit)
}

func (h *Hub) handleFrame(c *client, f transport.Frame) {
	switch f.Event {
	case transport.EventJoin:
		var p transport.JoinPayload
		if err := f.Decode(&p); err != nil {
			h.log.Warn("bad join frame", slog.Any("error", err))
			return
		}
		room := identityRoom(models.Identity{ID: p.UserID, Role: p.UserType})
		h.joinRoom(room, c)

	case transport.EventJoinConversation:
		var p transport.RoomPayload
		if err := f.Decode(&p); err != nil {
			h.log.Warn("bad joinConversation frame", slog.Any("error", err))
			return
		}
		h.joinRoom(p.ConversationID, c)

	case transport.EventLeaveConversation:
		var p transport.RoomPayload
		if err := f.Decode(&p); err != nil {
			h.log.Warn("bad leaveConversation frame", slog.Any("error", err))
			return
		}
		h.leaveRoom(p.ConversationID, c)

	case transport.EventSendMessage:
		var msg models.Message
		if err := f.Decode(&msg); err != nil {
			h.log.Warn("bad sendMessage frame", slog.Any("error", err))
			return
		}
		h.relay(msg)

	default:
		h.log.Warn("unknown socket event", slog.String("event", f.Event))
	}
}

// relay timestamps a live message and delivers it to the conversation room
// and the receiver's identity room. The message is not persisted here: the
// REST POST is the durability path, the socket is delivery only.
func (h *Hub) relay(msg models.Message) {
	msg.CreatedAt = h.now().UTC().Truncate(time.Millisecond)

	frame, err := transport.NewFrame(transport.EventReceiveMessage, msg)
	if err != nil {
		h.log.Warn("failed to build receiveMessage frame", slog.Any("error", err))
		return
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		h.log.Warn("failed to marshal receiveMessage frame", slog.Any("error", err))
		return
	}

	targets := map[*client]bool{}
	for c := range h.rooms[models.MessageKey(msg)] {
		targets[c] = true
	}
	for c := range h.rooms[identityRoom(msg.Receiver())] {
		targets[c] = true
	}

	sent := 0
	for c := range targets {
		select {
		case c.send <- payload:
			sent++
		default:
			// client's buffer is full, drop them
			h.removeClient(c)
		}
	}
	h.log.Info("relayed message",
		slog.String("room", models.MessageKey(msg)),
		slog.Int("clients", sent))
}

func (h *Hub) joinRoom(room string, c *client) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*client]bool)
	}
	h.rooms[room][c] = true
	h.log.Info("client joined room",
		slog.String("client", c.id),
		slog.String("room", room),
		slog.Int("total", len(h.rooms[room])))
}

func (h *Hub) leaveRoom(room string, c *client) {
	clients, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(clients, c)
	h.log.Info("client left room",
		slog.String("client", c.id),
		slog.String("room", room),
		slog.Int("remaining", len(clients)))
	if len(clients) == 0 {
		delete(h.rooms, room)
	}
}

// removeClient drops a client from every room and closes its send channel.
func (h *Hub) removeClient(c *client) {
	dropped := false
	for room, clients := range h.rooms {
		if clients[c] {
			delete(clients, c)
			dropped = true
			if len(clients) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	c.closeOnce.Do(func() { close(c.send) })
	if dropped {
		h.log.Info("socket client removed", slog.String("client", c.id))
	}
}

// identityRoom names the room a participant's own messages are routed to.
func identityRoom(id models.Identity) string {
	return fmt.Sprintf("%s_%s", id.Role, id.ID)
}
