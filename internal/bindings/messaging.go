package bindings

import (
	"context"
	"log/slog"

	"github.com/washline/washline/internal/chat"
	"github.com/washline/washline/internal/models"
	"github.com/washline/washline/internal/transport"
)

// TransportHandle is the transport surface the bindings manage on behalf of
// the view layer: the reconciler's contract plus lifecycle and state
// observation.
type TransportHandle interface {
	chat.Transport
	StateChanges(fn func(transport.State)) func()
	Disconnect()
}

// ShopStore is the durable store surface the bindings need: message
// history plus the shop directory.
type ShopStore interface {
	chat.MessageStore
	chat.ShopSource
}

// Messaging is the seam between the sync core and a view layer: reactive
// values that change when the underlying state does, plus the operations a
// conversation UI needs. The view layer triggers LoadConversation when a
// conversation opens and ClearMessages/LeaveConversation when it closes;
// Messaging does not manage view lifecycle.
type Messaging struct {
	Messages      *Value[[]models.Message]
	Conversations *Value[[]models.ConversationPreview]
	Loading       *Value[bool]
	ConnState     *Value[transport.State]

	self        models.Identity
	transport   TransportHandle
	reconciler  *chat.Reconciler
	directory   *chat.Directory
	log         *slog.Logger
	cancelState func()
}

// NewMessaging wires a reconciler and directory for the given identity over
// one shared transport connection and connects it.
func NewMessaging(self models.Identity, t TransportHandle, store ShopStore, log *slog.Logger) *Messaging {
	m := &Messaging{
		Messages:      NewValue([]models.Message(nil)),
		Conversations: NewValue([]models.ConversationPreview(nil)),
		Loading:       NewValue(false),
		ConnState:     NewValue(transport.StateDisconnected),
		self:          self,
		transport:     t,
		reconciler:    chat.NewReconciler(self, t, store, log),
		directory:     chat.NewDirectory(store, store, log),
		log:           log,
	}

	m.reconciler.OnChange(func() {
		m.Messages.Set(m.reconciler.Messages())
		m.Loading.Set(m.reconciler.Loading())
	})
	m.cancelState = t.StateChanges(func(s transport.State) {
		m.ConnState.Set(s)
	})

	t.Connect(self)
	return m
}

// Self returns the local identity the bindings were built for.
func (m *Messaging) Self() models.Identity {
	return m.self
}

// Send sends a draft from the local identity. A persistence failure is
// returned so the view can offer a retry.
func (m *Messaging) Send(ctx context.Context, draft models.Draft) error {
	return m.reconciler.Send(ctx, draft)
}

// LoadConversation loads history for one conversation and joins its room.
func (m *Messaging) LoadConversation(ctx context.Context, customerID, adminID, shopID string) {
	m.reconciler.Load(ctx, customerID, adminID, shopID)
}

// LoadConversations refreshes the conversation directory. Failures degrade
// to an empty list with a log entry.
func (m *Messaging) LoadConversations(ctx context.Context) {
	m.Loading.Set(true)
	previews, err := m.directory.LoadConversations(ctx, m.self)
	if err != nil {
		m.log.Error("failed to load conversations", slog.Any("error", err))
		previews = nil
	}
	m.Conversations.Set(previews)
	m.Loading.Set(false)
}

// ClearMessages empties the open conversation's message list.
func (m *Messaging) ClearMessages() {
	m.reconciler.Clear()
}

// LeaveConversation releases the conversation's room membership.
func (m *Messaging) LeaveConversation(customerID, adminID, shopID string) {
	m.reconciler.Leave(customerID, adminID, shopID)
}

// Close releases subscriptions and tears down the shared connection.
func (m *Messaging) Close() {
	if m.cancelState != nil {
		m.cancelState()
	}
	m.reconciler.Close()
	m.transport.Disconnect()
}
