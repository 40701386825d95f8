package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/washline/washline/internal/models"
)

// Transport is the realtime side of the reconciler: low-latency delivery,
// never the durability path.
type Transport interface {
	Connect(identity models.Identity)
	IsConnected() bool
	Send(msg models.Message)
	JoinConversation(shopID string, a, b models.Identity)
	LeaveConversation(shopID string, a, b models.Identity)
	Subscribe(fn func(models.Message)) func()
}

// MessageStore is the durable side: the REST-backed message store that is
// the source of truth for conversation history.
type MessageStore interface {
	Conversation(ctx context.Context, customerID, adminID, shopID string) ([]models.Message, error)
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
}

// DefaultGrace is how long Send waits for an on-demand connect to become
// ready before falling back to the store-only path.
const DefaultGrace = 2 * time.Second

// Reconciler merges two independent message sources - the live transport
// stream and the REST-fetched history - into one deduplicated,
// chronologically appended message list for the open conversation.
//
// Ordering is best effort: history lands in store order, live and local
// entries append at the tail, and the list is never re-sorted. Live traffic
// racing a conversation's own history fetch is merged, not discarded.
type Reconciler struct {
	self      models.Identity
	transport Transport
	store     MessageStore
	log       *slog.Logger

	// Grace bounds the wait for an on-demand connect inside Send
	Grace time.Duration

	now func() time.Time

	mu       sync.Mutex
	messages []models.Message
	loading  bool
	// gen invalidates in-flight loads once the conversation is cleared
	gen         uint64
	unsubscribe func()
	onChange    func()
}

// NewReconciler creates a reconciler for the given local identity and
// immediately subscribes to the transport's inbound message stream. Close
// releases the subscription.
func NewReconciler(self models.Identity, t Transport, s MessageStore, log *slog.Logger) *Reconciler {
	r := &Reconciler{
		self:      self,
		transport: t,
		store:     s,
		log:       log,
		Grace:     DefaultGrace,
		now:       time.Now,
	}
	r.unsubscribe = t.Subscribe(r.receive)
	return r
}

// OnChange registers a hook invoked after every visible state change. Used
// by the presentation bindings to trigger re-renders.
func (r *Reconciler) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Messages returns a snapshot of the conversation's message list.
func (r *Reconciler) Messages() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Loading reports whether a history fetch is in flight.
func (r *Reconciler) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

// Load fetches the conversation's full history from the durable store and
// merges it with whatever arrived live in the meantime, then joins the
// conversation room so subsequent live messages are delivered. Fetch
// failures are logged and leave the list as-is; a load that completes after
// the conversation was cleared is discarded.
func (r *Reconciler) Load(ctx context.Context, customerID, adminID, shopID string) {
	r.mu.Lock()
	r.loading = true
	gen := r.gen
	r.mu.Unlock()
	r.notify()

	history, err := r.store.Conversation(ctx, customerID, adminID, shopID)

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		r.log.Debug("discarding history for closed conversation",
			slog.String("shop", shopID))
		return
	}
	if err != nil {
		r.loading = false
		r.mu.Unlock()
		r.log.Error("failed to load conversation",
			slog.String("shop", shopID), slog.Any("error", err))
		r.notify()
		return
	}

	// History is authoritative; live messages that raced the fetch are
	// kept by unioning them in through the dedup rule.
	merged := make([]models.Message, 0, len(history)+len(r.messages))
	merged = append(merged, history...)
	for _, m := range r.messages {
		if !containsMatch(merged, m) {
			merged = append(merged, m)
		}
	}
	r.messages = merged
	r.loading = false
	r.mu.Unlock()
	r.notify()

	r.transport.JoinConversation(shopID,
		models.Identity{ID: customerID, Role: models.RoleCustomer},
		models.Identity{ID: adminID, Role: models.RoleAdmin})
}

// Send validates the draft, appends it optimistically, emits it over the
// transport when possible, and always persists it via the durable store.
// Persistence failure rolls the optimistic entry back and is returned to
// the caller; transport failures never propagate.
func (r *Reconciler) Send(ctx context.Context, draft models.Draft) error {
	if err := draft.Validate(); err != nil {
		return err
	}
	msg := draft.Message(r.self)

	// The sender always sees their own message immediately; the dedup rule
	// reconciles it with the live echo.
	r.mu.Lock()
	gen := r.gen
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	r.notify()

	if !r.transport.IsConnected() {
		r.log.Info("socket not connected, reconnecting before send")
		r.transport.Connect(r.self)
		r.awaitConnected(ctx)
	}
	if r.transport.IsConnected() {
		r.transport.Send(msg)
	} else {
		r.log.Warn("socket still not connected, relying on store only")
	}

	stored, err := r.store.CreateMessage(ctx, msg)

	r.mu.Lock()
	defer func() {
		r.mu.Unlock()
		r.notify()
	}()

	if err != nil {
		if gen == r.gen {
			if i := r.optimisticIndex(msg); i >= 0 {
				r.messages = append(r.messages[:i], r.messages[i+1:]...)
			}
		}
		return fmt.Errorf("persist message: %w", err)
	}
	if gen != r.gen {
		// conversation was cleared mid-send; nothing to confirm
		return nil
	}

	confirmed := msg
	confirmed.ID = stored.ID
	confirmed.CreatedAt = stored.CreatedAt
	if confirmed.ID == 0 {
		confirmed.ID = r.now().UnixMilli()
	}
	if confirmed.CreatedAt.IsZero() {
		confirmed.CreatedAt = r.now().UTC()
	}

	if i := r.optimisticIndex(msg); i >= 0 {
		if j := r.matchOther(confirmed, i); j >= 0 {
			// the live echo landed during the POST; fold the store's id and
			// timestamp into it and drop the optimistic entry
			r.messages[j] = confirmed
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
		} else {
			r.messages[i] = confirmed
		}
	}
	return nil
}

// Clear resets the in-memory list; used when the conversation view closes.
// Any in-flight load or send confirmation for the old view is invalidated.
func (r *Reconciler) Clear() {
	r.mu.Lock()
	r.messages = nil
	r.loading = false
	r.gen++
	r.mu.Unlock()
	r.notify()
}

// Leave releases the conversation room on the transport. The in-memory
// list is untouched; callers pair this with Clear.
func (r *Reconciler) Leave(customerID, adminID, shopID string) {
	r.transport.LeaveConversation(shopID,
		models.Identity{ID: customerID, Role: models.RoleCustomer},
		models.Identity{ID: adminID, Role: models.RoleAdmin})
}

// Close releases the transport subscription. The reconciler must not be
// used afterwards.
func (r *Reconciler) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

// receive is the live path: append the inbound message unless an existing
// entry already matches it under the dedup rule.
func (r *Reconciler) receive(msg models.Message) {
	r.mu.Lock()
	if containsMatch(r.messages, msg) {
		r.mu.Unlock()
		r.log.Debug("duplicate message detected, ignoring",
			slog.String("sender", msg.SenderID))
		return
	}
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	r.notify()
}

// awaitConnected polls the transport until it reports connected, the grace
// period elapses, or ctx is done.
func (r *Reconciler) awaitConnected(ctx context.Context) {
	deadline := time.NewTimer(r.Grace)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if r.transport.IsConnected() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}

// optimisticIndex finds the unconfirmed local entry for msg, newest first.
func (r *Reconciler) optimisticIndex(msg models.Message) int {
	for i := len(r.messages) - 1; i >= 0; i-- {
		m := r.messages[i]
		if m.ID == 0 && m.CreatedAt.IsZero() &&
			m.Text == msg.Text && m.SenderID == msg.SenderID {
			return i
		}
	}
	return -1
}

// matchOther finds an entry other than index skip that matches msg, or -1.
func (r *Reconciler) matchOther(msg models.Message, skip int) int {
	for i, m := range r.messages {
		if i != skip && m.Matches(msg) {
			return i
		}
	}
	return -1
}

func (r *Reconciler) notify() {
	r.mu.Lock()
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func containsMatch(list []models.Message, msg models.Message) bool {
	for _, m := range list {
		if m.Matches(msg) {
			return true
		}
	}
	return false
}
