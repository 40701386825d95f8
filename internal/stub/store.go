package stub

import (
	"sync"
	"time"

	"github.com/washline/washline/internal/models"
)

// Store is the in-memory durable message store behind the stub's REST API.
// It assigns integer ids and UTC timestamps the way the production store
// does, which is what the client's reconciliation logic depends on.
type Store struct {
	mu            sync.Mutex
	nextID        int64
	conversations map[string][]models.Message
	shops         []models.Shop
	now           func() time.Time
}

// NewStore creates a store seeded with the given shop directory.
func NewStore(shops []models.Shop) *Store {
	return &Store{
		conversations: make(map[string][]models.Message),
		shops:         shops,
		now:           time.Now,
	}
}

// Append persists a message, assigning the next id and the current UTC
// timestamp, and returns the stored record.
func (s *Store) Append(msg models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	msg.ID = s.nextID
	msg.CreatedAt = s.now().UTC().Truncate(time.Millisecond)

	key := models.MessageKey(msg)
	s.conversations[key] = append(s.conversations[key], msg)
	return msg
}

// Conversation returns the history for one conversation in ascending
// chronological (insertion) order.
func (s *Store) Conversation(customerID, adminID, shopID string) []models.Message {
	key := models.ConversationKey(shopID,
		models.Identity{ID: customerID, Role: models.RoleCustomer},
		models.Identity{ID: adminID, Role: models.RoleAdmin})

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.conversations[key]
	out := make([]models.Message, len(history))
	copy(out, history)
	return out
}

// Shops returns the seeded shop directory.
func (s *Store) Shops() []models.Shop {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Shop, len(s.shops))
	copy(out, s.shops)
	return out
}
