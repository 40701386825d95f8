package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifies which side of a conversation a participant is on.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Identity is a conversation participant: a customer or a shop admin.
// The pair of id and role is used both as sender and receiver address.
type Identity struct {
	ID   string
	Role Role
}

// ErrEmptyBody is returned when a draft has no text after trimming.
var ErrEmptyBody = errors.New("message body is empty")

// Message is a chat message as carried by both the REST API and the
// realtime transport.
//
// ID and CreatedAt are assigned by the durable store; both are zero for a
// locally-originated message that has not been confirmed persisted yet.
type Message struct {
	// ID is the store-assigned identifier; 0 until the message is persisted
	ID int64 `json:"id,omitempty"`

	// SenderType and SenderID address the sending participant
	SenderType Role   `json:"sender_type"`
	SenderID   string `json:"sender_id"`

	// ReceiverType and ReceiverID address the counterpart
	ReceiverType Role   `json:"receiver_type"`
	ReceiverID   string `json:"receiver_id"`

	// ShopID scopes the conversation; a conversation is always
	// shop + customer + admin
	ShopID string `json:"shop_id"`

	// Text is the message body
	Text string `json:"message_text"`

	// CreatedAt is the store-assigned timestamp; zero until persisted
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Sender returns the sending identity.
func (m Message) Sender() Identity {
	return Identity{ID: m.SenderID, Role: m.SenderType}
}

// Receiver returns the receiving identity.
func (m Message) Receiver() Identity {
	return Identity{ID: m.ReceiverID, Role: m.ReceiverType}
}

// Matches reports whether other is the same utterance as m for
// reconciliation purposes: same body, same sender, and timestamps within
// one second of each other. This tolerates a message being briefly present
// both as an optimistic local entry and as the live echo.
func (m Message) Matches(other Message) bool {
	if m.Text != other.Text || m.SenderID != other.SenderID {
		return false
	}
	d := m.CreatedAt.Sub(other.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d < time.Second
}

// Draft is a message as composed by the local user, before the store has
// assigned it an id and timestamp.
type Draft struct {
	Receiver Identity
	ShopID   string
	Text     string
}

// Validate rejects drafts whose body is empty after trimming.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Text) == "" {
		return ErrEmptyBody
	}
	return nil
}

// Message builds the wire message for this draft with sender filled in.
func (d Draft) Message(sender Identity) Message {
	return Message{
		SenderType:   sender.Role,
		SenderID:     sender.ID,
		ReceiverType: d.Receiver.Role,
		ReceiverID:   d.Receiver.ID,
		ShopID:       d.ShopID,
		Text:         d.Text,
	}
}

// ConversationKey derives the room identifier for a shop-scoped
// conversation. The customer identity always occupies the first participant
// slot, so both participants derive the same key regardless of who is
// sending.
func ConversationKey(shopID string, a, b Identity) string {
	customer, admin := a, b
	if a.Role == RoleAdmin {
		customer, admin = b, a
	}
	return fmt.Sprintf("shop_%s_%s_%s_%s_%s",
		shopID, RoleCustomer, customer.ID, RoleAdmin, admin.ID)
}

// MessageKey derives the conversation key for the participants of a message.
func MessageKey(m Message) string {
	return ConversationKey(m.ShopID, m.Sender(), m.Receiver())
}
