package models

import (
	"strconv"
	"time"
)

// Shop is a counterparty record from the shop directory API.
type Shop struct {
	// ShopID is the shop's identifier, also the conversation scoping key
	ShopID int64 `json:"shop_id"`

	// Name is the shop's display name
	Name string `json:"name"`

	Address        string `json:"address,omitempty"`
	Website        string `json:"website,omitempty"`
	OwnerName      string `json:"owner_name,omitempty"`
	OperationHours string `json:"operation_hours,omitempty"`

	// AdminID identifies the shop admin who answers chats for this shop
	AdminID int64 `json:"admin_id,omitempty"`
}

// Key returns the shop id in the string form used by conversation keys and
// message records.
func (s Shop) Key() string {
	return strconv.FormatInt(s.ShopID, 10)
}

// Admin returns the identity of the shop's chat counterpart.
func (s Shop) Admin() Identity {
	return Identity{ID: strconv.FormatInt(s.AdminID, 10), Role: RoleAdmin}
}

// ConversationPreview is one entry of the conversation directory: a shop
// with at least one persisted message, previewed by its most recent one.
type ConversationPreview struct {
	Shop     Shop
	Receiver Identity

	// LastMessage is the body of the most recent message
	LastMessage string

	// LastMessageTime is zero when the store returned a message without a
	// timestamp; such entries sort last
	LastMessageTime time.Time
}
