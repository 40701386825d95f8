package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationKeySymmetry(t *testing.T) {
	customer := Identity{ID: "7", Role: RoleCustomer}
	admin := Identity{ID: "3", Role: RoleAdmin}

	fromCustomer := ConversationKey("12", customer, admin)
	fromAdmin := ConversationKey("12", admin, customer)

	assert.Equal(t, fromCustomer, fromAdmin)
	assert.Equal(t, "shop_12_customer_7_admin_3", fromCustomer)
}

func TestMessageKey(t *testing.T) {
	sent := Message{
		SenderType: RoleCustomer, SenderID: "7",
		ReceiverType: RoleAdmin, ReceiverID: "3",
		ShopID: "12", Text: "hi",
	}
	echo := Message{
		SenderType: RoleAdmin, SenderID: "3",
		ReceiverType: RoleCustomer, ReceiverID: "7",
		ShopID: "12", Text: "hello back",
	}

	assert.Equal(t, MessageKey(sent), MessageKey(echo))
}

func TestDraftValidate(t *testing.T) {
	receiver := Identity{ID: "3", Role: RoleAdmin}

	err := Draft{Receiver: receiver, ShopID: "12", Text: "   \t\n"}.Validate()
	require.ErrorIs(t, err, ErrEmptyBody)

	err = Draft{Receiver: receiver, ShopID: "12"}.Validate()
	require.ErrorIs(t, err, ErrEmptyBody)

	err = Draft{Receiver: receiver, ShopID: "12", Text: "when is my laundry ready?"}.Validate()
	require.NoError(t, err)
}

func TestDraftMessage(t *testing.T) {
	sender := Identity{ID: "7", Role: RoleCustomer}
	draft := Draft{
		Receiver: Identity{ID: "3", Role: RoleAdmin},
		ShopID:   "12",
		Text:     "hi",
	}

	msg := draft.Message(sender)

	assert.Equal(t, sender, msg.Sender())
	assert.Equal(t, draft.Receiver, msg.Receiver())
	assert.Equal(t, "12", msg.ShopID)
	assert.Equal(t, "hi", msg.Text)
	assert.Zero(t, msg.ID)
	assert.True(t, msg.CreatedAt.IsZero())
}

func TestMatches(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	msg := Message{SenderID: "7", Text: "hi", CreatedAt: base}

	near := msg
	near.CreatedAt = base.Add(900 * time.Millisecond)
	assert.True(t, msg.Matches(near))
	assert.True(t, near.Matches(msg))

	far := msg
	far.CreatedAt = base.Add(1500 * time.Millisecond)
	assert.False(t, msg.Matches(far))

	otherSender := near
	otherSender.SenderID = "8"
	assert.False(t, msg.Matches(otherSender))

	otherText := near
	otherText.Text = "hi!"
	assert.False(t, msg.Matches(otherText))
}
