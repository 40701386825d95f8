package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/washline/washline/internal/models"
)

// ShopSource lists the known counterparties the directory probes.
type ShopSource interface {
	Shops(ctx context.Context) ([]models.Shop, error)
}

// Filter names the directory's preview filters.
type Filter string

const (
	FilterAll    Filter = "All"
	FilterRecent Filter = "Recent"
	FilterUnread Filter = "Unread"
)

// recentWindow is how far back the Recent filter reaches.
const recentWindow = 24 * time.Hour

// Directory derives, for one identity, the list of shops that have an
// existing message history, with a last-message preview and recency
// ordering.
type Directory struct {
	store MessageStore
	shops ShopSource
	log   *slog.Logger
}

// NewDirectory creates a directory over the given store and shop source.
func NewDirectory(store MessageStore, shops ShopSource, log *slog.Logger) *Directory {
	return &Directory{store: store, shops: shops, log: log}
}

// LoadConversations probes every known shop's conversation with self and
// returns previews for those with at least one persisted message, newest
// first; previews without a timestamp sort last. The probes are independent
// of each other and run sequentially; a failed probe skips its shop.
func (d *Directory) LoadConversations(ctx context.Context, self models.Identity) ([]models.ConversationPreview, error) {
	shops, err := d.shops.Shops(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shops: %w", err)
	}

	previews := make([]models.ConversationPreview, 0, len(shops))
	for _, shop := range shops {
		admin := shop.Admin()
		history, err := d.store.Conversation(ctx, self.ID, admin.ID, shop.Key())
		if err != nil {
			d.log.Warn("failed to probe conversation",
				slog.String("shop", shop.Key()), slog.Any("error", err))
			continue
		}
		if len(history) == 0 {
			continue
		}
		last := history[len(history)-1]
		previews = append(previews, models.ConversationPreview{
			Shop:            shop,
			Receiver:        admin,
			LastMessage:     last.Text,
			LastMessageTime: last.CreatedAt,
		})
	}

	sort.SliceStable(previews, func(i, j int) bool {
		ti, tj := previews[i].LastMessageTime, previews[j].LastMessageTime
		if ti.IsZero() != tj.IsZero() {
			return tj.IsZero()
		}
		return ti.After(tj)
	})
	return previews, nil
}

// ApplyFilter narrows a preview list. Recent is evaluated against now at
// filter-apply time, not fetch time. Unread is always empty: no read
// tracking exists in this design.
func ApplyFilter(previews []models.ConversationPreview, f Filter, now time.Time) []models.ConversationPreview {
	switch f {
	case FilterRecent:
		out := make([]models.ConversationPreview, 0, len(previews))
		for _, p := range previews {
			if !p.LastMessageTime.IsZero() && now.Sub(p.LastMessageTime) <= recentWindow {
				out = append(out, p)
			}
		}
		return out
	case FilterUnread:
		return []models.ConversationPreview{}
	default:
		return previews
	}
}
