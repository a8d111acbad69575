// Package message implements the durable inbox of spec §4.3: agents and
// users send each other recipient-keyed messages, which are delivered,
// optionally seen, and explicitly marked processed once acted on.
package message

import (
	"context"

	"github.com/deepampatel/foreman/internal/coreerr"
	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/pkg/models"
)

// Bus sends and drains messages against a Store.
type Bus struct {
	Store store.Store
}

func New(s store.Store) *Bus { return &Bus{Store: s} }

// Send delivers a message and appends the message.sent event. On a
// postgres-backed Store this also NOTIFYs new_message so a dispatcher
// sitting in LISTEN wakes up immediately instead of waiting for its next
// poll tick.
func (b *Bus) Send(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.Content == "" {
		return models.Message{}, coreerr.Validationf("message content is required")
	}
	return b.Store.SendMessage(ctx, msg)
}

// Inbox lists a recipient's messages, optionally restricted to those not
// yet marked processed.
func (b *Bus) Inbox(ctx context.Context, teamID, recipientID string, onlyUnprocessed bool, limit int) ([]models.Message, error) {
	return b.Store.ListInbox(ctx, teamID, recipientID, onlyUnprocessed, limit)
}

// MarkSeen records that a recipient has observed a message without
// necessarily having acted on it.
func (b *Bus) MarkSeen(ctx context.Context, id int64) error {
	return b.Store.MarkMessageSeen(ctx, id)
}

// MarkProcessed records that a recipient has acted on a message. Processed
// messages drop out of the default Inbox listing.
func (b *Bus) MarkProcessed(ctx context.Context, id int64) error {
	return b.Store.MarkMessageProcessed(ctx, id)
}
