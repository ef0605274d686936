package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/relaychat-server/internal/store"
)

// Mailboxes holds the per-user pending queues that bridge online and offline
// delivery. A mailbox is created on first reference, hydrated from durable
// QUEUED rows left by earlier runs, and never destroyed; it just empties.
//
// FlushAll stops at the first failed hand-off and leaves the rest queued.
// Strict per-recipient FIFO is preserved at the cost of head-of-line
// blocking when the head message cannot be delivered.
//
// Callers serialize access per user through the Router's keyed lock; the
// internal mutex only guards the box map itself.
type Mailboxes struct {
	mu    sync.Mutex
	boxes map[int64]*mailbox
	store store.MessageStore
	log   zerolog.Logger
}

type mailbox struct {
	pending []*Message
}

// NewMailboxes creates the mailbox set backed by the given message store.
func NewMailboxes(messageStore store.MessageStore, logger zerolog.Logger) *Mailboxes {
	return &Mailboxes{
		boxes: make(map[int64]*mailbox),
		store: messageStore,
		log:   logger,
	}
}

// Enqueue appends the message to the tail of the user's queue and persists
// it with status QUEUED. A persistence failure is logged and the message is
// dropped; there is no outbox or retry.
func (m *Mailboxes) Enqueue(ctx context.Context, userID int64, msg *Message) bool {
	box := m.box(ctx, userID)

	msg.Status = StatusQueued
	if err := m.store.SaveMessage(ctx, toStoreMessage(msg)); err != nil {
		m.log.Error().Err(err).
			Str("msg_id", msg.ID).
			Int64("recipient_id", userID).
			Msg("persist queued message failed, dropping")
		return false
	}

	box.pending = append(box.pending, msg)
	return true
}

// TryDeliverHead attempts to hand the head message to sink. On success the
// head is popped and its durable row deleted; on failure the queue is left
// untouched.
func (m *Mailboxes) TryDeliverHead(ctx context.Context, userID int64, sink Session) bool {
	box := m.box(ctx, userID)
	if len(box.pending) == 0 {
		return false
	}

	head := box.pending[0]
	if err := sink.Deliver(head); err != nil {
		m.log.Warn().Err(err).
			Str("msg_id", head.ID).
			Int64("recipient_id", userID).
			Msg("mailbox hand-off failed")
		return false
	}

	head.Status = StatusDelivered
	if err := m.store.DeleteMessage(ctx, head.ID); err != nil {
		m.log.Error().Err(err).Str("msg_id", head.ID).Msg("delete delivered message failed")
	}
	box.pending = box.pending[1:]
	return true
}

// FlushAll delivers queued messages in order until the queue is empty or one
// delivery fails, then stops. Returns the number of messages delivered.
func (m *Mailboxes) FlushAll(ctx context.Context, userID int64, sink Session) int {
	delivered := 0
	for len(m.box(ctx, userID).pending) > 0 {
		if !m.TryDeliverHead(ctx, userID, sink) {
			break
		}
		delivered++
	}
	return delivered
}

// Ack removes a still-pending message after the recipient acknowledged it
// out of band. Returns true if the message was pending here.
func (m *Mailboxes) Ack(ctx context.Context, userID int64, messageID string) bool {
	box := m.box(ctx, userID)
	for i, msg := range box.pending {
		if msg.ID == messageID {
			box.pending = append(box.pending[:i], box.pending[i+1:]...)
			if err := m.store.DeleteMessage(ctx, messageID); err != nil {
				m.log.Error().Err(err).Str("msg_id", messageID).Msg("delete acked message failed")
			}
			return true
		}
	}
	return false
}

// Pending returns the number of messages waiting for the user.
func (m *Mailboxes) Pending(ctx context.Context, userID int64) int {
	return len(m.box(ctx, userID).pending)
}

// box returns the user's mailbox, creating and hydrating it on first
// reference.
func (m *Mailboxes) box(ctx context.Context, userID int64) *mailbox {
	m.mu.Lock()
	box, ok := m.boxes[userID]
	if !ok {
		box = &mailbox{}
		m.boxes[userID] = box
		m.mu.Unlock()
		m.hydrate(ctx, userID, box)
		return box
	}
	m.mu.Unlock()
	return box
}

// hydrate loads QUEUED rows persisted by earlier runs, oldest first.
func (m *Mailboxes) hydrate(ctx context.Context, userID int64, box *mailbox) {
	rows, err := m.store.ListQueuedFor(ctx, userID)
	if err != nil {
		m.log.Error().Err(err).Int64("recipient_id", userID).Msg("hydrate mailbox failed")
		return
	}
	for _, row := range rows {
		box.pending = append(box.pending, fromStoreMessage(row))
	}
	if len(rows) > 0 {
		m.log.Debug().Int64("recipient_id", userID).Int("count", len(rows)).Msg("mailbox hydrated")
	}
}

func toStoreMessage(msg *Message) *store.Message {
	return &store.Message{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		GroupID:     msg.GroupID,
		Body:        msg.Body,
		Status:      string(msg.Status),
		CreatedAt:   msg.CreatedAt,
	}
}

func fromStoreMessage(row *store.Message) *Message {
	return &Message{
		ID:          row.ID,
		SenderID:    row.SenderID,
		RecipientID: row.RecipientID,
		GroupID:     row.GroupID,
		Body:        row.Body,
		Status:      Status(row.Status),
		CreatedAt:   row.CreatedAt,
	}
}
