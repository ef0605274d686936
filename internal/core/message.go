package core

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of a message. Transitions move forward only;
// the single allowed step back is FAILED -> QUEUED when a fresh delivery
// attempt re-queues the message.
type Status string

const (
	StatusSent      Status = "SENT"
	StatusQueued    Status = "QUEUED"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
	StatusFailed    Status = "FAILED"
)

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusSent:
		return next == StatusQueued || next == StatusDelivered || next == StatusFailed
	case StatusQueued:
		return next == StatusDelivered || next == StatusFailed
	case StatusDelivered:
		return next == StatusRead
	case StatusFailed:
		return next == StatusQueued
	case StatusRead:
		return false
	}
	return false
}

// ErrBadAddress is returned when a message does not name exactly one of
// recipient and group.
var ErrBadAddress = errors.New("message must address exactly one of recipient or group")

// Message is the domain model for a chat message.
type Message struct {
	ID          string
	SenderID    int64
	RecipientID *int64
	GroupID     *int64
	Body        string
	Status      Status
	CreatedAt   time.Time
}

// NewMessage builds a direct or group message in state SENT.
// recipientID and groupID are exclusive; zero means unset.
func NewMessage(senderID, recipientID, groupID int64, body string) (*Message, error) {
	m := &Message{
		ID:        uuid.New().String(),
		SenderID:  senderID,
		Body:      body,
		Status:    StatusSent,
		CreatedAt: time.Now().UTC(),
	}
	switch {
	case recipientID != 0 && groupID == 0:
		m.RecipientID = &recipientID
	case groupID != 0 && recipientID == 0:
		m.GroupID = &groupID
	default:
		return nil, ErrBadAddress
	}
	return m, nil
}

// Direct reports whether the message is addressed to a single recipient.
func (m *Message) Direct() bool {
	return m.RecipientID != nil
}

// forRecipient clones a group message into an independent per-member copy.
// Each copy gets its own ID so its queue row and status live their own life.
func (m *Message) forRecipient(recipientID int64) *Message {
	c := *m
	c.ID = uuid.New().String()
	c.RecipientID = &recipientID
	return &c
}
