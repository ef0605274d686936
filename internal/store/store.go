package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a registered account.
type User struct {
	ID           int64
	Email        string
	DisplayName  string
	PasswordHash string
	Online       bool
	CreatedAt    time.Time
}

// Message represents a persisted chat message. Every row is addressed to a
// single recipient; a group message is persisted as one row per member, with
// GroupID recording the originating group.
type Message struct {
	ID          string
	SenderID    int64
	RecipientID *int64
	GroupID     *int64
	Body        string
	Status      string
	CreatedAt   time.Time
}

// Group represents a named set of users that can be addressed together.
type Group struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, email, displayName, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// SetOnline mirrors the in-memory online flag into the durable profile.
	SetOnline(ctx context.Context, id int64, online bool) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message with its current status.
	SaveMessage(ctx context.Context, msg *Message) error

	// UpdateMessageStatus sets the status of a persisted message.
	UpdateMessageStatus(ctx context.Context, id, status string) error

	// DeleteMessage removes a message once its terminal state is acknowledged.
	DeleteMessage(ctx context.Context, id string) error

	// ListQueuedFor returns the QUEUED messages for a recipient in send order.
	ListQueuedFor(ctx context.Context, recipientID int64) ([]*Message, error)
}

// GroupStore handles group membership.
type GroupStore interface {
	// CreateGroup creates a new group.
	CreateGroup(ctx context.Context, name string) (*Group, error)

	// AddGroupMember adds a user to a group.
	AddGroupMember(ctx context.Context, groupID, userID int64) error

	// MembersOf lists the user IDs belonging to a group.
	MembersOf(ctx context.Context, groupID int64) ([]int64, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore
	GroupStore

	// Close closes the underlying database connection.
	Close() error
}
