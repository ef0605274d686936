package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Session is a live delivery target bound to exactly one authenticated user.
// Implementations must not block indefinitely in Deliver; a full outbound
// buffer is reported as an error so the caller can fall back to the mailbox.
type Session interface {
	// UserID returns the authenticated user this session belongs to.
	UserID() int64

	// Deliver hands a message to the session for transmission.
	Deliver(msg *Message) error

	// NotifyStatus informs the session's client that another user's
	// online flag changed.
	NotifyStatus(userID int64, online bool) error
}

// Presence is a snapshot of one user's liveness as seen by the directory.
type Presence struct {
	UserID   int64
	LastSeen time.Time
}

// Directory is the in-memory registry mapping user IDs to their currently
// active session. Entries are created lazily and survive for the process
// lifetime; only the session reference and online flag come and go.
//
// The map mutex makes individual operations atomic. Composite operations
// (register + mailbox flush, lookup + hand-off) are serialized per user by
// the Router's keyed lock, so a registration in flight can never be observed
// as "absent" by a concurrent send for the same user.
type Directory struct {
	mu       sync.RWMutex
	entries  map[int64]*dirEntry
	onStatus func(userID int64, online bool)
	log      zerolog.Logger
}

type dirEntry struct {
	sess     Session
	online   bool
	lastSeen time.Time
}

// NewDirectory creates an empty directory.
func NewDirectory(logger zerolog.Logger) *Directory {
	return &Directory{
		entries: make(map[int64]*dirEntry),
		log:     logger,
	}
}

// OnStatusChange installs the broadcast path invoked on every actual
// online/offline flip. Must be called before the first registration.
func (d *Directory) OnStatusChange(fn func(userID int64, online bool)) {
	d.onStatus = fn
}

// Register installs sess as the sole delivery target for userID, replacing
// any prior registration, and marks the user online.
func (d *Directory) Register(userID int64, sess Session) {
	d.mu.Lock()
	e := d.entry(userID)
	replaced := e.sess != nil && e.sess != sess
	flipped := !e.online
	e.sess = sess
	e.online = true
	e.lastSeen = time.Now()
	d.mu.Unlock()

	if replaced {
		d.log.Info().Int64("user_id", userID).Msg("session replaced by new login")
	}
	if flipped && d.onStatus != nil {
		d.onStatus(userID, true)
	}
}

// Unregister removes the mapping and marks the user offline, but only if the
// stored session is still sess. A stale unregister from an already-replaced
// session is a no-op. Returns true if the mapping was removed.
func (d *Directory) Unregister(userID int64, sess Session) bool {
	d.mu.Lock()
	e, ok := d.entries[userID]
	if !ok || e.sess != sess {
		d.mu.Unlock()
		return false
	}
	e.sess = nil
	flipped := e.online
	e.online = false
	d.mu.Unlock()

	if flipped && d.onStatus != nil {
		d.onStatus(userID, false)
	}
	return true
}

// Lookup returns the current session for userID, or nil if absent.
func (d *Directory) Lookup(userID int64) Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if e, ok := d.entries[userID]; ok && e.online {
		return e.sess
	}
	return nil
}

// Touch refreshes the user's last-seen timestamp without broadcasting.
func (d *Directory) Touch(userID int64) {
	d.mu.Lock()
	if e, ok := d.entries[userID]; ok && e.online {
		e.lastSeen = time.Now()
	}
	d.mu.Unlock()
}

// ExpireIfIdle flips the user offline if their last activity is at or before
// the deadline. Returns true only on an actual flip, which keeps the
// broadcast debounced under concurrent sweeps.
func (d *Directory) ExpireIfIdle(userID int64, deadline time.Time) bool {
	d.mu.Lock()
	e, ok := d.entries[userID]
	if !ok || !e.online || e.lastSeen.After(deadline) {
		d.mu.Unlock()
		return false
	}
	e.sess = nil
	e.online = false
	d.mu.Unlock()

	d.log.Info().Int64("user_id", userID).Msg("presence timeout, forcing offline")
	if d.onStatus != nil {
		d.onStatus(userID, false)
	}
	return true
}

// OnlineUsers returns a snapshot of currently online users and their
// last-seen timestamps.
func (d *Directory) OnlineUsers() []Presence {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Presence, 0, len(d.entries))
	for id, e := range d.entries {
		if e.online {
			out = append(out, Presence{UserID: id, LastSeen: e.lastSeen})
		}
	}
	return out
}

// SessionsExcept returns the sessions of all online users other than userID.
func (d *Directory) SessionsExcept(userID int64) []Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Session, 0, len(d.entries))
	for id, e := range d.entries {
		if id != userID && e.online && e.sess != nil {
			out = append(out, e.sess)
		}
	}
	return out
}

// entry returns the user's entry, creating it lazily. Caller holds d.mu.
func (d *Directory) entry(userID int64) *dirEntry {
	e, ok := d.entries[userID]
	if !ok {
		e = &dirEntry{}
		d.entries[userID] = e
	}
	return e
}
