package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/relaychat-server/internal/metrics"
	"github.com/vovakirdan/relaychat-server/internal/store"
)

// Receipt is the synchronous confirmation returned to the sender for one
// addressed recipient. Status is DELIVERED or QUEUED; never FAILED at this
// layer — persistence failures are logged, not surfaced.
type Receipt struct {
	MessageID   string
	RecipientID int64
	Status      Status
}

// Router decides, for every outgoing message, whether to hand it directly to
// a connected session or fall back to the recipient's mailbox, and performs
// group fan-out.
//
// It owns a per-user keyed lock that serializes all composite operations for
// one user (register + flush, lookup + hand-off, unregister). Group fan-out
// locks one member at a time and never holds two members' locks at once.
type Router struct {
	dir      *Directory
	mail     *Mailboxes
	groups   store.GroupStore
	messages store.MessageStore
	metrics  *metrics.Metrics
	locks    userLocks
	log      zerolog.Logger
}

// NewRouter wires the delivery router.
func NewRouter(dir *Directory, mail *Mailboxes, groups store.GroupStore, messages store.MessageStore, m *metrics.Metrics, logger zerolog.Logger) *Router {
	return &Router{
		dir:      dir,
		mail:     mail,
		groups:   groups,
		messages: messages,
		metrics:  m,
		log:      logger,
	}
}

// Route is the single entry point for every outgoing message. It returns one
// receipt per addressed recipient: one for a direct message, one per member
// (sender excluded) for a group message.
func (r *Router) Route(ctx context.Context, msg *Message) ([]Receipt, error) {
	if msg.Direct() == (msg.GroupID != nil) {
		return nil, ErrBadAddress
	}

	if msg.Direct() {
		rcpt := r.deliverOne(ctx, msg)
		return []Receipt{rcpt}, nil
	}

	members, err := r.groups.MembersOf(ctx, *msg.GroupID)
	if err != nil {
		return nil, fmt.Errorf("resolve group %d: %w", *msg.GroupID, err)
	}

	receipts := make([]Receipt, 0, len(members))
	for _, member := range members {
		if member == msg.SenderID {
			continue
		}
		// Independent per-member copy: its own ID, its own queue row,
		// its own outcome. One member's failure never affects another.
		dup := msg.forRecipient(member)
		rcpt := r.deliverOne(ctx, dup)
		rcpt.MessageID = msg.ID
		receipts = append(receipts, rcpt)
	}
	return receipts, nil
}

// deliverOne runs the direct-or-queue decision for a message whose
// RecipientID is set.
func (r *Router) deliverOne(ctx context.Context, msg *Message) Receipt {
	rid := *msg.RecipientID
	lk := r.locks.get(rid)
	lk.Lock()
	defer lk.Unlock()

	if sess := r.dir.Lookup(rid); sess != nil {
		err := sess.Deliver(msg)
		if err == nil {
			msg.Status = StatusDelivered
			if saveErr := r.messages.SaveMessage(ctx, toStoreMessage(msg)); saveErr != nil {
				r.log.Error().Err(saveErr).Str("msg_id", msg.ID).Msg("persist delivered message failed")
			}
			r.metrics.MessageRouted("delivered")
			return Receipt{MessageID: msg.ID, RecipientID: rid, Status: StatusDelivered}
		}
		// A hand-off error is treated identically to "recipient absent".
		r.log.Warn().Err(err).
			Str("msg_id", msg.ID).
			Int64("recipient_id", rid).
			Msg("live hand-off failed, queueing")
	}

	r.mail.Enqueue(ctx, rid, msg)
	r.metrics.MessageRouted("queued")
	return Receipt{MessageID: msg.ID, RecipientID: rid, Status: StatusQueued}
}

// Attach registers sess as the user's delivery target and flushes any
// pending mailbox messages through it, atomically with respect to any send
// addressed to this user.
func (r *Router) Attach(ctx context.Context, userID int64, sess Session) {
	lk := r.locks.get(userID)
	lk.Lock()
	defer lk.Unlock()

	r.dir.Register(userID, sess)
	flushed := r.mail.FlushAll(ctx, userID, sess)
	r.metrics.MailboxFlushed(flushed)
	if flushed > 0 {
		r.log.Info().Int64("user_id", userID).Int("count", flushed).Msg("flushed queued messages")
	}
}

// Detach removes the user's registration if sess is still the one installed.
func (r *Router) Detach(ctx context.Context, userID int64, sess Session) {
	lk := r.locks.get(userID)
	lk.Lock()
	defer lk.Unlock()

	r.dir.Unregister(userID, sess)
}

// Heartbeat refreshes the user's last-seen timestamp. If the user was swept
// offline while the transport stayed up, the session re-attaches through the
// normal registration path; a stale session of a replaced login is ignored.
func (r *Router) Heartbeat(ctx context.Context, userID int64, sess Session) {
	lk := r.locks.get(userID)
	lk.Lock()
	defer lk.Unlock()

	switch cur := r.dir.Lookup(userID); cur {
	case sess:
		r.dir.Touch(userID)
	case nil:
		r.dir.Register(userID, sess)
		r.mail.FlushAll(ctx, userID, sess)
	default:
		// Replaced by a newer login; the old session's activity does not
		// extend the new one's presence.
	}
}

// Acknowledge marks the referenced message READ and removes it from the
// user's mailbox if it is still pending there.
func (r *Router) Acknowledge(ctx context.Context, userID int64, messageID string) {
	lk := r.locks.get(userID)
	lk.Lock()
	defer lk.Unlock()

	if r.mail.Ack(ctx, userID, messageID) {
		return
	}
	if err := r.messages.UpdateMessageStatus(ctx, messageID, string(StatusRead)); err != nil {
		r.log.Debug().Err(err).Str("msg_id", messageID).Msg("ack for unknown message")
		return
	}
	// Terminal state durably acknowledged; the row is no longer needed.
	if err := r.messages.DeleteMessage(ctx, messageID); err != nil {
		r.log.Error().Err(err).Str("msg_id", messageID).Msg("delete read message failed")
	}
}

// ExpireIfIdle forces the user offline when their last activity is at or
// before deadline, through the same path as an ordinary disconnect.
func (r *Router) ExpireIfIdle(userID int64, deadline time.Time) bool {
	lk := r.locks.get(userID)
	lk.Lock()
	defer lk.Unlock()

	if r.dir.ExpireIfIdle(userID, deadline) {
		r.metrics.PresenceTimeout()
		return true
	}
	return false
}

// OnlineSnapshot returns the presence of all currently online users.
func (r *Router) OnlineSnapshot() []Presence {
	return r.dir.OnlineUsers()
}

// userLocks is a lazily grown set of per-user mutexes. Entries are never
// removed; like mailboxes they live for the process lifetime.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (l *userLocks) get(userID int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[int64]*sync.Mutex)
	}
	lk, ok := l.locks[userID]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[userID] = lk
	}
	return lk
}
