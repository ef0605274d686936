package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/relaychat-server/internal/store"
)

// mirrorTimeout bounds one durable online-flag write.
const mirrorTimeout = 5 * time.Second

// StatusBroadcaster is the directory's broadcast path: on every actual
// online/offline flip it mirrors the flag into the durable profile and fans
// a status update out to every other online session. Debouncing happens in
// the directory, which only reports actual flips.
//
// Callers report flips while holding the flipping user's routing lock, so
// the durable mirror is decoupled through a channel: a slow store write must
// not stall that user's deliveries. The mirror goroutine applies flips in
// arrival order and lives for the process lifetime.
type StatusBroadcaster struct {
	dir   *Directory
	users store.UserStore
	flips chan statusFlip
	log   zerolog.Logger
}

type statusFlip struct {
	userID int64
	online bool
}

// NewStatusBroadcaster builds the broadcast path and starts its mirror
// goroutine. Install it on the directory with OnStatusChange before any
// session registers.
func NewStatusBroadcaster(dir *Directory, users store.UserStore, logger zerolog.Logger) *StatusBroadcaster {
	b := &StatusBroadcaster{
		dir:   dir,
		users: users,
		flips: make(chan statusFlip, 64),
		log:   logger,
	}
	go b.mirrorLoop()
	return b
}

// UserStatusChanged reports one flip to storage and to connected clients.
func (b *StatusBroadcaster) UserStatusChanged(userID int64, online bool) {
	select {
	case b.flips <- statusFlip{userID: userID, online: online}:
	default:
		b.log.Warn().Int64("user_id", userID).Msg("status mirror backlog full, dropping write")
	}

	for _, sess := range b.dir.SessionsExcept(userID) {
		if err := sess.NotifyStatus(userID, online); err != nil {
			b.log.Warn().Err(err).
				Int64("user_id", userID).
				Int64("target_id", sess.UserID()).
				Msg("status broadcast failed")
		}
	}
}

// mirrorLoop applies flips to the durable profile in arrival order.
func (b *StatusBroadcaster) mirrorLoop() {
	for f := range b.flips {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		if err := b.users.SetOnline(ctx, f.userID, f.online); err != nil {
			b.log.Error().Err(err).Int64("user_id", f.userID).Msg("persist online flag failed")
		}
		cancel()
	}
}

// Monitor is the background heartbeat tracker. It periodically compares each
// online user's last activity against a fixed timeout and forces idle users
// offline through the same path as an ordinary disconnect.
type Monitor struct {
	router   *Router
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

// NewMonitor creates a presence monitor sweeping at interval with the given
// idle timeout.
func NewMonitor(router *Router, interval, timeout time.Duration, logger zerolog.Logger) *Monitor {
	return &Monitor{
		router:   router,
		interval: interval,
		timeout:  timeout,
		log:      logger,
	}
}

// Run sweeps until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info().
		Dur("interval", m.interval).
		Dur("timeout", m.timeout).
		Msg("presence monitor started")

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("presence monitor stopped")
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Sweep snapshots the online users and expires those idle past the timeout,
// one user at a time under that user's lock. The deadline is re-checked
// under the lock, so activity racing the sweep wins.
func (m *Monitor) Sweep(now time.Time) {
	deadline := now.Add(-m.timeout)
	for _, p := range m.router.OnlineSnapshot() {
		if !p.LastSeen.After(deadline) {
			m.router.ExpireIfIdle(p.UserID, deadline)
		}
	}
}
