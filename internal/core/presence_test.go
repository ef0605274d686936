package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/relaychat-server/internal/store"
)

type flipRecorder struct {
	mu    sync.Mutex
	flips map[int64][]bool
}

func newFlipRecorder() *flipRecorder {
	return &flipRecorder{flips: make(map[int64][]bool)}
}

func (r *flipRecorder) record(userID int64, online bool) {
	r.mu.Lock()
	r.flips[userID] = append(r.flips[userID], online)
	r.mu.Unlock()
}

func (r *flipRecorder) of(userID int64) []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.flips[userID]...)
}

func TestMonitorSweepForcesIdleUsersOffline(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	router, dir, _ := newTestRouter(st)

	rec := newFlipRecorder()
	dir.OnStatusChange(rec.record)

	monitor := NewMonitor(router, time.Second, time.Minute, nopLogger())

	idle := newFakeSession(1)
	router.Attach(ctx, 1, idle)

	// Idle well past the timeout from the sweep's point of view.
	monitor.Sweep(time.Now().Add(2 * time.Minute))

	if got := dir.Lookup(1); got != nil {
		t.Fatalf("idle user should be forced offline, still registered: %v", got)
	}

	want := []bool{true, false}
	got := rec.of(1)
	if len(got) != len(want) {
		t.Fatalf("expected exactly one online and one offline broadcast, got %v", got)
	}

	// A second sweep must not broadcast again.
	monitor.Sweep(time.Now().Add(3 * time.Minute))
	if got := rec.of(1); len(got) != len(want) {
		t.Fatalf("redundant broadcast after second sweep: %v", got)
	}
}

func TestMonitorSweepSparesActiveUsers(t *testing.T) {
	ctx := context.Background()
	router, dir, _ := newTestRouter(newMemStore())
	monitor := NewMonitor(router, time.Second, time.Minute, nopLogger())

	active := newFakeSession(1)
	router.Attach(ctx, 1, active)
	dir.Touch(1)

	monitor.Sweep(time.Now())

	if got := dir.Lookup(1); got != Session(active) {
		t.Fatalf("recently active user must stay online")
	}
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	router, _, _ := newTestRouter(newMemStore())
	monitor := NewMonitor(router, 5*time.Millisecond, time.Minute, nopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("monitor did not stop after cancellation")
	}
}

func TestBroadcasterNotifiesOtherSessionsOnly(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	dir := NewDirectory(nopLogger())
	mail := NewMailboxes(st, nopLogger())
	router := NewRouter(dir, mail, st, st, nil, nopLogger())

	var notified []int64
	var mu sync.Mutex
	watcher := &notifySession{fakeSession: newFakeSession(1), onNotify: func(userID int64, online bool) {
		mu.Lock()
		notified = append(notified, userID)
		mu.Unlock()
	}}

	bcast := NewStatusBroadcaster(dir, userFlagStore{}, nopLogger())
	dir.OnStatusChange(bcast.UserStatusChanged)

	router.Attach(ctx, 1, watcher)
	router.Attach(ctx, 2, newFakeSession(2))

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 || notified[0] != 2 {
		t.Fatalf("watcher should hear about user 2 only, got %v", notified)
	}
}

func TestBroadcasterSlowStoreDoesNotBlockFlips(t *testing.T) {
	st := &slowUserStore{
		release: make(chan struct{}),
		calls:   make(chan statusCall, 4),
	}
	dir := NewDirectory(nopLogger())
	bcast := NewStatusBroadcaster(dir, st, nopLogger())
	dir.OnStatusChange(bcast.UserStatusChanged)

	sess := newFakeSession(1)
	done := make(chan struct{})
	go func() {
		dir.Register(1, sess)
		dir.Unregister(1, sess)
		close(done)
	}()

	// The store write is stuck, but the flips themselves must not be.
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("status flips blocked behind the store write")
	}

	close(st.release)

	readCall := func() statusCall {
		select {
		case c := <-st.calls:
			return c
		case <-time.After(2 * time.Second):
			t.Fatalf("durable write never arrived")
			return statusCall{}
		}
	}
	if c := readCall(); c.userID != 1 || !c.online {
		t.Fatalf("first mirrored write should be online, got %+v", c)
	}
	if c := readCall(); c.userID != 1 || c.online {
		t.Fatalf("second mirrored write should be offline, got %+v", c)
	}
}

// notifySession records status notifications.
type notifySession struct {
	*fakeSession
	onNotify func(int64, bool)
}

func (n *notifySession) NotifyStatus(userID int64, online bool) error {
	n.onNotify(userID, online)
	return nil
}

// userFlagStore is a no-op UserStore for broadcast tests.
type userFlagStore struct{}

func (userFlagStore) CreateUser(context.Context, string, string, string) (*store.User, error) {
	return nil, store.ErrNotFound
}

func (userFlagStore) GetUserByID(context.Context, int64) (*store.User, error) {
	return nil, store.ErrNotFound
}

func (userFlagStore) GetUserByEmail(context.Context, string) (*store.User, error) {
	return nil, store.ErrNotFound
}

func (userFlagStore) SetOnline(context.Context, int64, bool) error { return nil }

type statusCall struct {
	userID int64
	online bool
}

// slowUserStore holds every SetOnline until released, then records it.
type slowUserStore struct {
	userFlagStore
	release chan struct{}
	calls   chan statusCall
}

func (s *slowUserStore) SetOnline(_ context.Context, id int64, online bool) error {
	<-s.release
	s.calls <- statusCall{userID: id, online: online}
	return nil
}
