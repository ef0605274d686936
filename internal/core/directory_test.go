package core

import (
	"testing"
	"time"
)

func TestDirectoryRegisterAndLookup(t *testing.T) {
	dir := NewDirectory(nopLogger())
	sess := newFakeSession(1)

	if got := dir.Lookup(1); got != nil {
		t.Fatalf("expected absent user, got %v", got)
	}

	dir.Register(1, sess)
	if got := dir.Lookup(1); got != Session(sess) {
		t.Fatalf("expected registered session, got %v", got)
	}
}

func TestDirectoryReRegisterReplacesSession(t *testing.T) {
	dir := NewDirectory(nopLogger())
	old := newFakeSession(1)
	fresh := newFakeSession(1)

	dir.Register(1, old)
	dir.Register(1, fresh)

	if got := dir.Lookup(1); got != Session(fresh) {
		t.Fatalf("expected fresh session after replacement, got %v", got)
	}

	// A stale unregister from the replaced session must be a no-op.
	if dir.Unregister(1, old) {
		t.Fatalf("stale unregister should be a no-op")
	}
	if got := dir.Lookup(1); got != Session(fresh) {
		t.Fatalf("stale unregister clobbered the fresh session")
	}

	if !dir.Unregister(1, fresh) {
		t.Fatalf("current session unregister should succeed")
	}
	if got := dir.Lookup(1); got != nil {
		t.Fatalf("expected absent after unregister, got %v", got)
	}
}

func TestDirectoryStatusDebounce(t *testing.T) {
	dir := NewDirectory(nopLogger())

	var flips []bool
	dir.OnStatusChange(func(_ int64, online bool) {
		flips = append(flips, online)
	})

	sess := newFakeSession(1)
	dir.Register(1, sess)
	// Re-registering while already online must not re-broadcast.
	dir.Register(1, sess)
	dir.Touch(1)

	dir.Unregister(1, sess)
	// Second unregister cannot flip again.
	dir.Unregister(1, sess)

	want := []bool{true, false}
	if len(flips) != len(want) {
		t.Fatalf("expected %d broadcasts, got %d: %v", len(want), len(flips), flips)
	}
	for i := range want {
		if flips[i] != want[i] {
			t.Fatalf("broadcast %d: expected %v, got %v", i, want[i], flips[i])
		}
	}
}

func TestDirectoryExpireIfIdle(t *testing.T) {
	dir := NewDirectory(nopLogger())
	sess := newFakeSession(1)
	dir.Register(1, sess)

	// Fresh activity survives a past deadline.
	if dir.ExpireIfIdle(1, time.Now().Add(-time.Minute)) {
		t.Fatalf("active user must not expire")
	}

	if !dir.ExpireIfIdle(1, time.Now().Add(time.Minute)) {
		t.Fatalf("idle user past the deadline must expire")
	}
	if got := dir.Lookup(1); got != nil {
		t.Fatalf("expired user still registered: %v", got)
	}

	// Already offline: no second flip.
	if dir.ExpireIfIdle(1, time.Now().Add(time.Minute)) {
		t.Fatalf("expire must not flip an offline user again")
	}
}

func TestDirectoryOnlineUsers(t *testing.T) {
	dir := NewDirectory(nopLogger())
	dir.Register(1, newFakeSession(1))
	dir.Register(2, newFakeSession(2))
	b := newFakeSession(2)
	dir.Register(2, b)
	dir.Unregister(2, b)

	online := dir.OnlineUsers()
	if len(online) != 1 || online[0].UserID != 1 {
		t.Fatalf("expected only user 1 online, got %+v", online)
	}
}
