package core

import (
	"context"
	"errors"
	"testing"
)

func TestMailboxEnqueuePersistsAndOrders(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	mail := NewMailboxes(st, nopLogger())

	mail.Enqueue(ctx, 2, directTo(1, 2, "first"))
	mail.Enqueue(ctx, 2, directTo(1, 2, "second"))

	if got := mail.Pending(ctx, 2); got != 2 {
		t.Fatalf("expected 2 pending, got %d", got)
	}
	if got := st.statuses(2); len(got) != 2 || got[0] != "QUEUED" || got[1] != "QUEUED" {
		t.Fatalf("expected two QUEUED rows, got %v", got)
	}

	sink := newFakeSession(2)
	if n := mail.FlushAll(ctx, 2, sink); n != 2 {
		t.Fatalf("expected 2 flushed, got %d", n)
	}

	received := sink.received()
	if received[0].Body != "first" || received[1].Body != "second" {
		t.Fatalf("flush violated FIFO: %q, %q", received[0].Body, received[1].Body)
	}
	if got := st.statuses(2); len(got) != 0 {
		t.Fatalf("delivered rows should be deleted, got %v", got)
	}
}

func TestMailboxFlushStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	mail := NewMailboxes(st, nopLogger())

	mail.Enqueue(ctx, 2, directTo(1, 2, "head"))
	mail.Enqueue(ctx, 2, directTo(1, 2, "tail"))

	sink := newFakeSession(2)
	sink.failWith(errors.New("broken pipe"))

	if n := mail.FlushAll(ctx, 2, sink); n != 0 {
		t.Fatalf("expected 0 flushed, got %d", n)
	}
	// Later messages are not attempted out of order even though they might
	// succeed; the whole queue stays put behind the head.
	if got := mail.Pending(ctx, 2); got != 2 {
		t.Fatalf("failed flush must leave the queue untouched, got %d pending", got)
	}

	sink.failWith(nil)
	if n := mail.FlushAll(ctx, 2, sink); n != 2 {
		t.Fatalf("expected 2 flushed after recovery, got %d", n)
	}
}

func TestMailboxHydratesFromDurableStore(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()

	// Rows left behind by an earlier process run.
	rid := int64(7)
	for _, body := range []string{"one", "two", "three"} {
		msg := directTo(3, rid, body)
		msg.Status = StatusQueued
		row := toStoreMessage(msg)
		if err := st.SaveMessage(ctx, row); err != nil {
			t.Fatalf("seed row: %v", err)
		}
	}

	mail := NewMailboxes(st, nopLogger())
	sink := newFakeSession(rid)
	if n := mail.FlushAll(ctx, rid, sink); n != 3 {
		t.Fatalf("expected 3 hydrated messages flushed, got %d", n)
	}

	received := sink.received()
	for i, want := range []string{"one", "two", "three"} {
		if received[i].Body != want {
			t.Fatalf("hydrated order broken at %d: got %q want %q", i, received[i].Body, want)
		}
	}
}

func TestMailboxPersistenceFailureDropsMessage(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.failSave = true
	mail := NewMailboxes(st, nopLogger())

	if mail.Enqueue(ctx, 2, directTo(1, 2, "doomed")) {
		t.Fatalf("enqueue should report the drop")
	}
	if got := mail.Pending(ctx, 2); got != 0 {
		t.Fatalf("dropped message must not linger in the queue, got %d pending", got)
	}
}

func TestMailboxAckRemovesPendingMessage(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	mail := NewMailboxes(st, nopLogger())

	msg := directTo(1, 2, "hello")
	mail.Enqueue(ctx, 2, msg)

	if !mail.Ack(ctx, 2, msg.ID) {
		t.Fatalf("expected ack to find the pending message")
	}
	if got := mail.Pending(ctx, 2); got != 0 {
		t.Fatalf("acked message still pending")
	}
	if got := st.statuses(2); len(got) != 0 {
		t.Fatalf("acked message row should be deleted, got %v", got)
	}

	if mail.Ack(ctx, 2, msg.ID) {
		t.Fatalf("second ack should find nothing")
	}
}

func TestMailboxLazyCreation(t *testing.T) {
	ctx := context.Background()
	mail := NewMailboxes(newMemStore(), nopLogger())

	// First reference via a read must not panic or lose anything.
	if got := mail.Pending(ctx, 42); got != 0 {
		t.Fatalf("fresh mailbox should be empty, got %d", got)
	}
}
