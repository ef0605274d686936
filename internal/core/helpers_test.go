package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/relaychat-server/internal/store"
)

// memStore is an in-memory MessageStore + GroupStore for core tests.
type memStore struct {
	mu       sync.Mutex
	rows     map[string]*store.Message
	order    []string
	members  map[int64][]int64
	failSave bool
}

func newMemStore() *memStore {
	return &memStore{
		rows:    make(map[string]*store.Message),
		members: make(map[int64][]int64),
	}
}

func (s *memStore) SaveMessage(_ context.Context, msg *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("disk full")
	}
	cp := *msg
	s.rows[msg.ID] = &cp
	s.order = append(s.order, msg.ID)
	return nil
}

func (s *memStore) UpdateMessageStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return store.ErrNotFound
	}
	row.Status = status
	return nil
}

func (s *memStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *memStore) ListQueuedFor(_ context.Context, recipientID int64) ([]*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Message
	for _, id := range s.order {
		row, ok := s.rows[id]
		if !ok {
			continue
		}
		if row.RecipientID != nil && *row.RecipientID == recipientID && row.Status == string(StatusQueued) {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) CreateGroup(_ context.Context, name string) (*store.Group, error) {
	return &store.Group{ID: 1, Name: name}, nil
}

func (s *memStore) AddGroupMember(_ context.Context, groupID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[groupID] = append(s.members[groupID], userID)
	return nil
}

func (s *memStore) MembersOf(_ context.Context, groupID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.members[groupID]...), nil
}

// statuses snapshots the stored status of every remaining row in insert order.
func (s *memStore) statuses(recipientID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range s.order {
		row, ok := s.rows[id]
		if !ok {
			continue
		}
		if row.RecipientID != nil && *row.RecipientID == recipientID {
			out = append(out, row.Status)
		}
	}
	return out
}

// fakeSession is a scriptable delivery target.
type fakeSession struct {
	id         int64
	mu         sync.Mutex
	inbox      []*Message
	deliverErr error
}

func newFakeSession(id int64) *fakeSession {
	return &fakeSession{id: id}
}

func (f *fakeSession) UserID() int64 { return f.id }

func (f *fakeSession) Deliver(msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliverErr != nil {
		return f.deliverErr
	}
	f.inbox = append(f.inbox, msg)
	return nil
}

func (f *fakeSession) NotifyStatus(int64, bool) error { return nil }

func (f *fakeSession) received() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Message(nil), f.inbox...)
}

func (f *fakeSession) failWith(err error) {
	f.mu.Lock()
	f.deliverErr = err
	f.mu.Unlock()
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// timeFarFuture gives a deadline every recorded activity predates.
func timeFarFuture() time.Time {
	return time.Now().Add(time.Hour)
}

func newTestRouter(st *memStore) (*Router, *Directory, *Mailboxes) {
	dir := NewDirectory(nopLogger())
	mail := NewMailboxes(st, nopLogger())
	router := NewRouter(dir, mail, st, st, nil, nopLogger())
	return router, dir, mail
}

func directTo(senderID, recipientID int64, body string) *Message {
	msg, err := NewMessage(senderID, recipientID, 0, body)
	if err != nil {
		panic(err)
	}
	return msg
}
