package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/stretchr/testify/mock"
)

type mockCredentials struct {
	mock.Mock
}

func (m *mockCredentials) Acquire(ctx context.Context) (Token, error) {
	args := m.Called(ctx)
	return args.Get(0).(Token), args.Error(1)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, window FetchWindow, token Token) ([]RawMessage, error) {
	args := m.Called(ctx, window, token)
	raws, _ := args.Get(0).([]RawMessage)
	return raws, args.Error(1)
}

type mockMessageStore struct {
	mock.Mock
}

func (m *mockMessageStore) FindByID(ctx context.Context, id string) (*NormalizedMessage, error) {
	args := m.Called(ctx, id)
	msg, _ := args.Get(0).(*NormalizedMessage)
	return msg, args.Error(1)
}

func (m *mockMessageStore) Insert(ctx context.Context, msg NormalizedMessage) error {
	return m.Called(ctx, msg).Error(0)
}

// memoryStore is a MessageStore over a map
type memoryStore struct {
	mu      gosync.Mutex
	records map[string]NormalizedMessage
	inserts int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string]NormalizedMessage{}}
}

func (s *memoryStore) FindByID(_ context.Context, id string) (*NormalizedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

func (s *memoryStore) Insert(_ context.Context, msg NormalizedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[msg.ID]; ok {
		return ErrDuplicateKey
	}
	s.records[msg.ID] = msg
	s.inserts++
	return nil
}

func (s *memoryStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// panickingStore wraps memoryStore and panics on lookups of one id
type panickingStore struct {
	*memoryStore
	panicOn string
}

func (s *panickingStore) FindByID(ctx context.Context, id string) (*NormalizedMessage, error) {
	if id == s.panicOn {
		panic("driver bug")
	}
	return s.memoryStore.FindByID(ctx, id)
}
