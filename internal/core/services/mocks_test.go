package services

import (
	"context"
	"sync"
	"time"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

type mockStore struct {
	mock.Mock
}

var _ ports.Store = (*mockStore)(nil)

func (m *mockStore) CreateUser(ctx context.Context, user *domain.Identity) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockStore) FindUserByID(ctx context.Context, id domain.UserID) (*domain.Identity, error) {
	args := m.Called(ctx, id)
	if u := args.Get(0); u != nil {
		return u.(*domain.Identity), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) DeleteUser(ctx context.Context, id domain.UserID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) CreateGroup(ctx context.Context, name string, ownerID domain.UserID) (*domain.Group, error) {
	args := m.Called(ctx, name, ownerID)
	if g := args.Get(0); g != nil {
		return g.(*domain.Group), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) FindGroupByID(ctx context.Context, id domain.GroupID) (*domain.Group, error) {
	args := m.Called(ctx, id)
	if g := args.Get(0); g != nil {
		return g.(*domain.Group), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) DeleteGroup(ctx context.Context, id domain.GroupID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) ListGroupsForUser(ctx context.Context, userID domain.UserID) ([]*domain.Group, error) {
	args := m.Called(ctx, userID)
	if g := args.Get(0); g != nil {
		return g.([]*domain.Group), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) AddMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) (*domain.Membership, error) {
	args := m.Called(ctx, groupID, userID)
	if ms := args.Get(0); ms != nil {
		return ms.(*domain.Membership), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) RemoveMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) error {
	return m.Called(ctx, groupID, userID).Error(0)
}

func (m *mockStore) FindMembership(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (*domain.Membership, error) {
	args := m.Called(ctx, userID, groupID)
	if ms := args.Get(0); ms != nil {
		return ms.(*domain.Membership), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ListMembers(ctx context.Context, groupID domain.GroupID) ([]domain.UserID, error) {
	args := m.Called(ctx, groupID)
	if ids := args.Get(0); ids != nil {
		return ids.([]domain.UserID), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) CreateMessage(ctx context.Context, groupID domain.GroupID, authorID domain.UserID, content string) (*domain.Message, error) {
	args := m.Called(ctx, groupID, authorID, content)
	if msg := args.Get(0); msg != nil {
		return msg.(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ListRecentMessages(ctx context.Context, groupID domain.GroupID, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, groupID, limit)
	if msgs := args.Get(0); msgs != nil {
		return msgs.([]*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

type mockEvictor struct {
	mock.Mock
}

func (m *mockEvictor) EvictMember(userID domain.UserID, groupID domain.GroupID, reason string) int {
	return m.Called(userID, groupID, reason).Int(0)
}

func (m *mockEvictor) EvictRoom(groupID domain.GroupID, reason string) int {
	return m.Called(groupID, reason).Int(0)
}

func (m *mockEvictor) DisconnectUser(userID domain.UserID, reason string) int {
	return m.Called(userID, reason).Int(0)
}

// fakeEndpoint records deliveries. With capacity > 0 it refuses events once
// that many are queued.
type fakeEndpoint struct {
	mu       sync.Mutex
	events   []domain.ServerEvent
	capacity int
	closed   bool
	reason   string
}

func (e *fakeEndpoint) Deliver(event domain.ServerEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || (e.capacity > 0 && len(e.events) >= e.capacity) {
		return false
	}
	e.events = append(e.events, event)
	return true
}

func (e *fakeEndpoint) Close(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.reason = reason
	}
}

func (e *fakeEndpoint) Events() []domain.ServerEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.ServerEvent(nil), e.events...)
}

func (e *fakeEndpoint) EventsOfType(t domain.EventType) []domain.ServerEvent {
	var out []domain.ServerEvent
	for _, ev := range e.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Messages returns the contents of every new_message received, in order.
func (e *fakeEndpoint) Messages() []string {
	var out []string
	for _, ev := range e.EventsOfType(domain.EventNewMessage) {
		out = append(out, ev.Payload.(*domain.MessageWithAuthor).Content)
	}
	return out
}

func (e *fakeEndpoint) Closed() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed, e.reason
}

// staticAuthorizer allows a fixed set of (user, group) pairs.
type staticAuthorizer struct {
	mu      sync.Mutex
	allowed map[domain.UserID]map[domain.GroupID]bool
	err     error
	calls   int
}

func newStaticAuthorizer() *staticAuthorizer {
	return &staticAuthorizer{allowed: make(map[domain.UserID]map[domain.GroupID]bool)}
}

func (a *staticAuthorizer) Allow(userID domain.UserID, groupID domain.GroupID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.allowed[userID] == nil {
		a.allowed[userID] = make(map[domain.GroupID]bool)
	}
	a.allowed[userID][groupID] = true
}

func (a *staticAuthorizer) Revoke(userID domain.UserID, groupID domain.GroupID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allowed[userID], groupID)
}

func (a *staticAuthorizer) Authorize(_ context.Context, identity domain.Identity, groupID domain.GroupID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return a.err
	}
	if a.allowed[identity.ID][groupID] {
		return nil
	}
	return domain.ErrMembershipDenied
}

// sequenceMessages persists into memory with strictly increasing timestamps.
type sequenceMessages struct {
	mu    sync.Mutex
	next  int
	base  time.Time
	saved []*domain.Message
	err   error
}

func (s *sequenceMessages) CreateMessage(_ context.Context, groupID domain.GroupID, authorID domain.UserID, content string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.next++
	msg := &domain.Message{
		ID:        domain.MessageID(time.Duration(s.next).String()),
		GroupID:   groupID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: s.base.Add(time.Duration(s.next) * time.Microsecond),
	}
	s.saved = append(s.saved, msg)
	return msg, nil
}

func (s *sequenceMessages) ListRecentMessages(_ context.Context, groupID domain.GroupID, limit int) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Message
	for _, m := range s.saved {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *sequenceMessages) Saved(groupID domain.GroupID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.saved {
		if m.GroupID == groupID {
			out = append(out, m.Content)
		}
	}
	return out
}
