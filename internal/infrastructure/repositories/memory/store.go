package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/pkg/utils"
)

type Store struct {
	mu       sync.RWMutex
	clock    *utils.MonotonicClock
	users    map[domain.UserID]*domain.Identity
	groups   map[domain.GroupID]*domain.Group
	members  map[domain.GroupID]map[domain.UserID]time.Time
	messages map[domain.GroupID][]*domain.Message
}

func NewStore() *Store {
	return NewStoreWithClock(utils.NewMonotonicClock())
}

// NewStoreWithClock stamps groups, memberships and messages from clock.
func NewStoreWithClock(clock *utils.MonotonicClock) *Store {
	return &Store{
		clock:    clock,
		users:    make(map[domain.UserID]*domain.Identity),
		groups:   make(map[domain.GroupID]*domain.Group),
		members:  make(map[domain.GroupID]map[domain.UserID]time.Time),
		messages: make(map[domain.GroupID][]*domain.Message),
	}
}

var _ ports.Store = (*Store)(nil)

func (s *Store) CreateUser(ctx context.Context, user *domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return domain.ErrUserExists
	}
	u := *user
	s.users[user.ID] = &u
	return nil
}

func (s *Store) FindUserByID(ctx context.Context, id domain.UserID) (*domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[id]
	if !exists {
		return nil, domain.ErrUserNotFound
	}
	u := *user
	return &u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[id]; !exists {
		return domain.ErrUserNotFound
	}
	delete(s.users, id)
	for _, members := range s.members {
		delete(members, id)
	}
	return nil
}

func (s *Store) CreateGroup(ctx context.Context, name string, ownerID domain.UserID) (*domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[ownerID]; !exists {
		return nil, domain.ErrUserNotFound
	}

	now := s.clock.Now()
	group := &domain.Group{
		ID:        domain.GroupID(utils.NewGroupID()),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: now,
	}
	s.groups[group.ID] = group
	s.members[group.ID] = map[domain.UserID]time.Time{ownerID: now}

	g := *group
	return &g, nil
}

func (s *Store) FindGroupByID(ctx context.Context, id domain.GroupID) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, exists := s.groups[id]
	if !exists {
		return nil, domain.ErrGroupNotFound
	}
	g := *group
	return &g, nil
}

func (s *Store) DeleteGroup(ctx context.Context, id domain.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[id]; !exists {
		return domain.ErrGroupNotFound
	}
	delete(s.groups, id)
	delete(s.members, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) ListGroupsForUser(ctx context.Context, userID domain.UserID) ([]*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]*domain.Group, 0)
	for groupID, members := range s.members {
		if _, ok := members[userID]; !ok {
			continue
		}
		g := *s.groups[groupID]
		groups = append(groups, &g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].CreatedAt.After(groups[j].CreatedAt)
	})
	return groups, nil
}

func (s *Store) AddMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) (*domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[groupID]; !exists {
		return nil, domain.ErrGroupNotFound
	}
	if _, exists := s.users[userID]; !exists {
		return nil, domain.ErrUserNotFound
	}
	if _, exists := s.members[groupID][userID]; exists {
		return nil, domain.ErrAlreadyMember
	}

	joinedAt := s.clock.Now()
	s.members[groupID][userID] = joinedAt
	return &domain.Membership{UserID: userID, GroupID: groupID, JoinedAt: joinedAt}, nil
}

func (s *Store) RemoveMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.members[groupID][userID]; !exists {
		return domain.ErrMembershipNotFound
	}
	delete(s.members[groupID], userID)
	return nil
}

func (s *Store) FindMembership(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (*domain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	joinedAt, exists := s.members[groupID][userID]
	if !exists {
		return nil, domain.ErrMembershipNotFound
	}
	return &domain.Membership{UserID: userID, GroupID: groupID, JoinedAt: joinedAt}, nil
}

func (s *Store) ListMembers(ctx context.Context, groupID domain.GroupID) ([]domain.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, exists := s.members[groupID]
	if !exists {
		return nil, domain.ErrGroupNotFound
	}
	ids := make([]domain.UserID, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) CreateMessage(ctx context.Context, groupID domain.GroupID, authorID domain.UserID, content string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[groupID]; !exists {
		return nil, domain.ErrGroupNotFound
	}

	msg := &domain.Message{
		ID:        domain.MessageID(utils.NewMessageID()),
		GroupID:   groupID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: s.clock.Now(),
	}
	s.messages[groupID] = append(s.messages[groupID], msg)

	m := *msg
	return &m, nil
}

func (s *Store) ListRecentMessages(ctx context.Context, groupID domain.GroupID, limit int) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.groups[groupID]; !exists {
		return nil, domain.ErrGroupNotFound
	}

	all := s.messages[groupID]
	if limit <= 0 {
		return []*domain.Message{}, nil
	}
	start := 0
	if len(all) > limit {
		start = len(all) - limit
	}
	recent := make([]*domain.Message, 0, len(all)-start)
	for _, msg := range all[start:] {
		m := *msg
		recent = append(recent, &m)
	}
	return recent, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}
