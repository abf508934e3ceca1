package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/pkg/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "groupchat:"

// Store keeps users and groups as JSON strings, members as a hash of
// user id to join time, each user's groups as a sorted set scored by group
// creation time, and each group's messages as a sorted set scored by
// creation time in unix microseconds.
type Store struct {
	client *redis.Client
	clock  *utils.MonotonicClock
	owned  bool
}

// NewStore wraps an already connected client. Close leaves the client open.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client, clock: utils.NewMonotonicClock()}
}

// Open connects, migrates and returns a store that owns its client.
func Open(ctx context.Context, address, password string, db, poolSize int, logger *zap.SugaredLogger) (*Store, error) {
	client, err := NewRedisClient(ctx, address, password, db, poolSize, logger)
	if err != nil {
		return nil, err
	}
	s := NewStore(client)
	s.owned = true
	if err := s.Resume(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to resume clock: %w", err)
	}
	return s, nil
}

var _ ports.Store = (*Store)(nil)

func userKey(id domain.UserID) string { return keyPrefix + "user:" + string(id) }
func userGroupsKey(id domain.UserID) string { return keyPrefix + "user_groups:" + string(id) }
func groupKey(id domain.GroupID) string { return keyPrefix + "group:" + string(id) }
func groupMembersKey(id domain.GroupID) string { return keyPrefix + "group_members:" + string(id) }
func groupMessagesKey(id domain.GroupID) string { return keyPrefix + "group_messages:" + string(id) }

func micros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func (s *Store) CreateUser(ctx context.Context, user *domain.Identity) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	created, err := s.client.SetNX(ctx, userKey(user.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create user in Redis: %w", err)
	}
	if !created {
		return domain.ErrUserExists
	}
	return nil
}

func (s *Store) FindUserByID(ctx context.Context, id domain.UserID) (*domain.Identity, error) {
	data, err := s.client.Get(ctx, userKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user from Redis: %w", err)
	}

	var user domain.Identity
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &user, nil
}

func (s *Store) DeleteUser(ctx context.Context, id domain.UserID) error {
	groupIDs, err := s.client.ZRange(ctx, userGroupsKey(id), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read user groups: %w", err)
	}

	var deleted *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, userKey(id))
		for _, groupID := range groupIDs {
			pipe.HDel(ctx, groupMembersKey(domain.GroupID(groupID)), string(id))
		}
		pipe.Del(ctx, userGroupsKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete user from Redis: %w", err)
	}
	if deleted.Val() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *Store) CreateGroup(ctx context.Context, name string, ownerID domain.UserID) (*domain.Group, error) {
	exists, err := s.client.Exists(ctx, userKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check owner: %w", err)
	}
	if exists == 0 {
		return nil, domain.ErrUserNotFound
	}

	group := &domain.Group{
		ID:        domain.GroupID(utils.NewGroupID()),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: s.clock.Now(),
	}
	data, err := json.Marshal(group)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal group: %w", err)
	}

	created := micros(group.CreatedAt)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, groupKey(group.ID), data, 0)
		pipe.HSet(ctx, groupMembersKey(group.ID), string(ownerID), created)
		pipe.ZAdd(ctx, userGroupsKey(ownerID), redis.Z{Score: float64(created), Member: string(group.ID)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create group in Redis: %w", err)
	}
	return group, nil
}

func (s *Store) FindGroupByID(ctx context.Context, id domain.GroupID) (*domain.Group, error) {
	data, err := s.client.Get(ctx, groupKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group from Redis: %w", err)
	}
	return decodeGroup(data)
}

func decodeGroup(data []byte) (*domain.Group, error) {
	var group domain.Group
	if err := json.Unmarshal(data, &group); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group: %w", err)
	}
	return &group, nil
}

func (s *Store) DeleteGroup(ctx context.Context, id domain.GroupID) error {
	members, err := s.client.HKeys(ctx, groupMembersKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to read group members: %w", err)
	}

	var deleted *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, groupKey(id))
		for _, userID := range members {
			pipe.ZRem(ctx, userGroupsKey(domain.UserID(userID)), string(id))
		}
		pipe.Del(ctx, groupMembersKey(id), groupMessagesKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete group from Redis: %w", err)
	}
	if deleted.Val() == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

func (s *Store) ListGroupsForUser(ctx context.Context, userID domain.UserID) ([]*domain.Group, error) {
	groupIDs, err := s.client.ZRevRange(ctx, userGroupsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user groups: %w", err)
	}

	groups := make([]*domain.Group, 0, len(groupIDs))
	if len(groupIDs) == 0 {
		return groups, nil
	}

	keys := make([]string, len(groupIDs))
	for i, id := range groupIDs {
		keys[i] = groupKey(domain.GroupID(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry outlived its group
			continue
		}
		group, err := decodeGroup([]byte(raw))
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (s *Store) AddMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) (*domain.Membership, error) {
	group, err := s.FindGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	exists, err := s.client.Exists(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if exists == 0 {
		return nil, domain.ErrUserNotFound
	}

	joinedAt := s.clock.Now()
	added, err := s.client.HSetNX(ctx, groupMembersKey(groupID), string(userID), micros(joinedAt)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to add member in Redis: %w", err)
	}
	if !added {
		return nil, domain.ErrAlreadyMember
	}

	score := float64(micros(group.CreatedAt))
	if err := s.client.ZAdd(ctx, userGroupsKey(userID), redis.Z{Score: score, Member: string(groupID)}).Err(); err != nil {
		return nil, fmt.Errorf("failed to index membership: %w", err)
	}
	return &domain.Membership{UserID: userID, GroupID: groupID, JoinedAt: joinedAt}, nil
}

func (s *Store) RemoveMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) error {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, groupMembersKey(groupID), string(userID))
		pipe.ZRem(ctx, userGroupsKey(userID), string(groupID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove member in Redis: %w", err)
	}
	if removed.Val() == 0 {
		return domain.ErrMembershipNotFound
	}
	return nil
}

func (s *Store) FindMembership(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (*domain.Membership, error) {
	joined, err := s.client.HGet(ctx, groupMembersKey(groupID), string(userID)).Int64()
	if err == redis.Nil {
		return nil, domain.ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership from Redis: %w", err)
	}
	return &domain.Membership{UserID: userID, GroupID: groupID, JoinedAt: fromMicros(joined)}, nil
}

func (s *Store) ListMembers(ctx context.Context, groupID domain.GroupID) ([]domain.UserID, error) {
	if err := s.requireGroup(ctx, groupID); err != nil {
		return nil, err
	}
	keys, err := s.client.HKeys(ctx, groupMembersKey(groupID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	sort.Strings(keys)
	ids := make([]domain.UserID, len(keys))
	for i, k := range keys {
		ids[i] = domain.UserID(k)
	}
	return ids, nil
}

func (s *Store) requireGroup(ctx context.Context, groupID domain.GroupID) error {
	exists, err := s.client.Exists(ctx, groupKey(groupID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check group: %w", err)
	}
	if exists == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, groupID domain.GroupID, authorID domain.UserID, content string) (*domain.Message, error) {
	if err := s.requireGroup(ctx, groupID); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:        domain.MessageID(utils.NewMessageID()),
		GroupID:   groupID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: s.clock.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	z := redis.Z{Score: float64(micros(msg.CreatedAt)), Member: string(data)}
	if err := s.client.ZAdd(ctx, groupMessagesKey(groupID), z).Err(); err != nil {
		return nil, fmt.Errorf("failed to store message in Redis: %w", err)
	}
	return msg, nil
}

func (s *Store) ListRecentMessages(ctx context.Context, groupID domain.GroupID, limit int) ([]*domain.Message, error) {
	if err := s.requireGroup(ctx, groupID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []*domain.Message{}, nil
	}

	raw, err := s.client.ZRevRange(ctx, groupMessagesKey(groupID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]*domain.Message, len(raw))
	for i, item := range raw {
		var msg domain.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages[len(raw)-1-i] = &msg
	}
	return messages, nil
}

// Resume raises the store clock past the newest persisted message of every
// group so timestamps keep increasing across restarts.
func (s *Store) Resume(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, keyPrefix+"group_messages:*", 100).Iterator()
	for iter.Next(ctx) {
		newest, err := s.client.ZRevRangeWithScores(ctx, iter.Val(), 0, 0).Result()
		if err != nil {
			return fmt.Errorf("failed to read newest message: %w", err)
		}
		if len(newest) == 1 {
			s.clock.Observe(fromMicros(int64(newest[0].Score)))
		}
	}
	return iter.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return CloseRedisClient(s.client)
}
