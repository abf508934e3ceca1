package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/internal/infrastructure/repositories/storetest"
	"groupchat/pkg/distributed"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.Store {
		_, client := newTestClient(t)
		return NewStore(client)
	})
}

func TestOpen_MigratesAndOwnsClient(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := Open(ctx, mr.Addr(), "", 0, 4, zap.NewNop().Sugar())
	require.NoError(t, err)

	version, err := mr.Get(schemaVersionKey)
	require.NoError(t, err)
	assert.Equal(t, "2", version)

	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(ctx))
}

func TestOpen_Unreachable(t *testing.T) {
	_, err := Open(context.Background(), "127.0.0.1:1", "", 0, 1, nil)
	assert.Error(t, err)
}

func TestMigrate_RebuildsUserGroupIndexes(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	s := NewStore(client)

	require.NoError(t, s.CreateUser(ctx, &domain.Identity{ID: "owner", Role: domain.RoleUser}))
	require.NoError(t, s.CreateUser(ctx, &domain.Identity{ID: "bob", Role: domain.RoleUser}))
	group, err := s.CreateGroup(ctx, "general", "owner")
	require.NoError(t, err)
	_, err = s.AddMember(ctx, group.ID, "bob")
	require.NoError(t, err)

	// simulate data written before the index existed
	require.NoError(t, client.Del(ctx, userGroupsKey("owner"), userGroupsKey("bob")).Err())
	require.NoError(t, client.Set(ctx, schemaVersionKey, 1, 0).Err())

	require.NoError(t, Migrate(ctx, client, zap.NewNop().Sugar()))

	for _, id := range []domain.UserID{"owner", "bob"} {
		groups, err := s.ListGroupsForUser(ctx, id)
		require.NoError(t, err)
		require.Len(t, groups, 1, "user %s", id)
		assert.Equal(t, group.ID, groups[0].ID)
	}
}

func TestMigrate_WaitsForMigrationLock(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()

	other := distributed.NewLock(client, migrationLockKey, time.Minute)
	require.NoError(t, other.Lock(ctx, time.Second))

	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, Migrate(waitCtx, client, nil), context.DeadlineExceeded)
	assert.False(t, mr.Exists(schemaVersionKey))

	require.NoError(t, other.Unlock(ctx))
	require.NoError(t, Migrate(ctx, client, nil))
	assert.False(t, mr.Exists(migrationLockKey), "lock released after migrating")
}

func TestMigrate_Idempotent(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, client, nil))
	require.NoError(t, Migrate(ctx, client, nil))

	version, err := getSchemaVersion(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}

func TestResume_ClockMovesPastStoredMessages(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	first := NewStore(client)
	require.NoError(t, first.CreateUser(ctx, &domain.Identity{ID: "owner", Role: domain.RoleUser}))
	group, err := first.CreateGroup(ctx, "general", "owner")
	require.NoError(t, err)

	// a message stamped an hour ahead of the local wall clock
	future := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	first.clock.Observe(future)
	stored, err := first.CreateMessage(ctx, group.ID, "owner", "from the future")
	require.NoError(t, err)

	restarted := NewStore(client)
	require.NoError(t, restarted.Resume(ctx))
	next, err := restarted.CreateMessage(ctx, group.ID, "owner", "after restart")
	require.NoError(t, err)
	assert.True(t, next.CreatedAt.After(stored.CreatedAt))

	history, err := restarted.ListRecentMessages(ctx, group.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, stored.ID, history[0].ID)
	assert.Equal(t, next.ID, history[1].ID)
}

func TestStore_BackendFailureIsNotDomainError(t *testing.T) {
	mr, client := newTestClient(t)
	s := NewStore(client)
	mr.Close()

	_, err := s.FindUserByID(context.Background(), "anyone")
	require.Error(t, err)
	assert.False(t, domain.IsNotFoundOrConflict(err))
}
