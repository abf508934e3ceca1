package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/internal/infrastructure/repositories/storetest"
	"groupchat/pkg/utils"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.Store {
		return NewStore()
	})
}

func TestStore_TimestampsSurviveStalledClock(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewStoreWithClock(utils.NewMonotonicClockFrom(func() time.Time { return frozen }))
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &domain.Identity{ID: "u1", Role: domain.RoleUser}))
	group, err := s.CreateGroup(ctx, "frozen", "u1")
	require.NoError(t, err)

	first, err := s.CreateMessage(ctx, group.ID, "u1", "a")
	require.NoError(t, err)
	second, err := s.CreateMessage(ctx, group.ID, "u1", "b")
	require.NoError(t, err)

	assert.True(t, second.CreatedAt.After(first.CreatedAt))
	assert.Equal(t, time.Microsecond, second.CreatedAt.Sub(first.CreatedAt))
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, &domain.Identity{ID: "u1", Name: "One", Role: domain.RoleUser}))

	found, err := s.FindUserByID(ctx, "u1")
	require.NoError(t, err)
	found.Name = "mutated"

	again, err := s.FindUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "One", again.Name)
}

func TestStore_PingHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewStore().Ping(ctx), context.Canceled)
}
