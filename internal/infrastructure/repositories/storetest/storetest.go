// Package storetest holds the behaviour every ports.Store backend must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
)

// Run exercises a fresh store from newStore in every subtest.
func Run(t *testing.T, newStore func(t *testing.T) ports.Store) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s ports.Store)
	}{
		{"Users", testUsers},
		{"CreateGroupAddsOwner", testCreateGroupAddsOwner},
		{"CreateGroupUnknownOwner", testCreateGroupUnknownOwner},
		{"Memberships", testMemberships},
		{"ListGroupsNewestFirst", testListGroupsNewestFirst},
		{"DeleteGroupCascades", testDeleteGroupCascades},
		{"DeleteUserDropsMemberships", testDeleteUserDropsMemberships},
		{"RecentMessages", testRecentMessages},
		{"ConcurrentMessagesStrictlyOrdered", testConcurrentMessages},
		{"Ping", testPing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

func mustUser(t *testing.T, s ports.Store, id string) *domain.Identity {
	t.Helper()
	user := &domain.Identity{
		ID:    domain.UserID(id),
		Name:  "User " + id,
		Email: id + "@example.com",
		Role:  domain.RoleUser,
	}
	require.NoError(t, s.CreateUser(context.Background(), user))
	return user
}

func testUsers(t *testing.T, s ports.Store) {
	ctx := context.Background()
	alice := &domain.Identity{ID: "alice", Name: "Alice", Email: "alice@example.com", Role: domain.RoleAdmin}
	require.NoError(t, s.CreateUser(ctx, alice))

	err := s.CreateUser(ctx, &domain.Identity{ID: "alice", Name: "Other", Role: domain.RoleUser})
	assert.ErrorIs(t, err, domain.ErrUserExists)

	found, err := s.FindUserByID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, *alice, *found)

	_, err = s.FindUserByID(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	assert.ErrorIs(t, s.DeleteUser(ctx, "nobody"), domain.ErrUserNotFound)
	require.NoError(t, s.DeleteUser(ctx, "alice"))
	_, err = s.FindUserByID(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func testCreateGroupAddsOwner(t *testing.T, s ports.Store) {
	ctx := context.Background()
	mustUser(t, s, "owner")

	group, err := s.CreateGroup(ctx, "general", "owner")
	require.NoError(t, err)
	assert.NotEmpty(t, group.ID)
	assert.Equal(t, "general", group.Name)
	assert.Equal(t, domain.UserID("owner"), group.OwnerID)
	assert.False(t, group.CreatedAt.IsZero())

	found, err := s.FindGroupByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, group.Name, found.Name)
	assert.True(t, group.CreatedAt.Equal(found.CreatedAt))

	membership, err := s.FindMembership(ctx, "owner", group.ID)
	require.NoError(t, err)
	assert.Equal(t, group.ID, membership.GroupID)

	members, err := s.ListMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"owner"}, members)

	_, err = s.FindGroupByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
}

func testCreateGroupUnknownOwner(t *testing.T, s ports.Store) {
	_, err := s.CreateGroup(context.Background(), "orphan", "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func testMemberships(t *testing.T, s ports.Store) {
	ctx := context.Background()
	mustUser(t, s, "owner")
	mustUser(t, s, "bob")
	group, err := s.CreateGroup(ctx, "team", "owner")
	require.NoError(t, err)

	_, err = s.FindMembership(ctx, "bob", group.ID)
	assert.ErrorIs(t, err, domain.ErrMembershipNotFound)

	membership, err := s.AddMember(ctx, group.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("bob"), membership.UserID)
	assert.False(t, membership.JoinedAt.IsZero())

	_, err = s.AddMember(ctx, group.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)
	_, err = s.AddMember(ctx, group.ID, "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	_, err = s.AddMember(ctx, "missing", "bob")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)

	members, err := s.ListMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.UserID{"owner", "bob"}, members)

	_, err = s.ListMembers(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)

	require.NoError(t, s.RemoveMember(ctx, group.ID, "bob"))
	assert.ErrorIs(t, s.RemoveMember(ctx, group.ID, "bob"), domain.ErrMembershipNotFound)
	_, err = s.FindMembership(ctx, "bob", group.ID)
	assert.ErrorIs(t, err, domain.ErrMembershipNotFound)
}

func testListGroupsNewestFirst(t *testing.T, s ports.Store) {
	ctx := context.Background()
	mustUser(t, s, "owner")
	mustUser(t, s, "bob")

	first, err := s.CreateGroup(ctx, "first", "owner")
	require.NoError(t, err)
	second, err := s.CreateGroup(ctx, "second", "owner")
	require.NoError(t, err)
	third, err := s.CreateGroup(ctx, "third", "owner")
	require.NoError(t, err)
	_, err = s.AddMember(ctx, first.ID, "bob")
	require.NoError(t, err)
	_, err = s.AddMember(ctx, third.ID, "bob")
	require.NoError(t, err)

	groups, err := s.ListGroupsForUser(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, []domain.GroupID{third.ID, second.ID, first.ID},
		[]domain.GroupID{groups[0].ID, groups[1].ID, groups[2].ID})

	groups, err = s.ListGroupsForUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, third.ID, groups[0].ID)
	assert.Equal(t, first.ID, groups[1].ID)

	groups, err = s.ListGroupsForUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func testDeleteGroupCascades(t *testing.T, s ports.Store) {
	ctx := context.Background()
	mustUser(t, s, "owner")
	group, err := s.CreateGroup(ctx, "doomed", "owner")
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, group.ID, "owner", "bye")
	require.NoError(t, err)

	require.NoError(t, s.DeleteGroup(ctx, group.ID))
	assert.ErrorIs(t, s.DeleteGroup(ctx, group.ID), domain.ErrGroupNotFound)

	_, err = s.FindGroupByID(ctx, group.ID)
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
	_, err = s.FindMembership(ctx, "owner", group.ID)
	assert.ErrorIs(t, err, domain.ErrMembershipNotFound)
	_, err = s.ListRecentMessages(ctx, group.ID, 10)
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)

	groups, err := s.ListGroupsForUser(ctx, "owner")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func testDeleteUserDropsMemberships(t *testing.T, s ports.Store) {
	ctx := context.Background()
	mustUser(t, s, "owner")
	mustUser(t, s, "bob")
	group, err := s.CreateGroup(ctx, "team", "owner")
	require.NoError(t, err)
	_, err = s.AddMember(ctx, group.ID, "bob")
	require.NoError(t, err)
	msg, err := s.CreateMessage(ctx, group.ID, "bob", "hello")
	require.NoError(t, err)

	require.NoError(t, s.DeleteUser(ctx, "bob"))

	_, err = s.FindMembership(ctx, "bob", group.ID)
	assert.ErrorIs(t, err, domain.ErrMembershipNotFound)
	members, err := s.ListMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"owner"}, members)

	history, err := s.ListRecentMessages(ctx, group.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
	assert.Equal(t, domain.UserID("bob"), history[0].AuthorID)
}

func testRecentMessages(t *testing.T, s ports.Store) {
	ctx := context.Background()
	mustUser(t, s, "owner")
	group, err := s.CreateGroup(ctx, "chat", "owner")
	require.NoError(t, err)

	empty, err := s.ListRecentMessages(ctx, group.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	var sent []*domain.Message
	for i := 0; i < 5; i++ {
		msg, err := s.CreateMessage(ctx, group.ID, "owner", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, group.ID, msg.GroupID)
		sent = append(sent, msg)
	}

	recent, err := s.ListRecentMessages(ctx, group.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	for i, msg := range recent {
		assert.Equal(t, sent[i+2].ID, msg.ID)
		assert.Equal(t, sent[i+2].Content, msg.Content)
		assert.True(t, sent[i+2].CreatedAt.Equal(msg.CreatedAt))
	}

	all, err := s.ListRecentMessages(ctx, group.ID, 50)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	none, err := s.ListRecentMessages(ctx, group.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.CreateMessage(ctx, "missing", "owner", "lost")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
}

func testConcurrentMessages(t *testing.T, s ports.Store) {
	ctx := context.Background()
	mustUser(t, s, "owner")
	group, err := s.CreateGroup(ctx, "busy", "owner")
	require.NoError(t, err)

	const writers, perWriter = 4, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.CreateMessage(ctx, group.ID, "owner", fmt.Sprintf("w%d-%d", w, i))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	history, err := s.ListRecentMessages(ctx, group.ID, writers*perWriter)
	require.NoError(t, err)
	require.Len(t, history, writers*perWriter)
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i].CreatedAt.After(history[i-1].CreatedAt),
			"message %d not after %d", i, i-1)
	}
}

func testPing(t *testing.T, s ports.Store) {
	assert.NoError(t, s.Ping(context.Background()))
}
