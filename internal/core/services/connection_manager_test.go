package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"groupchat/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	identities map[string]domain.Identity
	err        error
}

func (v stubVerifier) Verify(_ context.Context, cred domain.Credential) (*domain.Identity, error) {
	if v.err != nil {
		return nil, v.err
	}
	id, ok := v.identities[cred.Token]
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	return &id, nil
}

type managerFixture struct {
	manager  *connectionManager
	registry *RoomRegistry
	authz    *staticAuthorizer
}

func newManagerFixture() *managerFixture {
	registry := NewRoomRegistry()
	authz := newStaticAuthorizer()
	verifier := stubVerifier{identities: map[string]domain.Identity{
		"tok-alice": {ID: "alice", Name: "Alice"},
		"tok-bob":   {ID: "bob", Name: "Bob"},
	}}
	m := NewConnectionManager(verifier, authz, registry, nil, testLogger()).(*connectionManager)
	return &managerFixture{manager: m, registry: registry, authz: authz}
}

func (f *managerFixture) connect(t *testing.T, token string) (domain.ConnectionID, *fakeEndpoint) {
	t.Helper()
	identity, err := f.manager.Authenticate(context.Background(), domain.Credential{Token: token})
	require.NoError(t, err)
	ep := &fakeEndpoint{}
	return f.manager.Register(*identity, ep), ep
}

func TestConnectionManager_AuthenticateRefusesBadCredential(t *testing.T) {
	f := newManagerFixture()

	_, err := f.manager.Authenticate(context.Background(), domain.Credential{Token: "nope"})

	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Equal(t, 0, f.manager.Stats().Connections)
}

func TestConnectionManager_JoinAllowed(t *testing.T) {
	f := newManagerFixture()
	f.authz.Allow("alice", "g1")
	conn, ep := f.connect(t, "tok-alice")

	info, ok := f.manager.Info(conn)
	require.True(t, ok)
	assert.Equal(t, domain.StateAuthenticated, info.State)

	require.NoError(t, f.manager.Join(context.Background(), conn, "g1"))

	assert.True(t, f.registry.IsJoined(conn, "g1"))
	info, _ = f.manager.Info(conn)
	assert.Equal(t, domain.StateJoined, info.State)
	assert.Equal(t, []domain.GroupID{"g1"}, info.Rooms)

	acks := ep.EventsOfType(domain.EventJoinedGroup)
	require.Len(t, acks, 1)
	assert.Equal(t, domain.GroupID("g1"), acks[0].Payload.(domain.GroupPayload).GroupID)
}

func TestConnectionManager_DeniedJoinNeverRegisters(t *testing.T) {
	f := newManagerFixture()
	conn, ep := f.connect(t, "tok-bob")

	for i := 0; i < 5; i++ {
		err := f.manager.Join(context.Background(), conn, "g1")
		assert.ErrorIs(t, err, domain.ErrMembershipDenied)
	}

	assert.Empty(t, f.registry.MembersOf("g1"))
	assert.Empty(t, ep.Events(), "a denied join sends nothing")
	assert.Equal(t, 5, f.authz.calls)
}

func TestConnectionManager_RevokedMembershipDeniesNextJoin(t *testing.T) {
	f := newManagerFixture()
	f.authz.Allow("alice", "g1")
	conn, _ := f.connect(t, "tok-alice")
	require.NoError(t, f.manager.Join(context.Background(), conn, "g1"))
	require.NoError(t, f.manager.Leave(conn, "g1"))

	f.authz.Revoke("alice", "g1")

	assert.ErrorIs(t, f.manager.Join(context.Background(), conn, "g1"), domain.ErrMembershipDenied)
	assert.False(t, f.registry.IsJoined(conn, "g1"))
}

func TestConnectionManager_LeaveAcksAndIsIdempotent(t *testing.T) {
	f := newManagerFixture()
	f.authz.Allow("alice", "g1")
	conn, ep := f.connect(t, "tok-alice")
	require.NoError(t, f.manager.Join(context.Background(), conn, "g1"))

	require.NoError(t, f.manager.Leave(conn, "g1"))
	require.NoError(t, f.manager.Leave(conn, "g1"))

	assert.Len(t, ep.EventsOfType(domain.EventLeftGroup), 1)
	info, _ := f.manager.Info(conn)
	assert.Equal(t, domain.StateAuthenticated, info.State)
	assert.ErrorIs(t, f.manager.Leave("missing", "g1"), domain.ErrConnectionNotFound)
}

func TestConnectionManager_DisconnectRemovesFromEveryRoom(t *testing.T) {
	f := newManagerFixture()
	f.authz.Allow("alice", "g1")
	f.authz.Allow("alice", "g2")
	f.authz.Allow("bob", "g1")
	alice, aliceEP := f.connect(t, "tok-alice")
	bob, _ := f.connect(t, "tok-bob")
	require.NoError(t, f.manager.Join(context.Background(), alice, "g1"))
	require.NoError(t, f.manager.Join(context.Background(), alice, "g2"))
	require.NoError(t, f.manager.Join(context.Background(), bob, "g1"))

	f.manager.Disconnect(alice, domain.CloseClientGone)

	assert.Equal(t, []domain.ConnectionID{bob}, f.registry.MembersOf("g1"))
	assert.Empty(t, f.registry.MembersOf("g2"))
	closed, reason := aliceEP.Closed()
	assert.True(t, closed)
	assert.Equal(t, domain.CloseClientGone, reason)

	_, ok := f.manager.Lookup(alice)
	assert.False(t, ok)

	assert.NotPanics(t, func() { f.manager.Disconnect(alice, domain.CloseClientGone) })
	assert.ErrorIs(t, f.manager.Join(context.Background(), alice, "g1"), domain.ErrConnectionNotFound)
	assert.Equal(t, 1, f.manager.Stats().Connections)
}

func TestConnectionManager_MultipleConnectionsPerUser(t *testing.T) {
	f := newManagerFixture()
	f.authz.Allow("alice", "g1")
	first, _ := f.connect(t, "tok-alice")
	second, _ := f.connect(t, "tok-alice")
	require.NoError(t, f.manager.Join(context.Background(), first, "g1"))
	require.NoError(t, f.manager.Join(context.Background(), second, "g1"))

	f.manager.Disconnect(first, domain.CloseClientGone)

	assert.Equal(t, []domain.ConnectionID{second}, f.registry.MembersOf("g1"))
	stats := f.manager.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 1, stats.Users)
}

func TestConnectionManager_EvictMember(t *testing.T) {
	f := newManagerFixture()
	f.authz.Allow("alice", "g1")
	f.authz.Allow("bob", "g1")
	a1, a1EP := f.connect(t, "tok-alice")
	a2, _ := f.connect(t, "tok-alice")
	bob, bobEP := f.connect(t, "tok-bob")
	for _, c := range []domain.ConnectionID{a1, a2, bob} {
		require.NoError(t, f.manager.Join(context.Background(), c, "g1"))
	}

	evicted := f.manager.EvictMember("alice", "g1", domain.LeaveRevoked)

	assert.Equal(t, 2, evicted)
	assert.Equal(t, []domain.ConnectionID{bob}, f.registry.MembersOf("g1"))
	left := a1EP.EventsOfType(domain.EventLeftGroup)
	require.Len(t, left, 1)
	assert.Equal(t, domain.LeaveRevoked, left[0].Payload.(domain.GroupPayload).Reason)
	assert.Empty(t, bobEP.EventsOfType(domain.EventLeftGroup))
}

func TestConnectionManager_EvictRoomAndDisconnectUser(t *testing.T) {
	f := newManagerFixture()
	f.authz.Allow("alice", "g1")
	f.authz.Allow("bob", "g1")
	alice, _ := f.connect(t, "tok-alice")
	bob, bobEP := f.connect(t, "tok-bob")
	require.NoError(t, f.manager.Join(context.Background(), alice, "g1"))
	require.NoError(t, f.manager.Join(context.Background(), bob, "g1"))

	assert.Equal(t, 2, f.manager.EvictRoom("g1", domain.LeaveGroupDeleted))
	assert.Equal(t, 0, f.registry.RoomCount())

	assert.Equal(t, 1, f.manager.DisconnectUser("bob", domain.CloseUserDeleted))
	closed, reason := bobEP.Closed()
	assert.True(t, closed)
	assert.Equal(t, domain.CloseUserDeleted, reason)
	assert.Equal(t, 0, f.manager.DisconnectUser("bob", domain.CloseUserDeleted))
}

func TestConnectionManager_Shutdown(t *testing.T) {
	f := newManagerFixture()
	var endpoints []*fakeEndpoint
	for i := 0; i < 3; i++ {
		_, ep := f.connect(t, "tok-alice")
		endpoints = append(endpoints, ep)
	}

	f.manager.Shutdown(domain.CloseShutdown)

	assert.Equal(t, 0, f.manager.Stats().Connections)
	for _, ep := range endpoints {
		closed, reason := ep.Closed()
		assert.True(t, closed)
		assert.Equal(t, domain.CloseShutdown, reason)
	}
}

// Joins racing a disconnect never leave the dead connection in a room.
func TestConnectionManager_JoinRacingDisconnect(t *testing.T) {
	for i := 0; i < 100; i++ {
		f := newManagerFixture()
		for g := 0; g < 4; g++ {
			f.authz.Allow("alice", domain.GroupID(fmt.Sprintf("g%d", g)))
		}
		conn, _ := f.connect(t, "tok-alice")

		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				_ = f.manager.Join(context.Background(), conn, domain.GroupID(fmt.Sprintf("g%d", g)))
			}(g)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.manager.Disconnect(conn, domain.CloseClientGone)
		}()
		wg.Wait()

		assert.Empty(t, f.registry.RoomsOf(conn))
		assert.Equal(t, 0, f.registry.RoomCount())
	}
}
