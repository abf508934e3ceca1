package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"groupchat/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayFixture struct {
	*managerFixture
	messages *sequenceMessages
	relay    *messageRelay
}

func newRelayFixture() *relayFixture {
	f := newManagerFixture()
	f.manager.verifier = stubVerifier{identities: map[string]domain.Identity{
		"tok-u1": {ID: "u1", Name: "User One", Email: "u1@example.com", Role: domain.RoleUser},
		"tok-u2": {ID: "u2", Name: "User Two"},
		"tok-u3": {ID: "u3", Name: "User Three"},
		"tok-u4": {ID: "u4", Name: "User Four"},
	}}
	messages := &sequenceMessages{base: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	relay := NewMessageRelay(f.manager, f.registry, messages, nil, testLogger(), 100).(*messageRelay)
	return &relayFixture{managerFixture: f, messages: messages, relay: relay}
}

func (f *relayFixture) joined(t *testing.T, token string, groups ...domain.GroupID) (domain.ConnectionID, *fakeEndpoint) {
	t.Helper()
	conn, ep := f.connect(t, token)
	for _, g := range groups {
		require.NoError(t, f.manager.Join(context.Background(), conn, g))
	}
	return conn, ep
}

func TestRelay_MembersReceiveNonMembersDoNot(t *testing.T) {
	f := newRelayFixture()
	f.authz.Allow("u1", "g1")
	f.authz.Allow("u2", "g1")
	u1, u1EP := f.joined(t, "tok-u1", "g1")
	_, u2EP := f.joined(t, "tok-u2", "g1")
	_, u3EP := f.joined(t, "tok-u3")

	out, err := f.relay.Submit(context.Background(), u1, "g1", "hello")
	require.NoError(t, err)

	assert.Equal(t, []string{"hello"}, u1EP.Messages(), "sender gets the broadcast too")
	assert.Equal(t, []string{"hello"}, u2EP.Messages())
	assert.Empty(t, u3EP.Events())

	got := u2EP.EventsOfType(domain.EventNewMessage)[0].Payload.(*domain.MessageWithAuthor)
	assert.Equal(t, domain.UserID("u1"), got.AuthorID)
	assert.Equal(t, "User One", got.Author.Name)
	assert.Equal(t, "u1@example.com", got.Author.Email)
	assert.Equal(t, out.ID, got.ID)
}

func TestRelay_NonMemberSubmissionRejected(t *testing.T) {
	f := newRelayFixture()
	f.authz.Allow("u1", "g1")
	_, u1EP := f.joined(t, "tok-u1", "g1")
	u4, u4EP := f.joined(t, "tok-u4")

	assert.ErrorIs(t, f.manager.Join(context.Background(), u4, "g1"), domain.ErrMembershipDenied)
	assert.NotContains(t, f.registry.MembersOf("g1"), u4)

	_, err := f.relay.Submit(context.Background(), u4, "g1", "let me in")

	assert.ErrorIs(t, err, domain.ErrRejected)
	assert.ErrorIs(t, err, domain.ErrNotJoined)
	assert.Empty(t, f.messages.Saved("g1"))
	assert.Empty(t, u1EP.Messages())
	assert.Empty(t, u4EP.Messages())
}

func TestRelay_BlankContentNeverPersistedOrBroadcast(t *testing.T) {
	f := newRelayFixture()
	f.authz.Allow("u1", "g1")
	u1, u1EP := f.joined(t, "tok-u1", "g1")

	for _, content := range []string{"", "   ", "\t\n", "\x00\x01"} {
		_, err := f.relay.Submit(context.Background(), u1, "g1", content)
		assert.ErrorIs(t, err, domain.ErrRejected)
		assert.ErrorIs(t, err, domain.ErrEmptyContent)
	}

	assert.Empty(t, f.messages.Saved("g1"))
	assert.Empty(t, u1EP.Messages())
}

func TestRelay_ContentTrimmedAndBounded(t *testing.T) {
	f := newRelayFixture()
	f.authz.Allow("u1", "g1")
	u1, u1EP := f.joined(t, "tok-u1", "g1")

	_, err := f.relay.Submit(context.Background(), u1, "g1", "  padded  ")
	require.NoError(t, err)
	assert.Equal(t, []string{"padded"}, u1EP.Messages())

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'x'
	}
	_, err = f.relay.Submit(context.Background(), u1, "g1", string(long))
	assert.ErrorIs(t, err, domain.ErrContentTooLong)
}

func TestRelay_PersistenceFailureBroadcastsNothing(t *testing.T) {
	f := newRelayFixture()
	f.authz.Allow("u1", "g1")
	f.authz.Allow("u2", "g1")
	u1, u1EP := f.joined(t, "tok-u1", "g1")
	_, u2EP := f.joined(t, "tok-u2", "g1")
	f.messages.err = fmt.Errorf("insert: %w", domain.ErrRepositoryUnavailable)

	_, err := f.relay.Submit(context.Background(), u1, "g1", "lost")

	assert.ErrorIs(t, err, domain.ErrRejected)
	assert.ErrorIs(t, err, domain.ErrRepositoryUnavailable)
	assert.Empty(t, u1EP.Messages())
	assert.Empty(t, u2EP.Messages())
}

func TestRelay_UnknownConnectionRejected(t *testing.T) {
	f := newRelayFixture()

	_, err := f.relay.Submit(context.Background(), "ghost", "g1", "boo")

	assert.ErrorIs(t, err, domain.ErrRejected)
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestRelay_DisconnectedMemberGetsNothing(t *testing.T) {
	f := newRelayFixture()
	f.authz.Allow("u1", "g1")
	f.authz.Allow("u1", "g2")
	f.authz.Allow("u2", "g1")
	f.authz.Allow("u2", "g2")
	u1, u1EP := f.joined(t, "tok-u1", "g1", "g2")
	u2, _ := f.joined(t, "tok-u2", "g1", "g2")

	f.manager.Disconnect(u1, domain.CloseClientGone)
	assert.NotContains(t, f.registry.MembersOf("g1"), u1)
	assert.NotContains(t, f.registry.MembersOf("g2"), u1)

	_, err := f.relay.Submit(context.Background(), u2, "g1", "anyone?")
	require.NoError(t, err)
	assert.Empty(t, u1EP.Messages())
}

func TestRelay_SlowConsumerDoesNotBlockOthers(t *testing.T) {
	f := newRelayFixture()
	f.authz.Allow("u1", "g1")
	f.authz.Allow("u2", "g1")
	u1, u1EP := f.joined(t, "tok-u1", "g1")
	u2, _ := f.joined(t, "tok-u2")
	slow, _ := f.manager.Lookup(u2)
	slow.(*connection).endpoint.(*fakeEndpoint).capacity = 1
	require.NoError(t, f.manager.Join(context.Background(), u2, "g1"))

	for i := 0; i < 3; i++ {
		_, err := f.relay.Submit(context.Background(), u1, "g1", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"m0", "m1", "m2"}, u1EP.Messages())
}

// Concurrent submitters: every member sees the room in persistence order.
func TestRelay_RoomOrderMatchesPersistenceOrder(t *testing.T) {
	f := newRelayFixture()
	tokens := []string{"tok-u1", "tok-u2", "tok-u3"}
	var conns []domain.ConnectionID
	var endpoints []*fakeEndpoint
	for _, tok := range tokens {
		f.authz.Allow(domain.UserID("u"+tok[len(tok)-1:]), "g1")
		f.authz.Allow(domain.UserID("u"+tok[len(tok)-1:]), "g2")
		c, ep := f.joined(t, tok, "g1", "g2")
		conns = append(conns, c)
		endpoints = append(endpoints, ep)
	}

	const perSender = 50
	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c domain.ConnectionID) {
			defer wg.Done()
			for n := 0; n < perSender; n++ {
				group := domain.GroupID("g1")
				if n%2 == 1 {
					group = "g2"
				}
				_, err := f.relay.Submit(context.Background(), c, group, fmt.Sprintf("%d-%d", i, n))
				if err != nil {
					t.Errorf("submit: %v", err)
				}
			}
		}(i, c)
	}
	wg.Wait()

	for _, group := range []domain.GroupID{"g1", "g2"} {
		persisted := f.messages.Saved(group)
		require.Len(t, persisted, len(conns)*perSender/2)
		for _, ep := range endpoints {
			var received []string
			for _, ev := range ep.EventsOfType(domain.EventNewMessage) {
				msg := ev.Payload.(*domain.MessageWithAuthor)
				if msg.GroupID == group {
					received = append(received, msg.Content)
				}
			}
			assert.Equal(t, persisted, received, "group %s", group)
		}
	}
}

func TestRelay_SequencersReleased(t *testing.T) {
	f := newRelayFixture()
	f.authz.Allow("u1", "g1")
	u1, _ := f.joined(t, "tok-u1", "g1")

	_, err := f.relay.Submit(context.Background(), u1, "g1", "hi")
	require.NoError(t, err)
	_, err = f.relay.Submit(context.Background(), u1, "g9", "hi")
	require.True(t, errors.Is(err, domain.ErrNotJoined))

	f.relay.seqMu.Lock()
	defer f.relay.seqMu.Unlock()
	assert.Empty(t, f.relay.sequencers)
}
