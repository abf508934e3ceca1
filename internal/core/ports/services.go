package ports

import (
	"context"
	"time"

	"groupchat/internal/core/domain"
)

type IdentityVerifier interface {
	// Verify resolves the credential to an identity or returns an error
	// wrapping domain.ErrUnauthenticated or domain.ErrRepositoryUnavailable.
	Verify(ctx context.Context, cred domain.Credential) (*domain.Identity, error)
}

type MembershipAuthorizer interface {
	// Authorize returns nil to allow, or an error wrapping
	// domain.ErrMembershipDenied.
	Authorize(ctx context.Context, identity domain.Identity, groupID domain.GroupID) error
}

// Deliverable accepts events for one live connection. Deliver must not block;
// it returns false when the event was not queued.
type Deliverable interface {
	Deliver(event domain.ServerEvent) bool
}

// Endpoint is the transport half of a live connection.
type Endpoint interface {
	Deliverable
	// Close tears the transport down. Safe to call more than once.
	Close(reason string)
}

type Session interface {
	Deliverable
	ConnectionID() domain.ConnectionID
	Identity() domain.Identity
}

// SessionDirectory resolves live connections by id.
type SessionDirectory interface {
	Lookup(id domain.ConnectionID) (Session, bool)
}

// RoomRegistry maps rooms to the connections currently joined to them.
type RoomRegistry interface {
	Join(connID domain.ConnectionID, groupID domain.GroupID) bool
	Leave(connID domain.ConnectionID, groupID domain.GroupID) bool
	LeaveAll(connID domain.ConnectionID) []domain.GroupID
	MembersOf(groupID domain.GroupID) []domain.ConnectionID
	RoomsOf(connID domain.ConnectionID) []domain.GroupID
	IsJoined(connID domain.ConnectionID, groupID domain.GroupID) bool
	RoomCount() int
}

// RoomEvictor removes live connections from rooms after membership changes.
type RoomEvictor interface {
	EvictMember(userID domain.UserID, groupID domain.GroupID, reason string) int
	EvictRoom(groupID domain.GroupID, reason string) int
	DisconnectUser(userID domain.UserID, reason string) int
}

type ConnectionManager interface {
	SessionDirectory
	RoomEvictor

	Authenticate(ctx context.Context, cred domain.Credential) (*domain.Identity, error)
	Register(identity domain.Identity, endpoint Endpoint) domain.ConnectionID
	Join(ctx context.Context, connID domain.ConnectionID, groupID domain.GroupID) error
	Leave(connID domain.ConnectionID, groupID domain.GroupID) error
	Disconnect(connID domain.ConnectionID, reason string)
	Info(connID domain.ConnectionID) (domain.ConnectionInfo, bool)
	Stats() ConnectionStats
	Shutdown(reason string)
}

type ConnectionStats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
}

type MessageRelay interface {
	// Submit persists content then fans it out to every connection joined to
	// the room. Failures wrap domain.ErrRejected and nothing is broadcast.
	Submit(ctx context.Context, connID domain.ConnectionID, groupID domain.GroupID, content string) (*domain.MessageWithAuthor, error)
}

type UserDirectory interface {
	Find(ctx context.Context, id domain.UserID) (*domain.Identity, error)
	Invalidate(id domain.UserID)
}

type GroupService interface {
	ListGroups(ctx context.Context, caller domain.Identity) ([]*domain.Group, error)
	CreateGroup(ctx context.Context, caller domain.Identity, name string) (*domain.Group, error)
	DeleteGroup(ctx context.Context, caller domain.Identity, groupID domain.GroupID) error
	RecentMessages(ctx context.Context, caller domain.Identity, groupID domain.GroupID, limit int) ([]*domain.MessageWithAuthor, error)
	AddMember(ctx context.Context, caller domain.Identity, groupID domain.GroupID, userID domain.UserID) (*domain.Membership, error)
	RemoveMember(ctx context.Context, caller domain.Identity, groupID domain.GroupID, userID domain.UserID) error
}

type UserService interface {
	CreateUser(ctx context.Context, caller domain.Identity, user domain.Identity) (*domain.Identity, error)
	DeleteUser(ctx context.Context, caller domain.Identity, userID domain.UserID) error
}

type GatewayMetrics interface {
	ConnectionOpened()
	ConnectionClosed(lifetime time.Duration)
	ConnectionRefused(reason string)
	JoinAttempt(result string)
	RoomsActive(count int)
	MessageRelayed(recipients int, persist time.Duration)
	MessageRejected(reason string)
	SlowConsumerDisconnected()
}
