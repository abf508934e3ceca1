package ports

import (
	"context"

	"groupchat/internal/core/domain"
)

// Lookups return domain.ErrUserNotFound, ErrGroupNotFound or
// ErrMembershipNotFound when the record does not exist.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.Identity) error
	FindUserByID(ctx context.Context, id domain.UserID) (*domain.Identity, error)
	// DeleteUser drops the user and their memberships. Messages keep the author id.
	DeleteUser(ctx context.Context, id domain.UserID) error
}

type GroupRepository interface {
	// CreateGroup makes the owner the first member.
	CreateGroup(ctx context.Context, name string, ownerID domain.UserID) (*domain.Group, error)
	FindGroupByID(ctx context.Context, id domain.GroupID) (*domain.Group, error)
	// DeleteGroup cascades memberships and messages.
	DeleteGroup(ctx context.Context, id domain.GroupID) error
	// ListGroupsForUser is ordered newest first.
	ListGroupsForUser(ctx context.Context, userID domain.UserID) ([]*domain.Group, error)
}

type MembershipRepository interface {
	AddMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) (*domain.Membership, error)
	RemoveMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) error
	FindMembership(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (*domain.Membership, error)
	ListMembers(ctx context.Context, groupID domain.GroupID) ([]domain.UserID, error)
}

type MessageRepository interface {
	// CreateMessage assigns the id and the creation timestamp.
	CreateMessage(ctx context.Context, groupID domain.GroupID, authorID domain.UserID, content string) (*domain.Message, error)
	// ListRecentMessages returns the newest limit messages, oldest first.
	ListRecentMessages(ctx context.Context, groupID domain.GroupID, limit int) ([]*domain.Message, error)
}

// Store is the durable backing for users, groups, memberships and messages.
type Store interface {
	UserRepository
	GroupRepository
	MembershipRepository
	MessageRepository

	Ping(ctx context.Context) error
	Close() error
}
