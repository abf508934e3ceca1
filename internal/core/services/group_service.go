package services

import (
	"context"
	"errors"
	"fmt"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/pkg/validation"

	"go.uber.org/zap"
)

type groupService struct {
	store        ports.Store
	users        ports.UserDirectory
	authorizer   ports.MembershipAuthorizer
	evictor      ports.RoomEvictor
	logger       *zap.SugaredLogger
	defaultLimit int
	maxLimit     int
}

// NewGroupService backs the group administration API. Membership changes
// are pushed to live rooms through evictor.
func NewGroupService(
	store ports.Store,
	users ports.UserDirectory,
	authorizer ports.MembershipAuthorizer,
	evictor ports.RoomEvictor,
	logger *zap.SugaredLogger,
	defaultLimit, maxLimit int,
) ports.GroupService {
	return &groupService{
		store:        store,
		users:        users,
		authorizer:   authorizer,
		evictor:      evictor,
		logger:       logger,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

func (s *groupService) ListGroups(ctx context.Context, caller domain.Identity) ([]*domain.Group, error) {
	return s.store.ListGroupsForUser(ctx, caller.ID)
}

func (s *groupService) CreateGroup(ctx context.Context, caller domain.Identity, name string) (*domain.Group, error) {
	if !caller.CanCreateGroups() {
		return nil, fmt.Errorf("create group: %w", domain.ErrForbidden)
	}
	name, err := validation.ValidateGroupName(name)
	if err != nil {
		return nil, err
	}

	group, err := s.store.CreateGroup(ctx, name, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}

	s.logger.Infow("group created", "group_id", group.ID, "owner_id", caller.ID)
	return group, nil
}

func (s *groupService) DeleteGroup(ctx context.Context, caller domain.Identity, groupID domain.GroupID) error {
	if _, err := s.managedGroup(ctx, caller, groupID); err != nil {
		return err
	}
	if err := s.store.DeleteGroup(ctx, groupID); err != nil {
		return fmt.Errorf("delete group %s: %w", groupID, err)
	}

	evicted := s.evictor.EvictRoom(groupID, domain.LeaveGroupDeleted)
	s.logger.Infow("group deleted",
		"group_id", groupID,
		"user_id", caller.ID,
		"evicted", evicted,
	)
	return nil
}

// RecentMessages is the history seed for a newly opened room view.
func (s *groupService) RecentMessages(ctx context.Context, caller domain.Identity, groupID domain.GroupID, limit int) ([]*domain.MessageWithAuthor, error) {
	if err := validation.ValidateGroupID(groupID); err != nil {
		return nil, err
	}
	if err := s.authorizer.Authorize(ctx, caller, groupID); err != nil {
		return nil, err
	}

	limit = validation.ValidateHistoryLimit(limit, s.defaultLimit, s.maxLimit)
	msgs, err := s.store.ListRecentMessages(ctx, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", groupID, err)
	}

	out := make([]*domain.MessageWithAuthor, 0, len(msgs))
	authors := make(map[domain.UserID]domain.Identity)
	for _, m := range msgs {
		author, ok := authors[m.AuthorID]
		if !ok {
			author = s.resolveAuthor(ctx, m.AuthorID)
			authors[m.AuthorID] = author
		}
		out = append(out, &domain.MessageWithAuthor{Message: *m, Author: author})
	}
	return out, nil
}

// resolveAuthor falls back to a bare id for deleted or unreachable users.
func (s *groupService) resolveAuthor(ctx context.Context, id domain.UserID) domain.Identity {
	author, err := s.users.Find(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Warnw("author lookup failed", "user_id", id, "error", err)
		}
		return domain.Identity{ID: id}
	}
	return *author
}

func (s *groupService) AddMember(ctx context.Context, caller domain.Identity, groupID domain.GroupID, userID domain.UserID) (*domain.Membership, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if _, err := s.managedGroup(ctx, caller, groupID); err != nil {
		return nil, err
	}

	membership, err := s.store.AddMember(ctx, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("add %s to %s: %w", userID, groupID, err)
	}

	s.logger.Infow("member added", "group_id", groupID, "user_id", userID, "by", caller.ID)
	return membership, nil
}

// RemoveMember revokes the membership and evicts the user's live connections
// from the room. Members may always remove themselves.
func (s *groupService) RemoveMember(ctx context.Context, caller domain.Identity, groupID domain.GroupID, userID domain.UserID) error {
	if err := validation.ValidateUserID(userID); err != nil {
		return err
	}
	if caller.ID != userID {
		if _, err := s.managedGroup(ctx, caller, groupID); err != nil {
			return err
		}
	}

	if err := s.store.RemoveMember(ctx, groupID, userID); err != nil {
		return fmt.Errorf("remove %s from %s: %w", userID, groupID, err)
	}

	evicted := s.evictor.EvictMember(userID, groupID, domain.LeaveRevoked)
	s.logger.Infow("member removed",
		"group_id", groupID,
		"user_id", userID,
		"by", caller.ID,
		"evicted", evicted,
	)
	return nil
}

func (s *groupService) managedGroup(ctx context.Context, caller domain.Identity, groupID domain.GroupID) (*domain.Group, error) {
	if err := validation.ValidateGroupID(groupID); err != nil {
		return nil, err
	}
	group, err := s.store.FindGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.CanManage(caller) {
		return nil, fmt.Errorf("manage group %s: %w", groupID, domain.ErrForbidden)
	}
	return group, nil
}
