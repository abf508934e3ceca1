package services

import (
	"context"
	"fmt"
	"strings"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/pkg/utils"
	"groupchat/pkg/validation"

	"go.uber.org/zap"
)

type userService struct {
	users     ports.UserRepository
	directory ports.UserDirectory
	evictor   ports.RoomEvictor
	logger    *zap.SugaredLogger
}

func NewUserService(users ports.UserRepository, directory ports.UserDirectory, evictor ports.RoomEvictor, logger *zap.SugaredLogger) ports.UserService {
	return &userService{
		users:     users,
		directory: directory,
		evictor:   evictor,
		logger:    logger,
	}
}

func (s *userService) CreateUser(ctx context.Context, caller domain.Identity, user domain.Identity) (*domain.Identity, error) {
	if !caller.IsAdmin() {
		return nil, fmt.Errorf("create user: %w", domain.ErrForbidden)
	}
	if err := validation.ValidateUserID(user.ID); err != nil {
		return nil, err
	}

	user.Name = utils.SanitizeString(user.Name)
	if user.Name == "" {
		user.Name = string(user.ID)
	}
	if user.Email != "" {
		if err := validation.ValidateEmail(user.Email); err != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidID, err.Error())
		}
		user.Email = utils.NormalizeEmail(user.Email)
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	user.Role = domain.Role(strings.ToLower(string(user.Role)))
	if !user.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidID, user.Role)
	}

	if err := s.users.CreateUser(ctx, &user); err != nil {
		return nil, fmt.Errorf("create user %s: %w", user.ID, err)
	}

	s.logger.Infow("user created", "user_id", user.ID, "role", user.Role, "by", caller.ID)
	return &user, nil
}

// DeleteUser removes the account and closes its live connections.
func (s *userService) DeleteUser(ctx context.Context, caller domain.Identity, userID domain.UserID) error {
	if !caller.IsAdmin() {
		return fmt.Errorf("delete user: %w", domain.ErrForbidden)
	}
	if caller.ID == userID {
		return fmt.Errorf("%w: cannot delete your own account", domain.ErrInvalidID)
	}
	if err := validation.ValidateUserID(userID); err != nil {
		return err
	}

	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("delete user %s: %w", userID, err)
	}
	s.directory.Invalidate(userID)

	closed := s.evictor.DisconnectUser(userID, domain.CloseUserDeleted)
	s.logger.Infow("user deleted", "user_id", userID, "by", caller.ID, "connections_closed", closed)
	return nil
}
