package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/pkg/utils"
	"groupchat/pkg/validation"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// SeedFile lists users and groups to create when the store is empty or
// missing them.
type SeedFile struct {
	Users  []SeedUser  `yaml:"users"`
	Groups []SeedGroup `yaml:"groups"`
}

type SeedUser struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
	Role  string `yaml:"role"`
}

type SeedGroup struct {
	Name    string   `yaml:"name"`
	Owner   string   `yaml:"owner"`
	Members []string `yaml:"members"`
}

func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &seed, nil
}

// Apply creates whatever the store is missing. Running it twice changes
// nothing: existing users and members are kept, and a group is skipped when
// its owner already belongs to a group with the same name.
func (s *SeedFile) Apply(ctx context.Context, store ports.Store, logger *zap.SugaredLogger) error {
	for _, u := range s.Users {
		if err := validation.ValidateUserID(domain.UserID(u.ID)); err != nil {
			return fmt.Errorf("seed user %q: %w", u.ID, err)
		}
		role := domain.Role(u.Role)
		if role == "" {
			role = domain.RoleUser
		}
		if !role.Valid() {
			return fmt.Errorf("seed user %q: unknown role %q", u.ID, u.Role)
		}

		user := &domain.Identity{
			ID:    domain.UserID(u.ID),
			Name:  utils.SanitizeString(u.Name),
			Email: utils.NormalizeEmail(u.Email),
			Role:  role,
		}
		err := store.CreateUser(ctx, user)
		switch {
		case errors.Is(err, domain.ErrUserExists):
			continue
		case err != nil:
			return fmt.Errorf("seed user %q: %w", u.ID, err)
		}
		logger.Infow("seeded user", "user_id", u.ID, "role", role)
	}

	for _, g := range s.Groups {
		if err := s.applyGroup(ctx, store, g, logger); err != nil {
			return err
		}
	}
	return nil
}

func (s *SeedFile) applyGroup(ctx context.Context, store ports.Store, g SeedGroup, logger *zap.SugaredLogger) error {
	name, err := validation.ValidateGroupName(g.Name)
	if err != nil {
		return fmt.Errorf("seed group %q: %w", g.Name, err)
	}
	owner := domain.UserID(g.Owner)

	existing, err := store.ListGroupsForUser(ctx, owner)
	if err != nil {
		return fmt.Errorf("seed group %q: %w", name, err)
	}
	var group *domain.Group
	for _, candidate := range existing {
		if candidate.Name == name && candidate.OwnerID == owner {
			group = candidate
			break
		}
	}
	if group == nil {
		if group, err = store.CreateGroup(ctx, name, owner); err != nil {
			return fmt.Errorf("seed group %q: %w", name, err)
		}
		logger.Infow("seeded group", "group_id", group.ID, "name", name, "owner_id", owner)
	}

	for _, member := range g.Members {
		_, err := store.AddMember(ctx, group.ID, domain.UserID(member))
		if err != nil && !errors.Is(err, domain.ErrAlreadyMember) {
			return fmt.Errorf("seed member %q of %q: %w", member, name, err)
		}
	}
	return nil
}
