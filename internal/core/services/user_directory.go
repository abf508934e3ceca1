package services

import (
	"context"
	"time"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/pkg/cache"
)

// CachedUserDirectory caches identities for a short TTL. Membership is never cached.
type CachedUserDirectory struct {
	users ports.UserRepository
	cache *cache.Cache[domain.Identity]
}

func NewUserDirectory(users ports.UserRepository, ttl time.Duration) *CachedUserDirectory {
	return &CachedUserDirectory{
		users: users,
		cache: cache.New[domain.Identity](ttl),
	}
}

func (d *CachedUserDirectory) Find(ctx context.Context, id domain.UserID) (*domain.Identity, error) {
	identity, err := d.cache.GetOrLoad(ctx, string(id), func(ctx context.Context) (domain.Identity, error) {
		u, err := d.users.FindUserByID(ctx, id)
		if err != nil {
			return domain.Identity{}, err
		}
		return *u, nil
	})
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (d *CachedUserDirectory) Invalidate(id domain.UserID) {
	d.cache.Delete(string(id))
}

func (d *CachedUserDirectory) Stop() {
	d.cache.Stop()
}
