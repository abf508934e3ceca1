package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"groupchat/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = keyPrefix + "schema:version"
	currentSchemaVersion = 2

	migrationLockKey  = keyPrefix + "lock:migrations"
	migrationLockTTL  = 30 * time.Second
	migrationLockWait = 15 * time.Second
)

type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, client *redis.Client) error
}

// Migrate applies every migration newer than the stored schema version.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Debugw("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return nil
	}

	// several gateways may start against one database
	lock := distributed.NewLock(client, migrationLockKey, migrationLockTTL)
	if err := lock.Lock(ctx, migrationLockWait); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if err := lock.Unlock(context.Background()); err != nil && logger != nil {
			logger.Warnw("failed to release migration lock", "error", err)
		}
	}()

	// another instance may have finished while we waited
	if currentVersion, err = getSchemaVersion(ctx, client); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration",
				"version", migration.Version,
				"description", migration.Description,
			)
		}

		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

func getMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "initial key layout",
			Up: func(ctx context.Context, client *redis.Client) error {
				return nil
			},
		},
		{
			Version:     2,
			Description: "rebuild per-user group indexes from member hashes",
			Up:          rebuildUserGroupIndexes,
		},
	}
}

func rebuildUserGroupIndexes(ctx context.Context, client *redis.Client) error {
	iter := client.Scan(ctx, 0, keyPrefix+"group_members:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		groupID := strings.TrimPrefix(key, keyPrefix+"group_members:")

		data, err := client.Get(ctx, keyPrefix+"group:"+groupID).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return err
		}
		group, err := decodeGroup(data)
		if err != nil {
			return err
		}

		members, err := client.HKeys(ctx, key).Result()
		if err != nil {
			return err
		}
		score := float64(micros(group.CreatedAt))
		_, err = client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, userID := range members {
				pipe.ZAdd(ctx, keyPrefix+"user_groups:"+userID, redis.Z{Score: score, Member: groupID})
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return iter.Err()
}
