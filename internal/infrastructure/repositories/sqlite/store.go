package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/pkg/utils"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type userRecord struct {
	ID    string `gorm:"primarykey;size:128"`
	Name  string `gorm:"size:100"`
	Email string `gorm:"size:254"`
	Role  string `gorm:"size:32;not null"`
}

func (userRecord) TableName() string { return "users" }

type groupRecord struct {
	ID        string `gorm:"primarykey;size:36"`
	Name      string `gorm:"size:100;not null"`
	OwnerID   string `gorm:"size:128;not null"`
	CreatedUs int64  `gorm:"column:created_us;not null;index"`
}

func (groupRecord) TableName() string { return "chat_groups" }

type membershipRecord struct {
	GroupID  string `gorm:"primarykey;size:36"`
	UserID   string `gorm:"primarykey;size:128;index"`
	JoinedUs int64  `gorm:"column:joined_us;not null"`
}

func (membershipRecord) TableName() string { return "memberships" }

type messageRecord struct {
	ID        string `gorm:"primarykey;size:36"`
	GroupID   string `gorm:"size:36;not null;index:idx_messages_group_created,priority:1"`
	AuthorID  string `gorm:"size:128;not null"`
	Content   string `gorm:"not null"`
	CreatedUs int64  `gorm:"column:created_us;not null;index:idx_messages_group_created,priority:2"`
}

func (messageRecord) TableName() string { return "messages" }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func (r *userRecord) toDomain() *domain.Identity {
	return &domain.Identity{ID: domain.UserID(r.ID), Name: r.Name, Email: r.Email, Role: domain.Role(r.Role)}
}

func (r *groupRecord) toDomain() *domain.Group {
	return &domain.Group{ID: domain.GroupID(r.ID), Name: r.Name, OwnerID: domain.UserID(r.OwnerID), CreatedAt: fromMicros(r.CreatedUs)}
}

func (r *messageRecord) toDomain() *domain.Message {
	return &domain.Message{
		ID:        domain.MessageID(r.ID),
		GroupID:   domain.GroupID(r.GroupID),
		AuthorID:  domain.UserID(r.AuthorID),
		Content:   r.Content,
		CreatedAt: fromMicros(r.CreatedUs),
	}
}

// Store keeps everything in one SQLite file through gorm. Writes go through
// a single connection so SQLite never reports the database as busy.
type Store struct {
	db    *gorm.DB
	clock *utils.MonotonicClock
}

var _ ports.Store = (*Store)(nil)

// Open opens path (":memory:" for a throwaway database) and migrates it.
func Open(path string, debug bool, logger *zap.SugaredLogger) (*Store, error) {
	logLevel := gormlogger.Silent
	if debug {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&userRecord{}, &groupRecord{}, &membershipRecord{}, &messageRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := &Store{db: db, clock: utils.NewMonotonicClock()}
	if err := s.resume(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if logger != nil {
		logger.Infow("opened SQLite database", "path", path)
	}
	return s, nil
}

func (s *Store) resume() error {
	var newest sql.NullInt64
	if err := s.db.Model(&messageRecord{}).Select("MAX(created_us)").Row().Scan(&newest); err != nil {
		return fmt.Errorf("failed to read newest message: %w", err)
	}
	if newest.Valid {
		s.clock.Observe(fromMicros(newest.Int64))
	}
	return nil
}

func exists(tx *gorm.DB, model interface{}, query string, args ...interface{}) (bool, error) {
	var count int64
	if err := tx.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) CreateUser(ctx context.Context, user *domain.Identity) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := exists(tx, &userRecord{}, "id = ?", string(user.ID))
		if err != nil {
			return fmt.Errorf("failed to check user: %w", err)
		}
		if found {
			return domain.ErrUserExists
		}
		rec := userRecord{ID: string(user.ID), Name: user.Name, Email: user.Email, Role: string(user.Role)}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
}

func (s *Store) FindUserByID(ctx context.Context, id domain.UserID) (*domain.Identity, error) {
	var rec userRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", string(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return rec.toDomain(), nil
}

func (s *Store) DeleteUser(ctx context.Context, id domain.UserID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&userRecord{}, "id = ?", string(id))
		if result.Error != nil {
			return fmt.Errorf("failed to delete user: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return domain.ErrUserNotFound
		}
		if err := tx.Delete(&membershipRecord{}, "user_id = ?", string(id)).Error; err != nil {
			return fmt.Errorf("failed to delete memberships: %w", err)
		}
		return nil
	})
}

func (s *Store) CreateGroup(ctx context.Context, name string, ownerID domain.UserID) (*domain.Group, error) {
	var group *domain.Group
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := exists(tx, &userRecord{}, "id = ?", string(ownerID))
		if err != nil {
			return fmt.Errorf("failed to check owner: %w", err)
		}
		if !found {
			return domain.ErrUserNotFound
		}

		now := s.clock.Now().UnixMicro()
		rec := groupRecord{ID: utils.NewGroupID(), Name: name, OwnerID: string(ownerID), CreatedUs: now}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}
		owner := membershipRecord{GroupID: rec.ID, UserID: string(ownerID), JoinedUs: now}
		if err := tx.Create(&owner).Error; err != nil {
			return fmt.Errorf("failed to add owner: %w", err)
		}
		group = rec.toDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (s *Store) FindGroupByID(ctx context.Context, id domain.GroupID) (*domain.Group, error) {
	var rec groupRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", string(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to find group: %w", err)
	}
	return rec.toDomain(), nil
}

func (s *Store) DeleteGroup(ctx context.Context, id domain.GroupID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&groupRecord{}, "id = ?", string(id))
		if result.Error != nil {
			return fmt.Errorf("failed to delete group: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return domain.ErrGroupNotFound
		}
		if err := tx.Delete(&membershipRecord{}, "group_id = ?", string(id)).Error; err != nil {
			return fmt.Errorf("failed to delete memberships: %w", err)
		}
		if err := tx.Delete(&messageRecord{}, "group_id = ?", string(id)).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		return nil
	})
}

func (s *Store) ListGroupsForUser(ctx context.Context, userID domain.UserID) ([]*domain.Group, error) {
	var recs []groupRecord
	err := s.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.group_id = chat_groups.id").
		Where("memberships.user_id = ?", string(userID)).
		Order("chat_groups.created_us DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	groups := make([]*domain.Group, len(recs))
	for i := range recs {
		groups[i] = recs[i].toDomain()
	}
	return groups, nil
}

func (s *Store) AddMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) (*domain.Membership, error) {
	var membership *domain.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := exists(tx, &groupRecord{}, "id = ?", string(groupID))
		if err != nil {
			return fmt.Errorf("failed to check group: %w", err)
		}
		if !found {
			return domain.ErrGroupNotFound
		}
		if found, err = exists(tx, &userRecord{}, "id = ?", string(userID)); err != nil {
			return fmt.Errorf("failed to check user: %w", err)
		} else if !found {
			return domain.ErrUserNotFound
		}
		if found, err = exists(tx, &membershipRecord{}, "group_id = ? AND user_id = ?", string(groupID), string(userID)); err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		} else if found {
			return domain.ErrAlreadyMember
		}

		joined := s.clock.Now()
		rec := membershipRecord{GroupID: string(groupID), UserID: string(userID), JoinedUs: joined.UnixMicro()}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to add member: %w", err)
		}
		membership = &domain.Membership{UserID: userID, GroupID: groupID, JoinedAt: joined}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return membership, nil
}

func (s *Store) RemoveMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) error {
	result := s.db.WithContext(ctx).Delete(&membershipRecord{}, "group_id = ? AND user_id = ?", string(groupID), string(userID))
	if result.Error != nil {
		return fmt.Errorf("failed to remove member: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrMembershipNotFound
	}
	return nil
}

func (s *Store) FindMembership(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (*domain.Membership, error) {
	var rec membershipRecord
	err := s.db.WithContext(ctx).First(&rec, "group_id = ? AND user_id = ?", string(groupID), string(userID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	return &domain.Membership{UserID: userID, GroupID: groupID, JoinedAt: fromMicros(rec.JoinedUs)}, nil
}

func (s *Store) requireGroup(db *gorm.DB, groupID domain.GroupID) error {
	found, err := exists(db, &groupRecord{}, "id = ?", string(groupID))
	if err != nil {
		return fmt.Errorf("failed to check group: %w", err)
	}
	if !found {
		return domain.ErrGroupNotFound
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, groupID domain.GroupID) ([]domain.UserID, error) {
	db := s.db.WithContext(ctx)
	if err := s.requireGroup(db, groupID); err != nil {
		return nil, err
	}

	var ids []string
	if err := db.Model(&membershipRecord{}).Where("group_id = ?", string(groupID)).Order("user_id").Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	members := make([]domain.UserID, len(ids))
	for i, id := range ids {
		members[i] = domain.UserID(id)
	}
	return members, nil
}

func (s *Store) CreateMessage(ctx context.Context, groupID domain.GroupID, authorID domain.UserID, content string) (*domain.Message, error) {
	var msg *domain.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireGroup(tx, groupID); err != nil {
			return err
		}
		rec := messageRecord{
			ID:        utils.NewMessageID(),
			GroupID:   string(groupID),
			AuthorID:  string(authorID),
			Content:   content,
			CreatedUs: s.clock.Now().UnixMicro(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		msg = rec.toDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) ListRecentMessages(ctx context.Context, groupID domain.GroupID, limit int) ([]*domain.Message, error) {
	db := s.db.WithContext(ctx)
	if err := s.requireGroup(db, groupID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []*domain.Message{}, nil
	}

	var recs []messageRecord
	if err := db.Where("group_id = ?", string(groupID)).Order("created_us DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]*domain.Message, len(recs))
	for i := range recs {
		messages[len(recs)-1-i] = recs[i].toDomain()
	}
	return messages, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
