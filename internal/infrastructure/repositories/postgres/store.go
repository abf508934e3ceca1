package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/pkg/utils"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	membershipsUserFK  = "memberships_user_fk"
	membershipsGroupFK = "memberships_group_fk"
	messagesGroupFK    = "messages_group_fk"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id    TEXT PRIMARY KEY,
		name  TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		role  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_groups (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		owner_id   TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS memberships (
		group_id  TEXT NOT NULL,
		user_id   TEXT NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (group_id, user_id),
		CONSTRAINT memberships_group_fk FOREIGN KEY (group_id) REFERENCES chat_groups(id) ON DELETE CASCADE,
		CONSTRAINT memberships_user_fk FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS memberships_user_idx ON memberships (user_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		group_id   TEXT NOT NULL,
		author_id  TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT messages_group_fk FOREIGN KEY (group_id) REFERENCES chat_groups(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS messages_group_created_idx ON messages (group_id, created_at DESC)`,
}

type Store struct {
	pool   *pgxpool.Pool
	clock  *utils.MonotonicClock
	logger *zap.SugaredLogger
}

var _ ports.Store = (*Store)(nil)

// Open connects to databaseURL, creates missing tables and resumes the
// message clock from the newest stored message.
func Open(ctx context.Context, databaseURL string, logger *zap.SugaredLogger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	s := NewStore(pool, logger)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Resume(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Infow("connected to Postgres", "max_conns", pool.Config().MaxConns)
	return s, nil
}

func NewStore(pool *pgxpool.Pool, logger *zap.SugaredLogger) *Store {
	return &Store{pool: pool, clock: utils.NewMonotonicClock(), logger: logger}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return nil
}

// Resume raises the clock past the newest stored message.
func (s *Store) Resume(ctx context.Context) error {
	var newest *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT MAX(created_at) FROM messages`).Scan(&newest); err != nil {
		return fmt.Errorf("failed to read newest message: %w", err)
	}
	if newest != nil {
		s.clock.Observe(*newest)
	}
	return nil
}

func pgErrorCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func (s *Store) CreateUser(ctx context.Context, user *domain.Identity) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, role) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Name, user.Email, user.Role)
	if err != nil {
		if code, _ := pgErrorCode(err); code == pgUniqueViolation {
			return domain.ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) FindUserByID(ctx context.Context, id domain.UserID) (*domain.Identity, error) {
	var user domain.Identity
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, role FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.Name, &user.Email, &user.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

func (s *Store) DeleteUser(ctx context.Context, id domain.UserID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *Store) CreateGroup(ctx context.Context, name string, ownerID domain.UserID) (*domain.Group, error) {
	group := &domain.Group{
		ID:        domain.GroupID(utils.NewGroupID()),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: s.clock.Now(),
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_groups (id, name, owner_id, created_at) VALUES ($1, $2, $3, $4)`,
			group.ID, group.Name, group.OwnerID, group.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO memberships (group_id, user_id, joined_at) VALUES ($1, $2, $3)`,
			group.ID, ownerID, group.CreatedAt)
		return err
	})
	if err != nil {
		if code, constraint := pgErrorCode(err); code == pgForeignKeyViolation && constraint == membershipsUserFK {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	return group, nil
}

func (s *Store) FindGroupByID(ctx context.Context, id domain.GroupID) (*domain.Group, error) {
	var group domain.Group
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, owner_id, created_at FROM chat_groups WHERE id = $1`, id,
	).Scan(&group.ID, &group.Name, &group.OwnerID, &group.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group: %w", err)
	}
	group.CreatedAt = group.CreatedAt.UTC()
	return &group, nil
}

func (s *Store) DeleteGroup(ctx context.Context, id domain.GroupID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

func (s *Store) ListGroupsForUser(ctx context.Context, userID domain.UserID) ([]*domain.Group, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.id, g.name, g.owner_id, g.created_at
		FROM chat_groups g
		JOIN memberships m ON m.group_id = g.id
		WHERE m.user_id = $1
		ORDER BY g.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	groups := make([]*domain.Group, 0)
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g.CreatedAt = g.CreatedAt.UTC()
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

func (s *Store) AddMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) (*domain.Membership, error) {
	joinedAt := s.clock.Now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memberships (group_id, user_id, joined_at) VALUES ($1, $2, $3)`,
		groupID, userID, joinedAt)
	if err != nil {
		code, constraint := pgErrorCode(err)
		switch {
		case code == pgUniqueViolation:
			return nil, domain.ErrAlreadyMember
		case code == pgForeignKeyViolation && constraint == membershipsGroupFK:
			return nil, domain.ErrGroupNotFound
		case code == pgForeignKeyViolation && constraint == membershipsUserFK:
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	return &domain.Membership{UserID: userID, GroupID: groupID, JoinedAt: joinedAt}, nil
}

func (s *Store) RemoveMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memberships WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMembershipNotFound
	}
	return nil
}

func (s *Store) FindMembership(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (*domain.Membership, error) {
	m := domain.Membership{UserID: userID, GroupID: groupID}
	err := s.pool.QueryRow(ctx,
		`SELECT joined_at FROM memberships WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	).Scan(&m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	m.JoinedAt = m.JoinedAt.UTC()
	return &m, nil
}

func (s *Store) requireGroup(ctx context.Context, groupID domain.GroupID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_groups WHERE id = $1)`, groupID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check group: %w", err)
	}
	if !exists {
		return domain.ErrGroupNotFound
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, groupID domain.GroupID) ([]domain.UserID, error) {
	if err := s.requireGroup(ctx, groupID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM memberships WHERE group_id = $1 ORDER BY user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[domain.UserID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan members: %w", err)
	}
	return ids, nil
}

func (s *Store) CreateMessage(ctx context.Context, groupID domain.GroupID, authorID domain.UserID, content string) (*domain.Message, error) {
	msg := &domain.Message{
		ID:        domain.MessageID(utils.NewMessageID()),
		GroupID:   groupID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: s.clock.Now(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, group_id, author_id, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.GroupID, msg.AuthorID, msg.Content, msg.CreatedAt)
	if err != nil {
		if code, constraint := pgErrorCode(err); code == pgForeignKeyViolation && constraint == messagesGroupFK {
			return nil, domain.ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return msg, nil
}

func (s *Store) ListRecentMessages(ctx context.Context, groupID domain.GroupID, limit int) ([]*domain.Message, error) {
	if err := s.requireGroup(ctx, groupID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []*domain.Message{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, group_id, author_id, content, created_at FROM (
			SELECT id, group_id, author_id, content, created_at
			FROM messages
			WHERE group_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*domain.Message, 0, limit)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.GroupID, &m.AuthorID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
