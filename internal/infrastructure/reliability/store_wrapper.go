package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/pkg/circuitbreaker"
	"groupchat/pkg/config"
	"groupchat/pkg/retry"
	"groupchat/pkg/tracing"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// StoreWrapper bounds every store call by a timeout and runs it through a
// circuit breaker. Reads are retried with backoff; writes are attempted once.
// Any failure that is not a domain outcome comes back wrapped in
// domain.ErrRepositoryUnavailable.
type StoreWrapper struct {
	store   ports.Store
	backend string
	timeout time.Duration
	logger  *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

var _ ports.Store = (*StoreWrapper)(nil)

func NewStoreWrapper(
	store ports.Store,
	backend string,
	timeout time.Duration,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *StoreWrapper {
	cbConfig.IsFailure = isBackendFailure
	retryConfig.ShouldRetry = func(err error) bool {
		return isBackendFailure(err) && !errors.Is(err, circuitbreaker.ErrOpen)
	}

	w := &StoreWrapper{
		store:          store,
		backend:        backend,
		timeout:        timeout,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	w.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("store circuit breaker state changed",
			"backend", backend,
			"from", from.String(),
			"to", to.String(),
		)
	})

	return w
}

// NewStoreWrapperFromConfig builds the wrapper from the reliability and
// gateway sections.
func NewStoreWrapperFromConfig(store ports.Store, backend string, cfg *config.Config, logger *zap.SugaredLogger) *StoreWrapper {
	rc := retry.DefaultConfig()
	rc.Enabled = cfg.Reliability.Retry.Enabled
	rc.MaxAttempts = cfg.Reliability.Retry.MaxAttempts
	rc.InitialDelay = cfg.Reliability.Retry.InitialDelay
	rc.MaxDelay = cfg.Reliability.Retry.MaxDelay

	cb := cfg.Reliability.CircuitBreaker
	return NewStoreWrapper(store, backend, cfg.Gateway.OperationTimeout, rc, circuitbreaker.Config{
		FailureThreshold:    cb.FailureThreshold,
		SuccessThreshold:    cb.SuccessThreshold,
		Timeout:             cb.OpenTimeout,
		MaxRequestsHalfOpen: cb.MaxRequestsHalfOpen,
	}, logger)
}

// isBackendFailure reports errors that say something about the backend
// rather than about the data.
func isBackendFailure(err error) bool {
	return err != nil && !domain.IsNotFoundOrConflict(err)
}

func call[T any](ctx context.Context, w *StoreWrapper, op string, idempotent bool, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, op, w.backend)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	attempt := func() (T, error) {
		return circuitbreaker.Execute(ctx, w.circuitBreaker, func() (T, error) {
			return fn(ctx)
		})
	}

	var (
		result T
		err    error
	)
	if idempotent {
		result, err = retry.RetryWithResult(ctx, w.retryConfig, attempt)
	} else {
		result, err = attempt()
	}

	if err == nil || !isBackendFailure(err) {
		return result, err
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	w.logger.Warnw("store operation failed",
		"operation", op,
		"backend", w.backend,
		"breaker", w.circuitBreaker.GetState().String(),
		"error", err,
	)
	var zero T
	return zero, fmt.Errorf("%w: %s: %w", domain.ErrRepositoryUnavailable, op, err)
}

func exec(ctx context.Context, w *StoreWrapper, op string, fn func(ctx context.Context) error) error {
	_, err := call(ctx, w, op, false, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (w *StoreWrapper) CreateUser(ctx context.Context, user *domain.Identity) error {
	return exec(ctx, w, "create_user", func(ctx context.Context) error {
		return w.store.CreateUser(ctx, user)
	})
}

func (w *StoreWrapper) FindUserByID(ctx context.Context, id domain.UserID) (*domain.Identity, error) {
	return call(ctx, w, "find_user", true, func(ctx context.Context) (*domain.Identity, error) {
		return w.store.FindUserByID(ctx, id)
	})
}

func (w *StoreWrapper) DeleteUser(ctx context.Context, id domain.UserID) error {
	return exec(ctx, w, "delete_user", func(ctx context.Context) error {
		return w.store.DeleteUser(ctx, id)
	})
}

func (w *StoreWrapper) CreateGroup(ctx context.Context, name string, ownerID domain.UserID) (*domain.Group, error) {
	return call(ctx, w, "create_group", false, func(ctx context.Context) (*domain.Group, error) {
		return w.store.CreateGroup(ctx, name, ownerID)
	})
}

func (w *StoreWrapper) FindGroupByID(ctx context.Context, id domain.GroupID) (*domain.Group, error) {
	return call(ctx, w, "find_group", true, func(ctx context.Context) (*domain.Group, error) {
		return w.store.FindGroupByID(ctx, id)
	})
}

func (w *StoreWrapper) DeleteGroup(ctx context.Context, id domain.GroupID) error {
	return exec(ctx, w, "delete_group", func(ctx context.Context) error {
		return w.store.DeleteGroup(ctx, id)
	})
}

func (w *StoreWrapper) ListGroupsForUser(ctx context.Context, userID domain.UserID) ([]*domain.Group, error) {
	return call(ctx, w, "list_groups", true, func(ctx context.Context) ([]*domain.Group, error) {
		return w.store.ListGroupsForUser(ctx, userID)
	})
}

func (w *StoreWrapper) AddMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) (*domain.Membership, error) {
	return call(ctx, w, "add_member", false, func(ctx context.Context) (*domain.Membership, error) {
		return w.store.AddMember(ctx, groupID, userID)
	})
}

func (w *StoreWrapper) RemoveMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) error {
	return exec(ctx, w, "remove_member", func(ctx context.Context) error {
		return w.store.RemoveMember(ctx, groupID, userID)
	})
}

func (w *StoreWrapper) FindMembership(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (*domain.Membership, error) {
	return call(ctx, w, "find_membership", true, func(ctx context.Context) (*domain.Membership, error) {
		return w.store.FindMembership(ctx, userID, groupID)
	})
}

func (w *StoreWrapper) ListMembers(ctx context.Context, groupID domain.GroupID) ([]domain.UserID, error) {
	return call(ctx, w, "list_members", true, func(ctx context.Context) ([]domain.UserID, error) {
		return w.store.ListMembers(ctx, groupID)
	})
}

// CreateMessage is never retried: a timed-out insert may still have landed.
func (w *StoreWrapper) CreateMessage(ctx context.Context, groupID domain.GroupID, authorID domain.UserID, content string) (*domain.Message, error) {
	return call(ctx, w, "create_message", false, func(ctx context.Context) (*domain.Message, error) {
		return w.store.CreateMessage(ctx, groupID, authorID, content)
	})
}

func (w *StoreWrapper) ListRecentMessages(ctx context.Context, groupID domain.GroupID, limit int) ([]*domain.Message, error) {
	return call(ctx, w, "list_messages", true, func(ctx context.Context) ([]*domain.Message, error) {
		return w.store.ListRecentMessages(ctx, groupID, limit)
	})
}

// Ping bypasses the breaker so readiness reflects the backend itself.
func (w *StoreWrapper) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRepositoryUnavailable, err)
	}
	return nil
}

func (w *StoreWrapper) Close() error {
	return w.store.Close()
}

func (w *StoreWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}
