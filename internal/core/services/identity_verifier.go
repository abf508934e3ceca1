package services

import (
	"context"
	"errors"
	"fmt"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/pkg/tracing"

	"go.uber.org/zap"
)

type identityVerifier struct {
	auth   AuthService
	users  ports.UserDirectory
	logger *zap.SugaredLogger
}

// NewIdentityVerifier validates the session token and then loads the
// authoritative identity, so a deleted user is refused even with a live token.
func NewIdentityVerifier(auth AuthService, users ports.UserDirectory, logger *zap.SugaredLogger) ports.IdentityVerifier {
	return &identityVerifier{
		auth:   auth,
		users:  users,
		logger: logger,
	}
}

func (v *identityVerifier) Verify(ctx context.Context, cred domain.Credential) (*domain.Identity, error) {
	ctx, span := tracing.StartSpan(ctx, "identity.verify")
	defer span.End()

	if cred.Empty() {
		return nil, fmt.Errorf("%w: no session credential", domain.ErrUnauthenticated)
	}

	claims, err := v.auth.ValidateToken(cred.Token)
	if err != nil {
		v.logger.Debugw("session token rejected", "source", cred.Source, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}

	identity, err := v.users.Find(ctx, claims.UserID())
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	case err != nil:
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("verify identity %s: %w", claims.UserID(), err)
	}

	tracing.AddSpanAttributes(ctx, tracing.UserIDKey.String(string(identity.ID)))
	return identity, nil
}
