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

type membershipAuthorizer struct {
	memberships ports.MembershipRepository
	logger      *zap.SugaredLogger
}

// NewMembershipAuthorizer checks the persisted membership on every call.
// Repository failures deny.
func NewMembershipAuthorizer(memberships ports.MembershipRepository, logger *zap.SugaredLogger) ports.MembershipAuthorizer {
	return &membershipAuthorizer{
		memberships: memberships,
		logger:      logger,
	}
}

func (a *membershipAuthorizer) Authorize(ctx context.Context, identity domain.Identity, groupID domain.GroupID) error {
	ctx, span := tracing.StartSpan(ctx, "membership.authorize")
	defer span.End()
	tracing.AddSpanAttributes(ctx,
		tracing.UserIDKey.String(string(identity.ID)),
		tracing.GroupIDKey.String(string(groupID)),
	)

	_, err := a.memberships.FindMembership(ctx, identity.ID, groupID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrMembershipNotFound), errors.Is(err, domain.ErrGroupNotFound):
		return fmt.Errorf("%w: user %s in group %s", domain.ErrMembershipDenied, identity.ID, groupID)
	default:
		tracing.RecordError(ctx, err)
		a.logger.Errorw("membership lookup failed",
			"user_id", identity.ID,
			"group_id", groupID,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrMembershipDenied, err)
	}
}
