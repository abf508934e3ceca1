package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/pkg/tracing"
	"groupchat/pkg/validation"

	"go.uber.org/zap"
)

// Rejection reasons reported to metrics.
const (
	RejectInvalidContent = "invalid_content"
	RejectNotJoined      = "not_joined"
	RejectPersistFailed  = "persist_failed"
	RejectUnavailable    = "unavailable"
)

type roomSequencer struct {
	mu   sync.Mutex
	refs int
}

type messageRelay struct {
	sessions   ports.SessionDirectory
	registry   ports.RoomRegistry
	messages   ports.MessageRepository
	metrics    ports.GatewayMetrics
	logger     *zap.SugaredLogger
	maxContent int

	seqMu      sync.Mutex
	sequencers map[domain.GroupID]*roomSequencer
}

func NewMessageRelay(
	sessions ports.SessionDirectory,
	registry ports.RoomRegistry,
	messages ports.MessageRepository,
	metrics ports.GatewayMetrics,
	logger *zap.SugaredLogger,
	maxContent int,
) ports.MessageRelay {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &messageRelay{
		sessions:   sessions,
		registry:   registry,
		messages:   messages,
		metrics:    metrics,
		logger:     logger,
		maxContent: maxContent,
		sequencers: make(map[domain.GroupID]*roomSequencer),
	}
}

// Submit holds the room's sequencer across persist and fan-out so every
// member observes the room in persistence order. Rooms do not contend.
func (r *messageRelay) Submit(ctx context.Context, connID domain.ConnectionID, groupID domain.GroupID, content string) (*domain.MessageWithAuthor, error) {
	content, err := validation.ValidateMessageContent(content, r.maxContent)
	if err != nil {
		r.metrics.MessageRejected(RejectInvalidContent)
		return nil, fmt.Errorf("%w: %w", domain.ErrRejected, err)
	}

	session, ok := r.sessions.Lookup(connID)
	if !ok {
		r.metrics.MessageRejected(RejectNotJoined)
		return nil, fmt.Errorf("%w: %w", domain.ErrRejected, domain.ErrConnectionNotFound)
	}
	author := session.Identity()

	ctx, span := tracing.TraceRelay(ctx, string(groupID), string(author.ID))
	defer span.End()

	unlock := r.lockRoom(groupID)
	defer unlock()

	if !r.registry.IsJoined(connID, groupID) {
		r.metrics.MessageRejected(RejectNotJoined)
		return nil, fmt.Errorf("%w: %w", domain.ErrRejected, domain.ErrNotJoined)
	}

	start := time.Now()
	msg, err := r.messages.CreateMessage(ctx, groupID, author.ID, content)
	persist := time.Since(start)
	if err != nil {
		reason := RejectPersistFailed
		if errors.Is(err, domain.ErrRepositoryUnavailable) {
			reason = RejectUnavailable
		}
		r.metrics.MessageRejected(reason)
		tracing.RecordError(ctx, err)
		r.logger.Errorw("message persistence failed",
			"connection_id", connID,
			"user_id", author.ID,
			"group_id", groupID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrRejected, err)
	}

	out := &domain.MessageWithAuthor{Message: *msg, Author: author}
	recipients := r.fanOut(groupID, domain.NewMessageEvent(out))

	tracing.AddSpanAttributes(ctx, tracing.RecipientsKey.Int(recipients))
	r.metrics.MessageRelayed(recipients, persist)
	r.logger.Debugw("message relayed",
		"message_id", msg.ID,
		"group_id", groupID,
		"user_id", author.ID,
		"recipients", recipients,
	)
	return out, nil
}

// fanOut delivers to the room's members at this instant and returns how many
// accepted the event.
func (r *messageRelay) fanOut(groupID domain.GroupID, event domain.ServerEvent) int {
	delivered := 0
	for _, memberID := range r.registry.MembersOf(groupID) {
		member, ok := r.sessions.Lookup(memberID)
		if !ok {
			continue
		}
		if member.Deliver(event) {
			delivered++
			continue
		}
		r.logger.Warnw("delivery dropped",
			"connection_id", memberID,
			"group_id", groupID,
		)
	}
	return delivered
}

func (r *messageRelay) lockRoom(groupID domain.GroupID) func() {
	r.seqMu.Lock()
	seq, ok := r.sequencers[groupID]
	if !ok {
		seq = &roomSequencer{}
		r.sequencers[groupID] = seq
	}
	seq.refs++
	r.seqMu.Unlock()

	seq.mu.Lock()
	return func() {
		seq.mu.Unlock()

		r.seqMu.Lock()
		seq.refs--
		if seq.refs == 0 {
			delete(r.sequencers, groupID)
		}
		r.seqMu.Unlock()
	}
}
