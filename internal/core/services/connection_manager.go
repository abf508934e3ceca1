package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/pkg/utils"

	"go.uber.org/zap"
)

// Join results reported to metrics.
const (
	JoinAllowed     = "allowed"
	JoinDenied      = "denied"
	JoinUnavailable = "unavailable"
	JoinClosed      = "closed"
)

type connection struct {
	id       domain.ConnectionID
	identity domain.Identity
	endpoint ports.Endpoint
	openedAt time.Time
	state    domain.ConnectionState // guarded by connectionManager.mu
}

func (c *connection) ConnectionID() domain.ConnectionID { return c.id }
func (c *connection) Identity() domain.Identity         { return c.identity }

func (c *connection) Deliver(event domain.ServerEvent) bool {
	return c.endpoint.Deliver(event)
}

type connectionManager struct {
	verifier   ports.IdentityVerifier
	authorizer ports.MembershipAuthorizer
	registry   ports.RoomRegistry
	metrics    ports.GatewayMetrics
	logger     *zap.SugaredLogger

	// mu orders registry admission against teardown: a connection removed
	// from conns can never be joined to a room afterwards.
	mu     sync.RWMutex
	conns  map[domain.ConnectionID]*connection
	byUser map[domain.UserID]map[domain.ConnectionID]struct{}
	newID  func() string
}

func NewConnectionManager(
	verifier ports.IdentityVerifier,
	authorizer ports.MembershipAuthorizer,
	registry ports.RoomRegistry,
	metrics ports.GatewayMetrics,
	logger *zap.SugaredLogger,
) ports.ConnectionManager {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &connectionManager{
		verifier:   verifier,
		authorizer: authorizer,
		registry:   registry,
		metrics:    metrics,
		logger:     logger,
		conns:      make(map[domain.ConnectionID]*connection),
		byUser:     make(map[domain.UserID]map[domain.ConnectionID]struct{}),
		newID:      utils.NewConnectionID,
	}
}

// Authenticate runs before the transport is upgraded. A failure refuses the
// connection outright.
func (m *connectionManager) Authenticate(ctx context.Context, cred domain.Credential) (*domain.Identity, error) {
	identity, err := m.verifier.Verify(ctx, cred)
	if err != nil {
		reason := "unauthenticated"
		if errors.Is(err, domain.ErrRepositoryUnavailable) {
			reason = "unavailable"
		}
		m.metrics.ConnectionRefused(reason)
		m.logger.Warnw("connection refused", "reason", reason, "source", cred.Source, "error", err)
		return nil, err
	}
	return identity, nil
}

func (m *connectionManager) Register(identity domain.Identity, endpoint ports.Endpoint) domain.ConnectionID {
	c := &connection{
		id:       domain.ConnectionID(m.newID()),
		identity: identity,
		endpoint: endpoint,
		openedAt: time.Now(),
		state:    domain.StateAuthenticated,
	}

	m.mu.Lock()
	m.conns[c.id] = c
	userConns, ok := m.byUser[identity.ID]
	if !ok {
		userConns = make(map[domain.ConnectionID]struct{})
		m.byUser[identity.ID] = userConns
	}
	userConns[c.id] = struct{}{}
	m.mu.Unlock()

	m.metrics.ConnectionOpened()
	m.logger.Infow("connection authenticated",
		"connection_id", c.id,
		"user_id", identity.ID,
	)
	return c.id
}

func (m *connectionManager) Join(ctx context.Context, connID domain.ConnectionID, groupID domain.GroupID) error {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		m.metrics.JoinAttempt(JoinClosed)
		return domain.ErrConnectionNotFound
	}

	if err := m.authorizer.Authorize(ctx, c.identity, groupID); err != nil {
		result := JoinDenied
		if errors.Is(err, domain.ErrRepositoryUnavailable) {
			result = JoinUnavailable
		}
		m.metrics.JoinAttempt(result)
		m.logger.Warnw("join denied",
			"connection_id", connID,
			"user_id", c.identity.ID,
			"group_id", groupID,
			"error", err,
		)
		return err
	}

	m.mu.Lock()
	if _, live := m.conns[connID]; !live {
		m.mu.Unlock()
		m.metrics.JoinAttempt(JoinClosed)
		return domain.ErrConnectionNotFound
	}
	added := m.registry.Join(connID, groupID)
	c.state = domain.StateJoined
	m.mu.Unlock()

	m.metrics.JoinAttempt(JoinAllowed)
	m.metrics.RoomsActive(m.registry.RoomCount())
	if added {
		m.logger.Infow("joined group",
			"connection_id", connID,
			"user_id", c.identity.ID,
			"group_id", groupID,
		)
	}
	c.Deliver(domain.JoinedGroupEvent(groupID))
	return nil
}

func (m *connectionManager) Leave(connID domain.ConnectionID, groupID domain.GroupID) error {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrConnectionNotFound
	}
	left := m.registry.Leave(connID, groupID)
	m.refreshStateLocked(c)
	m.mu.Unlock()

	if !left {
		return nil
	}

	m.metrics.RoomsActive(m.registry.RoomCount())
	m.logger.Infow("left group",
		"connection_id", connID,
		"user_id", c.identity.ID,
		"group_id", groupID,
	)
	c.Deliver(domain.LeftGroupEvent(groupID, domain.LeaveRequested))
	return nil
}

// Disconnect is idempotent and safe from any goroutine. The registry is
// cleaned before it returns.
func (m *connectionManager) Disconnect(connID domain.ConnectionID, reason string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, connID)
	if userConns, ok := m.byUser[c.identity.ID]; ok {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(m.byUser, c.identity.ID)
		}
	}
	rooms := m.registry.LeaveAll(connID)
	c.state = domain.StateDisconnected
	m.mu.Unlock()

	c.endpoint.Close(reason)

	lifetime := time.Since(c.openedAt)
	m.metrics.ConnectionClosed(lifetime)
	m.metrics.RoomsActive(m.registry.RoomCount())
	m.logger.Infow("connection closed",
		"connection_id", connID,
		"user_id", c.identity.ID,
		"reason", reason,
		"rooms", rooms,
		"lifetime", utils.FormatDuration(lifetime),
	)
}

func (m *connectionManager) Lookup(connID domain.ConnectionID) (ports.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conns[connID]
	if !ok {
		return nil, false
	}
	return c, true
}

func (m *connectionManager) Info(connID domain.ConnectionID) (domain.ConnectionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conns[connID]
	if !ok {
		return domain.ConnectionInfo{}, false
	}
	return domain.ConnectionInfo{
		ID:       c.id,
		UserID:   c.identity.ID,
		State:    c.state,
		Rooms:    m.registry.RoomsOf(connID),
		OpenedAt: c.openedAt,
	}, true
}

// EvictMember removes every connection of userID from the room.
func (m *connectionManager) EvictMember(userID domain.UserID, groupID domain.GroupID, reason string) int {
	m.mu.Lock()
	var evicted []*connection
	for connID := range m.byUser[userID] {
		if m.registry.Leave(connID, groupID) {
			c := m.conns[connID]
			m.refreshStateLocked(c)
			evicted = append(evicted, c)
		}
	}
	m.mu.Unlock()

	m.notifyEvicted(evicted, groupID, reason)
	return len(evicted)
}

// EvictRoom empties the room.
func (m *connectionManager) EvictRoom(groupID domain.GroupID, reason string) int {
	m.mu.Lock()
	var evicted []*connection
	for _, connID := range m.registry.MembersOf(groupID) {
		if m.registry.Leave(connID, groupID) {
			if c, ok := m.conns[connID]; ok {
				m.refreshStateLocked(c)
				evicted = append(evicted, c)
			}
		}
	}
	m.mu.Unlock()

	m.notifyEvicted(evicted, groupID, reason)
	return len(evicted)
}

func (m *connectionManager) notifyEvicted(evicted []*connection, groupID domain.GroupID, reason string) {
	if len(evicted) == 0 {
		return
	}
	m.metrics.RoomsActive(m.registry.RoomCount())
	for _, c := range evicted {
		c.Deliver(domain.LeftGroupEvent(groupID, reason))
		m.logger.Infow("connection evicted from group",
			"connection_id", c.id,
			"user_id", c.identity.ID,
			"group_id", groupID,
			"reason", reason,
		)
	}
}

// DisconnectUser closes every live connection held by userID.
func (m *connectionManager) DisconnectUser(userID domain.UserID, reason string) int {
	m.mu.RLock()
	ids := make([]domain.ConnectionID, 0, len(m.byUser[userID]))
	for connID := range m.byUser[userID] {
		ids = append(ids, connID)
	}
	m.mu.RUnlock()

	for _, connID := range ids {
		m.Disconnect(connID, reason)
	}
	return len(ids)
}

func (m *connectionManager) Stats() ports.ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ports.ConnectionStats{
		Connections: len(m.conns),
		Users:       len(m.byUser),
		Rooms:       m.registry.RoomCount(),
	}
}

// Shutdown disconnects every live connection.
func (m *connectionManager) Shutdown(reason string) {
	m.mu.RLock()
	ids := make([]domain.ConnectionID, 0, len(m.conns))
	for connID := range m.conns {
		ids = append(ids, connID)
	}
	m.mu.RUnlock()

	for _, connID := range ids {
		m.Disconnect(connID, reason)
	}
	m.logger.Infow("gateway drained", "connections", len(ids), "reason", reason)
}

// refreshStateLocked must be called with mu held.
func (m *connectionManager) refreshStateLocked(c *connection) {
	if c == nil || c.state == domain.StateDisconnected {
		return
	}
	if len(m.registry.RoomsOf(c.id)) > 0 {
		c.state = domain.StateJoined
	} else {
		c.state = domain.StateAuthenticated
	}
}
