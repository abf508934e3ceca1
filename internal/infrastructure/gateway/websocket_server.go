package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/internal/infrastructure/middleware"
	"groupchat/pkg/config"
	apperrors "groupchat/pkg/errors"
	"groupchat/pkg/logger"
	"groupchat/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type WebSocketServer struct {
	manager ports.ConnectionManager
	relay   ports.MessageRelay
	limiter *middleware.ConnectionLimiter
	metrics ports.GatewayMetrics
	cfg     *config.Config

	upgrader websocket.Upgrader

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

func NewWebSocketServer(
	manager ports.ConnectionManager,
	relay ports.MessageRelay,
	metrics ports.GatewayMetrics,
	cfg *config.Config,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	s := &WebSocketServer{
		manager:      manager,
		relay:        relay,
		limiter:      middleware.NewConnectionLimiter(cfg),
		metrics:      metrics,
		cfg:          cfg,
		pingInterval: cfg.Gateway.PingInterval,
		pongTimeout:  cfg.Gateway.PongTimeout,
		writeTimeout: cfg.Gateway.WriteTimeout,
		logger:       logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and any origin when the allow list contains "*".
func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.Auth.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	s.logger.Warnw("websocket origin rejected", "origin", origin)
	return false
}

// HandleWebSocket authenticates before upgrading: a refused client gets a
// plain HTTP error and never holds a connection.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := middleware.ClientIP(r)
	if !s.limiter.AllowConnect(ip) {
		s.metrics.ConnectionRefused("rate_limited")
		writeError(w, apperrors.NewRateLimitError())
		return
	}
	release, ok := s.limiter.Acquire()
	if !ok {
		s.metrics.ConnectionRefused("capacity")
		writeError(w, apperrors.NewServiceUnavailableError("too many open connections"))
		return
	}
	defer release()

	cred := middleware.ExtractCredential(r, s.cfg.Auth.SessionCookie)
	identity, err := s.manager.Authenticate(r.Context(), cred)
	if err != nil {
		writeError(w, apperrors.FromDomain(err))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "user_id", identity.ID, "error", err)
		return
	}

	log := s.logger.With("user_id", identity.ID, "remote_ip", ip)
	endpoint := newWSConnection(conn, s.cfg.Gateway.SendBufferSize, s.pingInterval, s.writeTimeout, s.metrics, log)
	connID := s.manager.Register(*identity, endpoint)
	log = log.With("connection_id", connID)

	go endpoint.writePump()

	ctx := logger.WithConnectionID(context.Background(), string(connID))
	ctx = logger.WithUserID(ctx, string(identity.ID))
	s.readPump(ctx, connID, endpoint, middleware.NewMessageLimiter(s.cfg), log)

	reason := endpoint.closeReason()
	if reason == "" {
		reason = domain.CloseClientGone
	}
	s.manager.Disconnect(connID, reason)
}

func (s *WebSocketServer) readPump(ctx context.Context, connID domain.ConnectionID, endpoint *wsConnection, limiter *rate.Limiter, log *zap.SugaredLogger) {
	conn := endpoint.conn
	conn.SetReadLimit(s.cfg.RateLimiting.WebSocket.MaxMessageSizeBytes)
	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				log.Warnw("inbound frame exceeds read limit", "limit", s.cfg.RateLimiting.WebSocket.MaxMessageSizeBytes)
				endpoint.Close(domain.CloseProtocolError)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure):
				log.Infow("error reading from connection", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))

		select {
		case <-endpoint.closed():
			return
		default:
		}

		if limiter != nil && !limiter.Allow() {
			endpoint.Deliver(domain.ErrorEvent(CodeRateLimited, "slow down", ""))
			continue
		}

		ev, err := decodeEvent(data)
		if err != nil {
			log.Infow("malformed event", "error", err)
			endpoint.Deliver(domain.ErrorEvent(CodeInvalidEvent, "event must be a JSON object with a type", ""))
			continue
		}
		s.handleEvent(ctx, connID, endpoint, ev, log)
	}
}

func (s *WebSocketServer) handleEvent(ctx context.Context, connID domain.ConnectionID, endpoint *wsConnection, ev ClientEvent, log *zap.SugaredLogger) {
	ctx, span := tracing.TraceGatewayEvent(ctx, string(ev.Type), string(connID))
	defer span.End()

	switch ev.Type {
	case domain.EventJoinGroup:
		req, err := decodeGroupRequest(ev.Payload)
		if err != nil {
			endpoint.Deliver(domain.ErrorEvent(CodeInvalidEvent, "join_group requires a group_id", ""))
			return
		}
		// A denied join is silent; the manager already logged it.
		_ = s.manager.Join(ctx, connID, req.GroupID)

	case domain.EventLeaveGroup:
		req, err := decodeGroupRequest(ev.Payload)
		if err != nil {
			endpoint.Deliver(domain.ErrorEvent(CodeInvalidEvent, "leave_group requires a group_id", ""))
			return
		}
		if err := s.manager.Leave(connID, req.GroupID); err != nil {
			log.Infow("leave failed", "group_id", req.GroupID, "error", err)
		}

	case domain.EventSendMessage:
		req, err := decodeSendMessage(ev.Payload)
		if err != nil {
			endpoint.Deliver(domain.ErrorEvent(CodeInvalidEvent, "send_message requires a group_id and content", ""))
			return
		}
		if _, err := s.relay.Submit(ctx, connID, req.GroupID, req.Content); err != nil {
			code := rejectionCode(err)
			log.Infow("submission rejected", "group_id", req.GroupID, "code", code, "error", err)
			endpoint.Deliver(domain.ErrorEvent(code, rejectionMessage(code), req.GroupID))
		}

	default:
		endpoint.Deliver(domain.ErrorEvent(CodeUnknownEvent, "unknown event type "+string(ev.Type), ""))
	}
}

// Shutdown closes every live connection; each read pump then unwinds on its
// own.
func (s *WebSocketServer) Shutdown() {
	s.manager.Shutdown(domain.CloseShutdown)
}

func writeError(w http.ResponseWriter, appErr *apperrors.AppError) {
	http.Error(w, appErr.Message, appErr.HTTPStatus)
}
