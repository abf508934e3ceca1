package gateway

import (
	"sync"
	"time"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConnection is the transport half of one live connection. Deliver only
// ever enqueues; the write pump owns every write to the socket.
type wsConnection struct {
	conn    *websocket.Conn
	send    chan domain.ServerEvent
	done    chan struct{}
	metrics ports.GatewayMetrics
	logger  *zap.SugaredLogger

	pingInterval time.Duration
	writeTimeout time.Duration

	closeOnce sync.Once
	mu        sync.Mutex
	reason    string
}

var _ ports.Endpoint = (*wsConnection)(nil)

func newWSConnection(conn *websocket.Conn, bufferSize int, pingInterval, writeTimeout time.Duration, metrics ports.GatewayMetrics, logger *zap.SugaredLogger) *wsConnection {
	return &wsConnection{
		conn:         conn,
		send:         make(chan domain.ServerEvent, bufferSize),
		done:         make(chan struct{}),
		metrics:      metrics,
		logger:       logger,
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
	}
}

// Deliver never blocks. A full buffer marks the client as a slow consumer and
// closes the connection.
func (c *wsConnection) Deliver(event domain.ServerEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- event:
		return true
	default:
		c.metrics.SlowConsumerDisconnected()
		c.logger.Warnw("send buffer full, closing connection", "buffered", len(c.send))
		c.Close(domain.CloseSlowConsumer)
		return false
	}
}

func (c *wsConnection) Close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

// closeReason is empty while the connection is still open.
func (c *wsConnection) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *wsConnection) closed() <-chan struct{} {
	return c.done
}

// writePump drains the send buffer and keeps the peer alive with pings. It
// closes the socket on exit, which in turn ends the read pump.
func (c *wsConnection) writePump() {
	pingTicker := time.NewTicker(c.pingInterval)
	defer func() {
		pingTicker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Infow("error writing event", "type", event.Type, "error", err)
				c.Close(domain.CloseClientGone)
				return
			}

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Infow("error sending ping", "error", err)
				c.Close(domain.CloseClientGone)
				return
			}

		case <-c.done:
			c.writeClose(c.closeReason())
			return
		}
	}
}

func (c *wsConnection) writeClose(reason string) {
	code := websocket.CloseNormalClosure
	switch reason {
	case domain.CloseShutdown:
		code = websocket.CloseGoingAway
	case domain.CloseSlowConsumer:
		code = websocket.CloseTryAgainLater
	case domain.CloseProtocolError:
		code = websocket.CloseProtocolError
	case domain.CloseUserDeleted:
		code = websocket.ClosePolicyViolation
	}
	deadline := time.Now().Add(c.writeTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
