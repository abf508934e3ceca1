package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"groupchat/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// rateLimiterStore stores per-key (for example, per IP) rate limiters.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rate      rate.Limit
	burstSize int
	idleTTL   time.Duration
	lastSweep time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*limiterEntry),
		rate:      r,
		burstSize: burst,
		idleTTL:   10 * time.Minute,
		lastSweep: time.Now(),
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastSweep) > s.idleTTL {
		for k, e := range s.limiters {
			if now.Sub(e.lastSeen) > s.idleTTL {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	entry, exists := s.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.rate, s.burstSize)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// ClientIP extracts the caller address, preferring the first X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware returns Gin middleware that applies simple IP-based rate limiting.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := newRateLimiterStore(rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond), cfg.RateLimiting.HTTP.Burst)

	var globalSem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if globalSem != nil {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "too many concurrent requests",
				})
				return
			}
		}

		if !store.getLimiter(ClientIP(c.Request)).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// ConnectionLimiter guards websocket admission: a per-IP budget of new
// connections per minute and a cap on concurrently open connections.
type ConnectionLimiter struct {
	enabled bool
	store   *rateLimiterStore
	slots   chan struct{}
}

func NewConnectionLimiter(cfg *config.Config) *ConnectionLimiter {
	ws := cfg.RateLimiting.WebSocket
	l := &ConnectionLimiter{enabled: cfg.RateLimiting.Enabled}
	if !l.enabled {
		return l
	}
	perMinute := ws.ConnectionsPerMinute
	l.store = newRateLimiterStore(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	if ws.MaxConcurrent > 0 {
		l.slots = make(chan struct{}, ws.MaxConcurrent)
	}
	return l
}

// AllowConnect reports whether ip may open another connection right now.
func (l *ConnectionLimiter) AllowConnect(ip string) bool {
	if !l.enabled {
		return true
	}
	return l.store.getLimiter(ip).Allow()
}

// Acquire reserves a concurrent connection slot. Call the returned release
// exactly once when the connection ends.
func (l *ConnectionLimiter) Acquire() (release func(), ok bool) {
	if !l.enabled || l.slots == nil {
		return func() {}, true
	}
	select {
	case l.slots <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-l.slots }) }, true
	default:
		return nil, false
	}
}

// NewMessageLimiter returns the per-connection inbound event limiter, or nil
// when rate limiting is off.
func NewMessageLimiter(cfg *config.Config) *rate.Limiter {
	if !cfg.RateLimiting.Enabled {
		return nil
	}
	ws := cfg.RateLimiting.WebSocket
	return rate.NewLimiter(rate.Limit(ws.MessagesPerSecond), ws.Burst)
}
