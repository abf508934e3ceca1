package http

import (
	"net/http"
	"time"

	"groupchat/internal/core/ports"
	"groupchat/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HealthHandler struct {
	checker   *monitoring.HealthChecker
	stats     func() ports.ConnectionStats
	gatherer  prometheus.Gatherer
	startedAt time.Time
}

// NewHealthHandler serves /metrics from gatherer; pass nil to leave the
// endpoint out.
func NewHealthHandler(checker *monitoring.HealthChecker, stats func() ports.ConnectionStats, gatherer prometheus.Gatherer) *HealthHandler {
	return &HealthHandler{
		checker:   checker,
		stats:     stats,
		gatherer:  gatherer,
		startedAt: time.Now(),
	}
}

func (h *HealthHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// Health is liveness only: it never touches the store.
func (h *HealthHandler) Health(c *gin.Context) {
	stats := h.stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      monitoring.StatusHealthy,
		"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
		"connections": stats.Connections,
		"users":       stats.Users,
		"rooms":       stats.Rooms,
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
