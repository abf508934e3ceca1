package monitoring

import (
	"context"
	"fmt"
	"time"

	"groupchat/pkg/circuitbreaker"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// AddStoreCheck pings the membership store.
func (h *HealthChecker) AddStoreCheck(store pinger, interval, timeout time.Duration) {
	h.AddCheck("store", store.Ping, interval, timeout)
}

// AddBreakerCheck reports unhealthy while the store breaker is open.
func (h *HealthChecker) AddBreakerCheck(stats func() circuitbreaker.Stats, interval time.Duration) {
	h.AddCheck("store_breaker", func(ctx context.Context) error {
		if s := stats(); s.State == circuitbreaker.StateOpen {
			return fmt.Errorf("circuit open since %s", s.StateChangeTime.Format(time.RFC3339))
		}
		return nil
	}, interval, time.Second)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == StatusHealthy
}
