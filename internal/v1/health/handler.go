// Package health exposes the Kubernetes-style liveness and readiness
// probes. Aggregate meeting stats live on the api package's /health
// endpoint; these two only answer "is the process up" and "are its
// dependencies usable".
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/huddlehq/huddle/internal/v1/logging"
)

// StoreChecker reports whether the latent room store accepts writes.
type StoreChecker interface {
	Check() error
}

// Handler manages the probe endpoints.
type Handler struct {
	redis *redis.Client // nil when the Redis rate-limit store is disabled
	store StoreChecker  // nil when latent room persistence is disabled
}

// NewHandler creates a probe handler. Both dependencies are optional; a
// nil one is reported healthy since the server runs without it.
func NewHandler(redisClient *redis.Client, store StoreChecker) *Handler {
	return &Handler{
		redis: redisClient,
		store: store,
	}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. Returns 200 if the process is alive,
// with no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. Returns 200 only while every
// configured dependency is healthy, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"rate_limit_store": h.checkRedis(ctx),
		"room_store":       h.checkStore(ctx),
	}

	status := "ready"
	statusCode := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// checkRedis verifies rate-limit store connectivity with a PING.
func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redis == nil {
		// Single-instance mode with in-memory rate limiting.
		return "healthy"
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// checkStore verifies the latent room store still accepts writes.
func (h *Handler) checkStore(ctx context.Context) string {
	if h.store == nil {
		return "healthy"
	}
	if err := h.store.Check(); err != nil {
		logging.Warn(ctx, "Room store health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
