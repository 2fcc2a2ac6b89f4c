// Package admin exposes the read-only HTTP surface: health and registry
// statistics. Neither endpoint mutates state.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/huddlekit/signaling/internal/v1/bus"
	"github.com/huddlekit/signaling/internal/v1/logging"
	"github.com/huddlekit/signaling/internal/v1/registry"
)

// Handler serves the admin endpoints.
type Handler struct {
	reg *registry.Registry
	bus *bus.Service
}

// NewHandler creates an admin handler over the registry and the optional bus.
func NewHandler(reg *registry.Registry, busService *bus.Service) *Handler {
	return &Handler{reg: reg, bus: busService}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	TotalRooms        int            `json:"totalRooms"`
	TotalParticipants int            `json:"totalParticipants"`
	RoomsBySize       map[string]int `json:"roomsBySize"`
	UptimeSeconds     int64          `json:"uptimeSeconds"`
}

// Health handles GET /health (and the /health/live alias).
// Returns 200 if the process is alive; no dependency checks.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready.
// Returns 503 when the bus is enabled but unreachable.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK

	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			logging.Error(ctx, "Redis health check failed", zap.Error(err))
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}
	}

	c.JSON(statusCode, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Stats handles GET /stats.
func (h *Handler) Stats(c *gin.Context) {
	snapshot := h.reg.StatsSnapshot()
	c.JSON(http.StatusOK, StatsResponse{
		TotalRooms:        snapshot.TotalRooms,
		TotalParticipants: snapshot.TotalParticipants,
		RoomsBySize:       snapshot.RoomsBySize,
		UptimeSeconds:     int64(time.Since(h.reg.StartedAt()).Seconds()),
	})
}
