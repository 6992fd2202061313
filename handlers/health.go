package handlers

import (
	"context"
	"net/http"
	"time"

	"devconnect/monitoring"

	"github.com/gin-gonic/gin"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type RealtimeStats interface {
	ConnectedClients() int
	NodeID() string
}

type HealthHandler struct {
	db       Pinger
	realtime RealtimeStats
	started  time.Time
}

func NewHealthHandler(db Pinger, realtime RealtimeStats) *HealthHandler {
	return &HealthHandler{db: db, realtime: realtime, started: time.Now()}
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	database := "up"
	if err := h.db.Ping(ctx); err != nil {
		status, code, database = "degraded", http.StatusServiceUnavailable, "down"
	}
	c.JSON(code, gin.H{
		"status":    status,
		"database":  database,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"websocket": gin.H{"clients": h.realtime.ConnectedClients(), "node": h.realtime.NodeID()},
		"degraded":  monitoring.Degraded(),
	})
}
