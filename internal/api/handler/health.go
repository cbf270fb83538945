package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/motionmatch/internal/service"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	stats *service.StatsService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(stats *service.StatsService) *HealthHandler {
	return &HealthHandler{stats: stats}
}

// Health reports ok when the metadata store and the index both answer.
func (h *HealthHandler) Health(c *gin.Context) {
	checks := gin.H{}
	healthy := true
	for name, err := range h.stats.Health(c.Request.Context()) {
		if err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}
