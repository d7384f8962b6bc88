package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JobCounter reports how many deletion jobs are held in memory.
type JobCounter interface {
	Len() int
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	jobs JobCounter
}

// NewHealthHandler creates a new health handler. jobs may be nil.
func NewHealthHandler(jobs JobCounter) *HealthHandler {
	return &HealthHandler{jobs: jobs}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.jobs != nil {
		resp["jobs"] = h.jobs.Len()
	}
	c.JSON(http.StatusOK, resp)
}
