package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/tweetpurge/internal/logger"
	"github.com/timmy/tweetpurge/internal/service"
	"github.com/timmy/tweetpurge/internal/xapi"
)

// DeletionHandler exposes bulk deletion jobs.
type DeletionHandler struct {
	deletion *service.DeletionService
}

// NewDeletionHandler creates a new deletion handler.
func NewDeletionHandler(deletion *service.DeletionService) *DeletionHandler {
	return &DeletionHandler{deletion: deletion}
}

// CancelRequest is the body of POST /delete/cancel.
type CancelRequest struct {
	JobID string `json:"jobId" binding:"required"`
}

// StatusResponse is the body of GET /delete/status.
type StatusResponse struct {
	OK              bool       `json:"ok"`
	JobID           string     `json:"jobId"`
	Status          string     `json:"status"`
	Total           int        `json:"total"`
	DeletedCount    int        `json:"deletedCount"`
	SkippedCount    int        `json:"skippedCount"`
	CancelRequested bool       `json:"cancelRequested"`
	ResumeAt        *time.Time `json:"resumeAt,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Start handles POST /delete/start.
func (h *DeletionHandler) Start(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	res, err := h.deletion.Start(ctx, p)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrJobActive):
		c.JSON(http.StatusConflict, gin.H{
			"ok":    false,
			"error": "A deletion job is already running",
			"jobId": res.JobID,
		})
		return
	case errors.Is(err, service.ErrAuthRequired):
		respondError(c, http.StatusUnauthorized, "Not authenticated")
		return
	case errors.Is(err, service.ErrShuttingDown):
		respondError(c, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, xapi.ErrRateLimited):
		respondError(c, http.StatusTooManyRequests, "Rate limited while listing posts, try again later")
		return
	default:
		logger.CtxError(ctx, "Failed to start deletion: error=%v", err)
		respondError(c, http.StatusBadGateway, err.Error())
		return
	}

	if res.NoItems() {
		c.JSON(http.StatusOK, gin.H{
			"ok":      true,
			"jobId":   nil,
			"message": "No tweets to delete.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":    true,
		"jobId": res.JobID,
		"total": res.Total,
	})
}

// Status handles GET /delete/status?jobId=.
func (h *DeletionHandler) Status(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	jobID := c.Query("jobId")
	if jobID == "" {
		respondError(c, http.StatusBadRequest, "jobId is required")
		return
	}

	job, err := h.deletion.Status(c.Request.Context(), p.UserID, jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		OK:              true,
		JobID:           job.ID,
		Status:          string(job.Status),
		Total:           job.Total,
		DeletedCount:    job.DeletedCount,
		SkippedCount:    job.SkippedCount,
		CancelRequested: job.CancelRequested,
		ResumeAt:        job.ResumeAt,
		Error:           job.LastError,
	})
}

// Cancel handles POST /delete/cancel.
func (h *DeletionHandler) Cancel(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "jobId is required")
		return
	}

	if err := h.deletion.Cancel(c.Request.Context(), p.UserID, req.JobID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// History handles GET /delete/history?limit=.
func (h *DeletionHandler) History(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	runs, err := h.deletion.History(c.Request.Context(), p.UserID, limit)
	if err != nil {
		logger.CtxError(c.Request.Context(), "Failed to load run history: error=%v", err)
		respondError(c, http.StatusInternalServerError, "Failed to load run history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "runs": runs})
}
