package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"backtest-api/internal/api/middleware"
	"backtest-api/internal/core"
)

const (
	pollIntervalQueuedMs  = 2000
	pollIntervalRunningMs = 1000
)

type SubmitJobRequest struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

type JobHandler struct {
	service *core.Service
}

func NewJobHandler(service *core.Service) *JobHandler {
	return &JobHandler{service: service}
}

func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	ownerID := middleware.OwnerID(c)

	summary, err := h.service.Submit(req.Type, req.Payload, ownerID)
	if err != nil {
		h.writeAdmissionError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"job": gin.H{
			"id":                summary.ID,
			"status":            summary.Status,
			"queue_position":    summary.QueuePosition,
			"estimated_wait_ms": summary.EstimatedWaitMs,
		},
	})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	summary, err := h.service.Status(c.Param("id"))
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to get job"})
		return
	}

	shouldPoll := summary.Status == core.JobStatusQueued || summary.Status == core.JobStatusRunning

	pollInterval := 0
	switch summary.Status {
	case core.JobStatusQueued:
		pollInterval = pollIntervalQueuedMs
	case core.JobStatusRunning:
		pollInterval = pollIntervalRunningMs
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"job":              summary,
		"should_poll":      shouldPoll,
		"poll_interval_ms": pollInterval,
	})
}

func (h *JobHandler) CancelJob(c *gin.Context) {
	ownerID := middleware.OwnerID(c)

	summary, err := h.service.Cancel(c.Param("id"), ownerID)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "job not found"})
		case errors.Is(err, core.ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "job belongs to another caller"})
		case errors.Is(err, core.ErrJobNotQueued):
			c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": "job is already executing or finished"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to cancel job"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "job": summary})
}

func (h *JobHandler) writeAdmissionError(c *gin.Context, err error) {
	var denial *core.DenialError

	switch {
	case errors.Is(err, core.ErrRateLimitExceeded):
		errors.As(err, &denial)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":               "rate_limit_exceeded",
			"message":             "too many requests, slow down",
			"retry_after_seconds": denial.RetryAfter,
		})
	case errors.Is(err, core.ErrConcurrencyExceeded):
		errors.As(err, &denial)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":               "concurrency_limit_exceeded",
			"message":             "too many jobs in flight for this caller",
			"retry_after_seconds": denial.RetryAfter,
		})
	case errors.Is(err, core.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "queue_full",
			"message": "job queue is full, try again later",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to submit job"})
	}
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/jobs", h.SubmitJob)
	r.GET("/jobs/:id", h.GetJob)
	r.DELETE("/jobs/:id", h.CancelJob)
}
