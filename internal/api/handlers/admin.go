package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"backtest-api/internal/core"
	"backtest-api/internal/history"
)

type AdminHandler struct {
	metrics *core.MetricsCollector
	history *history.Store
}

func NewAdminHandler(metrics *core.MetricsCollector, historyStore *history.Store) *AdminHandler {
	return &AdminHandler{
		metrics: metrics,
		history: historyStore,
	}
}

func (h *AdminHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

func (h *AdminHandler) GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	status := c.Query("status")

	records, err := h.history.Recent(status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to query history"})
		return
	}
	if records == nil {
		records = []*history.Record{}
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/metrics", h.GetMetrics)
	r.GET("/history", h.GetHistory)
}
