package telemetry

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/BakeLens/shellgate/internal/api"
)

// APIHandler handles HTTP API requests for the audit log
type APIHandler struct {
	storage *Storage
}

// NewAPIHandler creates a new audit log API handler
func NewAPIHandler(storage *Storage) *APIHandler {
	return &APIHandler{storage: storage}
}

// RegisterRoutes registers audit log routes on the /api group.
func (h *APIHandler) RegisterRoutes(group *gin.RouterGroup) {
	logs := group.Group("/logs")
	{
		logs.GET("", h.HandleLogs)
		logs.GET("/stats", h.HandleStats)
		logs.GET("/:id", h.HandleLog)
	}
}

// LogsQuery represents query parameters for the logs endpoint
type LogsQuery struct {
	// SECURITY: bounded to keep one request from reading the whole table
	Minutes int     `form:"minutes" binding:"omitempty,min=1,max=10080"`
	Limit   int     `form:"limit" binding:"omitempty,min=1,max=1000"`
	Session string  `form:"session" binding:"omitempty,max=256"`
	Outcome Outcome `form:"outcome" binding:"omitempty,oneof=denied rejected error exited timed_out aborted"`
}

// HandleLogs handles GET /api/logs
func (h *APIHandler) HandleLogs(c *gin.Context) {
	var query LogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		api.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if query.Limit == 0 {
		query.Limit = 100
	}

	logs, err := h.storage.ListExecutions(c.Request.Context(), Filter{
		Minutes:   query.Minutes,
		Limit:     query.Limit,
		SessionID: query.Session,
		Outcome:   query.Outcome,
	})
	if err != nil {
		log.Error("list executions: %v", err)
		api.Error(c, http.StatusInternalServerError, "Failed to get logs")
		return
	}
	if logs == nil {
		logs = []Execution{}
	}
	api.Success(c, logs)
}

// HandleLog handles GET /api/logs/:id
func (h *APIHandler) HandleLog(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		api.Error(c, http.StatusBadRequest, "Invalid log id")
		return
	}
	e, err := h.storage.GetExecution(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		api.Error(c, http.StatusNotFound, "Log not found")
		return
	}
	if err != nil {
		log.Error("get execution %d: %v", id, err)
		api.Error(c, http.StatusInternalServerError, "Failed to get log")
		return
	}
	api.Success(c, e)
}

// HandleStats handles GET /api/logs/stats
func (h *APIHandler) HandleStats(c *gin.Context) {
	stats, err := h.storage.GetStats(c.Request.Context())
	if err != nil {
		api.Error(c, http.StatusInternalServerError, "Failed to get stats")
		return
	}
	api.Success(c, stats)
}
