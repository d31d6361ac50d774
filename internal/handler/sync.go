package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulseloop/wearsync/internal/config"
	"github.com/pulseloop/wearsync/internal/syncer"
	"github.com/pulseloop/wearsync/internal/wearable"
	"github.com/pulseloop/wearsync/pkg/model"
)

// SyncHandler handles synchronization and configuration HTTP requests
type SyncHandler struct {
	service *wearable.Service
	logger  *zap.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(service *wearable.Service, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		service: service,
		logger:  logger,
	}
}

// syncRequest optionally narrows a manual sync to specific metric types
type syncRequest struct {
	MetricTypes []model.MetricType `json:"metric_types"`
}

// PostSync triggers an immediate synchronization pass. An empty body syncs
// every enabled metric; metric_types narrows the pass.
// POST /api/v1/sync
func (h *SyncHandler) PostSync(c *gin.Context) {
	ctx := c.Request.Context()

	var req syncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "Invalid request body",
				Details: stringPtr(err.Error()),
			})
			return
		}
	}

	stats, err := h.service.SyncNow(ctx, req.MetricTypes...)
	if err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "SYNC_IN_PROGRESS",
				"message": "A synchronization pass is already running",
				"status":  h.service.GetSyncStatus(),
			})
			return
		}

		h.logger.Error("manual sync failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to run synchronization",
			Details: stringPtr(err.Error()),
		})
		return
	}

	h.logger.Info("manual sync completed",
		zap.Int("total_synced", stats.TotalSynced),
		zap.Int("errors", len(stats.Errors)),
		zap.Int("anomalies_detected", stats.AnomaliesDetected),
	)

	c.JSON(http.StatusOK, stats)
}

// GetStatus reports the current synchronization status.
// GET /api/v1/sync/status
func (h *SyncHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.GetSyncStatus())
}

// PostStart starts the background sync scheduler.
// POST /api/v1/sync/start
func (h *SyncHandler) PostStart(c *gin.Context) {
	// The scheduler outlives the request, so it must not inherit the
	// request context.
	if err := h.service.StartSync(context.Background()); err != nil {
		if errors.Is(err, syncer.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Code:    "ALREADY_RUNNING",
				Message: "The sync scheduler is already running",
			})
			return
		}

		h.logger.Error("failed to start sync scheduler", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to start synchronization",
			Details: stringPtr(err.Error()),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

// PostStop stops the background sync scheduler.
// POST /api/v1/sync/stop
func (h *SyncHandler) PostStop(c *gin.Context) {
	h.service.StopSync()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// GetLogs returns recent sync log entries, newest last.
// GET /api/v1/sync/logs?limit=N
func (h *SyncHandler) GetLogs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "Invalid limit parameter",
				Details: stringPtr("limit must be a positive integer"),
			})
			return
		}
		limit = parsed
	}

	c.JSON(http.StatusOK, gin.H{"logs": h.service.GetSyncLogs(limit)})
}

// GetConfig returns the current synchronization configuration.
// GET /api/v1/config
func (h *SyncHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.GetConfig())
}

// PatchConfig applies a partial configuration update. Omitted fields keep
// their current values; an invalid patch leaves the configuration unchanged.
// PATCH /api/v1/config
func (h *SyncHandler) PatchConfig(c *gin.Context) {
	var patch config.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Invalid request body",
			Details: stringPtr(err.Error()),
		})
		return
	}

	updated, err := h.service.UpdateConfig(patch)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Invalid configuration",
			Details: stringPtr(err.Error()),
		})
		return
	}

	h.logger.Info("sync configuration updated",
		zap.Int("sync_interval_minutes", updated.SyncIntervalMinutes),
		zap.String("battery_optimization", string(updated.BatteryOptimization)),
	)

	c.JSON(http.StatusOK, updated)
}
