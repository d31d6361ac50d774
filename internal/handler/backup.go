package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulseloop/wearsync/internal/wearable"
)

// BackupHandler handles backup and restore HTTP requests
type BackupHandler struct {
	service *wearable.Service
	logger  *zap.Logger
}

// NewBackupHandler creates a new backup handler
func NewBackupHandler(service *wearable.Service, logger *zap.Logger) *BackupHandler {
	return &BackupHandler{
		service: service,
		logger:  logger,
	}
}

// GetBackups lists stored backup snapshots, newest first.
// GET /api/v1/backups
func (h *BackupHandler) GetBackups(c *gin.Context) {
	backups, err := h.service.ListBackups(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list backups", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to list backups",
			Details: stringPtr(err.Error()),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"backups": backups})
}

// PostBackup creates a backup snapshot immediately, regardless of the
// configured backup frequency.
// POST /api/v1/backups
func (h *BackupHandler) PostBackup(c *gin.Context) {
	info, err := h.service.CreateBackup(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to create backup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to create backup",
			Details: stringPtr(err.Error()),
		})
		return
	}

	h.logger.Info("backup created",
		zap.String("backup_id", info.ID),
		zap.Bool("incremental", info.Incremental),
		zap.Bool("encrypted", info.Encrypted),
	)

	c.JSON(http.StatusCreated, info)
}

// PostRestore restores health data points from a backup snapshot. Points
// that already exist in the store are left untouched.
// POST /api/v1/backups/:id/restore
func (h *BackupHandler) PostRestore(c *gin.Context) {
	backupID := c.Param("id")

	restored, err := h.service.RestoreBackup(c.Request.Context(), backupID)
	if err != nil {
		h.logger.Error("failed to restore backup",
			zap.String("backup_id", backupID),
			zap.Error(err),
		)
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "RESTORE_FAILED",
			Message: "Failed to restore backup",
			Details: stringPtr(err.Error()),
		})
		return
	}

	h.logger.Info("backup restored",
		zap.String("backup_id", backupID),
		zap.Int("points_restored", restored),
	)

	c.JSON(http.StatusOK, gin.H{
		"backup_id":       backupID,
		"points_restored": restored,
	})
}
