package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulseloop/wearsync/internal/wearable"
)

// RegisterRoutes wires all API routes onto the router
func RegisterRoutes(r *gin.Engine, service *wearable.Service, logger *zap.Logger) {
	syncHandler := NewSyncHandler(service, logger)
	platformHandler := NewPlatformHandler(service, logger)
	backupHandler := NewBackupHandler(service, logger)

	v1 := r.Group("/api/v1")

	v1.POST("/sync", syncHandler.PostSync)
	v1.GET("/sync/status", syncHandler.GetStatus)
	v1.POST("/sync/start", syncHandler.PostStart)
	v1.POST("/sync/stop", syncHandler.PostStop)
	v1.GET("/sync/logs", syncHandler.GetLogs)

	v1.GET("/config", syncHandler.GetConfig)
	v1.PATCH("/config", syncHandler.PatchConfig)

	v1.GET("/platforms", platformHandler.GetPlatforms)
	v1.PUT("/platforms/:platform/config", platformHandler.PutPlatformConfig)
	v1.POST("/platforms/:platform/connect", platformHandler.PostConnect)
	v1.GET("/platforms/:platform/auth-url", platformHandler.GetAuthURL)
	v1.POST("/platforms/:platform/authorize", platformHandler.PostAuthorize)
	v1.DELETE("/platforms/:platform/authorization", platformHandler.DeleteAuthorization)

	v1.GET("/backups", backupHandler.GetBackups)
	v1.POST("/backups", backupHandler.PostBackup)
	v1.POST("/backups/:id/restore", backupHandler.PostRestore)
}
