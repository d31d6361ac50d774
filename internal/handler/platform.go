package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulseloop/wearsync/internal/config"
	"github.com/pulseloop/wearsync/internal/syncer"
	"github.com/pulseloop/wearsync/internal/wearable"
	"github.com/pulseloop/wearsync/pkg/model"
)

// PlatformHandler handles platform connection and authorization requests
type PlatformHandler struct {
	service *wearable.Service
	logger  *zap.Logger
}

// NewPlatformHandler creates a new platform handler
func NewPlatformHandler(service *wearable.Service, logger *zap.Logger) *PlatformHandler {
	return &PlatformHandler{
		service: service,
		logger:  logger,
	}
}

// authorizeRequest carries the OAuth authorization code exchanged at the
// end of a consent flow. Apple Health ignores the code and probes the
// local bridge instead.
type authorizeRequest struct {
	Code string `json:"code"`
}

// GetPlatforms lists the platforms that are currently connected and
// authorized.
// GET /api/v1/platforms
func (h *PlatformHandler) GetPlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connected": h.service.GetConnectedPlatforms()})
}

// PutPlatformConfig stores credentials and endpoints for a platform.
// PUT /api/v1/platforms/:platform/config
func (h *PlatformHandler) PutPlatformConfig(c *gin.Context) {
	platform, ok := platformFromPath(c)
	if !ok {
		return
	}

	var cfg config.PlatformConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Invalid request body",
			Details: stringPtr(err.Error()),
		})
		return
	}

	if err := h.service.SetPlatformConfig(platform, cfg); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Invalid platform configuration",
			Details: stringPtr(err.Error()),
		})
		return
	}

	h.logger.Info("platform configuration stored", zap.String("platform", string(platform)))
	c.JSON(http.StatusOK, gin.H{"status": "configured"})
}

// PostConnect initializes and registers the connector for a platform.
// POST /api/v1/platforms/:platform/connect
func (h *PlatformHandler) PostConnect(c *gin.Context) {
	platform, ok := platformFromPath(c)
	if !ok {
		return
	}

	if err := h.service.InitializeConnector(c.Request.Context(), platform); err != nil {
		h.logger.Error("failed to initialize connector",
			zap.String("platform", string(platform)),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "CONNECTOR_ERROR",
			Message: "Failed to initialize connector",
			Details: stringPtr(err.Error()),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}

// GetAuthURL returns the consent URL to begin a platform's OAuth flow.
// GET /api/v1/platforms/:platform/auth-url?state=...
func (h *PlatformHandler) GetAuthURL(c *gin.Context) {
	platform, ok := platformFromPath(c)
	if !ok {
		return
	}

	url, err := h.service.AuthURL(platform, c.Query("state"))
	if err != nil {
		if errors.Is(err, syncer.ErrNotRegistered) {
			h.notRegistered(c, platform)
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "CONNECTOR_ERROR",
			Message: "Failed to build authorization URL",
			Details: stringPtr(err.Error()),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"auth_url": url})
}

// PostAuthorize completes a platform's authorization flow.
// POST /api/v1/platforms/:platform/authorize
func (h *PlatformHandler) PostAuthorize(c *gin.Context) {
	platform, ok := platformFromPath(c)
	if !ok {
		return
	}

	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Invalid request body",
			Details: stringPtr(err.Error()),
		})
		return
	}

	if err := h.service.Authorize(c.Request.Context(), platform, req.Code); err != nil {
		if errors.Is(err, syncer.ErrNotRegistered) {
			h.notRegistered(c, platform)
			return
		}

		h.logger.Error("platform authorization failed",
			zap.String("platform", string(platform)),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Code:    "AUTHORIZATION_FAILED",
			Message: "Failed to authorize platform",
			Details: stringPtr(err.Error()),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "authorized"})
}

// DeleteAuthorization revokes a platform's authorization. The connector
// stays registered so it can be re-authorized later.
// DELETE /api/v1/platforms/:platform/authorization
func (h *PlatformHandler) DeleteAuthorization(c *gin.Context) {
	platform, ok := platformFromPath(c)
	if !ok {
		return
	}

	if err := h.service.RevokeAuthorization(c.Request.Context(), platform); err != nil {
		if errors.Is(err, syncer.ErrNotRegistered) {
			h.notRegistered(c, platform)
			return
		}

		h.logger.Error("failed to revoke authorization",
			zap.String("platform", string(platform)),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Code:    "REVOCATION_FAILED",
			Message: "Failed to revoke authorization",
			Details: stringPtr(err.Error()),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func (h *PlatformHandler) notRegistered(c *gin.Context, platform model.SourcePlatform) {
	c.JSON(http.StatusNotFound, ErrorResponse{
		Code:    "NOT_CONNECTED",
		Message: "Platform is not connected",
		Details: stringPtr("call connect before using platform " + string(platform)),
	})
}
