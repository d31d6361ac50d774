// Package handler exposes the wearable sync service over HTTP using Gin.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulseloop/wearsync/pkg/model"
)

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Details *string `json:"details,omitempty"`
}

// stringPtr returns a pointer to the given string
func stringPtr(s string) *string {
	return &s
}

// platformFromPath extracts and validates the :platform path parameter.
// On failure it writes the 400 response itself and returns false.
func platformFromPath(c *gin.Context) (model.SourcePlatform, bool) {
	platform := model.SourcePlatform(c.Param("platform"))
	if !platform.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Unknown platform",
			Details: stringPtr("platform must be one of: apple_health, google_fit, fitbit"),
		})
		return "", false
	}
	return platform, true
}
