// Package connector implements the platform adapters that fetch health data
// from wearable providers. Google Fit and Fitbit speak OAuth2 against their
// REST APIs; Apple Health is reached through a device-local bridge.
package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pulseloop/wearsync/internal/config"
	"github.com/pulseloop/wearsync/pkg/model"
)

var (
	// ErrNotInitialized is returned when a connector is used before Initialize
	ErrNotInitialized = errors.New("connector not initialized")

	// ErrNotAuthorized is returned when a fetch is attempted without a valid authorization
	ErrNotAuthorized = errors.New("connector not authorized")

	// ErrUnsupportedMetric is returned when a platform cannot provide the requested metric
	ErrUnsupportedMetric = errors.New("metric not supported by platform")

	// ErrUnknownPlatform is returned by New for platforms without an adapter
	ErrUnknownPlatform = errors.New("unknown platform")
)

// Connector adapts one wearable platform to the sync engine
type Connector interface {
	// Platform identifies the wearable platform this connector talks to
	Platform() model.SourcePlatform

	// Initialize configures the connector. It must be called before any
	// other method.
	Initialize(ctx context.Context, cfg config.PlatformConfig) error

	// AuthURL returns the URL a user must visit to grant access. Platforms
	// without a browser authorization flow return an error.
	AuthURL(state string) (string, error)

	// Authorize completes the authorization flow. For OAuth platforms the
	// code is the authorization code from the redirect; the bridge-based
	// Apple Health connector ignores it.
	Authorize(ctx context.Context, code string) error

	// IsAuthorized reports whether the connector currently holds a usable
	// authorization.
	IsAuthorized() bool

	// RevokeAuthorization invalidates the current authorization
	RevokeAuthorization(ctx context.Context) error

	// SupportedMetrics lists the metrics this platform can provide
	SupportedMetrics() []model.MetricType

	// FetchData retrieves data points for one metric within [from, to)
	FetchData(ctx context.Context, metric model.MetricType, from, to time.Time) ([]model.HealthDataPoint, error)
}

// New creates the connector for a platform
func New(platform model.SourcePlatform, logger *zap.Logger) (Connector, error) {
	switch platform {
	case model.SourceGoogleFit:
		return NewGoogleFitConnector(logger), nil
	case model.SourceFitbit:
		return NewFitbitConnector(logger), nil
	case model.SourceAppleHealth:
		return NewAppleHealthConnector(logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
}

// supportsMetric reports whether metric appears in supported
func supportsMetric(supported []model.MetricType, metric model.MetricType) bool {
	for _, m := range supported {
		if m == metric {
			return true
		}
	}
	return false
}

// pointID builds a deterministic point ID so repeated fetches of the same
// observation deduplicate in the repository.
func pointID(platform model.SourcePlatform, metric model.MetricType, ts time.Time) string {
	return fmt.Sprintf("%s:%s:%d", platform, metric, ts.Unix())
}
