package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulseloop/wearsync/internal/config"
	"github.com/pulseloop/wearsync/pkg/model"
)

// appleHealthMetrics lists everything the HealthKit bridge exports
var appleHealthMetrics = []model.MetricType{
	model.MetricSteps, model.MetricDistance, model.MetricCaloriesBurned,
	model.MetricActiveMinutes, model.MetricFlightsClimbed,
	model.MetricHeartRate, model.MetricRestingHeartRate, model.MetricHeartRateVariability,
	model.MetricBloodPressure, model.MetricBloodOxygen, model.MetricRespiratoryRate,
	model.MetricBodyTemperature,
	model.MetricSleepDuration, model.MetricSleepQuality,
	model.MetricWeight, model.MetricHeight, model.MetricBMI, model.MetricBodyFat,
	model.MetricWaterIntake, model.MetricNutritionCalories,
}

// AppleHealthConnector reads HealthKit samples through a device-local bridge
// service. There is no cloud API for Apple Health, so authorization is a
// local pairing with the bridge and revocation only tears down local state.
// The HealthKit permission itself can only be withdrawn on the device.
type AppleHealthConnector struct {
	mu      sync.Mutex
	baseURL string
	paired  bool
	client  *http.Client
	logger  *zap.Logger
}

// NewAppleHealthConnector creates an uninitialized Apple Health connector
func NewAppleHealthConnector(logger *zap.Logger) *AppleHealthConnector {
	return &AppleHealthConnector{
		client: http.DefaultClient,
		logger: logger,
	}
}

// Platform identifies this connector as Apple Health
func (c *AppleHealthConnector) Platform() model.SourcePlatform {
	return model.SourceAppleHealth
}

// Initialize stores the bridge endpoint
func (c *AppleHealthConnector) Initialize(ctx context.Context, cfg config.PlatformConfig) error {
	if cfg.APIBaseURL == "" {
		return fmt.Errorf("apple health: bridge url is required")
	}

	c.mu.Lock()
	c.baseURL = cfg.APIBaseURL
	c.mu.Unlock()

	c.logger.Info("apple health connector initialized", zap.String("bridge_url", cfg.APIBaseURL))
	return nil
}

// AuthURL is not available; the bridge pairs locally without a browser flow
func (c *AppleHealthConnector) AuthURL(state string) (string, error) {
	return "", fmt.Errorf("apple health: authorization happens on the device, no consent url exists")
}

// Authorize pairs with the local bridge by checking it is reachable and has
// HealthKit access. The code argument is ignored.
func (c *AppleHealthConnector) Authorize(ctx context.Context, code string) error {
	c.mu.Lock()
	baseURL := c.baseURL
	c.mu.Unlock()

	if baseURL == "" {
		return ErrNotInitialized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/status", nil)
	if err != nil {
		return fmt.Errorf("apple health: failed to build status request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("apple health: bridge unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("apple health: bridge returned status %d", resp.StatusCode)
	}

	c.mu.Lock()
	c.paired = true
	c.mu.Unlock()

	c.logger.Info("apple health bridge paired")
	return nil
}

// IsAuthorized reports whether the bridge pairing is active
func (c *AppleHealthConnector) IsAuthorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paired
}

// RevokeAuthorization tears down the local pairing. HealthKit permissions
// cannot be revoked remotely; the user has to do that in the Health app.
func (c *AppleHealthConnector) RevokeAuthorization(ctx context.Context) error {
	c.mu.Lock()
	c.paired = false
	c.mu.Unlock()

	c.logger.Info("apple health pairing removed",
		zap.String("note", "healthkit permission must be revoked on the device"),
	)
	return nil
}

// SupportedMetrics lists everything the bridge exports
func (c *AppleHealthConnector) SupportedMetrics() []model.MetricType {
	return append([]model.MetricType(nil), appleHealthMetrics...)
}

// bridgeSample is one HealthKit sample as serialized by the bridge
type bridgeSample struct {
	ID        string    `json:"id"`
	Metric    string    `json:"metric"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Systolic  *float64  `json:"systolic,omitempty"`
	Diastolic *float64  `json:"diastolic,omitempty"`
	Unit      string    `json:"unit"`
	DeviceID  string    `json:"device_id"`
	Manual    bool      `json:"manual"`
}

// FetchData retrieves samples for one metric from the bridge
func (c *AppleHealthConnector) FetchData(ctx context.Context, metric model.MetricType, from, to time.Time) ([]model.HealthDataPoint, error) {
	c.mu.Lock()
	baseURL := c.baseURL
	paired := c.paired
	c.mu.Unlock()

	if baseURL == "" {
		return nil, ErrNotInitialized
	}
	if !paired {
		return nil, ErrNotAuthorized
	}
	if !supportsMetric(appleHealthMetrics, metric) {
		return nil, fmt.Errorf("%w: apple health cannot provide %s", ErrUnsupportedMetric, metric)
	}

	query := url.Values{
		"metric": {string(metric)},
		"start":  {strconv.FormatInt(from.Unix(), 10)},
		"end":    {strconv.FormatInt(to.Unix(), 10)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/samples?%s", baseURL, query.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("apple health: failed to build samples request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apple health: bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("apple health: bridge returned status %d: %s", resp.StatusCode, data)
	}

	var samples []bridgeSample
	if err := json.NewDecoder(resp.Body).Decode(&samples); err != nil {
		return nil, fmt.Errorf("apple health: failed to decode samples: %w", err)
	}

	points := make([]model.HealthDataPoint, 0, len(samples))
	for _, sample := range samples {
		ts := sample.Timestamp.UTC()

		id := sample.ID
		if id == "" {
			id = pointID(model.SourceAppleHealth, metric, ts)
		}

		value := model.ScalarValue(sample.Value)
		if sample.Systolic != nil && sample.Diastolic != nil {
			value = model.Value{BloodPressure: &model.BloodPressureValue{
				Systolic:  *sample.Systolic,
				Diastolic: *sample.Diastolic,
			}}
		}

		points = append(points, model.HealthDataPoint{
			ID:          id,
			Source:      model.SourceAppleHealth,
			DeviceID:    sample.DeviceID,
			MetricType:  metric,
			Timestamp:   ts,
			Value:       value,
			Unit:        sample.Unit,
			ManualEntry: sample.Manual,
		})
	}

	c.logger.Debug("apple health fetch complete",
		zap.String("metric_type", string(metric)),
		zap.Int("points", len(points)),
	)

	return points, nil
}
