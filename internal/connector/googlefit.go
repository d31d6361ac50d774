package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pulseloop/wearsync/internal/config"
	"github.com/pulseloop/wearsync/pkg/model"
)

const defaultGoogleFitBaseURL = "https://www.googleapis.com/fitness/v1"

// googleFitDataSource maps a metric to a Google Fit aggregate data type
type googleFitDataSource struct {
	dataTypeName string
	unit         string
	integral     bool // intVal instead of fpVal
}

var googleFitSources = map[model.MetricType]googleFitDataSource{
	model.MetricSteps:           {dataTypeName: "com.google.step_count.delta", unit: "count", integral: true},
	model.MetricDistance:        {dataTypeName: "com.google.distance.delta", unit: "m"},
	model.MetricCaloriesBurned:  {dataTypeName: "com.google.calories.expended", unit: "kcal"},
	model.MetricActiveMinutes:   {dataTypeName: "com.google.active_minutes", unit: "min", integral: true},
	model.MetricHeartRate:       {dataTypeName: "com.google.heart_rate.bpm", unit: "bpm"},
	model.MetricWeight:          {dataTypeName: "com.google.weight", unit: "kg"},
	model.MetricHeight:          {dataTypeName: "com.google.height", unit: "m"},
	model.MetricBloodOxygen:     {dataTypeName: "com.google.oxygen_saturation", unit: "%"},
	model.MetricBodyTemperature: {dataTypeName: "com.google.body.temperature", unit: "C"},
	model.MetricWaterIntake:     {dataTypeName: "com.google.hydration", unit: "ml"},
}

// GoogleFitConnector fetches aggregated data from the Google Fit REST API
type GoogleFitConnector struct {
	session oauthSession
	baseURL string
	logger  *zap.Logger
}

// NewGoogleFitConnector creates an uninitialized Google Fit connector
func NewGoogleFitConnector(logger *zap.Logger) *GoogleFitConnector {
	return &GoogleFitConnector{logger: logger}
}

// Platform identifies this connector as Google Fit
func (c *GoogleFitConnector) Platform() model.SourcePlatform {
	return model.SourceGoogleFit
}

// Initialize configures OAuth settings and the API endpoint
func (c *GoogleFitConnector) Initialize(ctx context.Context, cfg config.PlatformConfig) error {
	if err := c.session.configure(cfg); err != nil {
		return fmt.Errorf("google fit: %w", err)
	}

	c.baseURL = cfg.APIBaseURL
	if c.baseURL == "" {
		c.baseURL = defaultGoogleFitBaseURL
	}

	c.logger.Info("google fit connector initialized", zap.String("base_url", c.baseURL))
	return nil
}

// AuthURL returns the Google consent page URL
func (c *GoogleFitConnector) AuthURL(state string) (string, error) {
	return c.session.authCodeURL(state)
}

// Authorize exchanges the authorization code for a token
func (c *GoogleFitConnector) Authorize(ctx context.Context, code string) error {
	if err := c.session.exchange(ctx, code); err != nil {
		return fmt.Errorf("google fit: %w", err)
	}
	c.logger.Info("google fit connector authorized")
	return nil
}

// IsAuthorized reports whether a usable token is held
func (c *GoogleFitConnector) IsAuthorized() bool {
	return c.session.authorized()
}

// RevokeAuthorization revokes the token with Google and clears local state
func (c *GoogleFitConnector) RevokeAuthorization(ctx context.Context) error {
	if err := c.session.revoke(ctx, "https://oauth2.googleapis.com/revoke"); err != nil {
		return fmt.Errorf("google fit: %w", err)
	}
	c.logger.Info("google fit authorization revoked")
	return nil
}

// SupportedMetrics lists metrics available through the aggregate API
func (c *GoogleFitConnector) SupportedMetrics() []model.MetricType {
	metrics := make([]model.MetricType, 0, len(googleFitSources))
	for _, m := range model.AllMetricTypes {
		if _, ok := googleFitSources[m]; ok {
			metrics = append(metrics, m)
		}
	}
	return metrics
}

// aggregateRequest is the dataset:aggregate request body
type aggregateRequest struct {
	AggregateBy     []aggregateBy `json:"aggregateBy"`
	BucketByTime    bucketByTime  `json:"bucketByTime"`
	StartTimeMillis int64         `json:"startTimeMillis"`
	EndTimeMillis   int64         `json:"endTimeMillis"`
}

type aggregateBy struct {
	DataTypeName string `json:"dataTypeName"`
}

type bucketByTime struct {
	DurationMillis int64 `json:"durationMillis"`
}

// aggregateResponse is the subset of the dataset:aggregate response we read
type aggregateResponse struct {
	Bucket []struct {
		StartTimeMillis string `json:"startTimeMillis"`
		Dataset         []struct {
			Point []struct {
				StartTimeNanos string `json:"startTimeNanos"`
				Value          []struct {
					IntVal int64   `json:"intVal"`
					FpVal  float64 `json:"fpVal"`
				} `json:"value"`
				OriginDataSourceID string `json:"originDataSourceId"`
			} `json:"point"`
		} `json:"dataset"`
	} `json:"bucket"`
}

// FetchData retrieves hourly aggregated values for one metric
func (c *GoogleFitConnector) FetchData(ctx context.Context, metric model.MetricType, from, to time.Time) ([]model.HealthDataPoint, error) {
	if !c.session.initialized() {
		return nil, ErrNotInitialized
	}

	source, ok := googleFitSources[metric]
	if !ok {
		return nil, fmt.Errorf("%w: google fit cannot provide %s", ErrUnsupportedMetric, metric)
	}

	client, err := c.session.client(ctx)
	if err != nil {
		return nil, err
	}

	reqBody := aggregateRequest{
		AggregateBy:     []aggregateBy{{DataTypeName: source.dataTypeName}},
		BucketByTime:    bucketByTime{DurationMillis: time.Hour.Milliseconds()},
		StartTimeMillis: from.UnixMilli(),
		EndTimeMillis:   to.UnixMilli(),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal aggregate request: %w", err)
	}

	url := fmt.Sprintf("%s/users/me/dataset:aggregate", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build aggregate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google fit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: google fit returned status %d", ErrNotAuthorized, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("google fit returned status %d: %s", resp.StatusCode, data)
	}

	var aggregate aggregateResponse
	if err := json.NewDecoder(resp.Body).Decode(&aggregate); err != nil {
		return nil, fmt.Errorf("failed to decode aggregate response: %w", err)
	}

	return c.toPoints(metric, source, aggregate), nil
}

func (c *GoogleFitConnector) toPoints(metric model.MetricType, source googleFitDataSource, aggregate aggregateResponse) []model.HealthDataPoint {
	var points []model.HealthDataPoint
	for _, bucket := range aggregate.Bucket {
		for _, dataset := range bucket.Dataset {
			for _, point := range dataset.Point {
				if len(point.Value) == 0 {
					continue
				}

				var nanos int64
				fmt.Sscanf(point.StartTimeNanos, "%d", &nanos)
				ts := time.Unix(0, nanos).UTC()

				value := point.Value[0].FpVal
				if source.integral {
					value = float64(point.Value[0].IntVal)
				}

				points = append(points, model.HealthDataPoint{
					ID:         pointID(model.SourceGoogleFit, metric, ts),
					Source:     model.SourceGoogleFit,
					DeviceID:   point.OriginDataSourceID,
					MetricType: metric,
					Timestamp:  ts,
					Value:      model.ScalarValue(value),
					Unit:       source.unit,
				})
			}
		}
	}

	c.logger.Debug("google fit fetch complete",
		zap.String("metric_type", string(metric)),
		zap.Int("points", len(points)),
	)

	return points
}
