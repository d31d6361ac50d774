package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pulseloop/wearsync/internal/config"
	"github.com/pulseloop/wearsync/pkg/model"
)

const defaultFitbitBaseURL = "https://api.fitbit.com"

// fitbitResource maps a metric to a Fitbit time series resource path.
// Fitbit reports distance in kilometers and weight in the account unit
// system; we request metric units via the Accept-Language header.
type fitbitResource struct {
	path string
	unit string
}

var fitbitResources = map[model.MetricType]fitbitResource{
	model.MetricSteps:            {path: "activities/steps", unit: "count"},
	model.MetricDistance:         {path: "activities/distance", unit: "km"},
	model.MetricCaloriesBurned:   {path: "activities/calories", unit: "kcal"},
	model.MetricActiveMinutes:    {path: "activities/minutesVeryActive", unit: "min"},
	model.MetricFlightsClimbed:   {path: "activities/floors", unit: "count"},
	model.MetricRestingHeartRate: {path: "activities/heart", unit: "bpm"},
	model.MetricWeight:           {path: "body/weight", unit: "kg"},
	model.MetricBMI:              {path: "body/bmi", unit: "kg/m2"},
	model.MetricBodyFat:          {path: "body/fat", unit: "%"},
	model.MetricSleepDuration:    {path: "sleep/minutesAsleep", unit: "min"},
	model.MetricWaterIntake:      {path: "foods/log/water", unit: "ml"},
}

// FitbitConnector fetches daily time series from the Fitbit Web API
type FitbitConnector struct {
	session oauthSession
	baseURL string
	logger  *zap.Logger
}

// NewFitbitConnector creates an uninitialized Fitbit connector
func NewFitbitConnector(logger *zap.Logger) *FitbitConnector {
	return &FitbitConnector{logger: logger}
}

// Platform identifies this connector as Fitbit
func (c *FitbitConnector) Platform() model.SourcePlatform {
	return model.SourceFitbit
}

// Initialize configures OAuth settings and the API endpoint
func (c *FitbitConnector) Initialize(ctx context.Context, cfg config.PlatformConfig) error {
	if err := c.session.configure(cfg); err != nil {
		return fmt.Errorf("fitbit: %w", err)
	}

	c.baseURL = cfg.APIBaseURL
	if c.baseURL == "" {
		c.baseURL = defaultFitbitBaseURL
	}

	c.logger.Info("fitbit connector initialized", zap.String("base_url", c.baseURL))
	return nil
}

// AuthURL returns the Fitbit consent page URL
func (c *FitbitConnector) AuthURL(state string) (string, error) {
	return c.session.authCodeURL(state)
}

// Authorize exchanges the authorization code for a token
func (c *FitbitConnector) Authorize(ctx context.Context, code string) error {
	if err := c.session.exchange(ctx, code); err != nil {
		return fmt.Errorf("fitbit: %w", err)
	}
	c.logger.Info("fitbit connector authorized")
	return nil
}

// IsAuthorized reports whether a usable token is held
func (c *FitbitConnector) IsAuthorized() bool {
	return c.session.authorized()
}

// RevokeAuthorization revokes the token with Fitbit and clears local state
func (c *FitbitConnector) RevokeAuthorization(ctx context.Context) error {
	revokeURL := ""
	if c.baseURL != "" {
		revokeURL = c.baseURL + "/oauth2/revoke"
	}
	if err := c.session.revoke(ctx, revokeURL); err != nil {
		return fmt.Errorf("fitbit: %w", err)
	}
	c.logger.Info("fitbit authorization revoked")
	return nil
}

// SupportedMetrics lists metrics available as Fitbit time series
func (c *FitbitConnector) SupportedMetrics() []model.MetricType {
	metrics := make([]model.MetricType, 0, len(fitbitResources))
	for _, m := range model.AllMetricTypes {
		if _, ok := fitbitResources[m]; ok {
			metrics = append(metrics, m)
		}
	}
	return metrics
}

// seriesEntry is one day in a Fitbit time series response. Values arrive as
// strings; the heart series nests the resting rate in an object instead.
type seriesEntry struct {
	DateTime string          `json:"dateTime"`
	Value    json.RawMessage `json:"value"`
}

type heartSeriesValue struct {
	RestingHeartRate float64 `json:"restingHeartRate"`
}

// FetchData retrieves one value per day for the requested metric
func (c *FitbitConnector) FetchData(ctx context.Context, metric model.MetricType, from, to time.Time) ([]model.HealthDataPoint, error) {
	if !c.session.initialized() {
		return nil, ErrNotInitialized
	}

	resource, ok := fitbitResources[metric]
	if !ok {
		return nil, fmt.Errorf("%w: fitbit cannot provide %s", ErrUnsupportedMetric, metric)
	}

	client, err := c.session.client(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/1/user/-/%s/date/%s/%s.json",
		c.baseURL, resource.path, from.Format("2006-01-02"), to.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build time series request: %w", err)
	}
	// metric units
	req.Header.Set("Accept-Language", "en_GB")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fitbit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: fitbit returned status %d", ErrNotAuthorized, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fitbit returned status %d: %s", resp.StatusCode, data)
	}

	// the series key mirrors the resource path, e.g. "activities-steps"
	seriesKey := strings.ReplaceAll(resource.path, "/", "-")

	var payload map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode time series response: %w", err)
	}

	rawSeries, ok := payload[seriesKey]
	if !ok {
		return nil, fmt.Errorf("fitbit response missing series %q", seriesKey)
	}

	var entries []seriesEntry
	if err := json.Unmarshal(rawSeries, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode series %q: %w", seriesKey, err)
	}

	return c.toPoints(metric, resource, entries)
}

func (c *FitbitConnector) toPoints(metric model.MetricType, resource fitbitResource, entries []seriesEntry) ([]model.HealthDataPoint, error) {
	var points []model.HealthDataPoint
	for _, entry := range entries {
		ts, err := time.Parse("2006-01-02", entry.DateTime)
		if err != nil {
			c.logger.Warn("skipping series entry with bad date",
				zap.String("date", entry.DateTime),
				zap.Error(err),
			)
			continue
		}

		value, err := parseSeriesValue(metric, entry.Value)
		if err != nil {
			c.logger.Warn("skipping series entry with bad value",
				zap.String("metric_type", string(metric)),
				zap.String("date", entry.DateTime),
				zap.Error(err),
			)
			continue
		}

		points = append(points, model.HealthDataPoint{
			ID:         pointID(model.SourceFitbit, metric, ts),
			Source:     model.SourceFitbit,
			MetricType: metric,
			Timestamp:  ts.UTC(),
			Value:      model.ScalarValue(value),
			Unit:       resource.unit,
		})
	}

	c.logger.Debug("fitbit fetch complete",
		zap.String("metric_type", string(metric)),
		zap.Int("points", len(points)),
	)

	return points, nil
}

func parseSeriesValue(metric model.MetricType, raw json.RawMessage) (float64, error) {
	if metric == model.MetricRestingHeartRate {
		var heart heartSeriesValue
		if err := json.Unmarshal(raw, &heart); err != nil {
			return 0, err
		}
		return heart.RestingHeartRate, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strconv.ParseFloat(asString, 64)
	}

	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err != nil {
		return 0, err
	}
	return asNumber, nil
}
