package model

import "time"

// SourcePlatform identifies the wearable platform a data point came from
type SourcePlatform string

const (
	SourceAppleHealth SourcePlatform = "apple_health"
	SourceGoogleFit   SourcePlatform = "google_fit"
	SourceFitbit      SourcePlatform = "fitbit"
)

// KnownPlatforms lists every platform a connector can be created for
var KnownPlatforms = []SourcePlatform{SourceAppleHealth, SourceGoogleFit, SourceFitbit}

// Valid reports whether the platform is one of the supported sources
func (p SourcePlatform) Valid() bool {
	switch p {
	case SourceAppleHealth, SourceGoogleFit, SourceFitbit:
		return true
	}
	return false
}

// MetricType identifies the kind of health observation a data point carries
type MetricType string

const (
	// Activity metrics
	MetricSteps          MetricType = "steps"
	MetricDistance       MetricType = "distance"
	MetricCaloriesBurned MetricType = "calories_burned"
	MetricActiveMinutes  MetricType = "active_minutes"
	MetricFlightsClimbed MetricType = "flights_climbed"

	// Vital metrics
	MetricHeartRate            MetricType = "heart_rate"
	MetricRestingHeartRate     MetricType = "resting_heart_rate"
	MetricHeartRateVariability MetricType = "heart_rate_variability"
	MetricBloodPressure        MetricType = "blood_pressure"
	MetricBloodOxygen          MetricType = "blood_oxygen"
	MetricRespiratoryRate      MetricType = "respiratory_rate"
	MetricBodyTemperature      MetricType = "body_temperature"

	// Sleep metrics
	MetricSleepDuration MetricType = "sleep_duration"
	MetricSleepQuality  MetricType = "sleep_quality"

	// Body metrics
	MetricWeight  MetricType = "weight"
	MetricHeight  MetricType = "height"
	MetricBMI     MetricType = "bmi"
	MetricBodyFat MetricType = "body_fat"

	// Nutrition metrics
	MetricWaterIntake       MetricType = "water_intake"
	MetricNutritionCalories MetricType = "nutrition_calories"
)

// AllMetricTypes lists every metric the sync pipeline understands
var AllMetricTypes = []MetricType{
	MetricSteps, MetricDistance, MetricCaloriesBurned, MetricActiveMinutes, MetricFlightsClimbed,
	MetricHeartRate, MetricRestingHeartRate, MetricHeartRateVariability, MetricBloodPressure,
	MetricBloodOxygen, MetricRespiratoryRate, MetricBodyTemperature,
	MetricSleepDuration, MetricSleepQuality,
	MetricWeight, MetricHeight, MetricBMI, MetricBodyFat,
	MetricWaterIntake, MetricNutritionCalories,
}

// BloodPressureValue is the structured value carried by blood pressure points
type BloodPressureValue struct {
	Systolic  float64 `json:"systolic"`
	Diastolic float64 `json:"diastolic"`
}

// Value holds either a numeric scalar or a structured measurement.
// Blood pressure is the only structured value today.
type Value struct {
	Scalar        float64             `json:"scalar"`
	BloodPressure *BloodPressureValue `json:"blood_pressure,omitempty"`
}

// IsScalar reports whether the value is a plain numeric measurement
func (v Value) IsScalar() bool {
	return v.BloodPressure == nil
}

// ScalarValue returns a Value wrapping a plain numeric measurement
func ScalarValue(f float64) Value {
	return Value{Scalar: f}
}

// HealthDataPoint is one observation fetched from a wearable platform.
// Points are created by a connector and immutable afterwards; the pipeline
// stages return transformed copies instead of mutating in place.
type HealthDataPoint struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Source      SourcePlatform    `json:"source"`
	DeviceID    string            `json:"device_id,omitempty"`
	MetricType  MetricType        `json:"metric_type"`
	Timestamp   time.Time         `json:"timestamp"`
	Value       Value             `json:"value"`
	Unit        string            `json:"unit"`
	SyncedAt    time.Time         `json:"synced_at"`
	ManualEntry bool              `json:"manual_entry"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SyncError records a failed connector fetch or backup failure during a pass.
// The failing (source, metric) pair is skipped; the pass continues.
type SyncError struct {
	Source     SourcePlatform `json:"source"`
	MetricType MetricType     `json:"metric_type,omitempty"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
}

// SyncWarning records a non-fatal per-point rejection or detected anomaly
type SyncWarning struct {
	Source     SourcePlatform `json:"source"`
	MetricType MetricType     `json:"metric_type,omitempty"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
}

// SyncStats aggregates the outcome of one sync pass
type SyncStats struct {
	TotalSynced        int                `json:"total_synced"`
	SyncedByMetricType map[MetricType]int `json:"synced_by_metric_type"`
	Errors             []SyncError        `json:"errors"`
	Warnings           []SyncWarning      `json:"warnings"`
	AnomaliesDetected  int                `json:"anomalies_detected"`
}

// SyncStatus is the transient per-cycle state reported to callers.
// It is recomputed on every pass and never persisted.
type SyncStatus struct {
	Running          bool             `json:"running"`
	Syncing          bool             `json:"syncing"`
	LastSyncTime     *time.Time       `json:"last_sync_time,omitempty"`
	NextSyncTime     *time.Time       `json:"next_sync_time,omitempty"`
	ConnectedSources []SourcePlatform `json:"connected_sources"`
	LastSyncStats    SyncStats        `json:"last_sync_stats"`
}

// BackupInfo describes one stored backup snapshot
type BackupInfo struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	SizeBytes   int64     `json:"size_bytes"`
	Incremental bool      `json:"incremental"`
	Encrypted   bool      `json:"encrypted"`
}

// LogLevel orders sync log entries by severity
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one structured diagnostic record kept by the sync log
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     LogLevel          `json:"level"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}
