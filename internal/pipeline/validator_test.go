package pipeline

import (
	"testing"
	"time"

	"github.com/pulseloop/wearsync/pkg/model"
	"github.com/stretchr/testify/assert"
)

func testPoint(metric model.MetricType, value float64, unit string) model.HealthDataPoint {
	now := time.Now()
	return model.HealthDataPoint{
		ID:         "point-1",
		UserID:     "user-123",
		Source:     model.SourceFitbit,
		MetricType: metric,
		Timestamp:  now.Add(-time.Hour),
		Value:      model.ScalarValue(value),
		Unit:       unit,
		SyncedAt:   now,
	}
}

func bloodPressurePoint(systolic, diastolic float64) model.HealthDataPoint {
	p := testPoint(model.MetricBloodPressure, 0, "mmHg")
	p.Value = model.Value{BloodPressure: &model.BloodPressureValue{
		Systolic:  systolic,
		Diastolic: diastolic,
	}}
	return p
}

func TestValidate_StructuralErrors(t *testing.T) {
	v := NewValidator()
	now := time.Now()

	tests := []struct {
		name        string
		mutate      func(*model.HealthDataPoint)
		expectedErr string
	}{
		{"missing id", func(p *model.HealthDataPoint) { p.ID = "" }, "point id is required"},
		{"missing user id", func(p *model.HealthDataPoint) { p.UserID = "" }, "user id is required"},
		{"unknown source", func(p *model.HealthDataPoint) { p.Source = "garmin" }, "unknown source platform"},
		{"missing metric type", func(p *model.HealthDataPoint) { p.MetricType = "" }, "metric type is required"},
		{"zero timestamp", func(p *model.HealthDataPoint) { p.Timestamp = time.Time{} }, "observation timestamp is required"},
		{"future timestamp", func(p *model.HealthDataPoint) {
			p.Timestamp = now.Add(2 * time.Hour)
			p.SyncedAt = now.Add(3 * time.Hour)
		}, "observation timestamp is in the future"},
		{"sync before observation", func(p *model.HealthDataPoint) {
			p.SyncedAt = p.Timestamp.Add(-time.Minute)
		}, "sync timestamp precedes observation timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPoint(model.MetricSteps, 1000, "count")
			tt.mutate(&p)

			err := v.Validate(p)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestValidate_HeartRateRange(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.Validate(testPoint(model.MetricHeartRate, 80, "bpm")))

	err := v.Validate(testPoint(model.MetricHeartRate, 250, "bpm"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid heart rate value")

	err = v.Validate(testPoint(model.MetricHeartRate, 20, "bpm"))
	assert.Error(t, err)
}

func TestValidate_BloodPressure(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.Validate(bloodPressurePoint(110, 70)))

	// Systolic must exceed diastolic
	err := v.Validate(bloodPressurePoint(60, 70))
	assert.Error(t, err)

	err = v.Validate(bloodPressurePoint(120, 155))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid diastolic value")

	// Scalar value where a structured one is required
	p := testPoint(model.MetricBloodPressure, 120, "mmHg")
	err = v.Validate(p)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "structured value")
}

func TestValidate_BoundaryValues(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name  string
		point model.HealthDataPoint
		valid bool
	}{
		{"steps at zero", testPoint(model.MetricSteps, 0, "count"), true},
		{"steps at upper bound", testPoint(model.MetricSteps, 100000, "count"), true},
		{"steps above upper bound", testPoint(model.MetricSteps, 100001, "count"), false},
		{"heart rate at lower bound", testPoint(model.MetricHeartRate, 30, "bpm"), true},
		{"heart rate at upper bound", testPoint(model.MetricHeartRate, 220, "bpm"), true},
		{"weight zero is invalid", testPoint(model.MetricWeight, 0, "kg"), false},
		{"weight at 499", testPoint(model.MetricWeight, 499, "kg"), true},
		{"weight at 500 is invalid", testPoint(model.MetricWeight, 500, "kg"), false},
		{"sleep at full day", testPoint(model.MetricSleepDuration, 1440, "min"), true},
		{"sleep beyond full day", testPoint(model.MetricSleepDuration, 1441, "min"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.point)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidator_PluggableRules(t *testing.T) {
	v := NewValidator()

	// Clearing removes the default rule
	v.Clear(model.MetricHeartRate)
	assert.NoError(t, v.Validate(testPoint(model.MetricHeartRate, 500, "bpm")))

	// Custom rules stack in registration order
	v.Register(model.MetricHeartRate, scalarRange("heart rate", 50, 100))
	assert.Error(t, v.Validate(testPoint(model.MetricHeartRate, 40, "bpm")))
	assert.NoError(t, v.Validate(testPoint(model.MetricHeartRate, 60, "bpm")))

	// Reset restores the defaults
	v.ResetDefaults()
	assert.NoError(t, v.Validate(testPoint(model.MetricHeartRate, 40, "bpm")))
	assert.Error(t, v.Validate(testPoint(model.MetricHeartRate, 250, "bpm")))
}
