// Package pipeline implements the per-point processing stages a sync pass
// runs fetched data through: validation, unit normalization, and anomaly
// detection. Stages never mutate the input point; transforming stages return
// a copy. A stage rejecting a point is a warning at the sync layer, never a
// hard failure that aborts the batch.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/pulseloop/wearsync/pkg/model"
)

// ValidationRule checks one metric-specific constraint on a point
type ValidationRule func(p model.HealthDataPoint) error

// Validator runs a two-phase check per point: structural integrity first,
// then the registered metric-specific rules.
type Validator struct {
	mu    sync.RWMutex
	rules map[model.MetricType][]ValidationRule
	clock func() time.Time
}

// NewValidator creates a Validator with the default metric rules registered
func NewValidator() *Validator {
	v := &Validator{clock: time.Now}
	v.ResetDefaults()
	return v
}

// WithClock injects a deterministic clock for tests
func (v *Validator) WithClock(clock func() time.Time) *Validator {
	v.clock = clock
	return v
}

// Register appends a rule for the metric. Rules run in registration order.
func (v *Validator) Register(metric model.MetricType, rule ValidationRule) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules[metric] = append(v.rules[metric], rule)
}

// Clear removes all rules for the metric
func (v *Validator) Clear(metric model.MetricType) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.rules, metric)
}

// ResetDefaults restores the built-in rule set
func (v *Validator) ResetDefaults() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules = defaultValidationRules()
}

// Validate checks the point structurally and against the metric rules.
// A nil return means the point is acceptable for normalization.
func (v *Validator) Validate(p model.HealthDataPoint) error {
	if err := v.validateStructure(p); err != nil {
		return err
	}

	v.mu.RLock()
	rules := v.rules[p.MetricType]
	v.mu.RUnlock()

	for _, rule := range rules {
		if err := rule(p); err != nil {
			return err
		}
	}
	return nil
}

// validateStructure checks required fields and timestamp ordering
func (v *Validator) validateStructure(p model.HealthDataPoint) error {
	if p.ID == "" {
		return fmt.Errorf("point id is required")
	}
	if p.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if !p.Source.Valid() {
		return fmt.Errorf("unknown source platform: %s", p.Source)
	}
	if p.MetricType == "" {
		return fmt.Errorf("metric type is required")
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("observation timestamp is required")
	}
	if p.Timestamp.After(v.clock()) {
		return fmt.Errorf("observation timestamp is in the future")
	}
	if p.SyncedAt.IsZero() {
		return fmt.Errorf("sync timestamp is required")
	}
	// A point cannot be synced before it was observed
	if p.SyncedAt.Before(p.Timestamp) {
		return fmt.Errorf("sync timestamp precedes observation timestamp")
	}
	return nil
}

// scalarRange builds a rule that requires a scalar value within [min, max]
func scalarRange(name string, min, max float64) ValidationRule {
	return func(p model.HealthDataPoint) error {
		if !p.Value.IsScalar() {
			return fmt.Errorf("%s requires a numeric value", name)
		}
		v := p.Value.Scalar
		if v < min || v > max {
			return fmt.Errorf("invalid %s value: must be between %g and %g, got %g", name, min, max, v)
		}
		return nil
	}
}

func defaultValidationRules() map[model.MetricType][]ValidationRule {
	return map[model.MetricType][]ValidationRule{
		model.MetricSteps:          {scalarRange("steps", 0, 100000)},
		model.MetricDistance:       {nonNegative("distance")},
		model.MetricCaloriesBurned: {scalarRange("calories burned", 0, 20000)},
		model.MetricActiveMinutes:  {scalarRange("active minutes", 0, 1440)},
		model.MetricFlightsClimbed: {scalarRange("flights climbed", 0, 500)},

		model.MetricHeartRate:            {scalarRange("heart rate", 30, 220)},
		model.MetricRestingHeartRate:     {scalarRange("resting heart rate", 30, 150)},
		model.MetricHeartRateVariability: {scalarRange("heart rate variability", 0, 500)},
		model.MetricBloodPressure:        {validateBloodPressure},
		model.MetricBloodOxygen:          {scalarRange("blood oxygen", 70, 100)},
		model.MetricRespiratoryRate:      {scalarRange("respiratory rate", 4, 60)},
		model.MetricBodyTemperature:      {scalarRange("body temperature", 30, 45)},

		model.MetricSleepDuration: {scalarRange("sleep duration", 0, 1440)},
		model.MetricSleepQuality:  {scalarRange("sleep quality", 0, 100)},

		model.MetricWeight:  {positiveBelow("weight", 500)},
		model.MetricHeight:  {positiveBelow("height", 300)},
		model.MetricBMI:     {scalarRange("bmi", 10, 80)},
		model.MetricBodyFat: {scalarRange("body fat", 1, 75)},

		model.MetricWaterIntake:       {scalarRange("water intake", 0, 10000)},
		model.MetricNutritionCalories: {scalarRange("nutrition calories", 0, 20000)},
	}
}

// nonNegative only rejects negative scalars. Distance arrives in
// source-specific units, so an upper bound is only meaningful after
// normalization.
func nonNegative(name string) ValidationRule {
	return func(p model.HealthDataPoint) error {
		if !p.Value.IsScalar() {
			return fmt.Errorf("%s requires a numeric value", name)
		}
		if p.Value.Scalar < 0 {
			return fmt.Errorf("invalid %s value: must not be negative, got %g", name, p.Value.Scalar)
		}
		return nil
	}
}

// positiveBelow requires a scalar in the open interval (0, max)
func positiveBelow(name string, max float64) ValidationRule {
	return func(p model.HealthDataPoint) error {
		if !p.Value.IsScalar() {
			return fmt.Errorf("%s requires a numeric value", name)
		}
		v := p.Value.Scalar
		if v <= 0 || v >= max {
			return fmt.Errorf("invalid %s value: must be between 0 and %g exclusive, got %g", name, max, v)
		}
		return nil
	}
}

// validateBloodPressure checks the structured blood pressure value
func validateBloodPressure(p model.HealthDataPoint) error {
	bp := p.Value.BloodPressure
	if bp == nil {
		return fmt.Errorf("blood pressure requires a structured value")
	}
	if bp.Systolic < 70 || bp.Systolic > 250 {
		return fmt.Errorf("invalid systolic value: must be between 70 and 250, got %g", bp.Systolic)
	}
	if bp.Diastolic < 40 || bp.Diastolic > 150 {
		return fmt.Errorf("invalid diastolic value: must be between 40 and 150, got %g", bp.Diastolic)
	}
	if bp.Systolic <= bp.Diastolic {
		return fmt.Errorf("systolic must be greater than diastolic, got %g/%g", bp.Systolic, bp.Diastolic)
	}
	return nil
}
