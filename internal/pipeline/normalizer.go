package pipeline

import (
	"sync"

	"github.com/pulseloop/wearsync/pkg/model"
)

// UnitConversion rewrites a value from one unit into another. It fires only
// when the point's current unit exactly matches FromUnit.
type UnitConversion struct {
	FromUnit string
	ToUnit   string
	Factor   float64
}

// ValueTransform adjusts an already-converted value. Scale multiplies,
// Offset adds, Custom applies a supplied pure function; they run in that
// order when more than one is set.
type ValueTransform struct {
	Scale  *float64
	Offset *float64
	Custom func(float64) float64
}

// NormalizationRule is one declarative normalization step for a metric type.
// Conversion is applied before Transform. A rule carrying a Conversion that
// does not match the point's unit is skipped entirely, so already-canonical
// points pass through unchanged.
type NormalizationRule struct {
	Conversion *UnitConversion
	Transform  *ValueTransform
}

// Normalizer converts heterogeneous source units into canonical units by
// applying registered rules in registration order.
type Normalizer struct {
	mu    sync.RWMutex
	rules map[model.MetricType][]NormalizationRule
}

// NewNormalizer creates a Normalizer with the default rule set registered
func NewNormalizer() *Normalizer {
	n := &Normalizer{}
	n.ResetDefaults()
	return n
}

// Register appends a rule for the metric. Rules are additive and applied in
// registration order.
func (n *Normalizer) Register(metric model.MetricType, rule NormalizationRule) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rules[metric] = append(n.rules[metric], rule)
}

// Clear removes all rules for the metric
func (n *Normalizer) Clear(metric model.MetricType) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.rules, metric)
}

// ResetDefaults restores the built-in rule set
func (n *Normalizer) ResetDefaults() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rules = defaultNormalizationRules()
}

// Apply returns a normalized copy of the point. Structured values are
// passed through untouched; normalization only applies to scalars.
func (n *Normalizer) Apply(p model.HealthDataPoint) model.HealthDataPoint {
	if !p.Value.IsScalar() {
		return p
	}

	n.mu.RLock()
	rules := n.rules[p.MetricType]
	n.mu.RUnlock()

	out := p
	for _, rule := range rules {
		value := out.Value.Scalar

		if rule.Conversion != nil {
			if out.Unit != rule.Conversion.FromUnit {
				// The rule targets points in FromUnit; skip it wholesale
				continue
			}
			value *= rule.Conversion.Factor
			out.Unit = rule.Conversion.ToUnit
		}

		if rule.Transform != nil {
			if rule.Transform.Scale != nil {
				value *= *rule.Transform.Scale
			}
			if rule.Transform.Offset != nil {
				value += *rule.Transform.Offset
			}
			if rule.Transform.Custom != nil {
				value = rule.Transform.Custom(value)
			}
		}

		out.Value = model.ScalarValue(value)
	}
	return out
}

func defaultNormalizationRules() map[model.MetricType][]NormalizationRule {
	fahrenheitOffset := -32.0 * 5.0 / 9.0

	return map[model.MetricType][]NormalizationRule{
		model.MetricDistance: {
			{Conversion: &UnitConversion{FromUnit: "km", ToUnit: "m", Factor: 1000}},
			{Conversion: &UnitConversion{FromUnit: "mi", ToUnit: "m", Factor: 1609.34}},
			{Conversion: &UnitConversion{FromUnit: "ft", ToUnit: "m", Factor: 0.3048}},
		},
		model.MetricWeight: {
			{Conversion: &UnitConversion{FromUnit: "lb", ToUnit: "kg", Factor: 0.453592}},
		},
		// (F - 32) * 5/9, expressed as conversion scale then offset
		model.MetricBodyTemperature: {
			{
				Conversion: &UnitConversion{FromUnit: "F", ToUnit: "C", Factor: 5.0 / 9.0},
				Transform:  &ValueTransform{Offset: &fahrenheitOffset},
			},
		},
	}
}
