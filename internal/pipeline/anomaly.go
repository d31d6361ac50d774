package pipeline

import (
	"fmt"
	"math"
	"sync"

	"github.com/pulseloop/wearsync/pkg/model"
)

const (
	// historyWindow bounds the rolling per-metric history
	historyWindow = 100
	// minHistory is the number of observations required before the
	// statistical check can judge a new point
	minHistory = 10
)

// ExpectedRange is a hard physiological bound checked independently of
// history. Values outside it are flagged immediately.
type ExpectedRange struct {
	Min float64
	Max float64
}

// AnomalyDetector flags statistically outlying points using a z-score
// against a rolling per-metric history.
type AnomalyDetector struct {
	mu        sync.Mutex
	history   map[model.MetricType][]float64
	ranges    map[model.MetricType]ExpectedRange
	threshold float64
}

// NewAnomalyDetector creates a detector with the given z-score threshold
// and the default expected ranges registered.
func NewAnomalyDetector(threshold float64) *AnomalyDetector {
	if threshold <= 0 {
		threshold = 3.0
	}
	return &AnomalyDetector{
		history:   make(map[model.MetricType][]float64),
		ranges:    defaultExpectedRanges(),
		threshold: threshold,
	}
}

func defaultExpectedRanges() map[model.MetricType]ExpectedRange {
	return map[model.MetricType]ExpectedRange{
		model.MetricHeartRate:       {Min: 30, Max: 220},
		model.MetricBloodOxygen:     {Min: 70, Max: 100},
		model.MetricBodyTemperature: {Min: 30, Max: 45},
	}
}

// SetThreshold adjusts the z-score threshold at runtime
func (d *AnomalyDetector) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold = threshold
}

// RegisterRange sets a hard expected range for a metric
func (d *AnomalyDetector) RegisterRange(metric model.MetricType, min, max float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ranges[metric] = ExpectedRange{Min: min, Max: max}
}

// ClearHistory drops the rolling history for one metric
func (d *AnomalyDetector) ClearHistory(metric model.MetricType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, metric)
}

// ClearAllHistory drops the rolling history for every metric
func (d *AnomalyDetector) ClearAllHistory() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = make(map[model.MetricType][]float64)
}

// Check decides whether the point is anomalous. Structured values bypass
// detection entirely. Points violating a hard expected range are flagged
// without entering the history; all other points are appended to the
// history after the decision.
func (d *AnomalyDetector) Check(p model.HealthDataPoint) (bool, string) {
	if !p.Value.IsScalar() {
		return false, ""
	}
	value := p.Value.Scalar

	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.ranges[p.MetricType]; ok {
		if value < r.Min || value > r.Max {
			return true, fmt.Sprintf("value %g outside expected range [%g, %g]", value, r.Min, r.Max)
		}
	}

	hist := d.history[p.MetricType]
	if len(hist) < minHistory {
		// Not enough history to judge yet
		d.appendLocked(p.MetricType, value)
		return false, ""
	}

	mean, stddev := meanStddev(hist)
	flagged := false
	reason := ""
	if stddev == 0 {
		flagged = value != mean
		if flagged {
			reason = fmt.Sprintf("value %g deviates from constant history %g", value, mean)
		}
	} else {
		z := math.Abs(value-mean) / stddev
		if z > d.threshold {
			flagged = true
			reason = fmt.Sprintf("z-score %.2f exceeds threshold %.2f", z, d.threshold)
		}
	}

	d.appendLocked(p.MetricType, value)
	return flagged, reason
}

// appendLocked adds the value and trims the window. Caller holds d.mu.
func (d *AnomalyDetector) appendLocked(metric model.MetricType, value float64) {
	hist := append(d.history[metric], value)
	if len(hist) > historyWindow {
		hist = hist[len(hist)-historyWindow:]
	}
	d.history[metric] = hist
}

// meanStddev returns the mean and population standard deviation
func meanStddev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		diff := v - mean
		sq += diff * diff
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
