// Package battery gates scheduled sync passes on device battery state.
package battery

import (
	"sync"

	"github.com/pulseloop/wearsync/internal/config"
	"go.uber.org/zap"
)

// Provider reports the current battery state. The production implementation
// reads the platform battery API; tests use the simulated provider.
type Provider interface {
	Level() int // percentage 0-100
	Charging() bool
}

// SimulatedProvider is a deterministic Provider for tests and environments
// without a battery API.
type SimulatedProvider struct {
	mu       sync.RWMutex
	level    int
	charging bool
}

// NewSimulatedProvider creates a provider starting at the given state
func NewSimulatedProvider(level int, charging bool) *SimulatedProvider {
	return &SimulatedProvider{level: level, charging: charging}
}

// Level returns the simulated battery percentage
func (p *SimulatedProvider) Level() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.level
}

// Charging returns the simulated charging flag
func (p *SimulatedProvider) Charging() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.charging
}

// Set updates the simulated state
func (p *SimulatedProvider) Set(level int, charging bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = level
	p.charging = charging
}

// Optimizer decides whether a scheduled sync pass is allowed to run.
// Manual syncs bypass the optimizer entirely.
type Optimizer struct {
	provider Provider
	cfg      *config.Manager
	logger   *zap.Logger
}

// NewOptimizer creates an Optimizer reading policy from the config manager
func NewOptimizer(provider Provider, cfg *config.Manager, logger *zap.Logger) *Optimizer {
	return &Optimizer{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
	}
}

// floors maps each optimization level to the minimum battery percentage
// required for a scheduled sync while discharging.
var floors = map[config.BatteryOptimization]int{
	config.BatteryOptimizationLow:    15,
	config.BatteryOptimizationMedium: 25,
	config.BatteryOptimizationHigh:   40,
}

// CanSync reports whether the current battery state permits a scheduled sync
func (o *Optimizer) CanSync() bool {
	level := o.cfg.Snapshot().BatteryOptimization
	if level == config.BatteryOptimizationNone {
		return true
	}

	if o.provider.Charging() {
		return true
	}

	floor, ok := floors[level]
	if !ok {
		// Unknown level, fail open rather than silently blocking syncs
		o.logger.Warn("unknown battery optimization level, allowing sync",
			zap.String("level", string(level)),
		)
		return true
	}

	pct := o.provider.Level()
	allowed := pct > floor
	if !allowed {
		o.logger.Debug("sync blocked by battery policy",
			zap.Int("battery_percent", pct),
			zap.Int("floor", floor),
			zap.String("level", string(level)),
		)
	}
	return allowed
}
