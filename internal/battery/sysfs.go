package battery

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const sysfsPowerSupplyDir = "/sys/class/power_supply"

// SysfsProvider reads battery state from the Linux power supply class.
// Reads happen on every call so the reported state tracks the hardware.
type SysfsProvider struct {
	dir    string
	logger *zap.Logger
}

// NewSysfsProvider finds the first battery under /sys/class/power_supply.
// It returns an error when the host has no readable battery, in which case
// callers should fall back to a simulated provider.
func NewSysfsProvider(logger *zap.Logger) (*SysfsProvider, error) {
	entries, err := os.ReadDir(sysfsPowerSupplyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read power supply directory: %w", err)
	}

	for _, entry := range entries {
		dir := filepath.Join(sysfsPowerSupplyDir, entry.Name())
		kind, err := os.ReadFile(filepath.Join(dir, "type"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(kind)) != "Battery" {
			continue
		}
		if _, err := os.ReadFile(filepath.Join(dir, "capacity")); err != nil {
			continue
		}

		logger.Info("using sysfs battery provider", zap.String("battery", entry.Name()))
		return &SysfsProvider{dir: dir, logger: logger}, nil
	}

	return nil, fmt.Errorf("no readable battery under %s", sysfsPowerSupplyDir)
}

// Level returns the current battery percentage. Read failures report a full
// battery so sync scheduling fails open.
func (p *SysfsProvider) Level() int {
	data, err := os.ReadFile(filepath.Join(p.dir, "capacity"))
	if err != nil {
		p.logger.Warn("failed to read battery capacity", zap.Error(err))
		return 100
	}

	level, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || level < 0 || level > 100 {
		p.logger.Warn("unexpected battery capacity value", zap.String("raw", strings.TrimSpace(string(data))))
		return 100
	}
	return level
}

// Charging reports whether the battery is charging or already full
func (p *SysfsProvider) Charging() bool {
	data, err := os.ReadFile(filepath.Join(p.dir, "status"))
	if err != nil {
		return false
	}

	switch strings.TrimSpace(string(data)) {
	case "Charging", "Full":
		return true
	default:
		return false
	}
}

var _ Provider = (*SysfsProvider)(nil)
