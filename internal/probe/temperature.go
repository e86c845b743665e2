package probe

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"
)

// Sensor key substrings that identify CPU sensors.
// Linux:  coretemp_core_0_input, k10temp_tctl_input, acpitz_temp1_input, zenpower_tctl_input
// macOS:  TC0P (CPU proximity), TC0D (CPU die), TCXC (CPU core)
// Windows: CPU Package, CPU Core #0
var cpuSensorKeys = []string{
	"cpu", "core", "package",
	"tctl", "tdie", "k10temp", "coretemp",
	"tc0p", "tc0d", "tcxc",
	"acpitz", "zenpower",
}

// Readings outside (minValidTemp, maxValidTemp] °C are treated as sensor errors.
const (
	minValidTemp = 0.0
	maxValidTemp = 150.0
)

// TemperatureProbe reads the hottest CPU sensor. It yields a nil *float64
// when no sensor is found, which agents report as an absent temperature.
type TemperatureProbe struct {
	logger *zap.Logger
	read   func(ctx context.Context) ([]host.TemperatureStat, error)
}

// NewTemperatureProbe creates a temperature probe.
func NewTemperatureProbe(logger *zap.Logger) *TemperatureProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemperatureProbe{
		logger: logger,
		read:   host.SensorsTemperaturesWithContext,
	}
}

func (p *TemperatureProbe) Name() string { return NameTemperature }

// Collect never fails: missing sensors produce a nil reading.
func (p *TemperatureProbe) Collect(ctx context.Context) (interface{}, error) {
	temps, err := p.read(ctx)
	if err != nil {
		// gopsutil returns partial readings alongside warnings.
		p.logger.Debug("Temperature sensors reported an error", zap.Error(err))
	}

	var hottest float64
	found := false
	for _, t := range temps {
		if !isValidTemperature(t.Temperature) {
			continue
		}
		if !matchesSensor(strings.ToLower(t.SensorKey), cpuSensorKeys) {
			continue
		}
		if !found || t.Temperature > hottest {
			hottest = t.Temperature
			found = true
		}
	}

	if !found {
		p.logger.Debug("No CPU temperature sensor found")
		return (*float64)(nil), nil
	}
	return &hottest, nil
}

func (p *TemperatureProbe) IsAvailable() bool { return true }

func matchesSensor(name string, keys []string) bool {
	for _, key := range keys {
		if strings.Contains(name, key) {
			return true
		}
	}
	return false
}

func isValidTemperature(temp float64) bool {
	return temp > minValidTemp && temp <= maxValidTemp
}
