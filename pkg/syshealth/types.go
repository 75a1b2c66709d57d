package syshealth

import "time"

// HealthZone is the pressure band a health score falls in.
type HealthZone string

const (
	// HealthZoneCritical covers scores 0-33.
	HealthZoneCritical HealthZone = "critical"
	// HealthZoneWarning covers scores 34-66.
	HealthZoneWarning HealthZone = "warning"
	// HealthZoneSafe covers scores 67-100.
	HealthZoneSafe HealthZone = "safe"
)

// HealthMetrics is one snapshot of host pressure.
type HealthMetrics struct {
	// Score is 0-100, higher is healthier.
	Score int        `json:"score"`
	Zone  HealthZone `json:"zone"`

	// CPULoadAvg is the 1-minute load average.
	CPULoadAvg    float64 `json:"cpuLoadAvg"`
	IOWaitPercent float64 `json:"ioWaitPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
	// DBPoolPercent is zero when no database is configured.
	DBPoolPercent float64 `json:"dbPoolPercent"`

	Timestamp time.Time `json:"timestamp,omitzero"`
	// Stale is set when the snapshot is older than the staleness threshold.
	Stale bool `json:"stale"`
}

// Monitor samples host pressure in the background.
type Monitor interface {
	Start() error
	Stop() error
	// GetHealth returns a copy of the latest snapshot.
	GetHealth() *HealthMetrics
}

// PoolUsage reports connection pool utilization as a percentage.
type PoolUsage func() float64
