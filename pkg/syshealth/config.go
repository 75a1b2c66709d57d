package syshealth

import "time"

// Config holds thresholds for the host monitor.
type Config struct {
	// CollectionInterval is how often to sample (default: 30s).
	CollectionInterval time.Duration

	IOWaitCriticalPercent float64
	IOWaitWarningPercent  float64
	// CPU load thresholds are multiples of the core count.
	CPULoadCriticalFactor float64
	CPULoadWarningFactor  float64
	MemoryCriticalPercent float64
	MemoryWarningPercent  float64
	DBPoolCriticalPercent float64
	DBPoolWarningPercent  float64

	// StalenessThreshold marks snapshots older than this as stale (default: 2m).
	StalenessThreshold time.Duration

	// CollectionTimeout bounds a single sample (default: 5s).
	CollectionTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		CollectionInterval:    30 * time.Second,
		IOWaitCriticalPercent: 40.0,
		IOWaitWarningPercent:  30.0,
		CPULoadCriticalFactor: 3.0,
		CPULoadWarningFactor:  2.0,
		MemoryCriticalPercent: 95.0,
		MemoryWarningPercent:  85.0,
		DBPoolCriticalPercent: 90.0,
		DBPoolWarningPercent:  75.0,
		StalenessThreshold:    2 * time.Minute,
		CollectionTimeout:     5 * time.Second,
	}
}
