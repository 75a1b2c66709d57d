package syshealth

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/emergent-company/pilgrimops/pkg/logger"
)

type sysHealthMonitor struct {
	cfg      *Config
	poolUsed PoolUsage
	log      *slog.Logger
	metrics  *HealthMetrics
	mu       sync.RWMutex

	ticker  *time.Ticker
	stopCh  chan struct{}
	done    chan struct{}
	running bool

	lastCPUTimes   *cpu.TimesStat
	consecFailures int

	// Replaced in tests
	getLoadAvg  func(context.Context) (*load.AvgStat, error)
	getCPUTimes func(context.Context, bool) ([]cpu.TimesStat, error)
	getMemStats func(context.Context) (*mem.VirtualMemoryStat, error)
	getCPUCores func() int
}

// NewMonitor creates a host monitor. cfg may be nil for defaults and
// poolUsed may be nil when no database is configured.
func NewMonitor(cfg *Config, poolUsed PoolUsage, log *slog.Logger) Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &sysHealthMonitor{
		cfg:      cfg,
		poolUsed: poolUsed,
		log:      log.With(logger.Scope("syshealth.monitor")),
		metrics: &HealthMetrics{
			Score: 100,
			Zone:  HealthZoneSafe,
		},
		getLoadAvg:  load.AvgWithContext,
		getCPUTimes: cpu.TimesWithContext,
		getMemStats: mem.VirtualMemoryWithContext,
		getCPUCores: runtime.NumCPU,
	}
}

func (m *sysHealthMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.ticker = time.NewTicker(m.cfg.CollectionInterval)

	go func(ticker *time.Ticker, stop, done chan struct{}) {
		defer close(done)
		m.collect()
		for {
			select {
			case <-ticker.C:
				m.collect()
			case <-stop:
				return
			}
		}
	}(m.ticker, m.stopCh, m.done)

	m.log.Info("system health monitor started", slog.Duration("interval", m.cfg.CollectionInterval))
	return nil
}

func (m *sysHealthMonitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.ticker.Stop()
	close(m.stopCh)
	done := m.done
	m.mu.Unlock()

	// collect takes the lock, so wait outside it
	<-done
	m.log.Info("system health monitor stopped")
	return nil
}

func (m *sysHealthMonitor) GetHealth() *HealthMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := *m.metrics
	if time.Since(snapshot.Timestamp) > m.cfg.StalenessThreshold {
		snapshot.Stale = true
	}
	return &snapshot
}

func (m *sysHealthMonitor) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CollectionTimeout)
	defer cancel()

	m.mu.RLock()
	prev := *m.metrics
	m.mu.RUnlock()

	failed := false
	loadAvg, ioWait, memPercent := prev.CPULoadAvg, prev.IOWaitPercent, prev.MemoryPercent

	if l, err := m.getLoadAvg(ctx); err == nil {
		loadAvg = l.Load1
	} else {
		failed = true
		m.log.Error("failed to collect load average", logger.Error(err))
	}

	if times, err := m.getCPUTimes(ctx, false); err != nil {
		failed = true
		m.log.Error("failed to collect cpu times", logger.Error(err))
	} else if len(times) == 0 {
		failed = true
		m.log.Error("failed to collect cpu times: no data returned")
	} else {
		t := times[0]
		if m.lastCPUTimes != nil {
			deltaTotal := t.Total() - m.lastCPUTimes.Total()
			if deltaTotal > 0 {
				ioWait = (t.Iowait - m.lastCPUTimes.Iowait) / deltaTotal * 100.0
			}
		}
		m.lastCPUTimes = &t
	}

	if v, err := m.getMemStats(ctx); err == nil {
		memPercent = v.UsedPercent
	} else {
		failed = true
		m.log.Error("failed to collect memory stats", logger.Error(err))
	}

	var dbPercent float64
	if m.poolUsed != nil {
		dbPercent = m.poolUsed()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if failed {
		m.consecFailures++
		if m.consecFailures >= 3 {
			m.log.Error("persistent metric collection failures", slog.Int("failures", m.consecFailures))
		}
	} else {
		m.consecFailures = 0
	}

	cpuCores := float64(m.getCPUCores())
	if cpuCores == 0 {
		cpuCores = 1
	}

	ioScore := calculateComponentScore(ioWait, m.cfg.IOWaitWarningPercent, m.cfg.IOWaitCriticalPercent)
	cpuScore := calculateComponentScore(loadAvg/cpuCores*100.0, m.cfg.CPULoadWarningFactor*100.0, m.cfg.CPULoadCriticalFactor*100.0)
	dbScore := calculateComponentScore(dbPercent, m.cfg.DBPoolWarningPercent, m.cfg.DBPoolCriticalPercent)
	memScore := calculateComponentScore(memPercent, m.cfg.MemoryWarningPercent, m.cfg.MemoryCriticalPercent)

	// Weighted penalty
	penalty := (ioScore * 0.40) + (cpuScore * 0.30) + (dbScore * 0.20) + (memScore * 0.10)
	finalScore := max(100-int(penalty), 0)

	newZone := zoneFor(finalScore)
	if newZone != m.metrics.Zone {
		m.log.Warn("system health zone transition",
			slog.String("old_zone", string(m.metrics.Zone)),
			slog.String("new_zone", string(newZone)),
			slog.Int("score", finalScore))
	}

	*m.metrics = HealthMetrics{
		Score:         finalScore,
		Zone:          newZone,
		CPULoadAvg:    loadAvg,
		IOWaitPercent: ioWait,
		MemoryPercent: memPercent,
		DBPoolPercent: dbPercent,
		Timestamp:     time.Now(),
	}

	HealthScore.Set(float64(finalScore))
	IOWaitPercent.Set(ioWait)
	CPULoadAvg.WithLabelValues("1m").Set(loadAvg)
	MemoryUtilization.Set(memPercent)
	DBPoolUtilization.Set(dbPercent)

	m.log.Debug("system health metrics collected",
		slog.Int("score", finalScore),
		slog.String("zone", string(newZone)),
		slog.Float64("io_wait", ioWait),
		slog.Float64("cpu_load", loadAvg),
		slog.Float64("db_pool", dbPercent),
		slog.Float64("mem", memPercent))
}

func zoneFor(score int) HealthZone {
	switch {
	case score <= 33:
		return HealthZoneCritical
	case score <= 66:
		return HealthZoneWarning
	default:
		return HealthZoneSafe
	}
}

// calculateComponentScore returns the 0-100 penalty for one component
func calculateComponentScore(value, warning, critical float64) float64 {
	if value >= critical {
		return 100.0
	}
	if value >= warning {
		return 50.0
	}
	return 0.0
}
