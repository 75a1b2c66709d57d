package syshealth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HealthScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pilgrimops_system_health_score",
		Help: "Overall host health score (0-100)",
	})

	IOWaitPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pilgrimops_system_io_wait_percent",
		Help: "Host I/O wait percentage",
	})

	CPULoadAvg = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pilgrimops_system_cpu_load_avg",
		Help: "Host CPU load average",
	}, []string{"period"})

	MemoryUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pilgrimops_system_memory_utilization_percent",
		Help: "Host memory utilization percentage",
	})

	DBPoolUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pilgrimops_system_db_pool_utilization_percent",
		Help: "Database connection pool utilization percentage",
	})
)
