// Package monitoring provides system resource monitoring for the tracer
package monitoring

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"

	"ssw-flow-tracer/internal/metrics"
	"ssw-flow-tracer/pkg/types"
)

// StatsProvider supplies the tracker statistics the monitor watches.
type StatsProvider func() types.TrackerStats

// ResourceMonitor periodically samples goroutines, heap usage, process
// RSS/CPU and tracker occupancy, mirrors them into Prometheus gauges and
// raises alerts when configured thresholds are exceeded.
type ResourceMonitor struct {
	config   types.MonitoringConfig
	logger   *logrus.Logger
	provider StatsProvider

	proc *process.Process

	metrics      Metrics
	metricsMutex sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Metrics holds the latest resource sample.
type Metrics struct {
	Timestamp     time.Time `json:"timestamp"`
	Goroutines    int       `json:"goroutines"`
	MemoryAllocMB int64     `json:"memory_alloc_mb"`
	MemorySysMB   int64     `json:"memory_sys_mb"`
	ProcessRSSMB  int64     `json:"process_rss_mb"`
	CPUPercent    float64   `json:"cpu_percent"`
	HeapObjects   uint64    `json:"heap_objects"`
	ActiveFlows   int       `json:"active_flows"`
	TrieNodes     int64     `json:"trie_nodes"`
}

// NewResourceMonitor creates a resource monitor.
func NewResourceMonitor(config types.MonitoringConfig, provider StatsProvider, logger *logrus.Logger) *ResourceMonitor {
	if config.CheckInterval <= 0 {
		config.CheckInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.WithError(err).Warn("Process sampling unavailable")
		proc = nil
	}

	return &ResourceMonitor{
		config:   config,
		logger:   logger,
		provider: provider,
		proc:     proc,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins resource monitoring
func (rm *ResourceMonitor) Start() error {
	if !rm.config.Enabled {
		rm.logger.Info("Resource monitoring disabled")
		return nil
	}

	rm.logger.WithFields(logrus.Fields{
		"check_interval":        rm.config.CheckInterval,
		"goroutine_threshold":   rm.config.GoroutineThreshold,
		"memory_threshold_mb":   rm.config.MemoryThresholdMB,
		"active_flow_threshold": rm.config.ActiveFlowThreshold,
	}).Info("Starting resource monitor")

	rm.wg.Add(1)
	go rm.monitorResources()
	return nil
}

// Stop stops resource monitoring
func (rm *ResourceMonitor) Stop() error {
	if !rm.config.Enabled {
		return nil
	}

	rm.logger.Info("Stopping resource monitor")
	rm.cancel()

	done := make(chan struct{})
	go func() {
		rm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		rm.logger.Info("Resource monitor stopped cleanly")
	case <-time.After(5 * time.Second):
		rm.logger.Warn("Timeout waiting for resource monitor to stop")
	}
	return nil
}

func (rm *ResourceMonitor) monitorResources() {
	defer rm.wg.Done()

	ticker := time.NewTicker(rm.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rm.ctx.Done():
			return
		case <-ticker.C:
			rm.sample()
		}
	}
}

func (rm *ResourceMonitor) sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m := Metrics{
		Timestamp:     time.Now(),
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: int64(mem.Alloc / 1024 / 1024),
		MemorySysMB:   int64(mem.Sys / 1024 / 1024),
		HeapObjects:   mem.HeapObjects,
	}

	if rm.proc != nil {
		if info, err := rm.proc.MemoryInfo(); err == nil {
			m.ProcessRSSMB = int64(info.RSS / 1024 / 1024)
		}
		if pct, err := rm.proc.CPUPercent(); err == nil {
			m.CPUPercent = pct
		}
	}

	if rm.provider != nil {
		stats := rm.provider()
		m.ActiveFlows = stats.ActiveFlows
		m.TrieNodes = stats.NodeCount
	}

	rm.metricsMutex.Lock()
	rm.metrics = m
	rm.metricsMutex.Unlock()

	metrics.Goroutines.Set(float64(m.Goroutines))
	metrics.MemoryUsage.WithLabelValues("heap_alloc").Set(float64(mem.Alloc))
	metrics.MemoryUsage.WithLabelValues("sys").Set(float64(mem.Sys))
	metrics.MemoryUsage.WithLabelValues("process_rss").Set(float64(m.ProcessRSSMB * 1024 * 1024))
	metrics.CPUUsage.Set(m.CPUPercent)

	rm.checkThresholds(m)
}

func (rm *ResourceMonitor) checkThresholds(m Metrics) {
	if !rm.config.AlertOnThreshold {
		return
	}

	if rm.config.GoroutineThreshold > 0 && m.Goroutines > rm.config.GoroutineThreshold {
		rm.logger.WithFields(logrus.Fields{
			"goroutines": m.Goroutines,
			"threshold":  rm.config.GoroutineThreshold,
		}).Warn("Goroutine count above threshold")
	}

	if rm.config.MemoryThresholdMB > 0 && m.MemoryAllocMB > rm.config.MemoryThresholdMB {
		rm.logger.WithFields(logrus.Fields{
			"memory_alloc_mb": m.MemoryAllocMB,
			"threshold_mb":    rm.config.MemoryThresholdMB,
		}).Warn("Heap usage above threshold")
	}

	if rm.config.ActiveFlowThreshold > 0 && m.ActiveFlows > rm.config.ActiveFlowThreshold {
		rm.logger.WithFields(logrus.Fields{
			"active_flows": m.ActiveFlows,
			"threshold":    rm.config.ActiveFlowThreshold,
		}).Warn("Active flow count above threshold; workload may be leaking faster than reclamation")
	}
}

// GetMetrics returns the latest sample.
func (rm *ResourceMonitor) GetMetrics() Metrics {
	rm.metricsMutex.RLock()
	defer rm.metricsMutex.RUnlock()
	return rm.metrics
}
