package resource

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Thresholds for resource classification.
const (
	MemoryWarningPercent  = 90.0
	MemoryCriticalPercent = 95.0
	CPUWarningPercent     = 70.0
	CPUCriticalPercent    = 85.0
)

// Level classifies a sampled resource reading.
type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Sample is one resource measurement.
type Sample struct {
	Timestamp      time.Time `json:"timestamp"`
	RSSBytes       uint64    `json:"rss"`
	HeapUsedBytes  uint64    `json:"heap_used"`
	MemUtilization float64   `json:"utilization"` // percent of system memory
	CPUPercent     float64   `json:"current"`
	CPUAverage     float64   `json:"average"`
	CPUPeak        float64   `json:"peak"`
}

// MemoryLevel classifies the sample's memory utilization.
func (s Sample) MemoryLevel() Level {
	switch {
	case s.MemUtilization >= MemoryCriticalPercent:
		return LevelCritical
	case s.MemUtilization >= MemoryWarningPercent:
		return LevelWarning
	default:
		return LevelOK
	}
}

// CPULevel classifies the sample's CPU usage.
func (s Sample) CPULevel() Level {
	switch {
	case s.CPUPercent >= CPUCriticalPercent:
		return LevelCritical
	case s.CPUPercent >= CPUWarningPercent:
		return LevelWarning
	default:
		return LevelOK
	}
}

// Monitor samples process memory and CPU usage on a fixed interval and
// keeps a rolling view for health classification and emergency flushes.
type Monitor struct {
	mu       sync.RWMutex
	logger   *logrus.Entry
	interval time.Duration

	current  Sample
	cpuSum   float64
	cpuCount int64
	cpuPeak  float64

	lastCPUSample time.Time
	lastCPUTotal  time.Duration
}

// NewMonitor creates a monitor sampling every interval. An interval of
// zero defaults to one second.
func NewMonitor(interval time.Duration, logger *logrus.Entry) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		interval: interval,
		logger:   logger,
	}
}

// Run samples until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// Current returns the latest sample.
func (m *Monitor) Current() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Monitor) sample() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	total := totalSystemMemory()
	rss := residentSetSize()
	if rss == 0 {
		rss = memStats.Sys
	}

	utilization := 0.0
	if total > 0 {
		utilization = float64(rss) / float64(total) * 100
	}

	cpu := m.cpuPercent()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cpuSum += cpu
	m.cpuCount++
	if cpu > m.cpuPeak {
		m.cpuPeak = cpu
	}

	m.current = Sample{
		Timestamp:      time.Now(),
		RSSBytes:       rss,
		HeapUsedBytes:  memStats.HeapInuse,
		MemUtilization: utilization,
		CPUPercent:     cpu,
		CPUAverage:     m.cpuSum / float64(m.cpuCount),
		CPUPeak:        m.cpuPeak,
	}

	if level := m.current.MemoryLevel(); level != LevelOK && m.logger != nil {
		m.logger.WithFields(logrus.Fields{
			"utilization": utilization,
			"level":       string(level),
		}).Warn("Memory utilization above threshold")
	}
}

// cpuPercent estimates process CPU usage since the previous sample from
// process CPU time, normalized across cores.
func (m *Monitor) cpuPercent() float64 {
	now := time.Now()
	total := processCPUTime()

	m.mu.Lock()
	lastSample := m.lastCPUSample
	lastTotal := m.lastCPUTotal
	m.lastCPUSample = now
	m.lastCPUTotal = total
	m.mu.Unlock()

	if lastSample.IsZero() {
		return 0
	}
	wall := now.Sub(lastSample)
	if wall <= 0 {
		return 0
	}

	usage := float64(total-lastTotal) / float64(wall) / float64(runtime.NumCPU()) * 100
	if usage < 0 {
		usage = 0
	}
	if usage > 100 {
		usage = 100
	}
	return usage
}
