package observability

import (
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// ProcessStats is the latest sample served on /health.
type ProcessStats struct {
	PID          int32     `json:"pid"`
	Status       string    `json:"status"`
	CPUPercent   float64   `json:"cpu_percent"`
	RSSBytes     uint64    `json:"rss_bytes"`
	AllocMemMb   uint64    `json:"alloc_mem_mb"`
	NumGC        uint32    `json:"num_gc"`
	Goroutines   int       `json:"goroutines"`
	Connections  int       `json:"connections"`
	OnlineUsers  int       `json:"online_users"`
	TypingActive int       `json:"typing_active"`
	SampledAt    time.Time `json:"sampled_at"`
}

// MonitoringManager keeps the latest process sample for readers.
type MonitoringManager struct {
	log         *slog.Logger
	mu          sync.RWMutex
	latestStats ProcessStats
	startedAt   time.Time
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log, startedAt: time.Now().UTC()}
}

// Record stores a sample completed with Go runtime figures.
func (mm *MonitoringManager) Record(stats ProcessStats) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	stats.AllocMemMb = m.Alloc / 1024 / 1024
	stats.NumGC = m.NumGC
	stats.Goroutines = runtime.NumGoroutine()

	mm.mu.Lock()
	mm.latestStats = stats
	mm.mu.Unlock()

	mm.log.Debug("Process stats updated",
		"cpu", stats.CPUPercent,
		"rss", stats.RSSBytes,
		"connections", stats.Connections,
		"goroutines", stats.Goroutines,
	)
}

func (mm *MonitoringManager) GetLatest() ProcessStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.latestStats
}

func (mm *MonitoringManager) Uptime() time.Duration {
	return time.Since(mm.startedAt)
}
