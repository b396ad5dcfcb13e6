package workers

import (
	"chat-hub/contract"
	"chat-hub/observability"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

type ConnectionCounter interface {
	Connections() int
}

// ProcessMonitor samples the server process and the live state gauges.
type ProcessMonitor struct {
	log         *slog.Logger
	monitoring  *observability.MonitoringManager
	metrics     *observability.Metrics
	connections ConnectionCounter
	presence    contract.IPresence
	interval    time.Duration
}

func NewProcessMonitor(
	log *slog.Logger,
	monitoring *observability.MonitoringManager,
	metrics *observability.Metrics,
	connections ConnectionCounter,
	presence contract.IPresence,
	interval time.Duration,
) *ProcessMonitor {
	return &ProcessMonitor{
		log:         log,
		monitoring:  monitoring,
		metrics:     metrics,
		connections: connections,
		presence:    presence,
		interval:    interval,
	}
}

func (w *ProcessMonitor) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Sample(p)
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping process monitor")
			return nil
		case <-ticker.C:
			w.Sample(p)
		}
	}
}

// Sample records one snapshot. OS figures that cannot be read are left at zero.
func (w *ProcessMonitor) Sample(p *process.Process) {
	stats := observability.ProcessStats{PID: p.Pid, SampledAt: time.Now().UTC()}
	rss, cpu, status, err := selfStats(p)
	if err != nil {
		w.log.Error("Failed to collect self stats", "error", err)
	} else {
		stats.RSSBytes, stats.CPUPercent, stats.Status = rss, cpu, status
		w.metrics.SetProcess(rss, cpu)
	}
	if w.connections != nil {
		stats.Connections = w.connections.Connections()
	}
	if w.presence != nil {
		stats.OnlineUsers, stats.TypingActive = w.presence.Counts()
	}
	w.monitoring.Record(stats)
}

func selfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}
	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
