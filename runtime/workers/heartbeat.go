package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"chat-relay/observability"
)

// HeartbeatWorker samples the server process itself (CPU, RSS, OS
// status) on a fixed tick and publishes the readings to the metrics
// gauges and the log.
type HeartbeatWorker struct {
	log      *slog.Logger
	interval time.Duration
}

func NewHeartbeatWorker(log *slog.Logger, interval time.Duration) *HeartbeatWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HeartbeatWorker{log: log, interval: interval}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("starting heartbeat worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, status, err := selfStats(p)
			if err != nil {
				w.log.Error("failed to collect self stats", "error", err)
				continue
			}
			observability.SelfCPUPercent.Set(cpu)
			observability.SelfRSSBytes.Set(float64(rss))
			w.log.Debug("heartbeat", "cpu_percent", cpu, "rss_bytes", rss, "status", status)
		}
	}
}

// selfStats retrieves memory, CPU and OS status for the given process.
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
