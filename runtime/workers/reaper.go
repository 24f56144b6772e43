package workers

import (
	"context"
	"log/slog"
	"time"
)

// TransferTable is the slice of the file-transfer broker the reaper
// needs: dropping stale negotiation entries and half-rendezvous holds.
type TransferTable interface {
	Sweep(olderThan time.Duration) int
}

// ReaperWorker periodically expires pending transfers nobody completed.
// Without it, a recipient that accepted and then disconnected before
// the rendezvous would leak its counterpart's held socket forever.
type ReaperWorker struct {
	table    TransferTable
	interval time.Duration
	ttl      time.Duration
	log      *slog.Logger
}

func NewReaperWorker(table TransferTable, interval, ttl time.Duration, log *slog.Logger) *ReaperWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ReaperWorker{table: table, interval: interval, ttl: ttl, log: log}
}

func (w *ReaperWorker) Run(ctx context.Context) error {
	w.log.Debug("starting transfer reaper", "interval", w.interval, "ttl", w.ttl)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("stopping transfer reaper")
			return ctx.Err()
		case <-ticker.C:
			if reaped := w.table.Sweep(w.ttl); reaped > 0 {
				w.log.Info("expired stale transfers", "count", reaped)
			}
		}
	}
}
