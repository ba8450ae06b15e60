package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ennuiii/gamebuddies-server/internal/logging"
)

// reportInterval is how often the periodic summary (spec component I) is
// logged: connection count, room count, and the reporter's own scheduler
// drift (actual minus expected time between two reports).
const reportInterval = 30 * time.Second

// driftWarnThreshold is the scheduler-drift level above which the summary
// is logged at warn instead of info.
const driftWarnThreshold = 100 * time.Millisecond

// Snapshot is the process-wide state the reporter reads each tick. Hub and
// RoomRegistry each expose just enough of themselves to satisfy it,
// keeping this package free of a dependency on either.
type Snapshot struct {
	ConnectionCount func() int
	RoomCount       func() int
}

// Reporter periodically logs the counters spec component I calls for.
// It never owns or mutates the systems it reports on.
type Reporter struct {
	snapshot Snapshot
	stop     chan struct{}
	done     chan struct{}
}

// NewReporter constructs a Reporter. Call Start to begin its loop.
func NewReporter(snapshot Snapshot) *Reporter {
	return &Reporter{
		snapshot: snapshot,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the reporter's loop in its own goroutine until Stop is called.
func (r *Reporter) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Stop halts the reporter and waits for its goroutine to exit.
func (r *Reporter) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reporter) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	lastTick := time.Now()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			drift := now.Sub(lastTick) - reportInterval
			lastTick = now
			r.report(ctx, drift)
		}
	}
}

func (r *Reporter) report(ctx context.Context, schedulerDrift time.Duration) {
	conns := r.snapshot.ConnectionCount()
	rooms := r.snapshot.RoomCount()

	fields := []zap.Field{
		zap.Int("connections_active", conns),
		zap.Int("rooms_active", rooms),
		zap.Duration("scheduler_drift", schedulerDrift),
	}

	if schedulerDrift > driftWarnThreshold || schedulerDrift < -driftWarnThreshold {
		logging.Warn(ctx, "periodic metrics summary: scheduler drift exceeds threshold", fields...)
		return
	}
	logging.Info(ctx, "periodic metrics summary", fields...)
}
