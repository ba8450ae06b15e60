package metrics

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReporterStartStopDoesNotLeak(t *testing.T) {
	var calls int64
	r := NewReporter(Snapshot{
		ConnectionCount: func() int { atomic.AddInt64(&calls, 1); return 3 },
		RoomCount:       func() int { return 1 },
	})

	r.Start(context.Background())
	r.Stop()

	// Stopping before the first tick fires should not block or panic, and
	// must not have invoked the snapshot callbacks.
	require.Equal(t, int64(0), atomic.LoadInt64(&calls))
}

func TestReporterReportLogsWithoutPanicking(t *testing.T) {
	r := NewReporter(Snapshot{
		ConnectionCount: func() int { return 5 },
		RoomCount:       func() int { return 2 },
	})

	require.NotPanics(t, func() {
		r.report(context.Background(), 0)
		r.report(context.Background(), 200_000_000) // 200ms, over warn threshold
	})
}
