package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide control-event counter.
var Stats = &stats{}

type stats struct {
	Accepted  atomic.Int64 // inbound control events that passed the gate
	Rejected  atomic.Int64 // inbound control events refused by the gate
	Bridged   atomic.Int64 // accepted events forwarded to the agent
	Replayed  atomic.Int64 // accepted events replayed into the page
	Dropped   atomic.Int64 // outbound messages dropped because the channel was not open
	Malformed atomic.Int64 // inbound frames that failed to decode
}

func (s *stats) AddAccepted()  { s.Accepted.Add(1) }
func (s *stats) AddRejected()  { s.Rejected.Add(1) }
func (s *stats) AddBridged()   { s.Bridged.Add(1) }
func (s *stats) AddReplayed()  { s.Replayed.Add(1) }
func (s *stats) AddDropped()   { s.Dropped.Add(1) }
func (s *stats) AddMalformed() { s.Malformed.Add(1) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Accepted, Rejected, Bridged, Replayed, Dropped, Malformed int64
}

// Snapshot reads every counter.
func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		Accepted:  s.Accepted.Load(),
		Rejected:  s.Rejected.Load(),
		Bridged:   s.Bridged.Load(),
		Replayed:  s.Replayed.Load(),
		Dropped:   s.Dropped.Load(),
		Malformed: s.Malformed.Load(),
	}
}

// Sub returns the per-counter difference s - prev.
func (s Snapshot) Sub(prev Snapshot) Snapshot {
	return Snapshot{
		Accepted:  s.Accepted - prev.Accepted,
		Rejected:  s.Rejected - prev.Rejected,
		Bridged:   s.Bridged - prev.Bridged,
		Replayed:  s.Replayed - prev.Replayed,
		Dropped:   s.Dropped - prev.Dropped,
		Malformed: s.Malformed - prev.Malformed,
	}
}

// IsZero reports whether every counter is zero.
func (s Snapshot) IsZero() bool {
	return s == Snapshot{}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// reportInterval is how often StartStatsReporter samples the counters.
const reportInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs control-event statistics
// every 10 seconds, skipping intervals with no activity. It stops when ctx is
// cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		prev := Stats.Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()
				if delta := cur.Sub(prev); !delta.IsZero() {
					pterm.DefaultLogger.Info(formatStats(delta))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a one-line summary of a counter delta for the logger.
func formatStats(d Snapshot) string {
	return fmt.Sprintf("Ctrl: %3d ok %3d denied | Path: %3d agent %3d page | Drop: %3d | Bad: %3d",
		d.Accepted,
		d.Rejected,
		d.Bridged,
		d.Replayed,
		d.Dropped,
		d.Malformed,
	)
}
