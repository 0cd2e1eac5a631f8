package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// Stats is the process-wide relay traffic counter.
var Stats = &stats{}

type stats struct {
	RoomsCreated  atomic.Int64 // cumulative count of rooms created since process start
	JoinsRejected atomic.Int64 // cumulative count of joins rejected for capacity
	Relayed       atomic.Int64 // cumulative count of envelopes forwarded
	Dropped       atomic.Int64 // cumulative count of envelopes dropped (no audience)
}

func (s *stats) AddRoom()     { s.RoomsCreated.Add(1) }
func (s *stats) AddRejected() { s.JoinsRejected.Add(1) }
func (s *stats) AddRelayed()  { s.Relayed.Add(1) }
func (s *stats) AddDropped()  { s.Dropped.Add(1) }

// StartStatsReporter launches a goroutine that logs relay statistics every
// 30 seconds, skipping intervals with no activity. It stops when ctx is
// cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		var prevRooms, prevRejected, prevRelayed, prevDropped int64
		for {
			select {
			case <-ticker.C:
				rooms := Stats.RoomsCreated.Load()
				rejected := Stats.JoinsRejected.Load()
				relayed := Stats.Relayed.Load()
				dropped := Stats.Dropped.Load()

				if rooms != prevRooms || rejected != prevRejected ||
					relayed != prevRelayed || dropped != prevDropped {
					pterm.DefaultLogger.Info(fmt.Sprintf(
						"Rooms: %d | Relayed: %d | Dropped: %d | Rejected: %d",
						rooms, relayed, dropped, rejected))
				}

				prevRooms = rooms
				prevRejected = rejected
				prevRelayed = relayed
				prevDropped = dropped

			case <-ctx.Done():
				return
			}
		}
	}()
}
