package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tidewatch/futuresmon/internal/domain"
	"github.com/tidewatch/futuresmon/internal/retry"
	"github.com/tidewatch/futuresmon/internal/timeutil"
)

// Holdings is a lock-free snapshot of the account's open positions, keyed by
// symbol. Monitors that only need "is this held, and which side" read it on
// their hot paths while a background task refreshes it.
type Holdings struct {
	ptr atomic.Pointer[map[string]bool] // symbol -> short
}

// NewHoldings creates an empty snapshot.
func NewHoldings() *Holdings {
	h := &Holdings{}
	empty := map[string]bool{}
	h.ptr.Store(&empty)
	return h
}

// Update replaces the snapshot from a position risk listing.
func (h *Holdings) Update(positions []domain.PositionRisk) {
	next := make(map[string]bool, len(positions))
	for _, p := range positions {
		next[p.Symbol] = p.Short()
	}
	h.ptr.Store(&next)
}

// Lookup reports whether the symbol is held and, if so, whether short.
func (h *Holdings) Lookup(symbol string) (held, short bool) {
	m := *h.ptr.Load()
	short, held = m[symbol]
	return held, short
}

// refreshHoldingsTask returns a task that refreshes the snapshot from the
// exchange every interval, starting immediately. Refresh failures raise an
// error card and the stale snapshot stays in place until the next cycle.
func refreshHoldingsTask(name string, api domain.RestAPI, holdings *Holdings, every time.Duration, pub *Publisher) Task {
	return Task{
		Name: name,
		Run: func(ctx context.Context) error {
			for {
				positions, err := retry.Do(ctx, api.PositionRisk)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					pub.Error(name, err)
				} else {
					holdings.Update(positions)
				}
				if !timeutil.Sleep(ctx, every) {
					return nil
				}
			}
		},
	}
}
