// Package rate throttles the requests of a node to its share of the fleet's
// maximum overall rate.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
)

// Throttle paces callers to a fleet.TemporalRate using a leaky bucket.
//
// The bucket keeps a virtual drip time that advances at the target rate.
// Each call to Next reserves the next free slot and returns when it starts;
// callers that are behind schedule get the current time and proceed
// immediately. Slots are never handed out twice, so concurrent callers
// line up one interval apart.
// An unlimited rate turns the throttle into a no-op.
//
// # Thread Safety
//
// Throttle is safe for concurrent use. Every virtual user of a node shares
// one Throttle, so the node as a whole stays under its rate.
//
// # Example
//
//	throttle := rate.New(fleet.TemporalRate{Change: 100, Per: time.Second})
//	for {
//	    if err := throttle.Wait(ctx); err != nil {
//	        return err
//	    }
//	    // send request
//	}
type Throttle struct {
	mu          sync.Mutex
	limit       fleet.TemporalRate
	perSecond   float64
	lastDrip    time.Time
	accumulated float64
	maxBurst    float64

	totalWaits    atomic.Int64
	totalWaitTime atomic.Int64
}

// New creates a throttle for r with no bursting.
func New(r fleet.TemporalRate) *Throttle {
	return NewWithBurst(r, 1.0)
}

// NewWithBurst creates a throttle that may store up to maxBurst requests
// while callers are slow and release them at once.
func NewWithBurst(r fleet.TemporalRate, maxBurst float64) *Throttle {
	if maxBurst < 1.0 {
		maxBurst = 1.0
	}
	return &Throttle{
		limit:     r,
		perSecond: r.PerSecond(),
		maxBurst:  maxBurst,
		// the first request goes through immediately
		accumulated: 1.0,
		lastDrip:    time.Now(),
	}
}

// Next returns when the next request may start.
// The returned time is in the past or now when no wait is needed.
func (t *Throttle) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.totalWaits.Add(1)
	if t.limit.IsUnlimited() {
		return now
	}

	interval := time.Duration(float64(time.Second) / t.perSecond)

	// a slot is already reserved in the future: queue behind it
	if t.lastDrip.After(now) {
		next := t.lastDrip.Add(interval)
		t.lastDrip = next
		t.totalWaitTime.Add(int64(next.Sub(now)))
		return next
	}

	t.accumulated += now.Sub(t.lastDrip).Seconds() * t.perSecond
	if t.accumulated > t.maxBurst {
		t.accumulated = t.maxBurst
	}

	if t.accumulated >= 1.0 {
		t.accumulated -= 1.0
		t.lastDrip = now
		return now
	}

	deficit := 1.0 - t.accumulated
	next := now.Add(time.Duration(deficit / t.perSecond * float64(time.Second)))
	t.accumulated = 0

	// lastDrip moves to the reserved slot so later callers line up after it
	t.lastDrip = next
	t.totalWaitTime.Add(int64(next.Sub(now)))

	return next
}

// Wait blocks until the next request may start or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	wait := time.Until(t.Next())
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stats returns statistics about the throttle's operation.
func (t *Throttle) Stats() Stats {
	t.mu.Lock()
	limit := t.limit
	accumulated := t.accumulated
	t.mu.Unlock()

	return Stats{
		Rate:          limit.String(),
		PerSecond:     limit.PerSecond(),
		Accumulated:   accumulated,
		TotalWaits:    t.totalWaits.Load(),
		TotalWaitTime: time.Duration(t.totalWaitTime.Load()),
	}
}

// Stats contains statistics about a Throttle.
type Stats struct {
	Rate          string        `json:"rate"`
	PerSecond     float64       `json:"-"`
	Accumulated   float64       `json:"accumulated"`
	TotalWaits    int64         `json:"totalWaits"`
	TotalWaitTime time.Duration `json:"totalWaitTime"`
}
