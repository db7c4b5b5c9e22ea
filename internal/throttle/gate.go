package throttle

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrInvalidSlots is returned when a gate is built with fewer than one slot.
var ErrInvalidSlots = errors.New("gate: max concurrent must be greater than zero")

// Gate is a counting semaphore bounding how many units of work run at once.
// Waiters are admitted in FIFO order, so none starves while slots keep
// being released.
type Gate struct {
	sem    *semaphore.Weighted
	max    int
	active atomic.Int64
	peak   atomic.Int64
}

// NewGate creates a gate with max slots.
func NewGate(max int) (*Gate, error) {
	if max <= 0 {
		return nil, ErrInvalidSlots
	}
	return &Gate{
		sem: semaphore.NewWeighted(int64(max)),
		max: max,
	}, nil
}

// Acquire blocks until a slot is free or ctx ends. Every successful Acquire
// must be paired with exactly one Release.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	current := g.active.Add(1)
	g.updatePeak(current)
	gateActive.Inc()
	return nil
}

// Release returns a slot acquired with Acquire.
func (g *Gate) Release() {
	g.active.Add(-1)
	gateActive.Dec()
	g.sem.Release(1)
}

// Max returns the number of slots.
func (g *Gate) Max() int { return g.max }

// Active returns the number of slots currently held.
func (g *Gate) Active() int { return int(g.active.Load()) }

// Peak returns the highest number of slots held at once since creation.
func (g *Gate) Peak() int { return int(g.peak.Load()) }

func (g *Gate) updatePeak(current int64) {
	for {
		peak := g.peak.Load()
		if current <= peak {
			return
		}
		if g.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}
