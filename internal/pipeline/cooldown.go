package pipeline

import (
	"fmt"
	"image"
	"sync"
	"time"
)

// CooldownGate suppresses repeated alerts for the same spatial bucket inside
// the cooldown window.
type CooldownGate struct {
	window time.Duration
	grid   int

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldownGate creates a gate with the given window and bucket grid size.
func NewCooldownGate(window time.Duration, grid int) *CooldownGate {
	if grid <= 0 {
		grid = 50
	}
	return &CooldownGate{
		window: window,
		grid:   grid,
		last:   make(map[string]time.Time),
	}
}

// BucketKey quantizes the box's top-left corner to the grid.
func (g *CooldownGate) BucketKey(box image.Rectangle) string {
	return fmt.Sprintf("%d_%d", box.Min.X/g.grid, box.Min.Y/g.grid)
}

// Admit reports whether a detection at box may alert at now, and stamps the
// bucket when it does. Check and stamp happen under one lock.
func (g *CooldownGate) Admit(box image.Rectangle, now time.Time) bool {
	key := g.BucketKey(box)

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.last[key]; ok && now.Sub(last) < g.window {
		return false
	}
	g.last[key] = now
	return true
}

// Prune drops buckets whose window has elapsed. Stale buckets never affect
// admission, this only bounds memory.
func (g *CooldownGate) Prune(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for key, last := range g.last {
		if now.Sub(last) >= g.window {
			delete(g.last, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked buckets.
func (g *CooldownGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}
