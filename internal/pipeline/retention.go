package pipeline

import (
	"context"
	"log"
	"time"

	"watchpost/internal/database"
	"watchpost/internal/observability"
)

// Pruner removes events older than a day threshold, calling cleanup for each
// one before its row is deleted.
type Pruner interface {
	Prune(ctx context.Context, days int, now time.Time, cleanup func(*database.DetectionEvent)) (int, error)
}

// ArtifactRemover deletes artifact files.
type ArtifactRemover interface {
	Remove(ctx context.Context, paths ...string) error
}

// PendingExpirer drops feedback correlations older than their TTL.
type PendingExpirer interface {
	Sweep(now time.Time) int
}

// RetentionConfig controls the sweep cadence and horizon.
type RetentionConfig struct {
	Days     int // <= 0 disables event pruning
	Interval time.Duration
}

// RetentionSweeper periodically prunes old events with their files, expires
// stale feedback correlations and trims the cooldown table.
type RetentionSweeper struct {
	store   Pruner
	files   ArtifactRemover
	pending PendingExpirer
	gate    *CooldownGate
	cfg     RetentionConfig
	now     func() time.Time
}

// NewRetentionSweeper creates a sweeper. pending and gate may be nil.
func NewRetentionSweeper(store Pruner, files ArtifactRemover, pending PendingExpirer, gate *CooldownGate, cfg RetentionConfig) *RetentionSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &RetentionSweeper{store: store, files: files, pending: pending, gate: gate, cfg: cfg, now: time.Now}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (r *RetentionSweeper) Run(ctx context.Context) {
	log.Printf("[Retention] Sweeping every %s (events older than %d days)", r.cfg.Interval, r.cfg.Days)
	r.Sweep(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one retention pass and returns the number of pruned events.
func (r *RetentionSweeper) Sweep(ctx context.Context) int {
	now := r.now()

	if r.pending != nil {
		if n := r.pending.Sweep(now); n > 0 {
			log.Printf("[Retention] Expired %d pending feedback entries", n)
		}
	}
	if r.gate != nil {
		r.gate.Prune(now)
	}

	if r.cfg.Days <= 0 {
		return 0
	}

	n, err := r.store.Prune(ctx, r.cfg.Days, now, func(ev *database.DetectionEvent) {
		if err := r.files.Remove(ctx, ev.Paths()...); err != nil {
			log.Printf("[Retention] Failed to remove files of event %d: %v", ev.ID, err)
		}
	})
	if err != nil {
		log.Printf("[Retention] Prune failed: %v", err)
	}
	if n > 0 {
		observability.EventsPruned.Add(float64(n))
		log.Printf("[Retention] Pruned %d events older than %d days", n, r.cfg.Days)
	}
	return n
}
