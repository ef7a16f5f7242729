// Package reconcile runs the periodic repair pass that re-derives the
// denormalized conversation refs from the authoritative message logs. The
// dual list writes on send/create are not atomic; this closes the window a
// crash between them leaves open.
package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/emberchat/emberd/internal/bus"
	"github.com/emberchat/emberd/internal/convo"
)

// Repairer is the slice of the synchronizer the reconciler drives.
type Repairer interface {
	Repair(ctx context.Context) (convo.RepairStats, error)
}

// Reconciler periodically repairs denormalized conversation state.
type Reconciler struct {
	repairer Repairer
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
}

// New creates a reconciler that runs every interval.
func New(r Repairer, b *bus.Bus, logger *zap.Logger, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reconciler{
		repairer: r,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the periodic repair loop.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)
}

// Stop stops the loop.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Reconciler) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single repair pass and publishes the outcome.
func (r *Reconciler) RunOnce(ctx context.Context) {
	stats, err := r.repairer.Repair(ctx)
	if err != nil {
		r.logger.Error("repair pass failed", zap.Error(err))
		return
	}
	if !stats.Changed() {
		return
	}
	r.logger.Info("repair pass rewrote state",
		zap.Int("refs_scanned", stats.RefsScanned),
		zap.Int("previews_repaired", stats.PreviewsRepaired),
	)
	if r.bus != nil {
		r.bus.Publish(bus.Event{
			Kind:      "reconcile.repaired",
			Timestamp: time.Now(),
			Payload:   stats,
		})
	}
}
