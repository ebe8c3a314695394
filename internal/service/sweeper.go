package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/go_food/internal/repository"
)

// PendingSweeper reconciles intents that stayed Pending longer than age,
// covering gateway notifications that never arrived.
type PendingSweeper struct {
	store      repository.Store
	reconciler *Reconciler
	interval   time.Duration
	age        time.Duration
	batch      int
	log        *slog.Logger
	now        func() time.Time
}

func NewPendingSweeper(store repository.Store, reconciler *Reconciler, interval, age time.Duration, log *slog.Logger) *PendingSweeper {
	return &PendingSweeper{
		store:      store,
		reconciler: reconciler,
		interval:   interval,
		age:        age,
		batch:      50,
		log:        log,
		now:        time.Now,
	}
}

func (p *PendingSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *PendingSweeper) sweep(ctx context.Context) {
	refs, err := p.store.ListPendingIntents(ctx, p.now().Add(-p.age), p.batch)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to list pending intents", "error", err)
		return
	}

	for _, ref := range refs {
		res, err := p.reconciler.Reconcile(ctx, ref, "")
		if err != nil {
			p.log.WarnContext(ctx, "sweep reconcile failed", "tx_ref", ref, "kind", KindOf(err), "error", err)
			continue
		}
		p.log.InfoContext(ctx, "sweep reconciled intent", "tx_ref", ref, "outcome", res.Outcome)
	}
}
