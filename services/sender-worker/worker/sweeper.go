package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Mutter0815/MassDispatch/pkg/logx"
	"github.com/Mutter0815/MassDispatch/pkg/metrics"
)

type reclaimer interface {
	ReclaimExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper returns items whose lease outlived LeaseTTL to pending, so work
// claimed by a process that died is picked up again.
type Sweeper struct {
	store    reclaimer
	leaseTTL time.Duration
	now      func() time.Time
}

func NewSweeper(st reclaimer, leaseTTL time.Duration) *Sweeper {
	return &Sweeper{store: st, leaseTTL: leaseTTL, now: time.Now}
}

func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.ReclaimExpired(ctx, s.now().Add(-s.leaseTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ItemsReclaimed.Add(float64(n))
		logx.L().Warnw("leases_reclaimed", "items", n, "lease_ttl", s.leaseTTL.String())
	}
	return n, nil
}

// Schedule registers the sweep on c. Runs never overlap.
func (s *Sweeper) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	job := cron.FuncJob(func() {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			logx.L().Errorw("lease_sweep_error", "error", err)
		}
	})
	return c.AddJob(spec, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(job))
}
