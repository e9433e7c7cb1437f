package worker

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
	"github.com/Mutter0815/MassDispatch/internal/gateway"
	"github.com/Mutter0815/MassDispatch/internal/mutator"
	"github.com/Mutter0815/MassDispatch/internal/store"
	"github.com/Mutter0815/MassDispatch/pkg/logx"
	"github.com/Mutter0815/MassDispatch/pkg/metrics"
)

type State string

const (
	StateIdle       State = "idle"
	StateClaiming   State = "claiming"
	StateSending    State = "sending"
	StateFinalizing State = "finalizing"
	StateCooling    State = "cooling"
)

type storeAPI interface {
	GetActiveCampaign(ctx context.Context, skip []int64) (campaign.Campaign, error)
	CampaignStatus(ctx context.Context, id int64) (campaign.Status, error)
	ClaimBatch(ctx context.Context, campaignID int64, owner string, limit int) ([]campaign.QueueItem, error)
	FinalizeItems(ctx context.Context, owner string, successIDs, failIDs []int64) (int64, error)
	ReleaseItems(ctx context.Context, owner string, ids []int64) (int64, error)
	RenewLeases(ctx context.Context, owner string, ids []int64) ([]int64, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, id int64) (campaign.Campaign, error)
}

type Config struct {
	BatchSize          int
	Cooldown           time.Duration
	IdlePoll           time.Duration
	JitterMin          time.Duration
	JitterMax          time.Duration
	StoreRetryAttempts int
}

// finalizeTimeout bounds the writes that persist a batch after shutdown
// was requested.
const finalizeTimeout = 10 * time.Second

type Worker struct {
	ID string

	cfg   Config
	store storeAPI
	gw    gateway.Client
	mut   *mutator.Mutator
	stats reconciler

	wake  chan struct{}
	sleep func(ctx context.Context, d time.Duration) error
	rnd   *rand.Rand

	mu    sync.Mutex
	state State
}

func New(st storeAPI, gw gateway.Client, mut *mutator.Mutator, rec reconciler, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.StoreRetryAttempts <= 0 {
		cfg.StoreRetryAttempts = 1
	}
	if cfg.JitterMax < cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin
	}
	return &Worker{
		ID:    uuid.NewString(),
		cfg:   cfg,
		store: st,
		gw:    gw,
		mut:   mut,
		stats: rec,
		wake:  make(chan struct{}, 1),
		sleep: sleepCtx,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		state: StateIdle,
	}
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Wake cuts the current idle wait short. It never blocks.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run polls for a running campaign and dispatches it until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	logx.L().Infow("worker_started", "worker_id", w.ID, "batch_size", w.cfg.BatchSize)
	for {
		if ctx.Err() != nil {
			logx.L().Infow("worker_stopping", "worker_id", w.ID)
			return nil
		}
		if w.runOnce(ctx) {
			continue
		}
		w.idle(ctx)
	}
}

func (w *Worker) idle(ctx context.Context) {
	w.setState(StateIdle)
	t := time.NewTimer(w.cfg.IdlePoll)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-w.wake:
	case <-t.C:
	}
}

// runOnce walks the running campaigns oldest first and drives the first one
// it can make progress on. A campaign whose session is not ready, or whose
// pending items other workers took first, is skipped for this round. It
// reports whether at least one batch was dispatched.
func (w *Worker) runOnce(ctx context.Context) bool {
	w.setState(StateIdle)
	var skip []int64
	for ctx.Err() == nil {
		c, err := w.store.GetActiveCampaign(ctx, skip)
		if errors.Is(err, store.ErrNotFound) {
			return false
		}
		if err != nil {
			logx.L().Errorw("db_get_active_campaign_error", "worker_id", w.ID, "error", err)
			return false
		}
		if w.runCampaign(ctx, c) > 0 {
			return true
		}
		skip = append(skip, c.ID)
	}
	return false
}

// gatewayReady is checked before every claim; items are never claimed for a
// session that cannot deliver them.
func (w *Worker) gatewayReady(ctx context.Context, c campaign.Campaign) bool {
	st, err := w.gw.Status(ctx, c.SessionID)
	if err != nil || st != gateway.StatusReady {
		metrics.WorkerGatewayNotReady.Inc()
		logx.L().Infow("gateway_not_ready", "worker_id", w.ID, "campaign_id", c.ID,
			"session", c.SessionID, "status", st, "error", err)
		return false
	}
	return true
}

func (w *Worker) runCampaign(ctx context.Context, c campaign.Campaign) (batches int) {
	fields := []any{"worker_id", w.ID, "campaign_id", c.ID}
	for ctx.Err() == nil {
		w.setState(StateClaiming)
		status, err := w.store.CampaignStatus(ctx, c.ID)
		if err != nil {
			logx.L().Errorw("db_campaign_status_error", append(fields, "error", err)...)
			return batches
		}
		if status != campaign.StatusRunning {
			logx.L().Infow("campaign_not_running", append(fields, "status", status)...)
			return batches
		}
		if !w.gatewayReady(ctx, c) {
			return batches
		}

		var items []campaign.QueueItem
		err = w.retry(ctx, "claim", func(ctx context.Context) error {
			var err error
			items, err = w.store.ClaimBatch(ctx, c.ID, w.ID, w.cfg.BatchSize)
			return err
		})
		if err != nil {
			logx.L().Errorw("db_claim_error", append(fields, "error", err)...)
			return batches
		}
		if len(items) == 0 {
			w.reconcile(ctx, c.ID)
			return batches
		}
		batches++
		metrics.WorkerBatchesClaimed.Inc()
		metrics.WorkerItemsClaimed.Add(float64(len(items)))

		start := time.Now()
		sent, failed, unsent := w.sendBatch(ctx, c, items)
		done := w.finalize(ctx, c.ID, sent, failed, unsent)
		metrics.WorkerBatchDuration.Observe(time.Since(start).Seconds())
		logx.L().Infow("batch_done", append(fields,
			"sent", len(sent), "failed", len(failed), "released", len(unsent))...)

		if done || ctx.Err() != nil {
			return batches
		}
		w.setState(StateCooling)
		if err := w.sleep(ctx, w.cfg.Cooldown); err != nil {
			return batches
		}
	}
	return batches
}

// sendBatch dispatches items in order. Items not attempted before ctx ends
// come back as unsent. Items whose lease was lost are dropped.
func (w *Worker) sendBatch(ctx context.Context, c campaign.Campaign, items []campaign.QueueItem) (sent, failed, unsent []int64) {
	w.setState(StateSending)
	for i, it := range items {
		if ctx.Err() != nil {
			return sent, failed, idsOf(items[i:])
		}
		if !w.renewLeases(ctx, c.ID, items[i:]) {
			continue
		}

		text, media := w.mut.Mutate(c.Template, c.Media)
		start := time.Now()
		err := w.gw.Send(ctx, c.SessionID, it.Recipient, gateway.Payload{Text: text, Media: media})
		metrics.WorkerSendDuration.Observe(time.Since(start).Seconds())

		switch {
		case err != nil && ctx.Err() != nil:
			return sent, failed, idsOf(items[i:])
		case err != nil:
			failed = append(failed, it.ID)
			metrics.WorkerItemsFailed.Inc()
			logx.L().Infow("send_failed", "worker_id", w.ID, "campaign_id", c.ID, "item_id", it.ID, "error", err)
		default:
			sent = append(sent, it.ID)
			metrics.WorkerItemsSent.Inc()
		}

		if i < len(items)-1 {
			if err := w.sleep(ctx, w.jitter()); err != nil {
				return sent, failed, idsOf(items[i+1:])
			}
		}
	}
	return sent, failed, nil
}

// finalize persists outcomes even when shutdown is under way, so a stop
// never loses a send that already happened. It reports whether the campaign
// is now completed.
func (w *Worker) finalize(ctx context.Context, campaignID int64, sent, failed, unsent []int64) bool {
	w.setState(StateFinalizing)
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if len(sent)+len(failed) > 0 {
		err := w.retry(fctx, "finalize", func(ctx context.Context) error {
			_, err := w.store.FinalizeItems(ctx, w.ID, sent, failed)
			return err
		})
		if err != nil {
			// the lease sweep returns these to pending
			logx.L().Errorw("db_finalize_error", "worker_id", w.ID, "campaign_id", campaignID,
				"sent", len(sent), "failed", len(failed), "error", err)
		}
	}
	if len(unsent) > 0 {
		n, err := w.store.ReleaseItems(fctx, w.ID, unsent)
		if err != nil {
			logx.L().Errorw("db_release_error", "worker_id", w.ID, "campaign_id", campaignID, "error", err)
		} else {
			metrics.WorkerItemsReleased.Add(float64(n))
		}
	}
	return w.reconcile(fctx, campaignID)
}

// renewLeases restarts the lease clock on the rest of the batch and reports
// whether the worker still owns rest[0]. A store error keeps the item; the
// owner guard on finalize still holds.
func (w *Worker) renewLeases(ctx context.Context, campaignID int64, rest []campaign.QueueItem) bool {
	renewed, err := w.store.RenewLeases(ctx, w.ID, idsOf(rest))
	if err != nil {
		logx.L().Warnw("db_renew_lease_error", "worker_id", w.ID, "campaign_id", campaignID, "error", err)
		return true
	}
	for _, id := range renewed {
		if id == rest[0].ID {
			return true
		}
	}
	metrics.WorkerLeasesLost.Inc()
	logx.L().Warnw("lease_lost", "worker_id", w.ID, "campaign_id", campaignID, "item_id", rest[0].ID)
	return false
}

func (w *Worker) reconcile(ctx context.Context, campaignID int64) bool {
	var c campaign.Campaign
	err := w.retry(ctx, "reconcile", func(ctx context.Context) error {
		var err error
		c, err = w.stats.Reconcile(ctx, campaignID)
		return err
	})
	if err != nil {
		logx.L().Errorw("db_reconcile_error", "worker_id", w.ID, "campaign_id", campaignID, "error", err)
		return false
	}
	return c.Done()
}

// retry runs fn up to StoreRetryAttempts times with exponential backoff.
func (w *Worker) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= w.cfg.StoreRetryAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == w.cfg.StoreRetryAttempts {
			break
		}
		metrics.WorkerStoreRetries.WithLabelValues(op).Inc()
		logx.L().Warnw("store_retry", "worker_id", w.ID, "op", op, "attempt", attempt, "error", err)
		if serr := w.sleep(ctx, backoffDelay(attempt)); serr != nil {
			return err
		}
	}
	return err
}

func (w *Worker) jitter() time.Duration {
	span := w.cfg.JitterMax - w.cfg.JitterMin
	if span <= 0 {
		return w.cfg.JitterMin
	}
	return w.cfg.JitterMin + time.Duration(w.rnd.Int63n(int64(span)+1))
}

func backoffDelay(retries int) time.Duration {
	if retries <= 0 {
		return 0
	}
	sec := math.Pow(2, float64(retries-1))
	return time.Duration(sec) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func idsOf(items []campaign.QueueItem) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
