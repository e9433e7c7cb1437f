// Package stats keeps campaign counters in line with the queue.
package stats

import (
	"context"
	"fmt"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
	"github.com/Mutter0815/MassDispatch/pkg/logx"
	"github.com/Mutter0815/MassDispatch/pkg/metrics"
)

type storeAPI interface {
	CampaignStatus(ctx context.Context, id int64) (campaign.Status, error)
	Reconcile(ctx context.Context, id int64) (campaign.Campaign, error)
}

type Reconciler struct {
	store storeAPI
	pub   campaign.Publisher
}

func New(st storeAPI, pub campaign.Publisher) *Reconciler {
	return &Reconciler{store: st, pub: pub}
}

// Reconcile recomputes sent/failed from item state and completes the
// campaign once every item is terminal. Calling it again without new
// finalizations changes nothing.
func (r *Reconciler) Reconcile(ctx context.Context, id int64) (campaign.Campaign, error) {
	before, err := r.store.CampaignStatus(ctx, id)
	if err != nil {
		return campaign.Campaign{}, fmt.Errorf("reconcile %d: %w", id, err)
	}
	c, err := r.store.Reconcile(ctx, id)
	if err != nil {
		return campaign.Campaign{}, fmt.Errorf("reconcile %d: %w", id, err)
	}

	if c.SentCount+c.FailedCount > c.TotalCount {
		metrics.ReconcileInvariantViolations.Inc()
		logx.L().Errorw("reconcile_counts_exceed_total",
			"campaign_id", id, "sent", c.SentCount, "failed", c.FailedCount, "total", c.TotalCount)
	}

	if before != campaign.StatusCompleted && c.Status == campaign.StatusCompleted {
		metrics.CampaignsCompleted.Inc()
		logx.L().Infow("campaign_completed",
			"campaign_id", id, "sent", c.SentCount, "failed", c.FailedCount, "total", c.TotalCount)
		campaign.Publish(ctx, r.pub, campaign.EventCompleted, id)
	}
	return c, nil
}
