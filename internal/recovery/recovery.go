// Package recovery finds campaigns a crashed process left running and holds
// them until an operator decides whether to continue.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
	"github.com/Mutter0815/MassDispatch/pkg/logx"
	"github.com/Mutter0815/MassDispatch/pkg/metrics"
)

type storeAPI interface {
	ListStaleRunning(ctx context.Context, before time.Time) ([]campaign.Campaign, error)
	ListRunning(ctx context.Context) ([]campaign.Campaign, error)
	HoldCampaign(ctx context.Context, id int64) (bool, error)
	ListInterrupted(ctx context.Context) ([]campaign.Campaign, error)
	SetCampaignStatus(ctx context.Context, id int64, to campaign.Status) error
}

type Monitor struct {
	store      storeAPI
	pub        campaign.Publisher
	staleAfter time.Duration
	now        func() time.Time
}

// NewMonitor builds a monitor that holds running campaigns idle for at least
// staleAfter. A zero staleAfter holds every running campaign, which suits a
// single worker deployment where nothing else can be driving them.
func NewMonitor(st storeAPI, pub campaign.Publisher, staleAfter time.Duration) *Monitor {
	return &Monitor{store: st, pub: pub, staleAfter: staleAfter, now: time.Now}
}

// Scan holds every running campaign without activity in the stale window
// and returns the held ones. A campaign another live worker is driving keeps
// touching its items and is left alone.
func (m *Monitor) Scan(ctx context.Context) ([]campaign.Campaign, error) {
	var (
		stale []campaign.Campaign
		err   error
	)
	if m.staleAfter <= 0 {
		stale, err = m.store.ListRunning(ctx)
	} else {
		stale, err = m.store.ListStaleRunning(ctx, m.now().Add(-m.staleAfter))
	}
	if err != nil {
		return nil, fmt.Errorf("recovery scan: %w", err)
	}

	held := make([]campaign.Campaign, 0, len(stale))
	for _, c := range stale {
		ok, err := m.store.HoldCampaign(ctx, c.ID)
		if err != nil {
			return held, fmt.Errorf("hold campaign %d: %w", c.ID, err)
		}
		if !ok {
			continue
		}
		metrics.CampaignsHeld.Inc()
		logx.L().Warnw("campaign_interrupted",
			"campaign_id", c.ID, "name", c.Name, "sent", c.SentCount, "failed", c.FailedCount, "total", c.TotalCount)
		campaign.Publish(ctx, m.pub, campaign.EventHeld, c.ID)
		c.Status = campaign.StatusPaused
		held = append(held, c)
	}
	return held, nil
}

// Pending lists campaigns waiting for a resume decision.
func (m *Monitor) Pending(ctx context.Context) ([]campaign.Campaign, error) {
	return m.store.ListInterrupted(ctx)
}

// Resume confirms an interrupted campaign and sets it running again.
func (m *Monitor) Resume(ctx context.Context, id int64) error {
	if err := m.store.SetCampaignStatus(ctx, id, campaign.StatusRunning); err != nil {
		return err
	}
	logx.L().Infow("campaign_resumed", "campaign_id", id)
	campaign.Publish(ctx, m.pub, campaign.EventResumed, id)
	return nil
}
