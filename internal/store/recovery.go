package store

import (
	"context"
	"time"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
)

// ListStaleRunning returns running campaigns with no campaign or item update
// since before. Those are the ones a crashed process left behind.
func (s *Store) ListStaleRunning(ctx context.Context, before time.Time) ([]campaign.Campaign, error) {
	cutoff := before.UnixMilli()
	var rows []campaignRow
	err := s.DB.SelectContext(ctx, &rows, s.DB.Rebind(`
		SELECT `+campaignSummaryCols+` FROM campaigns c
		 WHERE c.status = 'running'
		   AND c.updated_at < ?
		   AND NOT EXISTS (
		       SELECT 1 FROM queue_items q
		        WHERE q.campaign_id = c.id AND q.updated_at >= ?)
		 ORDER BY c.id`), cutoff, cutoff)
	if err != nil {
		return nil, err
	}
	return toCampaigns(rows), nil
}

// ListRunning returns every running campaign, oldest first.
func (s *Store) ListRunning(ctx context.Context) ([]campaign.Campaign, error) {
	var rows []campaignRow
	err := s.DB.SelectContext(ctx, &rows, `SELECT `+campaignSummaryCols+` FROM campaigns
		WHERE status = 'running' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return toCampaigns(rows), nil
}

// HoldCampaign pauses a running campaign pending operator consent. It
// reports false when the campaign was no longer running.
func (s *Store) HoldCampaign(ctx context.Context, id int64) (bool, error) {
	now := s.nowMillis()
	res, err := s.DB.ExecContext(ctx, s.DB.Rebind(`
		UPDATE campaigns SET status = 'paused', interrupted_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'running'`), now, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListInterrupted returns campaigns held by recovery and not yet confirmed.
func (s *Store) ListInterrupted(ctx context.Context) ([]campaign.Campaign, error) {
	var rows []campaignRow
	err := s.DB.SelectContext(ctx, &rows, `SELECT `+campaignSummaryCols+` FROM campaigns
		WHERE status = 'paused' AND interrupted_at IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return toCampaigns(rows), nil
}
