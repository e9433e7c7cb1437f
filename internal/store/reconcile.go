package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
)

// Reconcile rewrites the campaign counters from the item statuses and marks
// the campaign completed once every item is terminal, whatever state it was
// in, so that sent+failed == total always implies completed. Counters only move
// forward: items never leave a terminal state, so taking the larger of the
// stored and counted value lets overlapping reconciles converge.
func (s *Store) Reconcile(ctx context.Context, id int64) (campaign.Campaign, error) {
	greatest := "MAX"
	if s.postgres {
		greatest = "GREATEST"
	}

	var r campaignRow
	err := s.DB.GetContext(ctx, &r, s.DB.Rebind(fmt.Sprintf(`
		UPDATE campaigns SET
		  sent_count = %[1]s(sent_count,
		      (SELECT COUNT(*) FROM queue_items q WHERE q.campaign_id = campaigns.id AND q.status = 'sent')),
		  failed_count = %[1]s(failed_count,
		      (SELECT COUNT(*) FROM queue_items q WHERE q.campaign_id = campaigns.id AND q.status = 'failed')),
		  status = CASE
		      WHEN status <> 'completed'
		       AND (SELECT COUNT(*) FROM queue_items q
		             WHERE q.campaign_id = campaigns.id AND q.status IN ('sent', 'failed')) >= total_count
		      THEN 'completed'
		      ELSE status
		  END,
		  updated_at = ?
		WHERE id = ?
		RETURNING `+campaignSummaryCols, greatest)),
		s.nowMillis(), id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.Campaign{}, ErrNotFound
	}
	if err != nil {
		return campaign.Campaign{}, fmt.Errorf("reconcile campaign %d: %w", id, err)
	}
	return r.toCampaign(), nil
}
