package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
)

type queueItemRow struct {
	ID         int64          `db:"id"`
	CampaignID int64          `db:"campaign_id"`
	Recipient  string         `db:"recipient"`
	Status     string         `db:"status"`
	LeaseOwner sql.NullString `db:"lease_owner"`
	ClaimedAt  sql.NullInt64  `db:"claimed_at"`
	UpdatedAt  int64          `db:"updated_at"`
}

func (r queueItemRow) toItem() campaign.QueueItem {
	it := campaign.QueueItem{
		ID:         r.ID,
		CampaignID: r.CampaignID,
		Recipient:  r.Recipient,
		Status:     campaign.ItemStatus(r.Status),
		LeaseOwner: r.LeaseOwner.String,
		UpdatedAt:  time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if r.ClaimedAt.Valid {
		t := time.UnixMilli(r.ClaimedAt.Int64).UTC()
		it.ClaimedAt = &t
	}
	return it
}

// ClaimBatch moves up to limit pending items of the campaign to processing
// and returns them, in one statement. On Postgres the inner select locks the
// rows it picks and skips rows another claimer holds; SQLite runs the whole
// statement under its single writer lock. Either way two concurrent claims
// never return the same item.
func (s *Store) ClaimBatch(ctx context.Context, campaignID int64, owner string, limit int) ([]campaign.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	lock := ""
	if s.postgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	now := s.nowMillis()

	var rows []queueItemRow
	err := s.DB.SelectContext(ctx, &rows, s.DB.Rebind(`
		UPDATE queue_items
		   SET status = 'processing', lease_owner = ?, claimed_at = ?, updated_at = ?
		 WHERE status = 'pending'
		   AND id IN (
		       SELECT id FROM queue_items
		        WHERE campaign_id = ? AND status = 'pending'
		        ORDER BY id
		        LIMIT ?`+lock+`
		   )
		RETURNING id, campaign_id, recipient, status, lease_owner, claimed_at, updated_at`),
		owner, now, now, campaignID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	items := make([]campaign.QueueItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toItem())
	}
	return items, nil
}

// FinalizeItems moves processing items leased by owner to sent or failed.
// Items already in a terminal state, or whose lease was reclaimed and handed
// to another worker, are left alone, so repeating a call changes nothing. It
// returns how many rows actually moved.
func (s *Store) FinalizeItems(ctx context.Context, owner string, successIDs, failIDs []int64) (int64, error) {
	var moved int64
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		now := s.nowMillis()
		for _, step := range []struct {
			status campaign.ItemStatus
			ids    []int64
		}{
			{campaign.ItemSent, successIDs},
			{campaign.ItemFailed, failIDs},
		} {
			if len(step.ids) == 0 {
				continue
			}
			n, err := execIn(ctx, tx, `
				UPDATE queue_items SET status = ?, updated_at = ?
				 WHERE status = 'processing' AND lease_owner = ? AND id IN (?)`,
				string(step.status), now, owner, step.ids)
			if err != nil {
				return fmt.Errorf("finalize %s: %w", step.status, err)
			}
			moved += n
		}
		return nil
	})
	return moved, err
}

// ReleaseItems hands items owner claimed but never attempted back to pending.
func (s *Store) ReleaseItems(ctx context.Context, owner string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		n, err = execIn(ctx, tx, `
			UPDATE queue_items SET status = 'pending', lease_owner = NULL, claimed_at = NULL, updated_at = ?
			 WHERE status = 'processing' AND lease_owner = ? AND id IN (?)`,
			s.nowMillis(), owner, ids)
		return err
	})
	return n, err
}

// RenewLeases restarts the lease clock on the items owner still holds and
// returns their ids. Ids missing from the result were reclaimed by the sweep.
func (s *Store) RenewLeases(ctx context.Context, owner string, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	now := s.nowMillis()
	q, args, err := sqlx.In(`
		UPDATE queue_items SET claimed_at = ?, updated_at = ?
		 WHERE status = 'processing' AND lease_owner = ? AND id IN (?)
		RETURNING id`, now, now, owner, ids)
	if err != nil {
		return nil, err
	}
	var renewed []int64
	if err := s.DB.SelectContext(ctx, &renewed, s.DB.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("renew leases: %w", err)
	}
	return renewed, nil
}

// ReclaimExpired returns processing items whose lease started before cutoff
// to pending. A worker that crashed mid-batch leaves such items behind.
func (s *Store) ReclaimExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, s.DB.Rebind(`
		UPDATE queue_items SET status = 'pending', lease_owner = NULL, claimed_at = NULL, updated_at = ?
		 WHERE status = 'processing' AND claimed_at < ?`),
		s.nowMillis(), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("reclaim expired: %w", err)
	}
	return res.RowsAffected()
}

// ListItems returns every item of a campaign ordered by id.
func (s *Store) ListItems(ctx context.Context, campaignID int64) ([]campaign.QueueItem, error) {
	var rows []queueItemRow
	err := s.DB.SelectContext(ctx, &rows, s.DB.Rebind(`
		SELECT id, campaign_id, recipient, status, lease_owner, claimed_at, updated_at
		  FROM queue_items WHERE campaign_id = ? ORDER BY id`), campaignID)
	if err != nil {
		return nil, err
	}
	items := make([]campaign.QueueItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toItem())
	}
	return items, nil
}

func execIn(ctx context.Context, tx *sqlx.Tx, query string, args ...any) (int64, error) {
	q, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(q), expanded...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
