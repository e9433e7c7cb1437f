// Package store is the durable queue behind campaigns. All cross-worker
// coordination is expressed as conditional transitions on queue_items.status.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
	"github.com/Mutter0815/MassDispatch/pkg/db"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrEmptyRecipients   = errors.New("campaign needs at least one recipient")
)

// insertChunk bounds the rows per multi-row INSERT.
const insertChunk = 1000

type Store struct {
	DB       *sqlx.DB
	postgres bool
	now      func() time.Time
}

func New(d *sqlx.DB) *Store {
	return &Store{DB: d, postgres: db.IsPostgres(d), now: time.Now}
}

// SetClock overrides the time source, for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) nowMillis() int64 { return s.now().UnixMilli() }

func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

const campaignSummaryCols = `id, name, message, session_id, media_mime, media_name,
	total_count, sent_count, failed_count, status, interrupted_at, created_at, updated_at`

const campaignCols = campaignSummaryCols + `, media_data`

type campaignRow struct {
	ID            int64          `db:"id"`
	Name          string         `db:"name"`
	Message       string         `db:"message"`
	SessionID     string         `db:"session_id"`
	MediaData     []byte         `db:"media_data"`
	MediaMIME     sql.NullString `db:"media_mime"`
	MediaName     sql.NullString `db:"media_name"`
	TotalCount    int            `db:"total_count"`
	SentCount     int            `db:"sent_count"`
	FailedCount   int            `db:"failed_count"`
	Status        string         `db:"status"`
	InterruptedAt sql.NullInt64  `db:"interrupted_at"`
	CreatedAt     int64          `db:"created_at"`
	UpdatedAt     int64          `db:"updated_at"`
}

func (r campaignRow) toCampaign() campaign.Campaign {
	c := campaign.Campaign{
		ID:          r.ID,
		Name:        r.Name,
		Template:    r.Message,
		SessionID:   r.SessionID,
		TotalCount:  r.TotalCount,
		SentCount:   r.SentCount,
		FailedCount: r.FailedCount,
		Status:      campaign.Status(r.Status),
		CreatedAt:   time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:   time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if r.MediaMIME.Valid {
		c.Media = &campaign.Media{Data: r.MediaData, MIME: r.MediaMIME.String, Filename: r.MediaName.String}
	}
	if r.InterruptedAt.Valid {
		t := time.UnixMilli(r.InterruptedAt.Int64).UTC()
		c.InterruptedAt = &t
	}
	return c
}

func toCampaigns(rows []campaignRow) []campaign.Campaign {
	out := make([]campaign.Campaign, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCampaign())
	}
	return out
}

type NewCampaign struct {
	Name      string
	Template  string
	SessionID string
	Media     *campaign.Media
}

// CreateCampaign inserts the campaign and one pending item per distinct
// recipient in a single transaction. It returns the id and total_count.
func (s *Store) CreateCampaign(ctx context.Context, nc NewCampaign, recipients []string) (int64, int, error) {
	uniq := dedupe(recipients)
	if len(uniq) == 0 {
		return 0, 0, ErrEmptyRecipients
	}

	var mediaData, mediaMIME, mediaName any
	if nc.Media != nil {
		mediaData, mediaMIME, mediaName = nc.Media.Data, nc.Media.MIME, nc.Media.Filename
	}

	var id int64
	total := len(uniq)
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		now := s.nowMillis()
		err := tx.QueryRowxContext(ctx, tx.Rebind(`
			INSERT INTO campaigns (name, message, session_id, media_data, media_mime, media_name,
			                       total_count, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 'ready', ?, ?) RETURNING id`),
			nc.Name, nc.Template, nc.SessionID, mediaData, mediaMIME, mediaName, total, now, now,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert campaign: %w", err)
		}

		inserted, err := insertItems(ctx, tx, id, uniq, now)
		if err != nil {
			return err
		}
		if int(inserted) != total {
			total = int(inserted)
			if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE campaigns SET total_count = ? WHERE id = ?`), total, id); err != nil {
				return fmt.Errorf("fix total_count: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return id, total, nil
}

func insertItems(ctx context.Context, tx *sqlx.Tx, campaignID int64, recipients []string, now int64) (int64, error) {
	var inserted int64
	for start := 0; start < len(recipients); start += insertChunk {
		end := start + insertChunk
		if end > len(recipients) {
			end = len(recipients)
		}
		chunk := recipients[start:end]

		var b strings.Builder
		b.WriteString(`INSERT INTO queue_items (campaign_id, recipient, status, updated_at) VALUES `)
		args := make([]any, 0, len(chunk)*3)
		for i, r := range chunk {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(`(?, ?, 'pending', ?)`)
			args = append(args, campaignID, r, now)
		}
		b.WriteString(` ON CONFLICT (campaign_id, recipient) DO NOTHING`)

		res, err := tx.ExecContext(ctx, tx.Rebind(b.String()), args...)
		if err != nil {
			return inserted, fmt.Errorf("insert queue items: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (s *Store) GetCampaign(ctx context.Context, id int64) (campaign.Campaign, error) {
	var r campaignRow
	err := s.DB.GetContext(ctx, &r, s.DB.Rebind(`SELECT `+campaignCols+` FROM campaigns WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.Campaign{}, ErrNotFound
	}
	if err != nil {
		return campaign.Campaign{}, err
	}
	return r.toCampaign(), nil
}

// GetActiveCampaign returns the oldest running campaign that still has work,
// media included. Work means pending items, or no items in flight at all so
// the caller can reconcile it to completed. Campaigns in skip are passed
// over.
func (s *Store) GetActiveCampaign(ctx context.Context, skip []int64) (campaign.Campaign, error) {
	query := `SELECT ` + campaignCols + ` FROM campaigns c
		WHERE c.status = 'running'
		  AND (EXISTS (SELECT 1 FROM queue_items q WHERE q.campaign_id = c.id AND q.status = 'pending')
		       OR NOT EXISTS (SELECT 1 FROM queue_items q WHERE q.campaign_id = c.id AND q.status = 'processing'))`
	var args []any
	if len(skip) > 0 {
		var err error
		query, args, err = sqlx.In(query+` AND c.id NOT IN (?)`, skip)
		if err != nil {
			return campaign.Campaign{}, err
		}
	}
	query += ` ORDER BY c.id LIMIT 1`

	var r campaignRow
	err := s.DB.GetContext(ctx, &r, s.DB.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.Campaign{}, ErrNotFound
	}
	if err != nil {
		return campaign.Campaign{}, err
	}
	return r.toCampaign(), nil
}

// ListCampaigns returns campaigns newest first without media payloads.
func (s *Store) ListCampaigns(ctx context.Context, limit, offset int) ([]campaign.Campaign, error) {
	if limit <= 0 || limit > 1000 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var rows []campaignRow
	err := s.DB.SelectContext(ctx, &rows, s.DB.Rebind(`SELECT `+campaignSummaryCols+` FROM campaigns
		ORDER BY id DESC LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, err
	}
	return toCampaigns(rows), nil
}

func (s *Store) GetCampaignStats(ctx context.Context, id int64) (campaign.Stats, error) {
	var st campaign.Stats
	err := s.DB.QueryRowxContext(ctx, s.DB.Rebind(`
		SELECT
		  COUNT(*),
		  COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		  COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0),
		  COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0),
		  COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM queue_items
		WHERE campaign_id = ?`), id,
	).Scan(&st.Total, &st.Pending, &st.Processing, &st.Sent, &st.Failed)
	if err != nil {
		return campaign.Stats{}, err
	}
	return st, nil
}

// SetCampaignStatus applies an operator transition. The guard lives in the
// WHERE clause so concurrent operators cannot both win.
func (s *Store) SetCampaignStatus(ctx context.Context, id int64, to campaign.Status) error {
	sources := campaign.OperatorSources(to)
	if len(sources) == 0 {
		return fmt.Errorf("%w: %s is not an operator target", ErrInvalidTransition, to)
	}

	set := `status = ?, updated_at = ?`
	if to == campaign.StatusRunning {
		set += `, interrupted_at = NULL`
	}
	q, args, err := sqlx.In(`UPDATE campaigns SET `+set+` WHERE id = ? AND status IN (?)`,
		string(to), s.nowMillis(), id, statusStrings(sources))
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, s.DB.Rebind(q), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	current, err := s.CampaignStatus(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
}

func (s *Store) CampaignStatus(ctx context.Context, id int64) (campaign.Status, error) {
	var current string
	err := s.DB.GetContext(ctx, &current, s.DB.Rebind(`SELECT status FROM campaigns WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return campaign.Status(current), nil
}

// DeleteCampaign removes the campaign; its queue items go with it.
func (s *Store) DeleteCampaign(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, s.DB.Rebind(`DELETE FROM campaigns WHERE id = ?`), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func statusStrings(ss []campaign.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
