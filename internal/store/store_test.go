package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	s := New(sqlx.NewDb(db, "pgx"))
	s.SetClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) })
	return s, mock
}

func TestCreateCampaign_Postgres(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO campaigns`)).
		WithArgs("n", "hi {a|b}", "client-1", nil, nil, nil, int64(2), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(regexp.QuoteMeta(`VALUES ($1, $2, 'pending', $3),($4, $5, 'pending', $6) ON CONFLICT (campaign_id, recipient) DO NOTHING`)).
		WithArgs(int64(7), "111", sqlmock.AnyArg(), int64(7), "222", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	id, total, err := s.CreateCampaign(context.Background(),
		NewCampaign{Name: "n", Template: "hi {a|b}", SessionID: "client-1"},
		[]string{"111", "222", "111"})
	if err != nil {
		t.Fatal(err)
	}
	if id != 7 || total != 2 {
		t.Fatalf("want id=7 total=2, got %d/%d", id, total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateCampaign_RollbackOnItemError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO campaigns`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO queue_items`)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, _, err := s.CreateCampaign(context.Background(), NewCampaign{Name: "n", Template: "t"}, []string{"1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateCampaign_NoRecipients(t *testing.T) {
	s, mock := newMockStore(t)

	_, _, err := s.CreateCampaign(context.Background(), NewCampaign{Name: "n"}, []string{" ", ""})
	if !errors.Is(err, ErrEmptyRecipients) {
		t.Fatalf("want ErrEmptyRecipients, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimBatch_Postgres_SkipLocked(t *testing.T) {
	s, mock := newMockStore(t)

	cols := []string{"id", "campaign_id", "recipient", "status", "lease_owner", "claimed_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta(`LIMIT $5 FOR UPDATE SKIP LOCKED`)).
		WithArgs("w1", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(7), 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(12), int64(7), "222", "processing", "w1", int64(1_700_000_000_000), int64(1_700_000_000_000)).
			AddRow(int64(11), int64(7), "111", "processing", "w1", int64(1_700_000_000_000), int64(1_700_000_000_000)))

	items, err := s.ClaimBatch(context.Background(), 7, "w1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].ID != 11 || items[1].ID != 12 {
		t.Fatalf("unexpected items: %+v", items)
	}
	if items[0].Status != campaign.ItemProcessing || items[0].LeaseOwner != "w1" || items[0].ClaimedAt == nil {
		t.Fatalf("unexpected item: %+v", items[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimBatch_ZeroLimit(t *testing.T) {
	s, mock := newMockStore(t)

	items, err := s.ClaimBatch(context.Background(), 7, "w1", 0)
	if err != nil || items != nil {
		t.Fatalf("want nil/nil, got %v/%v", items, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFinalizeItems_GuardedByProcessing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`WHERE status = 'processing' AND lease_owner = $3 AND id IN ($4, $5)`)).
		WithArgs("sent", sqlmock.AnyArg(), "w1", int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`WHERE status = 'processing' AND lease_owner = $3 AND id IN ($4)`)).
		WithArgs("failed", sqlmock.AnyArg(), "w1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := s.FinalizeItems(context.Background(), "w1", []int64{1, 2}, []int64{3})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("want 2 moved, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestReconcile_Postgres_Greatest(t *testing.T) {
	s, mock := newMockStore(t)

	cols := []string{"id", "name", "message", "session_id", "media_mime", "media_name",
		"total_count", "sent_count", "failed_count", "status", "interrupted_at", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta(`sent_count = GREATEST(sent_count,`)).
		WithArgs(sqlmock.AnyArg(), int64(7)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(7), "n", "m", "s", nil, nil, int64(2), int64(1), int64(1), "completed", nil, int64(1), int64(2)))

	c, err := s.Reconcile(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if c.SentCount != 1 || c.FailedCount != 1 || c.Status != campaign.StatusCompleted {
		t.Fatalf("unexpected campaign: %+v", c)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSetCampaignStatus_Conflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE campaigns SET status = $1, updated_at = $2 WHERE id = $3 AND status IN ($4)`)).
		WithArgs("paused", sqlmock.AnyArg(), int64(5), "running").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM campaigns WHERE id = $1`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

	err := s.SetCampaignStatus(context.Background(), 5, campaign.StatusPaused)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSetCampaignStatus_CompletedNotOperatorTarget(t *testing.T) {
	s, mock := newMockStore(t)

	err := s.SetCampaignStatus(context.Background(), 5, campaign.StatusCompleted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
