package recovery

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
	"github.com/Mutter0815/MassDispatch/internal/store"
	"github.com/Mutter0815/MassDispatch/pkg/db"
)

type recordingPub struct{ types []campaign.EventType }

func (p *recordingPub) PublishJSON(_ context.Context, body []byte) error {
	ev, err := campaign.ParseEvent(body)
	if err != nil {
		return err
	}
	p.types = append(p.types, ev.Type)
	return nil
}

func newStore(t *testing.T, now *time.Time) *store.Store {
	t.Helper()
	d, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "r.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	s := store.New(d)
	s.SetClock(func() time.Time { return *now })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestMonitor_HoldsStaleAndResumes(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newStore(t, &now)

	id, _, err := s.CreateCampaign(ctx, store.NewCampaign{Name: "a", Template: "t"}, []string{"1", "2"})
	require.NoError(t, err)
	require.NoError(t, s.SetCampaignStatus(ctx, id, campaign.StatusRunning))
	idle, _, err := s.CreateCampaign(ctx, store.NewCampaign{Name: "b", Template: "t"}, []string{"3"})
	require.NoError(t, err)

	now = now.Add(time.Hour)
	pub := &recordingPub{}
	m := NewMonitor(s, pub, 5*time.Minute)
	m.now = func() time.Time { return now }

	held, err := m.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, id, held[0].ID)
	assert.Equal(t, campaign.StatusPaused, held[0].Status)

	// a second scan finds nothing: the campaign is no longer running
	again, err := m.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	require.NoError(t, m.Resume(ctx, id))
	pending, err = m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	c, err := s.GetCampaign(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusRunning, c.Status)
	assert.Nil(t, c.InterruptedAt)

	other, err := s.GetCampaign(ctx, idle)
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusReady, other.Status)

	assert.Equal(t, []campaign.EventType{campaign.EventHeld, campaign.EventResumed}, pub.types)
}

func TestMonitor_LeavesActiveCampaigns(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newStore(t, &now)

	id, _, err := s.CreateCampaign(ctx, store.NewCampaign{Name: "a", Template: "t"}, []string{"1", "2"})
	require.NoError(t, err)
	require.NoError(t, s.SetCampaignStatus(ctx, id, campaign.StatusRunning))

	now = now.Add(time.Hour)
	// another worker claims an item just now
	_, err = s.ClaimBatch(ctx, id, "live", 1)
	require.NoError(t, err)

	m := NewMonitor(s, nil, 5*time.Minute)
	m.now = func() time.Time { return now }
	held, err := m.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestMonitor_ZeroStaleWindowHoldsEveryRunningCampaign(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newStore(t, &now)

	id, _, err := s.CreateCampaign(ctx, store.NewCampaign{Name: "a", Template: "t"}, []string{"1", "2"})
	require.NoError(t, err)
	require.NoError(t, s.SetCampaignStatus(ctx, id, campaign.StatusRunning))
	// activity a moment ago would keep it out of a 5m window
	_, err = s.ClaimBatch(ctx, id, "crashed", 1)
	require.NoError(t, err)

	m := NewMonitor(s, nil, 0)
	m.now = func() time.Time { return now }
	held, err := m.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, id, held[0].ID)

	c, err := s.GetCampaign(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusPaused, c.Status)
	assert.NotNil(t, c.InterruptedAt)
}

func TestMonitor_ResumeRejectsNonPaused(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := newStore(t, &now)

	id, _, err := s.CreateCampaign(ctx, store.NewCampaign{Name: "a", Template: "t"}, []string{"1"})
	require.NoError(t, err)
	require.NoError(t, s.SetCampaignStatus(ctx, id, campaign.StatusRunning))

	err = NewMonitor(s, nil, time.Minute).Resume(ctx, id)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}
