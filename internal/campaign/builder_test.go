package campaign

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLists map[int64][]string

func (f fakeLists) GetListContents(_ context.Context, id int64) ([]string, error) {
	c, ok := f[id]
	if !ok {
		return nil, errors.New("no such list")
	}
	return c, nil
}

func TestBuilder_DedupesAcrossSources(t *testing.T) {
	lists := fakeLists{
		1: {"111", "333"},
		2: {"333", "444"},
	}

	got, err := NewBuilder().
		AddRecipients("111", "222", "111").
		SelectLists(1, 2).
		Resolve(context.Background(), lists)
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222", "333", "444"}, got)
}

func TestBuilder_NormalizesBeforeDedup(t *testing.T) {
	got, err := NewBuilder().
		AddRecipients("+1 (555) 010-2000", "15550102000", "15550102000@s.whatsapp.net", "  ").
		Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"15550102000"}, got)
}

func TestNormalizeRecipient_GroupIDs(t *testing.T) {
	assert.Equal(t, "120363-1699@g.us", NormalizeRecipient(" 120363-1699@G.US "))
	assert.Equal(t, "15550102000", NormalizeRecipient("15550102000@c.us"))
	assert.Equal(t, "", NormalizeRecipient("--@g.us"))

	got, err := NewBuilder().
		AddRecipients("123-456@g.us", "123-789@g.us", "123456", "123-456@g.us").
		Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"123-456@g.us", "123-789@g.us", "123456"}, got)
}

func TestBuilder_Empty(t *testing.T) {
	_, err := NewBuilder().AddRecipients("", "abc").Resolve(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestBuilder_ListError(t *testing.T) {
	_, err := NewBuilder().SelectLists(9).Resolve(context.Background(), fakeLists{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expand list 9")
}

func TestStatus_CanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusReady, StatusRunning, true},
		{StatusRunning, StatusPaused, true},
		{StatusPaused, StatusRunning, true},
		{StatusReady, StatusPaused, false},
		{StatusRunning, StatusCompleted, false},
		{StatusCompleted, StatusRunning, false},
		{StatusCompleted, StatusPaused, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestMediaKind(t *testing.T) {
	assert.Equal(t, "image", (&Media{MIME: "Image/JPEG"}).Kind())
	assert.Equal(t, "video", (&Media{MIME: "video/mp4; codecs=avc1"}).Kind())
	assert.Equal(t, "", (*Media)(nil).Kind())
}
