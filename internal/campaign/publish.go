package campaign

import (
	"context"
	"time"

	"github.com/Mutter0815/MassDispatch/pkg/logx"
	"github.com/Mutter0815/MassDispatch/pkg/metrics"
)

type Publisher interface {
	PublishJSON(ctx context.Context, body []byte) error
}

// Publish emits a lifecycle event. Failures are logged and swallowed: events
// are hints and the store already holds the state they describe.
func Publish(ctx context.Context, pub Publisher, t EventType, campaignID int64) {
	if pub == nil {
		return
	}
	body, err := NewEvent(t, campaignID).Marshal()
	if err != nil {
		logx.L().Errorw("event_marshal_error", "type", t, "campaign_id", campaignID, "error", err)
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pub.PublishJSON(pctx, body); err != nil {
		logx.L().Warnw("event_publish_error", "type", t, "campaign_id", campaignID, "error", err)
		return
	}
	metrics.EventsPublished.WithLabelValues(string(t)).Inc()
}
