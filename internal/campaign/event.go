package campaign

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventLaunched  EventType = "campaign.launched"
	EventPaused    EventType = "campaign.paused"
	EventResumed   EventType = "campaign.resumed"
	EventCompleted EventType = "campaign.completed"
	EventHeld      EventType = "campaign.held"
)

// Event is the lifecycle notification carried on the events queue.
type Event struct {
	Type       EventType `json:"type"`
	CampaignID int64     `json:"campaign_id"`
	At         time.Time `json:"at"`
}

func NewEvent(t EventType, campaignID int64) Event {
	return Event{Type: t, CampaignID: campaignID, At: time.Now().UTC()}
}

func (e Event) Marshal() ([]byte, error) { return json.Marshal(e) }

func ParseEvent(body []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(body, &e)
	return e, err
}

// Wakes reports whether the event means new work may be claimable.
func (e Event) Wakes() bool {
	return e.Type == EventLaunched || e.Type == EventResumed
}
