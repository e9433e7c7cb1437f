package campaign

import (
	"strings"
	"time"
)

// Media is an optional attachment sent with every message of a campaign.
type Media struct {
	Data     []byte
	MIME     string
	Filename string
}

// Kind returns the top-level MIME type ("image", "video", ...) in lower case.
func (m *Media) Kind() string {
	if m == nil {
		return ""
	}
	mime := strings.ToLower(strings.TrimSpace(m.MIME))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if i := strings.IndexByte(mime, '/'); i >= 0 {
		return strings.TrimSpace(mime[:i])
	}
	return mime
}

type Campaign struct {
	ID            int64
	Name          string
	Template      string
	SessionID     string
	Media         *Media
	TotalCount    int
	SentCount     int
	FailedCount   int
	Status        Status
	InterruptedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Done reports whether every item reached a terminal state.
func (c Campaign) Done() bool {
	return c.SentCount+c.FailedCount >= c.TotalCount
}

type QueueItem struct {
	ID         int64
	CampaignID int64
	Recipient  string
	Status     ItemStatus
	LeaseOwner string
	ClaimedAt  *time.Time
	UpdatedAt  time.Time
}

// Stats are live per-status item counts, including non-terminal states.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}

type List struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}

type MediaReq struct {
	Data     string `json:"data"     binding:"required"`
	MIMEType string `json:"mimetype" binding:"required"`
	Filename string `json:"filename"`
}

type CreateCampaignReq struct {
	Name       string    `json:"name"       binding:"required"`
	Message    string    `json:"message"    binding:"required"`
	SessionID  string    `json:"session_id"`
	Recipients []string  `json:"recipients"`
	ListIDs    []int64   `json:"list_ids"`
	Media      *MediaReq `json:"media"`
	Launch     bool      `json:"launch"`
}

type CreateCampaignResp struct {
	ID         int64 `json:"id"`
	TotalCount int   `json:"total_count"`
}

type SaveListReq struct {
	Name     string   `json:"name"     binding:"required"`
	Contacts []string `json:"contacts" binding:"required,min=1"`
}

type CampaignListItem struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	TotalCount  int       `json:"total_count"`
	SentCount   int       `json:"sent_count"`
	FailedCount int       `json:"failed_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type CampaignDetails struct {
	CampaignListItem
	Message       string     `json:"message"`
	SessionID     string     `json:"session_id"`
	MediaMIME     string     `json:"media_mime,omitempty"`
	MediaName     string     `json:"media_name,omitempty"`
	InterruptedAt *time.Time `json:"interrupted_at,omitempty"`
	Stats         Stats      `json:"stats"`
}

func ListItemOf(c Campaign) CampaignListItem {
	return CampaignListItem{
		ID:          c.ID,
		Name:        c.Name,
		Status:      c.Status,
		TotalCount:  c.TotalCount,
		SentCount:   c.SentCount,
		FailedCount: c.FailedCount,
		CreatedAt:   c.CreatedAt,
	}
}
