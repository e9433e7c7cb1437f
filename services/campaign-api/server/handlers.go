package server

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
	"github.com/Mutter0815/MassDispatch/internal/store"
	"github.com/Mutter0815/MassDispatch/pkg/logx"
	"github.com/Mutter0815/MassDispatch/pkg/metrics"
)

// maxMediaBytes caps a decoded attachment.
const maxMediaBytes = 16 << 20

type storeAPI interface {
	CreateCampaign(ctx context.Context, nc store.NewCampaign, recipients []string) (int64, int, error)
	GetCampaign(ctx context.Context, id int64) (campaign.Campaign, error)
	GetCampaignStats(ctx context.Context, id int64) (campaign.Stats, error)
	ListCampaigns(ctx context.Context, limit, offset int) ([]campaign.Campaign, error)
	SetCampaignStatus(ctx context.Context, id int64, to campaign.Status) error
	DeleteCampaign(ctx context.Context, id int64) error

	SaveList(ctx context.Context, name string, contacts []string) (int64, error)
	GetListContents(ctx context.Context, id int64) ([]string, error)
	ListLists(ctx context.Context) ([]campaign.List, error)
	DeleteList(ctx context.Context, id int64) error
}

type recoveryAPI interface {
	Pending(ctx context.Context) ([]campaign.Campaign, error)
	Resume(ctx context.Context, id int64) error
}

type Handlers struct {
	Store          storeAPI
	Recovery       recoveryAPI
	Pub            campaign.Publisher
	DefaultSession string
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *Handlers) CreateCampaign(c *gin.Context) {
	var req campaign.CreateCampaignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	nc := store.NewCampaign{Name: req.Name, Template: req.Message, SessionID: req.SessionID}
	if nc.SessionID == "" {
		nc.SessionID = h.DefaultSession
	}
	if req.Media != nil {
		m, status, err := decodeMedia(req.Media)
		if err != nil {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		nc.Media = m
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	recipients, err := campaign.NewBuilder().
		AddRecipients(req.Recipients...).
		SelectLists(req.ListIDs...).
		Resolve(ctx, h.Store)
	switch {
	case errors.Is(err, campaign.ErrNoRecipients):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown contact list"})
		return
	case err != nil:
		logx.L().Errorw("resolve_recipients_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "recipients error"})
		return
	}

	id, total, err := h.Store.CreateCampaign(ctx, nc, recipients)
	if err != nil {
		h.storeError(c, "create_campaign", 0, err)
		return
	}
	metrics.CampaignsCreated.Inc()
	metrics.QueueItemsCreated.Add(float64(total))
	logx.L().Infow("campaign_created", "campaign_id", id, "total", total, "session", nc.SessionID, "media", nc.Media != nil)

	if req.Launch {
		if err := h.Store.SetCampaignStatus(ctx, id, campaign.StatusRunning); err != nil {
			h.storeError(c, "launch_campaign", id, err)
			return
		}
		campaign.Publish(ctx, h.Pub, campaign.EventLaunched, id)
	}

	c.JSON(http.StatusCreated, campaign.CreateCampaignResp{ID: id, TotalCount: total})
}

func decodeMedia(m *campaign.MediaReq) (*campaign.Media, int, error) {
	data := m.Data
	// accept data URLs as produced by browsers
	if strings.HasPrefix(data, "data:") {
		if i := strings.Index(data, ","); i >= 0 {
			data = data[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, http.StatusBadRequest, errors.New("media data is not valid base64")
	}
	if len(raw) == 0 {
		return nil, http.StatusBadRequest, errors.New("media data is empty")
	}
	if len(raw) > maxMediaBytes {
		return nil, http.StatusRequestEntityTooLarge, errors.New("media too large")
	}
	return &campaign.Media{Data: raw, MIME: m.MIMEType, Filename: m.Filename}, 0, nil
}

func (h *Handlers) ListCampaigns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	rows, err := h.Store.ListCampaigns(ctx, limit, offset)
	if err != nil {
		logx.L().Errorw("list_campaigns_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list error"})
		return
	}

	out := make([]campaign.CampaignListItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, campaign.ListItemOf(r))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetCampaign(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	camp, err := h.Store.GetCampaign(ctx, id)
	if err != nil {
		h.storeError(c, "get_campaign", id, err)
		return
	}
	stats, err := h.Store.GetCampaignStats(ctx, id)
	if err != nil {
		logx.L().Errorw("get_campaign_stats_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats error"})
		return
	}

	resp := campaign.CampaignDetails{
		CampaignListItem: campaign.ListItemOf(camp),
		Message:          camp.Template,
		SessionID:        camp.SessionID,
		InterruptedAt:    camp.InterruptedAt,
		Stats:            stats,
	}
	if camp.Media != nil {
		resp.MediaMIME = camp.Media.MIME
		resp.MediaName = camp.Media.Filename
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) LaunchCampaign(c *gin.Context) {
	h.transition(c, campaign.StatusRunning, campaign.EventLaunched)
}

func (h *Handlers) PauseCampaign(c *gin.Context) {
	h.transition(c, campaign.StatusPaused, campaign.EventPaused)
}

// ResumeCampaign goes through recovery so an interrupted hold is cleared
// the same way the CLI clears it.
func (h *Handlers) ResumeCampaign(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.Recovery.Resume(ctx, id); err != nil {
		h.storeError(c, "resume_campaign", id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": campaign.StatusRunning})
}

func (h *Handlers) transition(c *gin.Context, to campaign.Status, ev campaign.EventType) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.Store.SetCampaignStatus(ctx, id, to); err != nil {
		h.storeError(c, "set_campaign_status", id, err)
		return
	}
	logx.L().Infow("campaign_status_changed", "campaign_id", id, "status", to)
	campaign.Publish(ctx, h.Pub, ev, id)
	c.JSON(http.StatusOK, gin.H{"id": id, "status": to})
}

func (h *Handlers) DeleteCampaign(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := h.Store.DeleteCampaign(ctx, id); err != nil {
		h.storeError(c, "delete_campaign", id, err)
		return
	}
	logx.L().Infow("campaign_deleted", "campaign_id", id)
	c.Status(http.StatusNoContent)
}

func (h *Handlers) ListInterrupted(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	rows, err := h.Recovery.Pending(ctx)
	if err != nil {
		logx.L().Errorw("list_interrupted_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "recovery error"})
		return
	}
	out := make([]campaign.CampaignDetails, 0, len(rows))
	for _, r := range rows {
		out = append(out, campaign.CampaignDetails{
			CampaignListItem: campaign.ListItemOf(r),
			Message:          r.Template,
			SessionID:        r.SessionID,
			InterruptedAt:    r.InterruptedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) SaveList(c *gin.Context) {
	var req campaign.SaveListReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contacts := make([]string, 0, len(req.Contacts))
	for _, r := range req.Contacts {
		if n := campaign.NormalizeRecipient(r); n != "" {
			contacts = append(contacts, n)
		}
	}
	if len(contacts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": campaign.ErrNoRecipients.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	id, err := h.Store.SaveList(ctx, req.Name, contacts)
	if err != nil {
		h.storeError(c, "save_list", 0, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "count": len(contacts)})
}

func (h *Handlers) ListLists(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	lists, err := h.Store.ListLists(ctx)
	if err != nil {
		h.storeError(c, "list_lists", 0, err)
		return
	}
	c.JSON(http.StatusOK, lists)
}

func (h *Handlers) GetList(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	contacts, err := h.Store.GetListContents(ctx, id)
	if err != nil {
		h.storeError(c, "get_list", id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "contacts": contacts})
}

func (h *Handlers) DeleteList(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.Store.DeleteList(ctx, id); err != nil {
		h.storeError(c, "delete_list", id, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (h *Handlers) storeError(c *gin.Context, op string, id int64, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrEmptyRecipients):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logx.L().Errorw(op+"_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
