// Package gateway talks to the messaging session gateway that owns the
// WhatsApp connection.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
)

type Status string

const (
	StatusOffline Status = "offline"
	StatusPairing Status = "pairing"
	StatusReady   Status = "ready"
)

// ParseStatus maps the gateway's session state onto Status. Unknown states
// count as offline.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ready", "connected", "open":
		return StatusReady
	case "qr", "pairing", "scan_qr", "connecting":
		return StatusPairing
	default:
		return StatusOffline
	}
}

// Payload is one mutated message ready for a single recipient.
type Payload struct {
	Text  string
	Media *campaign.Media
}

type Client interface {
	Status(ctx context.Context, session string) (Status, error)
	Send(ctx context.Context, session, recipient string, p Payload) error
}

var ErrRejected = errors.New("gateway rejected message")

type HTTPClient struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient builds a client for the gateway REST API at base. ratePerSec
// caps outbound sends; zero or less disables the cap.
func NewHTTPClient(base string, timeout time.Duration, ratePerSec float64) *HTTPClient {
	var lim *rate.Limiter
	if ratePerSec > 0 {
		burst := int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return &HTTPClient{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: lim,
	}
}

type statusResponse struct {
	Status string `json:"status"`
}

func (c *HTTPClient) Status(ctx context.Context, session string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/status/"+url.PathEscape(session), nil)
	if err != nil {
		return StatusOffline, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return StatusOffline, fmt.Errorf("gateway status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusOffline, fmt.Errorf("gateway status: http %d", resp.StatusCode)
	}
	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StatusOffline, fmt.Errorf("gateway status decode: %w", err)
	}
	return ParseStatus(out.Status), nil
}

type sendFile struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimetype"`
	Filename string `json:"filename"`
}

type sendRequest struct {
	ID      string    `json:"id"`
	Number  string    `json:"number"`
	Message string    `json:"message"`
	File    *sendFile `json:"file"`
}

func (c *HTTPClient) Send(ctx context.Context, session, recipient string, p Payload) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body := sendRequest{ID: session, Number: recipient, Message: p.Text}
	if p.Media != nil {
		body.File = &sendFile{
			Data:     base64.StdEncoding.EncodeToString(p.Media.Data),
			MIMEType: p.Media.MIME,
			Filename: p.Media.Filename,
		}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/send", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: http %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
