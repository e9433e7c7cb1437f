package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
)

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"READY":     StatusReady,
		"connected": StatusReady,
		"QR":        StatusPairing,
		"pairing":   StatusPairing,
		"OFFLINE":   StatusOffline,
		"":          StatusOffline,
		"weird":     StatusOffline,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseStatus(in), in)
	}
}

func TestHTTPClient_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/status/client-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"READY"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", time.Second, 0)
	st, err := c.Status(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, st)
}

func TestHTTPClient_StatusHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	st, err := NewHTTPClient(srv.URL, time.Second, 0).Status(context.Background(), "s")
	assert.Error(t, err)
	assert.Equal(t, StatusOffline, st)
}

func TestHTTPClient_SendWithMedia(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/send", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	media := &campaign.Media{Data: []byte{1, 2, 3}, MIME: "image/png", Filename: "p.png"}
	err := NewHTTPClient(srv.URL, time.Second, 100).
		Send(context.Background(), "client-1", "15550001", Payload{Text: "hello", Media: media})
	require.NoError(t, err)

	assert.Equal(t, "client-1", got.ID)
	assert.Equal(t, "15550001", got.Number)
	assert.Equal(t, "hello", got.Message)
	require.NotNil(t, got.File)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), got.File.Data)
	assert.Equal(t, "image/png", got.File.MIMEType)
	assert.Equal(t, "p.png", got.File.Filename)
}

func TestHTTPClient_SendTextOnlyHasNullFile(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
	}))
	defer srv.Close()

	require.NoError(t, NewHTTPClient(srv.URL, time.Second, 0).
		Send(context.Background(), "s", "1", Payload{Text: "t"}))
	v, ok := raw["file"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestHTTPClient_SendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not on whatsapp", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := NewHTTPClient(srv.URL, time.Second, 0).Send(context.Background(), "s", "1", Payload{Text: "t"})
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Contains(t, err.Error(), "not on whatsapp")
}

func TestHTTPClient_SendHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	// the first token is consumed, the second wait outlives the deadline
	c := NewHTTPClient(srv.URL, time.Second, 0.01)
	require.NoError(t, c.Send(context.Background(), "s", "1", Payload{Text: "t"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, c.Send(ctx, "s", "2", Payload{Text: "t"}))
}
