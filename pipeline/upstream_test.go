package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPScanner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "report.pdf", r.Header.Get("X-File-Name"))
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		if string(body) == "EICAR" {
			w.Write([]byte(`{"infected":true,"signature":"Eicar-Test-Signature"}`))
			return
		}
		w.Write([]byte(`{"infected":false}`))
	}))
	defer srv.Close()

	s := NewHTTPScanner(srv.URL, 100, time.Second)
	res, err := s.Scan(context.Background(), "report.pdf", "application/pdf", []byte("EICAR"))
	require.NoError(t, err)
	assert.True(t, res.Infected)
	assert.Equal(t, "Eicar-Test-Signature", res.Signature)

	res, err = s.Scan(context.Background(), "report.pdf", "application/pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.False(t, res.Infected)
}

func TestHTTPModerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Content-Type") {
		case "image/png":
			w.Write([]byte(`{"score":0.42}`))
		case "text/plain":
			w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	m := NewHTTPModerator(srv.URL, 100, time.Second)
	score, err := m.Moderate(context.Background(), "image/png", []byte("png"))
	require.NoError(t, err)
	assert.InDelta(t, 0.42, score, 1e-9)

	_, err = m.Moderate(context.Background(), "text/plain", []byte("hi"))
	assert.Error(t, err)

	_, err = m.Moderate(context.Background(), "image/gif", []byte("gif"))
	assert.ErrorContains(t, err, "503")
}

func TestUpstreamWithoutEndpoint(t *testing.T) {
	_, err := NewHTTPScanner("", 1, time.Second).Scan(context.Background(), "a", "text/plain", nil)
	assert.Error(t, err)
}

func TestUpstreamHonoursContext(t *testing.T) {
	m := NewHTTPModerator("http://127.0.0.1:1", 0.001, time.Second)
	// Drain the burst so the next call has to wait.
	m.limiter.Allow()
	m.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Moderate(ctx, "image/png", nil)
	assert.Error(t, err)
}
