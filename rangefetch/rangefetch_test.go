package rangefetch

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/TheYoke/pngbin/internal/config"
	"github.com/TheYoke/pngbin/pngerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSucceedsOnFirstTry(t *testing.T) {
	body := []byte("hello, range")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=0-11", r.Header.Get("Range"))
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body)
	}))
	defer srv.Close()

	f := New(srv.URL, srv.Client(), 3, "pngbin-test/1.0")
	r, err := f.Fetch(0, 11)
	require.NoError(t, err)
	got := make([]byte, len(body))
	n, err := r.Read(got)
	require.NoError(t, err)
	assert.Equal(t, body, got[:n])
}

func TestFetchRetriesOnBadContentType(t *testing.T) {
	body := []byte("0123456789")
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		if n == 1 {
			w.Header().Set("Content-Type", "text/html")
		} else {
			w.Header().Set("Content-Type", "image/png")
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body)
	}))
	defer srv.Close()

	f := New(srv.URL, srv.Client(), 3, "")
	r, err := f.Fetch(0, 9)
	require.NoError(t, err)
	got := make([]byte, len(body))
	n, err := r.Read(got)
	require.NoError(t, err)
	assert.Equal(t, body, got[:n])
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestNewFromConfigAppliesTimeoutAttemptsAndUserAgent(t *testing.T) {
	body := []byte("0123456789")
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body)
	}))
	defer srv.Close()

	cfg := config.Config{RangeFetchAttempts: 2, UserAgent: "pngbin-config-test/1.0"}
	f := NewFromConfig(srv.URL, cfg)
	assert.Equal(t, cfg.HTTPTimeout, f.client.Timeout)
	assert.EqualValues(t, cfg.RangeFetchAttempts, f.attempts)

	r, err := f.Fetch(0, 9)
	require.NoError(t, err)
	got := make([]byte, len(body))
	n, err := r.Read(got)
	require.NoError(t, err)
	assert.Equal(t, body, got[:n])
	assert.Equal(t, cfg.UserAgent, gotUA)
}

func TestFetchFailsAfterAllAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(srv.URL, srv.Client(), 3, "")
	_, err := f.Fetch(0, 9)
	require.Error(t, err)
	assert.True(t, pngerr.Is(err, pngerr.NetRead))
}
