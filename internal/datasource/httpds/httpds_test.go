package httpds

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestOpen_RetriesThenStreams(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer x" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch atomic.AddInt32(&hits, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = io.WriteString(w, "City\nNY\n")
		}
	}))
	defer srv.Close()

	s := New(Config{
		URL:            srv.URL,
		Headers:        http.Header{"Authorization": {"Bearer x"}},
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     15 * time.Millisecond,
	})
	var waits []time.Duration
	s.sleep = noSleep(&waits)

	rc, err := s.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "City\nNY\n" {
		t.Fatalf("body = %q", body)
	}
	if diff := cmp.Diff([]time.Duration{10 * time.Millisecond, 15 * time.Millisecond}, waits); diff != "" {
		t.Fatalf("backoff waits (-want +got):\n%s", diff)
	}
}

func TestOpen_GivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := New(Config{URL: srv.URL, MaxRetries: 2})
	var waits []time.Duration
	s.sleep = noSleep(&waits)

	if _, err := s.Open(context.Background()); err == nil {
		t.Fatalf("Open error = nil, want non-nil")
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestOpen_NonRetryableStatus(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := New(Config{URL: srv.URL, MaxRetries: 5})
	if _, err := s.Open(context.Background()); err == nil {
		t.Fatalf("Open error = nil, want non-nil on 404")
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestOpen_CanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s := New(Config{URL: srv.URL, MaxRetries: 3})
	s.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	if _, err := s.Open(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Open error = %v, want context.Canceled", err)
	}
}

func TestOpen_EmptyURL(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}).Open(context.Background()); err == nil {
		t.Fatalf("Open with empty URL error = nil")
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{64, time.Second},
	}
	for _, tt := range tests {
		if got := backoff(100*time.Millisecond, tt.retry, time.Second); got != tt.want {
			t.Fatalf("backoff(retry=%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}
