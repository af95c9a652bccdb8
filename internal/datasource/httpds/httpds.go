// Package httpds streams the input CSV from an HTTP(S) URL. Connection
// failures, 429 and 5xx responses are retried with exponential backoff until
// a response arrives; the body is then handed to the reader as it downloads.
package httpds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"supplyetl/internal/datasource"
)

var _ datasource.Source = (*Source)(nil)

// Config configures a Source. Zero values get defaults: 30s header timeout,
// 200ms initial backoff, 5s maximum backoff, no retries.
type Config struct {
	URL     string
	Headers http.Header

	MaxRetries     int
	HeaderTimeout  time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Transport replaces the default transport; used by tests.
	Transport http.RoundTripper
}

// Source downloads one URL per Open.
type Source struct {
	url            string
	headers        http.Header
	client         *http.Client
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Source for cfg.
func New(cfg Config) *Source {
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = cfg.HeaderTimeout
		transport = t
	}
	return &Source{
		url:            cfg.URL,
		headers:        cfg.Headers.Clone(),
		client:         &http.Client{Transport: transport},
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		sleep:          sleepContext,
	}
}

// URL returns the configured URL.
func (s *Source) URL() string { return s.url }

// Open issues the GET and returns the response body. Non-2xx final
// responses are errors.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	if s.url == "" {
		return nil, fmt.Errorf("httpds: url must not be empty")
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, backoff(s.initialBackoff, attempt-1, s.maxBackoff)); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
		if err != nil {
			return nil, fmt.Errorf("httpds: build request: %w", err)
		}
		for k, vs := range s.headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("httpds: GET %s: %w", s.url, err)
			continue
		}
		if retryable(resp.StatusCode) {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("httpds: GET %s: retryable status %d", s.url, resp.StatusCode)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("httpds: GET %s: status %d", s.url, resp.StatusCode)
		}
		return resp.Body, nil
	}
	return nil, lastErr
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// backoff is initial*2^retry capped at max.
func backoff(initial time.Duration, retry int, max time.Duration) time.Duration {
	if retry > 30 {
		return max
	}
	d := initial << retry
	if d > max || d <= 0 {
		return max
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
