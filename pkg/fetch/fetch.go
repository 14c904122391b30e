// Package fetch provides the throttled HTTP layer shared by the crawler and
// the media downloader. Every request passes through a single rate limiter,
// and transient server errors are retried a bounded number of times.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cavaliergopher/grab/v3"

	"github.com/codedcells/favarch/pkg/ratelimiter"
)

// ErrRetriesExhausted is returned when a request kept failing with a server
// error after the configured number of retries.
var ErrRetriesExhausted = errors.New("retries exhausted")

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Safari/605.1.1"

// Response is the outcome of a single page fetch.
type Response struct {
	Status int
	Body   []byte
}

// Options configures a Fetcher.
type Options struct {
	// Cookie is sent verbatim as the Cookie header when non-empty.
	Cookie string
	// UserAgent overrides the default browser user agent.
	UserAgent string
	// MaxRetries bounds how often a request failing with a status of 500 or
	// above is reissued.
	MaxRetries int
	// Backoff is the fixed pause between retries.
	Backoff time.Duration
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
}

// Fetcher issues rate limited HTTP requests.
type Fetcher struct {
	httpClient *http.Client
	grabClient *grab.Client
	limiter    *ratelimiter.Limiter
	opts       Options
}

// New creates a Fetcher sharing the given limiter. All requests made through
// the returned Fetcher, page fetches and file downloads alike, count against
// the same admission interval.
func New(limiter *ratelimiter.Limiter, opts Options) *Fetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 3 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	httpClient := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		Timeout:   opts.Timeout,
	}
	return &Fetcher{
		httpClient: httpClient,
		grabClient: &grab.Client{
			HTTPClient: httpClient,
			UserAgent:  opts.UserAgent,
		},
		limiter: limiter,
		opts:    opts,
	}
}

// Get fetches a URL and returns its status and body. Statuses of 500 and
// above are retried after the configured backoff until the retry budget runs
// out, at which point ErrRetriesExhausted is returned. Any other status is
// returned to the caller as data, not as an error.
func (f *Fetcher) Get(ctx context.Context, url string) (*Response, error) {
	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, f.opts.Backoff); err != nil {
				return nil, err
			}
		}
		resp, err := f.get(ctx, url)
		if err != nil {
			return nil, err
		}
		if resp.Status < http.StatusInternalServerError {
			return resp, nil
		}
	}
	return nil, fmt.Errorf("fetching %s after %d retries: %w", url, f.opts.MaxRetries, ErrRetriesExhausted)
}

func (f *Fetcher) get(ctx context.Context, url string) (*Response, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if f.opts.Cookie != "" {
		req.Header.Set("Cookie", f.opts.Cookie)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	return &Response{Status: resp.StatusCode, Body: body}, nil
}

// Download fetches a URL straight to a file on disk. It obeys the shared
// limiter and the same bounded retry policy as Get.
func (f *Fetcher) Download(ctx context.Context, url, destPath string) error {
	var lastErr error
	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, f.opts.Backoff); err != nil {
				return err
			}
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := grab.NewRequest(destPath, url)
		if err != nil {
			return fmt.Errorf("failed to build download request for %s: %w", url, err)
		}
		req = req.WithContext(ctx)
		if f.opts.Cookie != "" {
			req.HTTPRequest.Header.Set("Cookie", f.opts.Cookie)
		}
		resp := f.grabClient.Do(req)
		if err := resp.Err(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("downloading %s after %d retries: %v: %w", url, f.opts.MaxRetries, lastErr, ErrRetriesExhausted)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
