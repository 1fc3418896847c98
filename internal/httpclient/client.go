// Package httpclient is the shared HTTP client for feeds, pages and audio.
//
// Small GET requests go through an RFC 7234 disk cache so repeated runs
// revalidate feeds with conditional requests instead of re-downloading
// them. HEAD requests and audio downloads bypass the cache because the
// caching transport buffers whole bodies in memory.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"

	"gitloop/internal/fileutil"
	"gitloop/internal/logging"
	"gitloop/internal/services"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "gitloop/1.0 (+https://github.com/gitloop)"
	maxBodyBytes     = 32 << 20
)

// Options configures a Client.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	// CacheDir enables the disk cache when non-empty.
	CacheDir string
	Logger   *slog.Logger
}

// Client performs classified HTTP requests. Failures carry a services marker
// so retry and error accounting can tell transient from permanent problems.
type Client struct {
	cached    *http.Client
	raw       *http.Client
	userAgent string
	marker    error
	logger    *slog.Logger
}

// New constructs a Client. Errors are tagged services.ErrSourceUnavailable
// unless WithMarker selects another class.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	raw := &http.Client{Timeout: timeout}
	cached := raw
	if dir := strings.TrimSpace(opts.CacheDir); dir != "" {
		transport := httpcache.NewTransport(diskcache.New(dir))
		cached = transport.Client()
		cached.Timeout = timeout
	}
	return &Client{
		cached:    cached,
		raw:       raw,
		userAgent: userAgent,
		marker:    services.ErrSourceUnavailable,
		logger:    logger,
	}
}

// WithMarker returns a copy of c whose failures are tagged with marker.
func (c *Client) WithMarker(marker error) *Client {
	clone := *c
	clone.marker = marker
	return &clone
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// Get fetches url and returns its body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.GetWith(ctx, url, nil)
}

// GetWith fetches url with extra request headers.
func (c *Client) GetWith(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url, headers)
	if err != nil {
		return nil, err
	}
	resp, err := c.cached.Do(req)
	if err != nil {
		return nil, c.classify(url, "get", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get(httpcache.XFromCache) != "" {
		c.logger.Debug("http cache hit", logging.String("url", url))
	}
	if err := c.checkStatus(url, resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.classify(url, "read body", err)
	}
	return body, nil
}

// HeadResult describes a resource without downloading it.
type HeadResult struct {
	// FinalURL is the URL after redirects.
	FinalURL      string
	ContentLength int64
	ContentType   string
}

// Head resolves redirects and reports the size of url. ContentLength is -1
// when the server does not say.
func (c *Client) Head(ctx context.Context, url string) (HeadResult, error) {
	req, err := c.newRequest(ctx, http.MethodHead, url, nil)
	if err != nil {
		return HeadResult{}, err
	}
	resp, err := c.raw.Do(req)
	if err != nil {
		return HeadResult{}, c.classify(url, "head", err)
	}
	defer resp.Body.Close()
	if err := c.checkStatus(url, resp); err != nil {
		return HeadResult{}, err
	}
	return HeadResult{
		FinalURL:      resp.Request.URL.String(),
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
	}, nil
}

// Download streams url to dest atomically and returns the byte count.
// The request is bounded only by ctx, not by the client timeout.
func (c *Client) Download(ctx context.Context, url, dest string) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	streaming := *c.raw
	streaming.Timeout = 0
	resp, err := streaming.Do(req)
	if err != nil {
		return 0, c.classify(url, "download", err)
	}
	defer resp.Body.Close()
	if err := c.checkStatus(url, resp); err != nil {
		return 0, err
	}
	n, err := fileutil.WriteStreamAtomic(dest, resp.Body, 0o644)
	if err != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		return n, c.classify(url, "download", err)
	}
	c.logger.Debug("downloaded",
		logging.String("url", url),
		logging.String("path", dest),
		logging.Int64("bytes", n),
	)
	return n, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, services.Permanent(services.Wrap(c.marker, "http", strings.ToLower(method), "invalid url "+url, err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *Client) checkStatus(url string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	statusErr := &StatusError{URL: url, StatusCode: resp.StatusCode}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		delay, _ := ParseRetryAfter(resp.Header.Get("Retry-After"))
		statusErr.RetryAfter = delay
		return services.WithRetryAfter(services.Wrap(services.ErrRateLimit, "http", "status", "", statusErr), delay)
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode >= 500:
		return services.Wrap(c.marker, "http", "status", "", statusErr)
	default:
		return services.Permanent(services.Wrap(c.marker, "http", "status", "", statusErr))
	}
}

func (c *Client) classify(url, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return services.Wrap(c.marker, "http", op, url, err)
}

// ParseRetryAfter interprets a Retry-After header given in seconds or as an
// HTTP date.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

// StatusCode extracts the HTTP status from a classified error, or 0.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
