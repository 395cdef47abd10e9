package httpcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
)

const (
	defaultTimeout    = 5 * time.Minute
	defaultRetries    = 3
	defaultRetryDelay = time.Second
	defaultUserAgent  = "srcscan"
)

var (
	// ErrEmptyBody is returned when a server answers with an empty body.
	ErrEmptyBody = errors.New("empty response body")

	// ErrNetwork marks transport level failures.
	ErrNetwork = errors.New("network error")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	Timeout    time.Duration
	Proxy      string
	Retries    int
	RetryDelay time.Duration
	UserAgent  string
	Logger     *log.Logger
}

// Client downloads files through a Cache.
type Client struct {
	http      *http.Client
	cache     *Cache
	retries   int
	delay     time.Duration
	userAgent string
	logger    *log.Logger
}

// NewClient creates a Client that serves and stores responses in cache.
func NewClient(cache *Cache, opts Options) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Archives must arrive byte-for-byte as published; transparent gzip
	// decoding would break both checksums and format detection.
	transport.DisableCompression = true
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy URL %q: %w", opts.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Client{
		http:      &http.Client{Timeout: timeout, Transport: transport},
		cache:     cache,
		retries:   retries,
		delay:     delay,
		userAgent: userAgent,
		logger:    logger,
	}, nil
}

// Cache returns the cache the client reads from and writes to.
func (c *Client) Cache() *Cache { return c.cache }

// Download writes the body of a GET request for rawURL to w, serving it from
// the cache when possible. It returns the number of bytes written.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	f, hit, err := c.cache.Open(rawURL)
	switch {
	case errors.Is(err, ErrExpired):
		c.logger.Debug("cache entry expired", "url", rawURL)
	case err != nil:
		c.logger.Warn("reading cache entry failed", "url", rawURL, "err", err)
	case hit:
		defer f.Close()
		c.logger.Debug("serving download from cache", "url", rawURL)
		return io.Copy(w, f)
	}

	err = Retry(ctx, c.logger.With("url", rawURL), c.retries, c.delay, func() error {
		return c.cache.Store(rawURL, func(cw io.Writer) error {
			return c.fetch(ctx, rawURL, cw)
		})
	})
	if err != nil {
		return 0, err
	}

	f, hit, err = c.cache.Open(rawURL)
	if err != nil {
		return 0, fmt.Errorf("reopening cached download: %w", err)
	}
	if !hit {
		return 0, fmt.Errorf("cached download of %s disappeared", rawURL)
	}
	defer f.Close()
	return io.Copy(w, f)
}

func (c *Client) fetch(ctx context.Context, rawURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", rawURL, err)
	}
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug("downloading", "url", rawURL)
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RetryableError{Err: fmt.Errorf("%w: GET %s: %v", ErrNetwork, rawURL, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return &RetryableError{Err: serr, After: retryAfter(resp.Header.Get("Retry-After"), time.Now())}
		}
		return serr
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return &RetryableError{Err: fmt.Errorf("%w: reading body of %s: %v", ErrNetwork, rawURL, err)}
	}
	if n == 0 {
		return fmt.Errorf("GET %s: %w", rawURL, ErrEmptyBody)
	}
	return nil
}
