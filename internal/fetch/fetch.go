package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// maxBodyBytes is the payload ceiling; larger responses are treated as
	// "nothing to extract", not as errors.
	maxBodyBytes = 10 << 20

	defaultAttempts = 3
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// skippedContentTypes are payload types that never contain extractable text.
var skippedContentTypes = []string{
	"image/", "video/", "audio/", "application/pdf", "application/zip",
}

// Fetcher retrieves raw bytes over HTTP. It holds two pooled clients — one
// direct, one routed through the configured proxy — so connections are reused
// across the high fan-out of a harvest run. Loopback targets always use the
// direct client.
type Fetcher struct {
	direct  *http.Client
	proxied *http.Client

	// MaxAttempts and Backoff define the retry policy for idempotent GET
	// failures. Both are plain fields so tests can tighten them.
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// New builds a Fetcher. proxyURL may be empty, in which case all requests go
// direct.
func New(proxyURL string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	f := &Fetcher{
		direct:      &http.Client{Timeout: timeout, Transport: newTransport(nil)},
		MaxAttempts: defaultAttempts,
		Backoff:     func(int) time.Duration { return 2 * time.Second },
	}

	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			f.proxied = &http.Client{Timeout: timeout, Transport: newTransport(u)}
		} else {
			slog.Warn("invalid proxy URL, requests go direct", "proxy", proxyURL, "error", err)
		}
	}

	return f
}

func newTransport(proxy *url.URL) *http.Transport {
	t := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxy != nil {
		t.Proxy = http.ProxyURL(proxy)
	}
	return t
}

// Fetch retrieves the body of rawURL. Oversized or non-text payloads yield
// (nil, nil). Retryable failures (connection errors, 429, 5xx) are retried
// MaxAttempts times with Backoff between attempts before surfacing an error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	client := f.clientFor(rawURL)

	var lastErr error
	for attempt := 1; attempt <= f.MaxAttempts; attempt++ {
		body, retryable, err := fetchOnce(ctx, client, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable || attempt == f.MaxAttempts {
			break
		}
		select {
		case <-time.After(f.Backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("fetching %s: %w", rawURL, lastErr)
}

// clientFor picks the proxied client unless the target is local or no proxy
// is configured.
func (f *Fetcher) clientFor(rawURL string) *http.Client {
	if f.proxied == nil || isLocal(rawURL) {
		return f.direct
	}
	return f.proxied
}

func isLocal(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func fetchOnce(ctx context.Context, client *http.Client, rawURL string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("http status %d", resp.StatusCode)
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	for _, skip := range skippedContentTypes {
		if strings.Contains(ct, skip) {
			return nil, false, nil
		}
	}
	if resp.ContentLength > maxBodyBytes {
		return nil, false, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, true, err
	}
	if len(data) > maxBodyBytes {
		return nil, false, nil
	}
	return data, false, nil
}
