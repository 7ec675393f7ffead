package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"

	"transitsync.dev/internal/logging"
)

const maxBodySize = 25 * 1024 * 1024

// HTTPFetcher is the transport the feed client runs on.
type HTTPFetcher interface {
	Get(ctx context.Context, url string, headers map[string]string) ([]byte, error)
	Head(ctx context.Context, url string, headers map[string]string) (http.Header, error)
	IsOnline(ctx context.Context) bool
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.URL, e.StatusCode)
}

// Permanent reports whether retrying cannot help.
func (e *StatusError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// HTTPClientFetcher is the HTTPFetcher used in production.
type HTTPClientFetcher struct {
	client   *http.Client
	probeURL string
	logger   *slog.Logger
}

// NewHTTPClientFetcher builds a fetcher with a dedicated client. probeURL is
// requested with HEAD to tell a dead upstream from a dead network; empty
// disables the probe and reports offline whenever asked.
func NewHTTPClientFetcher(timeout time.Duration, probeURL string) *HTTPClientFetcher {
	return &HTTPClientFetcher{
		client:   newRealtimeHTTPClient(timeout),
		probeURL: probeURL,
		logger:   slog.Default().With(slog.String("component", "gtfs_realtime_downloader")),
	}
}

// newRealtimeHTTPClient clones http.DefaultTransport to keep its proxy, dialer
// and keepalive defaults, and adds an absolute per-request timeout.
func newRealtimeHTTPClient(timeout time.Duration) *http.Client {
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.MaxIdleConns = 50
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.ExpectContinueTimeout = 1 * time.Second

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

func (f *HTTPClientFetcher) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Add(key, value)
	}
	// Setting this ourselves turns off the transport's transparent
	// decompression, so the body is decoded below.
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute GTFS-RT request: %w", err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, f.logger, "http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return []byte{}, nil
			}
			return nil, fmt.Errorf("failed to open gzip body: %w", err)
		}
		defer logging.SafeCloseWithLogging(zr, f.logger, "gzip_reader")
		body = zr
	}

	b, err := io.ReadAll(io.LimitReader(body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(b)) > maxBodySize {
		return nil, fmt.Errorf("GTFS-RT response exceeds size limit of %d bytes", maxBodySize)
	}
	return b, nil
}

func (f *HTTPClientFetcher) Head(ctx context.Context, url string, headers map[string]string) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Add(key, value)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(resp.Body, f.logger, "http_response_body")

	if resp.StatusCode >= 400 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp.Header, nil
}

// IsOnline reports whether the probe URL answers at all. Any HTTP status
// counts as online.
func (f *HTTPClientFetcher) IsOnline(ctx context.Context) bool {
	if f.probeURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, f.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return false
	}
	logging.SafeCloseWithLogging(resp.Body, f.logger, "probe_response_body")
	return true
}
