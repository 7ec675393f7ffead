package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"transitsync.dev/internal/clock"
	"transitsync.dev/internal/logging"
	"transitsync.dev/internal/models"
)

// ClientConfig configures a FeedClient.
type ClientConfig struct {
	URLs    map[FeedKind]string
	Headers map[string]string

	// RetryAttempts is the number of retries after the first request.
	RetryAttempts   uint64
	InitialInterval time.Duration
}

// FeedClient fetches realtime feeds with bounded retries, and answers whether
// a static archive has changed.
type FeedClient struct {
	fetcher HTTPFetcher
	config  ClientConfig
	clock   clock.Clock
	logger  *slog.Logger
}

func NewFeedClient(fetcher HTTPFetcher, config ClientConfig, c clock.Clock) *FeedClient {
	if config.InitialInterval <= 0 {
		config.InitialInterval = 500 * time.Millisecond
	}
	return &FeedClient{
		fetcher: fetcher,
		config:  config,
		clock:   clock.OrReal(c),
		logger:  slog.Default().With(slog.String("component", "feed_client")),
	}
}

// Fetch downloads one feed. An upstream that answers with no body yields an
// empty slice and no error; that is normal outside service hours. When every
// attempt fails the error is a *models.NetworkError whose Offline flag tells
// whether the connectivity probe failed too.
func (c *FeedClient) Fetch(ctx context.Context, kind FeedKind) ([]byte, error) {
	url := c.config.URLs[kind]
	if url == "" {
		return nil, fmt.Errorf("no URL configured for feed %s", kind)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.InitialInterval
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0

	attempt := 0
	body, err := backoff.RetryNotifyWithData(
		func() ([]byte, error) {
			attempt++
			body, err := c.fetcher.Get(ctx, url, c.config.Headers)
			if err != nil {
				var statusErr *StatusError
				if errors.As(err, &statusErr) && statusErr.Permanent() {
					return nil, backoff.Permanent(err)
				}
				if ctx.Err() != nil {
					return nil, backoff.Permanent(err)
				}
				return nil, err
			}
			return body, nil
		},
		backoff.WithContext(backoff.WithMaxRetries(b, c.config.RetryAttempts), ctx),
		func(err error, d time.Duration) {
			logging.LogWarning(c.logger, "Feed fetch failed, backing off",
				slog.String("feed", kind.String()),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", d),
				slog.String("error", err.Error()))
		},
	)
	if err != nil {
		online := c.fetcher.IsOnline(ctx)
		return nil, &models.NetworkError{URL: url, Offline: !online, Err: err}
	}

	if len(body) == 0 {
		logging.LogOperation(c.logger, "feed_empty", slog.String("feed", kind.String()))
		return []byte{}, nil
	}
	return body, nil
}

// IsOnline delegates to the fetcher's connectivity probe.
func (c *FeedClient) IsOnline(ctx context.Context) bool {
	return c.fetcher.IsOnline(ctx)
}

// IsStaticUpdateAvailable compares the ETag and Last-Modified headers of url
// with the validators recorded for the archive that is currently imported.
// When the source answers with validators the import never recorded, it
// reports an update so the next download can record them. Without either
// header, or when the HEAD request fails, it falls back to the age of the last
// download: at least maxAge old means stale.
func (c *FeedClient) IsStaticUpdateAvailable(ctx context.Context, url string, known models.StaticVersion, maxAge time.Duration) (bool, error) {
	logger := c.logger.With(slog.String("url", url))

	headers, err := c.fetcher.Head(ctx, url, nil)
	if err != nil {
		logging.LogWarning(logger, "HEAD on static source failed, using age heuristic",
			slog.String("error", err.Error()))
		return c.isTooOld(known.Downloaded, maxAge), nil
	}

	etag, lastModified := headers.Get("ETag"), headers.Get("Last-Modified")
	var changed bool
	switch {
	case etag == "" && lastModified == "":
		return c.isTooOld(known.Downloaded, maxAge), nil
	case etag != "" && known.ETag != "":
		changed = etag != known.ETag
	case lastModified != "" && known.LastModified != "":
		changed = lastModified != known.LastModified
	default:
		changed = true
	}

	if changed {
		logging.LogOperation(logger, "static_update_available",
			slog.String("etag", etag),
			slog.String("last_modified", lastModified))
	}
	return changed, nil
}

func (c *FeedClient) isTooOld(lastSuccess time.Time, maxAge time.Duration) bool {
	if lastSuccess.IsZero() {
		return true
	}
	return c.clock.Since(lastSuccess) >= maxAge
}
