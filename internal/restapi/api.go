// Package restapi serves the static and live transit data as JSON.
package restapi

import (
	"log/slog"
	"net/http"
	"time"

	"transitsync.dev/internal/app"
	"transitsync.dev/internal/clock"
	"transitsync.dev/internal/metrics"
)

type RestAPI struct {
	*app.Application
	rateLimiter *RateLimitMiddleware
	stale       *StaleDetector
}

// NewRestAPI wires the API around an application. Call Shutdown to stop the
// rate limiter's cleanup goroutine.
func NewRestAPI(application *app.Application) *RestAPI {
	c := clock.Clock(clock.RealClock{})
	rateLimit := 0
	if application != nil {
		c = clock.OrReal(application.Clock)
		rateLimit = application.Config.RateLimit
	}
	return &RestAPI{
		Application: application,
		rateLimiter: NewRateLimitMiddleware(rateLimit, time.Second, nil, c),
		stale:       NewStaleDetector(),
	}
}

func (api *RestAPI) Shutdown() {
	if api.rateLimiter != nil {
		api.rateLimiter.Stop()
	}
}

func (api *RestAPI) clock() clock.Clock {
	if api.Application == nil {
		return clock.RealClock{}
	}
	return clock.OrReal(api.Clock)
}

func (api *RestAPI) logger() *slog.Logger {
	if api.Application == nil || api.Logger == nil {
		return slog.Default()
	}
	return api.Logger
}

// WithMiddleware wraps h in the request chain: request id, logging, metrics
// and rate limiting, outermost first.
func (api *RestAPI) WithMiddleware(h http.Handler) http.Handler {
	var mt *metrics.Metrics
	if api.Application != nil {
		mt = api.Metrics
	}
	h = api.rateLimiter.Handler()(h)
	h = MetricsHandler(mt)(h)
	h = NewRequestLoggingMiddleware(api.logger())(h)
	return RequestIDMiddleware(h)
}
