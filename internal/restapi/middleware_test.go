package restapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitsync.dev/internal/appconf"
	"transitsync.dev/internal/clock"
	"transitsync.dev/internal/metrics"
)

func TestMetricsHandler_LabelsByPattern(t *testing.T) {
	api := createTestApi(t)
	api.Metrics = metrics.New()

	serve(t, api, "/api/routes/R1")
	serve(t, api, "/api/routes/R2")
	serve(t, api, "/api/routes/R404")
	serve(t, api, "/nowhere")

	counter := api.Metrics.HTTPRequestsTotal
	assert.Equal(t, 2.0, testutil.ToFloat64(counter.WithLabelValues("GET", "GET /api/routes/{id}", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("GET", "GET /api/routes/{id}", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("GET", "unmatched", "404")))
}

func TestMetricsHandler_NilMetricsPassesThrough(t *testing.T) {
	called := false
	h := MetricsHandler(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	api := createTestApi(t)
	api.Metrics = metrics.New()

	serve(t, api, "/api/agencies")
	rec := serve(t, api, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "transitsync_http_requests_total")
}

func TestCacheControlMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		status  int
		want    string
	}{
		{"cached success", 300, http.StatusOK, "public, max-age=300"},
		{"live success", 0, http.StatusOK, noCache},
		{"cached client error", 300, http.StatusBadRequest, noCache},
		{"cached server error", 300, http.StatusServiceUnavailable, noCache},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CacheControlMiddleware(tt.seconds, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, tt.want, rec.Header().Get("Cache-Control"))
		})
	}
}

func TestCacheControlMiddleware_ImplicitOK(t *testing.T) {
	h := CacheControlMiddleware(60, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/vehicles", nil)
	req.RemoteAddr = addr
	return req
}

func TestRateLimitMiddleware_LimitsPerClient(t *testing.T) {
	c := clock.NewMockClock(testNow)
	rl := NewRateLimitMiddleware(2, time.Second, nil, c)
	t.Cleanup(rl.Stop)
	h := rl.Handler()(okHandler())

	codes := func(addr string, n int) []int {
		out := make([]int, n)
		for i := range out {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, requestFrom(addr))
			out[i] = rec.Code
		}
		return out
	}

	assert.Equal(t, []int{200, 200, 429}, codes("10.0.0.1:5000", 3))
	assert.Equal(t, []int{200, 200}, codes("10.0.0.2:5000", 2), "other clients have their own budget")

	c.Advance(time.Second)
	assert.Equal(t, []int{200, 200, 429}, codes("10.0.0.1:6000", 3), "budget refills with time")
}

func TestRateLimitMiddleware_ExceededResponse(t *testing.T) {
	rl := NewRateLimitMiddleware(1, time.Second, nil, clock.NewMockClock(testNow))
	t.Cleanup(rl.Stop)
	h := rl.Handler()(okHandler())

	h.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("10.0.0.1:1"))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var env testEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, http.StatusTooManyRequests, env.Code)
	assert.Equal(t, testNow.UnixMilli(), env.CurrentTime)
}

func TestRateLimitMiddleware_Exempt(t *testing.T) {
	rl := NewRateLimitMiddleware(1, time.Second, []string{" 127.0.0.1 "}, clock.NewMockClock(testNow))
	t.Cleanup(rl.Stop)
	h := rl.Handler()(okHandler())

	for range 5 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("127.0.0.1:80"))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Zero(t, rl.clientCount())
}

func TestRateLimitMiddleware_DisabledPassesThrough(t *testing.T) {
	rl := NewRateLimitMiddleware(0, time.Second, nil, nil)
	t.Cleanup(rl.Stop)
	h := rl.Handler()(okHandler())

	for range 10 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("10.0.0.1:1"))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Zero(t, rl.clientCount())
}

func TestRateLimitMiddleware_CleanupDropsIdleClients(t *testing.T) {
	c := clock.NewMockClock(testNow)
	rl := NewRateLimitMiddleware(5, time.Second, nil, c)
	t.Cleanup(rl.Stop)
	h := rl.Handler()(okHandler())

	h.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1"))
	c.Advance(6 * time.Minute)
	h.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.2:1"))
	require.Equal(t, 2, rl.clientCount())

	c.Advance(5 * time.Minute)
	rl.cleanupOnce()
	assert.Equal(t, 1, rl.clientCount(), "only the client idle for over ten minutes is dropped")
}

func TestRateLimitMiddleware_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimitMiddleware(1, time.Second, nil, nil)
	assert.NotPanics(t, func() {
		rl.Stop()
		rl.Stop()
	})
}

func TestWithMiddleware_RateLimitFromConfig(t *testing.T) {
	api, _ := createTestApiWith(t, testOptions{config: appconf.Config{RateLimit: 1}})

	first := serve(t, api, "/api/agencies")
	second := serve(t, api, "/api/agencies")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get(RequestIDHeader), "rejected requests still carry a request id")
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", clientKey(req))

	req.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", clientKey(req))
	assert.False(t, strings.Contains(clientKey(requestFrom("10.1.1.1:99")), ":"))
}
