package remote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/medsync-dashboard/internal/domain"
	"github.com/xela07ax/medsync-dashboard/internal/metrics"
	"github.com/xela07ax/medsync-dashboard/internal/remote"
	"go.uber.org/zap"
)

func newClient(t *testing.T, h http.Handler, cfg remote.ReliabilityConfig) *remote.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	doer := remote.NewReliableDoer(srv.Client(), cfg, zap.NewNop(), metrics.New(nil))
	c, err := remote.NewClient(srv.URL+"/api/", "secret-token", doer)
	require.NoError(t, err)
	return c
}

func fastConfig() remote.ReliabilityConfig {
	cfg := remote.DefaultReliabilityConfig()
	cfg.Timeout = time.Second
	cfg.RatePerSecond = 0
	return cfg
}

func TestAgentStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/agent/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.Write([]byte(`{"status":"online","statusText":"Agent active","lastExecution":"2025-03-14T09:50:00Z",` +
			`"performance":140,"executionsToday":4,"successRate":0.95}`))
	})
	c := newClient(t, mux, fastConfig())

	p, err := c.AgentStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.AgentOnline, p.Status)
	assert.Equal(t, "Agent active", p.StatusText)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 50, 0, 0, time.UTC), p.LastExecution)
	assert.Equal(t, 100, p.Performance, "clamped to 0-100")
	assert.Equal(t, 4, p.ExecutionsToday)
	assert.True(t, p.NextSync.IsZero(), "optional field absent")
}

func TestMalformedTimestampIsAbsent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/client-performance", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"c1","name":"Vida","lastSync":"31/02/2025"},{"id":"c2","lastSync":"2025-03-14 10:00:00"}]`))
	})
	c := newClient(t, mux, fastConfig())

	p, err := c.ClientPerformance(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Clients, 2)
	assert.True(t, p.Clients[0].LastSync.IsZero())
	assert.False(t, p.Clients[1].LastSync.IsZero())
}

func TestRecentActivityLimitAndAlertsLegacyField(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/recent-activity", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`[{"id":"e1","type":"sync","description":"done","timestamp":"2025-03-14T10:00:00Z"}]`))
	})
	mux.HandleFunc("GET /api/alerts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"a1","type":"critical","title":"Agent down"}]`))
	})
	c := newClient(t, mux, fastConfig())

	items, err := c.RecentActivity(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "sync", items[0].Type)

	alerts, err := c.Alerts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "critical", alerts.Alerts[0].Severity)
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/overview", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"totalClients":3,"activeClients":2}`))
	})
	c := newClient(t, mux, fastConfig())

	p, err := c.Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, p.TotalClients)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/overview", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	c := newClient(t, mux, fastConfig())

	_, err := c.Overview(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestProcessAllIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/agent/process-all", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})
	c := newClient(t, mux, fastConfig())

	_, err := c.ProcessAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProcessAll(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/agent/process-all", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"processed":2,"totalClients":2}`))
	})
	c := newClient(t, mux, fastConfig())

	res, err := c.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, remote.ProcessResult{Success: true, Processed: 2, TotalClients: 2}, res)
}

func TestThrottleHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/alerts", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[]`))
	})
	c := newClient(t, mux, fastConfig())

	p, err := c.Alerts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, p.Alerts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/alerts", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	})
	cfg := fastConfig()
	cfg.RetryAttempts = 1
	cfg.CBFailureThreshold = 1
	c := newClient(t, mux, cfg)

	for range 2 {
		_, err := c.Alerts(context.Background())
		require.Error(t, err)
	}

	_, err := c.Alerts(context.Background())
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(2), calls.Load(), "open breaker does not hit the backend")
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := remote.NewClient("not a url", "", nil)
	assert.Error(t, err)
}

func TestFetchErrorUnwraps(t *testing.T) {
	cause := errors.New("timeout")
	err := error(&remote.FetchError{Domain: domain.Overview, Cause: cause})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "fetch overview: timeout", err.Error())
}
