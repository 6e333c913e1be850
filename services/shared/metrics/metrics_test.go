package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordExchange(t *testing.T) {
	m := New(Config{ServiceName: "relay", Subsystem: "relay"})

	m.RecordExchange("success")
	m.RecordExchange("success")
	m.RecordExchange("missing_code")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.exchangesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exchangesTotal.WithLabelValues("missing_code")))
}

func TestMetrics_RecordUpstreamRequest(t *testing.T) {
	m := New(Config{ServiceName: "relay"})

	m.RecordUpstreamRequest("github", "token", http.StatusOK, 10*time.Millisecond)
	m.RecordUpstreamRequest("github", "user", 0, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamRequestsTotal.WithLabelValues("github", "token", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamRequestsTotal.WithLabelValues("github", "user", "error")))
}

func TestMetrics_HTTPMiddleware(t *testing.T) {
	m := New(Config{ServiceName: "relay"})

	handler := m.HTTPMiddleware(func(*http.Request) string { return "/oauth" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}),
	)

	req := httptest.NewRequest(http.MethodPost, "/oauth?x=1", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("relay", "POST", "/oauth", "400")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(Config{ServiceName: "relay"})
	m.RecordEmailSource("sentinel")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "oauthrelay_email_resolutions_total"))
}
