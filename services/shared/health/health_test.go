package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_Check(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]Check
		expected Status
	}{
		{
			name:     "no checks",
			expected: StatusOK,
		},
		{
			name: "all healthy",
			checks: map[string]Check{
				"nats": ConnectedCheck("nats", func() bool { return true }),
			},
			expected: StatusOK,
		},
		{
			name: "degraded component",
			checks: map[string]Check{
				"ok":   ConnectedCheck("a", func() bool { return true }),
				"nats": ConnectedCheck("nats", func() bool { return false }),
			},
			expected: StatusDegraded,
		},
		{
			name: "down wins over degraded",
			checks: map[string]Check{
				"nats":  ConnectedCheck("nats", func() bool { return false }),
				"redis": PingCheck("redis", func(context.Context) error { return errors.New("refused") }),
			},
			expected: StatusDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(WithVersion("1.0.0"))
			for name, check := range tt.checks {
				c.Register(name, check)
			}

			resp := c.Check(context.Background())
			assert.Equal(t, tt.expected, resp.Status)
			assert.Equal(t, "1.0.0", resp.Version)
			assert.Len(t, resp.Components, len(tt.checks))
		})
	}
}

func TestChecker_CheckTimeout(t *testing.T) {
	c := NewChecker(WithTimeout(10 * time.Millisecond))
	c.Register("slow", PingCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	resp := c.Check(context.Background())
	assert.Equal(t, StatusDown, resp.Status)
	assert.Equal(t, "slow connection failed", resp.Components["slow"].Message)
}

func TestLivenessHandler(t *testing.T) {
	c := NewChecker()
	c.Register("nats", ConnectedCheck("nats", func() bool { return false }))

	rec := httptest.NewRecorder()
	c.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["status"])
	assert.NotContains(t, body, "components")
}

func TestReadinessHandler(t *testing.T) {
	t.Run("down returns 503", func(t *testing.T) {
		c := NewChecker()
		c.Register("redis", PingCheck("redis", func(context.Context) error { return errors.New("refused") }))

		rec := httptest.NewRecorder()
		c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, StatusDown, resp.Status)
		assert.Equal(t, "refused", resp.Components["redis"].Details["error"])
	})

	t.Run("degraded still returns 200", func(t *testing.T) {
		c := NewChecker(WithMessage("relay"))
		c.Register("nats", ConnectedCheck("nats", func() bool { return false }))

		rec := httptest.NewRecorder()
		c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, StatusDegraded, resp.Status)
		assert.Equal(t, "relay", resp.Message)
	})
}
