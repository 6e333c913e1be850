package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlossalguero/oauthrelay/services/relay/internal/oauth"
	"github.com/carlossalguero/oauthrelay/services/relay/internal/service"
	"github.com/carlossalguero/oauthrelay/services/shared/health"
	"github.com/carlossalguero/oauthrelay/services/shared/logger"
	"github.com/carlossalguero/oauthrelay/services/shared/metrics"
)

const testOrigin = "http://localhost:3000"

type upstream struct {
	status int
	body   string
}

type stubProvider struct {
	url        string
	tokenCalls atomic.Int32
	userCalls  atomic.Int32
	emailCalls atomic.Int32
}

func newStubProvider(t *testing.T, token, user, emails upstream) *stubProvider {
	t.Helper()

	s := &stubProvider{}
	write := func(w http.ResponseWriter, u upstream) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(u.status)
		_, _ = w.Write([]byte(u.body))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, _ *http.Request) {
		s.tokenCalls.Add(1)
		write(w, token)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, _ *http.Request) {
		s.userCalls.Add(1)
		write(w, user)
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, _ *http.Request) {
		s.emailCalls.Add(1)
		write(w, emails)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	s.url = srv.URL
	return s
}

func (s *stubProvider) totalCalls() int32 {
	return s.tokenCalls.Load() + s.userCalls.Load() + s.emailCalls.Load()
}

type testRelay struct {
	handler http.Handler
	stub    *stubProvider
	metrics *metrics.Metrics
}

func newTestRelay(t *testing.T, token, user, emails upstream) *testRelay {
	t.Helper()

	stub := newStubProvider(t, token, user, emails)
	m := metrics.New(metrics.Config{ServiceName: "relay"})
	log := logger.Discard()

	provider := oauth.NewGitHubProvider(oauth.GitHubConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  testOrigin + "/callback",
		AuthURL:      stub.url + "/login/oauth/authorize",
		TokenURL:     stub.url + "/login/oauth/access_token",
		APIBaseURL:   stub.url,
		Timeout:      time.Second,
	}, oauth.WithLogger(log), oauth.WithRecorder(m))

	svc := service.New(service.Config{Provider: provider, Metrics: m, Logger: log})

	return &testRelay{
		handler: NewRouter(Config{
			Exchanger:     svc,
			Health:        health.NewChecker(health.WithMessage("relay is running")),
			Metrics:       m,
			AllowedOrigin: testOrigin,
			Logger:        log,
		}),
		stub:    stub,
		metrics: m,
	}
}

var (
	okToken      = upstream{status: http.StatusOK, body: `{"access_token":"tok1"}`}
	aliceProfile = upstream{status: http.StatusOK, body: `{"id":1,"login":"alice","name":"Alice","email":"a@x.com","avatar_url":"u1","html_url":"h1"}`}
	noEmails     = upstream{status: http.StatusOK, body: `[]`}
)

func (tr *testRelay) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	tr.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	tr := newTestRelay(t, okToken, aliceProfile, noEmails)

	for _, path := range []string{"/health", "/api/health", "/health/live", "/health/ready"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tr.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

			require.Equal(t, http.StatusOK, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "OK", body["status"])
		})
	}
}

func TestExchange_ProfileWithEmail(t *testing.T) {
	for _, path := range []string{"/oauth", "/api/github/oauth"} {
		t.Run(path, func(t *testing.T) {
			tr := newTestRelay(t, okToken, aliceProfile, noEmails)

			rec := tr.post(t, path, `{"code":"abc123"}`)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t,
				`{"id":1,"login":"alice","name":"Alice","email":"a@x.com","avatar_url":"u1","html_url":"h1"}`,
				rec.Body.String())
			assert.Zero(t, tr.stub.emailCalls.Load())
		})
	}
}

func TestExchange_PrimaryEmailFallback(t *testing.T) {
	tr := newTestRelay(t, okToken,
		upstream{status: http.StatusOK, body: `{"id":1,"login":"alice","email":"","avatar_url":"u1","html_url":"h1"}`},
		upstream{status: http.StatusOK, body: `[{"email":"b@x.com","primary":false},{"email":"c@x.com","primary":true}]`},
	)

	rec := tr.post(t, "/oauth", `{"code":"abc123"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"id":1,"login":"alice","name":"alice","email":"c@x.com","avatar_url":"u1","html_url":"h1"}`,
		rec.Body.String())
}

func TestExchange_MissingCode(t *testing.T) {
	for name, body := range map[string]string{
		"empty code":   `{"code":""}`,
		"absent code":  `{}`,
		"empty body":   ``,
		"null code":    `{"code":null}`,
		"other fields": `{"state":"x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			tr := newTestRelay(t, okToken, aliceProfile, noEmails)

			rec := tr.post(t, "/oauth", body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"missing code","code":"MISSING_CODE"}`, rec.Body.String())
			assert.Zero(t, tr.stub.totalCalls(), "no outbound call may be made without a code")
		})
	}
}

func TestExchange_MalformedBody(t *testing.T) {
	tr := newTestRelay(t, okToken, aliceProfile, noEmails)

	rec := tr.post(t, "/oauth", `{"code":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_INPUT", body["code"])
	assert.Zero(t, tr.stub.totalCalls())
}

func TestExchange_TokenWithoutAccessToken(t *testing.T) {
	tr := newTestRelay(t, upstream{status: http.StatusOK, body: `{}`}, aliceProfile, noEmails)

	rec := tr.post(t, "/oauth", `{"code":"abc123"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body struct {
		Error   string          `json:"error"`
		Code    string          `json:"code"`
		Details json.RawMessage `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
	assert.Equal(t, "TOKEN_EXCHANGE_FAILED", body.Code)
	assert.JSONEq(t, `{}`, string(body.Details))
	assert.Zero(t, tr.stub.userCalls.Load())
}

func TestExchange_ProfileFailure(t *testing.T) {
	tr := newTestRelay(t, okToken,
		upstream{status: http.StatusUnauthorized, body: `{"message":"Bad credentials"}`},
		noEmails,
	)

	rec := tr.post(t, "/oauth", `{"code":"abc123"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t,
		`{"error":"profile fetch failed","code":"PROFILE_FETCH_FAILED","details":{"message":"Bad credentials"}}`,
		rec.Body.String())
	assert.Zero(t, tr.stub.emailCalls.Load())
}

func TestExchange_RecordsMetrics(t *testing.T) {
	tr := newTestRelay(t, okToken, aliceProfile, noEmails)

	tr.post(t, "/oauth", `{"code":"abc123"}`)
	tr.post(t, "/oauth", `{"code":""}`)

	rec := httptest.NewRecorder()
	tr.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	out := rec.Body.String()
	assert.Contains(t, out, `oauthrelay_exchanges_total{outcome="success"} 1`)
	assert.Contains(t, out, `oauthrelay_exchanges_total{outcome="missing_code"} 1`)
	assert.Contains(t, out, `path="/oauth"`)
}

func TestCORS(t *testing.T) {
	tr := newTestRelay(t, okToken, aliceProfile, noEmails)

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/oauth", nil)
		req.Header.Set("Origin", testOrigin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		rec := httptest.NewRecorder()

		tr.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, testOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("preflight with disallowed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/oauth", nil)
		req.Header.Set("Origin", testOrigin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "x-api-key")
		rec := httptest.NewRecorder()

		tr.handler.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("actual request from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", testOrigin)
		rec := httptest.NewRecorder()

		tr.handler.ServeHTTP(rec, req)

		assert.Equal(t, testOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("other origin is not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()

		tr.handler.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestAuthorizeRedirect(t *testing.T) {
	tr := newTestRelay(t, okToken, aliceProfile, noEmails)

	rec := httptest.NewRecorder()
	tr.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/authorize?state=s1", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, tr.stub.url+"/login/oauth/authorize?"))
	assert.Contains(t, location, "state=s1")
	assert.Contains(t, location, "client_id=client-id")
	assert.NotContains(t, location, "client-secret")
}

func TestRouting(t *testing.T) {
	tr := newTestRelay(t, okToken, aliceProfile, noEmails)

	t.Run("unknown route", func(t *testing.T) {
		rec := httptest.NewRecorder()
		tr.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "NOT_FOUND")
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		tr.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Contains(t, rec.Body.String(), "METHOD_NOT_ALLOWED")
	})

	t.Run("request id is echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-1")
		rec := httptest.NewRecorder()
		tr.handler.ServeHTTP(rec, req)
		assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	})

	t.Run("request id is generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		tr.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	})
}

type panickingExchanger struct{}

func (panickingExchanger) Exchange(context.Context, string) (*oauth.Identity, error) {
	panic("boom")
}

func (panickingExchanger) AuthorizeURL(string) string { return "" }

func TestRecovery(t *testing.T) {
	handler := NewRouter(Config{
		Exchanger:     panickingExchanger{},
		AllowedOrigin: testOrigin,
		Logger:        logger.Discard(),
	})

	req := httptest.NewRequest(http.MethodPost, "/oauth", strings.NewReader(`{"code":"abc123"}`))
	rec := httptest.NewRecorder()

	require.NotPanics(t, func() { handler.ServeHTTP(rec, req) })
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error","code":"INTERNAL","details":"boom"}`, rec.Body.String())
}
