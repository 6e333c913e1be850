package callback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(r *Receiver, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestReceiver(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		code    string
		wantErr error
		status  int
	}{
		{name: "code with matching state", target: "/callback?code=abc123&state=s1", code: "abc123", status: http.StatusOK},
		{name: "state mismatch", target: "/callback?code=abc123&state=other", wantErr: ErrStateMismatch, status: http.StatusBadRequest},
		{name: "provider denied", target: "/callback?error=access_denied&state=s1", wantErr: ErrDenied, status: http.StatusBadRequest},
		{name: "empty code", target: "/callback?state=s1", code: "", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReceiver("http://localhost:3000/callback", "s1")
			require.NoError(t, err)

			rec := serve(r, tt.target)
			assert.Equal(t, tt.status, rec.Code)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			code, err := r.Wait(ctx)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestReceiver_FirstRedirectWins(t *testing.T) {
	r, err := NewReceiver("http://localhost:3000/callback", "s1")
	require.NoError(t, err)

	serve(r, "/callback?code=first&state=s1")
	serve(r, "/callback?code=second&state=s1")

	code, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", code)
}

func TestReceiver_OtherPaths(t *testing.T) {
	r, err := NewReceiver("http://localhost:3000/callback", "s1")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, serve(r, "/favicon.ico").Code)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListenAddr(t *testing.T) {
	tests := map[string]string{
		"http://localhost:3000/callback": "localhost:3000",
		"http://127.0.0.1/cb":            "127.0.0.1:80",
		"https://example.com/cb":         "example.com:443",
	}
	for uri, want := range tests {
		got, err := ListenAddr(uri)
		require.NoError(t, err)
		assert.Equal(t, want, got, uri)
	}
}

func TestNewReceiver_InvalidURI(t *testing.T) {
	_, err := NewReceiver("/callback", "s1")
	assert.Error(t, err)
}
