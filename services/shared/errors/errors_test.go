package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	t.Run("without underlying error", func(t *testing.T) {
		err := New(CodeNotFound, "resource not found")
		assert.Equal(t, "NOT_FOUND: resource not found", err.Error())
	})

	t.Run("with underlying error", func(t *testing.T) {
		underlying := errors.New("connection refused")
		err := Wrap(CodeProfileFetchFailed, "profile fetch failed", underlying)
		assert.Contains(t, err.Error(), "PROFILE_FETCH_FAILED: profile fetch failed")
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("original error")
	err := Wrap(CodeInternal, "wrapped", underlying)

	assert.True(t, errors.Is(err, underlying))
}

func TestError_Is(t *testing.T) {
	err1 := TokenExchangeFailed("no token")
	err2 := TokenExchangeFailed("upstream rejected")
	err3 := ProfileFetchFailed("profile")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestError_WithDetails(t *testing.T) {
	err := TokenExchangeFailed("token exchange failed")
	details := map[string]string{"error": "bad_verification_code"}

	withDetails := err.WithDetails(details)

	assert.Equal(t, err.Code, withDetails.Code)
	assert.Equal(t, err.Message, withDetails.Message)
	assert.Equal(t, details, withDetails.Details)
	assert.Nil(t, err.Details)
}

func TestError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		code     Code
		expected int
	}{
		{CodeMissingCode, http.StatusBadRequest},
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeMethodNotAllowed, http.StatusMethodNotAllowed},
		{CodeTokenExchangeFailed, http.StatusInternalServerError},
		{CodeProfileFetchFailed, http.StatusInternalServerError},
		{CodeEmailFetchFailed, http.StatusInternalServerError},
		{CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "test")
			assert.Equal(t, tt.expected, err.HTTPStatusCode())
		})
	}
}

func TestUpstreamDetails(t *testing.T) {
	t.Run("json body passes through", func(t *testing.T) {
		details := UpstreamDetails([]byte(`{"error":"bad_verification_code"}`))
		raw, ok := details.(json.RawMessage)
		require.True(t, ok)
		assert.JSONEq(t, `{"error":"bad_verification_code"}`, string(raw))
	})

	t.Run("empty object", func(t *testing.T) {
		details := UpstreamDetails([]byte(`{}`))
		assert.Equal(t, json.RawMessage(`{}`), details)
	})

	t.Run("plain text body", func(t *testing.T) {
		assert.Equal(t, "Bad Gateway", UpstreamDetails([]byte("Bad Gateway")))
	})

	t.Run("empty body", func(t *testing.T) {
		assert.Equal(t, "", UpstreamDetails(nil))
	})
}

func TestWriteJSON(t *testing.T) {
	t.Run("missing code", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteJSON(rec, MissingCode())

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"error":"missing code","code":"MISSING_CODE"}`, rec.Body.String())
	})

	t.Run("upstream details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		err := TokenExchangeFailed("token exchange failed").WithDetails(UpstreamDetails([]byte(`{}`)))
		WriteJSON(rec, err)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"token exchange failed","code":"TOKEN_EXCHANGE_FAILED","details":{}}`, rec.Body.String())
	})

	t.Run("underlying error becomes details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteJSON(rec, Wrap(CodeProfileFetchFailed, "profile fetch failed", errors.New("i/o timeout")))

		var body Response
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "profile fetch failed", body.Error)
		assert.Equal(t, "i/o timeout", body.Details)
	})

	t.Run("plain error is internal", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteJSON(rec, errors.New("boom"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestIsCode(t *testing.T) {
	err := MissingCode()

	assert.True(t, IsCode(err, CodeMissingCode))
	assert.False(t, IsCode(err, CodeInternal))
	assert.False(t, IsCode(errors.New("regular error"), CodeMissingCode))
	assert.Equal(t, CodeInternal, GetCode(errors.New("regular error")))
}
