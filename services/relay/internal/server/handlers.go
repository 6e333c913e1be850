package server

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/carlossalguero/oauthrelay/services/shared/errors"
	"github.com/carlossalguero/oauthrelay/services/shared/logger"
)

const maxRequestBytes = 64 << 10

type handlers struct {
	exchanger Exchanger
	log       *logger.Logger
}

type exchangeRequest struct {
	Code string `json:"code"`
}

// exchange handles POST /oauth.
func (h *handlers) exchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest

	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !stderrors.Is(err, io.EOF) {
		h.log.DebugContext(r.Context(), "malformed exchange request", "error", err)
		errors.WriteJSON(w, errors.InvalidInput("request body must be a JSON object with a code").Wrap(err))
		return
	}

	identity, err := h.exchanger.Exchange(r.Context(), req.Code)
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, identity)
}

// authorize handles GET /oauth/authorize by redirecting to the provider.
func (h *handlers) authorize(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	http.Redirect(w, r, h.exchanger.AuthorizeURL(state), http.StatusFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
