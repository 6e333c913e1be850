package errors

import (
	"encoding/json"
	"net/http"
)

// Response is the JSON body written for a failed request.
type Response struct {
	Error   string `json:"error"`
	Code    Code   `json:"code"`
	Details any    `json:"details,omitempty"`
}

// ToResponse builds the response body for an error. Errors without explicit
// details carry the underlying error text when one is present.
func (e *Error) ToResponse() Response {
	resp := Response{
		Error:   e.Message,
		Code:    e.Code,
		Details: e.Details,
	}
	if resp.Details == nil && e.Err != nil {
		resp.Details = e.Err.Error()
	}
	return resp
}

// WriteJSON writes err as a JSON error response with the matching status code.
func WriteJSON(w http.ResponseWriter, err error) {
	appErr := From(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatusCode())
	_ = json.NewEncoder(w).Encode(appErr.ToResponse())
}
