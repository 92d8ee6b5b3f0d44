package middleware

import (
	"encoding/json"
	"net/http"
)

// errorBody is the JSON envelope for requests stopped by middleware.
type errorBody struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	Reason            string `json:"reason,omitempty"`
	RetryAfter        string `json:"retry_after,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	CaptchaRequired   bool   `json:"captcha_required,omitempty"`
	CanAppeal         bool   `json:"can_appeal,omitempty"`
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
