package response

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Error    bool        `json:"error"`
	Message  string      `json:"message,omitempty"`
	Messages []string    `json:"messages,omitempty"`
	Result   interface{} `json:"result"`
}

func write(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// WriteError writes e as a JSON error envelope with e.StatusCode
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	if e == nil {
		e = ErrUnexpected()
	}
	write(w, e.StatusCode, envelope{
		Error:    true,
		Message:  e.Message,
		Messages: e.Messages,
		Result:   e.Result,
	})
}

// WriteResponse writes result as a 200 JSON envelope
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	write(w, http.StatusOK, envelope{
		Result: result,
	})
}

// WriteAccepted writes result as a 202 JSON envelope
func WriteAccepted(w http.ResponseWriter, r *http.Request, result interface{}) {
	write(w, http.StatusAccepted, envelope{
		Result: result,
	})
}
