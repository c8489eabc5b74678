package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

type errorResponse struct {
	Error        string   `json:"error"`
	AllowedTypes []string `json:"allowedTypes,omitempty"`
	Details      string   `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

// writeTypeError rejects a disallowed upload and tells the caller which
// extensions would have been accepted.
func writeTypeError(w http.ResponseWriter, err error, allowed []string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), AllowedTypes: allowed})
}

// writeServerError keeps the machine-stable message and the underlying cause
// in separate fields so clients can match on the former.
func writeServerError(w http.ResponseWriter, message string, err error) {
	resp := errorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, resp)
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}
