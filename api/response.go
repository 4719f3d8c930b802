package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// errorBody is the body of a failed request.
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// writeJSON writes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {

	// Marshal the response into JSON bytes
	responseBytes, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to marshal response", "err", err)
		http.Error(w, `{"error":"internal_error"}`, http.StatusInternalServerError)
		return
	}

	// Set the content type and write the status code
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	// Write the response bytes to the response body
	if _, err := w.Write(responseBytes); err != nil {
		// Header already written so we log the error
		logger.Warn("failed to write response", "err", err)
	}
}

// writeError writes {"error": code} with the given status.
func writeError(w http.ResponseWriter, logger *slog.Logger, status int, code string) {
	writeJSON(w, logger, status, errorBody{Error: code})
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched when allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	return err
}
