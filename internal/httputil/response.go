package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/pitext/router/internal/errors"
)

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteServiceError renders err as {"detail": message, ...details} using its
// ServiceError status when present.
func WriteServiceError(w http.ResponseWriter, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("Internal Server Error", err)
	}
	body := map[string]any{"detail": se.Message}
	for k, v := range se.Details {
		body[k] = v
	}
	WriteJSON(w, se.HTTPStatus, body)
}
