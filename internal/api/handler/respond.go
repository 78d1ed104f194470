package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iconidentify/vidyodl/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidContentID), errors.Is(err, domain.ErrInvalidKind):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTerminalState), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPoolEmpty):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrFetchFailed), errors.Is(err, domain.ErrMetadataParse), errors.Is(err, domain.ErrMetadataShape):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
