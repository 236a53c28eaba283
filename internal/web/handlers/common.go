package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/deepsecurity/internal/gallery"
	"github.com/kozaktomas/deepsecurity/internal/vision"
)

// ServiceName is reported by the health endpoints.
const ServiceName = "deepsecurity"

// errInvalidImage is the message for uploads that do not decode.
const errInvalidImage = "Invalid image data"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	var decodeErr *vision.DecodeError
	var invalidName *gallery.InvalidNameError
	switch {
	case errors.Is(err, gallery.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &decodeErr), errors.As(err, &invalidName), errors.Is(err, gallery.ErrNoImages):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// messageForError returns the client-facing message for err.
func messageForError(err error) string {
	var decodeErr *vision.DecodeError
	if errors.As(err, &decodeErr) {
		return errInvalidImage
	}
	if statusForError(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
	})
}
