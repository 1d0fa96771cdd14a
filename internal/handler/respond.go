package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cropscan/internal/logger"
	"cropscan/internal/service"
	"cropscan/internal/service/archive"
	"cropscan/internal/service/classifier"
)

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// writeError sends {"error": message}.
func writeError(w http.ResponseWriter, status int, message string, logger *logger.Logger) {
	writeJSON(w, status, map[string]string{"error": message}, logger)
}

// errorStatus maps pipeline errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, classifier.ErrUnsupportedImage),
		errors.Is(err, archive.ErrEmptyArchive),
		errors.Is(err, archive.ErrCorruptArchive),
		errors.Is(err, archive.ErrUnsafeEntry):
		return http.StatusBadRequest
	case errors.Is(err, archive.ErrArchiveTooLarge),
		errors.Is(err, archive.ErrTooManyEntries):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writePipelineError logs unexpected failures and reports the error to the client.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error, logger *logger.Logger) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// Client went away.
		return
	}

	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request %s %s failed: %v", r.Method, r.URL.Path, err)
		writeError(w, status, "Internal Server Error", logger)
		return
	}
	writeError(w, status, err.Error(), logger)
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseFloat(v string) (float64, bool) {
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
