package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/memkit/memkit/engine/domain"
	"github.com/memkit/memkit/engine/exec"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError classifies err into one of spec §7's error kinds and writes
// the matching HTTP status, so callers never have to parse error strings.
func writeError(w http.ResponseWriter, err error) {
	var status int
	var kind string

	switch {
	case errors.Is(err, domain.ErrInvalidContent), errors.Is(err, domain.ErrInvalidUserID), errors.Is(err, domain.ErrUserIDMismatch):
		status, kind = http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, domain.ErrNotFound):
		status, kind = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrDimensionMismatch):
		status, kind = http.StatusInternalServerError, "CORRUPTION"
	case errors.Is(err, domain.ErrShutdown), errors.Is(err, exec.ErrShutdown):
		status, kind = http.StatusServiceUnavailable, "SHUTDOWN"
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, exec.ErrTimeout):
		status, kind = http.StatusGatewayTimeout, "TIMEOUT"
	default:
		status, kind = http.StatusBadGateway, "BACKEND"
	}

	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}
