package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/streamkit/tally/internal/auth"
	"github.com/streamkit/tally/internal/core/models"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

const (
	codeInvalidRequest  = "INVALID_REQUEST"
	codeGameNotFound    = "GAME_NOT_FOUND"
	codeCounterNotFound = "COUNTER_NOT_FOUND"
	codeCounterExists   = "COUNTER_EXISTS"
	codeUnauthorized    = "UNAUTHORIZED"
	codeNotGuildMember  = "NOT_GUILD_MEMBER"
	codeStoreError      = "STORE_ERROR"
	codeInternalError   = "INTERNAL_ERROR"
)

// writeError maps core and auth sentinels to an http status and a JSON
// error body
func writeError(w http.ResponseWriter, err error) {
	status, body := http.StatusInternalServerError, apiError{codeInternalError, "internal server error"}

	switch {
	case errors.Is(err, models.ErrGameNotFound):
		status, body = http.StatusNotFound, apiError{codeGameNotFound, "game not found"}
	case errors.Is(err, models.ErrCounterNotFound):
		status, body = http.StatusNotFound, apiError{codeCounterNotFound, "counter not found"}
	case errors.Is(err, models.ErrCounterExists):
		status, body = http.StatusConflict, apiError{codeCounterExists, "counter already exists"}
	case errors.Is(err, auth.ErrInvalidSession):
		status, body = http.StatusUnauthorized, apiError{codeUnauthorized, "authentication required"}
	case errors.Is(err, auth.ErrNotGuildMember):
		status, body = http.StatusForbidden, apiError{codeNotGuildMember, "account is not a member of the required guild"}
	case errors.Is(err, models.ErrStore):
		status, body = http.StatusInternalServerError, apiError{codeStoreError, "store operation failed"}
	}

	writeJSON(w, status, errorResponse{Error: body})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: apiError{codeInvalidRequest, message}})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
