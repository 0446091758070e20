// ABOUTME: Maps orchestration error kinds onto HTTP status codes and JSON error bodies.

package web

import (
	"errors"
	"net/http"

	"github.com/lookbook-studio/lookbook/history"
	"github.com/lookbook-studio/lookbook/orchestrator"
	"github.com/lookbook-studio/lookbook/store"
	"github.com/lookbook-studio/lookbook/tryon"
)

type errorBody struct {
	Error    string `json:"error"`
	Field    string `json:"field,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// writeError translates the orchestration error taxonomy into transport
// status codes: validation 400, not-found 404, conflicts 409, provider rate
// limiting 429, polling timeout 504, other provider failures 502.
func writeError(w http.ResponseWriter, err error) {
	var ve *tryon.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error(), Field: ve.Field})
		return
	}

	var notFound *store.ErrRunNotFound
	var callNotFound *history.ErrCallNotFound
	if errors.As(err, &notFound) || errors.As(err, &callNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}

	var conflict *store.ErrRunConflict
	var version *orchestrator.ErrVersionConflict
	if errors.As(err, &conflict) || errors.As(err, &version) {
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	}

	var se *tryon.ServiceError
	if errors.As(err, &se) {
		status := http.StatusBadGateway
		switch se.Kind {
		case tryon.FailureRateLimit:
			status = http.StatusTooManyRequests
		case tryon.FailureTimeout:
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, errorBody{Error: se.UserMessage(), Provider: string(se.Provider)})
		return
	}

	writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
}
