package server

import (
	"encoding/json"
	"net/http"

	"github.com/DeepLajpal/docmerge/pkg/errors"
)

// errorResponse is the failure payload for all endpoints.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a pipeline error to an HTTP status and JSON body.
func writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	writeJSON(w, statusFor(code), errorResponse{Error: errorBody{
		Code:    string(code),
		Message: err.Error(),
		Source:  errors.GetSource(err),
	}})
}

// statusFor maps error codes to HTTP status codes.
func statusFor(code errors.Code) int {
	switch code {
	case errors.ErrCodeInvalidInput,
		errors.ErrCodeInvalidCrop,
		errors.ErrCodeInvalidRotation,
		errors.ErrCodeInvalidTier,
		errors.ErrCodeInvalidPageSize,
		errors.ErrCodeUnsupportedKind:
		return http.StatusBadRequest
	case errors.ErrCodePasswordRequired, errors.ErrCodePasswordInvalid:
		return http.StatusUnauthorized
	case errors.ErrCodeEmbedFailed:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrCodeCanceled:
		// Client went away; 499 is the de facto status for this.
		return 499
	default:
		return http.StatusInternalServerError
	}
}
