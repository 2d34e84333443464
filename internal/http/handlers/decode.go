package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/diagnosis/zks-preview/internal/domain"
	"github.com/diagnosis/zks-preview/internal/http/response"
	"github.com/diagnosis/zks-preview/pkg/logger"
)

const maxBodyBytes = 64 << 10

// decodeJSON reads a bounded JSON body into v. It writes the 400 itself.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return false
	}
	return true
}

// writeServiceError maps validation errors to 400 and anything else to 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		response.ValidationFailed(w, ve)
		return
	}
	logger.ErrorContext(r.Context(), msg, "error", err)
	response.InternalError(w, msg)
}
