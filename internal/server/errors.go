package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-anomaly/internal/alerting"
	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-anomaly/pkg/types"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError sends a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, types.ErrorResponse{
		Error:   message,
		Code:    code,
		Message: message,
	})
}

// respondErr maps engine and store errors onto HTTP statuses.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var cfgErr *anomaly.ConfigurationError
	var perr *alerting.PersistenceError

	switch {
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, types.ErrCodeValidationFailed, err.Error())
	case errors.Is(err, alerting.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, types.ErrCodeNotFound, err.Error())
	case errors.As(err, &perr):
		writeError(w, http.StatusServiceUnavailable, types.ErrCodeStoreUnavailable, err.Error())
	default:
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, types.ErrCodeInternalError, err.Error())
	}
}

// decodeBody decodes a JSON request body. Unrecognized keys are ignored.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	return readJSON(w, json.NewDecoder(r.Body), v, false)
}

// decodeOptionalBody is decodeBody that also accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	return readJSON(w, json.NewDecoder(r.Body), v, true)
}

// decodeStrictBody is decodeBody for records, where an unknown key is a typo.
func decodeStrictBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return readJSON(w, dec, v, false)
}

func readJSON(w http.ResponseWriter, dec *json.Decoder, v interface{}, optional bool) bool {
	err := dec.Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, types.ErrCodeBodyTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return false
	}
	writeError(w, http.StatusBadRequest, types.ErrCodeInvalidRequest, "invalid request body: "+err.Error())
	return false
}
