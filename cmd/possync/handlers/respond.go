// Package handlers provides the local control API of the sync service.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/logging"
)

var statusByCode = map[apperrors.ErrorCode]int{
	apperrors.ErrInvalid:           http.StatusBadRequest,
	apperrors.ErrValidation:        http.StatusBadRequest,
	apperrors.ErrNotFound:          http.StatusNotFound,
	apperrors.ErrSyncInProgress:    http.StatusConflict,
	apperrors.ErrSyncPaused:        http.StatusConflict,
	apperrors.ErrSyncOffline:       http.StatusServiceUnavailable,
	apperrors.ErrSyncNotConfigured: http.StatusPreconditionFailed,
	apperrors.ErrSyncAuthFailed:    http.StatusUnauthorized,
	apperrors.ErrSyncQuotaExceeded: http.StatusTooManyRequests,
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.WarnErr("Failed to encode response", err)
	}
}

// writeError maps an AppError code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
		logging.ErrorWithCode("Request failed", string(code), err)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    string(code),
			"message": err.Error(),
		},
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err)
	}
	return nil
}
