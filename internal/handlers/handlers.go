package handlers

import (
	"encoding/json"
	"net/http"

	"credits/internal/models"

	"github.com/sirupsen/logrus"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondFailure maps a service error onto its HTTP status. Internal
// failures are logged and reported without detail.
func respondFailure(w http.ResponseWriter, logger logrus.FieldLogger, err error) {
	code := models.ErrorCode(err)
	status := statusForCode(code)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithField("code", code).Error("request failed")
		message = "internal error"
	}
	respondJSON(w, status, map[string]string{"error": message, "code": code})
}

func statusForCode(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case "validation_error":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "insufficient_funds":
		return http.StatusPaymentRequired
	case "idempotency_conflict", "concurrent_modification":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
