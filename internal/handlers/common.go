package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"ledger-service/models"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderIdempotencyHit = "X-Idempotency-Hit"
	HeaderRequestID      = "X-Request-ID"

	maxBodyBytes = 1 << 20
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func sendJSONError(w http.ResponseWriter, errorCode, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}

	json.NewEncoder(w).Encode(response)
}

func sendJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// errorStatus maps a domain error to its HTTP status. notFound is the status
// used for a missing account: a path that names an unknown account is 404,
// a request body that references one is a 400.
func errorStatus(code string, notFound int) int {
	switch code {
	case models.CodeInvalidRequest, models.CodeIdempotencyConflict, models.CodeMissingIdempotency:
		return http.StatusBadRequest
	case models.CodeAccountNotFound:
		return notFound
	case models.CodeTransactionNotFound:
		return http.StatusNotFound
	case models.CodeCurrencyMismatch, models.CodeAmountOverflow:
		return http.StatusUnprocessableEntity
	case models.CodeInvalidTransition, models.CodeIdempotencyInFlight:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func sendError(w http.ResponseWriter, err error, accountNotFound int) {
	code := models.ErrorCode(err)
	status := errorStatus(code, accountNotFound)

	var replayed *models.ReplayedError
	if errors.As(err, &replayed) {
		w.Header().Set(HeaderIdempotencyHit, "true")
	}
	if code == models.CodeIdempotencyInFlight {
		w.Header().Set("Retry-After", "1")
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}

	sendJSONError(w, code, message, status)
}

// decodeJSON rejects unknown fields, trailing data and unknown enum values.
func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", models.ErrValidation, err)
	}
	if decoder.More() {
		return fmt.Errorf("%w: request body must contain a single JSON object", models.ErrValidation)
	}
	return nil
}
