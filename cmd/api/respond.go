package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/mcclellann/loanledger/pkg/logging"
	"github.com/mcclellann/loanledger/pkg/models"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrInvalidBody      = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrInvalidID        = &AppError{http.StatusBadRequest, "INVALID_ID", "Identifier must be a UUID"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrCheckpointMismatch = &AppError{http.StatusUnprocessableEntity, "CHECKPOINT_MISMATCH", "Checkpoint must equal zero"}
	ErrPeriodImmutable    = &AppError{http.StatusConflict, "PERIOD_IMMUTABLE", "Posted interest period cannot be modified"}
	ErrAlreadyPosted      = &AppError{http.StatusConflict, "ALREADY_POSTED", "Interest period already posted"}
	ErrDuplicate          = &AppError{http.StatusConflict, "DUPLICATE", "Record already exists"}
	ErrChargeTypeInUse    = &AppError{http.StatusConflict, "CHARGE_TYPE_IN_USE", "Settlement charge type is referenced by charges"}
	ErrBorrowerInUse      = &AppError{http.StatusConflict, "BORROWER_IN_USE", "Borrower has loans"}
	ErrInvalidDate        = &AppError{http.StatusBadRequest, "INVALID_DATE", "Date must be YYYY-MM-DD"}
	ErrInvalidAmount      = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be non-negative with at most two decimal places"}
	ErrInvalidRate        = &AppError{http.StatusBadRequest, "INVALID_RATE", "Interest rate must be a fraction between 0 and 1"}
	ErrInvalidStatus      = &AppError{http.StatusBadRequest, "INVALID_STATUS", "Unknown loan status"}
	ErrInvalidRequest     = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request"}
	ErrMissingActor       = &AppError{http.StatusUnauthorized, "MISSING_ACTOR", "Posting requires an authenticated actor"}
)

func respondJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}

func respondSuccess(w http.ResponseWriter, r *http.Request, status int, data any) {
	respondJSON(w, r, status, APIResponse{Success: true, Data: data})
}

func respondAppError(w http.ResponseWriter, r *http.Request, appErr *AppError, details any) {
	respondJSON(w, r, appErr.Status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

// respondDomainError maps ledger errors onto the API envelope. Input errors echo the
// underlying message so the caller can see which field was rejected.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var cpErr *models.CheckpointError
	if errors.As(err, &cpErr) {
		respondAppError(w, r, ErrCheckpointMismatch, map[string]string{
			"checkpoint": cpErr.Checkpoint.StringFixed(2),
		})
		return
	}

	var appErr *AppError
	echo := false
	switch {
	case errors.Is(err, models.ErrPeriodImmutable):
		appErr = ErrPeriodImmutable
	case errors.Is(err, models.ErrAlreadyPosted):
		appErr = ErrAlreadyPosted
	case errors.Is(err, models.ErrChargeTypeInUse):
		appErr = ErrChargeTypeInUse
	case errors.Is(err, models.ErrBorrowerInUse):
		appErr = ErrBorrowerInUse
	case errors.Is(err, models.ErrDuplicate):
		appErr = ErrDuplicate
	case errors.Is(err, models.ErrNotFound):
		appErr = ErrResourceNotFound
	case errors.Is(err, models.ErrMissingActor):
		appErr = ErrMissingActor
	case errors.Is(err, models.ErrInvalidDate):
		appErr, echo = ErrInvalidDate, true
	case errors.Is(err, models.ErrInvalidAmount):
		appErr, echo = ErrInvalidAmount, true
	case errors.Is(err, models.ErrInvalidRate):
		appErr, echo = ErrInvalidRate, true
	case errors.Is(err, models.ErrInvalidStatus):
		appErr, echo = ErrInvalidStatus, true
	case errors.Is(err, models.ErrInvalidRequest):
		appErr, echo = ErrInvalidRequest, true
	default:
		logging.FromContext(r.Context()).Error("unhandled ledger error", "error", err)
		appErr = ErrInternalError
	}

	var details any
	if echo {
		details = map[string]string{"reason": err.Error()}
	}
	respondAppError(w, r, appErr, details)
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags. An empty body
// decodes as an empty object. It writes the error response itself and reports whether
// the handler may continue.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondAppError(w, r, ErrInvalidBody, map[string]string{"reason": err.Error()})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			respondAppError(w, r, ErrValidationFailed, nil)
			return false
		}
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{
				Field:   fe.Field(),
				Message: fmt.Sprintf("failed on '%s' rule", fe.Tag()),
			})
		}
		respondAppError(w, r, ErrValidationFailed, fields)
		return false
	}
	return true
}
