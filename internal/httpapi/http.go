package httpapi

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/DoyleJ11/focus-room-backend/internal/errors"
	"github.com/DoyleJ11/focus-room-backend/pkg/types"
)

// Error codes for API error responses
const (
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeIneligible     = "INELIGIBLE"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeUnavailable    = "UNAVAILABLE"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// APIError is an error with an HTTP status and a body.
type APIError struct {
	Status int
	Body   types.ErrorResponse
}

func (e *APIError) Error() string { return e.Body.Message }

func BadRequest(message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Body: types.ErrorResponse{Code: ErrCodeBadRequest, Message: message}}
}

// ToAPIError maps domain errors onto HTTP statuses.
func ToAPIError(err error, log *zap.Logger) *APIError {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}

	switch apperrors.KindOf(err) {
	case apperrors.KindIneligible:
		var ie *apperrors.IneligibleError
		stderrors.As(err, &ie)
		return &APIError{Status: http.StatusForbidden, Body: types.ErrorResponse{
			Code: ErrCodeIneligible, Message: ie.Error(), Online: ie.Online, Required: ie.Required,
		}}
	case apperrors.KindConflict:
		return &APIError{Status: http.StatusConflict, Body: types.ErrorResponse{Code: ErrCodeConflict, Message: err.Error()}}
	case apperrors.KindNotFound:
		return &APIError{Status: http.StatusNotFound, Body: types.ErrorResponse{Code: ErrCodeNotFound, Message: err.Error()}}
	case apperrors.KindValidation:
		return &APIError{Status: http.StatusBadRequest, Body: types.ErrorResponse{Code: ErrCodeValidation, Message: err.Error()}}
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return &APIError{Status: http.StatusServiceUnavailable, Body: types.ErrorResponse{Code: ErrCodeUnavailable, Message: "request cancelled"}}
	}
	log.Error("internal error", zap.Error(err))
	return &APIError{Status: http.StatusInternalServerError, Body: types.ErrorResponse{Code: ErrCodeInternalServer, Message: "Internal server error"}}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondOK(w http.ResponseWriter, data any) {
	respondJSON(w, http.StatusOK, data)
}

func respondCreated(w http.ResponseWriter, data any) {
	respondJSON(w, http.StatusCreated, data)
}

func respondError(w http.ResponseWriter, log *zap.Logger, err error) {
	apiErr := ToAPIError(err, log)
	respondJSON(w, apiErr.Status, apiErr.Body)
}

// decodeJSON decodes the request body into target, rejecting unknown fields.
func decodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		if stderrors.Is(err, io.EOF) {
			return BadRequest("Request body is empty")
		}
		return BadRequest("Invalid JSON: " + err.Error())
	}
	return nil
}

// requestLogger logs one line per request with zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
