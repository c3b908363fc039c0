package client

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/weather-forecast-service/internal/models"
)

// ErrorCategory is a stable label for error classification in metrics and logs.
type ErrorCategory string

const (
	ErrorCategoryTimeout          ErrorCategory = "timeout"
	ErrorCategoryNetwork          ErrorCategory = "network"
	ErrorCategoryInvalidAPIKey    ErrorCategory = "invalid_api_key"
	ErrorCategoryLocationNotFound ErrorCategory = "location_not_found"
	ErrorCategoryCircuitOpen      ErrorCategory = "circuit_open"
	ErrorCategoryMalformed        ErrorCategory = "malformed_payload"
	ErrorCategoryTranslation      ErrorCategory = "translation_failed"
	ErrorCategoryCorruptRecord    ErrorCategory = "corrupt_record"
	ErrorCategorySync             ErrorCategory = "sync_failed"
	ErrorCategoryUnknown          ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrInvalidAPIKey):
		return ErrorCategoryInvalidAPIKey
	case errors.Is(err, models.ErrNotFound):
		return ErrorCategoryLocationNotFound
	case errors.Is(err, ErrCircuitOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, models.ErrMalformedPayload):
		return ErrorCategoryMalformed
	case errors.Is(err, models.ErrTranslationFailed):
		return ErrorCategoryTranslation
	case errors.Is(err, models.ErrCorruptRecord):
		return ErrorCategoryCorruptRecord
	case errors.Is(err, models.ErrSyncFailed):
		return ErrorCategorySync
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "network") || strings.Contains(errStr, "connection") || strings.Contains(errStr, "http request failed") {
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
