package errorhandler

import (
	"context"
	"net/http"

	"github.com/community/community-api/internal/pkg/logger"
	"github.com/community/community-api/internal/pkg/response"
)

// HandleError logs the error with the request-scoped logger and sends a formatted error response.
// The underlying error is never written to the client.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	event := logger.FromContext(ctx).Error().
		Str("error_code", code).
		Str("error_message", message).
		Int("status_code", status)

	if err != nil {
		event = event.Err(err)
	}

	event.Msg("Request error")

	response.Error(w, status, code, message)
}

// HandleInternal logs err and sends the generic 500 response
func HandleInternal(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	logger.FromContext(ctx).Error().
		Str("operation", operation).
		Err(err).
		Msg("Internal error")

	response.InternalError(w)
}

// LogValidationError logs validation errors with details
func LogValidationError(ctx context.Context, fieldErrors map[string]string) {
	logger.FromContext(ctx).Warn().
		Interface("validation_errors", fieldErrors).
		Msg("Validation error")
}
