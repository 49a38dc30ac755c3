package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/hive/services"
	"github.com/upb/hive/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	var writeErr error
	switch {
	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, domainMessage(err), details)

	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, domainMessage(err))

	case services.IsUnavailableError(err):
		// the message enumerates every provider and why it could not serve
		logger.Warn("no provider could serve the request", zap.Error(err))
		writeErr = utils.WriteServiceUnavailable(w, err.Error(), details)

	case services.IsTimeoutError(err):
		writeErr = utils.WriteGatewayTimeout(w, "")

	case services.IsCanceledError(err):
		logger.Debug("client closed request", zap.Error(err))
		writeErr = utils.WriteClientClosed(w)

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

// domainMessage returns the caller-facing message of a domain error.
func domainMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		return domainErr.Message
	}
	return err.Error()
}
