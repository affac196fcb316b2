package errors

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jw6ventures/esn-calendar/internal/logging"
)

func requestArgs(r *http.Request, args ...any) []any {
	if requestID := middleware.GetReqID(r.Context()); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	return append(args, "method", r.Method, "path", r.URL.Path)
}

// InternalError logs err and answers with a generic 500.
func InternalError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error, message string) {
	logger.Error(message, requestArgs(r, "err", err)...)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func BadRequestError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error, clientMessage string) {
	logger.Warn("bad request", requestArgs(r, "err", err)...)
	http.Error(w, clientMessage, http.StatusBadRequest)
}

func NotFoundError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error, clientMessage string) {
	logger.Info("not found", requestArgs(r, "err", err)...)
	http.Error(w, clientMessage, http.StatusNotFound)
}

func ForbiddenError(w http.ResponseWriter, r *http.Request, logger logging.Logger, clientMessage string) {
	logger.Info("forbidden", requestArgs(r)...)
	http.Error(w, clientMessage, http.StatusForbidden)
}

// BadGatewayError reports a failure of an upstream server.
func BadGatewayError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error) {
	logger.Error("upstream request failed", requestArgs(r, "err", err)...)
	http.Error(w, "upstream request failed", http.StatusBadGateway)
}

func LogError(r *http.Request, logger logging.Logger, message string, err error) {
	logger.Error(message, requestArgs(r, "err", err)...)
}

func LogInfo(r *http.Request, logger logging.Logger, message string) {
	logger.Info(message, requestArgs(r)...)
}
