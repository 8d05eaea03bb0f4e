package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"tutor-agent/internal/usecase"
)

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream, usecase.ErrorRunFailed:
		return http.StatusBadGateway
	case usecase.ErrorRunTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c echo.Context, err error) error {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		ucErr = &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected_error", Err: err}
	}
	status := statusFor(ucErr.Code)

	fields := []zap.Field{
		zap.String("path", c.Path()),
		zap.String("code", string(ucErr.Code)),
		zap.String("reason", ucErr.Reason),
		zap.String("correlation_id", c.Response().Header().Get(headerCorrelationID)),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", fields...)
	} else {
		h.log.Info("request rejected", fields...)
	}

	code := ucErr.Code
	if status == http.StatusInternalServerError {
		code = usecase.ErrorInternal
	}
	return c.JSON(status, errorResponse{Error: string(code), Reason: ucErr.Reason})
}

// handleEchoError renders router-level failures (unknown route, wrong
// method, panics caught by Recover) in the same body shape as use case errors.
func (h *Handler) handleEchoError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		_ = h.writeError(c, err)
		return
	}
	body := errorResponse{Error: string(usecase.ErrorInternal)}
	switch he.Code {
	case http.StatusNotFound:
		body = errorResponse{Error: "NOT_FOUND", Reason: "route_not_found"}
	case http.StatusMethodNotAllowed:
		body = errorResponse{Error: "METHOD_NOT_ALLOWED", Reason: "method_not_allowed"}
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		body = errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_request"}
	case http.StatusTooManyRequests:
		body = errorResponse{Error: string(usecase.ErrorRateLimited), Reason: "too_many_requests"}
	default:
		if he.Code < http.StatusInternalServerError {
			body.Error = http.StatusText(he.Code)
		}
		h.log.Error("unhandled router error", zap.Int("status", he.Code), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(he.Code)
		return
	}
	_ = c.JSON(he.Code, body)
}
