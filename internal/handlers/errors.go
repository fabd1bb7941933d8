package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/crosschat/internal/bridge"
	"github.com/memohai/crosschat/internal/correlation"
	"github.com/memohai/crosschat/internal/dispatch"
)

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Message string `json:"message"`
}

// httpError maps bridge and store errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, correlation.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, correlation.ErrInvalidRecord):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, bridge.ErrThreadCreationFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, correlation.ErrStorageUnavailable),
		errors.Is(err, dispatch.ErrDispatchTimeout),
		errors.Is(err, dispatch.ErrLoopUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
