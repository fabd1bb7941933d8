package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/crosschat/internal/bridge"
	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/healthcheck"
)

// StatusReporter reports bridge health.
type StatusReporter interface {
	Status(ctx context.Context) (bridge.Status, error)
}

// ConnectionObserver reports platform connection state.
type ConnectionObserver interface {
	Statuses() []channel.ConnectionStatus
}

// CheckHistory exposes the latest scheduled health check results.
type CheckHistory interface {
	Last() ([]healthcheck.CheckResult, time.Time)
}

type StatusResponse struct {
	bridge.Status
	Connections []channel.ConnectionStatus `json:"connections"`
	Checks      []healthcheck.CheckResult  `json:"checks,omitempty"`
	CheckedAt   *time.Time                 `json:"checked_at,omitempty"`
}

type StatusHandler struct {
	logger      *slog.Logger
	reporter    StatusReporter
	connections ConnectionObserver
	checks      CheckHistory
}

func NewStatusHandler(log *slog.Logger, reporter StatusReporter, connections ConnectionObserver, checks CheckHistory) *StatusHandler {
	return &StatusHandler{
		logger:      log.With(slog.String("handler", "status")),
		reporter:    reporter,
		connections: connections,
		checks:      checks,
	}
}

func (h *StatusHandler) Register(e *echo.Echo) {
	e.GET("/api/status", h.GetStatus)
}

// GetStatus godoc
// @Summary Bridge status
// @Description Link and message counts, store health, dispatcher counters and connections
// @Tags status
// @Success 200 {object} StatusResponse
// @Failure 503 {object} StatusResponse
// @Router /api/status [get]
func (h *StatusHandler) GetStatus(c echo.Context) error {
	st, err := h.reporter.Status(c.Request().Context())
	resp := StatusResponse{Status: st, Connections: []channel.ConnectionStatus{}}
	if h.connections != nil {
		resp.Connections = h.connections.Statuses()
	}
	if h.checks != nil {
		if items, ranAt := h.checks.Last(); !ranAt.IsZero() {
			resp.Checks = items
			resp.CheckedAt = &ranAt
		}
	}
	if err != nil {
		h.logger.Warn("status degraded", slog.Any("error", err))
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
