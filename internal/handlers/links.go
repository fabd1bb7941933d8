package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/crosschat/internal/auth"
	"github.com/memohai/crosschat/internal/correlation"
)

// ChannelLinker creates and removes Discord channel links.
type ChannelLinker interface {
	LinkChannel(ctx context.Context, channelID, createdBy string) (correlation.ChannelLink, bool, error)
	UnlinkChannel(ctx context.Context, threadID string) error
}

type LinkChannelRequest struct {
	ChannelID string `json:"channel_id"`
}

type LinkChannelResponse struct {
	Link    correlation.ChannelLink `json:"link"`
	Created bool                    `json:"created"`
}

type LinksHandler struct {
	logger *slog.Logger
	linker ChannelLinker
}

func NewLinksHandler(log *slog.Logger, linker ChannelLinker) *LinksHandler {
	return &LinksHandler{
		logger: log.With(slog.String("handler", "links")),
		linker: linker,
	}
}

func (h *LinksHandler) Register(e *echo.Echo) {
	group := e.Group("/api/links/channels")
	group.POST("", h.LinkChannel)
	group.DELETE("/:thread_id", h.UnlinkChannel)
}

// LinkChannel godoc
// @Summary Link a Discord channel
// @Description Creates a Telegram topic for the channel. An existing link is returned unchanged.
// @Tags links
// @Param payload body LinkChannelRequest true "Channel"
// @Success 201 {object} LinkChannelResponse
// @Success 200 {object} LinkChannelResponse
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/links/channels [post]
func (h *LinksHandler) LinkChannel(c echo.Context) error {
	var req LinkChannelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	channelID := strings.TrimSpace(req.ChannelID)
	if channelID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel_id is required")
	}
	subject, err := auth.SubjectFromContext(c)
	if err != nil {
		return err
	}
	link, created, err := h.linker.LinkChannel(c.Request().Context(), channelID, "api:"+subject)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logger.Info("channel linked",
			slog.String("channel_id", link.SourceChannelID),
			slog.String("thread_id", link.ThreadID),
			slog.String("subject", subject),
		)
	}
	return c.JSON(status, LinkChannelResponse{Link: link, Created: created})
}

// UnlinkChannel godoc
// @Summary Unlink a Discord channel
// @Tags links
// @Param thread_id path string true "Telegram topic id"
// @Success 204 "No Content"
// @Failure 404 {object} ErrorResponse
// @Router /api/links/channels/{thread_id} [delete]
func (h *LinksHandler) UnlinkChannel(c echo.Context) error {
	threadID := strings.TrimSpace(c.Param("thread_id"))
	if threadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread_id is required")
	}
	if err := h.linker.UnlinkChannel(c.Request().Context(), threadID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
