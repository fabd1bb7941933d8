package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/correlation"
)

// EditSynchronizer mirrors edits of forwarded messages onto their counterparts.
type EditSynchronizer struct {
	logger   *slog.Logger
	store    correlation.Store
	telegram TelegramClient
	discord  DiscordClient
	now      func() time.Time
}

// NewEditSynchronizer creates an EditSynchronizer.
func NewEditSynchronizer(log *slog.Logger, store correlation.Store, telegram TelegramClient, discord DiscordClient) *EditSynchronizer {
	if log == nil {
		log = slog.Default()
	}
	return &EditSynchronizer{
		logger:   log.With(slog.String("component", "edit")),
		store:    store,
		telegram: telegram,
		discord:  discord,
		now:      time.Now,
	}
}

// OnEdit edits the counterpart of sourceMessageID. Edits of messages that were never
// relayed are dropped. The stored content changes only after the platform accepted the edit.
func (e *EditSynchronizer) OnEdit(ctx context.Context, sourceMessageID string, dir correlation.Direction, event channel.InboundMessage) error {
	row, err := e.store.FindMessage(ctx, sourceMessageID, dir)
	if errors.Is(err, correlation.ErrNotFound) {
		e.logger.Info("edit of unrelayed message dropped", slog.String("message_id", sourceMessageID), slog.String("direction", dir.String()))
		return nil
	}
	if err != nil {
		return err
	}
	body := bodyText(event)
	if row.LastEditedAt != nil && row.Content == body {
		e.logger.Debug("edit unchanged", slog.String("message_id", sourceMessageID))
		return nil
	}

	var out outbound = e.telegram
	target := channel.Target{ThreadID: row.TargetThreadID}
	linked := false
	if dir == correlation.TelegramToDiscord {
		out = e.discord
		target = channel.Target{ConversationID: row.TargetThreadID}
		if _, err := e.store.FindChannelLink(ctx, row.TargetThreadID); err == nil {
			linked = true
		} else if !errors.Is(err, correlation.ErrNotFound) {
			return err
		}
	}

	if err := out.EditText(ctx, target, row.TargetMessageID, composeText(dir, event, linked, true)); err != nil {
		if errors.Is(err, channel.ErrMessageTooOld) || errors.Is(err, channel.ErrForbidden) || errors.Is(err, channel.ErrNotFound) {
			e.logger.Warn("counterpart not editable", slog.String("message_id", sourceMessageID), slog.String("target_message_id", row.TargetMessageID), slog.Any("error", err))
		}
		return fmt.Errorf("%w: %w", ErrAdapterSendFailed, err)
	}

	editedAt := event.EditedAt
	if editedAt.IsZero() {
		editedAt = e.now()
	}
	if err := e.store.UpdateMessageContent(ctx, row.ID, body, editedAt.UTC()); err != nil {
		return err
	}
	e.logger.Info("edit propagated", slog.String("message_id", sourceMessageID), slog.String("target_message_id", row.TargetMessageID), slog.String("direction", dir.String()))
	return nil
}
