package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/channel/adapters/common"
)

const pollErrorBackoff = 3 * time.Second

// topicMessage extends the library message with the forum fields it does not decode.
type topicMessage struct {
	tgbotapi.Message
	MessageThreadID int  `json:"message_thread_id"`
	IsTopicMessage  bool `json:"is_topic_message"`
}

type topicUpdate struct {
	UpdateID      int           `json:"update_id"`
	Message       *topicMessage `json:"message"`
	EditedMessage *topicMessage `json:"edited_message"`
}

var allowedUpdates = []string{"message", "edited_message"}

func getUpdates(bot botAPI, offset, timeout int) ([]topicUpdate, error) {
	params := tgbotapi.Params{}
	params.AddNonZero("offset", offset)
	params.AddNonZero("timeout", timeout)
	if err := params.AddInterface("allowed_updates", allowedUpdates); err != nil {
		return nil, err
	}
	resp, err := bot.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, err
	}
	var updates []topicUpdate
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

// Connect starts long-polling the topics chat and feeds each message to handler,
// one update at a time.
func (a *TelegramAdapter) Connect(ctx context.Context, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.Int64("chat_id", a.cfg.TopicsChatID))
	bot, err := a.getBot()
	if err != nil {
		return nil, err
	}
	offset := 0
	if a.cfg.DropPendingUpdates {
		offset, err = a.skipPending(bot)
		if err != nil {
			return nil, err
		}
	}

	connCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	conn := channel.NewConnection(Type, func(stopCtx context.Context) error {
		a.logger.Info("stop")
		cancel()
		// an in-flight long poll only returns after its timeout
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	})
	go func() {
		defer close(done)
		a.poll(connCtx, bot, offset, handler)
		conn.MarkStopped()
	}()
	return conn, nil
}

// skipPending acknowledges everything queued before start and returns the next offset.
func (a *TelegramAdapter) skipPending(bot botAPI) (int, error) {
	updates, err := getUpdates(bot, -1, 0)
	if err != nil {
		return 0, classifyError("drop pending updates", err)
	}
	if len(updates) == 0 {
		return 0, nil
	}
	last := updates[len(updates)-1].UpdateID
	a.logger.Info("dropped pending updates", slog.Int("last_update_id", last))
	return last + 1, nil
}

func (a *TelegramAdapter) poll(ctx context.Context, bot botAPI, offset int, handler channel.InboundHandler) {
	timeout := a.cfg.PollTimeoutSeconds
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := getUpdates(bot, offset, timeout)
		if err != nil {
			wait := retryAfter(err)
			if wait <= 0 {
				wait = pollErrorBackoff
			}
			a.logger.Warn("get updates failed", slog.Any("error", classifyError("get updates", err)), slog.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if ctx.Err() != nil {
				return
			}
			msg, ok := a.toInbound(bot, update)
			if !ok {
				continue
			}
			a.logger.Info("inbound received",
				slog.String("thread_id", msg.ThreadID),
				slog.String("message_id", msg.MessageID),
				slog.String("user_id", msg.Sender.SubjectID),
				slog.Bool("edit", msg.IsEdit),
				slog.String("text", common.SummarizeText(msg.Text)),
			)
			if err := handler(ctx, msg); err != nil {
				a.logger.Debug("inbound not delivered", slog.String("message_id", msg.MessageID), slog.Any("error", err))
			}
		}
	}
}

// toInbound converts an update from the topics chat. Messages from other chats,
// from bots and without content are skipped.
func (a *TelegramAdapter) toInbound(bot botAPI, update topicUpdate) (channel.InboundMessage, bool) {
	raw, isEdit := update.Message, false
	if raw == nil && update.EditedMessage != nil {
		raw, isEdit = update.EditedMessage, true
	}
	if raw == nil || raw.Chat == nil {
		return channel.InboundMessage{}, false
	}
	if raw.Chat.ID != a.cfg.TopicsChatID {
		a.logger.Debug("update from foreign chat ignored", slog.Int64("chat_id", raw.Chat.ID))
		return channel.InboundMessage{}, false
	}
	if raw.From == nil || raw.From.IsBot {
		return channel.InboundMessage{}, false
	}

	text := raw.Text
	if strings.TrimSpace(text) == "" {
		text = raw.Caption
	}
	attachments := a.collectAttachments(bot, &raw.Message)
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return channel.InboundMessage{}, false
	}

	msg := channel.InboundMessage{
		Channel:        Type,
		MessageID:      strconv.Itoa(raw.MessageID),
		ConversationID: strconv.FormatInt(raw.Chat.ID, 10),
		Kind:           channel.KindChannel,
		Sender:         senderIdentity(raw.From),
		Text:           text,
		Attachments:    attachments,
		IsEdit:         isEdit,
		ReceivedAt:     time.Unix(int64(raw.Date), 0).UTC(),
	}
	if raw.IsTopicMessage && raw.MessageThreadID != 0 {
		msg.Kind = channel.KindThread
		msg.ThreadID = strconv.Itoa(raw.MessageThreadID)
	}
	// inside a topic every message "replies" to the topic root; that is not a real reply
	if parent := raw.ReplyToMessage; parent != nil && parent.MessageID != raw.MessageThreadID {
		msg.ReplyParentID = strconv.Itoa(parent.MessageID)
	}
	if isEdit {
		msg.EditedAt = time.Unix(int64(raw.EditDate), 0).UTC()
	}
	return msg, true
}

func senderIdentity(user *tgbotapi.User) channel.Identity {
	return channel.Identity{
		SubjectID:   strconv.FormatInt(user.ID, 10),
		DisplayName: strings.TrimSpace(user.FirstName + " " + user.LastName),
		Handle:      strings.TrimSpace(user.UserName),
		IsBot:       user.IsBot,
	}
}

func (a *TelegramAdapter) collectAttachments(bot botAPI, msg *tgbotapi.Message) []channel.Attachment {
	type fileRef struct {
		id, name, mime string
		size           int
	}
	var refs []fileRef
	if len(msg.Photo) > 0 {
		photo := pickTelegramPhoto(msg.Photo)
		refs = append(refs, fileRef{photo.FileID, "photo.jpg", "image/jpeg", photo.FileSize})
	}
	if d := msg.Document; d != nil {
		refs = append(refs, fileRef{d.FileID, d.FileName, d.MimeType, d.FileSize})
	}
	if v := msg.Video; v != nil {
		refs = append(refs, fileRef{v.FileID, fallbackName(v.FileName, "video.mp4"), fallbackName(v.MimeType, "video/mp4"), v.FileSize})
	}
	if v := msg.Animation; v != nil {
		refs = append(refs, fileRef{v.FileID, fallbackName(v.FileName, "animation.mp4"), fallbackName(v.MimeType, "video/mp4"), v.FileSize})
	}
	if v := msg.Audio; v != nil {
		refs = append(refs, fileRef{v.FileID, fallbackName(v.FileName, "audio.mp3"), fallbackName(v.MimeType, "audio/mpeg"), v.FileSize})
	}
	if v := msg.Voice; v != nil {
		refs = append(refs, fileRef{v.FileID, "voice.ogg", fallbackName(v.MimeType, "audio/ogg"), v.FileSize})
	}
	if v := msg.Sticker; v != nil {
		refs = append(refs, fileRef{v.FileID, "sticker.webp", "image/webp", v.FileSize})
	}

	attachments := make([]channel.Attachment, 0, len(refs))
	for _, ref := range refs {
		if strings.TrimSpace(ref.id) == "" {
			continue
		}
		url, err := bot.GetFileDirectURL(ref.id)
		if err != nil {
			// the direct URL embeds the bot token, so only the error is logged
			a.logger.Warn("resolve file url failed", slog.String("name", ref.name), slog.Any("error", classifyError("get file", err)))
			continue
		}
		attachments = append(attachments, channel.Attachment{
			URL:         url,
			ContentType: strings.TrimSpace(ref.mime),
			Name:        fallbackName(ref.name, "file"),
			Size:        int64(ref.size),
		})
	}
	return attachments
}

func pickTelegramPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

func fallbackName(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
