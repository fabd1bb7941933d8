package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/channel/adapters/common"
	"github.com/memohai/crosschat/internal/config"
)

// Type is the Telegram channel type.
const Type channel.ChannelType = channel.Telegram

const (
	telegramMaxMessageLength = 4096
	telegramMaxCaptionLength = 1024
	telegramMaxTopicName     = 128
	// ParseMode is used for every text the adapter sends; callers escape their content.
	ParseMode = tgbotapi.ModeHTML
)

// botAPI is the subset of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// TelegramAdapter bridges one forum-enabled supergroup (the topics chat).
// It implements channel.Receiver, ThreadCreator, TextSender, AttachmentSender and MessageEditor.
type TelegramAdapter struct {
	logger *slog.Logger
	cfg    config.TelegramConfig

	mu  sync.Mutex
	bot botAPI
}

// NewTelegramAdapter creates a TelegramAdapter for the configured topics chat.
func NewTelegramAdapter(log *slog.Logger, cfg config.TelegramConfig) *TelegramAdapter {
	if log == nil {
		log = slog.Default()
	}
	adapter := &TelegramAdapter{
		logger: log.With(slog.String("adapter", "telegram")),
		cfg:    cfg,
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	return adapter
}

var newBotForTest func(token string) (botAPI, error)

func (a *TelegramAdapter) getBot() (botAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return a.bot, nil
	}
	if newBotForTest != nil {
		bot, err := newBotForTest(a.cfg.BotToken)
		if err != nil {
			return nil, err
		}
		a.bot = bot
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(a.cfg.BotToken)
	if err != nil {
		a.logger.Error("create bot failed", slog.Any("error", err))
		return nil, classifyError("get me", err)
	}
	a.logger.Info("bot authorized", slog.String("username", bot.Self.UserName))
	a.bot = bot
	return bot, nil
}

// Type returns the Telegram channel type.
func (a *TelegramAdapter) Type() channel.ChannelType {
	return Type
}

// ChatID returns the topics chat id as a string.
func (a *TelegramAdapter) ChatID() string {
	return strconv.FormatInt(a.cfg.TopicsChatID, 10)
}

func (a *TelegramAdapter) baseParams(target channel.Target) (tgbotapi.Params, error) {
	chatID := strings.TrimSpace(target.ConversationID)
	if chatID == "" {
		chatID = a.ChatID()
	}
	if _, err := strconv.ParseInt(chatID, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: telegram chat id %q", channel.ErrInvalidTarget, chatID)
	}
	params := tgbotapi.Params{}
	params["chat_id"] = chatID
	if thread := strings.TrimSpace(target.ThreadID); thread != "" {
		if _, err := strconv.Atoi(thread); err != nil {
			return nil, fmt.Errorf("%w: telegram topic id %q", channel.ErrInvalidTarget, thread)
		}
		params["message_thread_id"] = thread
	}
	return params, nil
}

func addReply(params tgbotapi.Params, replyTo string) {
	replyTo = strings.TrimSpace(replyTo)
	if replyTo == "" {
		return
	}
	if _, err := strconv.Atoi(replyTo); err != nil {
		return
	}
	params["reply_to_message_id"] = replyTo
	params.AddBool("allow_sending_without_reply", true)
}

type forumTopic struct {
	MessageThreadID int    `json:"message_thread_id"`
	Name            string `json:"name"`
}

// CreateThread creates a forum topic in the topics chat and returns its id.
func (a *TelegramAdapter) CreateThread(ctx context.Context, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bot, err := a.getBot()
	if err != nil {
		return "", err
	}
	name := truncateRunes(strings.TrimSpace(label), telegramMaxTopicName)
	if name == "" {
		return "", fmt.Errorf("topic name is required")
	}
	params := tgbotapi.Params{}
	params["chat_id"] = a.ChatID()
	params["name"] = name
	resp, err := bot.MakeRequest("createForumTopic", params)
	if err != nil {
		return "", classifyError("create topic", err)
	}
	var topic forumTopic
	if err := json.Unmarshal(resp.Result, &topic); err != nil {
		return "", fmt.Errorf("decode forum topic: %w", err)
	}
	if topic.MessageThreadID == 0 {
		return "", fmt.Errorf("telegram create topic: empty thread id")
	}
	a.logger.Info("topic created", slog.Int("thread_id", topic.MessageThreadID), slog.String("name", name))
	return strconv.Itoa(topic.MessageThreadID), nil
}

// SendText sends HTML-formatted text to the target topic.
func (a *TelegramAdapter) SendText(ctx context.Context, target channel.Target, text string, replyTo string) (channel.Sent, error) {
	if err := ctx.Err(); err != nil {
		return channel.Sent{}, err
	}
	bot, err := a.getBot()
	if err != nil {
		return channel.Sent{}, err
	}
	params, err := a.baseParams(target)
	if err != nil {
		return channel.Sent{}, err
	}
	params["text"] = truncateTelegramText(sanitizeTelegramText(text), telegramMaxMessageLength)
	params["parse_mode"] = ParseMode
	params.AddBool("disable_web_page_preview", true)
	addReply(params, replyTo)

	resp, err := bot.MakeRequest("sendMessage", params)
	if err != nil {
		return channel.Sent{}, classifyError("send message", err)
	}
	return decodeSent(resp)
}

// SendAttachment sends an attachment by URL. Images go through sendPhoto; everything
// else through sendDocument. Telegram fetches the URL itself.
func (a *TelegramAdapter) SendAttachment(ctx context.Context, target channel.Target, att channel.Attachment, caption string, replyTo string) (channel.Sent, error) {
	if err := ctx.Err(); err != nil {
		return channel.Sent{}, err
	}
	url := strings.TrimSpace(att.URL)
	if url == "" {
		return channel.Sent{}, fmt.Errorf("attachment url is required")
	}
	bot, err := a.getBot()
	if err != nil {
		return channel.Sent{}, err
	}
	params, err := a.baseParams(target)
	if err != nil {
		return channel.Sent{}, err
	}
	if caption = strings.TrimSpace(caption); caption != "" {
		params["caption"] = truncateTelegramText(sanitizeTelegramText(caption), telegramMaxCaptionLength)
		params["parse_mode"] = ParseMode
	}
	addReply(params, replyTo)

	endpoint, field := "sendDocument", "document"
	if att.IsImage() {
		endpoint, field = "sendPhoto", "photo"
	}
	// URL files need no multipart upload; they travel as a plain parameter
	params[field] = tgbotapi.FileURL(url).SendData()
	resp, err := bot.MakeRequest(endpoint, params)
	if err != nil {
		return channel.Sent{}, classifyError(endpoint, err)
	}
	return decodeSent(resp)
}

// EditText replaces the text of a message the bot sent. An unchanged text is not an error.
func (a *TelegramAdapter) EditText(ctx context.Context, target channel.Target, messageID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := a.getBot()
	if err != nil {
		return err
	}
	params, err := a.baseParams(channel.Target{ConversationID: target.ConversationID})
	if err != nil {
		return err
	}
	if _, err := strconv.Atoi(strings.TrimSpace(messageID)); err != nil {
		return fmt.Errorf("%w: telegram message id %q", channel.ErrInvalidTarget, messageID)
	}
	params["message_id"] = strings.TrimSpace(messageID)
	params["text"] = truncateTelegramText(sanitizeTelegramText(text), telegramMaxMessageLength)
	params["parse_mode"] = ParseMode
	params.AddBool("disable_web_page_preview", true)

	_, err = bot.MakeRequest("editMessageText", params)
	if err == nil {
		return nil
	}
	err = classifyError("edit message", err)
	if isNotModified(err) {
		return nil
	}
	return err
}

func decodeSent(resp *tgbotapi.APIResponse) (channel.Sent, error) {
	var msg tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &msg); err != nil {
		return channel.Sent{}, fmt.Errorf("decode sent message: %w", err)
	}
	sent := channel.Sent{MessageID: strconv.Itoa(msg.MessageID)}
	if msg.Chat != nil {
		sent.ConversationID = strconv.FormatInt(msg.Chat.ID, 10)
	}
	return sent, nil
}

// sanitizeTelegramText ensures text is valid UTF-8 for the Telegram API.
func sanitizeTelegramText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateTelegramText truncates text to limit bytes on a rune boundary without leaving
// a dangling HTML entity behind.
func truncateTelegramText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := common.TruncateRunes(text, limit)
	body := strings.TrimSuffix(cut, "...")
	if amp := strings.LastIndexByte(body, '&'); amp >= 0 && !strings.Contains(body[amp:], ";") {
		body = body[:amp]
	}
	return body + "..."
}

func truncateRunes(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}
