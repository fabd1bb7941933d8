package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/crosschat/internal/channel"
)

const (
	discordMaxMessageLength = 2000
	// uploads above this are rejected for bots without boosted guilds
	maxAttachmentBytes = 25 << 20
	downloadTimeout    = 60 * time.Second
)

// restSession is the subset of *discordgo.Session used for outbound calls.
type restSession interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Client performs Discord REST operations. The gateway adapter hands out a Client bound
// to its session; NewRESTClient builds a stateless one from a bot token.
type Client struct {
	logger  *slog.Logger
	session restSession
	http    *http.Client

	mu         sync.Mutex
	dmChannels map[string]string // user id -> DM channel id
}

func newClient(log *slog.Logger, session restSession) *Client {
	return &Client{
		logger:     log,
		session:    session,
		http:       &http.Client{Timeout: downloadTimeout},
		dmChannels: map[string]string{},
	}
}

// NewRESTClient creates a Client that talks to the REST API only. The session is never
// opened, so calls are safe from any goroutine.
func NewRESTClient(log *slog.Logger, botToken string) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	botToken = strings.TrimSpace(botToken)
	if botToken == "" {
		return nil, fmt.Errorf("discord rest bot token is required")
	}
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord rest session: %w", err)
	}
	return newClient(log.With(slog.String("adapter", "discord"), slog.String("mode", "rest")), session), nil
}

// Type returns the Discord channel type.
func (c *Client) Type() channel.ChannelType {
	return Type
}

// FetchIdentity looks up a Discord user.
func (c *Client) FetchIdentity(ctx context.Context, userID string) (channel.Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return channel.Identity{}, fmt.Errorf("%w: empty discord user id", channel.ErrInvalidTarget)
	}
	user, err := c.session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return channel.Identity{}, classifyError("fetch user", err)
	}
	return userIdentity(user), nil
}

// OpenDirect returns the DM channel id for userID, creating the channel when needed.
func (c *Client) OpenDirect(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: empty discord user id", channel.ErrInvalidTarget)
	}
	c.mu.Lock()
	cached, ok := c.dmChannels[userID]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}
	ch, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", classifyError("open dm", err)
	}
	c.mu.Lock()
	c.dmChannels[userID] = ch.ID
	c.mu.Unlock()
	return ch.ID, nil
}

// SendText posts text to target.ConversationID, as a reply when replyTo is set.
func (c *Client) SendText(ctx context.Context, target channel.Target, text string, replyTo string) (channel.Sent, error) {
	channelID, err := targetChannel(target)
	if err != nil {
		return channel.Sent{}, err
	}
	data := &discordgo.MessageSend{
		Content:         truncateDiscordText(text),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
		Reference:       replyReference(channelID, replyTo),
	}
	msg, err := c.session.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return channel.Sent{}, classifyError("send message", err)
	}
	return channel.Sent{MessageID: msg.ID, ConversationID: msg.ChannelID}, nil
}

// SendAttachment downloads att and re-uploads it with caption as the message content.
func (c *Client) SendAttachment(ctx context.Context, target channel.Target, att channel.Attachment, caption string, replyTo string) (channel.Sent, error) {
	channelID, err := targetChannel(target)
	if err != nil {
		return channel.Sent{}, err
	}
	body, err := c.fetchAttachment(ctx, att)
	if err != nil {
		return channel.Sent{}, err
	}
	return c.sendFile(ctx, channelID, att, body, caption, replyTo)
}

func (c *Client) fetchAttachment(ctx context.Context, att channel.Attachment) ([]byte, error) {
	if att.Size > maxAttachmentBytes {
		return nil, fmt.Errorf("attachment %q too large: %d bytes", att.Name, att.Size)
	}
	return c.download(ctx, att.URL)
}

func (c *Client) sendFile(ctx context.Context, channelID string, att channel.Attachment, body []byte, caption string, replyTo string) (channel.Sent, error) {
	name := strings.TrimSpace(att.Name)
	if name == "" {
		name = "file"
	}
	data := &discordgo.MessageSend{
		Content:         truncateDiscordText(caption),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
		Reference:       replyReference(channelID, replyTo),
		Files: []*discordgo.File{{
			Name:        name,
			ContentType: att.ContentType,
			Reader:      bytes.NewReader(body),
		}},
	}
	msg, err := c.session.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return channel.Sent{}, classifyError("send attachment", err)
	}
	return channel.Sent{MessageID: msg.ID, ConversationID: msg.ChannelID}, nil
}

// EditText replaces the content of a message the bridge sent.
func (c *Client) EditText(ctx context.Context, target channel.Target, messageID string, text string) error {
	channelID, err := targetChannel(target)
	if err != nil {
		return err
	}
	if strings.TrimSpace(messageID) == "" {
		return fmt.Errorf("%w: empty discord message id", channel.ErrInvalidTarget)
	}
	edit := discordgo.NewMessageEdit(channelID, strings.TrimSpace(messageID)).SetContent(truncateDiscordText(text))
	if _, err := c.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return classifyError("edit message", err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("attachment url is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		// the url may carry a platform token; keep it out of the error
		return nil, fmt.Errorf("download attachment: request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download attachment: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	if len(body) > maxAttachmentBytes {
		return nil, fmt.Errorf("download attachment: larger than %d bytes", maxAttachmentBytes)
	}
	return body, nil
}

func targetChannel(target channel.Target) (string, error) {
	channelID := strings.TrimSpace(target.ConversationID)
	if channelID == "" {
		return "", fmt.Errorf("%w: discord channel id is required", channel.ErrInvalidTarget)
	}
	return channelID, nil
}

func replyReference(channelID, replyTo string) *discordgo.MessageReference {
	replyTo = strings.TrimSpace(replyTo)
	if replyTo == "" {
		return nil
	}
	failIfMissing := false
	return &discordgo.MessageReference{
		MessageID:       replyTo,
		ChannelID:       channelID,
		FailIfNotExists: &failIfMissing,
	}
}

func userIdentity(user *discordgo.User) channel.Identity {
	if user == nil {
		return channel.Identity{}
	}
	display := strings.TrimSpace(user.GlobalName)
	if display == "" {
		display = user.Username
	}
	return channel.Identity{
		SubjectID:   user.ID,
		DisplayName: display,
		Handle:      user.Username,
		IsBot:       user.Bot,
	}
}

func truncateDiscordText(text string) string {
	if len([]rune(text)) <= discordMaxMessageLength {
		return text
	}
	return string([]rune(text)[:discordMaxMessageLength-3]) + "..."
}
