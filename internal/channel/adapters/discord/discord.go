package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/channel/adapters/common"
	"github.com/memohai/crosschat/internal/config"
	"github.com/memohai/crosschat/internal/dispatch"
)

// Type is the Discord channel type.
const Type channel.ChannelType = channel.Discord

const gatewayIntents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

// gatewaySession is the subset of *discordgo.Session the gateway adapter drives.
type gatewaySession interface {
	restSession
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
}

// DiscordAdapter owns the gateway session and the dispatch loop that is the session's
// execution context. Inbound events are posted onto the loop and handled one at a time.
type DiscordAdapter struct {
	logger *slog.Logger
	cfg    config.DiscordConfig
	loop   *dispatch.Loop

	mu      sync.RWMutex
	session gatewaySession
	client  *Client
	selfID  string
}

// NewDiscordAdapter creates an adapter that runs its session work on loop.
func NewDiscordAdapter(log *slog.Logger, cfg config.DiscordConfig, loop *dispatch.Loop) *DiscordAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &DiscordAdapter{
		logger: log.With(slog.String("adapter", "discord")),
		cfg:    cfg,
		loop:   loop,
	}
}

var newSessionForTest func(token string) (gatewaySession, error)

func (a *DiscordAdapter) getSession() (gatewaySession, error) {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session != nil {
		return session, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		return a.session, nil
	}
	token := strings.TrimSpace(a.cfg.Token)
	if !a.cfg.UserAccount {
		token = "Bot " + token
	}
	if newSessionForTest != nil {
		s, err := newSessionForTest(token)
		if err != nil {
			return nil, err
		}
		a.session = s
		a.client = newClient(a.logger, s)
		return s, nil
	}
	s, err := discordgo.New(token)
	if err != nil {
		a.logger.Error("create session failed", slog.Any("error", err))
		return nil, err
	}
	s.Identify.Intents = gatewayIntents
	a.session = s
	a.client = newClient(a.logger, s)
	return s, nil
}

// Type returns the Discord channel type.
func (a *DiscordAdapter) Type() channel.ChannelType {
	return Type
}

// Loop returns the dispatch loop that owns the session.
func (a *DiscordAdapter) Loop() *dispatch.Loop {
	return a.loop
}

// SelfID returns the bridge account's user id once the gateway is ready.
func (a *DiscordAdapter) SelfID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.selfID
}

// Client returns the session-bound client. Callers outside the loop should wrap it in a
// DispatchedClient.
func (a *DiscordAdapter) Client() (*Client, error) {
	if _, err := a.getSession(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client, nil
}

// Connect starts the dispatch loop and opens the gateway. Message creates and edits are
// converted and posted onto the loop, where handler runs.
func (a *DiscordAdapter) Connect(ctx context.Context, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.Bool("user_account", a.cfg.UserAccount))
	session, err := a.getSession()
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := a.loop.Run(loopCtx); err != nil && loopCtx.Err() == nil {
			a.logger.Error("dispatch loop exited", slog.Any("error", err))
		}
	}()

	post := func(msg channel.InboundMessage) {
		a.logger.Info("inbound received",
			slog.String("chat_type", string(msg.Kind)),
			slog.String("channel_id", msg.ConversationID),
			slog.String("user_id", msg.Sender.SubjectID),
			slog.Bool("edit", msg.IsEdit),
			slog.String("text", common.SummarizeText(msg.Text)),
		)
		err := a.loop.Post(loopCtx, func(taskCtx context.Context) {
			if err := handler(taskCtx, msg); err != nil {
				a.logger.Debug("inbound not delivered", slog.String("message_id", msg.MessageID), slog.Any("error", err))
			}
		})
		if err != nil {
			a.logger.Warn("inbound dropped", slog.String("message_id", msg.MessageID), slog.Any("error", err))
		}
	}

	removers := []func(){
		session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			if r.User == nil {
				return
			}
			a.mu.Lock()
			a.selfID = r.User.ID
			a.mu.Unlock()
			a.logger.Info("gateway ready", slog.String("user_id", r.User.ID), slog.String("username", r.User.Username))
		}),
		session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			if msg, ok := toInbound(a.SelfID(), m.Message, false); ok {
				post(msg)
			}
		}),
		session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
			if msg, ok := toInbound(a.SelfID(), m.Message, true); ok {
				post(msg)
			}
		}),
	}
	removeHandlers := func() {
		for _, remove := range removers {
			remove()
		}
	}

	if err := session.Open(); err != nil {
		removeHandlers()
		cancel()
		<-loopDone
		return nil, fmt.Errorf("discord open connection: %w", classifyError("open", err))
	}

	conn := channel.NewConnection(Type, func(stopCtx context.Context) error {
		a.logger.Info("stop")
		removeHandlers()
		closeErr := session.Close()
		cancel()
		select {
		case <-loopDone:
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
		return closeErr
	})
	return conn, nil
}

// toInbound converts a gateway message. Messages by the bridge account, by bots, system
// messages, updates that are not edits and empty messages are skipped.
func toInbound(selfID string, m *discordgo.Message, isEdit bool) (channel.InboundMessage, bool) {
	if m == nil || m.Author == nil {
		return channel.InboundMessage{}, false
	}
	if m.Author.Bot || (selfID != "" && m.Author.ID == selfID) {
		return channel.InboundMessage{}, false
	}
	if m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply {
		return channel.InboundMessage{}, false
	}
	// embed unfurls also arrive as updates, without an edit timestamp
	if isEdit && m.EditedTimestamp == nil {
		return channel.InboundMessage{}, false
	}
	attachments := collectAttachments(m)
	if strings.TrimSpace(m.Content) == "" && len(attachments) == 0 {
		return channel.InboundMessage{}, false
	}

	msg := channel.InboundMessage{
		Channel:        Type,
		MessageID:      m.ID,
		ConversationID: m.ChannelID,
		Kind:           channel.KindChannel,
		GuildID:        m.GuildID,
		Sender:         userIdentity(m.Author),
		Text:           m.Content,
		Attachments:    attachments,
		IsEdit:         isEdit,
		ReceivedAt:     m.Timestamp.UTC(),
	}
	if m.GuildID == "" {
		msg.Kind = channel.KindDirect
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	if ref := m.MessageReference; ref != nil && m.Type == discordgo.MessageTypeReply {
		msg.ReplyParentID = ref.MessageID
	}
	if isEdit {
		msg.EditedAt = m.EditedTimestamp.UTC()
	}
	return msg, true
}

func collectAttachments(m *discordgo.Message) []channel.Attachment {
	if len(m.Attachments) == 0 {
		return nil
	}
	attachments := make([]channel.Attachment, 0, len(m.Attachments))
	for _, att := range m.Attachments {
		if att == nil || strings.TrimSpace(att.URL) == "" {
			continue
		}
		attachments = append(attachments, channel.Attachment{
			URL:         att.URL,
			ContentType: att.ContentType,
			Name:        att.Filename,
			Size:        int64(att.Size),
		})
	}
	return attachments
}
