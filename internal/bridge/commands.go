package bridge

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/correlation"
)

const (
	cmdPing   = "/ping"
	cmdStatus = "/status"
	cmdLink   = "/link"
	cmdUnlink = "/unlink"
)

// parseCommand returns the lower-cased command without a "@botname" suffix, and its args.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	cmd := strings.ToLower(fields[0])
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:]
}

// handleCommand runs a bridge command. Unknown slash commands are not handled and get
// relayed like any other text.
func (b *Bridge) handleCommand(ctx context.Context, event channel.InboundMessage) (bool, error) {
	if !event.IsCommand() {
		return false, nil
	}
	cmd, args := parseCommand(event.Text)
	switch cmd {
	case cmdPing, cmdStatus, cmdLink, cmdUnlink:
	default:
		return false, nil
	}
	if !b.isOperator(event.Sender.SubjectID) {
		b.logger.Info("command from non-operator ignored", slog.String("command", cmd), slog.String("user_id", event.Sender.SubjectID))
		return true, nil
	}
	b.logger.Info("command received", slog.String("command", cmd), slog.String("user_id", event.Sender.SubjectID), slog.String("thread_id", event.ThreadID))

	var reply string
	switch cmd {
	case cmdPing:
		reply = "pong"
	case cmdStatus:
		reply = b.statusText(ctx) + b.topicText(ctx, event)
	case cmdLink:
		reply = b.linkCommand(ctx, event, args)
	case cmdUnlink:
		reply = b.unlinkCommand(ctx, event)
	}
	return true, b.replyCommand(ctx, event, reply)
}

func (b *Bridge) replyCommand(ctx context.Context, event channel.InboundMessage, text string) error {
	target := channel.Target{ConversationID: event.ConversationID, ThreadID: event.ThreadID}
	if _, err := b.telegram.SendText(ctx, target, text, event.MessageID); err != nil {
		return fmt.Errorf("%w: command reply: %w", ErrAdapterSendFailed, err)
	}
	return nil
}

func (b *Bridge) statusText(ctx context.Context) string {
	st, err := b.Status(ctx)
	var sb strings.Builder
	sb.WriteString("<b>crosschat status</b>\n")
	if err == nil {
		fmt.Fprintf(&sb, "DM links: %d\nChannel links: %d\nMessages: %d\n", st.Links.ConversationLinks, st.Links.ChannelLinks, st.Links.Messages)
	}
	fmt.Fprintf(&sb, "Store: %s\n", html.EscapeString(st.Store))
	if d := st.Dispatcher; d != nil {
		state := "stopped"
		if d.Running {
			state = "running"
		}
		fmt.Fprintf(&sb, "Dispatcher: %s (queued %d, timed out %d)\n", state, d.Queued, d.TimedOut)
	} else {
		sb.WriteString("Dispatcher: rest\n")
	}
	fmt.Fprintf(&sb, "Uptime: %s", st.Uptime)
	return sb.String()
}

// topicText describes the conversation behind the topic the command was sent in. The Discord
// user of a DM topic is looked up live.
func (b *Bridge) topicText(ctx context.Context, event channel.InboundMessage) string {
	if strings.TrimSpace(event.ThreadID) == "" {
		return ""
	}
	if link, err := b.store.FindLinkByThread(ctx, event.ThreadID); err == nil {
		identity, err := b.discord.FetchIdentity(ctx, link.SourceIdentity)
		if err != nil {
			b.logger.Warn("identity lookup failed", slog.String("identity", link.SourceIdentity), slog.Any("error", err))
			return fmt.Sprintf("\nTopic: DM with %s (lookup failed)", html.EscapeString(link.DisplayName))
		}
		return fmt.Sprintf("\nTopic: DM with <b>%s</b> (@%s)", html.EscapeString(identity.Label()), html.EscapeString(identity.Handle))
	}
	if link, err := b.store.FindChannelLinkByThread(ctx, event.ThreadID); err == nil {
		return fmt.Sprintf("\nTopic: channel <code>%s</code>", html.EscapeString(link.SourceChannelID))
	}
	return ""
}

func (b *Bridge) linkCommand(ctx context.Context, event channel.InboundMessage, args []string) string {
	if len(args) == 0 {
		return "Usage: /link &lt;discord_channel_id&gt;"
	}
	channelID := args[0]
	link, created, err := b.LinkChannel(ctx, channelID, event.Sender.SubjectID)
	if err != nil {
		b.logger.Warn("link command failed", slog.String("channel_id", channelID), slog.Any("error", err))
		return "Link failed: " + html.EscapeString(err.Error())
	}
	if !created {
		return fmt.Sprintf("Channel <code>%s</code> is already linked to topic %s.", html.EscapeString(channelID), link.ThreadID)
	}
	intro := fmt.Sprintf("Linked to Discord channel <code>%s</code>.", html.EscapeString(channelID))
	if _, err := b.telegram.SendText(ctx, channel.Target{ThreadID: link.ThreadID}, intro, ""); err != nil {
		b.logger.Warn("topic intro failed", slog.String("thread_id", link.ThreadID), slog.Any("error", err))
	}
	return fmt.Sprintf("Channel <code>%s</code> linked to topic %s.", html.EscapeString(channelID), link.ThreadID)
}

func (b *Bridge) unlinkCommand(ctx context.Context, event channel.InboundMessage) string {
	if strings.TrimSpace(event.ThreadID) == "" {
		return "Run /unlink inside a linked topic."
	}
	if _, err := b.store.FindLinkByThread(ctx, event.ThreadID); err == nil {
		return "DM topics are permanent and cannot be unlinked."
	}
	err := b.UnlinkChannel(ctx, event.ThreadID)
	switch {
	case err == nil:
		return "Channel unlinked. Messages in this topic are no longer relayed."
	case errors.Is(err, correlation.ErrNotFound):
		return "This topic is not linked to a channel."
	default:
		b.logger.Warn("unlink command failed", slog.String("thread_id", event.ThreadID), slog.Any("error", err))
		return "Unlink failed: " + html.EscapeString(err.Error())
	}
}
