package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/correlation"
)

// Relay forwards one inbound event to the other platform and records its correlations.
type Relay struct {
	logger   *slog.Logger
	store    correlation.Store
	resolver *Resolver
	telegram TelegramClient
	discord  DiscordClient
	now      func() time.Time
}

// NewRelay creates a Relay.
func NewRelay(log *slog.Logger, store correlation.Store, resolver *Resolver, telegram TelegramClient, discord DiscordClient) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		logger:   log.With(slog.String("component", "relay")),
		store:    store,
		resolver: resolver,
		telegram: telegram,
		discord:  discord,
		now:      time.Now,
	}
}

// Relay forwards event in direction dir and returns the text correlation. A redelivered
// event returns its existing correlation without sending. Store reads happen before any
// send; a failed text send aborts the event while failed attachments are skipped.
func (r *Relay) Relay(ctx context.Context, dir correlation.Direction, event channel.InboundMessage) (correlation.MessageCorrelation, error) {
	if !dir.Valid() {
		return correlation.MessageCorrelation{}, fmt.Errorf("%w: unknown direction %q", ErrUndeliverable, dir)
	}
	existing, err := r.store.FindMessage(ctx, event.MessageID, dir)
	if err == nil {
		r.logger.Debug("redelivered event skipped", slog.String("message_id", event.MessageID), slog.String("direction", dir.String()))
		return existing, nil
	}
	if !errors.Is(err, correlation.ErrNotFound) {
		return correlation.MessageCorrelation{}, err
	}

	dest, err := r.destination(ctx, dir, event)
	if err != nil {
		return correlation.MessageCorrelation{}, err
	}
	replyTo, err := r.resolveReply(ctx, dir, event.ReplyParentID)
	if err != nil {
		return correlation.MessageCorrelation{}, err
	}

	out := r.outbound(dir)
	sent, err := out.SendText(ctx, dest.target, composeText(dir, event, dest.linked, false), replyTo)
	if err != nil {
		return correlation.MessageCorrelation{}, fmt.Errorf("%w: %w", ErrAdapterSendFailed, err)
	}

	base := correlation.MessageCorrelation{
		SourceMessageID:      event.MessageID,
		SourceConversationID: sourceConversation(event),
		TargetThreadID:       dest.threadID,
		Direction:            dir,
		Timestamp:            r.now().UTC(),
		IsReply:              replyTo != "",
	}
	if replyTo != "" {
		base.ReplyTargetID = &replyTo
	}

	text := base
	text.TargetMessageID = sent.MessageID
	text.Content = bodyText(event)
	stored, err := r.store.InsertMessage(ctx, text)
	if errors.Is(err, correlation.ErrDuplicate) {
		// a concurrent redelivery won; its row stands and this send is a duplicate
		r.logger.Warn("duplicate relay recorded by another worker", slog.String("message_id", event.MessageID), slog.String("direction", dir.String()))
		return r.store.FindMessage(ctx, event.MessageID, dir)
	}
	if err != nil {
		return correlation.MessageCorrelation{}, err
	}

	for i, att := range event.Attachments {
		part := i + 1
		caption := attachmentCaption(dir, event, att, dest.linked)
		attSent, err := out.SendAttachment(ctx, dest.target, att, caption, replyTo)
		if err != nil {
			r.logger.Warn("attachment skipped",
				slog.String("message_id", event.MessageID),
				slog.Int("part", part),
				slog.String("name", att.Name),
				slog.Any("error", err),
			)
			continue
		}
		name := att.Name
		row := base
		row.Part = part
		row.TargetMessageID = attSent.MessageID
		row.HasAttachment = true
		row.AttachmentName = &name
		row.Content = caption
		if _, err := r.store.InsertMessage(ctx, row); err != nil {
			if errors.Is(err, correlation.ErrDuplicate) {
				continue
			}
			return stored, err
		}
	}
	return stored, nil
}

// destination resolves where event is delivered. Discord DMs map to the sender's topic and
// linked guild channels to their topic. Telegram topics map back to a DM or a channel.
func (r *Relay) destination(ctx context.Context, dir correlation.Direction, event channel.InboundMessage) (destination, error) {
	if dir == correlation.DiscordToTelegram {
		if event.Kind == channel.KindDirect {
			threadID, err := r.resolver.Resolve(ctx, event.Sender.SubjectID, event.Sender.Label())
			if err != nil {
				return destination{}, err
			}
			return destination{target: channel.Target{ThreadID: threadID}, threadID: threadID}, nil
		}
		link, err := r.store.FindChannelLink(ctx, event.ConversationID)
		if errors.Is(err, correlation.ErrNotFound) {
			return destination{}, fmt.Errorf("%w: channel %s is not linked", ErrUndeliverable, event.ConversationID)
		}
		if err != nil {
			return destination{}, err
		}
		return destination{target: channel.Target{ThreadID: link.ThreadID}, threadID: link.ThreadID, linked: true}, nil
	}

	threadID := strings.TrimSpace(event.ThreadID)
	if threadID == "" {
		return destination{}, fmt.Errorf("%w: message outside a topic", ErrUndeliverable)
	}
	link, err := r.store.FindLinkByThread(ctx, threadID)
	if err == nil {
		channelID, err := r.discord.OpenDirect(ctx, link.SourceIdentity)
		if err != nil {
			if errors.Is(err, channel.ErrForbidden) || errors.Is(err, channel.ErrNotFound) {
				r.logger.Warn("discord user unreachable, the user may have DMs disabled or no longer exist",
					slog.String("user_id", link.SourceIdentity), slog.Any("error", err))
			}
			return destination{}, fmt.Errorf("%w: %w", ErrAdapterSendFailed, err)
		}
		return destination{target: channel.Target{ConversationID: channelID}, threadID: channelID}, nil
	}
	if !errors.Is(err, correlation.ErrNotFound) {
		return destination{}, err
	}
	chLink, err := r.store.FindChannelLinkByThread(ctx, threadID)
	if errors.Is(err, correlation.ErrNotFound) {
		return destination{}, fmt.Errorf("%w: topic %s is not linked", ErrUndeliverable, threadID)
	}
	if err != nil {
		return destination{}, err
	}
	return destination{target: channel.Target{ConversationID: chLink.SourceChannelID}, threadID: chLink.SourceChannelID, linked: true}, nil
}

// resolveReply maps a source-side reply parent to the destination-side message id. The
// parent may be a message forwarded in this direction or one that arrived from the other
// side. An unknown parent yields no reply reference.
func (r *Relay) resolveReply(ctx context.Context, dir correlation.Direction, parentID string) (string, error) {
	parentID = strings.TrimSpace(parentID)
	if parentID == "" {
		return "", nil
	}
	forward, err := r.store.FindMessage(ctx, parentID, dir)
	if err == nil {
		return forward.TargetMessageID, nil
	}
	if !errors.Is(err, correlation.ErrNotFound) {
		return "", err
	}
	back, err := r.store.FindMessageByTarget(ctx, parentID, dir.Opposite())
	if err == nil {
		return back.SourceMessageID, nil
	}
	if !errors.Is(err, correlation.ErrNotFound) {
		return "", err
	}
	r.logger.Debug("reply parent not correlated", slog.String("parent_id", parentID), slog.String("direction", dir.String()))
	return "", nil
}

func (r *Relay) outbound(dir correlation.Direction) outbound {
	if dir == correlation.DiscordToTelegram {
		return r.telegram
	}
	return r.discord
}

// sourceConversation is the conversation id recorded for an event. Telegram events use
// their topic so rows stay scoped to one conversation.
func sourceConversation(event channel.InboundMessage) string {
	if event.Channel == channel.Telegram && event.ThreadID != "" {
		return event.ThreadID
	}
	return event.ConversationID
}
