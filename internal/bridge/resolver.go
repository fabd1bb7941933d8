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

// linkStore is the part of the correlation store the resolver needs.
type linkStore interface {
	correlation.LinkStore
	correlation.ChannelLinkStore
}

// Resolver maps Discord users and channels to topics, creating each topic once.
type Resolver struct {
	logger      *slog.Logger
	store       linkStore
	threads     channel.ThreadCreator
	labelPrefix string
	now         func() time.Time
}

// NewResolver creates a Resolver. labelPrefix is prepended to the display name of new DM
// topics.
func NewResolver(log *slog.Logger, store linkStore, threads channel.ThreadCreator, labelPrefix string) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		logger:      log.With(slog.String("component", "resolver")),
		store:       store,
		threads:     threads,
		labelPrefix: labelPrefix,
		now:         time.Now,
	}
}

// Resolve returns the topic for identity, creating it on first contact. When two first
// contacts race, both return the stored winner; the loser's topic stays orphaned.
func (r *Resolver) Resolve(ctx context.Context, identity, displayName string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", fmt.Errorf("%w: empty identity", ErrUndeliverable)
	}
	link, err := r.store.FindLink(ctx, identity)
	if err == nil {
		return link.ThreadID, nil
	}
	if !errors.Is(err, correlation.ErrNotFound) {
		return "", err
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = identity
	}
	threadID, err := r.threads.CreateThread(ctx, r.labelPrefix+name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrThreadCreationFailed, err)
	}
	stored, created, err := r.store.InsertLinkIfAbsent(ctx, correlation.ConversationLink{
		SourceIdentity: identity,
		DisplayName:    name,
		ThreadID:       threadID,
		CreatedAt:      r.now().UTC(),
	})
	if err != nil {
		return "", err
	}
	if !created && stored.ThreadID != threadID {
		r.logger.Warn("orphan topic after concurrent first contact",
			slog.String("identity", identity),
			slog.String("orphan_thread_id", threadID),
			slog.String("thread_id", stored.ThreadID),
		)
	}
	if created {
		r.logger.Info("conversation linked", slog.String("identity", identity), slog.String("thread_id", threadID))
	}
	return stored.ThreadID, nil
}

// LinkChannel links a Discord channel to a new topic. An existing link is returned with
// created=false and no topic is made.
func (r *Resolver) LinkChannel(ctx context.Context, channelID, label, createdBy string) (correlation.ChannelLink, bool, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return correlation.ChannelLink{}, false, fmt.Errorf("%w: channel id is required", correlation.ErrInvalidRecord)
	}
	existing, err := r.store.FindChannelLink(ctx, channelID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, correlation.ErrNotFound) {
		return correlation.ChannelLink{}, false, err
	}

	if strings.TrimSpace(label) == "" {
		label = "Channel " + channelID
	}
	threadID, err := r.threads.CreateThread(ctx, label)
	if err != nil {
		return correlation.ChannelLink{}, false, fmt.Errorf("%w: %w", ErrThreadCreationFailed, err)
	}
	stored, created, err := r.store.InsertChannelLinkIfAbsent(ctx, correlation.ChannelLink{
		SourceChannelID: channelID,
		ThreadID:        threadID,
		CreatedBy:       createdBy,
		CreatedAt:       r.now().UTC(),
	})
	if err != nil {
		return correlation.ChannelLink{}, false, err
	}
	if !created && stored.ThreadID != threadID {
		r.logger.Warn("orphan topic after concurrent channel link",
			slog.String("channel_id", channelID),
			slog.String("orphan_thread_id", threadID),
			slog.String("thread_id", stored.ThreadID),
		)
	}
	if created {
		r.logger.Info("channel linked", slog.String("channel_id", channelID), slog.String("thread_id", threadID), slog.String("created_by", createdBy))
	}
	return stored, created, nil
}
