package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/correlation"
	"github.com/memohai/crosschat/internal/dispatch"
)

// Options tunes the bridge.
type Options struct {
	// TopicLabelPrefix is prepended to the display name of new DM topics.
	TopicLabelPrefix string
	// Operators may run bridge commands. Empty allows every member of the topics chat.
	Operators []int64
}

// Bridge wires the resolver, relay and edit synchronizer to inbound events of both
// platforms. Handle* methods are the event boundary: every failure is logged there, panics
// are recovered, and the error is returned so the inbound chain leaves the event retryable.
type Bridge struct {
	logger    *slog.Logger
	store     correlation.Store
	telegram  TelegramClient
	discord   DiscordClient
	loop      *dispatch.Loop
	resolver  *Resolver
	relay     *Relay
	edits     *EditSynchronizer
	operators []int64
	startedAt time.Time
}

// New creates a Bridge. loop is the Discord dispatch loop, reported by Status; it may be nil
// when Discord calls go through the REST client only.
func New(log *slog.Logger, store correlation.Store, telegram TelegramClient, discord DiscordClient, loop *dispatch.Loop, opts Options) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	resolver := NewResolver(log, store, telegram, opts.TopicLabelPrefix)
	return &Bridge{
		logger:    log.With(slog.String("component", "bridge")),
		store:     store,
		telegram:  telegram,
		discord:   discord,
		loop:      loop,
		resolver:  resolver,
		relay:     NewRelay(log, store, resolver, telegram, discord),
		edits:     NewEditSynchronizer(log, store, telegram, discord),
		operators: opts.Operators,
		startedAt: time.Now().UTC(),
	}
}

// HandleDiscordEvent relays or edits a Discord message into the topics chat.
func (b *Bridge) HandleDiscordEvent(ctx context.Context, event channel.InboundMessage) error {
	return b.handle(ctx, correlation.DiscordToTelegram, event, func(ctx context.Context) error {
		if event.IsEdit {
			return b.edits.OnEdit(ctx, event.MessageID, correlation.DiscordToTelegram, event)
		}
		_, err := b.relay.Relay(ctx, correlation.DiscordToTelegram, event)
		return err
	})
}

// HandleTelegramEvent runs bridge commands or relays and edits a topic message to Discord.
func (b *Bridge) HandleTelegramEvent(ctx context.Context, event channel.InboundMessage) error {
	return b.handle(ctx, correlation.TelegramToDiscord, event, func(ctx context.Context) error {
		if event.IsEdit {
			return b.edits.OnEdit(ctx, event.MessageID, correlation.TelegramToDiscord, event)
		}
		if handled, err := b.handleCommand(ctx, event); handled {
			return err
		}
		_, err := b.relay.Relay(ctx, correlation.TelegramToDiscord, event)
		return err
	})
}

func (b *Bridge) handle(ctx context.Context, dir correlation.Direction, event channel.InboundMessage, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrEventPanicked, r)
			b.logger.Error("event handler panicked",
				slog.String("event_id", event.MessageID),
				slog.String("direction", dir.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err = fn(ctx); err != nil {
		b.logUndelivered(dir, event, err)
	}
	return err
}

// logUndelivered reports an event that was not (fully) delivered. Infrastructure failures
// log at ERROR, platform refusals at WARN.
func (b *Bridge) logUndelivered(dir correlation.Direction, event channel.InboundMessage, err error) {
	level := slog.LevelWarn
	if errors.Is(err, correlation.ErrStorageUnavailable) || errors.Is(err, dispatch.ErrDispatchTimeout) || errors.Is(err, dispatch.ErrLoopUnavailable) {
		level = slog.LevelError
	}
	b.logger.Log(context.Background(), level, "undelivered event",
		slog.String("event_id", event.MessageID),
		slog.String("direction", dir.String()),
		slog.Bool("edit", event.IsEdit),
		slog.Any("error", err),
	)
}

// LinkChannel links a Discord channel to a new topic.
func (b *Bridge) LinkChannel(ctx context.Context, channelID, createdBy string) (correlation.ChannelLink, bool, error) {
	return b.resolver.LinkChannel(ctx, channelID, "", createdBy)
}

// UnlinkChannel removes the channel link of threadID. DM topics cannot be unlinked.
func (b *Bridge) UnlinkChannel(ctx context.Context, threadID string) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return fmt.Errorf("%w: thread id is required", correlation.ErrInvalidRecord)
	}
	if err := b.store.DeleteChannelLink(ctx, threadID); err != nil {
		return err
	}
	b.logger.Info("channel unlinked", slog.String("thread_id", threadID))
	return nil
}

// Status is a snapshot of bridge health.
type Status struct {
	Links      correlation.Stats `json:"links"`
	Store      string            `json:"store"`
	Dispatcher *dispatch.Stats   `json:"dispatcher,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	Uptime     string            `json:"uptime"`
}

// Status reports link counts, store health and dispatcher counters. A store failure is
// reported in the snapshot and returned.
func (b *Bridge) Status(ctx context.Context) (Status, error) {
	st := Status{
		Store:     "ok",
		StartedAt: b.startedAt,
		Uptime:    time.Since(b.startedAt).Round(time.Second).String(),
	}
	if b.loop != nil {
		stats := b.loop.Stats()
		st.Dispatcher = &stats
	}
	if err := b.store.Ping(ctx); err != nil {
		st.Store = err.Error()
		return st, err
	}
	links, err := b.store.Stats(ctx)
	if err != nil {
		st.Store = err.Error()
		return st, err
	}
	st.Links = links
	return st, nil
}

func (b *Bridge) isOperator(subjectID string) bool {
	if len(b.operators) == 0 {
		return true
	}
	id, err := strconv.ParseInt(strings.TrimSpace(subjectID), 10, 64)
	if err != nil {
		return false
	}
	return slices.Contains(b.operators, id)
}
