package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/correlation"
)

type sendCall struct {
	target  channel.Target
	text    string
	replyTo string
	att     *channel.Attachment
}

type editCall struct {
	target    channel.Target
	messageID string
	text      string
}

// fakePlatform implements both TelegramClient and DiscordClient. Each func field
// overrides the default behavior.
type fakePlatform struct {
	prefix string
	seq    atomic.Int64

	mu      sync.Mutex
	sends   []sendCall
	edits   []editCall
	threads []string

	createThread   func(label string) (string, error)
	sendText       func(target channel.Target, text, replyTo string) (channel.Sent, error)
	sendAttachment func(target channel.Target, att channel.Attachment) (channel.Sent, error)
	editText       func(target channel.Target, messageID, text string) error
	openDirect     func(userID string) (string, error)
	fetchIdentity  func(userID string) (channel.Identity, error)
}

func newFakePlatform(prefix string) *fakePlatform {
	return &fakePlatform{prefix: prefix}
}

func (f *fakePlatform) nextID() string {
	return fmt.Sprintf("%s%d", f.prefix, f.seq.Add(1))
}

func (f *fakePlatform) CreateThread(_ context.Context, label string) (string, error) {
	if f.createThread != nil {
		return f.createThread(label)
	}
	id := f.nextID()
	f.mu.Lock()
	f.threads = append(f.threads, label)
	f.mu.Unlock()
	return id, nil
}

func (f *fakePlatform) SendText(_ context.Context, target channel.Target, text string, replyTo string) (channel.Sent, error) {
	f.mu.Lock()
	f.sends = append(f.sends, sendCall{target: target, text: text, replyTo: replyTo})
	f.mu.Unlock()
	if f.sendText != nil {
		return f.sendText(target, text, replyTo)
	}
	return channel.Sent{MessageID: f.nextID()}, nil
}

func (f *fakePlatform) SendAttachment(_ context.Context, target channel.Target, att channel.Attachment, caption string, replyTo string) (channel.Sent, error) {
	f.mu.Lock()
	f.sends = append(f.sends, sendCall{target: target, text: caption, replyTo: replyTo, att: &att})
	f.mu.Unlock()
	if f.sendAttachment != nil {
		return f.sendAttachment(target, att)
	}
	return channel.Sent{MessageID: f.nextID()}, nil
}

func (f *fakePlatform) EditText(_ context.Context, target channel.Target, messageID string, text string) error {
	f.mu.Lock()
	f.edits = append(f.edits, editCall{target: target, messageID: messageID, text: text})
	f.mu.Unlock()
	if f.editText != nil {
		return f.editText(target, messageID, text)
	}
	return nil
}

func (f *fakePlatform) FetchIdentity(_ context.Context, userID string) (channel.Identity, error) {
	if f.fetchIdentity != nil {
		return f.fetchIdentity(userID)
	}
	return channel.Identity{SubjectID: userID, DisplayName: "user " + userID, Handle: "h" + userID}, nil
}

func (f *fakePlatform) OpenDirect(_ context.Context, userID string) (string, error) {
	if f.openDirect != nil {
		return f.openDirect(userID)
	}
	return "dm-" + userID, nil
}

func (f *fakePlatform) sendCalls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.sends...)
}

func (f *fakePlatform) editCalls() []editCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]editCall(nil), f.edits...)
}

func (f *fakePlatform) threadLabels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.threads...)
}

type harness struct {
	store    *correlation.MemoryStore
	telegram *fakePlatform
	discord  *fakePlatform
	bridge   *Bridge
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	if opts.TopicLabelPrefix == "" {
		opts.TopicLabelPrefix = "DM with "
	}
	h := &harness{
		store:    correlation.NewMemoryStore(),
		telegram: newFakePlatform("t"),
		discord:  newFakePlatform("d"),
	}
	h.bridge = New(discardLogger(), h.store, h.telegram, h.discord, nil, opts)
	return h
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func discordDM(id, userID, name, text string) channel.InboundMessage {
	return channel.InboundMessage{
		Channel:        channel.Discord,
		MessageID:      id,
		ConversationID: "dm-" + userID,
		Kind:           channel.KindDirect,
		Sender:         channel.Identity{SubjectID: userID, DisplayName: name, Handle: name},
		Text:           text,
	}
}

func telegramTopic(id, threadID, text string) channel.InboundMessage {
	return channel.InboundMessage{
		Channel:        channel.Telegram,
		MessageID:      id,
		ConversationID: "-100",
		Kind:           channel.KindThread,
		ThreadID:       threadID,
		Sender:         channel.Identity{SubjectID: "7", DisplayName: "Tom", Handle: "tom"},
		Text:           text,
	}
}
