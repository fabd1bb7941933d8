package channel_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/memohai/crosschat/internal/channel"
)

type fakeReceiver struct {
	channelType channel.ChannelType
	connectErr  error

	mu      sync.Mutex
	handler channel.InboundHandler
	stopped int
}

func (r *fakeReceiver) Type() channel.ChannelType { return r.channelType }

func (r *fakeReceiver) Connect(ctx context.Context, handler channel.InboundHandler) (channel.Connection, error) {
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	r.mu.Lock()
	r.handler = handler
	r.mu.Unlock()
	return channel.NewConnection(r.channelType, func(context.Context) error {
		r.mu.Lock()
		r.stopped++
		r.mu.Unlock()
		return nil
	}), nil
}

func (r *fakeReceiver) deliver(t *testing.T, msg channel.InboundMessage) {
	t.Helper()
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h == nil {
		t.Fatal("receiver not connected")
	}
	if err := h(context.Background(), msg); err != nil {
		t.Fatalf("handler: %v", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManagerStartRoutesThroughMiddleware(t *testing.T) {
	t.Parallel()
	rx := &fakeReceiver{channelType: channel.Discord}
	reg := channel.NewRegistry()
	reg.MustRegister(rx)

	m := channel.NewManager(discardLogger(), reg)
	m.Use(channel.DedupMiddleware(discardLogger(), channel.NewSeenSet(0)))
	var got []string
	m.Handle(channel.Discord, func(ctx context.Context, msg channel.InboundMessage) error {
		got = append(got, msg.MessageID)
		return nil
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	msg := channel.InboundMessage{Channel: channel.Discord, ConversationID: "c", MessageID: "m1"}
	rx.deliver(t, msg)
	rx.deliver(t, msg)
	if len(got) != 1 {
		t.Fatalf("expected duplicate to be dropped, got %v", got)
	}

	statuses := m.Statuses()
	if len(statuses) != 1 || !statuses[0].Running {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}

	m.Stop(context.Background())
	if rx.stopped != 1 {
		t.Fatalf("expected connection stopped once, got %d", rx.stopped)
	}
	if statuses := m.Statuses(); statuses[0].Running {
		t.Fatalf("expected stopped status, got %+v", statuses[0])
	}
}

func TestDedupMiddlewareRetriesFailedEvents(t *testing.T) {
	t.Parallel()
	errDown := errors.New("store down")
	calls := 0
	handler := channel.DedupMiddleware(discardLogger(), channel.NewSeenSet(0))(
		func(ctx context.Context, msg channel.InboundMessage) error {
			calls++
			if calls == 1 {
				return errDown
			}
			return nil
		})
	msg := channel.InboundMessage{Channel: channel.Telegram, ConversationID: "-100", MessageID: "7"}
	ctx := context.Background()

	if err := handler(ctx, msg); !errors.Is(err, errDown) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if err := handler(ctx, msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if err := handler(ctx, msg); err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected the failed event to be retried once and the duplicate dropped, got %d calls", calls)
	}
}

func TestManagerStartFailureStopsStarted(t *testing.T) {
	t.Parallel()
	ok := &fakeReceiver{channelType: channel.Discord}
	bad := &fakeReceiver{channelType: channel.Telegram, connectErr: errors.New("unauthorized")}
	reg := channel.NewRegistry()
	reg.MustRegister(ok)
	reg.MustRegister(bad)

	m := channel.NewManager(discardLogger(), reg)
	noop := func(context.Context, channel.InboundMessage) error { return nil }
	m.Handle(channel.Discord, noop)
	m.Handle(channel.Telegram, noop)

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if ok.stopped != 1 {
		t.Fatalf("expected started connection to be stopped, got %d", ok.stopped)
	}
	for _, s := range m.Statuses() {
		if s.ChannelType == channel.Telegram && s.LastError == "" {
			t.Fatalf("expected last error on telegram status: %+v", s)
		}
	}
}
