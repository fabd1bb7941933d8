package healthcheck

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/dispatch"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type observerFunc func() []channel.ConnectionStatus

func (f observerFunc) Statuses() []channel.ConnectionStatus { return f() }

type countingPruner struct{ calls int }

func (p *countingPruner) Prune() int {
	p.calls++
	return 2
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStoreChecker(t *testing.T) {
	t.Parallel()

	ok := StoreChecker(pingerFunc(func(context.Context) error { return nil })).ListChecks(context.Background())
	require.Len(t, ok, 1)
	assert.Equal(t, StatusOK, ok[0].Status)

	failed := StoreChecker(pingerFunc(func(context.Context) error { return errors.New("connection refused") })).ListChecks(context.Background())
	require.Len(t, failed, 1)
	assert.Equal(t, StatusError, failed[0].Status)
	assert.Equal(t, "connection refused", failed[0].Detail)
}

func TestLoopChecker(t *testing.T) {
	t.Parallel()

	loop := dispatch.New(discardLogger(), "discord", dispatch.WithTimeout(10*time.Millisecond))
	checker := LoopChecker(loop)
	items := checker.ListChecks(context.Background())
	require.Len(t, items, 1)
	assert.Equal(t, StatusError, items[0].Status, "a stopped loop is an error")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()
	require.Eventually(t, loop.Running, time.Second, time.Millisecond)

	release := make(chan struct{})
	defer close(release)
	err := dispatch.Do(context.Background(), loop, func(context.Context) error {
		<-release
		return nil
	})
	require.ErrorIs(t, err, dispatch.ErrDispatchTimeout)

	items = checker.ListChecks(context.Background())
	assert.Equal(t, StatusWarn, items[0].Status)
	items = checker.ListChecks(context.Background())
	assert.Equal(t, StatusOK, items[0].Status, "old timeouts are reported once")
}

func TestConnectionChecker(t *testing.T) {
	t.Parallel()

	checker := ConnectionChecker(observerFunc(func() []channel.ConnectionStatus {
		return []channel.ConnectionStatus{
			{ChannelType: channel.Discord, Running: true, UpdatedAt: time.Now()},
			{ChannelType: channel.Telegram, Running: false, LastError: "unauthorized"},
		}
	}))
	items := checker.ListChecks(context.Background())
	require.Len(t, items, 2)
	assert.Equal(t, "channel.discord", items[0].ID)
	assert.Equal(t, StatusOK, items[0].Status)
	assert.Equal(t, StatusError, items[1].Status)
	assert.Equal(t, "unauthorized", items[1].Detail)
}

func TestMonitorRunOnce(t *testing.T) {
	t.Parallel()

	pruner := &countingPruner{}
	healthy := true
	store := pingerFunc(func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	})
	m, err := NewMonitor(discardLogger(), time.Minute, []Checker{StoreChecker(store)}, []Pruner{pruner})
	require.NoError(t, err)

	results := m.RunOnce(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, 1, pruner.calls)

	healthy = false
	m.RunOnce(context.Background())
	last, ranAt := m.Last()
	require.Len(t, last, 1)
	assert.Equal(t, StatusError, last[0].Status)
	assert.False(t, ranAt.IsZero())
}

func TestNewMonitorRejectsZeroInterval(t *testing.T) {
	t.Parallel()
	_, err := NewMonitor(discardLogger(), 0, nil, nil)
	assert.Error(t, err)
}
