// Package correlationtest holds the behavioral suite every correlation.Store backend runs.
package correlationtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/crosschat/internal/correlation"
)

// Factory returns a fresh, empty store. Cleanup is the factory's responsibility.
type Factory func(t *testing.T) correlation.Store

// Run executes the backend suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("link insert if absent", func(t *testing.T) { testLinkInsertIfAbsent(t, newStore(t)) })
	t.Run("concurrent link insert", func(t *testing.T) { testConcurrentLinkInsert(t, newStore(t)) })
	t.Run("channel links", func(t *testing.T) { testChannelLinks(t, newStore(t)) })
	t.Run("message round trip", func(t *testing.T) { testMessageRoundTrip(t, newStore(t)) })
	t.Run("message uniqueness", func(t *testing.T) { testMessageUniqueness(t, newStore(t)) })
	t.Run("update content", func(t *testing.T) { testUpdateContent(t, newStore(t)) })
	t.Run("stats", func(t *testing.T) { testStats(t, newStore(t)) })
}

func testLinkInsertIfAbsent(t *testing.T, store correlation.Store) {
	ctx := context.Background()

	_, err := store.FindLink(ctx, "u1")
	require.ErrorIs(t, err, correlation.ErrNotFound)

	first, created, err := store.InsertLinkIfAbsent(ctx, correlation.ConversationLink{
		SourceIdentity: "u1", DisplayName: "Alice", ThreadID: "100",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, first.CreatedAt.IsZero())

	second, created, err := store.InsertLinkIfAbsent(ctx, correlation.ConversationLink{
		SourceIdentity: "u1", DisplayName: "Alice", ThreadID: "101",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "100", second.ThreadID)

	byThread, err := store.FindLinkByThread(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "u1", byThread.SourceIdentity)

	_, err = store.FindLinkByThread(ctx, "101")
	require.ErrorIs(t, err, correlation.ErrNotFound)

	_, _, err = store.InsertLinkIfAbsent(ctx, correlation.ConversationLink{SourceIdentity: "u2"})
	require.ErrorIs(t, err, correlation.ErrInvalidRecord)
}

func testConcurrentLinkInsert(t *testing.T, store correlation.Store) {
	ctx := context.Background()
	const workers = 8

	var wg sync.WaitGroup
	results := make([]correlation.ConversationLink, workers)
	createdCount := make([]bool, workers)
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], createdCount[i], errs[i] = store.InsertLinkIfAbsent(ctx, correlation.ConversationLink{
				SourceIdentity: "racer",
				ThreadID:       fmt.Sprintf("t-%d", i),
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := range workers {
		require.NoError(t, errs[i])
		if createdCount[i] {
			winners++
		}
		assert.Equal(t, results[0].ThreadID, results[i].ThreadID)
	}
	assert.Equal(t, 1, winners)
}

func testChannelLinks(t *testing.T, store correlation.Store) {
	ctx := context.Background()

	link, created, err := store.InsertChannelLinkIfAbsent(ctx, correlation.ChannelLink{
		SourceChannelID: "c1", ThreadID: "200", CreatedBy: "op",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "200", link.ThreadID)

	again, created, err := store.InsertChannelLinkIfAbsent(ctx, correlation.ChannelLink{
		SourceChannelID: "c1", ThreadID: "201",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "200", again.ThreadID)

	got, err := store.FindChannelLinkByThread(ctx, "200")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.SourceChannelID)

	require.NoError(t, store.DeleteChannelLink(ctx, "200"))
	_, err = store.FindChannelLink(ctx, "c1")
	require.ErrorIs(t, err, correlation.ErrNotFound)
	require.ErrorIs(t, store.DeleteChannelLink(ctx, "200"), correlation.ErrNotFound)
}

func testMessageRoundTrip(t *testing.T, store correlation.Store) {
	ctx := context.Background()
	parent := "m0"

	row, err := store.InsertMessage(ctx, correlation.MessageCorrelation{
		SourceMessageID:      "m1",
		SourceConversationID: "dm-1",
		TargetMessageID:      "9001",
		TargetThreadID:       "100",
		Direction:            correlation.DiscordToTelegram,
		IsReply:              true,
		ReplyTargetID:        &parent,
		Content:              "hello",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, row.ID)
	assert.False(t, row.Timestamp.IsZero())

	got, err := store.FindMessage(ctx, "m1", correlation.DiscordToTelegram)
	require.NoError(t, err)
	assert.Equal(t, "9001", got.TargetMessageID)
	assert.Equal(t, "100", got.TargetThreadID)
	require.NotNil(t, got.ReplyTargetID)
	assert.Equal(t, "m0", *got.ReplyTargetID)
	assert.Nil(t, got.LastEditedAt)

	byTarget, err := store.FindMessageByTarget(ctx, "9001", correlation.DiscordToTelegram)
	require.NoError(t, err)
	assert.Equal(t, row.ID, byTarget.ID)

	_, err = store.FindMessage(ctx, "m1", correlation.TelegramToDiscord)
	require.ErrorIs(t, err, correlation.ErrNotFound)
}

func testMessageUniqueness(t *testing.T, store correlation.Store) {
	ctx := context.Background()
	base := correlation.MessageCorrelation{
		SourceMessageID: "m1",
		TargetMessageID: "1",
		TargetThreadID:  "100",
		Direction:       correlation.DiscordToTelegram,
	}
	_, err := store.InsertMessage(ctx, base)
	require.NoError(t, err)

	dup := base
	dup.TargetMessageID = "2"
	_, err = store.InsertMessage(ctx, dup)
	require.ErrorIs(t, err, correlation.ErrDuplicate)

	name := "a.png"
	part := base
	part.TargetMessageID = "3"
	part.Part = 1
	part.HasAttachment = true
	part.AttachmentName = &name
	_, err = store.InsertMessage(ctx, part)
	require.NoError(t, err)

	text, err := store.FindMessage(ctx, "m1", correlation.DiscordToTelegram)
	require.NoError(t, err)
	assert.Equal(t, 0, text.Part)
	assert.Equal(t, "1", text.TargetMessageID)

	other := base
	other.Direction = correlation.TelegramToDiscord
	other.TargetMessageID = "4"
	_, err = store.InsertMessage(ctx, other)
	require.NoError(t, err)
}

func testUpdateContent(t *testing.T, store correlation.Store) {
	ctx := context.Background()
	row, err := store.InsertMessage(ctx, correlation.MessageCorrelation{
		SourceMessageID: "m1",
		TargetMessageID: "1",
		TargetThreadID:  "100",
		Direction:       correlation.TelegramToDiscord,
		Content:         "before",
	})
	require.NoError(t, err)

	editedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.UpdateMessageContent(ctx, row.ID, "after", editedAt))

	got, err := store.FindMessage(ctx, "m1", correlation.TelegramToDiscord)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Content)
	require.NotNil(t, got.LastEditedAt)
	assert.True(t, got.LastEditedAt.Equal(editedAt))

	err = store.UpdateMessageContent(ctx, "missing", "x", editedAt)
	assert.True(t, errors.Is(err, correlation.ErrNotFound))
}

func testStats(t *testing.T, store correlation.Store) {
	ctx := context.Background()
	_, _, err := store.InsertLinkIfAbsent(ctx, correlation.ConversationLink{SourceIdentity: "u1", ThreadID: "1"})
	require.NoError(t, err)
	_, _, err = store.InsertChannelLinkIfAbsent(ctx, correlation.ChannelLink{SourceChannelID: "c1", ThreadID: "2"})
	require.NoError(t, err)
	_, err = store.InsertMessage(ctx, correlation.MessageCorrelation{
		SourceMessageID: "m1", TargetMessageID: "t1", Direction: correlation.DiscordToTelegram,
	})
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, correlation.Stats{ConversationLinks: 1, ChannelLinks: 1, Messages: 1}, stats)
	require.NoError(t, store.Ping(ctx))
}
