package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/correlation"
)

func TestEditPropagation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()
	c1, err := h.bridge.relay.Relay(ctx, correlation.DiscordToTelegram, discordDM("m1", "555", "alice", "helo"))
	if err != nil {
		t.Fatalf("relay: %v", err)
	}

	edited := discordDM("m1", "555", "alice", "hello")
	edited.IsEdit = true
	edited.EditedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := h.bridge.edits.OnEdit(ctx, "m1", correlation.DiscordToTelegram, edited); err != nil {
		t.Fatalf("edit: %v", err)
	}

	edits := h.telegram.editCalls()
	if len(edits) != 1 || edits[0].messageID != c1.TargetMessageID {
		t.Fatalf("unexpected edits: %+v", edits)
	}
	if !strings.Contains(edits[0].text, editedMarkerHTML) || !strings.HasSuffix(edits[0].text, "\nhello") {
		t.Fatalf("unexpected edit text %q", edits[0].text)
	}
	row, err := h.store.FindMessage(ctx, "m1", correlation.DiscordToTelegram)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if row.ID != c1.ID || row.Content != "hello" || row.LastEditedAt == nil || !row.LastEditedAt.Equal(edited.EditedAt) {
		t.Fatalf("unexpected row after edit: %+v", row)
	}
	stats, _ := h.store.Stats(ctx)
	if stats.Messages != 1 {
		t.Fatalf("edit must not add rows, got %d", stats.Messages)
	}

	// the same content again is not re-sent
	if err := h.bridge.edits.OnEdit(ctx, "m1", correlation.DiscordToTelegram, edited); err != nil {
		t.Fatalf("repeat edit: %v", err)
	}
	if n := len(h.telegram.editCalls()); n != 1 {
		t.Fatalf("unchanged edit must be skipped, got %d edits", n)
	}
}

func TestEditTelegramToDiscord(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()
	c1, err := h.bridge.relay.Relay(ctx, correlation.DiscordToTelegram, discordDM("m1", "555", "alice", "hi"))
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	out, err := h.bridge.relay.Relay(ctx, correlation.TelegramToDiscord, telegramTopic("800", c1.TargetThreadID, "hey"))
	if err != nil {
		t.Fatalf("relay back: %v", err)
	}

	edited := telegramTopic("800", c1.TargetThreadID, "hey there")
	edited.IsEdit = true
	if err := h.bridge.edits.OnEdit(ctx, "800", correlation.TelegramToDiscord, edited); err != nil {
		t.Fatalf("edit: %v", err)
	}
	edits := h.discord.editCalls()
	if len(edits) != 1 {
		t.Fatalf("expected one discord edit, got %d", len(edits))
	}
	if edits[0].target.ConversationID != "dm-555" || edits[0].messageID != out.TargetMessageID {
		t.Fatalf("unexpected edit target: %+v", edits[0])
	}
	if edits[0].text != "hey there "+editedMarkerMD {
		t.Fatalf("unexpected edit text %q", edits[0].text)
	}
}

func TestEditOfUnrelayedMessageIsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	edited := discordDM("ghost", "555", "alice", "changed")
	edited.IsEdit = true
	if err := h.bridge.edits.OnEdit(context.Background(), "ghost", correlation.DiscordToTelegram, edited); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(h.telegram.editCalls()) != 0 {
		t.Fatal("no edit may be issued")
	}
	stats, _ := h.store.Stats(context.Background())
	if stats.Messages != 0 {
		t.Fatalf("no rows may be created, got %d", stats.Messages)
	}
}

func TestEditFailureLeavesRowUntouched(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()
	if _, err := h.bridge.relay.Relay(ctx, correlation.DiscordToTelegram, discordDM("m1", "555", "alice", "old")); err != nil {
		t.Fatalf("relay: %v", err)
	}
	h.telegram.editText = func(channel.Target, string, string) error {
		return fmt.Errorf("edit message: %w", channel.ErrMessageTooOld)
	}
	edited := discordDM("m1", "555", "alice", "new")
	edited.IsEdit = true
	err := h.bridge.edits.OnEdit(ctx, "m1", correlation.DiscordToTelegram, edited)
	if !errors.Is(err, ErrAdapterSendFailed) || !errors.Is(err, channel.ErrMessageTooOld) {
		t.Fatalf("expected wrapped ErrMessageTooOld, got %v", err)
	}
	row, _ := h.store.FindMessage(ctx, "m1", correlation.DiscordToTelegram)
	if row.Content != "old" || row.LastEditedAt != nil {
		t.Fatalf("row must stay untouched: %+v", row)
	}
}
