// Package correlation persists the identity, channel and message mappings that tie a
// Discord conversation to its Telegram topic.
package correlation

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the forwarding direction of a relayed message.
type Direction string

const (
	DiscordToTelegram Direction = "discord_to_telegram"
	TelegramToDiscord Direction = "telegram_to_discord"
)

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	if d == DiscordToTelegram {
		return TelegramToDiscord
	}
	return DiscordToTelegram
}

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == DiscordToTelegram || d == TelegramToDiscord
}

func (d Direction) String() string {
	return string(d)
}

// ConversationLink maps a Discord user (DM partner) to the Telegram topic that mirrors
// the conversation. Links are permanent.
type ConversationLink struct {
	SourceIdentity string    `json:"source_identity"`
	DisplayName    string    `json:"display_name"`
	ThreadID       string    `json:"thread_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks the record before it reaches a backend.
func (l ConversationLink) Validate() error {
	if strings.TrimSpace(l.SourceIdentity) == "" {
		return fmt.Errorf("%w: source identity is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(l.ThreadID) == "" {
		return fmt.Errorf("%w: thread id is required", ErrInvalidRecord)
	}
	return nil
}

// ChannelLink maps a Discord channel to a Telegram topic. Created and removed by operators.
type ChannelLink struct {
	SourceChannelID string    `json:"source_channel_id"`
	ThreadID        string    `json:"thread_id"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks the record before it reaches a backend.
func (l ChannelLink) Validate() error {
	if strings.TrimSpace(l.SourceChannelID) == "" {
		return fmt.Errorf("%w: source channel id is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(l.ThreadID) == "" {
		return fmt.Errorf("%w: thread id is required", ErrInvalidRecord)
	}
	return nil
}

// MessageCorrelation records one forwarded message (Part 0) or one forwarded attachment
// of that message (Part 1..n).
type MessageCorrelation struct {
	ID                   string     `json:"id"`
	SourceMessageID      string     `json:"source_message_id"`
	SourceConversationID string     `json:"source_conversation_id"`
	TargetMessageID      string     `json:"target_message_id"`
	TargetThreadID       string     `json:"target_thread_id"`
	Direction            Direction  `json:"direction"`
	Part                 int        `json:"part"`
	Timestamp            time.Time  `json:"timestamp"`
	IsReply              bool       `json:"is_reply"`
	ReplyTargetID        *string    `json:"reply_target_id,omitempty"`
	HasAttachment        bool       `json:"has_attachment"`
	AttachmentName       *string    `json:"attachment_name,omitempty"`
	LastEditedAt         *time.Time `json:"last_edited_at,omitempty"`
	Content              string     `json:"content"`
}

// Validate checks the record before it reaches a backend.
func (c MessageCorrelation) Validate() error {
	switch {
	case strings.TrimSpace(c.SourceMessageID) == "":
		return fmt.Errorf("%w: source message id is required", ErrInvalidRecord)
	case strings.TrimSpace(c.TargetMessageID) == "":
		return fmt.Errorf("%w: target message id is required", ErrInvalidRecord)
	case !c.Direction.Valid():
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidRecord, c.Direction)
	case c.Part < 0:
		return fmt.Errorf("%w: part must not be negative", ErrInvalidRecord)
	case c.Part > 0 && !c.HasAttachment:
		return fmt.Errorf("%w: attachment parts must set has_attachment", ErrInvalidRecord)
	}
	return nil
}

// Stats summarizes stored rows for status reporting.
type Stats struct {
	ConversationLinks int64 `json:"conversation_links"`
	ChannelLinks      int64 `json:"channel_links"`
	Messages          int64 `json:"messages"`
}
