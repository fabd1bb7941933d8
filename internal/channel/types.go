// Package channel defines the platform-neutral message model, adapter capabilities and
// connection lifecycle shared by the Discord and Telegram adapters.
package channel

import (
	"strings"
	"time"
)

// ChannelType identifies a messaging platform.
type ChannelType string

const (
	Discord  ChannelType = "discord"
	Telegram ChannelType = "telegram"
)

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// ConversationKind classifies where an inbound message was posted.
type ConversationKind string

const (
	KindDirect  ConversationKind = "direct"
	KindChannel ConversationKind = "channel"
	KindThread  ConversationKind = "thread"
)

// Identity represents a sender on a platform.
type Identity struct {
	SubjectID   string
	DisplayName string
	Handle      string
	IsBot       bool
}

// Label returns the best human-readable name for the identity.
func (i Identity) Label() string {
	for _, v := range []string{i.DisplayName, i.Handle, i.SubjectID} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return "unknown"
}

// Attachment references a file hosted by the source platform.
type Attachment struct {
	URL         string
	ContentType string
	Name        string
	Size        int64
}

// IsImage reports whether the attachment should be delivered as a photo.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.ContentType)), "image/")
}

// InboundMessage is a message (or edit) received from a platform.
type InboundMessage struct {
	Channel        ChannelType
	MessageID      string
	ConversationID string
	Kind           ConversationKind
	// ThreadID is the Telegram topic id for topic messages.
	ThreadID      string
	GuildID       string
	Sender        Identity
	Text          string
	Attachments   []Attachment
	ReplyParentID string
	IsEdit        bool
	EditedAt      time.Time
	ReceivedAt    time.Time
}

// IsCommand reports whether the text is a slash command.
func (m InboundMessage) IsCommand() bool {
	return strings.HasPrefix(strings.TrimSpace(m.Text), "/")
}

// DedupKey identifies a delivery of the message. Edits at different times get different keys.
func (m InboundMessage) DedupKey() string {
	key := m.Channel.String() + ":" + m.ConversationID + ":" + m.MessageID
	if m.IsEdit {
		key += ":edit:" + m.EditedAt.UTC().Format(time.RFC3339Nano)
	}
	return key
}

// Target addresses an outbound message: a conversation and, for Telegram, a topic.
type Target struct {
	ConversationID string
	ThreadID       string
}

// Sent describes a message the platform accepted.
type Sent struct {
	MessageID      string
	ConversationID string
}
