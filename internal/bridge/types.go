// Package bridge relays conversations between Discord and the Telegram topics chat.
//
// Discord direct messages map to one forum topic per user (ConversationLink). Operators
// may also link a Discord channel to a topic (ChannelLink). Every forwarded message is
// recorded as a MessageCorrelation so replies and edits can be mirrored later.
package bridge

import (
	"github.com/memohai/crosschat/internal/channel"
)

// TelegramClient is the topics-chat side of the bridge.
type TelegramClient interface {
	channel.ThreadCreator
	channel.TextSender
	channel.AttachmentSender
	channel.MessageEditor
}

// DiscordClient is the Discord side of the bridge. Implementations either call the REST
// API directly or dispatch onto the gateway session's loop.
type DiscordClient interface {
	channel.IdentityFetcher
	channel.DirectOpener
	channel.TextSender
	channel.AttachmentSender
	channel.MessageEditor
}

// outbound is what relay and edit need from the destination platform.
type outbound interface {
	channel.TextSender
	channel.AttachmentSender
	channel.MessageEditor
}

// destination is where an inbound event is delivered.
type destination struct {
	target channel.Target
	// threadID is recorded as MessageCorrelation.TargetThreadID
	threadID string
	// linked is true for operator-linked channels, which aggregate several senders
	linked bool
}
