package channel

import (
	"context"
	"sync/atomic"
)

// InboundHandler is a callback invoked when a message arrives from a channel.
type InboundHandler func(ctx context.Context, msg InboundMessage) error

// Adapter is the base interface every channel adapter must implement.
// Behavior is expressed through the optional interfaces below.
type Adapter interface {
	Type() ChannelType
}

// Receiver is an adapter capable of establishing a long-lived connection to receive messages.
type Receiver interface {
	Connect(ctx context.Context, handler InboundHandler) (Connection, error)
}

// ThreadCreator creates a new thread (Telegram forum topic) and returns its id.
type ThreadCreator interface {
	CreateThread(ctx context.Context, label string) (string, error)
}

// TextSender sends a text message, optionally as a reply to replyTo.
type TextSender interface {
	SendText(ctx context.Context, target Target, text string, replyTo string) (Sent, error)
}

// AttachmentSender delivers one attachment with a caption.
type AttachmentSender interface {
	SendAttachment(ctx context.Context, target Target, att Attachment, caption string, replyTo string) (Sent, error)
}

// MessageEditor replaces the text of an already-sent message.
type MessageEditor interface {
	EditText(ctx context.Context, target Target, messageID string, text string) error
}

// IdentityFetcher looks up a platform user.
type IdentityFetcher interface {
	FetchIdentity(ctx context.Context, userID string) (Identity, error)
}

// DirectOpener returns the direct-message conversation id for a user.
type DirectOpener interface {
	OpenDirect(ctx context.Context, userID string) (string, error)
}

// Connection represents an active, long-lived link to a channel platform.
type Connection interface {
	ChannelType() ChannelType
	Stop(ctx context.Context) error
	Running() bool
}

// BaseConnection is a default Connection implementation backed by a stop function.
type BaseConnection struct {
	channelType ChannelType
	stop        func(ctx context.Context) error
	running     atomic.Bool
}

// NewConnection creates a running BaseConnection.
func NewConnection(channelType ChannelType, stop func(ctx context.Context) error) *BaseConnection {
	conn := &BaseConnection{
		channelType: channelType,
		stop:        stop,
	}
	conn.running.Store(true)
	return conn
}

// ChannelType returns the type of channel this connection serves.
func (c *BaseConnection) ChannelType() ChannelType {
	return c.channelType
}

// Stop shuts down the connection. Calling Stop twice runs the stop function once.
func (c *BaseConnection) Stop(ctx context.Context) error {
	if c.stop == nil {
		return ErrStopNotSupported
	}
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	return c.stop(ctx)
}

// MarkStopped records that the underlying link ended on its own.
func (c *BaseConnection) MarkStopped() {
	c.running.Store(false)
}

// Running reports whether the connection is still active.
func (c *BaseConnection) Running() bool {
	return c.running.Load()
}
