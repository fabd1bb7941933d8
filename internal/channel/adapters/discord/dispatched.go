package discord

import (
	"context"

	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/dispatch"
)

// DispatchedClient runs Client calls on the gateway adapter's dispatch loop, so code on
// other goroutines never touches the session directly. Each call waits at most the loop
// timeout.
type DispatchedClient struct {
	loop   *dispatch.Loop
	client *Client
}

// NewDispatchedClient wraps client so every call executes on loop.
func NewDispatchedClient(loop *dispatch.Loop, client *Client) *DispatchedClient {
	return &DispatchedClient{loop: loop, client: client}
}

// Type returns the Discord channel type.
func (d *DispatchedClient) Type() channel.ChannelType {
	return Type
}

// FetchIdentity looks up a Discord user on the loop.
func (d *DispatchedClient) FetchIdentity(ctx context.Context, userID string) (channel.Identity, error) {
	return dispatch.Call(ctx, d.loop, func(loopCtx context.Context) (channel.Identity, error) {
		return d.client.FetchIdentity(loopCtx, userID)
	})
}

// OpenDirect returns the DM channel of userID, opened on the loop.
func (d *DispatchedClient) OpenDirect(ctx context.Context, userID string) (string, error) {
	return dispatch.Call(ctx, d.loop, func(loopCtx context.Context) (string, error) {
		return d.client.OpenDirect(loopCtx, userID)
	})
}

// SendText sends text on the loop.
func (d *DispatchedClient) SendText(ctx context.Context, target channel.Target, text string, replyTo string) (channel.Sent, error) {
	return dispatch.Call(ctx, d.loop, func(loopCtx context.Context) (channel.Sent, error) {
		return d.client.SendText(loopCtx, target, text, replyTo)
	})
}

// SendAttachment downloads on the calling goroutine and only dispatches the upload.
func (d *DispatchedClient) SendAttachment(ctx context.Context, target channel.Target, att channel.Attachment, caption string, replyTo string) (channel.Sent, error) {
	channelID, err := targetChannel(target)
	if err != nil {
		return channel.Sent{}, err
	}
	body, err := d.client.fetchAttachment(ctx, att)
	if err != nil {
		return channel.Sent{}, err
	}
	return dispatch.Call(ctx, d.loop, func(loopCtx context.Context) (channel.Sent, error) {
		return d.client.sendFile(loopCtx, channelID, att, body, caption, replyTo)
	})
}

// EditText edits a sent message on the loop.
func (d *DispatchedClient) EditText(ctx context.Context, target channel.Target, messageID string, text string) error {
	return dispatch.Do(ctx, d.loop, func(loopCtx context.Context) error {
		return d.client.EditText(loopCtx, target, messageID, text)
	})
}
