package bridge

import (
	"html"
	"strings"

	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/correlation"
)

const (
	mediaPlaceholder = "[Media/File]"
	editedMarkerHTML = "<i>[edited]</i>"
	editedMarkerMD   = "*[edited]*"
)

// bodyText is the stored and forwarded body of an event.
func bodyText(event channel.InboundMessage) string {
	if strings.TrimSpace(event.Text) == "" {
		return mediaPlaceholder
	}
	return event.Text
}

// composeText renders the destination text for event. Telegram receives HTML with an
// author header. Discord receives the plain body, with a markdown author header only in
// linked channels.
func composeText(dir correlation.Direction, event channel.InboundMessage, linked, edited bool) string {
	body := bodyText(event)
	if dir == correlation.DiscordToTelegram {
		header := "<b>" + html.EscapeString(event.Sender.Label()) + "</b>"
		if handle := strings.TrimSpace(event.Sender.Handle); handle != "" {
			header += " (@" + html.EscapeString(handle) + ")"
		}
		if edited {
			header += " " + editedMarkerHTML
		}
		return header + ":\n" + html.EscapeString(body)
	}
	text := body
	if linked {
		header := "**" + event.Sender.Label() + "**"
		if handle := strings.TrimSpace(event.Sender.Handle); handle != "" {
			header += " (@" + handle + ")"
		}
		text = header + ":\n" + body
	}
	if edited {
		text += " " + editedMarkerMD
	}
	return text
}

// attachmentCaption labels an attachment with its sender. DMs to Discord carry no caption
// since the recipient already knows who is writing.
func attachmentCaption(dir correlation.Direction, event channel.InboundMessage, att channel.Attachment, linked bool) string {
	if dir == correlation.TelegramToDiscord && !linked {
		return ""
	}
	from := event.Sender.Label()
	name := att.Name
	if dir == correlation.DiscordToTelegram {
		from = html.EscapeString(from)
		name = html.EscapeString(name)
	}
	if att.IsImage() {
		return "Image from " + from
	}
	return "File from " + from + ": " + name
}
