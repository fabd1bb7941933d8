package discord

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/crosschat/internal/channel"
)

// classifyError maps discordgo REST failures onto channel sentinels.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr == nil {
		return fmt.Errorf("discord %s: %w", op, err)
	}
	code := 0
	if restErr.Message != nil {
		code = restErr.Message.Code
	}
	status := 0
	if restErr.Response != nil {
		status = restErr.Response.StatusCode
	}

	var sentinel error
	switch {
	case status == http.StatusTooManyRequests:
		sentinel = channel.ErrRateLimited
	case code == discordgo.ErrCodeCannotSendMessagesToThisUser,
		code == discordgo.ErrCodeMissingAccess,
		code == discordgo.ErrCodeMissingPermissions,
		code == discordgo.ErrCodeCannotEditFromAnotherUser,
		status == http.StatusForbidden:
		sentinel = channel.ErrForbidden
	case code == discordgo.ErrCodeUnknownUser,
		code == discordgo.ErrCodeUnknownMessage,
		code == discordgo.ErrCodeUnknownChannel,
		status == http.StatusNotFound:
		sentinel = channel.ErrNotFound
	default:
		return fmt.Errorf("discord %s: %w", op, err)
	}
	return fmt.Errorf("discord %s: %w (code %d)", op, sentinel, code)
}
