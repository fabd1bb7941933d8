package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/crosschat/internal/channel"
)

// apiError extracts a Bot API error. The library returns *Error from requests while
// tests and older call sites use the value form.
func apiError(err error) (tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val, true
	}
	return tgbotapi.Error{}, false
}

// classifyError maps Bot API failures onto channel sentinels.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	apiErr, ok := apiError(err)
	if !ok {
		return fmt.Errorf("telegram %s: %w", op, err)
	}
	desc := strings.ToLower(apiErr.Message)
	var sentinel error
	switch {
	case apiErr.Code == 429:
		sentinel = channel.ErrRateLimited
	case apiErr.Code == 403:
		sentinel = channel.ErrForbidden
	case strings.Contains(desc, "message is not modified"):
		sentinel = channel.ErrNotModified
	case strings.Contains(desc, "message can't be edited"):
		sentinel = channel.ErrMessageTooOld
	case apiErr.Code == 404, strings.Contains(desc, "not found"):
		sentinel = channel.ErrNotFound
	case strings.Contains(desc, "not enough rights"), strings.Contains(desc, "topic_closed"):
		sentinel = channel.ErrForbidden
	default:
		return fmt.Errorf("telegram %s: %w", op, err)
	}
	return fmt.Errorf("telegram %s: %w: %s", op, sentinel, apiErr.Message)
}

// retryAfter returns the server-requested backoff for a 429.
func retryAfter(err error) time.Duration {
	apiErr, ok := apiError(err)
	if !ok || apiErr.RetryAfter <= 0 {
		return 0
	}
	return time.Duration(apiErr.RetryAfter) * time.Second
}

func isNotModified(err error) bool {
	return errors.Is(err, channel.ErrNotModified)
}
