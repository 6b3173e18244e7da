package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var (
	// ErrConflict means the join request was already handled by a concurrent
	// actor (another moderator, or the expiry path). Callers treat it as a
	// no-op success, not a failure.
	ErrConflict = errors.New("join request already handled")
	// ErrBlocked means the target user forbids the bot from contacting them.
	ErrBlocked = errors.New("user blocked the bot")
)

// RetryAfterError is a rate-limit response carrying the wait the platform
// demands before the call may be repeated.
type RetryAfterError struct {
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.After)
}

// classify maps a raw Bot API failure onto the error kinds the handlers
// branch on. This is the only place the platform's error strings are ever
// inspected.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	if apiErr.RetryAfter > 0 {
		return &RetryAfterError{After: time.Duration(apiErr.RetryAfter) * time.Second}
	}

	if apiErr.Code == 403 {
		return fmt.Errorf("%w: %s", ErrBlocked, apiErr.Message)
	}

	desc := strings.ToUpper(apiErr.Message)
	if strings.Contains(desc, "HIDE_REQUESTER_MISSING") || strings.Contains(desc, "USER_ALREADY_PARTICIPANT") {
		return fmt.Errorf("%w: %s", ErrConflict, apiErr.Message)
	}

	return err
}
