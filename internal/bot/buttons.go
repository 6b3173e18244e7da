package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type decisionAction string

const (
	actionApprove decisionAction = "y"
	actionReject  decisionAction = "n"
	actionBan     decisionAction = "b"
)

// encodeDecision builds the callback payload. The payload is the only way a
// button press can be traced back to its user, so decodeDecision must
// round-trip it exactly.
func encodeDecision(action decisionAction, userID int64) string {
	return fmt.Sprintf("%s_%d", action, userID)
}

func decodeDecision(data string) (decisionAction, int64, error) {
	parts := strings.SplitN(data, "_", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("decodeDecision: malformed payload %q", data)
	}

	action := decisionAction(parts[0])
	switch action {
	case actionApprove, actionReject, actionBan:
	default:
		return "", 0, fmt.Errorf("decodeDecision: unknown action %q", parts[0])
	}

	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("decodeDecision: bad user id in %q: %w", data, err)
	}

	return action, userID, nil
}

func decisionKeyboard(userID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅", encodeDecision(actionApprove, userID)),
			tgbotapi.NewInlineKeyboardButtonData("❌", encodeDecision(actionReject, userID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🛑", encodeDecision(actionBan, userID)),
		),
	)
}
