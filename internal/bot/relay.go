package bot

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/telemod/joingate_bot/internal/session"
	"github.com/telemod/joingate_bot/internal/telegram"
)

// handleModeratorReply relays a moderation-chat reply to the user it
// concerns. The target user is recovered from the replied-to prompt's button
// payload; only messages that still carry live buttons are valid targets.
func (s *Service) handleModeratorReply(msg *tgbotapi.Message) error {
	target := msg.ReplyToMessage

	if target.ReplyMarkup == nil || len(target.ReplyMarkup.InlineKeyboard) == 0 {
		if target.From != nil && target.From.ID == s.selfID {
			reply := tgbotapi.NewMessage(msg.Chat.ID,
				"Sorry, you either replied to the wrong message, or this user has been dealt with already.")
			reply.ReplyToMessageID = msg.MessageID
			if _, err := s.send(reply); err != nil {
				return fmt.Errorf("Service.handleModeratorReply: %w", err)
			}
		}

		return nil
	}

	if strings.HasPrefix(msg.Text, silentPrefix) {
		return nil
	}

	button := target.ReplyMarkup.InlineKeyboard[0][0]
	if button.CallbackData == nil {
		return nil
	}

	_, userID, err := decodeDecision(*button.CallbackData)
	if err != nil {
		return fmt.Errorf("Service.handleModeratorReply: %w", err)
	}

	sess, ok := s.store.Get(userID)
	if !ok {
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Sorry, this user has been dealt with already.")
		reply.ReplyToMessageID = msg.MessageID
		if _, err := s.send(reply); err != nil {
			return fmt.Errorf("Service.handleModeratorReply: %w", err)
		}

		return nil
	}

	deadline := time.Now().Add(pendingTTL)

	if _, err := s.copy(tgbotapi.NewCopyMessage(userID, msg.Chat.ID, msg.MessageID)); err != nil {
		if errors.Is(err, telegram.ErrBlocked) {
			// The relay is dead but the request still needs a decision, so
			// offer a fresh set of buttons; banning still works.
			notice := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf(
				"The user %s blocked me, I can't send them messages anymore. I can still ban them however 😈",
				sess.Mention))
			notice.ParseMode = tgbotapi.ModeHTML
			notice.ReplyToMessageID = msg.MessageID
			notice.ReplyMarkup = decisionKeyboard(userID)
			sent, err := s.send(notice)
			if err != nil {
				return fmt.Errorf("Service.handleModeratorReply: %w", err)
			}

			return s.touch(userID, sent.MessageID, deadline)
		}

		return fmt.Errorf("Service.handleModeratorReply: copy to %d: %w", userID, err)
	}

	confirm := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("Message sent to %s", sess.Mention))
	confirm.ParseMode = tgbotapi.ModeHTML
	confirm.ReplyToMessageID = msg.MessageID
	confirm.ReplyMarkup = decisionKeyboard(userID)
	sent, err := s.send(confirm)
	if err != nil {
		return fmt.Errorf("Service.handleModeratorReply: %w", err)
	}

	if err := s.touch(userID, sent.MessageID, deadline); err != nil {
		return fmt.Errorf("Service.handleModeratorReply: %w", err)
	}

	s.scheduler.Reschedule(userID, pendingTTL)

	return nil
}

// handleUserMessage relays a private message from a pending user into the
// moderation chat, attributed and anchored to the running decision thread.
func (s *Service) handleUserMessage(msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}
	userID := msg.From.ID

	sess, ok := s.store.Get(userID)
	if !ok {
		if _, err := s.send(tgbotapi.NewMessage(msg.Chat.ID, "Hi. Use /start to check me out.")); err != nil {
			return fmt.Errorf("Service.handleUserMessage: %w", err)
		}

		return nil
	}

	deadline := time.Now().Add(pendingTTL)

	var err error
	switch {
	case msg.Poll != nil:
		err = s.relayPoll(msg, sess, deadline)
	case hasBareAttachment(msg):
		err = s.relayBareAttachment(msg, sess, deadline)
	case hasCaptionableAttachment(msg):
		err = s.relayCaptioned(msg, sess, deadline)
	case msg.Text != "":
		err = s.relayText(msg, sess, deadline)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("Service.handleUserMessage: user %d: %w", userID, err)
	}

	s.scheduler.Reschedule(userID, pendingTTL)

	return nil
}

// relayPoll forwards the poll as-is, because polls cannot be copied, and
// attributes it with a synthetic prompt replying to the forward.
func (s *Service) relayPoll(msg *tgbotapi.Message, sess session.Session, deadline time.Time) error {
	fwd, err := s.forward(tgbotapi.NewForward(s.moderationChatID, msg.Chat.ID, msg.MessageID))
	if err != nil {
		return fmt.Errorf("relayPoll: %w", err)
	}

	prompt := tgbotapi.NewMessage(s.moderationChatID, fmt.Sprintf("The above Poll was sent by %s", sess.Mention))
	prompt.ParseMode = tgbotapi.ModeHTML
	prompt.ReplyToMessageID = fwd.MessageID
	prompt.ReplyMarkup = decisionKeyboard(sess.UserID)
	sent, err := s.send(prompt)
	if err != nil {
		return fmt.Errorf("relayPoll: %w", err)
	}

	return s.touch(sess.UserID, sent.MessageID, deadline)
}

// relayBareAttachment copies attachment kinds that cannot carry a caption
// and attributes them with a synthetic prompt replying to the copy.
func (s *Service) relayBareAttachment(msg *tgbotapi.Message, sess session.Session, deadline time.Time) error {
	cfg := tgbotapi.NewCopyMessage(s.moderationChatID, msg.Chat.ID, msg.MessageID)
	cfg.ReplyToMessageID = sess.LastPromptID
	cfg.ReplyMarkup = decisionKeyboard(sess.UserID)
	id, err := s.copy(cfg)
	if err != nil {
		return fmt.Errorf("relayBareAttachment: %w", err)
	}

	if err := s.touch(sess.UserID, id.MessageID, deadline); err != nil {
		return err
	}

	prompt := tgbotapi.NewMessage(s.moderationChatID, fmt.Sprintf("The above message was sent by %s", sess.Mention))
	prompt.ParseMode = tgbotapi.ModeHTML
	prompt.ReplyToMessageID = id.MessageID
	prompt.ReplyMarkup = decisionKeyboard(sess.UserID)
	sent, err := s.send(prompt)
	if err != nil {
		return fmt.Errorf("relayBareAttachment: %w", err)
	}

	return s.touch(sess.UserID, sent.MessageID, deadline)
}

func (s *Service) relayCaptioned(msg *tgbotapi.Message, sess session.Session, deadline time.Time) error {
	caption := "This message was sent by " + sess.Mention
	if msg.Caption != "" {
		caption = html.EscapeString(msg.Caption) + "\n\n" + caption
	}

	cfg := tgbotapi.NewCopyMessage(s.moderationChatID, msg.Chat.ID, msg.MessageID)
	cfg.Caption = caption
	cfg.ParseMode = tgbotapi.ModeHTML
	cfg.ReplyToMessageID = sess.LastPromptID
	cfg.ReplyMarkup = decisionKeyboard(sess.UserID)
	id, err := s.copy(cfg)
	if err != nil {
		return fmt.Errorf("relayCaptioned: %w", err)
	}

	return s.touch(sess.UserID, id.MessageID, deadline)
}

func (s *Service) relayText(msg *tgbotapi.Message, sess session.Session, deadline time.Time) error {
	text := html.EscapeString(msg.Text) + "\n\nThis message was sent by " + sess.Mention

	out := tgbotapi.NewMessage(s.moderationChatID, text)
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyToMessageID = sess.LastPromptID
	out.ReplyMarkup = decisionKeyboard(sess.UserID)
	sent, err := s.send(out)
	if err != nil {
		return fmt.Errorf("relayText: %w", err)
	}

	return s.touch(sess.UserID, sent.MessageID, deadline)
}

// hasBareAttachment reports attachment kinds the platform cannot attach a
// caption to.
func hasBareAttachment(msg *tgbotapi.Message) bool {
	return msg.Audio != nil || msg.VideoNote != nil || msg.Venue != nil ||
		msg.Sticker != nil || msg.Location != nil || msg.Dice != nil || msg.Contact != nil
}

func hasCaptionableAttachment(msg *tgbotapi.Message) bool {
	return msg.Photo != nil || msg.Video != nil || msg.Document != nil ||
		msg.Animation != nil || msg.Voice != nil
}
