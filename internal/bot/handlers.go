package bot

import (
	"errors"
	"fmt"
	"html"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/telemod/joingate_bot/internal/session"
	"github.com/telemod/joingate_bot/internal/telegram"
)

func (s *Service) handleJoinRequest(req *tgbotapi.ChatJoinRequest) error {
	if req.Chat.ID != s.mainChatID {
		return nil
	}

	userID := req.From.ID

	greeting := tgbotapi.NewMessage(userID,
		"Thank you for wanting to join the group. Please reply to this message telling why you want to join, "+
			"so that the admins can make sure you're human (<i>not</i> a bot) and accept your request!")
	greeting.ParseMode = tgbotapi.ModeHTML
	if _, err := s.send(greeting); err != nil {
		return fmt.Errorf("Service.handleJoinRequest: greet user %d: %w", userID, err)
	}

	// has_private_forwards is only present on a full getChat response, not
	// on the user object the join request carries.
	chat, err := s.api.GetChat(userID)
	if err != nil {
		return fmt.Errorf("Service.handleJoinRequest: get chat %d: %w", userID, err)
	}

	fullName := strings.TrimSpace(chat.FirstName + " " + chat.LastName)

	var mention, prompt string
	mentionable := true
	switch {
	case chat.HasPrivateForwards && chat.UserName == "":
		mention = html.EscapeString(fullName)
		mentionable = false
		prompt = fmt.Sprintf("The user %s has sent a join request, but can not be mentioned :(.", mention)
	case chat.UserName != "":
		mention = "@" + chat.UserName
		prompt = fmt.Sprintf("The user %s has sent a join request \\o/", mention)
	default:
		mention = fmt.Sprintf("<a href=\"tg://user?id=%d\">%s</a>", userID, html.EscapeString(fullName))
		prompt = fmt.Sprintf("The user %s has sent a join request \\o/", mention)
	}

	deadline := time.Now().Add(pendingTTL)

	if _, err := s.store.Create(userID, mention, mentionable, deadline); err != nil {
		if !errors.Is(err, session.ErrAlreadyPending) {
			return fmt.Errorf("Service.handleJoinRequest: create session for %d: %w", userID, err)
		}
		// A repeat join signal keeps the running session and just gets
		// another prompt appended to it.
	}

	msg := tgbotapi.NewMessage(s.moderationChatID, prompt)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = decisionKeyboard(userID)
	sent, err := s.send(msg)
	if err != nil {
		return fmt.Errorf("Service.handleJoinRequest: prompt for %d: %w", userID, err)
	}

	if err := s.touch(userID, sent.MessageID, deadline); err != nil {
		return fmt.Errorf("Service.handleJoinRequest: %w", err)
	}

	s.scheduler.Arm(userID, pendingTTL)

	return nil
}

func (s *Service) handleDecision(cq *tgbotapi.CallbackQuery) error {
	if err := s.api.AnswerCallback(cq.ID); err != nil {
		log.Printf("Service.handleDecision: answer callback: %v", err)
	}

	if cq.Message == nil {
		return nil
	}

	action, userID, err := decodeDecision(cq.Data)
	if err != nil {
		return fmt.Errorf("Service.handleDecision: %w", err)
	}

	moderator := userMention(cq.From)

	var outcome session.State
	var platformErr error
	switch action {
	case actionApprove:
		outcome = session.StateAccepted
		platformErr = s.retryOnce(func() error { return s.api.ApproveJoinRequest(s.mainChatID, userID) })
	case actionReject:
		outcome = session.StateRejected
		platformErr = s.retryOnce(func() error { return s.api.DeclineJoinRequest(s.mainChatID, userID) })
	case actionBan:
		outcome = session.StateBanned
		platformErr = s.retryOnce(func() error { return s.api.BanMember(s.mainChatID, userID) })
	}

	conflict := errors.Is(platformErr, telegram.ErrConflict)
	if platformErr != nil && !conflict {
		return fmt.Errorf("Service.handleDecision: %s user %d: %w", action, userID, platformErr)
	}

	var text string
	if conflict {
		text = fmt.Sprintf("Sorry %s, but the join request was already handled by someone else :(", moderator)
		// Make sure the pressed prompt still gets retracted with the rest,
		// if a session remains at all.
		if remaining, ok := s.store.Get(userID); ok && !containsMessageID(remaining.DecisionMessageIDs, cq.Message.MessageID) {
			if err := s.touch(userID, cq.Message.MessageID, time.Now().Add(pendingTTL)); err != nil {
				return fmt.Errorf("Service.handleDecision: %w", err)
			}
		}
	} else {
		text = fmt.Sprintf("%s %s the join request.", moderator, pastTense(action))
	}

	s.scheduler.Cancel(userID)

	// Resolve before any further sends. The expiry timer is already gone,
	// so a failing announce must not leave the session pending forever.
	sess, resolveErr := s.store.Resolve(userID, outcome)
	if resolveErr == nil {
		s.retractor.Strip(sess.DecisionMessageIDs)
	}

	reply := tgbotapi.NewMessage(cq.Message.Chat.ID, text)
	reply.ParseMode = tgbotapi.ModeHTML
	reply.ReplyToMessageID = cq.Message.MessageID
	if _, err := s.send(reply); err != nil {
		return fmt.Errorf("Service.handleDecision: announce: %w", err)
	}

	if resolveErr != nil {
		// A concurrent decision or expiry won the race and owns the
		// retraction of the prompt list and the user notification.
		return nil
	}

	if conflict {
		// The winning path already told the user; nothing to add.
		return nil
	}

	if err := s.notifyUser(userID, outcome); err != nil && !errors.Is(err, telegram.ErrBlocked) {
		return fmt.Errorf("Service.handleDecision: notify user %d: %w", userID, err)
	}

	return nil
}

// expire is the scheduler's fire callback: the synthetic rejection of a
// request nobody decided on within the deadline. It runs on the timer
// goroutine, outside the update loop, so failures are reported directly.
func (s *Service) expire(userID int64) {
	err := s.retryOnce(func() error { return s.api.DeclineJoinRequest(s.mainChatID, userID) })
	conflict := errors.Is(err, telegram.ErrConflict)
	if err != nil && !conflict {
		s.reportError(nil, fmt.Errorf("Service.expire: decline user %d: %w", userID, err))
		return
	}

	sess, err := s.store.Resolve(userID, session.StateExpired)
	if err != nil {
		// A moderator got there first.
		return
	}

	if !conflict {
		if err := s.notifyUser(userID, session.StateExpired); err != nil && !errors.Is(err, telegram.ErrBlocked) {
			s.reportError(nil, fmt.Errorf("Service.expire: notify user %d: %w", userID, err))
		}
	}

	announce := tgbotapi.NewMessage(s.moderationChatID, fmt.Sprintf("Join request of %s expired.", sess.Mention))
	announce.ParseMode = tgbotapi.ModeHTML
	announce.ReplyToMessageID = sess.LastPromptID
	if _, err := s.send(announce); err != nil {
		s.reportError(nil, fmt.Errorf("Service.expire: announce for %d: %w", userID, err))
	}

	s.retractor.Strip(sess.DecisionMessageIDs)
}

func (s *Service) notifyUser(userID int64, outcome session.State) error {
	var text string
	switch outcome {
	case session.StateAccepted:
		text = "Your join request was accepted. Welcome!"
	case session.StateRejected, session.StateBanned:
		text = "Your join request was declined by the moderators."
	case session.StateExpired:
		text = "Your join request expired because we could not make sure you're not a bot. " +
			"You are welcome to send another join request if you still want to join."
	default:
		return nil
	}

	_, err := s.send(tgbotapi.NewMessage(userID, text))

	return err
}

func (s *Service) handleStart(msg *tgbotapi.Message) error {
	reply := tgbotapi.NewMessage(msg.Chat.ID,
		"I'm a bot that guards join requests for this community. If you have sent a join request, "+
			"just answer here and the admins will see your messages.")
	if _, err := s.send(reply); err != nil {
		return fmt.Errorf("Service.handleStart: %w", err)
	}

	return nil
}

func containsMessageID(ids []int, id int) bool {
	for _, known := range ids {
		if known == id {
			return true
		}
	}

	return false
}

func pastTense(action decisionAction) string {
	switch action {
	case actionApprove:
		return "accepted"
	case actionReject:
		return "rejected"
	default:
		return "banned"
	}
}

func userMention(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = strconv.FormatInt(u.ID, 10)
	}

	return fmt.Sprintf("<a href=\"tg://user?id=%d\">%s</a>", u.ID, html.EscapeString(name))
}
