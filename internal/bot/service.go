package bot

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/telemod/joingate_bot/internal/session"
	"github.com/telemod/joingate_bot/internal/telegram"
)

// pendingTTL is the sliding window a join request stays open without any
// activity before it auto-expires.
const pendingTTL = 24 * time.Hour

// restartGrace delays expiry of sessions whose deadline passed while the
// process was down, so startup does not fire a burst of platform calls.
const restartGrace = time.Minute

// silentPrefix marks moderation-chat replies that are meant for other
// moderators only and must not be relayed to the user.
const silentPrefix = "!"

type Service struct {
	api              telegram.API
	store            *session.Store
	scheduler        *session.Scheduler
	retractor        *retractor
	moderationChatID int64
	mainChatID       int64
	errorChatID      int64
	selfID           int64
	sleep            func(time.Duration)
}

func New(api telegram.API, store *session.Store, moderationChatID, mainChatID, errorChatID, selfID int64) *Service {
	s := &Service{
		api:              api,
		store:            store,
		moderationChatID: moderationChatID,
		mainChatID:       mainChatID,
		errorChatID:      errorChatID,
		selfID:           selfID,
		sleep:            time.Sleep,
	}
	s.scheduler = session.NewScheduler(s.expire)
	s.retractor = newRetractor(api, moderationChatID)

	return s
}

// Restore reloads persisted sessions and re-arms their expiry timers.
func (s *Service) Restore() error {
	sessions, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("Service.Restore: %w", err)
	}

	for _, sess := range sessions {
		d := time.Until(sess.Deadline)
		if d < restartGrace {
			d = restartGrace
		}
		s.scheduler.Arm(sess.UserID, d)
	}

	if len(sessions) > 0 {
		log.Printf("restored %d pending sessions", len(sessions))
	}

	return nil
}

// Run consumes the update stream until it is closed. A handler error never
// stops the loop; it is reported to the operator chat instead.
func (s *Service) Run(updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		if err := s.handleUpdate(update); err != nil {
			s.reportError(&update, err)
		}
	}
}

// Drain waits for in-flight retraction work, for use before shutdown.
func (s *Service) Drain() {
	s.retractor.Drain()
}

func (s *Service) handleUpdate(update tgbotapi.Update) error {
	switch {
	case update.ChatJoinRequest != nil:
		return s.handleJoinRequest(update.ChatJoinRequest)
	case update.CallbackQuery != nil:
		return s.handleDecision(update.CallbackQuery)
	case update.Message != nil:
		msg := update.Message

		if msg.Chat.ID == s.moderationChatID && msg.ReplyToMessage != nil && msg.Text != "" {
			return s.handleModeratorReply(msg)
		}

		if msg.Chat.IsPrivate() {
			if msg.IsCommand() && msg.Command() == "start" {
				return s.handleStart(msg)
			}

			return s.handleUserMessage(msg)
		}
	}

	return nil
}

// reportError logs a handler failure and forwards it, with the triggering
// update as context, to the operator chat. A failing report is only logged.
func (s *Service) reportError(update *tgbotapi.Update, err error) {
	log.Printf("error while handling update: %v", err)

	context := "<none>"
	if update != nil {
		raw, marshalErr := json.MarshalIndent(update, "", "  ")
		if marshalErr != nil {
			context = marshalErr.Error()
		} else {
			context = string(raw)
		}
	}
	if len(context) > 3500 {
		// Back up to a rune start so the cut never leaves invalid UTF-8,
		// which the platform rejects.
		cut := 3500
		for cut > 0 && !utf8.RuneStart(context[cut]) {
			cut--
		}
		context = context[:cut]
	}

	text := fmt.Sprintf(
		"An error occurred while handling an update\n<pre>%s</pre>\n\n<pre>update = %s</pre>",
		html.EscapeString(err.Error()),
		html.EscapeString(context),
	)

	msg := tgbotapi.NewMessage(s.errorChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, sendErr := s.api.SendMessage(msg); sendErr != nil {
		log.Printf("error report delivery failed: %v", sendErr)
	}
}

// send delivers a message, retrying once when the platform asks for a
// rate-limit pause. A second rate limit propagates.
func (s *Service) send(cfg tgbotapi.MessageConfig) (tgbotapi.Message, error) {
	msg, err := s.api.SendMessage(cfg)

	var retry *telegram.RetryAfterError
	if errors.As(err, &retry) {
		s.sleep(retry.After)
		msg, err = s.api.SendMessage(cfg)
	}

	return msg, err
}

func (s *Service) copy(cfg tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error) {
	id, err := s.api.CopyMessage(cfg)

	var retry *telegram.RetryAfterError
	if errors.As(err, &retry) {
		s.sleep(retry.After)
		id, err = s.api.CopyMessage(cfg)
	}

	return id, err
}

func (s *Service) forward(cfg tgbotapi.ForwardConfig) (tgbotapi.Message, error) {
	msg, err := s.api.ForwardMessage(cfg)

	var retry *telegram.RetryAfterError
	if errors.As(err, &retry) {
		s.sleep(retry.After)
		msg, err = s.api.ForwardMessage(cfg)
	}

	return msg, err
}

func (s *Service) retryOnce(call func() error) error {
	err := call()

	var retry *telegram.RetryAfterError
	if errors.As(err, &retry) {
		s.sleep(retry.After)
		err = call()
	}

	return err
}

// touch records a fresh prompt id on the session. Losing the session to a
// concurrent resolution mid-relay is expected and swallowed; the orphaned
// buttons are dead and pressing them only yields the conflict apology.
func (s *Service) touch(userID int64, messageID int, deadline time.Time) error {
	err := s.store.Touch(userID, messageID, deadline)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}

	return err
}
