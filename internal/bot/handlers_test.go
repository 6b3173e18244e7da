package bot

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"github.com/telemod/joingate_bot/internal/session"
	"github.com/telemod/joingate_bot/internal/telegram"
)

func newTestService(f *fakeAPI) *Service {
	s := New(f, session.NewStore(nil), testModerationChat, testMainChat, testErrorChat, testSelfID)
	s.sleep = func(time.Duration) {}
	s.retractor.sleep = func(time.Duration) {}

	return s
}

// seedSession drives a join request through the service and returns the
// decision prompt's message id.
func seedSession(t *testing.T, s *Service, f *fakeAPI, userID int64, username string) int {
	t.Helper()

	f.chat = tgbotapi.Chat{ID: userID, FirstName: "Ada", UserName: username}
	req := &tgbotapi.ChatJoinRequest{
		Chat: tgbotapi.Chat{ID: testMainChat},
		From: tgbotapi.User{ID: userID},
	}
	require.NoError(t, s.handleJoinRequest(req))

	sess, ok := s.store.Get(userID)
	require.True(t, ok)

	return sess.LastPromptID
}

func decisionCallback(data string, messageID int) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:   "cb1",
		From: &tgbotapi.User{ID: 7, FirstName: "Mod"},
		Message: &tgbotapi.Message{
			MessageID: messageID,
			Chat:      &tgbotapi.Chat{ID: testModerationChat},
		},
		Data: data,
	}
}

func TestJoinRequestCreatesSessionAndPrompt(t *testing.T) {
	f := newFakeAPI()
	s := newTestService(f)

	promptID := seedSession(t, s, f, 42, "ada")

	greetings := f.sentTo(42)
	require.Len(t, greetings, 1)
	require.Contains(t, greetings[0].Text, "Thank you for wanting to join")

	prompts := f.sentTo(testModerationChat)
	require.Len(t, prompts, 1)
	require.Contains(t, prompts[0].Text, "@ada has sent a join request")
	require.IsType(t, tgbotapi.InlineKeyboardMarkup{}, prompts[0].ReplyMarkup)

	sess, ok := s.store.Get(42)
	require.True(t, ok)
	require.Equal(t, "@ada", sess.Mention)
	require.True(t, sess.Mentionable)
	require.Equal(t, []int{promptID}, sess.DecisionMessageIDs)
	require.WithinDuration(t, time.Now().Add(pendingTTL), sess.Deadline, time.Minute)
}

func TestJoinRequestForOtherChatIgnored(t *testing.T) {
	f := newFakeAPI()
	s := newTestService(f)

	req := &tgbotapi.ChatJoinRequest{
		Chat: tgbotapi.Chat{ID: 555},
		From: tgbotapi.User{ID: 42},
	}
	require.NoError(t, s.handleJoinRequest(req))

	require.Empty(t, f.sent)
	_, ok := s.store.Get(42)
	require.False(t, ok)
}

func TestJoinRequestUnmentionableUser(t *testing.T) {
	f := newFakeAPI()
	s := newTestService(f)

	f.chat = tgbotapi.Chat{ID: 42, FirstName: "Shy", LastName: "Person", HasPrivateForwards: true}
	req := &tgbotapi.ChatJoinRequest{
		Chat: tgbotapi.Chat{ID: testMainChat},
		From: tgbotapi.User{ID: 42},
	}
	require.NoError(t, s.handleJoinRequest(req))

	prompts := f.sentTo(testModerationChat)
	require.Len(t, prompts, 1)
	require.Contains(t, prompts[0].Text, "can not be mentioned")

	sess, ok := s.store.Get(42)
	require.True(t, ok)
	require.Equal(t, "Shy Person", sess.Mention)
	require.False(t, sess.Mentionable)
}

func TestJoinRequestRepeatAddsPrompt(t *testing.T) {
	f := newFakeAPI()
	s := newTestService(f)

	seedSession(t, s, f, 42, "ada")
	req := &tgbotapi.ChatJoinRequest{
		Chat: tgbotapi.Chat{ID: testMainChat},
		From: tgbotapi.User{ID: 42},
	}
	require.NoError(t, s.handleJoinRequest(req))

	require.Len(t, f.sentTo(testModerationChat), 2)

	sess, ok := s.store.Get(42)
	require.True(t, ok)
	require.Len(t, sess.DecisionMessageIDs, 2)
}

func TestDecisionApprove(t *testing.T) {
	f := newFakeAPI()
	s := newTestService(f)

	promptID := seedSession(t, s, f, 42, "ada")
	// A second prompt, as if a message had been relayed in between.
	require.NoError(t, s.store.Touch(42, 500, time.Now().Add(pendingTTL)))

	require.NoError(t, s.handleDecision(decisionCallback("y_42", promptID)))

	require.Equal(t, []int64{42}, f.approved)
	require.Equal(t, []string{"cb1"}, f.answered)

	audits := f.sentTo(testModerationChat)
	require.Len(t, audits, 2)
	require.Contains(t, audits[1].Text, "accepted the join request")
	require.Equal(t, promptID, audits[1].ReplyToMessageID)

	notes := f.sentTo(42)
	require.Len(t, notes, 2)
	require.Contains(t, notes[1].Text, "accepted. Welcome")

	_, ok := s.store.Get(42)
	require.False(t, ok)

	s.Drain()
	require.Equal(t, []int{500, promptID}, f.editOrder())
}

func TestDecisionBan(t *testing.T) {
	f := newFakeAPI()
	s := newTestService(f)

	promptID := seedSession(t, s, f, 42, "ada")
	require.NoError(t, s.handleDecision(decisionCallback("b_42", promptID)))

	require.Equal(t, []int64{42}, f.banned)
	require.Contains(t, f.sentTo(testModerationChat)[1].Text, "banned the join request")
}

func TestDecisionConflictApologizes(t *testing.T) {
	f := newFakeAPI()
	s := newTestService(f)

	promptID := seedSession(t, s, f, 42, "ada")
	f.declineErr = fmt.Errorf("Client.DeclineJoinRequest: %w", telegram.ErrConflict)

	require.NoError(t, s.handleDecision(decisionCallback("n_42", promptID)))

	// The platform call was attempted once and not re-invoked.
	require.Equal(t, []int64{42}, f.declined)

	audits := f.sentTo(testModerationChat)
	require.Len(t, audits, 2)
	require.Contains(t, audits[1].Text, "already handled by someone else")

	// No user-facing notification on conflict; only the greeting exists.
	require.Len(t, f.sentTo(42), 1)

	// The session still got cleaned up, buttons included.
	_, ok := s.store.Get(42)
	require.False(t, ok)
	s.Drain()
	require.Equal(t, []int{promptID}, f.editOrder())
}

func TestDecisionAfterExpiryGetsApologyWithoutSecondDecline(t *testing.T) {
	f := newFakeAPI()
	s := newTestService(f)

	promptID := seedSession(t, s, f, 42, "ada")

	s.expire(42)
	require.Equal(t, []int64{42}, f.declined)
	userNotes := len(f.sentTo(42))

	// A day late, a moderator still presses reject.
	f.declineErr = fmt.Errorf("Client.DeclineJoinRequest: %w", telegram.ErrConflict)
	require.NoError(t, s.handleDecision(decisionCallback("n_42", promptID)))

	// One more attempt that hit the conflict, and nothing beyond it.
	require.Equal(t, []int64{42, 42}, f.declined)

	audits := f.sentTo(testModerationChat)
	require.Contains(t, audits[len(audits)-1].Text, "already handled by someone else")

	// The user heard about the expiry and nothing else.
	require.Len(t, f.sentTo(42), userNotes)
}

func TestExpireResolvesSession(t *testing.T) {
	f := newFakeAPI()
	s := newTestService(f)

	promptID := seedSession(t, s, f, 42, "ada")

	s.expire(42)

	require.Equal(t, []int64{42}, f.declined)

	notes := f.sentTo(42)
	require.Len(t, notes, 2)
	require.Contains(t, notes[1].Text, "join request expired")

	announces := f.sentTo(testModerationChat)
	require.Len(t, announces, 2)
	require.Contains(t, announces[1].Text, "expired.")
	require.Equal(t, promptID, announces[1].ReplyToMessageID)

	_, ok := s.store.Get(42)
	require.False(t, ok)

	s.Drain()
	require.Equal(t, []int{promptID}, f.editOrder())
}

func TestExpireLosesRaceQuietly(t *testing.T) {
	f := newFakeAPI()
	s := newTestService(f)

	seedSession(t, s, f, 42, "ada")

	// A moderator resolved the session first.
	_, err := s.store.Resolve(42, session.StateAccepted)
	require.NoError(t, err)

	moderationBefore := len(f.sentTo(testModerationChat))
	userBefore := len(f.sentTo(42))

	f.declineErr = fmt.Errorf("Client.DeclineJoinRequest: %w", telegram.ErrConflict)
	s.expire(42)

	require.Len(t, f.sentTo(testModerationChat), moderationBefore)
	require.Len(t, f.sentTo(42), userBefore)
	s.Drain()
	require.Empty(t, f.editOrder())
}

func TestDecisionNotifyBlockedIsSwallowed(t *testing.T) {
	f := newFakeAPI()
	s := newTestService(f)

	promptID := seedSession(t, s, f, 42, "ada")
	f.sendErr[42] = fmt.Errorf("Client.SendMessage: %w", telegram.ErrBlocked)

	require.NoError(t, s.handleDecision(decisionCallback("y_42", promptID)))
	require.Equal(t, []int64{42}, f.approved)
}

func TestReportErrorReachesOperatorChat(t *testing.T) {
	f := newFakeAPI()
	s := newTestService(f)

	update := tgbotapi.Update{UpdateID: 5}
	s.reportError(&update, errors.New("boom"))

	reports := f.sentTo(testErrorChat)
	require.Len(t, reports, 1)
	require.Contains(t, reports[0].Text, "<pre>boom</pre>")
	require.Equal(t, tgbotapi.ModeHTML, reports[0].ParseMode)
}

func TestDecisionAnnounceFailureStillResolves(t *testing.T) {
	f := newFakeAPI()
	s := newTestService(f)

	promptID := seedSession(t, s, f, 42, "ada")
	f.sendErr[testModerationChat] = errors.New("nope")

	err := s.handleDecision(decisionCallback("y_42", promptID))
	require.Error(t, err)

	// The request was approved and the session is gone for good; a failed
	// audit line must not bring it back as an unexpirable zombie.
	require.Equal(t, []int64{42}, f.approved)
	_, ok := s.store.Get(42)
	require.False(t, ok)

	s.Drain()
	require.Equal(t, []int{promptID}, f.editOrder())
}

func TestReportErrorTruncationKeepsValidText(t *testing.T) {
	// A multi-byte run around the truncation point, shifted by a byte per
	// round so every cut position inside a rune gets exercised.
	for pad := 0; pad < 3; pad++ {
		f := newFakeAPI()
		s := newTestService(f)

		update := tgbotapi.Update{Message: &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: 1},
			Text: strings.Repeat("a", pad) + strings.Repeat("✓", 2000),
		}}
		s.reportError(&update, errors.New("boom"))

		reports := f.sentTo(testErrorChat)
		require.Len(t, reports, 1)
		require.True(t, utf8.ValidString(reports[0].Text), "pad %d produced a broken report", pad)
	}
}

func TestReportErrorDeliveryFailureOnlyLogs(t *testing.T) {
	f := newFakeAPI()
	s := newTestService(f)
	f.sendErr[testErrorChat] = errors.New("nope")

	// Must not panic or recurse.
	s.reportError(nil, errors.New("boom"))
}

func TestHandleUpdateRouting(t *testing.T) {
	f := newFakeAPI()
	s := newTestService(f)

	seedSession(t, s, f, 42, "ada")

	// A /start command in private chat is answered directly, even with a
	// live session.
	start := tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 300,
		Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
		From:      &tgbotapi.User{ID: 42},
		Text:      "/start",
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
	}}
	require.NoError(t, s.handleUpdate(start))

	notes := f.sentTo(42)
	require.Contains(t, notes[len(notes)-1].Text, "I'm a bot")

	// A group message outside the moderation chat is ignored.
	other := tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 301,
		Chat:      &tgbotapi.Chat{ID: 12345, Type: "supergroup"},
		From:      &tgbotapi.User{ID: 7},
		Text:      "hello",
	}}
	sentBefore := len(f.sent)
	require.NoError(t, s.handleUpdate(other))
	require.Len(t, f.sent, sentBefore)
}
