package bot

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	testModerationChat = int64(-100500)
	testMainChat       = int64(-100600)
	testErrorChat      = int64(777)
	testSelfID         = int64(99)
)

type editCall struct {
	chatID    int64
	messageID int
}

// fakeAPI records every platform call and serves scripted failures, so
// handler tests can drive the full decision and relay flows offline.
type fakeAPI struct {
	mu sync.Mutex

	nextMessageID int

	sent     []tgbotapi.MessageConfig
	copies   []tgbotapi.CopyMessageConfig
	forwards []tgbotapi.ForwardConfig
	edits    []editCall
	answered []string

	approved []int64
	declined []int64
	banned   []int64

	chat tgbotapi.Chat

	sendErr    map[int64]error
	copyErr    error
	approveErr error
	declineErr error
	banErr     error
	editErrs   []error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		nextMessageID: 100,
		sendErr:       make(map[int64]error),
	}
}

func (f *fakeAPI) SendMessage(cfg tgbotapi.MessageConfig) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.sendErr[cfg.ChatID]; err != nil {
		return tgbotapi.Message{}, err
	}

	f.nextMessageID++
	f.sent = append(f.sent, cfg)

	return tgbotapi.Message{
		MessageID: f.nextMessageID,
		Chat:      &tgbotapi.Chat{ID: cfg.ChatID},
		Text:      cfg.Text,
	}, nil
}

func (f *fakeAPI) CopyMessage(cfg tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.copyErr != nil {
		return tgbotapi.MessageID{}, f.copyErr
	}

	f.nextMessageID++
	f.copies = append(f.copies, cfg)

	return tgbotapi.MessageID{MessageID: f.nextMessageID}, nil
}

func (f *fakeAPI) ForwardMessage(cfg tgbotapi.ForwardConfig) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextMessageID++
	f.forwards = append(f.forwards, cfg)

	return tgbotapi.Message{
		MessageID: f.nextMessageID,
		Chat:      &tgbotapi.Chat{ID: cfg.ChatID},
	}, nil
}

func (f *fakeAPI) EditReplyMarkup(chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.edits = append(f.edits, editCall{chatID: chatID, messageID: messageID})

	if len(f.editErrs) > 0 {
		err := f.editErrs[0]
		f.editErrs = f.editErrs[1:]
		return err
	}

	return nil
}

func (f *fakeAPI) AnswerCallback(callbackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.answered = append(f.answered, callbackID)

	return nil
}

func (f *fakeAPI) GetChat(chatID int64) (tgbotapi.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.chat, nil
}

func (f *fakeAPI) ApproveJoinRequest(chatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.approved = append(f.approved, userID)

	return f.approveErr
}

func (f *fakeAPI) DeclineJoinRequest(chatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.declined = append(f.declined, userID)

	return f.declineErr
}

func (f *fakeAPI) BanMember(chatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.banned = append(f.banned, userID)

	return f.banErr
}

// sentTo returns every message sent to one chat, in order.
func (f *fakeAPI) sentTo(chatID int64) []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []tgbotapi.MessageConfig
	for _, cfg := range f.sent {
		if cfg.ChatID == chatID {
			out = append(out, cfg)
		}
	}

	return out
}

func (f *fakeAPI) editOrder() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]int, 0, len(f.edits))
	for _, e := range f.edits {
		out = append(out, e.messageID)
	}

	return out
}
