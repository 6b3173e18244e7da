package bot

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telemod/joingate_bot/internal/telegram"
)

// retractor strips dead decision buttons from moderation-chat messages. It
// paces itself to one edit per second so a burst of resolutions cannot run
// the bot into the flood limit.
type retractor struct {
	api    telegram.API
	chatID int64
	pace   time.Duration
	sleep  func(time.Duration)
	wg     sync.WaitGroup
}

func newRetractor(api telegram.API, chatID int64) *retractor {
	return &retractor{
		api:    api,
		chatID: chatID,
		pace:   time.Second,
		sleep:  time.Sleep,
	}
}

// Strip spawns a tracked background task that removes the buttons from every
// message, most recent first. The caller does not wait for it; Drain does.
func (r *retractor) Strip(messageIDs []int) {
	if len(messageIDs) == 0 {
		return
	}

	ids := append([]int(nil), messageIDs...)
	taskID := uuid.New().String()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.strip(taskID, ids)
	}()
}

func (r *retractor) strip(taskID string, ids []int) {
	for i := len(ids) - 1; i >= 0; i-- {
		messageID := ids[i]

		err := r.api.EditReplyMarkup(r.chatID, messageID)

		var retry *telegram.RetryAfterError
		if errors.As(err, &retry) {
			r.sleep(retry.After)
			err = r.api.EditReplyMarkup(r.chatID, messageID)
		}

		if err != nil {
			// The buttons stay visible but are dead: pressing one only gets
			// the "already handled" apology.
			log.Printf("retract %s: message %d: %v", taskID, messageID, err)
		}

		r.sleep(r.pace)
	}
}

// Drain blocks until all in-flight retraction tasks finish.
func (r *retractor) Drain() {
	r.wg.Wait()
}
