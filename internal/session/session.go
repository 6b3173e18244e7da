package session

import "time"

// State is the lifecycle state of an admission request. A session is only
// kept while pending; resolving it removes it from the store.
type State string

const (
	StatePending  State = "pending"
	StateAccepted State = "accepted"
	StateRejected State = "rejected"
	StateBanned   State = "banned"
	StateExpired  State = "expired"
)

// Session is one pending admission request, keyed by Telegram user id.
type Session struct {
	UserID      int64
	State       State
	Mention     string
	Mentionable bool
	// DecisionMessageIDs holds, in order of creation, every moderation-chat
	// message that still carries live decision buttons for this user.
	DecisionMessageIDs []int
	// LastPromptID anchors the next relayed message as a reply.
	LastPromptID int
	Deadline     time.Time
}

func (s *Session) clone() Session {
	out := *s
	out.DecisionMessageIDs = append([]int(nil), s.DecisionMessageIDs...)
	return out
}
