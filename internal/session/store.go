package session

import (
	"errors"
	"log"
	"sync"
	"time"
)

var (
	// ErrAlreadyPending is returned by Create when the user already has a
	// live session.
	ErrAlreadyPending = errors.New("a session for this user is already pending")
	// ErrNotFound is returned when no live session exists for the user. For
	// Resolve this is the expected outcome of losing a race against a
	// concurrent decision or expiry, not a failure.
	ErrNotFound = errors.New("no pending session for this user")
)

// Repository persists pending sessions so they survive a restart. Implemented
// by db.SessionRepository.
type Repository interface {
	Insert(s *Session) error
	Update(s *Session) error
	Delete(userID int64) error
	All() ([]*Session, error)
}

// keyStripes sizes the per-key lock table.
const keyStripes = 64

// Store maps user id -> pending session. Map access is guarded by the store
// mutex and never spans I/O. Mutations on one key additionally hold that
// key's stripe lock across the write-through repository call, so row writes
// for a user land in the same order as the in-memory changes while
// operations on other users keep going. Persistence failures are logged and
// the in-memory state stays authoritative.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	stripes  [keyStripes]sync.Mutex
	repo     Repository
}

// NewStore creates a store backed by repo. A nil repo disables persistence.
func NewStore(repo Repository) *Store {
	return &Store{
		sessions: make(map[int64]*Session),
		repo:     repo,
	}
}

// keyLock returns the stripe lock serializing mutations of one user. Stripe
// locks are always taken before the map mutex.
func (s *Store) keyLock(userID int64) *sync.Mutex {
	return &s.stripes[uint64(userID)%keyStripes]
}

// Load rehydrates the store from the repository and returns a snapshot of
// the loaded sessions so the caller can re-arm expiry timers.
func (s *Store) Load() ([]Session, error) {
	if s.repo == nil {
		return nil, nil
	}

	sessions, err := s.repo.All()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0, len(sessions))
	for _, sess := range sessions {
		s.sessions[sess.UserID] = sess
		out = append(out, sess.clone())
	}

	return out, nil
}

func (s *Store) Create(userID int64, mention string, mentionable bool, deadline time.Time) (Session, error) {
	l := s.keyLock(userID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	if _, exists := s.sessions[userID]; exists {
		s.mu.Unlock()
		return Session{}, ErrAlreadyPending
	}

	sess := &Session{
		UserID:      userID,
		State:       StatePending,
		Mention:     mention,
		Mentionable: mentionable,
		Deadline:    deadline,
	}
	s.sessions[userID] = sess
	snap := sess.clone()
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Insert(&snap); err != nil {
			log.Printf("session.Store.Create: persist user %d: %v", userID, err)
		}
	}

	return snap, nil
}

func (s *Store) Get(userID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return Session{}, false
	}

	return sess.clone(), true
}

// Touch records a freshly created decision prompt: the message id is appended
// to the retraction list, becomes the new reply anchor, and the expiry
// deadline slides forward.
func (s *Store) Touch(userID int64, messageID int, deadline time.Time) error {
	l := s.keyLock(userID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	sess, ok := s.sessions[userID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}

	sess.DecisionMessageIDs = append(sess.DecisionMessageIDs, messageID)
	sess.LastPromptID = messageID
	sess.Deadline = deadline
	snap := sess.clone()
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Update(&snap); err != nil {
			log.Printf("session.Store.Touch: persist user %d: %v", userID, err)
		}
	}

	return nil
}

// Resolve atomically removes the session and returns it with the terminal
// outcome set. Exactly one of the racing resolution paths (moderator
// decision, expiry, duplicate decision) gets the session; the rest observe
// ErrNotFound.
func (s *Store) Resolve(userID int64, outcome State) (Session, error) {
	l := s.keyLock(userID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	sess, ok := s.sessions[userID]
	if !ok {
		s.mu.Unlock()
		return Session{}, ErrNotFound
	}

	delete(s.sessions, userID)
	sess.State = outcome
	snap := sess.clone()
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Delete(userID); err != nil {
			log.Printf("session.Store.Resolve: delete user %d: %v", userID, err)
		}
	}

	return snap, nil
}
