package db

import (
	"fmt"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/telemod/joingate_bot/internal/session"
)

type sessionRow struct {
	UserID             int64         `db:"user_id"`
	Mention            string        `db:"mention"`
	Mentionable        bool          `db:"mentionable"`
	DecisionMessageIDs pq.Int64Array `db:"decision_message_ids"`
	LastPromptID       int64         `db:"last_prompt_id"`
	Deadline           time.Time     `db:"deadline"`
}

// SessionRepository persists pending sessions. Only live sessions exist in
// the table; resolving one deletes its row.
type SessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{
		db: db,
	}
}

func (r *SessionRepository) Insert(s *session.Session) error {
	_, err := r.db.Exec(`
	    INSERT INTO sessions
		(user_id, mention, mentionable, decision_message_ids, last_prompt_id, deadline)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		s.UserID,
		s.Mention,
		s.Mentionable,
		messageIDsColumn(s.DecisionMessageIDs),
		s.LastPromptID,
		s.Deadline,
	)
	if err != nil {
		return fmt.Errorf("SessionRepository.Insert: %w", err)
	}

	return nil
}

func (r *SessionRepository) Update(s *session.Session) error {
	_, err := r.db.Exec(`
	    UPDATE sessions
		SET decision_message_ids = $1, last_prompt_id = $2, deadline = $3
		WHERE user_id = $4
	`,
		messageIDsColumn(s.DecisionMessageIDs),
		s.LastPromptID,
		s.Deadline,
		s.UserID,
	)
	if err != nil {
		return fmt.Errorf("SessionRepository.Update: %w", err)
	}

	return nil
}

func (r *SessionRepository) Delete(userID int64) error {
	_, err := r.db.Exec(`
	    DELETE FROM sessions
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("SessionRepository.Delete: %w", err)
	}

	return nil
}

func (r *SessionRepository) All() ([]*session.Session, error) {
	var rows []sessionRow

	err := r.db.Select(&rows, `
	    SELECT user_id, mention, mentionable, decision_message_ids, last_prompt_id, deadline
		FROM sessions
	`)
	if err != nil {
		return nil, fmt.Errorf("SessionRepository.All: %w", err)
	}

	sessions := make([]*session.Session, 0, len(rows))
	for _, row := range rows {
		ids := make([]int, 0, len(row.DecisionMessageIDs))
		for _, id := range row.DecisionMessageIDs {
			ids = append(ids, int(id))
		}

		sessions = append(sessions, pointer.To(session.Session{
			UserID:             row.UserID,
			State:              session.StatePending,
			Mention:            row.Mention,
			Mentionable:        row.Mentionable,
			DecisionMessageIDs: ids,
			LastPromptID:       int(row.LastPromptID),
			Deadline:           row.Deadline,
		}))
	}

	return sessions, nil
}

func messageIDsColumn(ids []int) pq.Int64Array {
	column := make(pq.Int64Array, 0, len(ids))
	for _, id := range ids {
		column = append(column, int64(id))
	}

	return column
}
