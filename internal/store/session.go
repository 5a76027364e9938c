package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayusman/binsight/internal/game"
)

// DefaultLeaderboardLimit is how many sessions List returns when no limit is
// given.
const DefaultLeaderboardLimit = 10

// Session is one round of the trash hunt.
type Session struct {
	ID             string
	Target         string
	Difficulty     game.Difficulty
	MaxSeconds     int
	StartedAt      time.Time
	FinishedAt     *time.Time
	ElapsedSeconds int
	TimedOut       bool
	Grade          game.Grade
	Catch          *Catch
}

// Finished reports whether the round has ended.
func (s *Session) Finished() bool {
	return s.FinishedAt != nil
}

// Catch is the detection that ended a round.
type Catch struct {
	Label      string
	Confidence float64
	Box        [4]float64
}

// SessionFilter narrows a leaderboard listing. Empty fields match anything.
type SessionFilter struct {
	Target     string
	Difficulty game.Difficulty
	Limit      int
}

// SessionRepository provides storage operations for sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a new running session. MaxSeconds is taken from the
// difficulty and StartedAt defaults to now.
func (r *SessionRepository) Create(s *Session) error {
	maxSeconds := s.Difficulty.MaxSeconds()
	if maxSeconds == 0 {
		return fmt.Errorf("unknown difficulty %q", s.Difficulty)
	}
	s.MaxSeconds = maxSeconds
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	s.FinishedAt = nil
	s.ElapsedSeconds = 0
	s.TimedOut = false
	s.Grade = ""
	s.Catch = nil

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, target, difficulty, max_seconds, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Target, string(s.Difficulty), s.MaxSeconds, s.StartedAt,
	)
	return err
}

const sessionColumns = `s.id, s.target, s.difficulty, s.max_seconds, s.started_at, s.finished_at,
	s.elapsed_seconds, s.timed_out, s.grade,
	c.label, c.confidence, c.x1, c.y1, c.x2, c.y2`

const sessionFrom = `FROM sessions s LEFT JOIN session_catches c ON c.session_id = s.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	s := &Session{}
	var (
		difficulty string
		grade      string
		finishedAt sql.NullTime
		timedOut   int
		label      sql.NullString
		confidence sql.NullFloat64
		box        [4]sql.NullFloat64
	)

	err := row.Scan(
		&s.ID, &s.Target, &difficulty, &s.MaxSeconds, &s.StartedAt, &finishedAt,
		&s.ElapsedSeconds, &timedOut, &grade,
		&label, &confidence, &box[0], &box[1], &box[2], &box[3],
	)
	if err != nil {
		return nil, err
	}

	s.Difficulty = game.Difficulty(difficulty)
	s.Grade = game.Grade(grade)
	s.TimedOut = timedOut == 1
	if finishedAt.Valid {
		t := finishedAt.Time
		s.FinishedAt = &t
	}
	if label.Valid {
		s.Catch = &Catch{
			Label:      label.String,
			Confidence: confidence.Float64,
			Box:        [4]float64{box[0].Float64, box[1].Float64, box[2].Float64, box[3].Float64},
		}
	}
	return s, nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	s, err := scanSession(r.db.QueryRow(
		`SELECT `+sessionColumns+` `+sessionFrom+` WHERE s.id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// Finish ends a running session at the given time. Elapsed time is measured
// from StartedAt and capped at the difficulty limit; the grade follows from
// it. catch may be nil; otherwise its label must be the session target.
func (r *SessionRepository) Finish(id string, at time.Time, timedOut bool, catch *Catch) (*Session, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	s, err := scanSession(tx.QueryRow(
		`SELECT `+sessionColumns+` `+sessionFrom+` WHERE s.id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if s.Finished() {
		return nil, ErrAlreadyFinished
	}
	if catch != nil && catch.Label != s.Target {
		return nil, fmt.Errorf("%w: caught %q, target is %q", ErrCatchMismatch, catch.Label, s.Target)
	}

	finishedAt := at.UTC()
	s.FinishedAt = &finishedAt
	s.ElapsedSeconds = game.ElapsedSeconds(s.StartedAt, finishedAt, s.MaxSeconds)
	s.TimedOut = timedOut || s.ElapsedSeconds >= s.MaxSeconds
	s.Grade = game.Evaluate(s.ElapsedSeconds, s.MaxSeconds, s.TimedOut)

	result, err := tx.Exec(
		`UPDATE sessions SET finished_at = ?, elapsed_seconds = ?, timed_out = ?, grade = ?
		 WHERE id = ? AND finished_at IS NULL`,
		finishedAt, s.ElapsedSeconds, s.TimedOut, string(s.Grade), id,
	)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, ErrAlreadyFinished
	}

	if catch != nil {
		_, err := tx.Exec(
			`INSERT INTO session_catches (session_id, label, confidence, x1, y1, x2, y2)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, catch.Label, catch.Confidence, catch.Box[0], catch.Box[1], catch.Box[2], catch.Box[3],
		)
		if err != nil {
			return nil, fmt.Errorf("record catch: %w", err)
		}
		s.Catch = catch
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s, nil
}

// List returns finished sessions matching filter, fastest first.
func (r *SessionRepository) List(filter SessionFilter) ([]*Session, error) {
	where := []string{"s.finished_at IS NOT NULL"}
	var args []any
	if filter.Target != "" {
		where = append(where, "s.target = ?")
		args = append(args, filter.Target)
	}
	if filter.Difficulty != "" {
		where = append(where, "s.difficulty = ?")
		args = append(args, string(filter.Difficulty))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	args = append(args, limit)

	rows, err := r.db.Query(
		`SELECT `+sessionColumns+` `+sessionFrom+`
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY s.timed_out ASC, s.elapsed_seconds ASC, s.finished_at ASC
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Delete removes a session and its catch.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
