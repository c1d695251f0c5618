// Package storage is the sqlite persistence layer. It owns the schema and
// every query the scheduler core issues; all multi-row updates that must be
// atomic (recording an answer, suspending a card) run in one transaction.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // Registers the sqlite driver

	"github.com/examloop/examloop/internal/domain"
)

// DB wraps the sql connection and the schema it manages.
type DB struct {
	conn    *sql.DB
	entropy *rand.Rand
}

// Open creates a new database connection, enables WAL and foreign keys,
// and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &DB{
		conn:    conn,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// NewID returns a fresh ULID for session and review-event rows.
func (db *DB) NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), db.entropy).String()
}

// ----- questions & sources -----

// InsertQuestion stores a corpus question together with a fresh New card
// due immediately, in one transaction.
func (db *DB) InsertQuestion(q domain.Question, now time.Time) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin insert question: %w", err)
	}
	defer tx.Rollback()

	var sourceID any
	if q.SourceID != 0 {
		sourceID = q.SourceID
	}
	if _, err := tx.Exec(`
		INSERT INTO questions (id, source_id, topic, question, answer, context)
		VALUES (?, ?, ?, ?, ?, ?)
	`, q.ID, sourceID, q.Topic, q.Question, q.Answer, q.Context); err != nil {
		return fmt.Errorf("failed to insert question %s: %w", q.ID, err)
	}
	if _, err := tx.Exec(`
		INSERT INTO cards (question_id, topic, next_review_at)
		VALUES (?, ?, ?)
	`, q.ID, q.Topic, now); err != nil {
		return fmt.Errorf("failed to insert card for question %s: %w", q.ID, err)
	}
	return tx.Commit()
}

// FindQuestion retrieves a question by id, or nil when absent.
func (db *DB) FindQuestion(id string) (*domain.Question, error) {
	var q domain.Question
	var sourceID sql.NullInt64
	row := db.conn.QueryRow(`
		SELECT id, source_id, topic, question, answer, context
		FROM questions WHERE id = ?
	`, id)
	err := row.Scan(&q.ID, &sourceID, &q.Topic, &q.Question, &q.Answer, &q.Context)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find question %s: %w", id, err)
	}
	q.SourceID = sourceID.Int64
	return &q, nil
}

// QuestionsBySource retrieves all questions ingested from one source.
func (db *DB) QuestionsBySource(sourceID int64) ([]domain.Question, error) {
	rows, err := db.conn.Query(`
		SELECT id, source_id, topic, question, answer, context
		FROM questions WHERE source_id = ?
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions for source %d: %w", sourceID, err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.SourceID, &q.Topic, &q.Question, &q.Answer, &q.Context); err != nil {
			return nil, fmt.Errorf("failed to scan question row: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// DeleteQuestion removes a question and its card. The review log is kept:
// events are an append-only audit trail.
func (db *DB) DeleteQuestion(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin delete question: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM leech_records WHERE card_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete leech record for %s: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM cards WHERE question_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete card %s: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM questions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete question %s: %w", id, err)
	}
	return tx.Commit()
}

// Source is a corpus origin, either a local path or a git URL.
type Source struct {
	ID          int64
	Type        string // "local" or "git"
	Path        string
	LastScanned sql.NullTime
}

// InsertSource registers a new corpus source and returns its id.
func (db *DB) InsertSource(sourceType, path string) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO sources (type, path) VALUES (?, ?)
	`, sourceType, path)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get id for source %s: %w", path, err)
	}
	return id, nil
}

// FindSourceByPath retrieves a source by its path, or nil when absent.
func (db *DB) FindSourceByPath(path string) (*Source, error) {
	var s Source
	row := db.conn.QueryRow(`SELECT id, type, path, last_scanned FROM sources WHERE path = ?`, path)
	err := row.Scan(&s.ID, &s.Type, &s.Path, &s.LastScanned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find source %s: %w", path, err)
	}
	return &s, nil
}

// AllSources retrieves every registered source.
func (db *DB) AllSources() ([]Source, error) {
	rows, err := db.conn.Query(`SELECT id, type, path, last_scanned FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		if err := rows.Scan(&s.ID, &s.Type, &s.Path, &s.LastScanned); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// UpdateSourceScanned stamps the last reconciliation time for a source.
func (db *DB) UpdateSourceScanned(sourceID int64, at time.Time) error {
	if _, err := db.conn.Exec(`UPDATE sources SET last_scanned = ? WHERE id = ?`, at, sourceID); err != nil {
		return fmt.Errorf("failed to update last scanned for source %d: %w", sourceID, err)
	}
	return nil
}

// ----- cards -----

const cardColumns = `question_id, topic, difficulty, stability, retrievability,
	state, step_index, last_review_at, next_review_at,
	review_count, lapse_count, success_count, suspended`

func scanCard(row interface{ Scan(...any) error }) (domain.Card, error) {
	var c domain.Card
	var lastReview sql.NullTime
	var state int
	err := row.Scan(
		&c.QuestionID, &c.Topic, &c.Difficulty, &c.Stability, &c.Retrievability,
		&state, &c.StepIndex, &lastReview, &c.NextReviewAt,
		&c.ReviewCount, &c.LapseCount, &c.SuccessCount, &c.Suspended,
	)
	if err != nil {
		return domain.Card{}, err
	}
	c.State = domain.CardState(state)
	if lastReview.Valid {
		c.LastReviewAt = lastReview.Time
	}
	return c, nil
}

// LoadCard retrieves a card by question id. Returns domain.ErrCardNotFound
// when no row exists.
func (db *DB) LoadCard(questionID string) (domain.Card, error) {
	row := db.conn.QueryRow(`SELECT `+cardColumns+` FROM cards WHERE question_id = ?`, questionID)
	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Card{}, fmt.Errorf("%w: %s", domain.ErrCardNotFound, questionID)
		}
		return domain.Card{}, fmt.Errorf("failed to load card %s: %w", questionID, err)
	}
	return c, nil
}

func saveCard(ex interface {
	Exec(string, ...any) (sql.Result, error)
}, c domain.Card) error {
	var lastReview any
	if !c.LastReviewAt.IsZero() {
		lastReview = c.LastReviewAt
	}
	_, err := ex.Exec(`
		UPDATE cards SET
			topic = ?, difficulty = ?, stability = ?, retrievability = ?,
			state = ?, step_index = ?, last_review_at = ?, next_review_at = ?,
			review_count = ?, lapse_count = ?, success_count = ?, suspended = ?
		WHERE question_id = ?
	`,
		c.Topic, c.Difficulty, c.Stability, c.Retrievability,
		int(c.State), c.StepIndex, lastReview, c.NextReviewAt,
		c.ReviewCount, c.LapseCount, c.SuccessCount, c.Suspended,
		c.QuestionID,
	)
	return err
}

// SaveCard persists the full card state.
func (db *DB) SaveCard(c domain.Card) error {
	if err := saveCard(db.conn, c); err != nil {
		return fmt.Errorf("failed to save card %s: %w", c.QuestionID, err)
	}
	return nil
}

func (db *DB) queryCards(query string, args ...any) ([]domain.Card, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("card query failed: %w", err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// QueryOverdue returns unsuspended Review/Relearning cards whose scheduled
// time passed before the cutoff, most overdue first.
func (db *DB) QueryOverdue(before time.Time, limit int) ([]domain.Card, error) {
	return db.queryCards(`
		SELECT `+cardColumns+` FROM cards
		WHERE suspended = 0 AND state IN (2, 3) AND next_review_at < ?
		ORDER BY next_review_at ASC
		LIMIT ?
	`, before, limit)
}

// QueryDue returns unsuspended seen cards scheduled inside [from, to],
// earliest first.
func (db *DB) QueryDue(from, to time.Time, limit int) ([]domain.Card, error) {
	return db.queryCards(`
		SELECT `+cardColumns+` FROM cards
		WHERE suspended = 0 AND state != 0 AND next_review_at >= ? AND next_review_at <= ?
		ORDER BY next_review_at ASC
		LIMIT ?
	`, from, to, limit)
}

// QueryNew returns unseen cards in corpus (insertion) order.
func (db *DB) QueryNew(limit int) ([]domain.Card, error) {
	return db.queryCards(`
		SELECT `+cardColumns+` FROM cards
		WHERE suspended = 0 AND state = 0
		ORDER BY rowid ASC
		LIMIT ?
	`, limit)
}

// QueryWeak returns the most-lapsed seen cards for weak-focus sessions.
func (db *DB) QueryWeak(minLapses, limit int) ([]domain.Card, error) {
	return db.queryCards(`
		SELECT `+cardColumns+` FROM cards
		WHERE suspended = 0 AND state != 0 AND lapse_count >= ?
		ORDER BY lapse_count DESC, next_review_at ASC
		LIMIT ?
	`, minLapses, limit)
}

// AllCards returns every card, including suspended ones. Meant for
// reporting, not selection.
func (db *DB) AllCards() ([]domain.Card, error) {
	return db.queryCards(`SELECT ` + cardColumns + ` FROM cards ORDER BY rowid ASC`)
}

// QuerySample returns a random unsuspended batch for quiz sessions,
// ignoring the schedule.
func (db *DB) QuerySample(limit int) ([]domain.Card, error) {
	return db.queryCards(`
		SELECT `+cardColumns+` FROM cards
		WHERE suspended = 0
		ORDER BY RANDOM()
		LIMIT ?
	`, limit)
}

// SetCardSuspended flips suspension on the card and, when a leech record
// exists, keeps it in step, atomically.
func (db *DB) SetCardSuspended(questionID string, suspended bool) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin suspend: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE cards SET suspended = ? WHERE question_id = ?`, suspended, questionID)
	if err != nil {
		return fmt.Errorf("failed to suspend card %s: %w", questionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrCardNotFound, questionID)
	}
	if _, err := tx.Exec(`UPDATE leech_records SET suspended = ? WHERE card_id = ?`, suspended, questionID); err != nil {
		return fmt.Errorf("failed to sync leech suspension for %s: %w", questionID, err)
	}
	return tx.Commit()
}

// ----- review recording -----

// RecordReview persists an answered review as one atomic unit: the card
// update, the appended event, and the session counters. A crash mid-way
// leaves either the pre-answer or the fully-updated state.
func (db *DB) RecordReview(card domain.Card, ev domain.ReviewEvent, sess *domain.Session) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin record review: %w", err)
	}
	defer tx.Rollback()

	if err := saveCard(tx, card); err != nil {
		return fmt.Errorf("failed to save card %s: %w", card.QuestionID, err)
	}

	var sessionID any
	if ev.SessionID != "" {
		sessionID = ev.SessionID
	}
	if _, err := tx.Exec(`
		INSERT INTO review_events (
			id, card_id, session_id, reviewed_at, rating, response_time_ms,
			difficulty_before, stability_before, retrievability_before,
			difficulty_after, stability_after, retrievability_after, interval_days
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID, ev.CardID, sessionID, ev.Timestamp, int(ev.Rating), ev.ResponseTimeMs,
		ev.DifficultyBefore, ev.StabilityBefore, ev.RetrievabilityBefore,
		ev.DifficultyAfter, ev.StabilityAfter, ev.RetrievabilityAfter, ev.IntervalDays,
	); err != nil {
		return fmt.Errorf("failed to append review event for %s: %w", ev.CardID, err)
	}

	if sess != nil {
		if err := saveSession(tx, *sess); err != nil {
			return fmt.Errorf("failed to update session %s: %w", sess.ID, err)
		}
	}
	return tx.Commit()
}

// CountFirstReviewsSince counts cards first answered at or after the
// cutoff. A zero difficulty-before marks a first review: difficulty lives
// in [1,10] once a card has been seen.
func (db *DB) CountFirstReviewsSince(cutoff time.Time) (int, error) {
	var n int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM review_events
		WHERE reviewed_at >= ? AND difficulty_before = 0
	`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count first reviews: %w", err)
	}
	return n, nil
}

// CountReviewEvents returns the size of the review log.
func (db *DB) CountReviewEvents() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM review_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count review events: %w", err)
	}
	return n, nil
}

const eventColumns = `id, card_id, session_id, reviewed_at, rating, response_time_ms,
	difficulty_before, stability_before, retrievability_before,
	difficulty_after, stability_after, retrievability_after, interval_days`

func (db *DB) queryEvents(query string, args ...any) ([]domain.ReviewEvent, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("review event query failed: %w", err)
	}
	defer rows.Close()

	var events []domain.ReviewEvent
	for rows.Next() {
		var ev domain.ReviewEvent
		var sessionID sql.NullString
		var rating int
		if err := rows.Scan(
			&ev.ID, &ev.CardID, &sessionID, &ev.Timestamp, &rating, &ev.ResponseTimeMs,
			&ev.DifficultyBefore, &ev.StabilityBefore, &ev.RetrievabilityBefore,
			&ev.DifficultyAfter, &ev.StabilityAfter, &ev.RetrievabilityAfter, &ev.IntervalDays,
		); err != nil {
			return nil, fmt.Errorf("failed to scan review event row: %w", err)
		}
		ev.Rating = domain.Rating(rating)
		ev.SessionID = sessionID.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ReviewEventsSince returns the log at or after the cutoff, oldest first.
func (db *DB) ReviewEventsSince(cutoff time.Time) ([]domain.ReviewEvent, error) {
	return db.queryEvents(`
		SELECT `+eventColumns+` FROM review_events
		WHERE reviewed_at >= ?
		ORDER BY reviewed_at ASC
	`, cutoff)
}

// AllReviewEvents returns the whole log grouped per card in review order,
// the shape the parameter optimizer consumes.
func (db *DB) AllReviewEvents() ([]domain.ReviewEvent, error) {
	return db.queryEvents(`
		SELECT ` + eventColumns + ` FROM review_events
		ORDER BY card_id ASC, reviewed_at ASC
	`)
}

// ----- sessions -----

func saveSession(ex interface {
	Exec(string, ...any) (sql.Result, error)
}, s domain.Session) error {
	var ended any
	if !s.EndedAt.IsZero() {
		ended = s.EndedAt
	}
	_, err := ex.Exec(`
		INSERT INTO sessions (id, type, started_at, ended_at, target_retention,
			max_reviews, reviewed, correct, new_learned, retention_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			reviewed = excluded.reviewed,
			correct = excluded.correct,
			new_learned = excluded.new_learned,
			retention_rate = excluded.retention_rate
	`,
		s.ID, string(s.Type), s.StartedAt, ended, s.TargetRetention,
		s.MaxReviews, s.Reviewed, s.Correct, s.NewLearned, s.RetentionRate,
	)
	return err
}

// SaveSession inserts the session row or updates its running counters.
func (db *DB) SaveSession(s domain.Session) error {
	if err := saveSession(db.conn, s); err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (domain.Session, error) {
	var s domain.Session
	var sessType string
	var ended sql.NullTime
	err := row.Scan(&s.ID, &sessType, &s.StartedAt, &ended, &s.TargetRetention,
		&s.MaxReviews, &s.Reviewed, &s.Correct, &s.NewLearned, &s.RetentionRate)
	if err != nil {
		return domain.Session{}, err
	}
	s.Type = domain.SessionType(sessType)
	if ended.Valid {
		s.EndedAt = ended.Time
	}
	return s, nil
}

const sessionColumns = `id, type, started_at, ended_at, target_retention,
	max_reviews, reviewed, correct, new_learned, retention_rate`

// FindSession retrieves a session by id, or domain.ErrSessionUnknown.
func (db *DB) FindSession(id string) (domain.Session, error) {
	row := db.conn.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrSessionUnknown, id)
		}
		return domain.Session{}, fmt.Errorf("failed to find session %s: %w", id, err)
	}
	return s, nil
}

// OpenSessions returns sessions that were never ended, oldest first.
// Used at startup to detect and close stale runs.
func (db *DB) OpenSessions() ([]domain.Session, error) {
	rows, err := db.conn.Query(`
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE ended_at IS NULL
		ORDER BY started_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ----- leech records -----

// FindLeech retrieves the leech record for a card, or nil when absent.
func (db *DB) FindLeech(cardID string) (*domain.LeechRecord, error) {
	var rec domain.LeechRecord
	row := db.conn.QueryRow(`
		SELECT card_id, lapse_count, threshold_at_detection, detected_at, suspended, notes
		FROM leech_records WHERE card_id = ?
	`, cardID)
	err := row.Scan(&rec.CardID, &rec.LapseCount, &rec.ThresholdAtDetection,
		&rec.DetectedAt, &rec.Suspended, &rec.Notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find leech record %s: %w", cardID, err)
	}
	return &rec, nil
}

// UpsertLeech creates the record on first detection or refreshes the lapse
// count on later lapses. Suspension and notes are preserved on update.
func (db *DB) UpsertLeech(rec domain.LeechRecord) error {
	_, err := db.conn.Exec(`
		INSERT INTO leech_records (card_id, lapse_count, threshold_at_detection, detected_at, suspended, notes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(card_id) DO UPDATE SET lapse_count = excluded.lapse_count
	`, rec.CardID, rec.LapseCount, rec.ThresholdAtDetection, rec.DetectedAt, rec.Suspended, rec.Notes)
	if err != nil {
		return fmt.Errorf("failed to upsert leech record %s: %w", rec.CardID, err)
	}
	return nil
}

// SetLeechNotes attaches user notes to an existing leech record.
func (db *DB) SetLeechNotes(cardID, notes string) error {
	res, err := db.conn.Exec(`UPDATE leech_records SET notes = ? WHERE card_id = ?`, notes, cardID)
	if err != nil {
		return fmt.Errorf("failed to set leech notes for %s: %w", cardID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: no leech record for %s", domain.ErrCardNotFound, cardID)
	}
	return nil
}

// Leeches returns every leech record, most recently detected first.
func (db *DB) Leeches() ([]domain.LeechRecord, error) {
	rows, err := db.conn.Query(`
		SELECT card_id, lapse_count, threshold_at_detection, detected_at, suspended, notes
		FROM leech_records
		ORDER BY detected_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query leech records: %w", err)
	}
	defer rows.Close()

	var recs []domain.LeechRecord
	for rows.Next() {
		var rec domain.LeechRecord
		if err := rows.Scan(&rec.CardID, &rec.LapseCount, &rec.ThresholdAtDetection,
			&rec.DetectedAt, &rec.Suspended, &rec.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan leech row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ----- parameter versions -----

// ParamSet is one persisted version of the model coefficients.
type ParamSet struct {
	Version         int64
	Weights         []float64
	TargetRetention float64
	CreatedAt       time.Time
}

// SaveParamSet appends a new parameter version and returns its number.
// Card rows are never touched here; the scheduler picks the new version
// up on its next read.
func (db *DB) SaveParamSet(weights []float64, targetRetention float64, now time.Time) (int64, error) {
	blob, err := json.Marshal(weights)
	if err != nil {
		return 0, fmt.Errorf("failed to encode weights: %w", err)
	}
	res, err := db.conn.Exec(`
		INSERT INTO param_sets (weights, target_retention, created_at)
		VALUES (?, ?, ?)
	`, string(blob), targetRetention, now)
	if err != nil {
		return 0, fmt.Errorf("failed to save parameter set: %w", err)
	}
	version, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get parameter version: %w", err)
	}
	return version, nil
}

// LatestParamSet returns the most recent parameter version, or nil when
// none has been stored yet (callers fall back to defaults).
func (db *DB) LatestParamSet() (*ParamSet, error) {
	var ps ParamSet
	var blob string
	row := db.conn.QueryRow(`
		SELECT version, weights, target_retention, created_at
		FROM param_sets ORDER BY version DESC LIMIT 1
	`)
	err := row.Scan(&ps.Version, &blob, &ps.TargetRetention, &ps.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load parameter set: %w", err)
	}
	if err := json.Unmarshal([]byte(blob), &ps.Weights); err != nil {
		return nil, fmt.Errorf("failed to decode weights for version %d: %w", ps.Version, err)
	}
	return &ps, nil
}
