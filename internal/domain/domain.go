// Package domain holds the core entities shared by the scheduler,
// the session layer and the storage layer.
package domain

import "time"

// Rating is the learner's response to a reviewed question.
// These are the only four constructible values; anything else is
// rejected with ErrInvalidRating before any state changes.
type Rating int

const (
	Again Rating = 1
	Hard  Rating = 2
	Good  Rating = 3
	Easy  Rating = 4
)

// Valid reports whether r is one of the four defined ratings.
func (r Rating) Valid() bool {
	return r >= Again && r <= Easy
}

func (r Rating) String() string {
	switch r {
	case Again:
		return "again"
	case Hard:
		return "hard"
	case Good:
		return "good"
	case Easy:
		return "easy"
	default:
		return "invalid"
	}
}

// Success reports whether the rating counts as a successful recall.
func (r Rating) Success() bool {
	return r >= Hard && r <= Easy
}

// CardState is the position of a card in the scheduling state machine.
type CardState int

const (
	StateNew CardState = iota
	StateLearning
	StateReview
	StateRelearning
)

func (s CardState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateLearning:
		return "learning"
	case StateReview:
		return "review"
	case StateRelearning:
		return "relearning"
	default:
		return "unknown"
	}
}

// Card is the scheduling state for one learnable question. The question
// text itself lives with the content provider; the card only carries the id.
type Card struct {
	QuestionID string
	Topic      string

	// DSR memory state. Difficulty in [1,10], Stability in days,
	// Retrievability is derived from Stability and elapsed time and only
	// cached here for display.
	Difficulty     float64
	Stability      float64
	Retrievability float64

	State     CardState
	StepIndex int

	LastReviewAt time.Time
	NextReviewAt time.Time

	ReviewCount  int
	LapseCount   int
	SuccessCount int

	Suspended bool
}

// Seen reports whether the card has ever been reviewed.
func (c *Card) Seen() bool {
	return c.ReviewCount > 0
}

// ReviewEvent is the immutable record of a single answer. One row is
// appended per answer and never mutated or deleted; the log is the input
// for leech detection, parameter optimization and analytics.
type ReviewEvent struct {
	ID        string
	CardID    string
	SessionID string // empty when reviewed outside a session
	Timestamp time.Time

	Rating         Rating
	ResponseTimeMs int

	// DSR snapshot around the update.
	DifficultyBefore     float64
	StabilityBefore      float64
	RetrievabilityBefore float64
	DifficultyAfter      float64
	StabilityAfter       float64
	RetrievabilityAfter  float64

	IntervalDays int
}

// SessionType selects what a study session draws from.
type SessionType string

const (
	SessionReview    SessionType = "review"
	SessionLearn     SessionType = "learn"
	SessionWeakFocus SessionType = "weak_focus"
	SessionQuiz      SessionType = "quiz"
)

// Valid reports whether t is a defined session type.
func (t SessionType) Valid() bool {
	switch t {
	case SessionReview, SessionLearn, SessionWeakFocus, SessionQuiz:
		return true
	}
	return false
}

// Session is one study run. It is created when the session starts and
// persisted on every counter change so an interrupted process can be
// detected and closed on the next launch.
type Session struct {
	ID        string
	Type      SessionType
	StartedAt time.Time
	EndedAt   time.Time // zero while the session is open

	TargetRetention float64
	MaxReviews      int

	Reviewed   int
	Correct    int
	NewLearned int

	// RetentionRate is finalized when the session ends; 0 when nothing
	// was reviewed.
	RetentionRate float64
}

// Open reports whether the session has not been ended yet.
func (s *Session) Open() bool {
	return s.EndedAt.IsZero()
}

// LeechRecord marks a card whose lapse count crossed the configured
// threshold. Records are created once, updated on later lapses and never
// auto-deleted. Suspension is always an explicit user action.
type LeechRecord struct {
	CardID               string
	LapseCount           int
	ThresholdAtDetection int
	DetectedAt           time.Time
	Suspended            bool
	Notes                string
}

// Question is a corpus entry. The scheduler core never looks at the text;
// it exists so ingest and analytics can relate cards to topics.
type Question struct {
	ID       string // content hash, see internal/qhash
	SourceID int64
	Topic    string
	Question string
	Answer   string
	Context  string
}
