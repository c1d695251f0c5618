// Package session orchestrates study runs: it picks the next card by
// priority, feeds answers through the scheduler, and keeps the session
// row persisted on every change so an interrupted run can be detected
// and closed on the next launch.
package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/examloop/examloop/internal/domain"
	"github.com/examloop/examloop/internal/fsrs"
	"github.com/examloop/examloop/internal/interleave"
	"github.com/examloop/examloop/internal/leech"
	"github.com/examloop/examloop/internal/storage"
)

const (
	// defaultDueHorizon is the learn-ahead window: intra-day cards whose
	// step expires this soon still count as due now.
	defaultDueHorizon = 20 * time.Minute

	// weakFocusMinLapses is the lapse floor for weak-focus selection.
	weakFocusMinLapses = 3

	defaultBatchSize = 50
)

// Options configure a Manager.
type Options struct {
	// BaseParams hold the configured steps, cap and fallback weights.
	// Optimized weights from the store override the vector at call time.
	BaseParams *fsrs.Params

	LeechThreshold   int
	InterleaveWindow int

	// MaxNewPerDay caps introductions of unseen cards per calendar day,
	// across sessions.
	MaxNewPerDay int

	DueHorizon time.Duration
	BatchSize  int

	Logger *slog.Logger
}

// Manager owns at most one live study session at a time (single local
// user); concurrently answering from two processes is out of scope.
type Manager struct {
	db      *storage.DB
	leeches *leech.Detector
	order   *interleave.Selector
	opts    Options
	log     *slog.Logger

	// pinned is the candidate returned by the last GetNextCard per
	// session, held until it is answered so repeated calls are
	// idempotent. served records cards already answered this session,
	// keeping quiz and weak-focus selection from looping. queue holds
	// the interleaved due batch per session: cards are served through
	// it in order, so the topic mix survives across answers instead of
	// being recomputed (and discarded) on every call.
	pinned map[string]*domain.Card
	served map[string]map[string]bool
	queue  map[string][]domain.Card
}

// NewManager wires the session layer. BaseParams are validated up front:
// a broken configuration refuses to start rather than producing wrong
// review dates later.
func NewManager(db *storage.DB, opts Options) (*Manager, error) {
	if opts.BaseParams == nil {
		opts.BaseParams = fsrs.DefaultParams()
	}
	if err := opts.BaseParams.Validate(); err != nil {
		return nil, err
	}
	if opts.DueHorizon <= 0 {
		opts.DueHorizon = defaultDueHorizon
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		db:      db,
		leeches: leech.NewDetector(db, opts.LeechThreshold),
		order:   interleave.NewSelector(opts.InterleaveWindow),
		opts:    opts,
		log:     opts.Logger,
		pinned:  map[string]*domain.Card{},
		served:  map[string]map[string]bool{},
		queue:   map[string][]domain.Card{},
	}, nil
}

// Leeches exposes the detector for explicit suspend/annotate actions.
func (m *Manager) Leeches() *leech.Detector {
	return m.leeches
}

// scheduler builds a scheduler from the latest persisted parameter
// version layered over the configured base, honoring the session's
// retention target. Reading at call time means an optimizer run in the
// background is picked up on the very next answer.
func (m *Manager) scheduler(targetRetention float64) (*fsrs.Scheduler, error) {
	p := m.opts.BaseParams.Clone()
	ps, err := m.db.LatestParamSet()
	if err != nil {
		return nil, err
	}
	if ps != nil {
		p.W = ps.Weights
		if ps.TargetRetention > 0 && ps.TargetRetention < 1 {
			p.TargetRetention = ps.TargetRetention
		}
	}
	if targetRetention > 0 && targetRetention < 1 {
		p.TargetRetention = targetRetention
	}
	return fsrs.NewScheduler(p)
}

// StartSession creates and immediately persists a session row, so a
// crash before the first answer is still visible as a stale session.
func (m *Manager) StartSession(sessType domain.SessionType, maxReviews int, targetRetention float64, now time.Time) (domain.Session, error) {
	if !sessType.Valid() {
		return domain.Session{}, fmt.Errorf("unknown session type %q", sessType)
	}
	if maxReviews < 1 {
		return domain.Session{}, fmt.Errorf("max reviews must be positive, got %d", maxReviews)
	}
	if !(targetRetention > 0 && targetRetention < 1) {
		return domain.Session{}, fmt.Errorf("target retention %v outside (0,1)", targetRetention)
	}

	sess := domain.Session{
		ID:              m.db.NewID(),
		Type:            sessType,
		StartedAt:       now,
		TargetRetention: targetRetention,
		MaxReviews:      maxReviews,
	}
	if err := m.db.SaveSession(sess); err != nil {
		return domain.Session{}, fmt.Errorf("start session: %w", err)
	}
	m.served[sess.ID] = map[string]bool{}
	m.log.Info("session started", "session", sess.ID, "type", string(sessType), "max_reviews", maxReviews)
	return sess, nil
}

// GetNextCard returns the next card to show, or nil when the session is
// exhausted. Calling it again without an intervening RecordAnswer returns
// the same candidate.
//
// Selection priority for review sessions, in strict order:
//  1. overdue Review/Relearning cards (scheduled before today), most
//     overdue first;
//  2. cards due now, interleaved across topics — the ordered batch is
//     held for the session and consumed card by card, so the mix is
//     preserved across answers;
//  3. new cards up to the session and daily caps, in corpus order;
//  4. learn-ahead: intra-day steps expiring within the horizon.
func (m *Manager) GetNextCard(sessionID string, now time.Time) (*domain.Card, error) {
	sess, err := m.db.FindSession(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Open() {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionClosed, sessionID)
	}
	if sess.Reviewed >= sess.MaxReviews {
		return nil, nil
	}
	if card := m.pinned[sessionID]; card != nil {
		return card, nil
	}

	var card *domain.Card
	switch sess.Type {
	case domain.SessionLearn:
		card, err = m.nextNew(&sess, now)
	case domain.SessionWeakFocus:
		card, err = m.nextFrom(sessionID, func() ([]domain.Card, error) {
			return m.db.QueryWeak(weakFocusMinLapses, m.opts.BatchSize)
		})
	case domain.SessionQuiz:
		card, err = m.nextFrom(sessionID, func() ([]domain.Card, error) {
			return m.db.QuerySample(m.opts.BatchSize)
		})
	default: // review
		card, err = m.nextForReview(&sess, now)
	}
	if err != nil {
		return nil, err
	}
	if card != nil {
		m.pinned[sessionID] = card
	}
	return card, nil
}

func (m *Manager) nextForReview(sess *domain.Session, now time.Time) (*domain.Card, error) {
	dayStart := startOfDay(now)

	overdue, err := m.db.QueryOverdue(dayStart, 1)
	if err != nil {
		return nil, fmt.Errorf("select overdue: %w", err)
	}
	if len(overdue) > 0 {
		return &overdue[0], nil
	}

	if len(m.queue[sess.ID]) == 0 {
		due, err := m.db.QueryDue(dayStart, now, m.opts.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("select due: %w", err)
		}
		if len(due) > 0 {
			m.queue[sess.ID] = m.order.Order(due)
		}
	}
	if q := m.queue[sess.ID]; len(q) > 0 {
		card := q[0]
		return &card, nil
	}

	card, err := m.nextNew(sess, now)
	if err != nil || card != nil {
		return card, err
	}

	// Nothing strictly due and no new cards left: learn ahead into the
	// horizon so intra-day steps can finish instead of stranding the run.
	ahead, err := m.db.QueryDue(now, now.Add(m.opts.DueHorizon), m.opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("select learn-ahead: %w", err)
	}
	if len(ahead) > 0 {
		return &ahead[0], nil
	}
	return nil, nil
}

func (m *Manager) nextNew(sess *domain.Session, now time.Time) (*domain.Card, error) {
	if m.opts.MaxNewPerDay > 0 {
		introduced, err := m.db.CountFirstReviewsSince(startOfDay(now))
		if err != nil {
			return nil, fmt.Errorf("count new cards today: %w", err)
		}
		if introduced >= m.opts.MaxNewPerDay {
			return nil, nil
		}
	}
	fresh, err := m.db.QueryNew(1)
	if err != nil {
		return nil, fmt.Errorf("select new: %w", err)
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	return &fresh[0], nil
}

func (m *Manager) nextFrom(sessionID string, query func() ([]domain.Card, error)) (*domain.Card, error) {
	cards, err := query()
	if err != nil {
		return nil, err
	}
	seen := m.served[sessionID]
	for i := range cards {
		if seen != nil && seen[cards[i].QuestionID] {
			continue
		}
		return &cards[i], nil
	}
	return nil, nil
}

// Result is what one recorded answer decided.
type Result struct {
	NewState      domain.CardState
	NextReviewAt  time.Time
	IntervalDays  int
	LapseDetected bool
	LeechDetected bool
}

// RecordAnswer runs the scheduler on the card and persists the card
// update, the review event, and the session counters as one transaction.
// On a persistence failure nothing is committed and the stored session
// is untouched, so the caller may retry the same answer.
func (m *Manager) RecordAnswer(sessionID, cardID string, rating domain.Rating, responseTimeMs int, now time.Time) (Result, error) {
	if !rating.Valid() {
		return Result{}, fmt.Errorf("%w: %d", domain.ErrInvalidRating, int(rating))
	}
	sess, err := m.db.FindSession(sessionID)
	if err != nil {
		return Result{}, err
	}
	if !sess.Open() {
		return Result{}, fmt.Errorf("%w: %s", domain.ErrSessionClosed, sessionID)
	}
	card, err := m.db.LoadCard(cardID)
	if err != nil {
		return Result{}, err
	}
	if card.Suspended {
		// Drop it from the selection state too, or a card suspended
		// mid-session would be offered forever.
		if p := m.pinned[sessionID]; p != nil && p.QuestionID == cardID {
			delete(m.pinned, sessionID)
		}
		m.dropQueued(sessionID, cardID)
		return Result{}, fmt.Errorf("%w: %s", domain.ErrCardSuspended, cardID)
	}

	sch, err := m.scheduler(sess.TargetRetention)
	if err != nil {
		return Result{}, fmt.Errorf("scheduler unavailable: %w", err)
	}
	updated, res, err := sch.ScheduleCard(card, rating, now)
	if err != nil {
		return Result{}, err
	}

	ev := domain.ReviewEvent{
		ID:                   m.db.NewID(),
		CardID:               cardID,
		SessionID:            sessionID,
		Timestamp:            now,
		Rating:               rating,
		ResponseTimeMs:       responseTimeMs,
		DifficultyBefore:     res.Before.Difficulty,
		StabilityBefore:      res.Before.Stability,
		RetrievabilityBefore: res.Before.Retrievability,
		DifficultyAfter:      res.After.Difficulty,
		StabilityAfter:       res.After.Stability,
		RetrievabilityAfter:  res.After.Retrievability,
		IntervalDays:         res.IntervalDays,
	}

	sess.Reviewed++
	if rating.Success() {
		sess.Correct++
	}
	if res.Before.State == domain.StateNew {
		sess.NewLearned++
	}

	if err := m.db.RecordReview(updated, ev, &sess); err != nil {
		return Result{}, fmt.Errorf("record answer: %w", err)
	}
	delete(m.pinned, sessionID)
	m.dropQueued(sessionID, cardID)
	if m.served[sessionID] != nil {
		m.served[sessionID][cardID] = true
	}

	out := Result{
		NewState:      updated.State,
		NextReviewAt:  updated.NextReviewAt,
		IntervalDays:  res.IntervalDays,
		LapseDetected: res.Lapsed,
	}
	rec, err := m.leeches.Check(updated, now)
	if err != nil {
		// The answer is committed; a leech bookkeeping failure must not
		// look like a lost review.
		m.log.Warn("leech check failed", "card", cardID, "error", err)
	} else if rec != nil {
		out.LeechDetected = true
		m.log.Info("leech detected", "card", cardID, "lapses", rec.LapseCount)
	}
	return out, nil
}

// Summary is the closing report of a session.
type Summary struct {
	Session       domain.Session
	RetentionRate float64
	Duration      time.Duration
}

// EndSession closes the session and finalizes its retention rate
// (correct/reviewed, zero when nothing was reviewed).
func (m *Manager) EndSession(sessionID string, now time.Time) (Summary, error) {
	sess, err := m.db.FindSession(sessionID)
	if err != nil {
		return Summary{}, err
	}
	if !sess.Open() {
		return Summary{}, fmt.Errorf("%w: %s", domain.ErrSessionClosed, sessionID)
	}
	sess.EndedAt = now
	if sess.Reviewed > 0 {
		sess.RetentionRate = float64(sess.Correct) / float64(sess.Reviewed)
	}
	if err := m.db.SaveSession(sess); err != nil {
		return Summary{}, fmt.Errorf("end session: %w", err)
	}
	delete(m.pinned, sessionID)
	delete(m.served, sessionID)
	delete(m.queue, sessionID)
	m.log.Info("session ended", "session", sessionID,
		"reviewed", sess.Reviewed, "correct", sess.Correct, "retention", sess.RetentionRate)
	return Summary{
		Session:       sess,
		RetentionRate: sess.RetentionRate,
		Duration:      now.Sub(sess.StartedAt),
	}, nil
}

// RecoverStaleSessions closes any session left open by a crashed or
// killed process, keeping whatever counters were last persisted. Returns
// how many were closed. Not fatal: the warning is the report.
func (m *Manager) RecoverStaleSessions(now time.Time) (int, error) {
	open, err := m.db.OpenSessions()
	if err != nil {
		return 0, fmt.Errorf("recover sessions: %w", err)
	}
	for _, sess := range open {
		sess.EndedAt = now
		if sess.Reviewed > 0 {
			sess.RetentionRate = float64(sess.Correct) / float64(sess.Reviewed)
		}
		if err := m.db.SaveSession(sess); err != nil {
			return 0, fmt.Errorf("close stale session %s: %w", sess.ID, err)
		}
		m.log.Warn("closed stale session", "session", sess.ID,
			"started_at", sess.StartedAt, "reviewed", sess.Reviewed)
	}
	return len(open), nil
}

// dropQueued removes one card from the session's due queue, wherever
// it sits.
func (m *Manager) dropQueued(sessionID, cardID string) {
	q := m.queue[sessionID]
	for i := range q {
		if q[i].QuestionID == cardID {
			m.queue[sessionID] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

func startOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}
