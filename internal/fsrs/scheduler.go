package fsrs

import (
	"fmt"
	"time"

	"github.com/examloop/examloop/internal/domain"
)

// Snapshot captures the DSR state of a card at one point of the update,
// for the before/after columns of the review log.
type Snapshot struct {
	Difficulty     float64
	Stability      float64
	Retrievability float64
	State          domain.CardState
}

// Result describes what a single ScheduleCard call decided.
type Result struct {
	// IntervalDays is the chosen whole-day interval. Zero while the card
	// is walking intra-day learning or relearning steps.
	IntervalDays int

	// Lapsed is true when this answer opened a new lapse episode
	// (Review -> Relearning). Agains inside an ongoing episode reset the
	// step sequence without counting another lapse.
	Lapsed bool

	Before Snapshot
	After  Snapshot
}

// Scheduler applies the memory model to card state. It is stateless
// beyond its validated parameter set and safe for concurrent use.
type Scheduler struct {
	params *Params
}

// NewScheduler validates the parameter set and returns a scheduler.
// An invalid set is a configuration error: no scheduler is produced and
// the caller must correct or revert to defaults.
func NewScheduler(p *Params) (*Scheduler, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{params: p}, nil
}

// Params returns the parameter set the scheduler was built with.
func (sch *Scheduler) Params() *Params {
	return sch.params
}

// ScheduleCard computes the card's next state and review time for one
// answer. The input card is not mutated; validation failures return
// before any state is derived. Elapsed time for the forgetting curve is
// now minus the last review, clamped to zero under clock skew.
func (sch *Scheduler) ScheduleCard(card domain.Card, rating domain.Rating, now time.Time) (domain.Card, Result, error) {
	if !rating.Valid() {
		return domain.Card{}, Result{}, fmt.Errorf("%w: %d", domain.ErrInvalidRating, int(rating))
	}
	p := sch.params

	elapsed := 0.0
	if !card.LastReviewAt.IsZero() {
		elapsed = now.Sub(card.LastReviewAt).Hours() / 24
		if elapsed < 0 {
			elapsed = 0
		}
	}
	retr := p.Retrievability(card.Stability, elapsed)

	res := Result{
		Before: Snapshot{
			Difficulty:     card.Difficulty,
			Stability:      card.Stability,
			Retrievability: retr,
			State:          card.State,
		},
	}
	next := card

	switch card.State {
	case domain.StateNew:
		next.Difficulty = p.InitialDifficulty(rating)
		next.Stability = p.InitialStability(rating)
		next.State = domain.StateLearning
		next.StepIndex = 0
		sch.walkSteps(&next, &res, rating, now, p.LearningSteps)

	case domain.StateLearning:
		next.Difficulty = p.NextDifficulty(card.Difficulty, rating)
		sch.walkSteps(&next, &res, rating, now, p.LearningSteps)

	case domain.StateReview:
		if rating == domain.Again {
			next.LapseCount++
			res.Lapsed = true
			next.Difficulty = p.NextDifficulty(card.Difficulty, rating)
			next.Stability = p.ForgetStability(card.Difficulty, card.Stability, retr)
			next.State = domain.StateRelearning
			next.StepIndex = 0
			next.NextReviewAt = now.Add(p.RelearningSteps[0])
		} else {
			next.Difficulty = p.NextDifficulty(card.Difficulty, rating)
			next.Stability = p.NextStability(card.Difficulty, card.Stability, retr, rating)
			sch.scheduleReview(&next, &res, now)
		}

	case domain.StateRelearning:
		next.Difficulty = p.NextDifficulty(card.Difficulty, rating)
		sch.walkSteps(&next, &res, rating, now, p.RelearningSteps)

	default:
		return domain.Card{}, Result{}, fmt.Errorf("card %s in unknown state %d", card.QuestionID, int(card.State))
	}

	next.LastReviewAt = now
	next.ReviewCount++
	if rating.Success() {
		next.SuccessCount++
	}
	// Cache the predicted retrievability at the scheduled review time.
	horizon := next.NextReviewAt.Sub(now).Hours() / 24
	next.Retrievability = p.Retrievability(next.Stability, horizon)

	res.After = Snapshot{
		Difficulty:     next.Difficulty,
		Stability:      next.Stability,
		Retrievability: next.Retrievability,
		State:          next.State,
	}
	return next, res, nil
}

// walkSteps advances a card through an intra-day step sequence. Again
// restarts the sequence, Hard repeats the current step, Good advances,
// Easy graduates immediately. Exhausting the sequence promotes the card
// to Review.
func (sch *Scheduler) walkSteps(next *domain.Card, res *Result, rating domain.Rating, now time.Time, steps []time.Duration) {
	switch rating {
	case domain.Again:
		next.StepIndex = 0
		next.NextReviewAt = now.Add(steps[0])
	case domain.Hard:
		if next.StepIndex >= len(steps) {
			next.StepIndex = len(steps) - 1
		}
		next.NextReviewAt = now.Add(steps[next.StepIndex])
	case domain.Good:
		next.StepIndex++
		if next.StepIndex >= len(steps) {
			sch.graduate(next, res, now)
			return
		}
		next.NextReviewAt = now.Add(steps[next.StepIndex])
	case domain.Easy:
		if s := sch.params.InitialStability(domain.Easy); next.Stability < s {
			next.Stability = s
		}
		sch.graduate(next, res, now)
	}
}

func (sch *Scheduler) graduate(next *domain.Card, res *Result, now time.Time) {
	next.State = domain.StateReview
	next.StepIndex = 0
	sch.scheduleReview(next, res, now)
}

func (sch *Scheduler) scheduleReview(next *domain.Card, res *Result, now time.Time) {
	iv := sch.params.NextInterval(next.Stability)
	res.IntervalDays = iv
	next.NextReviewAt = now.AddDate(0, 0, iv)
}
