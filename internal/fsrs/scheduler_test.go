package fsrs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examloop/examloop/internal/domain"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	sch, err := NewScheduler(DefaultParams())
	require.NoError(t, err)
	return sch
}

func TestNewSchedulerRejectsInvalidParams(t *testing.T) {
	p := DefaultParams()
	p.W[11] = -5 // forget stability goes negative
	_, err := NewScheduler(p)
	require.Error(t, err)
	var perr *ParamError
	require.ErrorAs(t, err, &perr)
}

func TestScheduleCardRejectsUnknownRating(t *testing.T) {
	sch := newTestScheduler(t)
	card := domain.Card{QuestionID: "q1"}

	_, _, err := sch.ScheduleCard(card, domain.Rating(7), time.Now())
	require.ErrorIs(t, err, domain.ErrInvalidRating)

	_, _, err = sch.ScheduleCard(card, domain.Rating(0), time.Now())
	require.ErrorIs(t, err, domain.ErrInvalidRating)
}

func TestScheduleCard_NewCardFirstGood(t *testing.T) {
	sch := newTestScheduler(t)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	card := domain.Card{QuestionID: "q1", State: domain.StateNew}

	next, res, err := sch.ScheduleCard(card, domain.Good, now)
	require.NoError(t, err)

	assert.Equal(t, domain.StateLearning, next.State)
	assert.Equal(t, 1, next.StepIndex)
	// Second learning step is 10 minutes out.
	assert.Equal(t, now.Add(10*time.Minute), next.NextReviewAt)
	assert.Equal(t, 0, res.IntervalDays)
	assert.Equal(t, 1, next.ReviewCount)
	assert.Equal(t, 1, next.SuccessCount)
	assert.InDelta(t, sch.Params().InitialStability(domain.Good), next.Stability, 1e-9)
}

func TestScheduleCard_NewCardEasySkipsLearning(t *testing.T) {
	sch := newTestScheduler(t)
	now := time.Now().UTC()
	card := domain.Card{QuestionID: "q1", State: domain.StateNew}

	next, res, err := sch.ScheduleCard(card, domain.Easy, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateReview, next.State)
	assert.Greater(t, res.IntervalDays, 0)
	assert.True(t, next.NextReviewAt.After(now.AddDate(0, 0, res.IntervalDays-1)))
}

func TestScheduleCard_LearningAgainResetsSteps(t *testing.T) {
	sch := newTestScheduler(t)
	now := time.Now().UTC()
	card := domain.Card{
		QuestionID:   "q1",
		State:        domain.StateLearning,
		StepIndex:    1,
		Stability:    2,
		Difficulty:   5,
		LastReviewAt: now.Add(-10 * time.Minute),
	}

	next, _, err := sch.ScheduleCard(card, domain.Again, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateLearning, next.State)
	assert.Equal(t, 0, next.StepIndex)
	assert.Equal(t, now.Add(1*time.Minute), next.NextReviewAt)
	assert.Zero(t, next.LapseCount, "learning failures are not lapses")
}

func TestScheduleCard_StepStatesAdjustDifficulty(t *testing.T) {
	sch := newTestScheduler(t)
	now := time.Now().UTC()

	// Learning and Relearning move difficulty by the same rule.
	for _, state := range []domain.CardState{domain.StateLearning, domain.StateRelearning} {
		card := domain.Card{
			QuestionID:   "q1",
			State:        state,
			StepIndex:    0,
			Stability:    1.5,
			Difficulty:   5,
			LastReviewAt: now.Add(-5 * time.Minute),
		}
		for _, rating := range []domain.Rating{domain.Again, domain.Hard, domain.Good, domain.Easy} {
			next, _, err := sch.ScheduleCard(card, rating, now)
			require.NoError(t, err)
			want := sch.Params().NextDifficulty(card.Difficulty, rating)
			assert.InDelta(t, want, next.Difficulty, 1e-9, "state %s rating %s", state, rating)
		}
	}
}

func TestScheduleCard_LearningGraduates(t *testing.T) {
	sch := newTestScheduler(t)
	now := time.Now().UTC()
	card := domain.Card{
		QuestionID:   "q1",
		State:        domain.StateLearning,
		StepIndex:    1, // final step
		Stability:    3,
		Difficulty:   5,
		LastReviewAt: now.Add(-10 * time.Minute),
	}

	next, res, err := sch.ScheduleCard(card, domain.Good, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateReview, next.State)
	assert.Equal(t, 0, next.StepIndex)
	assert.Greater(t, res.IntervalDays, 0)
}

func TestScheduleCard_ReviewAgainLapses(t *testing.T) {
	sch := newTestScheduler(t)
	now := time.Now().UTC()
	card := domain.Card{
		QuestionID:   "q1",
		State:        domain.StateReview,
		Stability:    10,
		Difficulty:   5,
		LastReviewAt: now.AddDate(0, 0, -10),
		LapseCount:   2,
	}

	next, res, err := sch.ScheduleCard(card, domain.Again, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRelearning, next.State)
	assert.Equal(t, 3, next.LapseCount)
	assert.True(t, res.Lapsed)
	assert.Less(t, next.Stability, 10.0, "lapse must cut stability")
	assert.Greater(t, next.Difficulty, 5.0)
	assert.Equal(t, now.Add(10*time.Minute), next.NextReviewAt)
}

func TestScheduleCard_RelearningAgainDoesNotDoubleCountLapse(t *testing.T) {
	sch := newTestScheduler(t)
	now := time.Now().UTC()
	card := domain.Card{
		QuestionID:   "q1",
		State:        domain.StateRelearning,
		StepIndex:    0,
		Stability:    1.2,
		Difficulty:   7,
		LastReviewAt: now.Add(-10 * time.Minute),
		LapseCount:   3,
	}

	next, res, err := sch.ScheduleCard(card, domain.Again, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRelearning, next.State)
	assert.Equal(t, 3, next.LapseCount, "lapse counts once per episode")
	assert.False(t, res.Lapsed)
	assert.Equal(t, 0, next.StepIndex)
}

func TestScheduleCard_RelearningReturnsToReview(t *testing.T) {
	sch := newTestScheduler(t)
	now := time.Now().UTC()
	card := domain.Card{
		QuestionID:   "q1",
		State:        domain.StateRelearning,
		StepIndex:    0, // single relearning step
		Stability:    1.5,
		Difficulty:   7,
		LastReviewAt: now.Add(-10 * time.Minute),
		LapseCount:   1,
	}

	next, res, err := sch.ScheduleCard(card, domain.Good, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateReview, next.State)
	assert.Greater(t, res.IntervalDays, 0)
	assert.Equal(t, 1, next.LapseCount)
}

func TestScheduleCard_ClockSkewClampsElapsed(t *testing.T) {
	sch := newTestScheduler(t)
	now := time.Now().UTC()
	card := domain.Card{
		QuestionID:   "q1",
		State:        domain.StateReview,
		Stability:    10,
		Difficulty:   5,
		LastReviewAt: now.Add(2 * time.Hour), // in the future
	}

	next, res, err := sch.ScheduleCard(card, domain.Good, now)
	require.NoError(t, err)
	// Elapsed clamps to 0 so R is 1 and the event still records.
	assert.InDelta(t, 1.0, res.Before.Retrievability, 1e-9)
	assert.True(t, next.NextReviewAt.After(now))
}

// Domain invariants hold for every rating in every reachable state.
func TestScheduleCard_DomainsAndMonotonicity(t *testing.T) {
	sch := newTestScheduler(t)
	now := time.Now().UTC()

	cards := []domain.Card{
		{QuestionID: "n", State: domain.StateNew},
		{QuestionID: "l", State: domain.StateLearning, StepIndex: 0, Stability: 0.6, Difficulty: 6, LastReviewAt: now.Add(-time.Minute)},
		{QuestionID: "r", State: domain.StateReview, Stability: 25, Difficulty: 4, LastReviewAt: now.AddDate(0, 0, -30)},
		{QuestionID: "rl", State: domain.StateRelearning, Stability: 2, Difficulty: 8, LastReviewAt: now.Add(-time.Hour)},
	}
	ratings := []domain.Rating{domain.Again, domain.Hard, domain.Good, domain.Easy}

	for _, card := range cards {
		for _, rating := range ratings {
			next, _, err := sch.ScheduleCard(card, rating, now)
			require.NoError(t, err, "card %s rating %s", card.QuestionID, rating)

			assert.True(t, next.NextReviewAt.After(next.LastReviewAt),
				"nextReviewAt must be after lastReviewAt (card %s, rating %s)", card.QuestionID, rating)
			assert.GreaterOrEqual(t, next.Difficulty, 1.0)
			assert.LessOrEqual(t, next.Difficulty, 10.0)
			assert.Greater(t, next.Stability, 0.0)
			assert.GreaterOrEqual(t, next.Retrievability, 0.0)
			assert.LessOrEqual(t, next.Retrievability, 1.0)
			assert.Equal(t, card.ReviewCount+1, next.ReviewCount)
			assert.GreaterOrEqual(t, next.LapseCount, card.LapseCount)
			assert.GreaterOrEqual(t, next.SuccessCount, card.SuccessCount)
		}
	}
}
