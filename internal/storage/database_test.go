package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examloop/examloop/internal/domain"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "examloop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func insertQuestion(t *testing.T, db *DB, id, topic string, now time.Time) {
	t.Helper()
	require.NoError(t, db.InsertQuestion(domain.Question{
		ID:       id,
		Topic:    topic,
		Question: "question " + id,
		Answer:   "answer " + id,
	}, now))
}

func TestInsertQuestionCreatesSchedulableCard(t *testing.T) {
	db := testDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	insertQuestion(t, db, "q1", "law", now)

	q, err := db.FindQuestion("q1")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "answer q1", q.Answer)

	card, err := db.LoadCard("q1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateNew, card.State)
	assert.Equal(t, "law", card.Topic)
	assert.WithinDuration(t, now, card.NextReviewAt, time.Second)
	assert.True(t, card.LastReviewAt.IsZero())
}

func TestLoadCardNotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.LoadCard("missing")
	assert.ErrorIs(t, err, domain.ErrCardNotFound)
}

func TestCardRoundTripIsLossless(t *testing.T) {
	db := testDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	insertQuestion(t, db, "q1", "law", now)

	want := domain.Card{
		QuestionID:     "q1",
		Topic:          "law",
		Difficulty:     6.283185307179586,
		Stability:      42.1234567890123,
		Retrievability: 0.87654321,
		State:          domain.StateRelearning,
		StepIndex:      1,
		LastReviewAt:   now.AddDate(0, 0, -3),
		NextReviewAt:   now.AddDate(0, 0, 12),
		ReviewCount:    17,
		LapseCount:     4,
		SuccessCount:   13,
		Suspended:      true,
	}
	require.NoError(t, db.SaveCard(want))

	got, err := db.LoadCard("q1")
	require.NoError(t, err)
	assert.Equal(t, want.Difficulty, got.Difficulty)
	assert.Equal(t, want.Stability, got.Stability)
	assert.Equal(t, want.Retrievability, got.Retrievability)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.StepIndex, got.StepIndex)
	assert.WithinDuration(t, want.LastReviewAt, got.LastReviewAt, time.Second)
	assert.WithinDuration(t, want.NextReviewAt, got.NextReviewAt, time.Second)
	assert.Equal(t, want.ReviewCount, got.ReviewCount)
	assert.Equal(t, want.LapseCount, got.LapseCount)
	assert.Equal(t, want.SuccessCount, got.SuccessCount)
	assert.True(t, got.Suspended)
}

func TestQueryOrderingAndFilters(t *testing.T) {
	db := testDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	for _, id := range []string{"a", "b", "c", "d"} {
		insertQuestion(t, db, id, "t", now)
	}

	set := func(id string, state domain.CardState, due time.Time, lapses int) {
		card, err := db.LoadCard(id)
		require.NoError(t, err)
		card.State = state
		card.NextReviewAt = due
		card.LapseCount = lapses
		card.ReviewCount = 1
		card.LastReviewAt = now.AddDate(0, 0, -1)
		require.NoError(t, db.SaveCard(card))
	}
	set("a", domain.StateReview, now.AddDate(0, 0, -2), 0)
	set("b", domain.StateRelearning, now.AddDate(0, 0, -5), 4)
	// c stays New, d becomes due within the day.
	set("d", domain.StateLearning, now.Add(-time.Minute), 0)

	overdue, err := db.QueryOverdue(now.AddDate(0, 0, -1), 10)
	require.NoError(t, err)
	require.Len(t, overdue, 2, "learning and new cards are not overdue")
	assert.Equal(t, "b", overdue[0].QuestionID, "most overdue first")
	assert.Equal(t, "a", overdue[1].QuestionID)

	due, err := db.QueryDue(now.Add(-time.Hour), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "d", due[0].QuestionID)

	fresh, err := db.QueryNew(10)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "c", fresh[0].QuestionID)

	weak, err := db.QueryWeak(3, 10)
	require.NoError(t, err)
	require.Len(t, weak, 1)
	assert.Equal(t, "b", weak[0].QuestionID)

	all, err := db.AllCards()
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSuspendedCardsNeverSelected(t *testing.T) {
	db := testDB(t)
	now := time.Now().UTC()
	insertQuestion(t, db, "a", "t", now)
	require.NoError(t, db.SetCardSuspended("a", true))

	fresh, err := db.QueryNew(10)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	sample, err := db.QuerySample(10)
	require.NoError(t, err)
	assert.Empty(t, sample)
}

func TestSetCardSuspendedSyncsLeechRecord(t *testing.T) {
	db := testDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	insertQuestion(t, db, "a", "t", now)
	require.NoError(t, db.UpsertLeech(domain.LeechRecord{
		CardID:               "a",
		LapseCount:           8,
		ThresholdAtDetection: 8,
		DetectedAt:           now,
	}))

	require.NoError(t, db.SetCardSuspended("a", true))
	rec, err := db.FindLeech("a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Suspended)

	assert.ErrorIs(t, db.SetCardSuspended("nope", true), domain.ErrCardNotFound)
}

func TestRecordReviewPersistsCardEventAndSession(t *testing.T) {
	db := testDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	insertQuestion(t, db, "a", "t", now)

	sess := domain.Session{
		ID:              db.NewID(),
		Type:            domain.SessionReview,
		StartedAt:       now,
		TargetRetention: 0.9,
		MaxReviews:      10,
	}
	require.NoError(t, db.SaveSession(sess))

	card, err := db.LoadCard("a")
	require.NoError(t, err)
	card.State = domain.StateLearning
	card.Difficulty = 5.1
	card.Stability = 1.2
	card.ReviewCount = 1
	card.SuccessCount = 1
	card.LastReviewAt = now
	card.NextReviewAt = now.Add(10 * time.Minute)

	ev := domain.ReviewEvent{
		ID:              db.NewID(),
		CardID:          "a",
		SessionID:       sess.ID,
		Timestamp:       now,
		Rating:          domain.Good,
		ResponseTimeMs:  1500,
		DifficultyAfter: 5.1,
		StabilityAfter:  1.2,
	}
	sess.Reviewed = 1
	sess.Correct = 1
	require.NoError(t, db.RecordReview(card, ev, &sess))

	got, err := db.LoadCard("a")
	require.NoError(t, err)
	assert.Equal(t, domain.StateLearning, got.State)
	assert.Equal(t, 1, got.ReviewCount)

	events, err := db.ReviewEventsSince(now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, sess.ID, events[0].SessionID)
	assert.Equal(t, domain.Good, events[0].Rating)

	stored, err := db.FindSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Reviewed)
}

func TestRecordReviewWithoutSession(t *testing.T) {
	db := testDB(t)
	now := time.Now().UTC()
	insertQuestion(t, db, "a", "t", now)

	card, err := db.LoadCard("a")
	require.NoError(t, err)
	card.ReviewCount = 1
	ev := domain.ReviewEvent{ID: db.NewID(), CardID: "a", Timestamp: now, Rating: domain.Again}
	require.NoError(t, db.RecordReview(card, ev, nil))

	n, err := db.CountReviewEvents()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCountFirstReviewsSince(t *testing.T) {
	db := testDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	insertQuestion(t, db, "a", "t", now)
	insertQuestion(t, db, "b", "t", now)

	record := func(id string, at time.Time, diffBefore float64) {
		card, err := db.LoadCard(id)
		require.NoError(t, err)
		card.ReviewCount++
		require.NoError(t, db.RecordReview(card, domain.ReviewEvent{
			ID:               db.NewID(),
			CardID:           id,
			Timestamp:        at,
			Rating:           domain.Good,
			DifficultyBefore: diffBefore,
		}, nil))
	}
	record("a", now, 0)                     // first review today
	record("a", now.Add(time.Minute), 5.2)  // repeat, must not count
	record("b", now.AddDate(0, 0, -2), 0)   // first review, before cutoff

	n, err := db.CountFirstReviewsSince(now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteQuestionKeepsReviewLog(t *testing.T) {
	db := testDB(t)
	now := time.Now().UTC()
	insertQuestion(t, db, "a", "t", now)

	card, err := db.LoadCard("a")
	require.NoError(t, err)
	card.ReviewCount = 1
	require.NoError(t, db.RecordReview(card, domain.ReviewEvent{
		ID: db.NewID(), CardID: "a", Timestamp: now, Rating: domain.Good,
	}, nil))

	require.NoError(t, db.DeleteQuestion("a"))

	_, err = db.LoadCard("a")
	assert.ErrorIs(t, err, domain.ErrCardNotFound)
	q, err := db.FindQuestion("a")
	require.NoError(t, err)
	assert.Nil(t, q)

	n, err := db.CountReviewEvents()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "events are the audit trail and survive deletion")
}

func TestSessionUpsertAndOpenSessions(t *testing.T) {
	db := testDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	sess := domain.Session{
		ID:              db.NewID(),
		Type:            domain.SessionLearn,
		StartedAt:       now,
		TargetRetention: 0.9,
		MaxReviews:      5,
	}
	require.NoError(t, db.SaveSession(sess))

	open, err := db.OpenSessions()
	require.NoError(t, err)
	require.Len(t, open, 1)

	sess.Reviewed = 3
	sess.EndedAt = now.Add(time.Hour)
	sess.RetentionRate = 1
	require.NoError(t, db.SaveSession(sess))

	open, err = db.OpenSessions()
	require.NoError(t, err)
	assert.Empty(t, open)

	stored, err := db.FindSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Reviewed)
	assert.False(t, stored.Open())

	_, err = db.FindSession("missing")
	assert.ErrorIs(t, err, domain.ErrSessionUnknown)
}

func TestParamSetVersioning(t *testing.T) {
	db := testDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	latest, err := db.LatestParamSet()
	require.NoError(t, err)
	assert.Nil(t, latest, "fresh database has no fitted parameters")

	v1 := []float64{1, 2, 3}
	v2 := []float64{4, 5, 6}
	first, err := db.SaveParamSet(v1, 0.9, now)
	require.NoError(t, err)
	second, err := db.SaveParamSet(v2, 0.85, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Greater(t, second, first)

	latest, err = db.LatestParamSet()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second, latest.Version)
	assert.Equal(t, v2, latest.Weights)
	assert.InDelta(t, 0.85, latest.TargetRetention, 1e-9)
}
