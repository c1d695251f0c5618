package leech

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examloop/examloop/internal/domain"
)

// memStore is an in-memory Store for detector tests.
type memStore struct {
	records   map[string]domain.LeechRecord
	upserts   int
	suspended map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		records:   map[string]domain.LeechRecord{},
		suspended: map[string]bool{},
	}
}

func (m *memStore) FindLeech(cardID string) (*domain.LeechRecord, error) {
	if rec, ok := m.records[cardID]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (m *memStore) UpsertLeech(rec domain.LeechRecord) error {
	m.upserts++
	if existing, ok := m.records[rec.CardID]; ok {
		existing.LapseCount = rec.LapseCount
		m.records[rec.CardID] = existing
		return nil
	}
	m.records[rec.CardID] = rec
	return nil
}

func (m *memStore) SetCardSuspended(id string, suspended bool) error {
	m.suspended[id] = suspended
	if rec, ok := m.records[id]; ok {
		rec.Suspended = suspended
		m.records[id] = rec
	}
	return nil
}

func (m *memStore) SetLeechNotes(cardID, notes string) error {
	rec := m.records[cardID]
	rec.Notes = notes
	m.records[cardID] = rec
	return nil
}

func TestCheckBelowThresholdDoesNothing(t *testing.T) {
	store := newMemStore()
	d := NewDetector(store, 8)

	rec, err := d.Check(domain.Card{QuestionID: "q1", LapseCount: 7}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Zero(t, store.upserts)
}

func TestCheckCreatesRecordExactlyOnceAtThreshold(t *testing.T) {
	store := newMemStore()
	d := NewDetector(store, 8)
	now := time.Now()

	card := domain.Card{QuestionID: "q1", LapseCount: 8}
	rec, err := d.Check(card, now)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 8, rec.LapseCount)
	assert.Equal(t, 8, rec.ThresholdAtDetection)
	assert.Equal(t, 1, store.upserts)

	// Re-checking the same card state must not write again.
	rec, err = d.Check(card, now.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, store.upserts, "no duplicate record for unchanged lapse count")
}

func TestCheckUpdatesLapseCountOnLaterLapses(t *testing.T) {
	store := newMemStore()
	d := NewDetector(store, 8)
	now := time.Now()

	_, err := d.Check(domain.Card{QuestionID: "q1", LapseCount: 8}, now)
	require.NoError(t, err)

	rec, err := d.Check(domain.Card{QuestionID: "q1", LapseCount: 9}, now.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 9, rec.LapseCount)
	// Detection metadata stays from the first crossing.
	assert.Equal(t, 8, store.records["q1"].ThresholdAtDetection)
	assert.Equal(t, now, store.records["q1"].DetectedAt)
}

func TestSuspendIsExplicitOnly(t *testing.T) {
	store := newMemStore()
	d := NewDetector(store, 2)

	_, err := d.Check(domain.Card{QuestionID: "q1", LapseCount: 5}, time.Now())
	require.NoError(t, err)
	assert.False(t, store.records["q1"].Suspended, "detection must not auto-suspend")

	require.NoError(t, d.Suspend("q1"))
	assert.True(t, store.suspended["q1"])

	require.NoError(t, d.Unsuspend("q1"))
	assert.False(t, store.suspended["q1"])
}

func TestDefaultThresholdFallback(t *testing.T) {
	d := NewDetector(newMemStore(), 0)
	assert.Equal(t, DefaultThreshold, d.Threshold())
}
