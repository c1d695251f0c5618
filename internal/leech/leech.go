// Package leech flags cards that keep failing despite review. A card
// whose lapse count reaches the threshold gets a persistent record; what
// to do about it (suspend, annotate) stays a user decision.
package leech

import (
	"fmt"
	"time"

	"github.com/examloop/examloop/internal/domain"
)

// DefaultThreshold is the lapse count at which a card counts as a leech.
const DefaultThreshold = 8

// Store is the slice of the repository the detector needs.
type Store interface {
	FindLeech(cardID string) (*domain.LeechRecord, error)
	UpsertLeech(rec domain.LeechRecord) error
	SetCardSuspended(questionID string, suspended bool) error
	SetLeechNotes(cardID, notes string) error
}

// Detector watches updated cards for threshold crossings.
type Detector struct {
	store     Store
	threshold int
}

// NewDetector returns a detector; a threshold below one falls back to the
// default.
func NewDetector(store Store, threshold int) *Detector {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Detector{store: store, threshold: threshold}
}

// Threshold returns the configured lapse threshold.
func (d *Detector) Threshold() int {
	return d.threshold
}

// Check inspects a freshly updated card. Below the threshold it returns
// nil. At the first crossing it creates the record; on later lapses of an
// already-flagged card it refreshes the stored lapse count. The returned
// record reflects the persisted state.
func (d *Detector) Check(card domain.Card, now time.Time) (*domain.LeechRecord, error) {
	if card.LapseCount < d.threshold {
		return nil, nil
	}

	existing, err := d.store.FindLeech(card.QuestionID)
	if err != nil {
		return nil, fmt.Errorf("leech lookup for %s: %w", card.QuestionID, err)
	}

	rec := domain.LeechRecord{
		CardID:               card.QuestionID,
		LapseCount:           card.LapseCount,
		ThresholdAtDetection: d.threshold,
		DetectedAt:           now,
	}
	if existing != nil {
		if existing.LapseCount == card.LapseCount {
			return existing, nil // nothing new to record
		}
		rec.ThresholdAtDetection = existing.ThresholdAtDetection
		rec.DetectedAt = existing.DetectedAt
		rec.Suspended = existing.Suspended
		rec.Notes = existing.Notes
	}
	if err := d.store.UpsertLeech(rec); err != nil {
		return nil, fmt.Errorf("leech upsert for %s: %w", card.QuestionID, err)
	}
	return &rec, nil
}

// Suspend takes a card out of review selection. Never called by the
// detector itself; suspension is an explicit user action.
func (d *Detector) Suspend(cardID string) error {
	return d.store.SetCardSuspended(cardID, true)
}

// Unsuspend puts a card back into the selection pool.
func (d *Detector) Unsuspend(cardID string) error {
	return d.store.SetCardSuspended(cardID, false)
}

// Annotate attaches notes to an existing leech record.
func (d *Detector) Annotate(cardID, notes string) error {
	return d.store.SetLeechNotes(cardID, notes)
}
