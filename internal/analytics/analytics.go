// Package analytics aggregates the review log and the card table into a
// study report: retention over a window, a per-day due forecast, topic
// breakdowns, leeches and the current study streak.
package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/examloop/examloop/internal/domain"
)

// streakLookbackDays bounds how far back the streak scan reads events.
// Nobody has an unbroken two-year streak in a local tool; if they do,
// the report saying 730 is close enough.
const streakLookbackDays = 730

// Store is the slice of the database the engine reads. *storage.DB
// satisfies it.
type Store interface {
	AllCards() ([]domain.Card, error)
	ReviewEventsSince(cutoff time.Time) ([]domain.ReviewEvent, error)
	Leeches() ([]domain.LeechRecord, error)
}

// Engine computes reports. Stateless; every call reads fresh data.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// ForecastDay is the review load predicted for one calendar day.
type ForecastDay struct {
	Date time.Time
	Due  int
}

// TopicStats aggregates one topic's cards and recent reviews.
type TopicStats struct {
	Topic string

	Cards     int
	Seen      int
	Suspended int
	Lapses    int

	// Averages over the topic's seen cards.
	AvgDifficulty float64
	AvgStability  float64

	// Retention over the report window's events; -1 when the window has
	// no reviews for this topic.
	Retention float64
}

// Report is the full analytics summary for one window.
type Report struct {
	GeneratedAt time.Time
	RangeDays   int

	TotalCards     int
	SeenCards      int
	SuspendedCards int

	// Window aggregates.
	Reviews        int
	Retention      float64 // -1 when the window has no reviews
	AvgResponseMs  int
	LapsesInWindow int

	Forecast []ForecastDay // next RangeDays days, today first
	Topics   []TopicStats  // sorted by topic name
	Leeches  []domain.LeechRecord

	// StreakDays counts consecutive calendar days with at least one
	// review, ending today or yesterday.
	StreakDays int
}

// Summary builds the report for the last rangeDays days of review
// history and the next rangeDays days of scheduled load.
func (e *Engine) Summary(rangeDays int, now time.Time) (*Report, error) {
	if rangeDays < 1 {
		return nil, fmt.Errorf("range must be at least one day, got %d", rangeDays)
	}

	cards, err := e.store.AllCards()
	if err != nil {
		return nil, fmt.Errorf("load cards: %w", err)
	}
	events, err := e.store.ReviewEventsSince(now.AddDate(0, 0, -streakLookbackDays))
	if err != nil {
		return nil, fmt.Errorf("load review history: %w", err)
	}
	leeches, err := e.store.Leeches()
	if err != nil {
		return nil, fmt.Errorf("load leeches: %w", err)
	}

	rep := &Report{
		GeneratedAt: now,
		RangeDays:   rangeDays,
		Retention:   -1,
		Leeches:     leeches,
	}

	topicOf := map[string]string{}
	topics := map[string]*TopicStats{}
	for i := range cards {
		c := &cards[i]
		rep.TotalCards++
		if c.Suspended {
			rep.SuspendedCards++
		}
		topicOf[c.QuestionID] = c.Topic

		ts := topics[c.Topic]
		if ts == nil {
			ts = &TopicStats{Topic: c.Topic, Retention: -1}
			topics[c.Topic] = ts
		}
		ts.Cards++
		if c.Suspended {
			ts.Suspended++
		}
		ts.Lapses += c.LapseCount
		if c.Seen() {
			rep.SeenCards++
			ts.Seen++
			ts.AvgDifficulty += c.Difficulty
			ts.AvgStability += c.Stability
		}
	}
	for _, ts := range topics {
		if ts.Seen > 0 {
			ts.AvgDifficulty /= float64(ts.Seen)
			ts.AvgStability /= float64(ts.Seen)
		}
	}

	windowStart := now.AddDate(0, 0, -rangeDays)
	var correct int
	topicReviews := map[string]int{}
	topicCorrect := map[string]int{}
	for _, ev := range events {
		if ev.Timestamp.Before(windowStart) {
			continue
		}
		rep.Reviews++
		rep.AvgResponseMs += ev.ResponseTimeMs
		if ev.Rating.Success() {
			correct++
		} else {
			rep.LapsesInWindow++
		}
		topic := topicOf[ev.CardID]
		topicReviews[topic]++
		if ev.Rating.Success() {
			topicCorrect[topic]++
		}
	}
	if rep.Reviews > 0 {
		rep.Retention = float64(correct) / float64(rep.Reviews)
		rep.AvgResponseMs /= rep.Reviews
	} else {
		rep.AvgResponseMs = 0
	}
	for topic, n := range topicReviews {
		if ts := topics[topic]; ts != nil && n > 0 {
			ts.Retention = float64(topicCorrect[topic]) / float64(n)
		}
	}

	rep.Topics = make([]TopicStats, 0, len(topics))
	for _, ts := range topics {
		rep.Topics = append(rep.Topics, *ts)
	}
	sort.Slice(rep.Topics, func(i, j int) bool {
		return rep.Topics[i].Topic < rep.Topics[j].Topic
	})

	rep.Forecast = forecast(cards, rangeDays, now)
	rep.StreakDays = streak(events, now)
	return rep, nil
}

// forecast buckets scheduled cards into the next rangeDays calendar
// days. Everything overdue lands in today's bucket: that is the load the
// user actually faces.
func forecast(cards []domain.Card, rangeDays int, now time.Time) []ForecastDay {
	today := startOfDay(now)
	days := make([]ForecastDay, rangeDays)
	for i := range days {
		days[i].Date = today.AddDate(0, 0, i)
	}
	for i := range cards {
		c := &cards[i]
		if c.Suspended || !c.Seen() {
			continue
		}
		offset := int(startOfDay(c.NextReviewAt).Sub(today).Hours() / 24)
		if offset < 0 {
			offset = 0
		}
		if offset >= rangeDays {
			continue
		}
		days[offset].Due++
	}
	return days
}

// streak counts consecutive study days walking back from today. A day
// without reviews breaks it, except today itself: the streak is not lost
// before the evening session.
func streak(events []domain.ReviewEvent, now time.Time) int {
	studied := map[time.Time]bool{}
	for _, ev := range events {
		studied[startOfDay(ev.Timestamp.In(now.Location()))] = true
	}
	today := startOfDay(now)
	day := today
	if !studied[day] {
		day = day.AddDate(0, 0, -1)
	}
	n := 0
	for studied[day] {
		n++
		day = day.AddDate(0, 0, -1)
	}
	return n
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
