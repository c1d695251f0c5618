// Package interleave orders a batch of due cards so consecutive reviews
// hop between topics instead of clumping. Mixing related topics within a
// session improves transfer compared with blocked practice.
package interleave

import "github.com/examloop/examloop/internal/domain"

// Selector produces a deterministic round-robin interleave across topics.
type Selector struct {
	// WindowSize is the maximum run of consecutive same-topic cards
	// allowed while at least two topics still have cards left.
	WindowSize int
}

// NewSelector returns a selector with the given window size; values below
// one fall back to 1 (strict alternation).
func NewSelector(windowSize int) *Selector {
	if windowSize < 1 {
		windowSize = 1
	}
	return &Selector{WindowSize: windowSize}
}

// Order arranges the cards topic by topic: cycle over the topics in
// first-seen order, taking up to WindowSize cards from each per pass.
// The input order inside a topic is preserved, so the result is fully
// deterministic for a given input.
func (s *Selector) Order(cards []domain.Card) []domain.Card {
	if len(cards) <= 1 {
		return cards
	}

	var topics []string
	groups := make(map[string][]domain.Card)
	for _, c := range cards {
		if _, seen := groups[c.Topic]; !seen {
			topics = append(topics, c.Topic)
		}
		groups[c.Topic] = append(groups[c.Topic], c)
	}
	if len(topics) == 1 {
		return cards
	}

	ordered := make([]domain.Card, 0, len(cards))
	for len(ordered) < len(cards) {
		for _, topic := range topics {
			g := groups[topic]
			take := s.WindowSize
			if take > len(g) {
				take = len(g)
			}
			ordered = append(ordered, g[:take]...)
			groups[topic] = g[take:]
		}
	}
	return ordered
}
