package fsrs

import (
	"math"

	"github.com/examloop/examloop/internal/domain"
)

// decayFactor makes Retrievability hit exactly the 90% mark when the
// elapsed time equals the stability: R(S, S) = (1 + 1/9)^-1 = 0.9.
const decayFactor = 9.0

const (
	minStability  = 0.1
	minDifficulty = 1.0
	maxDifficulty = 10.0
)

// Retrievability is the modeled probability of recalling a card after
// elapsedDays without review, given stability s. Power-law decay:
//
//	R = (1 + t/(9S))^-1
//
// Returns 1 for non-positive elapsed time (the card was just seen) and
// for non-positive stability (nothing to decay from yet).
func (p *Params) Retrievability(s, elapsedDays float64) float64 {
	if elapsedDays <= 0 || s <= 0 {
		return 1.0
	}
	return 1.0 / (1.0 + elapsedDays/(decayFactor*s))
}

// NextInterval inverts the forgetting curve: the number of whole days
// after which retrievability is expected to have decayed to the target
// retention. Always at least 1, capped at MaximumIntervalDays. With the
// default 0.9 target the interval equals the stability.
func (p *Params) NextInterval(s float64) int {
	raw := decayFactor * s * (1.0/p.TargetRetention - 1.0)
	days := int(math.Round(raw))
	if days < 1 {
		days = 1
	}
	if days > p.MaximumIntervalDays {
		days = p.MaximumIntervalDays
	}
	return days
}

// InitialStability seeds stability for a brand-new card from the first
// rating: one constant per rating, W[0..3].
func (p *Params) InitialStability(r domain.Rating) float64 {
	return math.Max(p.W[int(r)-1], minStability)
}

// InitialDifficulty seeds difficulty for a brand-new card. Higher first
// ratings start easier.
func (p *Params) InitialDifficulty(r domain.Rating) float64 {
	return clampDifficulty(p.W[4] - p.W[5]*float64(r-3))
}

// NextDifficulty moves difficulty up for Again/Hard and down for Easy,
// then mean-reverts toward the initial-Good baseline so difficulty does
// not drift to the rails over long histories.
func (p *Params) NextDifficulty(d float64, r domain.Rating) float64 {
	next := d - p.W[6]*float64(r-3)
	next += p.W[7] * (p.W[4] - next) // mean reversion
	return clampDifficulty(next)
}

// NextStability grows stability after a successful recall. The gain is
// larger the lower retrievability was at review time (harder recall,
// bigger memory effect) and smaller for difficult cards. Hard reviews
// are penalized and Easy reviews get a bonus.
func (p *Params) NextStability(d, s, retrievability float64, r domain.Rating) float64 {
	hardPenalty := 1.0
	if r == domain.Hard {
		hardPenalty = p.W[15]
	}
	easyBonus := 1.0
	if r == domain.Easy {
		easyBonus = p.W[16]
	}
	growth := math.Exp(p.W[8]) *
		(11.0 - d) *
		math.Pow(s, -p.W[9]) *
		(math.Exp(p.W[10]*(1.0-retrievability)) - 1.0) *
		hardPenalty * easyBonus
	return math.Max(s*(1.0+growth), minStability)
}

// ForgetStability shrinks stability after a lapse. The result scales
// with difficulty and the prior stability but never exceeds the prior
// value and never drops below the floor.
func (p *Params) ForgetStability(d, s, retrievability float64) float64 {
	next := p.W[11] *
		math.Pow(d, -p.W[12]) *
		(math.Pow(s+1.0, p.W[13]) - 1.0) *
		math.Exp(p.W[14]*(1.0-retrievability))
	if next > s {
		next = s
	}
	return math.Max(next, minStability)
}

func clampDifficulty(d float64) float64 {
	return math.Max(minDifficulty, math.Min(maxDifficulty, d))
}
