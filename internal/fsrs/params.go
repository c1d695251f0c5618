// Package fsrs implements the DSR (Difficulty/Stability/Retrievability)
// memory model and the scheduling state machine built on top of it.
//
// The model follows the FSRS family of algorithms: a per-card difficulty
// and stability evolve with every answer, and retrievability decays over
// time along a power-law forgetting curve.
package fsrs

import (
	"fmt"
	"math"
	"time"

	"github.com/examloop/examloop/internal/domain"
)

// WeightCount is the length of the model's coefficient vector. The first
// four weights are the initial stabilities for first ratings Again..Easy.
const WeightCount = 19

// Params holds the coefficients and scheduling knobs for the model.
// A Params value is immutable once validated; the scheduler reads the
// latest persisted version at call time rather than holding a reference.
type Params struct {
	W []float64

	// TargetRetention is the recall probability the scheduler aims for
	// when picking the next interval. Must be in (0,1).
	TargetRetention float64

	// MaximumIntervalDays caps how far out a review can be scheduled.
	MaximumIntervalDays int

	// LearningSteps are the intra-day delays walked by a card before it
	// graduates to Review. RelearningSteps mirror them after a lapse.
	LearningSteps   []time.Duration
	RelearningSteps []time.Duration
}

// DefaultParams returns the documented FSRS-5 starting weights with a 90%
// retention target. These are the values the optimizer refines later.
func DefaultParams() *Params {
	return &Params{
		W: []float64{
			0.5701, 1.4436, 4.1386, 10.9355, 5.1443, 1.2006, 0.8627,
			0.0362, 1.629, 0.1342, 1.0166, 2.1174, 0.0839, 0.3204,
			1.4676, 0.219, 2.8237, 0.2188, 0.9859,
		},
		TargetRetention:     0.9,
		MaximumIntervalDays: 36500,
		LearningSteps:       []time.Duration{1 * time.Minute, 10 * time.Minute},
		RelearningSteps:     []time.Duration{10 * time.Minute},
	}
}

// Clone returns a deep copy, so a caller can override the retention or
// weights without touching the shared base set.
func (p *Params) Clone() *Params {
	out := *p
	out.W = append([]float64(nil), p.W...)
	out.LearningSteps = append([]time.Duration(nil), p.LearningSteps...)
	out.RelearningSteps = append([]time.Duration(nil), p.RelearningSteps...)
	return &out
}

// ParamError reports a coefficient vector that cannot produce valid
// schedules. It is raised when a parameter set is loaded, before any
// scheduling call uses it.
type ParamError struct {
	Index int // offending weight index, -1 when not weight-specific
	Msg   string
}

func (e *ParamError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("invalid fsrs parameters: w[%d]: %s", e.Index, e.Msg)
	}
	return fmt.Sprintf("invalid fsrs parameters: %s", e.Msg)
}

// Validate checks the vector shape, the scheduling knobs, and probes the
// model formulas across the rating and state domain. Any probe producing
// NaN, Inf or an out-of-domain value rejects the whole set: scheduling
// must halt rather than silently produce wrong review dates.
func (p *Params) Validate() error {
	if len(p.W) != WeightCount {
		return &ParamError{Index: -1, Msg: fmt.Sprintf("want %d weights, got %d", WeightCount, len(p.W))}
	}
	for i, w := range p.W {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return &ParamError{Index: i, Msg: "not finite"}
		}
	}
	for i := 0; i < 4; i++ {
		if p.W[i] <= 0 {
			return &ParamError{Index: i, Msg: "initial stability must be positive"}
		}
	}
	if !(p.TargetRetention > 0 && p.TargetRetention < 1) {
		return &ParamError{Index: -1, Msg: fmt.Sprintf("target retention %v outside (0,1)", p.TargetRetention)}
	}
	if p.MaximumIntervalDays < 1 {
		return &ParamError{Index: -1, Msg: "maximum interval below one day"}
	}
	if len(p.LearningSteps) == 0 || len(p.RelearningSteps) == 0 {
		return &ParamError{Index: -1, Msg: "step sequences must not be empty"}
	}
	for _, s := range append(append([]time.Duration{}, p.LearningSteps...), p.RelearningSteps...) {
		if s <= 0 {
			return &ParamError{Index: -1, Msg: "steps must be positive"}
		}
	}

	// Probe the formulas across the domain the scheduler can reach.
	ratings := []domain.Rating{domain.Again, domain.Hard, domain.Good, domain.Easy}
	for _, r := range ratings {
		d := p.InitialDifficulty(r)
		s := p.InitialStability(r)
		if !inDomain(d, 1, 10) {
			return &ParamError{Index: -1, Msg: fmt.Sprintf("initial difficulty %v for %s outside [1,10]", d, r)}
		}
		if !(s > 0) || math.IsInf(s, 0) {
			return &ParamError{Index: -1, Msg: fmt.Sprintf("initial stability %v for %s invalid", s, r)}
		}
	}
	for _, d := range []float64{1, 5.5, 10} {
		for _, s := range []float64{0.1, 1, 30, 3650} {
			for _, ret := range []float64{0.5, 0.9, 0.99} {
				for _, r := range ratings {
					var next float64
					if r == domain.Again {
						next = p.ForgetStability(d, s, ret)
					} else {
						next = p.NextStability(d, s, ret, r)
					}
					if !(next > 0) || math.IsNaN(next) || math.IsInf(next, 0) {
						return &ParamError{Index: -1, Msg: fmt.Sprintf("stability update (d=%v s=%v r=%v %s) yields %v", d, s, ret, r, next)}
					}
					nd := p.NextDifficulty(d, r)
					if !inDomain(nd, 1, 10) {
						return &ParamError{Index: -1, Msg: fmt.Sprintf("difficulty update (d=%v %s) yields %v", d, r, nd)}
					}
					if iv := p.NextInterval(next); iv < 1 {
						return &ParamError{Index: -1, Msg: fmt.Sprintf("interval for stability %v is %d", next, iv)}
					}
				}
			}
		}
	}
	return nil
}

func inDomain(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}
