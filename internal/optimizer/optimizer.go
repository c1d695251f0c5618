// Package optimizer fits the memory-model weights to the user's own
// review history. Only the stability-governing weights are fitted; the
// initial seeds and difficulty dynamics keep their configured values so
// a small history cannot distort the cold-start behavior.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/examloop/examloop/internal/domain"
	"github.com/examloop/examloop/internal/fsrs"
)

// fittedLo..fittedHi is the fitted index range of the weight vector:
// the recall/lapse stability terms.
const (
	fittedLo = 8
	fittedHi = 14

	weightFloor = 1e-3

	// probEps keeps the log-loss finite at the rails.
	probEps = 1e-6
)

const (
	// DefaultMinEvents is how much history a fit needs before it can beat
	// the population defaults.
	DefaultMinEvents = 1000

	defaultMaxEpochs    = 200
	defaultLearningRate = 0.02
	defaultTolerance    = 1e-5
)

// Store is the slice of the database the optimizer reads and writes.
// *storage.DB satisfies it.
type Store interface {
	CountReviewEvents() (int, error)
	AllReviewEvents() ([]domain.ReviewEvent, error)
	SaveParamSet(weights []float64, targetRetention float64, now time.Time) (int64, error)
}

// Options tune the fit. Zero values pick the defaults.
type Options struct {
	MinEvents    int
	MaxEpochs    int
	LearningRate float64
	Tolerance    float64
	Logger       *slog.Logger
}

// Optimizer fits weights against recorded review events.
type Optimizer struct {
	store Store
	base  *fsrs.Params
	opts  Options
	log   *slog.Logger
}

// New builds an optimizer around the given base parameters, usually the
// currently effective ones. A nil base falls back to the defaults.
func New(store Store, base *fsrs.Params, opts Options) *Optimizer {
	if base == nil {
		base = fsrs.DefaultParams()
	}
	if opts.MinEvents <= 0 {
		opts.MinEvents = DefaultMinEvents
	}
	if opts.MaxEpochs <= 0 {
		opts.MaxEpochs = defaultMaxEpochs
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = defaultLearningRate
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = defaultTolerance
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Optimizer{store: store, base: base.Clone(), opts: opts, log: opts.Logger}
}

// ShouldOptimize reports whether enough history has accumulated for a
// fit to be worthwhile.
func (o *Optimizer) ShouldOptimize() (bool, error) {
	n, err := o.store.CountReviewEvents()
	if err != nil {
		return false, fmt.Errorf("count review history: %w", err)
	}
	return n >= o.opts.MinEvents, nil
}

// review is one step of a card's replayed history.
type review struct {
	elapsedDays float64
	rating      domain.Rating
}

// Optimize fits the stability weights by batch gradient descent on the
// log-loss of predicted recall over the full review history, replayed
// per card under the candidate weights. The fit is conservative: on
// insufficient data, non-convergence, an invalid fitted vector, or no
// improvement over the baseline, the previous parameters come back
// unchanged and nothing is persisted. A successful fit is appended as a
// new parameter version.
//
// The context is checked between epochs, so cancellation aborts a long
// fit without leaving partial state behind.
func (o *Optimizer) Optimize(ctx context.Context, now time.Time) (*fsrs.Params, error) {
	prev := o.base.Clone()

	events, err := o.store.AllReviewEvents()
	if err != nil {
		return nil, fmt.Errorf("load review history: %w", err)
	}
	if len(events) < o.opts.MinEvents {
		o.log.Info("optimizer skipped, not enough history",
			"events", len(events), "needed", o.opts.MinEvents)
		return prev, nil
	}

	histories, predictions := buildHistories(events)
	if predictions == 0 {
		o.log.Info("optimizer skipped, no repeat reviews to predict")
		return prev, nil
	}

	w := append([]float64(nil), prev.W...)
	probe := prev.Clone()
	lossAt := func(v []float64) float64 {
		copy(probe.W, v)
		return replayLoss(probe, histories)
	}

	baseline := lossAt(w)
	loss := baseline
	converged := false
	for epoch := 0; epoch < o.opts.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("optimizer cancelled at epoch %d: %w", epoch, err)
		}
		for i := fittedLo; i <= fittedHi; i++ {
			g := gradient(lossAt, w, i)
			w[i] = math.Max(w[i]-o.opts.LearningRate*g, weightFloor)
		}
		next := lossAt(w)
		if math.Abs(loss-next) < o.opts.Tolerance {
			loss = next
			converged = true
			break
		}
		loss = next
	}
	if !converged {
		o.log.Warn("optimizer did not converge, keeping previous parameters",
			"epochs", o.opts.MaxEpochs, "loss", loss)
		return prev, nil
	}
	if loss >= baseline {
		o.log.Info("fit did not improve on current parameters",
			"baseline", baseline, "fitted", loss)
		return prev, nil
	}

	fitted := prev.Clone()
	copy(fitted.W, w)
	if err := fitted.Validate(); err != nil {
		o.log.Warn("fitted weights failed validation, keeping previous parameters", "error", err)
		return prev, nil
	}

	version, err := o.store.SaveParamSet(fitted.W, fitted.TargetRetention, now)
	if err != nil {
		return nil, fmt.Errorf("persist fitted parameters: %w", err)
	}
	o.log.Info("optimizer fitted new parameters",
		"version", version, "events", len(events), "predictions", predictions,
		"baseline_loss", baseline, "fitted_loss", loss)
	return fitted, nil
}

// buildHistories groups events (already ordered by card, then time) into
// per-card replay sequences and counts the predictable steps: every
// review after a card's first.
func buildHistories(events []domain.ReviewEvent) ([][]review, int) {
	var histories [][]review
	var current []review
	var currentCard string
	var lastAt time.Time
	predictions := 0

	flush := func() {
		if len(current) > 1 {
			histories = append(histories, current)
			predictions += len(current) - 1
		}
		current = nil
	}
	for _, ev := range events {
		if ev.CardID != currentCard {
			flush()
			currentCard = ev.CardID
			lastAt = ev.Timestamp
		}
		elapsed := ev.Timestamp.Sub(lastAt).Hours() / 24.0
		if elapsed < 0 {
			elapsed = 0
		}
		current = append(current, review{elapsedDays: elapsed, rating: ev.Rating})
		lastAt = ev.Timestamp
	}
	flush()
	return histories, predictions
}

// replayLoss replays every history under p and returns the mean log-loss
// of the recall predictions.
func replayLoss(p *fsrs.Params, histories [][]review) float64 {
	var sum float64
	var n int
	for _, h := range histories {
		s := p.InitialStability(h[0].rating)
		d := p.InitialDifficulty(h[0].rating)
		for _, rv := range h[1:] {
			r := p.Retrievability(s, rv.elapsedDays)
			pr := math.Min(math.Max(r, probEps), 1.0-probEps)
			if rv.rating.Success() {
				sum += -math.Log(pr)
			} else {
				sum += -math.Log(1.0 - pr)
			}
			n++

			nd := p.NextDifficulty(d, rv.rating)
			if rv.rating.Success() {
				s = p.NextStability(d, s, r, rv.rating)
			} else {
				s = p.ForgetStability(d, s, r)
			}
			d = nd
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// gradient estimates dLoss/dW[i] by central difference.
func gradient(lossAt func([]float64) float64, w []float64, i int) float64 {
	const h = 1e-4
	orig := w[i]
	w[i] = orig + h
	up := lossAt(w)
	w[i] = math.Max(orig-h, weightFloor)
	down := lossAt(w)
	lo := w[i]
	w[i] = orig
	if orig+h == lo {
		return 0
	}
	return (up - down) / (orig + h - lo)
}
