package progress

import "time"

const (
	minAlpha = 0.05
	maxAlpha = 0.9

	// Reported fraction is held below 1.0 until the process actually exits.
	fractionCeiling = 0.99
)

// Snapshot is the estimator's view of a running conversion.
type Snapshot struct {
	// Fraction of media processed, in [0, 0.99]. Meaningful only when Known.
	Fraction float64
	Known    bool

	// ETA is the smoothed remaining wall-clock time. Meaningful only when
	// ETAKnown.
	ETA      time.Duration
	ETAKnown bool
}

// Estimator tracks conversion progress from media-time samples and smooths
// the processing rate with an exponentially weighted moving average.
type Estimator struct {
	alpha float64

	total     float64
	lastMedia float64
	lastWall  time.Time
	rate      float64
	fraction  float64
	primed    bool
	started   bool
}

// NewEstimator creates an estimator with the given smoothing factor, clamped
// into [0.05, 0.9].
func NewEstimator(alpha float64) *Estimator {
	if alpha < minAlpha {
		alpha = minAlpha
	}
	if alpha > maxAlpha {
		alpha = maxAlpha
	}
	return &Estimator{alpha: alpha}
}

// Start records the wall-clock start of the conversion. Samples observed
// before Start are rejected.
func (e *Estimator) Start(now time.Time) {
	e.lastWall = now
	e.started = true
}

// SetTotal records the source media duration in seconds. Progress stays
// indeterminate until a positive total is known.
func (e *Estimator) SetTotal(seconds float64) {
	if seconds > 0 {
		e.total = seconds
	}
}

// Observe ingests a media-time sample. It returns the updated snapshot and
// whether the sample was accepted. Samples that move backwards in media time
// or wall time are rejected and leave the state unchanged.
func (e *Estimator) Observe(mediaSeconds float64, now time.Time) (Snapshot, bool) {
	if !e.started || mediaSeconds < e.lastMedia || !now.After(e.lastWall) {
		return e.Current(), false
	}

	elapsed := now.Sub(e.lastWall).Seconds()
	instRate := (mediaSeconds - e.lastMedia) / elapsed
	if e.primed {
		e.rate = e.alpha*instRate + (1-e.alpha)*e.rate
	} else {
		e.rate = instRate
		e.primed = true
	}

	e.lastMedia = mediaSeconds
	e.lastWall = now

	if e.total > 0 {
		fraction := mediaSeconds / e.total
		if fraction > fractionCeiling {
			fraction = fractionCeiling
		}
		// Never let the displayed fraction move backwards, even if the total
		// was revised.
		if fraction > e.fraction {
			e.fraction = fraction
		}
	}

	return e.Current(), true
}

// Current returns the snapshot without ingesting a sample.
func (e *Estimator) Current() Snapshot {
	snap := Snapshot{}
	if e.total > 0 {
		snap.Fraction = e.fraction
		snap.Known = true
	}
	if e.total > 0 && e.rate > 0 {
		remaining := (e.total - e.lastMedia) / e.rate
		if remaining < 0 {
			remaining = 0
		}
		snap.ETA = time.Duration(remaining * float64(time.Second))
		snap.ETAKnown = true
	}
	return snap
}

// Percent is the snapshot fraction as a percentage, or -1 when unknown.
func (s Snapshot) Percent() float64 {
	if !s.Known {
		return -1
	}
	return s.Fraction * 100
}
