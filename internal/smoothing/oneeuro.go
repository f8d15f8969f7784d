// Package smoothing implements the One-Euro adaptive low-pass filter used to
// remove landmark jitter without adding lag during fast movement.
package smoothing

import (
	"math"
	"time"
)

// Bounds applied to the inter-sample time so a stall or a repeated timestamp
// cannot blow up the derivative estimate.
const (
	MinDelta = time.Millisecond
	MaxDelta = 500 * time.Millisecond
)

// Params configures a One-Euro filter.
//
// MinCutoff is the cutoff frequency in Hz at rest; lower values remove more
// jitter. Beta scales how much the cutoff rises with speed; higher values
// reduce lag during fast motion. DerivativeCutoff smooths the speed estimate.
type Params struct {
	MinCutoff        float64 `json:"min_cutoff"`
	Beta             float64 `json:"beta"`
	DerivativeCutoff float64 `json:"derivative_cutoff"`
}

// DefaultParams returns min_cutoff 1.0, beta 0.007 and derivative_cutoff 1.0.
func DefaultParams() Params {
	return Params{MinCutoff: 1.0, Beta: 0.007, DerivativeCutoff: 1.0}
}

// alpha is the exponential smoothing factor for a cutoff frequency and sample period.
func alpha(cutoff, te float64) float64 {
	tau := 1.0 / (2 * math.Pi * cutoff)
	return 1.0 / (1.0 + tau/te)
}

func clampDelta(d time.Duration) time.Duration {
	switch {
	case d < MinDelta:
		return MinDelta
	case d > MaxDelta:
		return MaxDelta
	}
	return d
}

// lowPass is a first-order exponential filter.
type lowPass struct {
	value float64
}

func (f *lowPass) apply(v, a float64) float64 {
	f.value = a*v + (1-a)*f.value
	return f.value
}

// OneEuro filters a single scalar channel.
type OneEuro struct {
	params Params
	x      lowPass
	dx     lowPass
	last   time.Time
	primed bool
}

// NewOneEuro creates a filter with the given parameters.
func NewOneEuro(p Params) *OneEuro {
	return &OneEuro{params: p}
}

// Filter returns the smoothed value of v sampled at ts. The first sample is
// returned unchanged and starts the derivative at zero.
func (f *OneEuro) Filter(v float64, ts time.Time) float64 {
	if !f.primed {
		f.primed = true
		f.last = ts
		f.x.value = v
		f.dx.value = 0
		return v
	}

	te := clampDelta(ts.Sub(f.last)).Seconds()
	if ts.After(f.last) {
		f.last = ts
	}

	d := (v - f.x.value) / te
	ed := f.dx.apply(d, alpha(f.params.DerivativeCutoff, te))
	cutoff := f.params.MinCutoff + f.params.Beta*math.Abs(ed)
	return f.x.apply(v, alpha(cutoff, te))
}

// SetParams changes the parameters while keeping the filter state.
func (f *OneEuro) SetParams(p Params) {
	f.params = p
}

// Reset forgets all history; the next sample passes through unchanged.
func (f *OneEuro) Reset() {
	f.primed = false
	f.x.value = 0
	f.dx.value = 0
	f.last = time.Time{}
}
