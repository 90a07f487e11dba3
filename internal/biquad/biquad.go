// Package biquad implements RBJ cookbook second-order IIR filters, used
// both by the deck's per-band EQ (internal/deck) and by analysis's
// three-band crossover (internal/analysis) so the two share the exact
// same band split per spec §4.3/§4.5.
//
// No pack-retrieved library exposes parametric biquad design with the
// split this spec needs, so the coefficient math is hand-rolled from the
// standard RBJ cookbook formulas (Audio EQ Cookbook, R. Bristow-Johnson).
package biquad

import "math"

// Type selects the filter response.
type Type int

const (
	LowPass Type = iota
	HighPass
	PeakingEQ
)

// Biquad is a single second-order IIR section in Direct Form I.
type Biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64
}

// New designs a biquad of the given type at cutoff/center frequency freqHz,
// sample rate sampleRate, with Q controlling resonance/bandwidth. gainDb is
// only used for PeakingEQ.
func New(typ Type, freqHz, sampleRate, q, gainDb float64) *Biquad {
	bq := &Biquad{}
	bq.Design(typ, freqHz, sampleRate, q, gainDb)
	return bq
}

// Design (re)computes the filter's coefficients without resetting its
// state — used when a parameter changes but the signal should not click.
func (bq *Biquad) Design(typ Type, freqHz, sampleRate, q, gainDb float64) {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	if q <= 0 {
		q = 0.707
	}
	w0 := 2 * math.Pi * freqHz / sampleRate
	cosw0 := math.Cos(w0)
	sinw0 := math.Sin(w0)
	alpha := sinw0 / (2 * q)

	var b0, b1, b2, a0, a1, a2 float64

	switch typ {
	case LowPass:
		b0 = (1 - cosw0) / 2
		b1 = 1 - cosw0
		b2 = (1 - cosw0) / 2
		a0 = 1 + alpha
		a1 = -2 * cosw0
		a2 = 1 - alpha
	case HighPass:
		b0 = (1 + cosw0) / 2
		b1 = -(1 + cosw0)
		b2 = (1 + cosw0) / 2
		a0 = 1 + alpha
		a1 = -2 * cosw0
		a2 = 1 - alpha
	case PeakingEQ:
		a := math.Pow(10, gainDb/40)
		b0 = 1 + alpha*a
		b1 = -2 * cosw0
		b2 = 1 - alpha*a
		a0 = 1 + alpha/a
		a1 = -2 * cosw0
		a2 = 1 - alpha/a
	}

	bq.b0, bq.b1, bq.b2 = b0/a0, b1/a0, b2/a0
	bq.a1, bq.a2 = a1/a0, a2/a0
}

// Process filters a single sample, updating internal state.
func (bq *Biquad) Process(x float64) float64 {
	y := bq.b0*x + bq.b1*bq.x1 + bq.b2*bq.x2 - bq.a1*bq.y1 - bq.a2*bq.y2
	bq.x2, bq.x1 = bq.x1, x
	bq.y2, bq.y1 = bq.y1, y
	return y
}

// Reset clears the filter's history, used on seek so no pre-seek tail
// leaks into post-seek audio (spec §4.5).
func (bq *Biquad) Reset() {
	bq.x1, bq.x2, bq.y1, bq.y2 = 0, 0, 0, 0
}

// ThreeBand is a cascaded low/mid/high crossover sharing one set of split
// frequencies, used identically by analysis (waveform bands) and by the
// deck's EQ (spec §4.3: "same crossover as analysis").
type ThreeBand struct {
	LowLP   *Biquad // isolates the low band: low-pass at lowHz
	MidHP   *Biquad // mid band: high-pass at lowHz...
	MidLP   *Biquad // ...then low-pass at highHz
	HighHP  *Biquad // isolates the high band: high-pass at highHz
}

// DefaultLowHz and DefaultHighHz are the crossover points spec §4.3
// specifies: low ≤200Hz, mid 200-4000Hz, high ≥4000Hz.
const (
	DefaultLowHz  = 200.0
	DefaultHighHz = 4000.0
)

// NewThreeBand builds a crossover at the given sample rate using the
// spec's default split points.
func NewThreeBand(sampleRate float64) *ThreeBand {
	return &ThreeBand{
		LowLP:  New(LowPass, DefaultLowHz, sampleRate, 0.707, 0),
		MidHP:  New(HighPass, DefaultLowHz, sampleRate, 0.707, 0),
		MidLP:  New(LowPass, DefaultHighHz, sampleRate, 0.707, 0),
		HighHP: New(HighPass, DefaultHighHz, sampleRate, 0.707, 0),
	}
}

// Split filters one sample into its low/mid/high components.
func (t *ThreeBand) Split(x float64) (low, mid, high float64) {
	low = t.LowLP.Process(x)
	mid = t.MidLP.Process(t.MidHP.Process(x))
	high = t.HighHP.Process(x)
	return
}

// Reset clears all four sections' history (used on deck seek).
func (t *ThreeBand) Reset() {
	t.LowLP.Reset()
	t.MidHP.Reset()
	t.MidLP.Reset()
	t.HighHP.Reset()
}

// DbToLinear converts a decibel gain to a linear amplitude multiplier,
// per spec §4.5's "10^(dB/20)" EQ gain conversion.
func DbToLinear(db float32) float32 {
	return float32(math.Pow(10, float64(db)/20))
}
