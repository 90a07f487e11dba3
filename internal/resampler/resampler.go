// Package resampler implements C2: a windowed-sinc polyphase resampler
// with a continuously time-varying rate multiplier, used by each deck to
// convert decoded track frames at their native sample rate into the
// engine's fixed output rate and pitch.
//
// No pack-retrieved library exposes the pull contract this needs —
// consume the minimum input frames required, return exactly N output
// frames (or report end-of-stream), never pad with silence except at a
// true EOF, and tolerate a rate that changes every call without an
// audible click — so the filter is hand-rolled on top of math, in the
// windowed-sinc style.
package resampler

import "math"

// FrameSource is anything a Resampler can pull source-rate stereo frames
// from. *decoder.DecodedTrack satisfies this without an import cycle.
type FrameSource interface {
	// FrameAt returns the stereo sample at source frame index i; reads
	// past the end of the source return silence.
	FrameAt(i uint64) (l, r float32)
	// Len returns the total number of frames in the source.
	Len() uint64
}

const (
	// halfTaps is the number of sinc taps on each side of the window
	// center; widening it tightens the transition band at the cost of
	// more multiply-adds per output sample.
	halfTaps  = 16
	taps      = halfTaps*2 + 1
)

// Resampler converts frames from a FrameSource at sourceRate into
// engineRate×rate output frames, pulled one block at a time.
type Resampler struct {
	src        FrameSource
	sourceRate float64
	engineRate float64

	// pos is the fractional read position in source-frame units.
	pos float64
	eof bool
}

// New builds a resampler reading from src, which is natively at
// sourceRateHz, to be pulled at engineRateHz (before the pitch multiplier
// is applied per-call).
func New(src FrameSource, sourceRateHz, engineRateHz int) *Resampler {
	return &Resampler{
		src:        src,
		sourceRate: float64(sourceRateHz),
		engineRate: float64(engineRateHz),
	}
}

// Reset flushes filter state and repositions the read head to source
// frame startFrame, used by deck seek so no pre-seek tail leaks into
// post-seek audio.
func (r *Resampler) Reset(startFrame uint64) {
	r.pos = float64(startFrame)
	r.eof = false
}

// Position returns the current read position in source-frame units,
// truncated to the nearest whole frame — the deck's positionFrames is
// derived from this.
func (r *Resampler) Position() uint64 {
	if r.pos < 0 {
		return 0
	}
	return uint64(r.pos)
}

// Read fills dst (interleaved stereo, len(dst)/2 frames requested) at the
// given rate multiplier (1.0 = native pitch) and returns the number of
// frames written. eof is true once the source is exhausted; frames beyond
// the source's end are never fabricated — the caller receives fewer
// frames than requested instead.
func (r *Resampler) Read(dst []float32, rate float32) (framesWritten int, eof bool) {
	if r.eof {
		return 0, true
	}
	if rate <= 0 {
		rate = 1
	}
	step := (r.sourceRate / r.engineRate) * float64(rate)

	wanted := len(dst) / 2
	srcLen := r.src.Len()

	n := 0
	for n < wanted {
		if r.pos < 0 || uint64(r.pos) >= srcLen {
			r.eof = true
			break
		}
		l, rr := r.sincSample(r.pos)
		dst[n*2] = l
		dst[n*2+1] = rr
		r.pos += step
		n++
	}
	return n, r.eof
}

// sincSample evaluates the windowed-sinc interpolation kernel at
// fractional source position pos.
func (r *Resampler) sincSample(pos float64) (l, rr float32) {
	base := int64(math.Floor(pos))
	frac := pos - float64(base)

	var accL, accR, wsum float64
	for k := -halfTaps; k <= halfTaps; k++ {
		idx := base + int64(k)
		if idx < 0 {
			continue
		}
		x := float64(k) - frac
		w := sincKernel(x) * hannWindow(x, halfTaps)
		if w == 0 {
			continue
		}
		sl, sr := r.sourceFrame(uint64(idx))
		accL += float64(sl) * w
		accR += float64(sr) * w
		wsum += w
	}
	if wsum == 0 {
		return 0, 0
	}
	return float32(accL / wsum), float32(accR / wsum)
}

func (r *Resampler) sourceFrame(idx uint64) (float32, float32) {
	if idx >= r.src.Len() {
		return 0, 0
	}
	return r.src.FrameAt(idx)
}

// sincKernel is the normalized sinc function sin(πx)/(πx), 1 at x=0.
func sincKernel(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// hannWindow tapers the sinc kernel to zero at ±halfWidth, limiting the
// effective filter length without a hard cutoff's ringing.
func hannWindow(x float64, halfWidth int) float64 {
	hw := float64(halfWidth)
	if x < -hw || x > hw {
		return 0
	}
	return 0.5 * (1 + math.Cos(math.Pi*x/hw))
}
