package analysis

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// onsetFrameSize and onsetHopSize give ~46ms windows with ~11ms hop at
// 44100Hz, matching the STFT resolution djbot's computeOnsetEnvelope uses
// for beat-onset detection.
const (
	onsetFrameSize = 2048
	onsetHopSize   = 512
)

// onsetEnvelope computes the half-wave-rectified spectral flux of mono
// samples: the frame-to-frame increase in magnitude spectrum energy,
// which rises sharply at percussive onsets. Grounded on djbot's
// computeOnsetEnvelope, with the hand-rolled radix-2 FFT there replaced
// by gonum's real-to-complex FFT.
func onsetEnvelope(samples []float64, sampleRate int) []float64 {
	n := len(samples)
	numFrames := (n - onsetFrameSize) / onsetHopSize
	if numFrames <= 0 {
		return nil
	}

	window := hannWindow(onsetFrameSize)
	fft := fourier.NewFFT(onsetFrameSize)
	nBins := onsetFrameSize/2 + 1

	onset := make([]float64, numFrames)
	prevMag := make([]float64, nBins)
	mag := make([]float64, nBins)
	frame := make([]float64, onsetFrameSize)

	for i := 0; i < numFrames; i++ {
		start := i * onsetHopSize
		for k := range frame {
			frame[k] = 0
		}
		for j := 0; j < onsetFrameSize && start+j < n; j++ {
			frame[j] = samples[start+j] * window[j]
		}
		coeffs := fft.Coefficients(nil, frame)
		for j := 0; j < nBins; j++ {
			mag[j] = cmplx.Abs(coeffs[j])
		}

		flux := 0.0
		for j := range mag {
			d := mag[j] - prevMag[j]
			if d > 0 {
				flux += d
			}
		}
		onset[i] = flux
		copy(prevMag, mag)
	}
	return onset
}

// hannWindow returns a periodic-free (symmetric) Hann window of length n.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}
