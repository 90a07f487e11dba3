package analysis

import (
	"math"
)

// bpmMin and bpmMax bound the range tempo estimates fold into (spec §9
// Open Question: BPM range resolved as [60,200]).
const (
	bpmMin = 60.0
	bpmMax = 200.0

	// confidenceThreshold is the minimum peak/mean autocorrelation ratio
	// below which the estimate is reported as BpmUnknown rather than a
	// guess (spec §4.3 "BpmUnknown when detection confidence is low").
	confidenceThreshold = 1.6
)

// estimateBPM autocorrelates the onset envelope over the 60-200 BPM lag
// range, applying djbot's perceptual bias toward 120-130 BPM to suppress
// octave errors, merged with the teacher's bpm.go autocorrelation-search
// structure. Returns 0 (unknown) when confidence is too low.
func estimateBPM(onset []float64, sampleRate int) (bpm float64, ok bool) {
	if len(onset) < 8 {
		return 0, false
	}

	minLag := sampleRate * 60 / (int(bpmMax) * onsetHopSize)
	maxLag := sampleRate * 60 / (int(bpmMin) * onsetHopSize)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(onset) {
		maxLag = len(onset) - 1
	}
	if minLag >= maxLag {
		return 0, false
	}

	corrs := make([]float64, 0, maxLag-minLag+1)
	bestLag := minLag
	bestWeighted := -1.0
	var sum float64

	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		var count int
		for i := 0; i+lag < len(onset); i++ {
			corr += onset[i] * onset[i+lag]
			count++
		}
		if count > 0 {
			corr /= float64(count)
		}

		bpmApprox := 60.0 / (float64(lag) * float64(onsetHopSize) / float64(sampleRate))
		weight := math.Exp(-0.5 * math.Pow((bpmApprox-120.0)/40.0, 2))
		weighted := corr * (0.8 + 0.2*weight)

		corrs = append(corrs, corr)
		sum += corr

		if weighted > bestWeighted {
			bestWeighted = weighted
			bestLag = lag
		}
	}

	mean := sum / float64(len(corrs))
	peak := corrs[bestLag-minLag]
	if mean <= 0 || peak/mean < confidenceThreshold {
		return 0, false
	}

	beatPeriodSec := float64(bestLag) * float64(onsetHopSize) / float64(sampleRate)
	if beatPeriodSec <= 0 {
		return 0, false
	}
	bpm = 60.0 / beatPeriodSec
	for bpm > bpmMax {
		bpm /= 2
	}
	for bpm < bpmMin {
		bpm *= 2
	}
	return math.Round(bpm*10) / 10, true
}

// firstBeat picks the phase-anchor onset peak in the opening 5 seconds and
// walks backward by the beat period to the earliest non-negative beat time
// — grounded on djbot's estimateBeatTimes, adapted to return only the
// first beat rather than the full grid (the deck reconstructs the grid
// from firstBeatSec + k·60/bpm per spec §4.5).
func firstBeat(onset []float64, sampleRate int, bpm float64) float64 {
	if bpm <= 0 || len(onset) == 0 {
		return 0
	}
	beatPeriod := 60.0 / bpm

	searchFrames := int(5.0 * float64(sampleRate) / float64(onsetHopSize))
	if searchFrames > len(onset) {
		searchFrames = len(onset)
	}

	bestIdx := 0
	bestVal := 0.0
	for i := 0; i < searchFrames; i++ {
		if onset[i] > bestVal {
			bestVal = onset[i]
			bestIdx = i
		}
	}
	anchor := float64(bestIdx) * float64(onsetHopSize) / float64(sampleRate)

	t := anchor
	for t-beatPeriod >= 0 {
		t -= beatPeriod
	}
	return math.Round(t*1000) / 1000
}
