package analysis

import (
	"math"

	"github.com/opendj/engine/internal/biquad"
	"github.com/opendj/engine/internal/models"
)

// binsPerMinute is the downsample density for waveform bins; spec §4.3
// requires at least 1024 per minute of audio.
const binsPerMinute = 1200

// computeWaveform splits mono into three bands with the same crossover
// internal/deck uses for EQ, bins each band's RMS energy over uniform
// time slices, and reports the overall peak band energy.
func computeWaveform(mono []float64, sampleRate int) models.WaveformAnalysis {
	durationMinutes := float64(len(mono)) / float64(sampleRate) / 60.0
	numBins := int(math.Ceil(durationMinutes * binsPerMinute))
	if numBins < 1 {
		numBins = 1
	}
	binSize := len(mono) / numBins
	if binSize < 1 {
		binSize = 1
		numBins = len(mono)
	}

	crossover := biquad.NewThreeBand(float64(sampleRate))
	levels := make([]models.WaveformBin, 0, numBins)

	var maxEnergy float32
	var sumLowSq, sumMidSq, sumHighSq float64
	count := 0
	binIdx := 0

	flush := func() {
		if count == 0 {
			levels = append(levels, models.WaveformBin{})
			return
		}
		low := float32(math.Sqrt(sumLowSq / float64(count)))
		mid := float32(math.Sqrt(sumMidSq / float64(count)))
		high := float32(math.Sqrt(sumHighSq / float64(count)))
		levels = append(levels, models.WaveformBin{Low: low, Mid: mid, High: high})
		if low > maxEnergy {
			maxEnergy = low
		}
		if mid > maxEnergy {
			maxEnergy = mid
		}
		if high > maxEnergy {
			maxEnergy = high
		}
		sumLowSq, sumMidSq, sumHighSq, count = 0, 0, 0, 0
	}

	for i, s := range mono {
		low, mid, high := crossover.Split(s)
		sumLowSq += low * low
		sumMidSq += mid * mid
		sumHighSq += high * high
		count++

		if (i+1)%binSize == 0 && binIdx < numBins-1 {
			flush()
			binIdx++
		}
	}
	flush()

	return models.WaveformAnalysis{Levels: levels, MaxBandEnergy: maxEnergy}
}
