package resampler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sineSource is a synthetic FrameSource used by every test — a fixed-length
// sine wave, identical on both channels.
type sineSource struct {
	frames []float32 // mono, duplicated to stereo on read
}

func newSineSource(n int, freq, sampleRate float64) *sineSource {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / sampleRate))
	}
	return &sineSource{frames: out}
}

func (s *sineSource) FrameAt(i uint64) (float32, float32) {
	if i >= uint64(len(s.frames)) {
		return 0, 0
	}
	return s.frames[i], s.frames[i]
}

func (s *sineSource) Len() uint64 { return uint64(len(s.frames)) }

func TestReadExactFrameCountUnityRate(t *testing.T) {
	src := newSineSource(10000, 440, 44100)
	r := New(src, 44100, 44100)

	dst := make([]float32, 512*2)
	n, eof := r.Read(dst, 1.0)

	assert.Equal(t, 512, n)
	assert.False(t, eof)
}

func TestReadStopsAtEOFWithoutPadding(t *testing.T) {
	src := newSineSource(100, 440, 44100)
	r := New(src, 44100, 44100)

	dst := make([]float32, 200*2)
	n, eof := r.Read(dst, 1.0)

	assert.LessOrEqual(t, n, 100)
	assert.True(t, eof || n < 100)
}

func TestReadUpsampleDoublesOutputRate(t *testing.T) {
	src := newSineSource(10000, 440, 22050)
	r := New(src, 22050, 44100)

	dst := make([]float32, 1000*2)
	n, _ := r.Read(dst, 1.0)

	assert.Equal(t, 500, n)
}

func TestResetRepositionsReadHead(t *testing.T) {
	src := newSineSource(10000, 440, 44100)
	r := New(src, 44100, 44100)

	dst := make([]float32, 100*2)
	r.Read(dst, 1.0)
	require.Greater(t, r.Position(), uint64(0))

	r.Reset(0)
	assert.Equal(t, uint64(0), r.Position())
}

func TestRateMultiplierChangesConsumptionRate(t *testing.T) {
	src := newSineSource(10000, 440, 44100)
	r := New(src, 44100, 44100)

	dst := make([]float32, 100*2)
	r.Read(dst, 2.0) // double speed consumes twice the source frames
	fastPos := r.Position()

	r2 := New(src, 44100, 44100)
	r2.Read(dst, 1.0)
	normalPos := r2.Position()

	assert.Greater(t, fastPos, normalPos)
}

func TestReadProducesNoNaN(t *testing.T) {
	src := newSineSource(5000, 1000, 44100)
	r := New(src, 44100, 48000)

	dst := make([]float32, 1000*2)
	n, _ := r.Read(dst, 0.8)
	for i := 0; i < n*2; i++ {
		assert.False(t, math.IsNaN(float64(dst[i])))
	}
}
