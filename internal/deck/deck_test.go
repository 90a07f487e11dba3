package deck

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/opendj/engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSineWav(t *testing.T, path string, sampleRate int, seconds float64) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 2, 1)
	numFrames := int(float64(sampleRate) * seconds)
	data := make([]int, numFrames*2)
	for i := 0; i < numFrames; i++ {
		s := math.Sin(2 * math.Pi * 440 * float64(i) / float64(sampleRate))
		v := int(s * 10000)
		data[i*2] = v
		data[i*2+1] = v
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: 2},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func loadedDeck(t *testing.T, seconds float64) *Deck {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "track.wav")
	writeSineWav(t, path, 44100, seconds)

	d := New(models.DeckA, 44100)
	derr := d.Load(context.Background(), path)
	require.Nil(t, derr)
	require.Equal(t, models.StatusReady, d.Status())
	return d
}

func TestNewDeckStartsEmpty(t *testing.T) {
	d := New(models.DeckA, 44100)
	assert.Equal(t, models.StatusEmpty, d.Status())
	assert.Equal(t, float32(1.0), d.PitchRate())
}

func TestLoadTransitionsToReady(t *testing.T) {
	d := loadedDeck(t, 1.0)
	assert.Greater(t, d.TotalFrames(), uint64(0))
}

func TestLoadMissingFileGoesToError(t *testing.T) {
	d := New(models.DeckA, 44100)
	derr := d.Load(context.Background(), "/nonexistent.wav")
	require.NotNil(t, derr)
	assert.Equal(t, models.StatusError, d.Status())
}

func TestProduceSilenceWhenNotPlaying(t *testing.T) {
	d := loadedDeck(t, 1.0)
	dst := make([]float32, 256)
	for i := range dst {
		dst[i] = 99
	}
	d.Produce(dst)
	for _, s := range dst {
		assert.Equal(t, float32(0), s)
	}
}

func TestPlayThenProduceAdvancesPosition(t *testing.T) {
	d := loadedDeck(t, 1.0)
	d.Play()
	dst := make([]float32, 512)
	d.Produce(dst)
	assert.Greater(t, d.PositionFrames(), uint64(0))
	assert.Equal(t, models.StatusPlaying, d.Status())
}

func TestSeekClampsToTotalFrames(t *testing.T) {
	d := loadedDeck(t, 1.0)
	d.Seek(d.TotalFrames() + 1000)
	assert.Equal(t, d.TotalFrames(), d.PositionFrames())
}

func TestCueSetAndGoto(t *testing.T) {
	d := loadedDeck(t, 1.0)
	d.Play()
	dst := make([]float32, 2048)
	d.Produce(dst)
	d.CueSet()

	frame, ok := d.CueFrame()
	require.True(t, ok)
	assert.Equal(t, d.PositionFrames(), frame)

	d.Produce(dst)
	d.CueGoto()
	assert.Equal(t, frame, d.PositionFrames())
	assert.Equal(t, models.StatusReady, d.Status())
}

func TestCuePreviewPressAndRelease(t *testing.T) {
	d := loadedDeck(t, 1.0)
	start := d.PositionFrames()

	d.CuePreviewPress()
	assert.Equal(t, models.StatusPlaying, d.Status())

	dst := make([]float32, 1024)
	d.Produce(dst)

	d.CuePreviewRelease()
	assert.Equal(t, models.StatusReady, d.Status())
	assert.Equal(t, start, d.PositionFrames())
}

func TestFaderClampsToUnitRange(t *testing.T) {
	d := New(models.DeckA, 44100)
	d.SetFader(2.0)
	state := d.State()
	assert.Equal(t, float32(1.0), state.Fader)

	d.SetFader(-1.0)
	state = d.State()
	assert.Equal(t, float32(0), state.Fader)
}

func TestEqRoundTrip(t *testing.T) {
	d := New(models.DeckA, 44100)
	d.SetEq(models.EqParams{LowDb: -3, MidDb: 0, HighDb: 6})
	got := d.Eq()
	assert.Equal(t, float32(-3), got.LowDb)
	assert.Equal(t, float32(6), got.HighDb)
}

func TestSyncRoleRoundTrip(t *testing.T) {
	d := New(models.DeckA, 44100)
	d.SetSyncRole(models.SyncMaster)
	assert.Equal(t, models.SyncMaster, d.SyncRole())
}

func TestEffectiveBpmAppliesPitchRate(t *testing.T) {
	d := New(models.DeckA, 44100)
	d.SetBeatgrid(120, 0.5)
	d.SetPitchRate(1.1)
	assert.InDelta(t, 132.0, float64(d.EffectiveBpm()), 0.01)
}

func TestEndOfStreamReturnsToReady(t *testing.T) {
	d := loadedDeck(t, 0.05) // very short track
	d.Play()
	dst := make([]float32, int(44100*2)) // far more frames than exist
	d.Produce(dst)
	assert.Equal(t, models.StatusReady, d.Status())
	assert.False(t, d.State().IsPlaying)
}
