package decoder

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSineWav synthesizes a short mono or stereo sine-wave WAV fixture,
// in the style of a generated test fixture rather than a checked-in binary.
func writeSineWav(t *testing.T, path string, sampleRate, channels int, seconds float64, freq float64) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	numFrames := int(float64(sampleRate) * seconds)
	data := make([]int, numFrames*channels)
	for i := 0; i < numFrames; i++ {
		s := math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate))
		v := int(s * 16000)
		for c := 0; c < channels; c++ {
			data[i*channels+c] = v
		}
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func TestOpenWavMono(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mono.wav")
	writeSineWav(t, path, 44100, 1, 0.5, 440)

	track, derr := Open(context.Background(), path)
	require.Nil(t, derr)
	assert.Equal(t, 44100, track.SampleRate)
	assert.Equal(t, 2, track.Channels)
	assert.InDelta(t, 44100*0.5, float64(track.TotalFrames), 2)
}

func TestOpenWavStereoDuplication(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mono2.wav")
	writeSineWav(t, path, 22050, 1, 0.1, 220)

	track, derr := Open(context.Background(), path)
	require.Nil(t, derr)
	for i := uint64(0); i < track.TotalFrames; i++ {
		l, r := track.FrameAt(i)
		assert.Equal(t, l, r, "mono source must duplicate to identical L/R")
	}
}

func TestOpenUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.xyz")
	require.NoError(t, os.WriteFile(path, []byte("not audio"), 0o644))

	track, derr := Open(context.Background(), path)
	assert.Nil(t, track)
	require.NotNil(t, derr)
	assert.Equal(t, "UnsupportedFormat", string(derr.Kind))
}

func TestOpenMissingFile(t *testing.T) {
	track, derr := Open(context.Background(), "/nonexistent/path/track.wav")
	assert.Nil(t, track)
	require.NotNil(t, derr)
	assert.Equal(t, "IoFailure", string(derr.Kind))
}

func TestOpenCancelled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mono.wav")
	writeSineWav(t, path, 44100, 1, 2.0, 440)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	track, derr := Open(ctx, path)
	assert.Nil(t, track)
	require.NotNil(t, derr)
	assert.Equal(t, "IoFailure", string(derr.Kind))
}

func TestFrameAtOutOfRange(t *testing.T) {
	track := &DecodedTrack{SampleRate: 44100, Channels: 2, TotalFrames: 2, Frames: []float32{0.1, 0.2, 0.3, 0.4}}
	l, r := track.FrameAt(5)
	assert.Equal(t, float32(0), l)
	assert.Equal(t, float32(0), r)
}

func TestToStereoDownmixFromQuad(t *testing.T) {
	// 4-channel frame: the first two channels average to left, the last two to right.
	in := []float32{1, 1, 1, 1}
	out := toStereo(in, 4)
	require.Len(t, out, 2)
	assert.InDelta(t, 1.0, out[0], 0.001)
	assert.InDelta(t, 1.0, out[1], 0.001)
}

func TestLookupByMagicBytes(t *testing.T) {
	riff := bytes.NewBuffer(nil)
	riff.WriteString("RIFF")
	riff.Write([]byte{0, 0, 0, 0})
	riff.WriteString("WAVE")
	dec, ext := lookup("noext", riff.Bytes())
	assert.NotNil(t, dec)
	assert.Equal(t, "riff", ext)
}
