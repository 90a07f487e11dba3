package decoder

import (
	"bytes"
	"fmt"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

type wavDecoder struct{}

func (wavDecoder) decode(path string, data []byte) ([]float32, int, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("not a valid wav file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read wav pcm: %w", err)
	}

	pcm := pcmBufferToFloat32(buf)
	return pcm, buf.Format.NumChannels, buf.Format.SampleRate, nil
}

// pcmBufferToFloat32 converts a go-audio IntBuffer to normalised [-1,1]
// float32, honoring its bit depth.
func pcmBufferToFloat32(buf *audio.IntBuffer) []float32 {
	maxVal := float32(int(1) << uint(buf.SourceBitDepth-1))
	if buf.SourceBitDepth <= 0 {
		maxVal = float32(1 << 15)
	}
	out := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		out[i] = float32(s) / maxVal
	}
	return out
}
