package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

type flacDecoder struct{}

func (flacDecoder) decode(path string, data []byte) ([]float32, int, int, error) {
	stream, err := flac.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("parse flac: %w", err)
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	sampleRate := int(stream.Info.SampleRate)
	maxAmp := float32(int64(1) << uint(stream.Info.BitsPerSample-1))

	pcm := make([]float32, 0, stream.Info.NSamples*uint64(channels))

	for {
		frame, err := stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, 0, fmt.Errorf("decode flac frame: %w", err)
		}
		n := int(frame.BlockSize)
		for i := 0; i < n; i++ {
			for ch := 0; ch < channels && ch < len(frame.Subframes); ch++ {
				pcm = append(pcm, float32(frame.Subframes[ch].Samples[i])/maxAmp)
			}
		}
	}

	return pcm, channels, sampleRate, nil
}
