package decoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

type mp3Decoder struct{}

// decode uses go-mp3, which always emits 16-bit little-endian interleaved
// stereo regardless of the source channel layout.
func (mp3Decoder) decode(path string, data []byte) ([]float32, int, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open mp3: %w", err)
	}

	sampleRate := dec.SampleRate()
	raw := make([]byte, 0, dec.Length())
	buf := make([]byte, 32*1024)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			raw = append(raw, buf[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, 0, 0, fmt.Errorf("read mp3: %w", err)
		}
	}

	numSamples := len(raw) / 2
	pcm := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
		pcm[i] = float32(v) / 32768.0
	}

	return pcm, 2, sampleRate, nil
}
