package decoder

import (
	"fmt"
	"io"
	"log/slog"

	gomp4 "github.com/abema/go-mp4"
	aacdecoder "github.com/skrashevich/go-aac/pkg/decoder"
)

// decodeAAC decodes every sample in track and returns interleaved PCM at
// its native channel count (generalized from the BPM probe's mono-only,
// 30-second-capped decode to a full-track, channel-preserving one).
func decodeAAC(rs io.ReadSeeker, track *gomp4.Track, sampleRate int) ([]float32, int, int, error) {
	asc, err := getAudioSpecificConfig(rs)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("get AudioSpecificConfig: %w", err)
	}

	dec := aacdecoder.New()
	if err := dec.SetASC(asc); err != nil {
		return nil, 0, 0, fmt.Errorf("set ASC: %w", err)
	}

	if dec.Config.SampleRate > 0 {
		sampleRate = dec.Config.SampleRate
	}

	channels := dec.Config.ChanConfig
	if channels < 1 {
		channels = 1
	}

	samples := buildSampleLocations(track)

	var maxRawSize uint32
	for _, loc := range samples {
		if loc.size > maxRawSize {
			maxRawSize = loc.size
		}
	}
	rawBuf := make([]byte, maxRawSize)

	pcm := make([]float32, 0, len(samples)*1024*channels)

	for _, loc := range samples {
		if _, err := rs.Seek(int64(loc.offset), io.SeekStart); err != nil {
			continue
		}
		raw := rawBuf[:loc.size]
		if _, err := io.ReadFull(rs, raw); err != nil {
			continue
		}
		frame, err := dec.DecodeFrame(raw)
		if err != nil {
			slog.Debug("decoder: skip AAC frame", "error", err)
			continue
		}
		pcm = append(pcm, frame...)
	}

	return pcm, channels, sampleRate, nil
}
