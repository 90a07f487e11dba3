package decoder

import (
	"fmt"
	"io"
	"log/slog"

	gomp4 "github.com/abema/go-mp4"
	concentus "github.com/lostromb/concentus/go/opus"
)

// decodeOpus decodes the whole track via Concentus (pure-Go SILK+CELT) and
// returns interleaved stereo PCM — generalized from the BPM probe's
// 30-second-capped mono downmix to a full-track stereo decode.
func decodeOpus(rs io.ReadSeeker, track *gomp4.Track, sampleRate int) ([]float32, int, int, error) {
	decoderRate := sampleRate
	switch decoderRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		decoderRate = 48000
	}

	const channels = 2
	dec, err := concentus.NewOpusDecoder(decoderRate, channels)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create opus decoder: %w", err)
	}

	samples := buildSampleLocations(track)

	var maxRawSize uint32
	for _, loc := range samples {
		if loc.size > maxRawSize {
			maxRawSize = loc.size
		}
	}
	rawBuf := make([]byte, maxRawSize)

	// Max Opus frame: 120 ms at 48 kHz = 5760 samples per channel.
	pcm16 := make([]int16, 5760*channels)
	pcm := make([]float32, 0, len(samples)*960*channels)

	skipErrors := 0

	for _, loc := range samples {
		if loc.size <= 3 {
			// Tiny packets are Opus padding/silence frames; skip.
			continue
		}
		if _, err := rs.Seek(int64(loc.offset), io.SeekStart); err != nil {
			continue
		}
		raw := rawBuf[:loc.size]
		if _, err := io.ReadFull(rs, raw); err != nil {
			continue
		}

		nSamples, err := dec.Decode(raw, 0, len(raw), pcm16, 0, 5760, false)
		if err != nil {
			skipErrors++
			continue
		}

		for i := 0; i < nSamples*channels; i++ {
			pcm = append(pcm, float32(pcm16[i])/32768.0)
		}
	}

	if skipErrors > 0 {
		slog.Debug("decoder: skipped undecoded Opus frames", "count", skipErrors, "total", len(samples))
	}

	return pcm, channels, decoderRate, nil
}
