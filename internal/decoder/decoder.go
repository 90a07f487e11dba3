// Package decoder implements C1: opening a compressed audio file, probing
// its container/codec, and materialising it into a seekable, interleaved
// stereo f32 PCM buffer at the file's native sample rate (spec §4.1).
package decoder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opendj/engine/internal/engineerr"
)

// DecodedTrack is a lazily-unnecessary name for what is, in this
// implementation, an eagerly-materialised seekable PCM buffer: interleaved
// stereo f32 samples at the source sample rate, plus frame count. Owned by
// exactly one deck until replaced or cleared (spec §3).
type DecodedTrack struct {
	SampleRate  int
	Channels    int // always 2 after downmix/duplication
	TotalFrames uint64
	// Frames is interleaved [L0,R0,L1,R1,...]; len == TotalFrames*2.
	Frames []float32
}

// FrameAt returns the stereo frame at index i; out-of-range reads return
// silence so callers (the resampler) don't need a separate bounds check
// on every sample.
func (t *DecodedTrack) FrameAt(i uint64) (l, r float32) {
	if i >= t.TotalFrames {
		return 0, 0
	}
	off := i * 2
	return t.Frames[off], t.Frames[off+1]
}

// Len satisfies resampler.FrameSource.
func (t *DecodedTrack) Len() uint64 {
	return t.TotalFrames
}

// codecDecoder is implemented by each format-specific decoder.
type codecDecoder interface {
	// decode reads the whole track and returns interleaved PCM, channel
	// count (the source's own count, before this package's downmix/
	// duplication step), and sample rate.
	decode(path string, data []byte) (pcm []float32, channels, sampleRate int, err error)
}

var registry = map[string]codecDecoder{
	".wav":  wavDecoder{},
	".flac": flacDecoder{},
	".mp3":  mp3Decoder{},
	".mp4":  aacOpusDecoder{},
	".m4a":  aacOpusDecoder{},
	".aac":  aacOpusDecoder{},
}

// Open opens and materialises path into a DecodedTrack. Cancellable: if
// the caller cancels ctx, decode stops at the next natural checkpoint and
// the partial buffer is discarded (spec §4.1/§5).
func Open(ctx context.Context, path string) (*DecodedTrack, *engineerr.Error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.IoFailure, "open "+path, err)
	}
	defer f.Close()

	data, err := readAllCancellable(ctx, f)
	if err != nil {
		if ctx.Err() != nil {
			return nil, engineerr.Wrap(engineerr.IoFailure, "load cancelled", ctx.Err())
		}
		return nil, engineerr.Wrap(engineerr.IoFailure, "read "+path, err)
	}

	dec, ext := lookup(path, data)
	if dec == nil {
		return nil, engineerr.New(engineerr.UnsupportedFormat, fmt.Sprintf("unrecognised format %q", ext))
	}

	pcm, channels, sampleRate, derr := dec.decode(path, data)
	if derr != nil {
		return nil, engineerr.Wrap(engineerr.CorruptStream, "decode "+path, derr)
	}
	if ctx.Err() != nil {
		return nil, engineerr.Wrap(engineerr.IoFailure, "load cancelled", ctx.Err())
	}

	stereo := toStereo(pcm, channels)
	return &DecodedTrack{
		SampleRate:  sampleRate,
		Channels:    2,
		TotalFrames: uint64(len(stereo) / 2),
		Frames:      stereo,
	}, nil
}

// lookup picks a codecDecoder by extension, falling back to magic-byte
// sniffing (teacher's detectAudioCodec box-walk generalized to also cover
// WAV/FLAC/MP3 container magic, spec §4.1 "probes its container").
func lookup(path string, data []byte) (codecDecoder, string) {
	ext := strings.ToLower(filepath.Ext(path))
	if dec, ok := registry[ext]; ok {
		return dec, ext
	}
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return wavDecoder{}, "riff"
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("fLaC")):
		return flacDecoder{}, "flac-magic"
	case len(data) >= 8 && bytes.Contains(data[4:12], []byte("ftyp")):
		return aacOpusDecoder{}, "ftyp"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return mp3Decoder{}, "mpeg-sync"
	}
	return nil, ext
}

// toStereo duplicates mono to stereo or averages >2 channels down to
// stereo, per spec §4.1.
func toStereo(pcm []float32, channels int) []float32 {
	if channels == 2 {
		return pcm
	}
	if channels <= 1 {
		out := make([]float32, len(pcm)*2)
		for i, s := range pcm {
			out[i*2] = s
			out[i*2+1] = s
		}
		return out
	}
	frames := len(pcm) / channels
	out := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		var l, r float32
		half := channels / 2
		for c := 0; c < channels; c++ {
			s := pcm[i*channels+c]
			if c < half || (channels%2 == 1 && c == half) {
				l += s
			}
			if c >= half {
				r += s
			}
		}
		leftN := float32(half)
		if channels%2 == 1 {
			leftN++
		}
		rightN := float32(channels - half)
		if leftN > 0 {
			l /= leftN
		}
		if rightN > 0 {
			r /= rightN
		}
		out[i*2] = l
		out[i*2+1] = r
	}
	return out
}

// readAllCancellable reads f fully, checking ctx between chunks so a
// cancelled load of a large file doesn't block decode indefinitely.
func readAllCancellable(ctx context.Context, f *os.File) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 1<<20)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		n, err := f.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			if err.Error() == "EOF" {
				return buf.Bytes(), nil
			}
			return buf.Bytes(), err
		}
	}
}
