package decoder

import (
	"bytes"
	"fmt"
	"io"

	gomp4 "github.com/abema/go-mp4"
)

// aacOpusDecoder handles the MP4/M4A/AAC container family: walk the box
// tree, detect whether the audio sample description is AAC (mp4a) or Opus,
// then decode the whole track (no duration cap — this is playback
// materialisation, not a 30-second BPM probe).
type aacOpusDecoder struct{}

func (aacOpusDecoder) decode(path string, data []byte) ([]float32, int, int, error) {
	rs := bytes.NewReader(data)

	info, err := gomp4.Probe(rs)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("mp4 probe: %w", err)
	}

	codec := detectAudioCodec(rs)

	track, err := findAudioTrack(info, codec)
	if err != nil {
		return nil, 0, 0, err
	}

	sampleRate := int(track.Timescale)

	switch codec {
	case codecAAC:
		return decodeAAC(rs, track, sampleRate)
	case codecOpus:
		return decodeOpus(rs, track, sampleRate)
	default:
		return nil, 0, 0, fmt.Errorf("unsupported audio codec in mp4 container")
	}
}

// audioCodec identifies the audio coding format inside the MP4.
type audioCodec int

const (
	codecUnknown audioCodec = iota
	codecAAC
	codecOpus
)

// detectAudioCodec walks the MP4 box tree to see whether the audio sample
// description uses mp4a (AAC) or Opus. go-mp4's Probe only tags mp4a as
// CodecMP4A and leaves Opus/AC-3/etc. as CodecUnknown, so the stsd children
// are inspected directly.
func detectAudioCodec(rs io.ReadSeeker) audioCodec {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return codecUnknown
	}

	codec := codecUnknown
	_, _ = gomp4.ReadBoxStructure(rs, func(h *gomp4.ReadHandle) (interface{}, error) {
		if codec != codecUnknown {
			return nil, nil
		}
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeMp4a():
			codec = codecAAC
			return nil, nil
		case gomp4.BoxTypeOpus():
			codec = codecOpus
			return nil, nil
		case gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(),
			gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd():
			_, _ = h.Expand()
		}
		return nil, nil
	})
	return codec
}

// findAudioTrack picks the best audio track from the probe results.
func findAudioTrack(info *gomp4.ProbeInfo, codec audioCodec) (*gomp4.Track, error) {
	if codec == codecAAC {
		for _, t := range info.Tracks {
			if t.Codec == gomp4.CodecMP4A {
				return t, nil
			}
		}
	}

	for _, t := range info.Tracks {
		if t.Codec == gomp4.CodecAVC1 {
			continue
		}
		if len(t.Samples) == 0 || len(t.Chunks) == 0 {
			continue
		}
		if isAudioTimescale(t.Timescale) {
			return t, nil
		}
	}

	trackInfo := make([]string, 0, len(info.Tracks))
	for _, t := range info.Tracks {
		trackInfo = append(trackInfo, fmt.Sprintf("id=%d codec=%d ts=%d samples=%d",
			t.TrackID, t.Codec, t.Timescale, len(t.Samples)))
	}
	return nil, fmt.Errorf("no audio track found (%d tracks: %v)", len(info.Tracks), trackInfo)
}

// isAudioTimescale returns true if the timescale matches a standard audio
// sample rate (8 kHz – 96 kHz).
func isAudioTimescale(ts uint32) bool {
	switch ts {
	case 8000, 11025, 16000, 22050, 32000, 44100, 48000, 88200, 96000:
		return true
	}
	return false
}

// getAudioSpecificConfig searches the MP4 for an esds descriptor containing
// the AudioSpecificConfig bytes needed by the AAC decoder.
func getAudioSpecificConfig(rs io.ReadSeeker) ([]byte, error) {
	paths := []gomp4.BoxPath{
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeMp4a(), gomp4.BoxTypeEsds()},
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeMp4a(), gomp4.BoxTypeWave(), gomp4.BoxTypeEsds()},
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeEnca(), gomp4.BoxTypeEsds()},
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	bips, err := gomp4.ExtractBoxesWithPayload(rs, nil, paths)
	if err != nil {
		return nil, fmt.Errorf("extract esds: %w", err)
	}

	for _, bip := range bips {
		if bip.Info.Type != gomp4.BoxTypeEsds() {
			continue
		}
		esds, ok := bip.Payload.(*gomp4.Esds)
		if !ok {
			continue
		}
		for _, desc := range esds.Descriptors {
			if desc.Tag == gomp4.DecSpecificInfoTag && len(desc.Data) >= 2 {
				return desc.Data, nil
			}
		}
	}

	return nil, fmt.Errorf("AudioSpecificConfig not found in esds")
}

// sampleLoc describes a single audio sample's position in the file.
type sampleLoc struct {
	offset uint64
	size   uint32
}

// buildSampleLocations creates a flat list of (file-offset, size) for every
// audio sample in the track. Unlike the BPM-probe original this has no
// limit parameter — playback needs the whole track.
func buildSampleLocations(track *gomp4.Track) []sampleLoc {
	result := make([]sampleLoc, 0, len(track.Samples))
	sampleIdx := 0

	for _, chunk := range track.Chunks {
		off := chunk.DataOffset
		for j := uint32(0); j < chunk.SamplesPerChunk; j++ {
			if sampleIdx >= len(track.Samples) {
				return result
			}
			sz := track.Samples[sampleIdx].Size
			result = append(result, sampleLoc{offset: off, size: sz})
			off += uint64(sz)
			sampleIdx++
		}
	}

	return result
}
