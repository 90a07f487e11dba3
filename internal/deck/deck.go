// Package deck implements C5: the per-deck playback state machine, DSP
// chain, and cue/seek control surface. Control-plane parameters
// (pitchRate, trimDb, fader, eq, cueFrame) are single-writer/single-reader
// atomics, following the lock-free posture the pack's real-time code uses
// for cross-goroutine flags (djbot's atomic.Bool, generalized here to
// bit-packed float32 cells via atomic.Uint32/atomic.Uint64) rather than a
// mutex on the audio hot path.
package deck

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/opendj/engine/internal/biquad"
	"github.com/opendj/engine/internal/decoder"
	"github.com/opendj/engine/internal/engineerr"
	"github.com/opendj/engine/internal/models"
	"github.com/opendj/engine/internal/resampler"
)

// cueUnset marks an absent cue point in the atomic cueFrame cell, since
// atomics can't carry Go's *uint64 "no value" directly.
const cueUnset = math.MaxUint64

// Deck is one of the two playback channels.
type Deck struct {
	id         models.DeckID
	engineRate int

	mu       sync.Mutex // guards status/track/loadToken transitions
	status   models.PlaybackStatus
	filePath string
	track    *decoder.DecodedTrack
	resamp   *resampler.Resampler
	loadErr  *engineerr.Error
	loadTok  uuid.UUID
	eqL      *biquad.ThreeBand // left-channel crossover; independent history from eqR
	eqR      *biquad.ThreeBand // right-channel crossover

	totalFrames atomic.Uint64
	position    atomic.Uint64
	playing     atomic.Bool

	pitchRateBits atomic.Uint32
	trimDbBits    atomic.Uint32
	faderBits     atomic.Uint32
	eqLowBits     atomic.Uint32
	eqMidBits     atomic.Uint32
	eqHighBits    atomic.Uint32
	cueFrame      atomic.Uint64

	syncRole atomic.Uint32 // models.SyncRole encoded as 0/1/2

	bpm          atomic.Uint32 // float32 bits
	firstBeatSec atomic.Uint32

	// cuePreviewActive + cuePreviewReturn track a cuePreview press/hold
	// gesture (spec §4.5).
	cuePreviewActive atomic.Bool
	cuePreviewReturn atomic.Uint64
}

// New constructs an empty deck at the given engine output sample rate.
func New(id models.DeckID, engineRate int) *Deck {
	d := &Deck{id: id, engineRate: engineRate, status: models.StatusEmpty}
	d.pitchRateBits.Store(math.Float32bits(1.0))
	d.faderBits.Store(math.Float32bits(1.0))
	d.cueFrame.Store(cueUnset)
	return d
}

// ID returns the deck's identifier.
func (d *Deck) ID() models.DeckID { return d.id }

// EngineRate returns the deck's configured output sample rate.
func (d *Deck) EngineRate() int { return d.engineRate }

// Load begins loading path, preempting any in-flight load. Transitions to
// Loading immediately; transitions to Ready(Paused) on success or Error
// on failure. Each call takes a fresh load token; when a newer Load has
// started meanwhile, this call's decoded result is discarded and the deck
// is left to the newer load. Load does not cancel the older decode itself:
// that decode stops early only if the caller cancels its ctx.
func (d *Deck) Load(ctx context.Context, path string) *engineerr.Error {
	d.mu.Lock()
	token := uuid.New()
	d.loadTok = token
	d.status = models.StatusLoading
	d.mu.Unlock()

	track, derr := decoder.Open(ctx, path)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loadTok != token {
		// superseded by a newer load; discard this result silently
		return nil
	}
	if derr != nil {
		d.status = models.StatusError
		d.loadErr = derr
		return derr
	}

	d.filePath = path
	d.track = track
	d.resamp = resampler.New(track, track.SampleRate, d.engineRate)
	d.eqL = biquad.NewThreeBand(float64(d.engineRate))
	d.eqR = biquad.NewThreeBand(float64(d.engineRate))
	d.totalFrames.Store(track.TotalFrames)
	d.position.Store(0)
	d.playing.Store(false)
	d.cueFrame.Store(cueUnset)
	d.status = models.StatusReady
	d.loadErr = nil
	return nil
}

// Status returns the deck's current state-machine status.
func (d *Deck) Status() models.PlaybackStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Play transitions Ready→Playing. A no-op from any other state.
func (d *Deck) Play() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == models.StatusReady || d.status == models.StatusPlaying {
		d.status = models.StatusPlaying
		d.playing.Store(true)
	}
}

// Pause transitions Playing→Ready(Paused).
func (d *Deck) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == models.StatusPlaying {
		d.status = models.StatusReady
		d.playing.Store(false)
	}
}

// Seek clamps target to [0, totalFrames], repositions the resampler, and
// resets its filter state plus the EQ chain's history so no pre-seek
// audio leaks past the new position (spec §4.5).
func (d *Deck) Seek(targetFrame uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resamp == nil {
		return
	}
	total := d.totalFrames.Load()
	if targetFrame > total {
		targetFrame = total
	}
	d.resamp.Reset(targetFrame)
	d.eqL.Reset()
	d.eqR.Reset()
	d.position.Store(targetFrame)
}

// PositionFrames returns the deck's current playback position.
func (d *Deck) PositionFrames() uint64 { return d.position.Load() }

// TotalFrames returns the loaded track's total frame count.
func (d *Deck) TotalFrames() uint64 { return d.totalFrames.Load() }

// SetPitchRate sets the continuous tempo/pitch multiplier.
func (d *Deck) SetPitchRate(rate float32) { d.pitchRateBits.Store(math.Float32bits(rate)) }

// PitchRate returns the current tempo/pitch multiplier.
func (d *Deck) PitchRate() float32 { return math.Float32frombits(d.pitchRateBits.Load()) }

// SetTrimDb sets the trim gain in decibels.
func (d *Deck) SetTrimDb(db float32) { d.trimDbBits.Store(math.Float32bits(db)) }

// SetFader sets the channel fader, clamped to [0,1].
func (d *Deck) SetFader(level float32) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	d.faderBits.Store(math.Float32bits(level))
}

// SetEq sets the three-band EQ gains in decibels.
func (d *Deck) SetEq(eq models.EqParams) {
	d.eqLowBits.Store(math.Float32bits(eq.LowDb))
	d.eqMidBits.Store(math.Float32bits(eq.MidDb))
	d.eqHighBits.Store(math.Float32bits(eq.HighDb))
}

// Eq returns the current three-band EQ gains.
func (d *Deck) Eq() models.EqParams {
	return models.EqParams{
		LowDb:  math.Float32frombits(d.eqLowBits.Load()),
		MidDb:  math.Float32frombits(d.eqMidBits.Load()),
		HighDb: math.Float32frombits(d.eqHighBits.Load()),
	}
}

// CueSet marks the current position as the cue point.
func (d *Deck) CueSet() { d.cueFrame.Store(d.position.Load()) }

// SetCueAt marks an explicit frame as the cue point, clamped to the
// track's length, for the `setCuePoint` command's seconds-based form.
func (d *Deck) SetCueAt(frame uint64) {
	if total := d.totalFrames.Load(); frame > total {
		frame = total
	}
	d.cueFrame.Store(frame)
}

// CueFrame returns the current cue point, or ok=false if unset.
func (d *Deck) CueFrame() (frame uint64, ok bool) {
	v := d.cueFrame.Load()
	if v == cueUnset {
		return 0, false
	}
	return v, true
}

// CueGoto seeks to the cue point (if any) and pauses.
func (d *Deck) CueGoto() {
	frame, ok := d.CueFrame()
	if !ok {
		return
	}
	d.Seek(frame)
	d.Pause()
}

// CuePreviewPress begins a press-hold cue preview: if paused at the cue
// point, starts playing and remembers to snap back on release. If already
// playing, it behaves like CueSet instead (spec §4.5).
func (d *Deck) CuePreviewPress() {
	if d.playing.Load() {
		d.CueSet()
		return
	}
	d.cuePreviewReturn.Store(d.position.Load())
	d.cuePreviewActive.Store(true)
	d.Play()
}

// CuePreviewRelease ends a press-hold cue preview, pausing and seeking
// back to where the gesture began.
func (d *Deck) CuePreviewRelease() {
	if !d.cuePreviewActive.CompareAndSwap(true, false) {
		return
	}
	d.Pause()
	d.Seek(d.cuePreviewReturn.Load())
}

// SetSyncRole sets the deck's tempo-lock role.
func (d *Deck) SetSyncRole(role models.SyncRole) { d.syncRole.Store(syncRoleCode(role)) }

// SyncRole returns the deck's tempo-lock role.
func (d *Deck) SyncRole() models.SyncRole { return syncRoleFromCode(d.syncRole.Load()) }

func syncRoleCode(r models.SyncRole) uint32 {
	switch r {
	case models.SyncMaster:
		return 1
	case models.SyncSlave:
		return 2
	default:
		return 0
	}
}

func syncRoleFromCode(c uint32) models.SyncRole {
	switch c {
	case 1:
		return models.SyncMaster
	case 2:
		return models.SyncSlave
	default:
		return models.SyncOff
	}
}

// SetBeatgrid publishes the analysed bpm/firstBeatSec for beat-grid
// reconstruction by the sync controller and bus.
func (d *Deck) SetBeatgrid(bpm, firstBeatSec float32) {
	d.bpm.Store(math.Float32bits(bpm))
	d.firstBeatSec.Store(math.Float32bits(firstBeatSec))
}

// Beatgrid returns the analysed bpm and firstBeatSec.
func (d *Deck) Beatgrid() (bpm, firstBeatSec float32) {
	return math.Float32frombits(d.bpm.Load()), math.Float32frombits(d.firstBeatSec.Load())
}

// EffectiveBpm is bpm × pitchRate, the tempo the deck is actually
// producing sound at.
func (d *Deck) EffectiveBpm() float32 {
	bpm, _ := d.Beatgrid()
	return bpm * d.PitchRate()
}

// State snapshots the deck's full observable state for the bus (spec §3).
func (d *Deck) State() models.DeckState {
	d.mu.Lock()
	status := d.status
	filePath := d.filePath
	d.mu.Unlock()

	var cueFramePtr *uint64
	if f, ok := d.CueFrame(); ok {
		cueFramePtr = &f
	}
	bpm, firstBeat := d.Beatgrid()

	return models.DeckState{
		DeckID:         d.id,
		FilePath:       filePath,
		Status:         status,
		PositionFrames: d.position.Load(),
		TotalFrames:    d.totalFrames.Load(),
		IsPlaying:      d.playing.Load(),
		CueFrame:       cueFramePtr,
		PitchRate:      d.PitchRate(),
		TrimDb:         math.Float32frombits(d.trimDbBits.Load()),
		Fader:          math.Float32frombits(d.faderBits.Load()),
		Eq:             d.Eq(),
		SyncRole:       d.SyncRole(),
		Bpm:            bpm,
		FirstBeatSec:   firstBeat,
	}
}

// Produce fills dst (interleaved stereo) with the next len(dst)/2 frames,
// implementing the sample production contract of spec §4.5: silence when
// not Playing, otherwise pulled-resampled-and-DSP'd audio, transitioning
// to Ready(Paused) at end-of-stream.
func (d *Deck) Produce(dst []float32) {
	if !d.playing.Load() {
		for i := range dst {
			dst[i] = 0
		}
		return
	}

	n, eof := d.resamp.Read(dst, d.PitchRate())
	for i := n * 2; i < len(dst); i++ {
		dst[i] = 0
	}

	trim := db2lin(math.Float32frombits(d.trimDbBits.Load()))
	fader := math.Float32frombits(d.faderBits.Load())
	lowG := db2lin(math.Float32frombits(d.eqLowBits.Load()))
	midG := db2lin(math.Float32frombits(d.eqMidBits.Load()))
	highG := db2lin(math.Float32frombits(d.eqHighBits.Load()))

	for i := 0; i < n; i++ {
		li, ri := i*2, i*2+1

		low, mid, high := d.eqL.Split(float64(dst[li]))
		eqOut := low*float64(lowG) + mid*float64(midG) + high*float64(highG)
		dst[li] = clamp(float32(eqOut) * trim * fader)

		low, mid, high = d.eqR.Split(float64(dst[ri]))
		eqOut = low*float64(lowG) + mid*float64(midG) + high*float64(highG)
		dst[ri] = clamp(float32(eqOut) * trim * fader)
	}

	d.position.Store(d.resamp.Position())

	if eof {
		d.mu.Lock()
		d.status = models.StatusReady
		d.mu.Unlock()
		d.playing.Store(false)
	}
}

func db2lin(db float32) float32 { return biquad.DbToLinear(db) }

func clamp(x float32) float32 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}
