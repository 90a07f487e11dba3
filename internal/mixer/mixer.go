// Package mixer implements C7: the real-time mix-and-route callback
// that sums both decks into the primary output buffer through a linear
// crossfader law and optionally mirrors one deck, pre-crossfader, to a
// cue buffer.
//
// No teacher file mixes audio (the teacher syncs video, not sound), so
// this is grounded directly on spec §4.7's explicit linear-law formula
// and on the pack's general rule that the real-time hot path never locks
// (see internal/deck's atomic parameter cells) — state the control thread
// writes (crossfader, cue selection) is read through atomics only.
package mixer

import (
	"math"
	"sync/atomic"

	"github.com/opendj/engine/internal/models"
)

// Decks is the minimal surface the mixer needs from each deck, satisfied
// by *deck.Deck without creating an import cycle.
type Decks interface {
	Produce(dst []float32)
}

// Mixer sums deck A and deck B into a primary buffer using a linear
// crossfader law, and optionally mirrors one deck's raw post-DSP output
// to a cue buffer.
type Mixer struct {
	deckA, deckB Decks

	crossfaderBits atomic.Uint32 // x in [0,1]
	cueDeck        atomic.Uint32 // 0 = none, 1 = A, 2 = B
}

// New builds a mixer over the two decks, in A/B order.
func New(deckA, deckB Decks) *Mixer {
	m := &Mixer{deckA: deckA, deckB: deckB}
	return m
}

// SetCrossfader sets the crossfader position x ∈ [0,1], clamped.
func (m *Mixer) SetCrossfader(x float32) {
	if x < 0 {
		x = 0
	}
	if x > 1 {
		x = 1
	}
	m.crossfaderBits.Store(math.Float32bits(x))
}

// Crossfader returns the current crossfader position.
func (m *Mixer) Crossfader() float32 {
	return math.Float32frombits(m.crossfaderBits.Load())
}

// SetCueDeck selects which deck (if any) is mirrored to the cue buffer.
// A nil id tears down cue monitoring.
func (m *Mixer) SetCueDeck(id *models.DeckID) {
	if id == nil {
		m.cueDeck.Store(0)
		return
	}
	switch *id {
	case models.DeckA:
		m.cueDeck.Store(1)
	case models.DeckB:
		m.cueDeck.Store(2)
	}
}

// CueDeck returns the currently selected cue deck, if any.
func (m *Mixer) CueDeck() *models.DeckID {
	switch m.cueDeck.Load() {
	case 1:
		a := models.DeckA
		return &a
	case 2:
		b := models.DeckB
		return &b
	default:
		return nil
	}
}

// Callback fills primary (interleaved stereo, the device output buffer)
// and cue (same layout; silence if no cue deck is selected) for one
// block. Allocates nothing: bufA/bufB are caller-owned scratch buffers
// sized like primary, reused across calls so the real-time path never
// allocates.
func (m *Mixer) Callback(primary, cue, bufA, bufB []float32) {
	m.deckA.Produce(bufA)
	m.deckB.Produce(bufB)

	x := m.Crossfader()
	gainA := 1 - x
	gainB := x

	for i := range primary {
		primary[i] = clamp(bufA[i]*gainA + bufB[i]*gainB)
	}

	switch m.cueDeck.Load() {
	case 1:
		copy(cue, bufA)
	case 2:
		copy(cue, bufB)
	default:
		for i := range cue {
			cue[i] = 0
		}
	}
}

func clamp(x float32) float32 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}
