// Package engine implements C10: the orchestrator that owns both decks,
// the mixer, the device manager, the analysis pool, and the cache, and
// wires them to the command/event bus. Lifecycle (init/run/shutdown) is
// grounded on the teacher's main.go: build components, start serving,
// and on shutdown stop streams, let queued analyses finish, and release
// resources in dependency order.
package engine

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opendj/engine/internal/analysis"
	"github.com/opendj/engine/internal/bus"
	"github.com/opendj/engine/internal/deck"
	"github.com/opendj/engine/internal/device"
	"github.com/opendj/engine/internal/mixer"
	"github.com/opendj/engine/internal/models"
	syncctl "github.com/opendj/engine/internal/sync"
)

// cueFrame is one published block of pre-crossfader cue-tap samples,
// handed from the primary callback to the cue callback without a lock.
type cueFrame struct {
	buf []float32
	n   int
}

// positionBroadcastInterval caps playback.update position events at
// 60Hz per deck, per spec §4.9.
const positionBroadcastInterval = time.Second / 60

// Config controls the engine's audio parameters, set once at startup.
type Config struct {
	EngineRate      int
	FramesPerBuffer int
	PrimaryDevice   string
	CueDevice       string
}

// Engine is the fully wired runtime: two decks, a mixer, a device
// manager, an analysis pool, and the command/event bus that fronts them.
type Engine struct {
	cfg Config

	DeckA *deck.Deck
	DeckB *deck.Deck
	Mixer *mixer.Mixer
	Sync  *syncctl.Controller

	devices *device.Manager
	pool    *analysis.Pool
	hub     *bus.Hub
	Bus     *bus.Dispatcher

	scratchA []float32
	scratchB []float32
	scratchC []float32

	// cueSlots/cueNext/cuePub hand the most recent pre-crossfader cue tap
	// from the primary callback to the cue callback without a lock. The
	// cue stream is a separate OS-driven callback (possibly a different
	// device, buffer size, or block cadence) that must never pull samples
	// from the decks itself — doing so would advance playback position
	// twice per logical frame. It instead mirrors the last block the
	// primary callback published. primaryCallback is the sole writer: it
	// alternates between the two pre-allocated slots and atomically
	// publishes a pointer to the one it just filled, so cueCallback's read
	// and primaryCallback's next write never touch the same slot at once.
	cueSlots [2]cueFrame
	cueNext  int
	cuePub   atomic.Pointer[cueFrame]
}

// New constructs an Engine and starts the bus's event loop, but does not
// start any audio stream; call Run to open the primary device.
func New(cfg Config) (*Engine, error) {
	deckA := deck.New(models.DeckA, cfg.EngineRate)
	deckB := deck.New(models.DeckB, cfg.EngineRate)
	mx := mixer.New(deckA, deckB)
	sc := syncctl.New(deckA, deckB)
	pool := analysis.NewPool()
	hub := bus.NewHub()

	e := &Engine{
		cfg:   cfg,
		DeckA: deckA,
		DeckB: deckB,
		Mixer: mx,
		Sync:  sc,
		pool:  pool,
		hub:   hub,

		scratchA: make([]float32, cfg.FramesPerBuffer*2),
		scratchB: make([]float32, cfg.FramesPerBuffer*2),
		scratchC: make([]float32, cfg.FramesPerBuffer*2),
	}
	e.cueSlots[0].buf = make([]float32, cfg.FramesPerBuffer*2)
	e.cueSlots[1].buf = make([]float32, cfg.FramesPerBuffer*2)
	e.cuePub.Store(&e.cueSlots[0])

	devices, err := device.New(func(streamName string) {
		slog.Warn("engine: audio device lost", "stream", streamName)
		hub.Publish(bus.Event{Type: "device.changed", Data: map[string]any{"lost": streamName}})
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	e.devices = devices

	e.Bus = bus.New(bus.Deps{
		Decks:           map[models.DeckID]*deck.Deck{models.DeckA: deckA, models.DeckB: deckB},
		Mixer:           mx,
		Sync:            sc,
		Devices:         devices,
		Pool:            pool,
		Hub:             hub,
		SampleRate:      cfg.EngineRate,
		FramesPerBuffer: cfg.FramesPerBuffer,
		PrimaryCallback: e.primaryCallback,
		CueCallback:     e.cueCallback,
	})
	go e.Bus.Run()

	return e, nil
}

// Run opens the primary output device (and the cue device, if configured)
// and starts the ≤60Hz position broadcaster.
func (e *Engine) Run() error {
	if err := e.devices.StartPrimary(e.cfg.PrimaryDevice, e.cfg.EngineRate, e.cfg.FramesPerBuffer, e.primaryCallback); err != nil {
		return err
	}
	if e.cfg.CueDevice != "" {
		if err := e.devices.SetCueOutputDevice(e.cfg.CueDevice, e.cfg.EngineRate, e.cfg.FramesPerBuffer, e.cueCallback); err != nil {
			slog.Warn("engine: cue device unavailable at startup", "error", err)
		}
	}
	e.Bus.StartPositionBroadcaster(positionBroadcastInterval)
	return nil
}

// primaryCallback is the only caller that ever pulls samples from the
// decks: it mixes both into out and publishes the pre-crossfader cue tap
// for the (independently clocked) cue stream to pick up. It does not
// allocate (beyond the rare case the buffer size changes), and the cue
// hand-off takes no lock: it writes into whichever of the two pre-allocated
// slots it isn't currently published, then atomically swaps the published
// pointer to it. The one lock on this path is the deck's own mutex, which
// Deck.Produce takes when a deck reaches end of stream to set its status.
func (e *Engine) primaryCallback(out []float32) {
	cue := e.scratchC[:len(out)]
	e.Mixer.Callback(out, cue, e.scratchA[:len(out)], e.scratchB[:len(out)])

	slot := &e.cueSlots[e.cueNext]
	if cap(slot.buf) < len(cue) {
		slot.buf = make([]float32, len(cue))
	}
	slot.buf = slot.buf[:len(cue)]
	copy(slot.buf, cue)
	slot.n = len(cue)
	e.cuePub.Store(slot)
	e.cueNext = 1 - e.cueNext
}

// cueCallback mirrors the most recently published cue tap, zero-filling
// if none is available yet or sizes disagree. Reads the published pointer
// with a single atomic load — no lock, no allocation.
func (e *Engine) cueCallback(out []float32) {
	var n int
	if slot := e.cuePub.Load(); slot != nil {
		n = copy(out, slot.buf[:slot.n])
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

// Shutdown stops all streams, releases device handles, and closes the
// analysis pool, mirroring the teacher's watchCancel→hub.Close→
// srv.Shutdown ordering, generalized to the engine's own components.
// Pending analyses are not cancelled: Pool.Close waits for every queued
// job to finish before Shutdown returns.
func (e *Engine) Shutdown() {
	e.Bus.StopPositionBroadcaster()
	e.devices.Close()
	e.pool.Close()
	e.hub.Close()
}
