package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/opendj/engine/internal/analysis"
	"github.com/opendj/engine/internal/cache"
	"github.com/opendj/engine/internal/deck"
	"github.com/opendj/engine/internal/device"
	"github.com/opendj/engine/internal/engineerr"
	"github.com/opendj/engine/internal/mixer"
	"github.com/opendj/engine/internal/models"
	syncctl "github.com/opendj/engine/internal/sync"
)

// commandEnvelope is the wire shape of every inbound command (spec §6):
// a name, an optional deck target, and a command-specific payload.
type commandEnvelope struct {
	Command string          `json:"command"`
	DeckID  string          `json:"deckId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type commandResponse struct {
	OK    bool          `json:"ok"`
	Data  any           `json:"data,omitempty"`
	Error *errorPayload `json:"error,omitempty"`
}

// Dispatcher is the orchestrator's HTTP-command-in/SSE-event-out front
// door, grounded on the teacher's Handlers: decode JSON body, validate,
// call into the domain, broadcast the resulting event, reply. Regrounded
// to spec §6's command/event set instead of VDJ deck state.
type Dispatcher struct {
	*Hub

	decks    map[models.DeckID]*deck.Deck
	mixer    *mixer.Mixer
	syncCtrl *syncctl.Controller
	devices  *device.Manager
	pool     *analysis.Pool

	sampleRate      int
	framesPerBuffer int
	primaryCallback device.Callback
	cueCallback     device.Callback

	cacheMu sync.Mutex
	cache   *cache.Cache

	lastMu    sync.Mutex
	lastState map[models.DeckID]models.DeckState

	stopPosition chan struct{}
}

// Deps bundles the components a Dispatcher routes commands to.
type Deps struct {
	Decks           map[models.DeckID]*deck.Deck
	Mixer           *mixer.Mixer
	Sync            *syncctl.Controller
	Devices         *device.Manager
	Pool            *analysis.Pool
	Hub             *Hub
	SampleRate      int
	FramesPerBuffer int
	PrimaryCallback device.Callback
	CueCallback     device.Callback
}

// New builds a Dispatcher over the given components.
func New(d Deps) *Dispatcher {
	return &Dispatcher{
		Hub:             d.Hub,
		decks:           d.Decks,
		mixer:           d.Mixer,
		syncCtrl:        d.Sync,
		devices:         d.Devices,
		pool:            d.Pool,
		sampleRate:      d.SampleRate,
		framesPerBuffer: d.FramesPerBuffer,
		primaryCallback: d.PrimaryCallback,
		cueCallback:     d.CueCallback,
		lastState:       make(map[models.DeckID]models.DeckState),
		stopPosition:    make(chan struct{}),
	}
}

// RegisterRoutes wires the command and SSE endpoints onto mux.
func (d *Dispatcher) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/command", d.HandleCommand)
	mux.HandleFunc("GET /events", d.HandleSSE)
}

// HandleCommand decodes one command envelope, dispatches it, and replies
// with the result as JSON. loadTrack replies as soon as the load is
// accepted and signals completion via a playback.update or playback.error
// event; every other command, including the analysis, cache and device
// commands, completes before the reply is written.
func (d *Dispatcher) HandleCommand(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var env commandEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	data, cmdErr := d.dispatch(r.Context(), env)
	resp := commandResponse{OK: cmdErr == nil, Data: data}
	if cmdErr != nil {
		resp.Error = &errorPayload{Kind: string(cmdErr.Kind), Message: cmdErr.Message}
		slog.Warn("bus: command failed", "command", env.Command, "deckId", env.DeckID, "kind", cmdErr.Kind, "message", cmdErr.Message)
	}

	w.Header().Set("Content-Type", "application/json")
	if cmdErr != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (d *Dispatcher) dispatch(ctx context.Context, env commandEnvelope) (any, *engineerr.Error) {
	switch env.Command {
	case "initPlayer":
		return d.initPlayer(env.DeckID)
	case "loadTrack":
		return d.loadTrack(env.DeckID, env.Payload)
	case "playTrack":
		return d.playTrack(env.DeckID)
	case "pauseTrack":
		return d.pauseTrack(env.DeckID)
	case "seekTrack":
		return d.seekTrack(env.DeckID, env.Payload)
	case "setCuePoint":
		return d.setCuePoint(env.DeckID, env.Payload)
	case "setFaderLevel":
		return d.setFaderLevel(env.DeckID, env.Payload)
	case "setTrimGain":
		return d.setTrimGain(env.DeckID, env.Payload)
	case "setEqParams":
		return d.setEqParams(env.DeckID, env.Payload)
	case "setPitchRate":
		return d.setPitchRate(env.DeckID, env.Payload)
	case "enableSync":
		return d.enableSync(env.DeckID)
	case "disableSync":
		return d.disableSync(env.DeckID)
	case "setCrossfader":
		return d.setCrossfader(env.Payload)
	case "setCueDeck":
		return d.setCueDeck(env.DeckID)
	case "getAudioDevices":
		return d.getAudioDevices()
	case "setCueOutputDevice":
		return d.setCueOutputDevice(env.Payload)
	case "refreshAudioDevices":
		return d.refreshAudioDevices()
	case "analyzeFeaturesBatchWithCache":
		return d.analyzeFeaturesBatchWithCache(env.Payload)
	case "ensureCacheDirectory":
		return d.ensureCacheDirectory(env.Payload)
	case "getCacheStats":
		return d.getCacheStats()
	case "cleanupCache":
		return d.cleanupCache(env.Payload)
	case "rebuildCacheIndex":
		return d.rebuildCacheIndex()
	case "clearCache":
		return d.clearCache()
	case "getTrackVolumeAnalysis":
		return d.getTrackVolumeAnalysis(env.Payload)
	default:
		return nil, engineerr.New(engineerr.InvalidParameter, fmt.Sprintf("unknown command %q", env.Command))
	}
}

// ── deck lookup & helpers ──────────────────────────────────────

func (d *Dispatcher) deck(deckID string) (*deck.Deck, *engineerr.Error) {
	dk, ok := d.decks[models.DeckID(deckID)]
	if !ok {
		return nil, engineerr.New(engineerr.InvalidParameter, fmt.Sprintf("unknown deck %q", deckID))
	}
	return dk, nil
}

func decodePayload[T any](raw json.RawMessage) (T, *engineerr.Error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, engineerr.Wrap(engineerr.InvalidParameter, "invalid payload", err)
	}
	return v, nil
}

// publishDeckUpdate broadcasts the deck's current state immediately, for
// every command that changes it synchronously (spec §4.9).
func (d *Dispatcher) publishDeckUpdate(dk *deck.Deck) {
	state := dk.State()
	d.lastMu.Lock()
	d.lastState[dk.ID()] = state
	d.lastMu.Unlock()
	d.Publish(Event{Type: "playback.update", Data: map[string]any{"deckId": dk.ID(), "state": state}})
}

func (d *Dispatcher) publishDeckError(id models.DeckID, err *engineerr.Error) {
	d.Publish(Event{Type: "playback.error", Data: map[string]any{"deckId": id, "message": err.Error()}})
}

// ── deck commands ──────────────────────────────────────────────

func (d *Dispatcher) initPlayer(deckID string) (any, *engineerr.Error) {
	dk, err := d.deck(deckID)
	if err != nil {
		return nil, err
	}
	return dk.State(), nil
}

func (d *Dispatcher) loadTrack(deckID string, raw json.RawMessage) (any, *engineerr.Error) {
	dk, err := d.deck(deckID)
	if err != nil {
		return nil, err
	}
	payload, err := decodePayload[struct {
		Path string `json:"path"`
	}](raw)
	if err != nil {
		return nil, err
	}
	if payload.Path == "" {
		return nil, engineerr.New(engineerr.InvalidParameter, "path is required")
	}

	go func() {
		if loadErr := dk.Load(context.Background(), payload.Path); loadErr != nil {
			d.publishDeckError(dk.ID(), loadErr)
			return
		}
		d.publishDeckUpdate(dk)
	}()

	return map[string]bool{"accepted": true}, nil
}

func (d *Dispatcher) playTrack(deckID string) (any, *engineerr.Error) {
	dk, err := d.deck(deckID)
	if err != nil {
		return nil, err
	}
	dk.Play()
	d.publishDeckUpdate(dk)
	return dk.State(), nil
}

func (d *Dispatcher) pauseTrack(deckID string) (any, *engineerr.Error) {
	dk, err := d.deck(deckID)
	if err != nil {
		return nil, err
	}
	dk.Pause()
	d.publishDeckUpdate(dk)
	return dk.State(), nil
}

func (d *Dispatcher) seekTrack(deckID string, raw json.RawMessage) (any, *engineerr.Error) {
	dk, err := d.deck(deckID)
	if err != nil {
		return nil, err
	}
	payload, err := decodePayload[struct {
		PositionSeconds float64 `json:"positionSeconds"`
	}](raw)
	if err != nil {
		return nil, err
	}
	dk.Seek(secondsToFrame(payload.PositionSeconds, dk))
	d.publishDeckUpdate(dk)
	return dk.State(), nil
}

func (d *Dispatcher) setCuePoint(deckID string, raw json.RawMessage) (any, *engineerr.Error) {
	dk, err := d.deck(deckID)
	if err != nil {
		return nil, err
	}
	payload, err := decodePayload[struct {
		Seconds float64 `json:"seconds"`
	}](raw)
	if err != nil {
		return nil, err
	}
	dk.SetCueAt(secondsToFrame(payload.Seconds, dk))
	d.publishDeckUpdate(dk)
	return dk.State(), nil
}

func (d *Dispatcher) setFaderLevel(deckID string, raw json.RawMessage) (any, *engineerr.Error) {
	dk, err := d.deck(deckID)
	if err != nil {
		return nil, err
	}
	payload, err := decodePayload[struct {
		Level float32 `json:"level"`
	}](raw)
	if err != nil {
		return nil, err
	}
	dk.SetFader(payload.Level)
	d.publishDeckUpdate(dk)
	return dk.State(), nil
}

func (d *Dispatcher) setTrimGain(deckID string, raw json.RawMessage) (any, *engineerr.Error) {
	dk, err := d.deck(deckID)
	if err != nil {
		return nil, err
	}
	payload, err := decodePayload[struct {
		GainDb float32 `json:"gainDb"`
	}](raw)
	if err != nil {
		return nil, err
	}
	if payload.GainDb < -12 || payload.GainDb > 12 {
		return nil, engineerr.New(engineerr.InvalidParameter, "gainDb out of range [-12,12]")
	}
	dk.SetTrimDb(payload.GainDb)
	d.publishDeckUpdate(dk)
	return dk.State(), nil
}

func (d *Dispatcher) setEqParams(deckID string, raw json.RawMessage) (any, *engineerr.Error) {
	dk, err := d.deck(deckID)
	if err != nil {
		return nil, err
	}
	eq, err := decodePayload[models.EqParams](raw)
	if err != nil {
		return nil, err
	}
	for _, g := range []float32{eq.LowDb, eq.MidDb, eq.HighDb} {
		if g < -26 || g > 6 {
			return nil, engineerr.New(engineerr.InvalidParameter, "eq gain out of range [-26,6]")
		}
	}
	dk.SetEq(eq)
	d.publishDeckUpdate(dk)
	return dk.State(), nil
}

func (d *Dispatcher) setPitchRate(deckID string, raw json.RawMessage) (any, *engineerr.Error) {
	dk, err := d.deck(deckID)
	if err != nil {
		return nil, err
	}
	if dk.SyncRole() == models.SyncSlave {
		return nil, engineerr.New(engineerr.InvalidParameter, "deck is sync slave; pitch is tempo-locked")
	}
	payload, err := decodePayload[struct {
		Rate float32 `json:"rate"`
	}](raw)
	if err != nil {
		return nil, err
	}
	if payload.Rate < 0.75 || payload.Rate > 1.25 {
		return nil, engineerr.New(engineerr.InvalidParameter, "rate out of range [0.75,1.25]")
	}
	dk.SetPitchRate(payload.Rate)
	d.syncCtrl.Tick()
	d.publishDeckUpdate(dk)
	return dk.State(), nil
}

func (d *Dispatcher) enableSync(deckID string) (any, *engineerr.Error) {
	dk, err := d.deck(deckID)
	if err != nil {
		return nil, err
	}
	d.syncCtrl.Enable(dk.ID())
	for _, other := range d.decks {
		d.publishDeckUpdate(other)
	}
	return dk.State(), nil
}

func (d *Dispatcher) disableSync(deckID string) (any, *engineerr.Error) {
	dk, err := d.deck(deckID)
	if err != nil {
		return nil, err
	}
	d.syncCtrl.Disable(dk.ID())
	for _, other := range d.decks {
		d.publishDeckUpdate(other)
	}
	return dk.State(), nil
}

func secondsToFrame(seconds float64, dk *deck.Deck) uint64 {
	if seconds < 0 {
		seconds = 0
	}
	return uint64(seconds * float64(dk.EngineRate()))
}

// ── mixer commands ──────────────────────────────────────────────

func (d *Dispatcher) setCrossfader(raw json.RawMessage) (any, *engineerr.Error) {
	payload, err := decodePayload[struct {
		Value float32 `json:"value"`
	}](raw)
	if err != nil {
		return nil, err
	}
	d.mixer.SetCrossfader(payload.Value)
	d.Publish(Event{Type: "device.changed", Data: map[string]any{"crossfader": d.mixer.Crossfader()}})
	return map[string]float32{"crossfader": d.mixer.Crossfader()}, nil
}

func (d *Dispatcher) setCueDeck(deckID string) (any, *engineerr.Error) {
	if deckID == "" {
		d.mixer.SetCueDeck(nil)
		return map[string]any{"cueDeck": nil}, nil
	}
	dk, err := d.deck(deckID)
	if err != nil {
		return nil, err
	}
	id := dk.ID()
	d.mixer.SetCueDeck(&id)
	return map[string]any{"cueDeck": id}, nil
}

// ── device commands ──────────────────────────────────────────────

func (d *Dispatcher) getAudioDevices() (any, *engineerr.Error) {
	devices, sel, err := d.devices.ListDevices()
	if err != nil {
		return nil, err.(*engineerr.Error)
	}
	return map[string]any{"devices": devices, "selection": sel}, nil
}

func (d *Dispatcher) setCueOutputDevice(raw json.RawMessage) (any, *engineerr.Error) {
	payload, err := decodePayload[struct {
		Name string `json:"name"`
	}](raw)
	if err != nil {
		return nil, err
	}
	if setErr := d.devices.SetCueOutputDevice(payload.Name, d.sampleRate, d.framesPerBuffer, d.cueCallback); setErr != nil {
		ee := setErr.(*engineerr.Error)
		return nil, ee
	}
	d.Publish(Event{Type: "device.changed", Data: map[string]any{"cueOutput": payload.Name}})
	return map[string]string{"cueOutput": payload.Name}, nil
}

func (d *Dispatcher) refreshAudioDevices() (any, *engineerr.Error) {
	if err := d.devices.Refresh(); err != nil {
		ee := err.(*engineerr.Error)
		return nil, ee
	}
	devices, sel, err := d.devices.ListDevices()
	if err != nil {
		return nil, err.(*engineerr.Error)
	}
	d.Publish(Event{Type: "device.changed", Data: map[string]any{"devices": devices, "selection": sel}})
	return map[string]any{"devices": devices, "selection": sel}, nil
}

// ── cache commands ──────────────────────────────────────────────

func (d *Dispatcher) ensureCacheDirectory(raw json.RawMessage) (any, *engineerr.Error) {
	payload, err := decodePayload[struct {
		Root string `json:"root"`
	}](raw)
	if err != nil {
		return nil, err
	}
	dir, cerr := d.EnsureCacheDirectory(payload.Root)
	if cerr != nil {
		return nil, cerr
	}
	return map[string]string{"cacheDir": dir}, nil
}

// EnsureCacheDirectory creates (if absent) the analysis cache rooted at
// root and adopts it as the dispatcher's active cache. Exposed directly
// (not just via the `ensureCacheDirectory` command) so cmd/opendj can
// set it up at startup before the HTTP server accepts commands.
func (d *Dispatcher) EnsureCacheDirectory(root string) (string, *engineerr.Error) {
	c, cerr := cache.Ensure(root)
	if cerr != nil {
		return "", engineerr.Wrap(engineerr.IoFailure, "ensure cache directory", cerr)
	}
	d.cacheMu.Lock()
	d.cache = c
	d.cacheMu.Unlock()
	return c.Dir(), nil
}

func (d *Dispatcher) requireCache() (*cache.Cache, *engineerr.Error) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if d.cache == nil {
		return nil, engineerr.New(engineerr.InvalidParameter, "cache directory not ensured")
	}
	return d.cache, nil
}

func (d *Dispatcher) getCacheStats() (any, *engineerr.Error) {
	c, err := d.requireCache()
	if err != nil {
		return nil, err
	}
	count, bytes := c.Stats()
	return map[string]any{"entryCount": count, "totalBytes": bytes}, nil
}

func (d *Dispatcher) cleanupCache(raw json.RawMessage) (any, *engineerr.Error) {
	c, err := d.requireCache()
	if err != nil {
		return nil, err
	}
	payload, err := decodePayload[struct {
		Paths []string `json:"paths"`
	}](raw)
	if err != nil {
		return nil, err
	}
	current := make(map[string]struct{}, len(payload.Paths))
	for _, p := range payload.Paths {
		current[p] = struct{}{}
	}
	c.Cleanup(current)
	return map[string]bool{"ok": true}, nil
}

func (d *Dispatcher) rebuildCacheIndex() (any, *engineerr.Error) {
	c, err := d.requireCache()
	if err != nil {
		return nil, err
	}
	n, rerr := c.RebuildIndex()
	if rerr != nil {
		return nil, engineerr.Wrap(engineerr.CacheCorrupted, "rebuild cache index", rerr)
	}
	return map[string]int{"entryCount": n}, nil
}

func (d *Dispatcher) clearCache() (any, *engineerr.Error) {
	c, err := d.requireCache()
	if err != nil {
		return nil, err
	}
	if cerr := c.Clear(); cerr != nil {
		return nil, engineerr.Wrap(engineerr.IoFailure, "clear cache", cerr)
	}
	return map[string]bool{"ok": true}, nil
}

// ── analysis commands ──────────────────────────────────────────────

func (d *Dispatcher) analyzeFeaturesBatchWithCache(raw json.RawMessage) (any, *engineerr.Error) {
	c, err := d.requireCache()
	if err != nil {
		return nil, err
	}
	payload, err := decodePayload[struct {
		Paths []string `json:"paths"`
	}](raw)
	if err != nil {
		return nil, err
	}

	results := make(map[string]any, len(payload.Paths))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, path := range payload.Paths {
		if entry, hit := c.Lookup(path); hit {
			results[path] = entry.BpmAnalysis
			continue
		}
		wg.Add(1)
		done := d.pool.Submit(path)
		go func(path string, done <-chan analysis.Result) {
			defer wg.Done()
			res := <-done
			mu.Lock()
			defer mu.Unlock()
			if res.Err != nil {
				results[path] = map[string]string{"error": res.Err.Error()}
				return
			}
			results[path] = res.BpmAnalysis
			_ = c.Store(path, toCacheEntry(path, res))
		}(path, done)
	}
	wg.Wait()

	return results, nil
}

func (d *Dispatcher) getTrackVolumeAnalysis(raw json.RawMessage) (any, *engineerr.Error) {
	payload, err := decodePayload[struct {
		Path string `json:"path"`
	}](raw)
	if err != nil {
		return nil, err
	}
	if payload.Path == "" {
		return nil, engineerr.New(engineerr.InvalidParameter, "path is required")
	}

	if c, cerr := d.requireCache(); cerr == nil {
		if entry, hit := c.Lookup(payload.Path); hit {
			return entry.WaveformAnalysis, nil
		}
	}

	res := analysis.AnalyzeFile(payload.Path)
	if res.Err != nil {
		return nil, engineerr.Wrap(engineerr.AnalysisFailed, "analyze track", res.Err)
	}
	if c, cerr := d.requireCache(); cerr == nil {
		_ = c.Store(payload.Path, toCacheEntry(payload.Path, res))
	}
	return res.WaveformAnalysis, nil
}

func toCacheEntry(path string, res analysis.Result) models.CacheEntry {
	fp, _ := cache.Fingerprint(path)
	return models.CacheEntry{
		Fingerprint:      fp,
		BpmAnalysis:      res.BpmAnalysis,
		WaveformAnalysis: res.WaveformAnalysis,
		CachedAt:         time.Now().UTC(),
	}
}

// ── SSE transport ──────────────────────────────────────────────

// HandleSSE registers the requesting client as a subscriber and streams
// broadcast events, grounded on the teacher's HandleSSE: an initial
// keepalive, then drain-and-batch-flush so multiple near-simultaneous
// events reach the client in one TCP write.
func (d *Dispatcher) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := &Subscriber{ID: fmt.Sprintf("%d", time.Now().UnixNano()), Events: make(chan Event, 256)}
	d.Register(sub)
	defer d.Unregister(sub)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			writeSSE(w, ev)
		drain:
			for {
				select {
				case extra, ok := <-sub.Events:
					if !ok {
						flusher.Flush()
						return
					}
					writeSSE(w, extra)
				default:
					break drain
				}
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}

// ── position broadcaster ──────────────────────────────────────────

// StartPositionBroadcaster publishes playback.update events for every
// deck whose position or status changed since the last tick, throttled
// to interval (spec §4.9: position updates ≤60Hz per deck).
func (d *Dispatcher) StartPositionBroadcaster(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, dk := range d.decks {
					state := dk.State()
					d.lastMu.Lock()
					prev, ok := d.lastState[dk.ID()]
					changed := !ok || prev.PositionFrames != state.PositionFrames || prev.Status != state.Status || prev.IsPlaying != state.IsPlaying
					if changed {
						d.lastState[dk.ID()] = state
					}
					d.lastMu.Unlock()
					if changed {
						d.Publish(Event{Type: "playback.update", Data: map[string]any{"deckId": dk.ID(), "state": state}})
					}
				}
			case <-d.stopPosition:
				return
			}
		}
	}()
}

// StopPositionBroadcaster stops the ticking goroutine started by
// StartPositionBroadcaster.
func (d *Dispatcher) StopPositionBroadcaster() {
	close(d.stopPosition)
}
