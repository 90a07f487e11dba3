package bus

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opendj/engine/internal/analysis"
	"github.com/opendj/engine/internal/deck"
	"github.com/opendj/engine/internal/mixer"
	"github.com/opendj/engine/internal/models"
	syncctl "github.com/opendj/engine/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDispatcher builds a Dispatcher with real decks/mixer/sync/pool
// but no device.Manager, since PortAudio requires real audio hardware;
// tests here exercise only commands that never reach the device field.
func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	deckA := deck.New(models.DeckA, 44100)
	deckB := deck.New(models.DeckB, 44100)
	return New(Deps{
		Decks:           map[models.DeckID]*deck.Deck{models.DeckA: deckA, models.DeckB: deckB},
		Mixer:           mixer.New(deckA, deckB),
		Sync:            syncctl.New(deckA, deckB),
		Pool:            analysis.NewPool(),
		Hub:             NewHub(),
		SampleRate:      44100,
		FramesPerBuffer: 512,
	})
}

func doCommand(t *testing.T, d *Dispatcher, env commandEnvelope) commandResponse {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/command", bytes.NewReader(body))
	w := httptest.NewRecorder()
	d.HandleCommand(w, req)

	var resp commandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestUnknownCommandReturnsError(t *testing.T) {
	d := newTestDispatcher(t)
	resp := doCommand(t, d, commandEnvelope{Command: "doesNotExist"})
	assert.False(t, resp.OK)
	assert.Equal(t, "InvalidParameter", resp.Error.Kind)
}

func TestSetFaderLevelAppliesAndReturnsState(t *testing.T) {
	d := newTestDispatcher(t)
	payload, _ := json.Marshal(map[string]float32{"level": 0.25})
	resp := doCommand(t, d, commandEnvelope{Command: "setFaderLevel", DeckID: "A", Payload: payload})
	require.True(t, resp.OK)
	assert.InDelta(t, 0.25, d.decks[models.DeckA].State().Fader, 0.0001)
}

func TestSetTrimGainRejectsOutOfRange(t *testing.T) {
	d := newTestDispatcher(t)
	payload, _ := json.Marshal(map[string]float32{"gainDb": 50})
	resp := doCommand(t, d, commandEnvelope{Command: "setTrimGain", DeckID: "A", Payload: payload})
	assert.False(t, resp.OK)
	assert.Equal(t, "InvalidParameter", resp.Error.Kind)
}

func TestSetCrossfaderClampsAndBroadcasts(t *testing.T) {
	d := newTestDispatcher(t)
	go d.Run()
	defer d.Close()

	sub := &Subscriber{ID: "watcher", Events: make(chan Event, 4)}
	d.Register(sub)

	payload, _ := json.Marshal(map[string]float32{"value": 2.0})
	resp := doCommand(t, d, commandEnvelope{Command: "setCrossfader", Payload: payload})
	require.True(t, resp.OK)
	assert.Equal(t, float32(1), d.mixer.Crossfader())

	select {
	case ev := <-sub.Events:
		assert.Equal(t, "device.changed", ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for crossfader broadcast")
	}
}

func TestSetCueDeckNoneClearsSelection(t *testing.T) {
	d := newTestDispatcher(t)
	resp := doCommand(t, d, commandEnvelope{Command: "setCueDeck", DeckID: ""})
	require.True(t, resp.OK)
	assert.Nil(t, d.mixer.CueDeck())
}

func TestEnableSyncFirstDeckBecomesMaster(t *testing.T) {
	d := newTestDispatcher(t)
	resp := doCommand(t, d, commandEnvelope{Command: "enableSync", DeckID: "A"})
	require.True(t, resp.OK)
	assert.Equal(t, models.SyncMaster, d.decks[models.DeckA].SyncRole())
}

func TestSetPitchRateRejectsOutOfRange(t *testing.T) {
	d := newTestDispatcher(t)
	payload, _ := json.Marshal(map[string]float32{"rate": 2.0})
	resp := doCommand(t, d, commandEnvelope{Command: "setPitchRate", DeckID: "A", Payload: payload})
	assert.False(t, resp.OK)
}

func TestSetPitchRateRejectedForSyncSlave(t *testing.T) {
	d := newTestDispatcher(t)
	doCommand(t, d, commandEnvelope{Command: "enableSync", DeckID: "A"})
	doCommand(t, d, commandEnvelope{Command: "enableSync", DeckID: "B"})

	payload, _ := json.Marshal(map[string]float32{"rate": 1.1})
	resp := doCommand(t, d, commandEnvelope{Command: "setPitchRate", DeckID: "B", Payload: payload})
	assert.False(t, resp.OK)
	assert.Equal(t, "InvalidParameter", resp.Error.Kind)
}

func TestEnsureCacheDirectoryThenStatsRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	dir := t.TempDir()

	payload, _ := json.Marshal(map[string]string{"root": dir})
	resp := doCommand(t, d, commandEnvelope{Command: "ensureCacheDirectory", Payload: payload})
	require.True(t, resp.OK)

	resp = doCommand(t, d, commandEnvelope{Command: "getCacheStats"})
	require.True(t, resp.OK)
}

func TestCacheCommandsFailBeforeEnsure(t *testing.T) {
	d := newTestDispatcher(t)
	resp := doCommand(t, d, commandEnvelope{Command: "getCacheStats"})
	assert.False(t, resp.OK)
}

func TestGetTrackVolumeAnalysisMissingFileErrors(t *testing.T) {
	d := newTestDispatcher(t)
	payload, _ := json.Marshal(map[string]string{"path": filepath.Join(t.TempDir(), "missing.wav")})
	resp := doCommand(t, d, commandEnvelope{Command: "getTrackVolumeAnalysis", Payload: payload})
	assert.False(t, resp.OK)
}

func TestLoadTrackRejectsEmptyPath(t *testing.T) {
	d := newTestDispatcher(t)
	payload, _ := json.Marshal(map[string]string{"path": ""})
	resp := doCommand(t, d, commandEnvelope{Command: "loadTrack", DeckID: "A", Payload: payload})
	assert.False(t, resp.OK)
}

func TestCommandForUnknownDeckErrors(t *testing.T) {
	d := newTestDispatcher(t)
	resp := doCommand(t, d, commandEnvelope{Command: "playTrack", DeckID: "Z"})
	assert.False(t, resp.OK)
}
