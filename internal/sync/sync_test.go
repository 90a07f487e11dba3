package sync

import (
	"testing"

	"github.com/opendj/engine/internal/deck"
	"github.com/opendj/engine/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestEnableFirstDeckBecomesMaster(t *testing.T) {
	a := deck.New(models.DeckA, 44100)
	b := deck.New(models.DeckB, 44100)
	c := New(a, b)

	c.Enable(models.DeckA)

	assert.Equal(t, models.SyncMaster, a.SyncRole())
	assert.Equal(t, models.SyncOff, b.SyncRole())
}

func TestEnableSecondDeckBecomesSlaveAndLocksTempo(t *testing.T) {
	a := deck.New(models.DeckA, 44100)
	b := deck.New(models.DeckB, 44100)
	a.SetBeatgrid(128, 0)
	b.SetBeatgrid(120, 0)
	c := New(a, b)

	c.Enable(models.DeckA)
	c.Enable(models.DeckB)

	assert.Equal(t, models.SyncSlave, b.SyncRole())
	assert.InDelta(t, 128.0/120.0, float64(b.PitchRate()), 0.0001)
}

func TestTickRecomputesSlaveOnMasterPitchChange(t *testing.T) {
	a := deck.New(models.DeckA, 44100)
	b := deck.New(models.DeckB, 44100)
	a.SetBeatgrid(128, 0)
	b.SetBeatgrid(128, 0)
	c := New(a, b)
	c.Enable(models.DeckA)
	c.Enable(models.DeckB)
	assert.InDelta(t, 1.0, float64(b.PitchRate()), 0.0001)

	a.SetPitchRate(1.1) // master sped up
	c.Tick()

	assert.InDelta(t, 1.1, float64(b.PitchRate()), 0.0001)
}

func TestDisableMasterAlsoDemotesSlave(t *testing.T) {
	a := deck.New(models.DeckA, 44100)
	b := deck.New(models.DeckB, 44100)
	a.SetBeatgrid(128, 0)
	b.SetBeatgrid(120, 0)
	c := New(a, b)
	c.Enable(models.DeckA)
	c.Enable(models.DeckB)

	c.Disable(models.DeckA)

	assert.Equal(t, models.SyncOff, a.SyncRole())
	assert.Equal(t, models.SyncOff, b.SyncRole())
}

func TestDisableSlaveDoesNotAffectMaster(t *testing.T) {
	a := deck.New(models.DeckA, 44100)
	b := deck.New(models.DeckB, 44100)
	a.SetBeatgrid(128, 0)
	b.SetBeatgrid(120, 0)
	c := New(a, b)
	c.Enable(models.DeckA)
	c.Enable(models.DeckB)

	c.Disable(models.DeckB)

	assert.Equal(t, models.SyncMaster, a.SyncRole())
	assert.Equal(t, models.SyncOff, b.SyncRole())
}
