// Package sync implements C6: tempo-lock between the two decks. Exactly
// one deck may be master; the other, if locked, is slave, with its
// pitchRate computed each tick so its effective BPM matches master's.
//
// No teacher or pack file does master/slave tempo matching; this is
// built fresh per spec §4.6, following the same atomic-parameter-read,
// no-lock-on-the-control-tick posture as internal/deck and internal/mixer
// — there is no library need here, it is pure control-plane arithmetic.
package sync

import (
	"github.com/opendj/engine/internal/deck"
	"github.com/opendj/engine/internal/models"
)

// Controller observes two decks' tempo state and issues pitchRate
// corrections to keep a slave locked to its master.
type Controller struct {
	decks map[models.DeckID]*deck.Deck
	order []models.DeckID
}

// New builds a controller over exactly the given decks.
func New(decks ...*deck.Deck) *Controller {
	c := &Controller{decks: map[models.DeckID]*deck.Deck{}}
	for _, d := range decks {
		c.decks[d.ID()] = d
		c.order = append(c.order, d.ID())
	}
	return c
}

// Enable turns sync on for the given deck. If no deck is currently
// master, the given deck becomes master. If the other deck is already
// master, the given deck becomes slave and its pitchRate is computed
// immediately so its effective BPM matches master's (spec §4.6).
func (c *Controller) Enable(id models.DeckID) {
	d, ok := c.decks[id]
	if !ok {
		return
	}
	other := c.other(id)

	if other == nil || other.SyncRole() != models.SyncMaster {
		d.SetSyncRole(models.SyncMaster)
		return
	}

	d.SetSyncRole(models.SyncSlave)
	c.lockToMaster(d, other)
}

// Disable turns sync off for the given deck. If the deck was master, its
// slave (if any) is also demoted to off — a slave has no reference
// without a master (spec §4.6).
func (c *Controller) Disable(id models.DeckID) {
	d, ok := c.decks[id]
	if !ok {
		return
	}
	wasMaster := d.SyncRole() == models.SyncMaster
	d.SetSyncRole(models.SyncOff)

	if wasMaster {
		if other := c.other(id); other != nil && other.SyncRole() == models.SyncSlave {
			other.SetSyncRole(models.SyncOff)
		}
	}
}

// Tick recomputes every slave's pitchRate against its master's current
// effective BPM. Called on the control-plane loop, not the audio callback
// — it only touches pitchRate, which is itself an atomic cell deck.Deck
// already guards.
func (c *Controller) Tick() {
	for _, id := range c.order {
		d := c.decks[id]
		if d.SyncRole() != models.SyncSlave {
			continue
		}
		if master := c.other(id); master != nil && master.SyncRole() == models.SyncMaster {
			c.lockToMaster(d, master)
		}
	}
}

// lockToMaster sets slave's pitchRate so slave.bpm × pitchRate equals
// master's effective BPM. Only tempo is matched; phase alignment is not
// performed (spec §4.6).
func (c *Controller) lockToMaster(slave, master *deck.Deck) {
	slaveBpm, _ := slave.Beatgrid()
	if slaveBpm <= 0 {
		return
	}
	targetBpm := master.EffectiveBpm()
	if targetBpm <= 0 {
		return
	}
	slave.SetPitchRate(targetBpm / slaveBpm)
}

func (c *Controller) other(id models.DeckID) *deck.Deck {
	for _, oid := range c.order {
		if oid != id {
			return c.decks[oid]
		}
	}
	return nil
}
