// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package flowtable implements the GK flow table (spec.md §4.5,
// component C5): a keyed hash table sized at configuration time whose
// insertion returns a stable index into a parallel dense array of flow
// entries. A Table is single-writer — only the GK worker that owns it
// ever calls Lookup/Insert/Delete — so no locking is used, mirroring the
// ownership model described in spec.md §5.
package flowtable

import (
	"grimm.is/gatekeeper/internal/errors"
	"grimm.is/gatekeeper/internal/gk/statemachine"
	"grimm.is/gatekeeper/internal/packetview"
)

// maxProbe bounds linear-probing search length. Once exceeded, Insert
// rejects with table-full even if free slots exist elsewhere in the
// table — the Open Question in spec.md §9 ("table-full policy") is
// resolved in favor of bounded-probe rejection over unbounded search or
// eviction, documented in DESIGN.md.
const maxProbe = 64

type slot struct {
	occupied bool
	key      packetview.FlowKey
}

// Table maps flow keys to dense-array indices holding statemachine.Entry
// values.
type Table struct {
	slots   []slot
	mask    uint32
	Entries []statemachine.Entry
	count   int
	mirror  *Mirror
}

// New creates a Table sized to the next power of two ≥ capacity.
func New(capacity int) *Table {
	n := nextPow2(capacity)
	return &Table{
		slots:   make([]slot, n),
		mask:    uint32(n - 1),
		Entries: make([]statemachine.Entry, n),
	}
}

func nextPow2(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Capacity returns the table's slot count.
func (t *Table) Capacity() int { return len(t.slots) }

// Count returns the number of occupied slots.
func (t *Table) Count() int { return t.count }

// Lookup returns the dense-array index for key given its RSS hash, and
// whether key is present. It never errors: a miss just reports ok=false.
func (t *Table) Lookup(key packetview.FlowKey, hash uint32) (int, bool) {
	idx := hash & t.mask
	for i := 0; i < maxProbe; i++ {
		s := &t.slots[idx]
		if !s.occupied {
			return 0, false
		}
		if s.key == key {
			return int(idx), true
		}
		idx = (idx + 1) & t.mask
	}
	return 0, false
}

// Insert finds or creates a slot for key, initializing its dense-array
// entry via init if newly created. It returns the slot index, or a
// KindTableFull error if no free slot is found within the bounded probe
// length.
func (t *Table) Insert(key packetview.FlowKey, hash uint32, init func(*statemachine.Entry)) (int, error) {
	idx := hash & t.mask
	for i := 0; i < maxProbe; i++ {
		s := &t.slots[idx]
		if s.occupied && s.key == key {
			return int(idx), nil
		}
		if !s.occupied {
			s.occupied = true
			s.key = key
			t.count++
			t.Entries[idx] = statemachine.Entry{Key: key}
			if init != nil {
				init(&t.Entries[idx])
			}
			t.mirror.Sync(key, &t.Entries[idx], true)
			return int(idx), nil
		}
		idx = (idx + 1) & t.mask
	}
	return 0, errors.New(errors.KindTableFull, "flowtable: no free slot within probe bound")
}

// Delete removes key's slot, if present, freeing it for reuse.
//
// Delete clears occupied without leaving a tombstone, so it is
// teardown-only: calling it on a key that another key's probe chain
// passed through would break that chain (a later Lookup would stop at
// the freed slot and miss the surviving key; a later Insert could then
// create a duplicate). No fast-path caller in this package ever deletes
// a live, possibly-collided key — flows age out by state transition,
// not by removal — so this is not reachable today, but a future caller
// doing selective eviction would need tombstones or back-shift first.
func (t *Table) Delete(key packetview.FlowKey, hash uint32) {
	idx := hash & t.mask
	for i := 0; i < maxProbe; i++ {
		s := &t.slots[idx]
		if !s.occupied {
			return
		}
		if s.key == key {
			s.occupied = false
			s.key = packetview.FlowKey{}
			t.mirror.Sync(key, &t.Entries[idx], false)
			t.Entries[idx] = statemachine.Entry{}
			t.count--
			return
		}
		idx = (idx + 1) & t.mask
	}
}
