// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowtable

import (
	"github.com/cilium/ebpf"

	"grimm.is/gatekeeper/internal/gk/statemachine"
	"grimm.is/gatekeeper/internal/logging"
	"grimm.is/gatekeeper/internal/packetview"
)

// MirrorState is the fixed-layout value written to an eBPF map for each
// occupied slot, enough for a kernel-side consumer (an XDP drop filter,
// a socket-layer counter) to act on a flow's current classification
// without touching this process. It deliberately drops everything the
// state machine needs internally (timers, allowance, DSCP history) and
// keeps only the state and the grantor a kernel program would consult.
type MirrorState struct {
	State     uint8
	_         [3]byte
	GrantorID uint32
}

// Mirror writes a best-effort copy of the table's occupied slots into an
// eBPF map, keyed the same as the table itself. It never affects
// Insert/Delete/Lookup outcomes — a mirror write failure is logged and
// swallowed, since the map is a read-side aid for other programs, not a
// source of truth (spec.md §6 treats RSS/filter programming as an
// opaque external collaborator; this mirror is the table's side of that
// boundary).
type Mirror struct {
	m      *ebpf.Map
	logger *logging.Logger
}

// NewMirror wraps an already-loaded eBPF map keyed by packetview.FlowKey
// and valued by MirrorState.
func NewMirror(m *ebpf.Map, logger *logging.Logger) *Mirror {
	return &Mirror{m: m, logger: logger}
}

// Sync writes or removes key's mirrored state. Call it after Insert,
// Delete, or any statemachine.Classify call that changes entry.State.
func (mr *Mirror) Sync(key packetview.FlowKey, entry *statemachine.Entry, present bool) {
	if mr == nil || mr.m == nil {
		return
	}
	k := key.Bytes()
	if !present {
		if err := mr.m.Delete(&k); err != nil && mr.logger != nil {
			mr.logger.WithError(err).Debug("flowtable mirror: delete failed")
		}
		return
	}
	v := MirrorState{State: uint8(entry.State), GrantorID: entry.GrantorID}
	if err := mr.m.Update(&k, &v, ebpf.UpdateAny); err != nil && mr.logger != nil {
		mr.logger.WithError(err).Debug("flowtable mirror: update failed")
	}
}

// SetMirror attaches an eBPF map mirror to the table. Every subsequent
// Insert and Delete also syncs the mirrored entry; a nil mirror (the
// default) disables this entirely, costing nothing on the fast path.
func (t *Table) SetMirror(mr *Mirror) { t.mirror = mr }
