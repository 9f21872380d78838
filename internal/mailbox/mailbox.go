// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package mailbox implements the bounded multi-producer / single-consumer
// command queue (spec.md §4.1, component C1) that is the only cross-worker
// mutable channel in the data plane. Producers on any goroutine may
// enqueue; only the owning worker goroutine may dequeue or free entries.
package mailbox

import (
	"sync"
	"sync/atomic"

	"grimm.is/gatekeeper/internal/errors"
)

// Command is a fixed-shape record carried through a Mailbox. Kind
// discriminates the payload the way C7's POLICY_ADD and C4's
// HOLD/PUT/ND commands do; Payload carries the kind-specific data.
type Command struct {
	Kind    CommandKind
	Payload any

	slot uint64 // ring index this command was read from; set by DequeueBurst
	from *Mailbox
}

// CommandKind enumerates the command shapes a Mailbox may carry. Both the
// GK policy-intake mailbox and the LLS control mailbox reuse this type;
// each worker only recognizes the subset relevant to it and frees the
// rest without acting on them or logging them.
type CommandKind int

const (
	KindPolicyAdd CommandKind = iota
	KindHold
	KindPut
	KindND
)

// slot holds one Command plus a published flag. A slot is claimed by a
// producer, published once the payload is fully written, consumed by
// DequeueBurst, and released by Free — at which point it becomes
// available for a new producer claim.
type ringSlot struct {
	published atomic.Bool
	freed     atomic.Bool
	cmd       Command
}

// Mailbox is a bounded ring of fixed-size slots. Multiple producer
// goroutines may call Enqueue concurrently; DequeueBurst and Free are
// consumer-only (called exclusively from the owning worker's loop).
type Mailbox struct {
	slots []ringSlot
	mask  uint64

	claimMu sync.Mutex // serializes producer slot reservation only
	head    uint64     // next slot index a producer may claim
	tail    uint64     // next slot index the consumer will read

	occupied atomic.Int64
}

// New creates a Mailbox with the given capacity, rounded up to the next
// power of two as required for the mask-based ring index.
func New(capacity int) *Mailbox {
	if capacity < 1 {
		capacity = 1
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &Mailbox{
		slots: make([]ringSlot, size),
		mask:  uint64(size - 1),
	}
}

// Capacity returns the number of slots in the ring.
func (m *Mailbox) Capacity() int {
	return len(m.slots)
}

// Occupied returns the number of slots currently holding an unfreed
// command, for metrics/gauge export.
func (m *Mailbox) Occupied() int {
	return int(m.occupied.Load())
}

// Enqueue copies cmd into the next free slot and publishes it atomically.
// It may be called from any goroutine. Returns a KindMailboxFull error if
// the ring is saturated; this is non-fatal per spec.md §7 and the producer
// decides whether to retry or drop its own work item.
func (m *Mailbox) Enqueue(kind CommandKind, payload any) error {
	m.claimMu.Lock()
	if uint64(m.occupied.Load()) >= uint64(len(m.slots)) {
		m.claimMu.Unlock()
		return errors.New(errors.KindMailboxFull, "mailbox: no free slot")
	}
	idx := m.head & m.mask
	m.head++
	m.claimMu.Unlock()

	s := &m.slots[idx]
	s.freed.Store(false)
	s.cmd = Command{Kind: kind, Payload: payload, slot: idx, from: m}
	m.occupied.Add(1)
	s.published.Store(true)
	return nil
}

// DequeueBurst drains up to max published commands in FIFO order.
// Consumer-only: must be called from a single goroutine (the owning
// worker), never concurrently with another DequeueBurst or Free call.
func (m *Mailbox) DequeueBurst(max int) []Command {
	if max <= 0 {
		return nil
	}
	out := make([]Command, 0, max)
	for len(out) < max {
		idx := m.tail & m.mask
		s := &m.slots[idx]
		if !s.published.Load() {
			break
		}
		out = append(out, s.cmd)
		// Unpublish on read so a later burst that wraps around the ring
		// stops here instead of returning this command again before Free.
		s.published.Store(false)
		m.tail++
	}
	return out
}

// Free releases the backing slot for a previously dequeued command. It
// must be called exactly once per command returned by DequeueBurst; a
// double free or a free of a command never dequeued from this Mailbox is
// a no-op rather than corrupting ring state.
func (m *Mailbox) Free(cmd Command) {
	if cmd.from != m {
		return
	}
	s := &m.slots[cmd.slot]
	if !s.freed.CompareAndSwap(false, true) {
		return
	}
	s.published.Store(false)
	m.occupied.Add(-1)
}
