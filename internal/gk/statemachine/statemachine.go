// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package statemachine implements the GK per-packet classification logic
// (spec.md §4.6, component C6): REQUEST priority derivation, GRANTED
// budget enforcement and renewal, and DECLINED expiry.
package statemachine

import (
	"math/bits"

	"grimm.is/gatekeeper/internal/clock"
	"grimm.is/gatekeeper/internal/errors"
	"grimm.is/gatekeeper/internal/packetview"
)

// State is the flow entry's tag (spec.md §3's tagged union discriminant).
type State int

const (
	StateRequest State = iota
	StateGranted
	StateDeclined
)

// initialLastPriority and initialAllowance are the values a freshly
// created or reinitialized REQUEST block starts from (spec.md §3).
const (
	initialLastPriority = 38
	initialAllowance    = 7
	maxPriority         = 63
	dscpLegacy          = 0
	dscpGranted         = 1
	dscpRenew           = 2
)

// RequestBlock is the REQUEST state's data.
type RequestBlock struct {
	LastSeenAt   clock.Cycles
	LastPriority uint8
	Allowance    uint8
}

// GrantedBlock is the GRANTED state's data.
type GrantedBlock struct {
	CapExpireAt       clock.Cycles
	BudgetRenewAt     clock.Cycles
	BudgetByte        int64
	TxRateKBCycle     uint64
	SendNextRenewalAt clock.Cycles
	RenewalStepCycle  clock.Cycles
}

// DeclinedBlock is the DECLINED state's data.
type DeclinedBlock struct {
	ExpireAt clock.Cycles
}

// Entry is one flow's complete state: the tag plus all three
// state-specific blocks. Only the block matching State is meaningful;
// the others are left as written by a prior transition and must not be
// read (spec.md §9, "accessing a field belonging to a state other than
// the current tag is a design error").
type Entry struct {
	Key       packetview.FlowKey
	GrantorID uint32
	State     State
	Request   RequestBlock
	Granted   GrantedBlock
	Declined  DeclinedBlock
}

// InitRequest resets e to a freshly created REQUEST entry at now,
// preserving Key and GrantorID.
func InitRequest(e *Entry, now clock.Cycles) {
	e.State = StateRequest
	e.Request = RequestBlock{LastSeenAt: now, LastPriority: initialLastPriority, Allowance: initialAllowance}
	e.Granted = GrantedBlock{}
	e.Declined = DeclinedBlock{}
}

// Outcome is the result of classifying one packet.
type Outcome struct {
	Drop bool
	DSCP uint8
}

// Log receives diagnostic notices for conditions that are not errors but
// worth a rate-limited log line (spec.md §4.6 edge cases, §7).
type Log interface {
	Warn(msg string, kv ...any)
}

// Classify runs one packet through e's current state and returns the
// resulting DSCP/drop decision, mutating e in place. pktLen is the
// packet's length in bytes, used for GRANTED budget accounting.
func Classify(e *Entry, now clock.Cycles, pktLen int, log Log) (Outcome, error) {
	switch e.State {
	case StateRequest:
		return classifyRequest(e, now, log), nil
	case StateGranted:
		return classifyGranted(e, now, pktLen, log), nil
	case StateDeclined:
		return classifyDeclined(e, now, pktLen, log), nil
	default:
		return Outcome{Drop: true}, errors.Errorf(errors.KindBadState, "statemachine: flow entry in unknown state %d", e.State)
	}
}

func classifyRequest(e *Entry, now clock.Cycles, log Log) Outcome {
	r := &e.Request

	var deltaPs uint64
	if now < r.LastSeenAt {
		if log != nil {
			log.Warn("statemachine: now precedes last_seen_at, treating as delta=0", "flow", e.Key)
		}
		deltaPs = 0
	} else {
		deltaPs = uint64(now-r.LastSeenAt) * clock.PicosecPerCycle
	}
	r.LastSeenAt = now

	var priority uint8
	if deltaPs >= 1 {
		priority = uint8(log2Floor(deltaPs))
	}

	if priority < r.LastPriority && r.Allowance > 0 {
		r.Allowance--
	} else {
		r.LastPriority = priority
		r.Allowance = initialAllowance
	}

	dscp := r.LastPriority + 3
	if dscp > maxPriority {
		dscp = maxPriority
	}
	return Outcome{DSCP: dscp}
}

// log2Floor returns ⌊log₂(v)⌋ for v ≥ 1, via bits.Len64 (the
// count-leading-zeros-derived primitive spec.md §4.6 calls for).
func log2Floor(v uint64) int {
	if v == 0 {
		return 0
	}
	return bits.Len64(v) - 1
}

func classifyGranted(e *Entry, now clock.Cycles, pktLen int, log Log) Outcome {
	g := &e.Granted

	if now >= g.CapExpireAt {
		InitRequest(e, now)
		return classifyRequest(e, now, log)
	}

	if now >= g.BudgetRenewAt {
		g.BudgetByte = int64(g.TxRateKBCycle) * 1024
		g.BudgetRenewAt = now + clock.CyclesPerSecond(1)
	}

	if int64(pktLen) > g.BudgetByte {
		return Outcome{Drop: true}
	}
	g.BudgetByte -= int64(pktLen)

	if now >= g.SendNextRenewalAt {
		g.SendNextRenewalAt = now + g.RenewalStepCycle
		return Outcome{DSCP: dscpRenew}
	}
	return Outcome{DSCP: dscpGranted}
}

func classifyDeclined(e *Entry, now clock.Cycles, pktLen int, log Log) Outcome {
	d := &e.Declined
	if now >= d.ExpireAt {
		InitRequest(e, now)
		return classifyRequest(e, now, log)
	}
	return Outcome{Drop: true}
}
