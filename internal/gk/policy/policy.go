// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policy implements GK policy intake (spec.md §4.7, component
// C7): applying a POLICY_ADD command drained from a worker's mailbox to
// its flow table, installing a GRANTED or DECLINED state with
// parameters computed from the grantor's requested rates and durations.
package policy

import (
	"github.com/google/uuid"

	"grimm.is/gatekeeper/internal/clock"
	"grimm.is/gatekeeper/internal/gk/flowtable"
	"grimm.is/gatekeeper/internal/gk/statemachine"
	"grimm.is/gatekeeper/internal/packetview"
)

// Params carries the grantor-supplied rates and durations a POLICY_ADD
// command installs; field names mirror the cycle-unit quantities
// spec.md §4.7 derives them into.
type Params struct {
	CapExpireSec  uint64 // GRANTED: capability lifetime
	TxRateKBSec   uint64 // GRANTED: sustained rate budget
	NextRenewalMs uint64 // GRANTED: ms until the first renewal-due DSCP
	RenewalStepMs uint64 // GRANTED: ms between subsequent renewals
	ExpireSec     uint64 // DECLINED: duration before re-eligible
}

// Add is one POLICY_ADD command's payload, carried as a mailbox.Command
// of kind mailbox.KindPolicyAdd.
type Add struct {
	Key           packetview.FlowKey
	Hash          uint32
	GrantorID     uint32
	State         statemachine.State
	Params        Params
	CorrelationID uuid.UUID
}

// Log receives notices for unknown-state commands (spec.md §4.7,
// "unknown states are logged and ignored"). A table-full rejection is
// returned to the caller as an error, not logged here.
type Log interface {
	Warn(msg string, kv ...any)
}

// Apply resolves cmd's flow entry in tbl — looking it up, or inserting a
// freshly initialized REQUEST entry if absent, so a policy may arrive
// before the flow's first packet — and installs the GRANTED or DECLINED
// parameters it names.
func Apply(tbl *flowtable.Table, cmd Add, now clock.Cycles, log Log) error {
	idx, err := tbl.Insert(cmd.Key, cmd.Hash, func(e *statemachine.Entry) {
		statemachine.InitRequest(e, now)
		e.GrantorID = cmd.GrantorID
	})
	if err != nil {
		return err
	}
	e := &tbl.Entries[idx]
	e.GrantorID = cmd.GrantorID

	switch cmd.State {
	case statemachine.StateGranted:
		installGranted(e, cmd.Params, now)
	case statemachine.StateDeclined:
		installDeclined(e, cmd.Params, now)
	default:
		if log != nil {
			log.Warn("policy: unknown POLICY_ADD state, ignoring", "state", cmd.State, "correlation_id", cmd.CorrelationID)
		}
	}
	return nil
}

func installGranted(e *statemachine.Entry, p Params, now clock.Cycles) {
	e.State = statemachine.StateGranted
	e.Granted = statemachine.GrantedBlock{
		CapExpireAt:       now + clock.CyclesPerSecond(p.CapExpireSec),
		TxRateKBCycle:     p.TxRateKBSec,
		SendNextRenewalAt: now + clock.CyclesPerMillisecond(p.NextRenewalMs),
		RenewalStepCycle:  clock.CyclesPerMillisecond(p.RenewalStepMs),
		BudgetRenewAt:     now + clock.CyclesPerSecond(1),
		BudgetByte:        int64(p.TxRateKBSec) * 1024,
	}
}

func installDeclined(e *statemachine.Entry, p Params, now clock.Cycles) {
	e.State = statemachine.StateDeclined
	e.Declined = statemachine.DeclinedBlock{
		ExpireAt: now + clock.CyclesPerSecond(p.ExpireSec),
	}
}
