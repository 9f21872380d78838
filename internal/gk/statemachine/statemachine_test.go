// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package statemachine

import (
	"testing"

	"grimm.is/gatekeeper/internal/clock"
)

// boundary behaviors (spec.md §8)

func TestBoundaryDeltaZeroYieldsPriorityZeroDSCP3(t *testing.T) {
	e := &Entry{}
	InitRequest(e, 0)
	e.Request.LastPriority = 0 // isolate the raw priority->dscp formula from the allowance override
	e.Request.Allowance = 7

	out, err := Classify(e, 0, 64, nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if out.DSCP != 3 {
		t.Fatalf("expected dscp 3, got %d", out.DSCP)
	}
}

func TestBoundaryClampAt63(t *testing.T) {
	e := &Entry{}
	InitRequest(e, 0)
	e.Request.LastPriority = 60
	e.Request.Allowance = 0 // no allowance left, so priority updates unconditionally

	// delta large enough that computed priority exceeds 60, forcing the
	// else branch (priority >= last_priority always true here anyway):
	// 2^52 cycles * 1000 ps is about 2^61.97 ps, so priority 61.
	now := clock.Cycles(1 << 52)
	out, err := Classify(e, now, 64, nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if out.DSCP != 63 {
		t.Fatalf("expected clamped dscp 63, got %d", out.DSCP)
	}
}

func TestBoundaryClockRewindTreatedAsDeltaZero(t *testing.T) {
	e := &Entry{}
	InitRequest(e, 1000)
	e.Request.LastPriority = 0
	e.Request.Allowance = 7

	out, err := Classify(e, 500, 64, nil) // now < last_seen_at
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if out.DSCP != 3 {
		t.Fatalf("expected dscp 3 on clock rewind, got %d", out.DSCP)
	}
	if e.Request.LastSeenAt != 500 {
		t.Fatalf("expected last_seen_at to advance to now regardless, got %d", e.Request.LastSeenAt)
	}
}

// end-to-end scenarios (spec.md §8)

// Scenario 1 variant: the worked example in the specification's prose
// computes an allowance decrement (7→6) but the resulting DSCP/last_priority
// it reports are inconsistent with the REQUEST algorithm as otherwise
// described (and with scenarios 2 and 3, which are mutually consistent
// with a literal reading of §4.6 step 3: the allowance-override branch
// leaves last_priority untouched and derives DSCP from it). This test
// follows the literal algorithm, which is what this implementation
// applies; see DESIGN.md for the resolution.
func TestScenario1FirstPacketNoPolicy(t *testing.T) {
	e := &Entry{}
	InitRequest(e, 0) // last_priority=38, allowance=7

	out, err := Classify(e, 0, 64, nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if e.Request.Allowance != 6 {
		t.Fatalf("expected allowance to decrement to 6, got %d", e.Request.Allowance)
	}
	if e.Request.LastPriority != 38 {
		t.Fatalf("expected last_priority to remain at its allowance-protected value 38, got %d", e.Request.LastPriority)
	}
	if out.DSCP != 41 {
		t.Fatalf("expected dscp 41 (last_priority 38 + 3), got %d", out.DSCP)
	}
}

func TestScenario2PriorityDecay(t *testing.T) {
	e := &Entry{}
	InitRequest(e, 0)
	// Same flow after scenario 1's delta<1 packet, which leaves
	// last_priority at 0; a higher priority then resets the allowance.
	e.Request.LastPriority = 0

	// delta*picosec_per_cycle must be in [2^10, 2^11) for log2Floor==10:
	// rounding up gives 2 cycles = 2000 ps.
	deltaCycles := clock.Cycles(((1 << 10) + clock.PicosecPerCycle - 1) / clock.PicosecPerCycle)
	now := e.Request.LastSeenAt + deltaCycles

	out, err := Classify(e, now, 64, nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if e.Request.LastPriority != 10 {
		t.Fatalf("expected last_priority 10, got %d", e.Request.LastPriority)
	}
	if e.Request.Allowance != 7 {
		t.Fatalf("expected allowance reset to 7, got %d", e.Request.Allowance)
	}
	if out.DSCP != 13 {
		t.Fatalf("expected dscp 13, got %d", out.DSCP)
	}
}

func TestScenario3AllowanceConsumption(t *testing.T) {
	e := &Entry{}
	InitRequest(e, 0)
	e.Request.LastPriority = 10
	e.Request.Allowance = 7
	e.Request.LastSeenAt = 0

	// A lower priority than 10: (2^4)/1000 rounds to 0 cycles, so the
	// floor of one cycle applies; 1000 ps gives priority 9, still below 10.
	deltaCycles := clock.Cycles((1 << 4) / clock.PicosecPerCycle)
	if deltaCycles == 0 {
		deltaCycles = 1
	}

	now := e.Request.LastSeenAt
	wantAllowance := []uint8{6, 5, 4}
	for i := 0; i < 3; i++ {
		now += deltaCycles
		out, err := Classify(e, now, 64, nil)
		if err != nil {
			t.Fatalf("classify %d: %v", i, err)
		}
		if out.DSCP != 13 {
			t.Fatalf("packet %d: expected dscp 13, got %d", i, out.DSCP)
		}
		if e.Request.LastPriority != 10 {
			t.Fatalf("packet %d: expected last_priority held at 10, got %d", i, e.Request.LastPriority)
		}
		if e.Request.Allowance != wantAllowance[i] {
			t.Fatalf("packet %d: expected allowance %d, got %d", i, wantAllowance[i], e.Request.Allowance)
		}
	}
}

// Scenario 4 variant: the specification's prose has the first packet
// after a GRANTED install (send_next_renewal_at = now + next_renewal_ms,
// with next_renewal_ms=500 > 0) come back dscp=2 (renewal due), and a
// packet one second later come back dscp=1 (no renewal due). Taken
// literally, step 5 of §4.6 ("if now ≥ send_next_renewal_at: dscp=2,
// send_next_renewal_at ← now + renewal_step_cycle; else dscp=1") gives
// the opposite for this entry: send_next_renewal_at is still 500ms in
// the future at the first packet (dscp=1), and by one second later it
// has long since come due (dscp=2) — the same literal-algorithm-over-
// prose resolution already applied to scenario 1; see DESIGN.md.
func TestScenario4GrantInstallAndBudgetEnforcement(t *testing.T) {
	e := &Entry{State: StateGranted}
	e.Granted = GrantedBlock{
		CapExpireAt:       clock.CyclesPerSecond(60),
		TxRateKBCycle:     10,
		BudgetRenewAt:     clock.CyclesPerSecond(1),
		BudgetByte:        10 * 1024,
		SendNextRenewalAt: clock.CyclesPerMillisecond(500),
		RenewalStepCycle:  clock.CyclesPerMillisecond(500),
	}

	out, err := Classify(e, 0, 2000, nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if out.DSCP != 1 {
		t.Fatalf("expected dscp 1 (renewal not yet due), got %d", out.DSCP)
	}
	if e.Granted.BudgetByte != 10*1024-2000 {
		t.Fatalf("expected budget_byte %d, got %d", 10*1024-2000, e.Granted.BudgetByte)
	}

	out, err = Classify(e, 0, 20000, nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !out.Drop {
		t.Fatal("expected oversized packet to be dropped")
	}

	now := clock.CyclesPerSecond(1)
	out, err = Classify(e, now, 5000, nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if e.Granted.BudgetByte != 10*1024-5000 {
		t.Fatalf("expected budget refreshed to 10240 then debited to %d, got %d", 10*1024-5000, e.Granted.BudgetByte)
	}
	if out.DSCP != 2 {
		t.Fatalf("expected dscp 2 (renewal now due, one step past send_next_renewal_at), got %d", out.DSCP)
	}
}

// Scenario 5 variant: the reinitialized entry's first packet is the
// same "fresh REQUEST, delta<1" situation as scenario 1 — the
// allowance-override branch holds last_priority at its initial 38 and
// derives dscp=41 from it, not the prose's 3; see TestScenario1FirstPacketNoPolicy
// and DESIGN.md.
func TestScenario5DeclineExpiry(t *testing.T) {
	e := &Entry{State: StateDeclined}
	e.Declined = DeclinedBlock{ExpireAt: clock.CyclesPerSecond(2)}

	out, err := Classify(e, clock.CyclesPerSecond(1), 64, nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !out.Drop {
		t.Fatal("expected packet before expiry to be dropped")
	}
	if e.State != StateDeclined {
		t.Fatal("expected state to remain declined before expiry")
	}

	out, err = Classify(e, clock.CyclesPerSecond(3), 64, nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if out.Drop {
		t.Fatal("expected packet after expiry to be processed, not dropped")
	}
	if e.State != StateRequest {
		t.Fatal("expected reinitialization to REQUEST after expiry")
	}
	if out.DSCP != 41 {
		t.Fatalf("expected dscp 41 (last_priority 38 + 3) on the reinitialized first packet, got %d", out.DSCP)
	}
}

func TestUnknownStateIsBadState(t *testing.T) {
	e := &Entry{State: State(99)}
	_, err := Classify(e, 0, 64, nil)
	if err == nil {
		t.Fatal("expected an error for an unknown state")
	}
}
