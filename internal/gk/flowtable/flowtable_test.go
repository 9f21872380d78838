// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowtable

import (
	"testing"

	"grimm.is/gatekeeper/internal/errors"
	"grimm.is/gatekeeper/internal/gk/statemachine"
	"grimm.is/gatekeeper/internal/packetview"
)

func key(n byte) packetview.FlowKey {
	k := packetview.FlowKey{Family: packetview.FamilyV4}
	k.Src[0] = n
	return k
}

func TestNewRoundsCapacityToPowerOfTwo(t *testing.T) {
	tb := New(100)
	if tb.Capacity() != 128 {
		t.Fatalf("expected capacity 128, got %d", tb.Capacity())
	}
}

func TestInsertThenLookup(t *testing.T) {
	tb := New(16)
	k := key(1)
	idx, err := tb.Insert(k, 1, func(e *statemachine.Entry) {
		statemachine.InitRequest(e, 0)
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, ok := tb.Lookup(k, 1)
	if !ok || got != idx {
		t.Fatalf("expected lookup to return index %d, got %d ok=%v", idx, got, ok)
	}
	if tb.Count() != 1 {
		t.Fatalf("expected count 1, got %d", tb.Count())
	}
}

func TestInsertIsIdempotentForSameKey(t *testing.T) {
	tb := New(16)
	k := key(2)
	i1, err := tb.Insert(k, 2, nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	i2, err := tb.Insert(k, 2, func(e *statemachine.Entry) {
		t.Fatal("init should not run again for an existing key")
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if i1 != i2 {
		t.Fatalf("expected stable index, got %d then %d", i1, i2)
	}
	if tb.Count() != 1 {
		t.Fatalf("expected count to remain 1, got %d", tb.Count())
	}
}

func TestLookupMissingKeyReturnsFalse(t *testing.T) {
	tb := New(16)
	_, ok := tb.Lookup(key(3), 3)
	if ok {
		t.Fatal("expected lookup miss on empty table")
	}
}

func TestDeleteFreesSlotForReuse(t *testing.T) {
	tb := New(16)
	k := key(4)
	tb.Insert(k, 4, nil)
	tb.Delete(k, 4)
	if tb.Count() != 0 {
		t.Fatalf("expected count 0 after delete, got %d", tb.Count())
	}
	if _, ok := tb.Lookup(k, 4); ok {
		t.Fatal("expected deleted key to no longer be found")
	}
	if _, err := tb.Insert(k, 4, nil); err != nil {
		t.Fatalf("expected freed slot to be reusable, got %v", err)
	}
}

func TestInsertRejectsWhenProbeBoundExceeded(t *testing.T) {
	tb := New(128) // mask collapses every hash to slot 0 below
	collisions := 0
	for i := byte(0); i < maxProbe+1; i++ {
		_, err := tb.Insert(key(i), 0, nil)
		if err != nil {
			if errors.GetKind(err) != errors.KindTableFull {
				t.Fatalf("expected table-full error, got %v", err)
			}
			collisions++
			continue
		}
	}
	if collisions == 0 {
		t.Fatal("expected bounded probing to eventually reject an all-colliding insert sequence")
	}
}

func TestCollidingKeysProbeToDistinctSlots(t *testing.T) {
	tb := New(128)
	i1, err := tb.Insert(key(1), 0, nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	i2, err := tb.Insert(key(2), 0, nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if i1 == i2 {
		t.Fatal("expected colliding keys to land on distinct slots")
	}
	if got, ok := tb.Lookup(key(1), 0); !ok || got != i1 {
		t.Fatalf("expected key(1) to still resolve to %d, got %d ok=%v", i1, got, ok)
	}
	if got, ok := tb.Lookup(key(2), 0); !ok || got != i2 {
		t.Fatalf("expected key(2) to still resolve to %d, got %d ok=%v", i2, got, ok)
	}
}

func TestEntriesArrayTracksInsertedIndex(t *testing.T) {
	tb := New(16)
	k := key(5)
	idx, err := tb.Insert(k, 5, func(e *statemachine.Entry) {
		statemachine.InitRequest(e, 7)
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if tb.Entries[idx].Request.LastSeenAt != 7 {
		t.Fatalf("expected dense entry to reflect init callback, got %+v", tb.Entries[idx])
	}
}

func TestNilMirrorIsANoOp(t *testing.T) {
	tb := New(16)
	tb.SetMirror(nil)
	k := key(9)
	idx, err := tb.Insert(k, 9, func(e *statemachine.Entry) {
		statemachine.InitRequest(e, 1)
	})
	if err != nil {
		t.Fatalf("insert with nil mirror: %v", err)
	}
	tb.Delete(k, 9)
	if _, ok := tb.Lookup(k, 9); ok {
		t.Fatalf("expected key removed after delete, slot %d still present", idx)
	}
}
