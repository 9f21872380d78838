// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"testing"
	"time"
)

func TestRateLimiterBurstThenSuppress(t *testing.T) {
	r := NewRateLimiter(time.Second, 3)
	now := time.Unix(0, 0)

	for i := 0; i < 3; i++ {
		if !r.Allow("table-full", now) {
			t.Fatalf("expected allow on burst item %d", i)
		}
	}
	if r.Allow("table-full", now) {
		t.Fatal("expected suppression after burst exhausted")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	r := NewRateLimiter(time.Second, 1)
	now := time.Unix(0, 0)

	if !r.Allow("mailbox-full", now) {
		t.Fatal("expected first call to be allowed")
	}
	if r.Allow("mailbox-full", now) {
		t.Fatal("expected second call within window to be suppressed")
	}
	later := now.Add(2 * time.Second)
	if !r.Allow("mailbox-full", later) {
		t.Fatal("expected call after window to be allowed")
	}
}

func TestRateLimiterKeysIndependent(t *testing.T) {
	r := NewRateLimiter(time.Second, 1)
	now := time.Unix(0, 0)

	if !r.Allow("a", now) || !r.Allow("b", now) {
		t.Fatal("expected independent keys to each get their own budget")
	}
}
