// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package cache implements the per-family LLS resolution table (spec.md
// §4.3, component C3): aging records, pending-solicitation tracking, and
// hold/put subscriptions. A Cache is owned by a single LLS worker
// goroutine — every method here is called only from that goroutine, so no
// internal locking is needed; concurrent producers reach the cache only
// indirectly, through mailbox HOLD/PUT commands the worker drains itself.
package cache

import (
	"net"
	"time"

	"grimm.is/gatekeeper/internal/logging"
)

// ResolveSource distinguishes a solicited reply from an unsolicited
// advertisement, controlling whether a stale/resolved entry may be
// overridden (spec.md §4.3, §9 Open Questions: "follow standard ND rules").
type ResolveSource int

const (
	SourceSolicited ResolveSource = iota
	SourceUnsolicited
)

// Status is the per-record lifecycle state (spec.md §4.3).
type Status int

const (
	StatusUnresolved Status = iota
	StatusResolved
	StatusStale
	StatusProbing
)

// Result is returned by Hold to tell the caller whether its callback was
// invoked synchronously or queued for later delivery.
type Result int

const (
	ResultResolved Result = iota
	ResultPending
)

// CallbackStatus is passed to a hold's callback. CallbackOK carries a
// resolved MAC; CallbackCancelled is delivered on cache teardown.
type CallbackStatus int

const (
	CallbackOK CallbackStatus = iota
	CallbackCancelled
)

// Callback receives a resolution (or cancellation) for a held IP. It is
// always invoked on the LLS worker goroutine — producers must not assume
// immediate invocation (spec.md §4.3).
type Callback func(status CallbackStatus, mac net.HardwareAddr)

type hold struct {
	workerID uint32
	callback Callback
}

type record struct {
	mac              net.HardwareAddr
	status           Status
	lastConfirmedAt  time.Time
	pendingSentAt    time.Time // when the current solicitation (if any) went out
	holds            []hold
}

// Cache maps IP addresses to resolution records for one address family
// (ARP for IPv4, ND for IPv6) on one interface.
type Cache struct {
	family  string // "arp" or "nd", for logging only
	timeout time.Duration
	xmitReq func(ip net.IP) error // emits a new solicitation for ip

	logger  *logging.Logger
	records map[string]*record
}

// New creates a Cache for one family/interface pair. timeout is the
// per-interface TTL a resolved entry is considered fresh for; xmitReq is
// invoked by Scan to refresh a stale entry.
func New(family string, timeout time.Duration, xmitReq func(ip net.IP) error, logger *logging.Logger) *Cache {
	return &Cache{
		family:  family,
		timeout: timeout,
		xmitReq: xmitReq,
		logger:  logger,
		records: make(map[string]*record),
	}
}

func key(ip net.IP) string { return ip.String() }

// Hold subscribes worker workerID to resolution updates for ip. If the
// entry is already resolved and fresh, callback is invoked synchronously
// with the current MAC and Hold returns ResultResolved. Otherwise the
// callback is appended to the record (creating it if absent) and Hold
// returns ResultPending. At most one hold is kept per (ip, workerID); a
// second Hold from the same worker for the same ip replaces the first.
func (c *Cache) Hold(ip net.IP, workerID uint32, callback Callback, now time.Time) Result {
	k := key(ip)
	r, ok := c.records[k]
	if ok && r.status == StatusResolved && now.Sub(r.lastConfirmedAt) < c.timeout {
		callback(CallbackOK, r.mac)
		return ResultResolved
	}

	if !ok {
		r = &record{status: StatusUnresolved}
		c.records[k] = r
		if c.xmitReq != nil {
			if err := c.xmitReq(ip); err == nil {
				r.status = StatusProbing
				r.pendingSentAt = now
			}
		}
	}

	replaced := false
	for i := range r.holds {
		if r.holds[i].workerID == workerID {
			r.holds[i].callback = callback
			replaced = true
			break
		}
	}
	if !replaced {
		r.holds = append(r.holds, hold{workerID: workerID, callback: callback})
	}
	return ResultPending
}

// Put removes workerID's hold from ip's record, if any. The record
// remains eligible for scan removal once its TTL has expired and no
// holds remain.
func (c *Cache) Put(ip net.IP, workerID uint32) {
	r, ok := c.records[key(ip)]
	if !ok {
		return
	}
	for i := range r.holds {
		if r.holds[i].workerID == workerID {
			r.holds = append(r.holds[:i], r.holds[i+1:]...)
			return
		}
	}
}

// Observe merges a resolution learned from a reply or advertisement. If
// the MAC is new or changed, it updates the record, refreshes
// last_confirmed_at, and invokes every hold's callback with the new MAC.
// An unsolicited advertisement may only promote a stale/unresolved record
// or override an already-resolved one if it carries the same MAC (no
// Override-flag plumbing exists at this layer, so unsolicited updates that
// would change an already-resolved MAC are ignored — the conservative
// reading of RFC 4861 the Open Question in spec.md §9 calls for).
func (c *Cache) Observe(ip net.IP, mac net.HardwareAddr, source ResolveSource, now time.Time) {
	k := key(ip)
	r, ok := c.records[k]
	if !ok {
		r = &record{}
		c.records[k] = r
	}

	changed := r.mac == nil || !macEqual(r.mac, mac)
	if r.status == StatusResolved && changed && source == SourceUnsolicited {
		// Conservative: don't let an unsolicited advertisement hijack an
		// already-resolved entry, whether or not its TTL has elapsed.
		return
	}

	r.mac = mac
	r.status = StatusResolved
	r.lastConfirmedAt = now

	if changed || source == SourceSolicited {
		for _, h := range r.holds {
			h.callback(CallbackOK, mac)
		}
	}
}

func macEqual(a, b net.HardwareAddr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Scan is invoked periodically (spec.md: every 10s) by the owning LLS
// worker. For each record whose TTL has elapsed, it either emits a fresh
// solicitation (marking the record Probing) or removes the record if no
// holds remain to justify refreshing it.
func (c *Cache) Scan(now time.Time) {
	for ipStr, r := range c.records {
		if r.status == StatusProbing {
			continue // solicitation already in flight
		}
		if r.status != StatusResolved {
			continue
		}
		if now.Sub(r.lastConfirmedAt) < c.timeout {
			continue
		}
		r.status = StatusStale

		if len(r.holds) == 0 {
			delete(c.records, ipStr)
			continue
		}

		ip := net.ParseIP(ipStr)
		if c.xmitReq != nil && ip != nil {
			if err := c.xmitReq(ip); err == nil {
				r.status = StatusProbing
				r.pendingSentAt = now
				continue
			}
		}
		delete(c.records, ipStr)
	}
}

// Destroy tears the cache down, invoking every outstanding hold's
// callback with CallbackCancelled (spec.md §4.4: "on exit all caches are
// destroyed, which calls every remaining hold's callback with a
// cancelled status").
func (c *Cache) Destroy() {
	for _, r := range c.records {
		for _, h := range r.holds {
			h.callback(CallbackCancelled, nil)
		}
	}
	c.records = make(map[string]*record)
}

// Len reports the number of records currently tracked, for tests and
// metrics.
func (c *Cache) Len() int { return len(c.records) }
