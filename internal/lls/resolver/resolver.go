// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package resolver implements the per-address-family resolution
// capability the LLS worker drives (spec.md §4.3/§9): ARP for IPv4,
// Neighbor Discovery for IPv6. Both send solicitations and parse replies
// into a (source IP, resolved MAC) pair; the worker feeds that pair to a
// cache.Cache.
package resolver

import (
	"net"

	"github.com/mdlayher/ethernet"
)

// Reply is a resolved (or observed) mapping extracted from an incoming
// ARP reply/request or ND solicitation/advertisement.
type Reply struct {
	IP       net.IP
	MAC      net.HardwareAddr
	Gratuitous bool // unsolicited: ARP announcement or ND advertisement with no matching request
}

// Family is the capability a single LLS worker exercises against one
// interface for one address family.
type Family interface {
	// Solicit builds and returns the wire bytes of a solicitation for ip,
	// ready to hand to the interface's transmit path.
	Solicit(ip net.IP) ([]byte, error)

	// Parse inspects an inbound frame's L3 payload (as produced by
	// packetview.Extract) and reports any resolution it carries. ok is
	// false if the frame carries nothing relevant to this family.
	Parse(etherType ethernet.EtherType, l3Payload []byte, srcMAC net.HardwareAddr) (reply Reply, ok bool, err error)
}

// localAddr carries the resolver's own MAC/IP, needed to fill in sender
// fields of outgoing solicitations.
type localAddr struct {
	MAC net.HardwareAddr
	IP  net.IP
}
