// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package route resolves the two pieces of routing information the
// encapsulation step needs: the back interface's outer-header source
// address, and the tunnel endpoint a grantor_id names. Which tunnel a
// grantor_id maps to is an opaque decision made upstream of this module
// (spec.md §1, grantor_id is "never interpreted by this module" beyond
// this lookup); Resolver only serves the mapping it was configured
// with.
package route

import (
	"net"

	"grimm.is/gatekeeper/internal/encap"
	"grimm.is/gatekeeper/internal/errors"
)

// Resolver maps a grantor_id to its tunnel endpoint and reports the
// back interface's outer-header source address.
type Resolver interface {
	Tunnel(grantorID uint32) (encap.Tunnel, error)
	SourceAddr(family encap.Family) (net.IP, error)
}

// StaticTable is a Resolver backed by a fixed grantor_id -> Tunnel
// mapping, populated at startup from configuration.
type StaticTable struct {
	tunnels map[uint32]encap.Tunnel
	srcV4   net.IP
	srcV6   net.IP
}

// NewStaticTable builds a StaticTable from a grantor_id -> Tunnel map
// and the back interface's source addresses.
func NewStaticTable(tunnels map[uint32]encap.Tunnel, srcV4, srcV6 net.IP) *StaticTable {
	t := &StaticTable{tunnels: make(map[uint32]encap.Tunnel, len(tunnels)), srcV4: srcV4, srcV6: srcV6}
	for k, v := range tunnels {
		t.tunnels[k] = v
	}
	return t
}

// Tunnel returns the tunnel endpoint registered for grantorID.
func (t *StaticTable) Tunnel(grantorID uint32) (encap.Tunnel, error) {
	tun, ok := t.tunnels[grantorID]
	if !ok {
		return encap.Tunnel{}, errors.Errorf(errors.KindNotFound, "route: no tunnel registered for grantor %d", grantorID)
	}
	return tun, nil
}

// SourceAddr returns the back interface's address for family.
func (t *StaticTable) SourceAddr(family encap.Family) (net.IP, error) {
	switch family {
	case encap.FamilyV4:
		if t.srcV4 == nil {
			return nil, errors.New(errors.KindNotFound, "route: no v4 back interface address configured")
		}
		return t.srcV4, nil
	case encap.FamilyV6:
		if t.srcV6 == nil {
			return nil, errors.New(errors.KindNotFound, "route: no v6 back interface address configured")
		}
		return t.srcV6, nil
	default:
		return nil, errors.Errorf(errors.KindValidation, "route: unknown family %d", family)
	}
}
