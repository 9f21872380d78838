// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package worker

import (
	"net"

	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"

	"grimm.is/gatekeeper/internal/encap"
	"grimm.is/gatekeeper/internal/errors"
)

// RawEgress transmits an encapsulated outer packet over a raw AF_PACKET
// socket on the back interface, framed to a fixed next-hop MAC. This is
// the straightforward case (a default gateway or a single tunnel peer
// directly on-link); a deployment with multiple on-link tunnel peers
// needing per-destination address resolution would resolve next-hop MAC
// through the LLS cache (internal/lls/cache) instead of a fixed one.
type RawEgress struct {
	conn      *packet.Conn
	srcMAC    net.HardwareAddr
	nextHopV4 net.HardwareAddr
	nextHopV6 net.HardwareAddr
}

// NewRawEgress opens a raw socket on iface for transmitting encapsulated
// outer packets toward the given fixed next-hop MAC addresses.
func NewRawEgress(iface *net.Interface, nextHopV4, nextHopV6 net.HardwareAddr) (*RawEgress, error) {
	conn, err := packet.Listen(iface, packet.Raw, htons(unix.ETH_P_ALL), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindTxFailure, "gkworker: open egress raw socket")
	}
	return &RawEgress{conn: conn, srcMAC: iface.HardwareAddr, nextHopV4: nextHopV4, nextHopV6: nextHopV6}, nil
}

// Transmit frames outer as an Ethernet frame addressed to the next hop
// matching tunnel's family and writes it to the wire.
func (e *RawEgress) Transmit(outer []byte, tunnel encap.Tunnel) error {
	etherType := ethernet.EtherTypeIPv4
	dst := e.nextHopV4
	if tunnel.Family == encap.FamilyV6 {
		etherType = ethernet.EtherTypeIPv6
		dst = e.nextHopV6
	}
	frame := &ethernet.Frame{
		Destination: dst,
		Source:      e.srcMAC,
		EtherType:   etherType,
		Payload:     outer,
	}
	raw, err := frame.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, errors.KindTxFailure, "gkworker: marshal egress frame")
	}
	_, err = e.conn.WriteTo(raw, &packet.Addr{HardwareAddr: dst})
	if err != nil {
		return errors.Wrap(err, errors.KindTxFailure, "gkworker: write egress frame")
	}
	return nil
}

// Close releases the egress socket.
func (e *RawEgress) Close() error { return e.conn.Close() }
