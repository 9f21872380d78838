// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package resolver

import (
	"encoding/binary"
	"net"

	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/ndp"

	"grimm.is/gatekeeper/internal/errors"
)

const icmpv6ProtocolNumber = 58

// ND implements Family for IPv6 Neighbor Discovery (RFC 4861), built
// directly on the wire message types from github.com/mdlayher/ndp rather
// than that package's own Conn, since solicitations here are transmitted
// over the same raw AF_PACKET socket GK shares for packet capture
// (spec.md §6) instead of a dedicated ICMPv6 socket.
type ND struct {
	local localAddr
}

// NewND builds an ND resolver that solicits as localMAC/localIP.
func NewND(localMAC net.HardwareAddr, localIP net.IP) *ND {
	return &ND{local: localAddr{MAC: localMAC, IP: localIP}}
}

// Solicit builds a Neighbor Solicitation's IPv6+ICMPv6 payload (the L3
// payload onward; the caller prepends the Ethernet header) targeting ip.
func (n *ND) Solicit(ip net.IP) ([]byte, error) {
	ns := &ndp.NeighborSolicitation{
		TargetAddress: ip,
		Options: []ndp.Option{
			&ndp.LinkLayerAddress{
				Direction: ndp.Source,
				Addr:      n.local.MAC,
			},
		},
	}
	body, err := ndp.MarshalMessage(ns)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindParseError, "resolver: marshal neighbor solicitation")
	}

	dst := solicitedNodeMulticast(ip)
	return buildIPv6ICMP(n.local.IP, dst, body), nil
}

// Parse inspects an ICMPv6 payload for Neighbor Advertisement or
// Solicitation messages carrying a link-layer address option.
func (n *ND) Parse(etherType ethernet.EtherType, l3Payload []byte, srcMAC net.HardwareAddr) (Reply, bool, error) {
	if etherType != ethernet.EtherTypeIPv6 {
		return Reply{}, false, nil
	}
	if len(l3Payload) < 40 || l3Payload[6] != icmpv6ProtocolNumber {
		return Reply{}, false, nil
	}
	src := net.IP(append([]byte(nil), l3Payload[8:24]...))
	icmp := l3Payload[40:]
	if len(icmp) < 1 {
		return Reply{}, false, nil
	}

	msg, err := ndp.ParseMessage(icmp)
	if err != nil {
		return Reply{}, false, errors.Wrap(err, errors.KindParseError, "resolver: parse icmpv6 message")
	}

	switch m := msg.(type) {
	case *ndp.NeighborAdvertisement:
		mac := linkLayerAddrFromOptions(m.Options, ndp.Target)
		if mac == nil {
			mac = srcMAC
		}
		return Reply{IP: m.TargetAddress, MAC: mac, Gratuitous: !m.Solicited}, true, nil
	case *ndp.NeighborSolicitation:
		mac := linkLayerAddrFromOptions(m.Options, ndp.Source)
		if mac == nil {
			mac = srcMAC
		}
		if mac == nil || src.IsUnspecified() {
			return Reply{}, false, nil
		}
		return Reply{IP: src, MAC: mac, Gratuitous: true}, true, nil
	default:
		return Reply{}, false, nil
	}
}

func linkLayerAddrFromOptions(opts []ndp.Option, dir ndp.Direction) net.HardwareAddr {
	for _, o := range opts {
		if lla, ok := o.(*ndp.LinkLayerAddress); ok && lla.Direction == dir {
			return lla.Addr
		}
	}
	return nil
}

// solicitedNodeMulticast mirrors packetview.SolicitedNodeMulticast; kept
// local to avoid an import cycle (packetview does not depend on resolver
// and shouldn't need to).
func solicitedNodeMulticast(unicast net.IP) net.IP {
	u := unicast.To16()
	if u == nil {
		return nil
	}
	group := make(net.IP, 16)
	group[0], group[1] = 0xff, 0x02
	group[11] = 0x01
	group[12] = 0xff
	group[13], group[14], group[15] = u[13], u[14], u[15]
	return group
}

// buildIPv6ICMP assembles a fixed IPv6 header plus ICMPv6 body with a
// correct checksum over the RFC 2460 pseudo-header.
func buildIPv6ICMP(src, dst net.IP, icmpBody []byte) []byte {
	out := make([]byte, 40+len(icmpBody))
	out[0] = 0x60
	binary.BigEndian.PutUint16(out[4:6], uint16(len(icmpBody)))
	out[6] = icmpv6ProtocolNumber
	out[7] = 255 // hop limit must be 255 for NDP to be accepted
	copy(out[8:24], src.To16())
	copy(out[24:40], dst.To16())
	copy(out[40:], icmpBody)

	checksum := icmpv6Checksum(src.To16(), dst.To16(), out[40:])
	binary.BigEndian.PutUint16(out[40+2:40+4], checksum)
	return out
}

func icmpv6Checksum(src, dst net.IP, icmp []byte) uint16 {
	pseudo := make([]byte, 0, 40+len(icmp))
	pseudo = append(pseudo, src...)
	pseudo = append(pseudo, dst...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(icmp)))
	pseudo = append(pseudo, lenBuf[:]...)
	pseudo = append(pseudo, 0, 0, 0, icmpv6ProtocolNumber)

	body := append(append([]byte(nil), icmp...))
	body[2], body[3] = 0, 0 // zero checksum field before computing
	pseudo = append(pseudo, body...)

	return ones16Checksum(pseudo)
}

func ones16Checksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
