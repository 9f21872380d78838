// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package packetview implements the zero-copy Ethernet/IPv4/IPv6 header
// walk (spec.md §4.2, component C2). Extract never copies the packet
// payload; it returns a View whose L3Payload slice aliases the input
// buffer.
package packetview

import (
	"encoding/binary"
	"net"

	"github.com/mdlayher/ethernet"

	"grimm.is/gatekeeper/internal/errors"
)

// Family is the IP address family of a flow key.
type Family uint8

const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

const (
	ipv6NextHeaderICMPv6 = 58
	icmpv6TypeNS         = 135
	icmpv6TypeNA         = 136
)

// FlowKey is the tuple compared for bitwise equality and fed to the RSS
// hash (spec.md §3). Src and Dst each hold an IPv4 address in their first
// 4 bytes (zero padded) or a full IPv6 address; L4 is reserved for future per-port
// extension and is always zero today.
type FlowKey struct {
	Family Family
	Src    [16]byte
	Dst    [16]byte
	L4     uint32
}

// Bytes returns key's fixed-layout encoding, suitable as an eBPF map key.
func (k FlowKey) Bytes() [37]byte {
	var b [37]byte
	b[0] = byte(k.Family)
	copy(b[1:17], k.Src[:])
	copy(b[17:33], k.Dst[:])
	b[33] = byte(k.L4 >> 24)
	b[34] = byte(k.L4 >> 16)
	b[35] = byte(k.L4 >> 8)
	b[36] = byte(k.L4)
	return b
}

// NewFlowKeyV4 builds a FlowKey from two IPv4 addresses.
func NewFlowKeyV4(src, dst net.IP) FlowKey {
	var k FlowKey
	k.Family = FamilyV4
	copy(k.Src[:4], src.To4())
	copy(k.Dst[:4], dst.To4())
	return k
}

// NewFlowKeyV6 builds a FlowKey from two IPv6 addresses.
func NewFlowKeyV6(src, dst net.IP) FlowKey {
	var k FlowKey
	k.Family = FamilyV6
	copy(k.Src[:], src.To16())
	copy(k.Dst[:], dst.To16())
	return k
}

// View is the parsed result of Extract: a flow key plus protocol hints and
// a reference to the original packet buffer. L3Payload aliases pkt; it is
// not a copy.
type View struct {
	FlowKey    FlowKey
	EtherType  ethernet.EtherType
	NextHeader uint8 // IPv6 fixed-header next-header field, or IPv4 protocol
	L3Len      uint16
	SrcMAC     net.HardwareAddr
	DstMAC     net.HardwareAddr
	L3         []byte // the full L3 packet (header+payload), aliases pkt
	L3Payload  []byte // payload following the L3 header, aliases pkt
	raw        []byte // the full frame, aliases pkt
}

// MbufRef returns the full original frame buffer backing this View, for
// callers (encapsulation, LLS hand-off) that need the whole frame rather
// than just the L3 payload.
func (v *View) MbufRef() []byte { return v.raw }

// Extract parses an Ethernet frame and returns its flow key and protocol
// hints. It returns a parse-error for anything that is not an IPv4 or
// IPv6 frame with a fixed (extension-header-free) header — spec.md §4.2
// explicitly rejects IPv6 extension headers.
func Extract(pkt []byte) (*View, error) {
	var f ethernet.Frame
	if err := (&f).UnmarshalBinary(pkt); err != nil {
		return nil, errors.Wrap(err, errors.KindParseError, "packetview: ethernet unmarshal failed")
	}

	headerLen := ethernetHeaderLen(pkt, &f)
	l3 := pkt[headerLen:]

	switch f.EtherType {
	case ethernet.EtherTypeIPv4:
		return extractIPv4(&f, l3, pkt)
	case ethernet.EtherTypeIPv6:
		return extractIPv6(&f, l3, pkt)
	default:
		return nil, errors.Errorf(errors.KindParseError, "packetview: unsupported ethertype %#04x", uint16(f.EtherType))
	}
}

// ethernetHeaderLen returns how many leading bytes of pkt the Ethernet
// header (including an optional VLAN tag) occupies, matching what
// ethernet.Frame.UnmarshalBinary consumed.
func ethernetHeaderLen(pkt []byte, f *ethernet.Frame) int {
	const baseHeader = 14
	if f.VLAN != nil {
		return baseHeader + 4
	}
	return baseHeader
}

func extractIPv4(f *ethernet.Frame, l3, raw []byte) (*View, error) {
	if len(l3) < 20 {
		return nil, errors.New(errors.KindParseError, "packetview: truncated ipv4 header")
	}
	ihl := int(l3[0]&0x0f) * 4
	if ihl < 20 || len(l3) < ihl {
		return nil, errors.New(errors.KindParseError, "packetview: invalid ipv4 ihl")
	}
	totalLen := binary.BigEndian.Uint16(l3[2:4])
	proto := l3[9]
	src := net.IP(append([]byte(nil), l3[12:16]...))
	dst := net.IP(append([]byte(nil), l3[16:20]...))

	end := int(totalLen)
	if end > len(l3) {
		end = len(l3)
	}

	v := &View{
		FlowKey:    NewFlowKeyV4(src, dst),
		EtherType:  ethernet.EtherTypeIPv4,
		NextHeader: proto,
		L3Len:      totalLen,
		SrcMAC:     f.Source,
		DstMAC:     f.Destination,
		L3:         l3[:end],
		L3Payload:  l3[ihl:],
		raw:        raw,
	}
	return v, nil
}

func extractIPv6(f *ethernet.Frame, l3, raw []byte) (*View, error) {
	if len(l3) < 40 {
		return nil, errors.New(errors.KindParseError, "packetview: truncated ipv6 header")
	}
	payloadLen := binary.BigEndian.Uint16(l3[4:6])
	nextHeader := l3[6]
	src := net.IP(append([]byte(nil), l3[8:24]...))
	dst := net.IP(append([]byte(nil), l3[24:40]...))

	end := 40 + int(payloadLen)
	if end > len(l3) {
		end = len(l3)
	}

	v := &View{
		FlowKey:    NewFlowKeyV6(src, dst),
		EtherType:  ethernet.EtherTypeIPv6,
		NextHeader: nextHeader,
		L3Len:      payloadLen,
		SrcMAC:     f.Source,
		DstMAC:     f.Destination,
		L3:         l3[:end],
		L3Payload:  l3[40:],
		raw:        raw,
	}
	return v, nil
}

// InterfaceAddrs is the subset of an interface's configured addresses
// needed to recognize traffic destined to it: its unicast addresses and
// the solicited-node multicast groups derived from them, plus the
// link-local all-nodes scope used by ND.
type InterfaceAddrs struct {
	Unicast   []net.IP
	Multicast []net.IP
}

// Contains reports whether ip matches one of the interface's unicast or
// multicast addresses.
func (a InterfaceAddrs) Contains(ip net.IP) bool {
	for _, u := range a.Unicast {
		if u.Equal(ip) {
			return true
		}
	}
	for _, m := range a.Multicast {
		if m.Equal(ip) {
			return true
		}
	}
	return false
}

// SolicitedNodeMulticast derives the IPv6 solicited-node multicast address
// for a unicast address, per RFC 4291 §2.7.1: ff02::1:ffXX:XXXX built from
// the low 24 bits of the unicast address.
func SolicitedNodeMulticast(unicast net.IP) net.IP {
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

// IsND reports whether view is an IPv6 Neighbor Solicitation or
// Advertisement destined to one of the given interface's addresses
// (spec.md §4.2).
func IsND(v *View, iface InterfaceAddrs) bool {
	if v.FlowKey.Family != FamilyV6 {
		return false
	}
	if v.NextHeader != ipv6NextHeaderICMPv6 {
		return false
	}
	if len(v.L3Payload) < 1 {
		return false
	}
	icmpType := v.L3Payload[0]
	if icmpType != icmpv6TypeNS && icmpType != icmpv6TypeNA {
		return false
	}
	dst := net.IP(v.FlowKey.Dst[:])
	return iface.Contains(dst)
}
