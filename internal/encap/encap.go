// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package encap implements encapsulation (spec.md §4.8, component C8):
// prepending an outer IP-in-IP header onto a packet bound for the
// request or granted egress path, writing the classification's DSCP into the
// outer header's Traffic Class/ToS byte. The contract is write-only on
// the outer header; the inner packet is never modified.
package encap

import (
	"net"

	"golang.org/x/net/ipv4"

	"grimm.is/gatekeeper/internal/errors"
)

// Family selects the outer header's IP version.
type Family int

const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

// Tunnel names a tunnel endpoint: the outer header's family and
// destination, opaque to everything but the encapsulation step (spec.md
// §1, tunnel is a collaborator-resolved descriptor).
type Tunnel struct {
	Family Family
	Dst    net.IP
}

// protocolIPIP and protocolIPv6 are the outer header's next-protocol
// values for carrying an IPv4-in-IP or IPv6-in-IP inner packet.
const (
	protocolIPIP  = 4
	protocolIPv6  = 41
	ipv6HeaderLen = 40
)

// Encapsulate prepends an outer header onto inner, writing dscp into
// the outer Traffic Class/ToS byte, src as the back-interface address,
// and tunnel.Dst as the outer destination. innerFamily names the inner
// packet's own IP version, used to pick the outer next-protocol value.
func Encapsulate(inner []byte, innerFamily Family, dscp uint8, src net.IP, tunnel Tunnel) ([]byte, error) {
	switch tunnel.Family {
	case FamilyV4:
		return encapV4(inner, innerFamily, dscp, src, tunnel.Dst)
	case FamilyV6:
		return encapV6(inner, innerFamily, dscp, src, tunnel.Dst)
	default:
		return nil, errors.Errorf(errors.KindValidation, "encap: unknown tunnel family %d", tunnel.Family)
	}
}

func innerProtocol(f Family) int {
	if f == FamilyV6 {
		return protocolIPv6
	}
	return protocolIPIP
}

func encapV4(inner []byte, innerFamily Family, dscp uint8, src, dst net.IP) ([]byte, error) {
	src4 := src.To4()
	dst4 := dst.To4()
	if src4 == nil || dst4 == nil {
		return nil, errors.New(errors.KindValidation, "encap: v4 tunnel requires v4 src/dst")
	}
	h := &ipv4.Header{
		Version:  4,
		Len:      ipv4.HeaderLen,
		TOS:      int(dscp) << 2, // DSCP occupies the top 6 bits of the ToS byte
		TotalLen: ipv4.HeaderLen + len(inner),
		TTL:      64,
		Protocol: innerProtocol(innerFamily),
		Src:      src4,
		Dst:      dst4,
	}
	hdr, err := h.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "encap: marshal outer ipv4 header")
	}
	fixIPv4Checksum(hdr)
	out := make([]byte, 0, len(hdr)+len(inner))
	out = append(out, hdr...)
	out = append(out, inner...)
	return out, nil
}

// fixIPv4Checksum recomputes the header checksum; ipv4.Header.Marshal
// does not compute one (the caller is expected to be a raw socket that
// lets the kernel do it, which this encapsulation path bypasses).
func fixIPv4Checksum(hdr []byte) {
	hdr[10], hdr[11] = 0, 0
	var sum uint32
	for i := 0; i+1 < len(hdr); i += 2 {
		sum += uint32(hdr[i])<<8 | uint32(hdr[i+1])
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	c := ^uint16(sum)
	hdr[10] = byte(c >> 8)
	hdr[11] = byte(c)
}

func encapV6(inner []byte, innerFamily Family, dscp uint8, src, dst net.IP) ([]byte, error) {
	src16 := src.To16()
	dst16 := dst.To16()
	if src16 == nil || dst16 == nil {
		return nil, errors.New(errors.KindValidation, "encap: v6 tunnel requires v6 src/dst")
	}
	hdr := make([]byte, ipv6HeaderLen)
	trafficClass := dscp << 2 // DSCP occupies the top 6 bits of the traffic class byte
	hdr[0] = 0x60 | (trafficClass >> 4)
	hdr[1] = (trafficClass << 4) & 0xf0
	payloadLen := len(inner)
	hdr[4] = byte(payloadLen >> 8)
	hdr[5] = byte(payloadLen)
	hdr[6] = byte(innerProtocol(innerFamily))
	hdr[7] = 64 // hop limit
	copy(hdr[8:24], src16)
	copy(hdr[24:40], dst16)
	out := make([]byte, 0, len(hdr)+len(inner))
	out = append(out, hdr...)
	out = append(out, inner...)
	return out, nil
}
