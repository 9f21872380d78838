// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package resolver

import (
	"encoding/binary"
	"net"

	"github.com/mdlayher/ethernet"

	"grimm.is/gatekeeper/internal/errors"
)

const (
	arpHardwareEthernet = 1
	arpProtocolIPv4      = 0x0800
	arpOpRequest         = 1
	arpOpReply           = 2
)

// ARP implements Family for IPv4 (RFC 826). No ARP library appears
// anywhere in the retrieval pack, so this builds and parses the 28-byte
// Ethernet ARP payload directly — the same zero-copy-on-read,
// build-in-place style packetview.Extract uses for IP headers.
type ARP struct {
	local localAddr
}

// NewARP builds an ARP resolver that solicits as localMAC/localIP.
func NewARP(localMAC net.HardwareAddr, localIP net.IP) *ARP {
	return &ARP{local: localAddr{MAC: localMAC, IP: localIP}}
}

// Solicit builds an ARP request payload (the L3 payload the caller
// wraps in a broadcast-destination Ethernet frame) for ip.
func (a *ARP) Solicit(ip net.IP) ([]byte, error) {
	v4 := ip.To4()
	if v4 == nil {
		return nil, errors.New(errors.KindParseError, "resolver: arp solicit requires an ipv4 address")
	}
	return marshalARP(arpOpRequest, a.local.MAC, a.local.IP.To4(), net.HardwareAddr{0, 0, 0, 0, 0, 0}, v4), nil
}

// Parse recognizes ARP request/reply payloads and extracts the sender's
// (IP, MAC). Both requests (gratuitous-equivalent: every sender
// announces itself) and replies resolve the sender's own mapping; only a
// reply additionally resolves the field the caller originally asked
// about, which the worker matches by IP.
func (a *ARP) Parse(etherType ethernet.EtherType, l3Payload []byte, srcMAC net.HardwareAddr) (Reply, bool, error) {
	if etherType != ethernet.EtherTypeARP {
		return Reply{}, false, nil
	}
	if len(l3Payload) < 28 {
		return Reply{}, false, errors.New(errors.KindParseError, "resolver: truncated arp payload")
	}
	hwType := binary.BigEndian.Uint16(l3Payload[0:2])
	protoType := binary.BigEndian.Uint16(l3Payload[2:4])
	if hwType != arpHardwareEthernet || protoType != arpProtocolIPv4 {
		return Reply{}, false, nil
	}
	op := binary.BigEndian.Uint16(l3Payload[6:8])
	senderMAC := net.HardwareAddr(append([]byte(nil), l3Payload[8:14]...))
	senderIP := net.IP(append([]byte(nil), l3Payload[14:18]...))

	if op != arpOpRequest && op != arpOpReply {
		return Reply{}, false, nil
	}
	return Reply{IP: senderIP, MAC: senderMAC, Gratuitous: op == arpOpRequest}, true, nil
}

func marshalARP(op uint16, senderMAC net.HardwareAddr, senderIP net.IP, targetMAC net.HardwareAddr, targetIP net.IP) []byte {
	b := make([]byte, 28)
	binary.BigEndian.PutUint16(b[0:2], arpHardwareEthernet)
	binary.BigEndian.PutUint16(b[2:4], arpProtocolIPv4)
	b[4] = 6 // hardware address length
	b[5] = 4 // protocol address length
	binary.BigEndian.PutUint16(b[6:8], op)
	copy(b[8:14], senderMAC)
	copy(b[14:18], senderIP)
	copy(b[18:24], targetMAC)
	copy(b[24:28], targetIP)
	return b
}
