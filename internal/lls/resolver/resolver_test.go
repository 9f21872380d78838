// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package resolver

import (
	"net"
	"testing"

	"github.com/mdlayher/ethernet"
)

func TestARPSolicitAndParseRoundTrip(t *testing.T) {
	localMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	localIP := net.IPv4(10, 0, 0, 1)
	a := NewARP(localMAC, localIP)

	req, err := a.Solicit(net.IPv4(10, 0, 0, 2))
	if err != nil {
		t.Fatalf("solicit: %v", err)
	}

	reply, ok, err := a.Parse(ethernet.EtherTypeARP, req, localMAC)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ok {
		t.Fatal("expected parse to recognize its own solicitation")
	}
	if !reply.IP.Equal(localIP) {
		t.Fatalf("expected sender ip %v, got %v", localIP, reply.IP)
	}
	if reply.MAC.String() != localMAC.String() {
		t.Fatalf("expected sender mac %v, got %v", localMAC, reply.MAC)
	}
	if !reply.Gratuitous {
		t.Fatal("expected a request to be reported as gratuitous (no prior solicitation to match)")
	}
}

func TestARPParseRejectsNonARPEtherType(t *testing.T) {
	a := NewARP(net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}, net.IPv4(10, 0, 0, 1))
	_, ok, err := a.Parse(ethernet.EtherTypeIPv4, make([]byte, 28), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no match for non-ARP ethertype")
	}
}

func TestARPParseReply(t *testing.T) {
	requester := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	responder := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}
	respIP := net.IPv4(10, 0, 0, 2)

	payload := marshalARP(arpOpReply, responder, respIP.To4(), requester, net.IPv4(10, 0, 0, 1).To4())

	a := NewARP(requester, net.IPv4(10, 0, 0, 1))
	reply, ok, err := a.Parse(ethernet.EtherTypeARP, payload, responder)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ok {
		t.Fatal("expected reply to be recognized")
	}
	if reply.Gratuitous {
		t.Fatal("expected a reply not to be reported as gratuitous")
	}
	if !reply.IP.Equal(respIP) {
		t.Fatalf("expected responder ip %v, got %v", respIP, reply.IP)
	}
}

func TestNDSolicitBuildsValidPacket(t *testing.T) {
	localMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	localIP := net.ParseIP("2001:db8::1")
	n := NewND(localMAC, localIP)

	pkt, err := n.Solicit(net.ParseIP("2001:db8::2"))
	if err != nil {
		t.Fatalf("solicit: %v", err)
	}
	if len(pkt) < 40 {
		t.Fatalf("expected at least a fixed ipv6 header, got %d bytes", len(pkt))
	}
	if pkt[0]>>4 != 6 {
		t.Fatalf("expected ipv6 version nibble, got %d", pkt[0]>>4)
	}
	if pkt[6] != icmpv6ProtocolNumber {
		t.Fatalf("expected next header icmpv6, got %d", pkt[6])
	}
	if pkt[7] != 255 {
		t.Fatalf("expected hop limit 255, got %d", pkt[7])
	}
}

func TestNDParseNeighborSolicitation(t *testing.T) {
	localMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	localIP := net.ParseIP("2001:db8::1")
	remoteMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}
	remoteIP := net.ParseIP("2001:db8::2")

	responder := NewND(remoteMAC, remoteIP)
	nsPkt, err := responder.Solicit(localIP)
	if err != nil {
		t.Fatalf("solicit: %v", err)
	}

	requester := NewND(localMAC, localIP)
	reply, ok, err := requester.Parse(ethernet.EtherTypeIPv6, nsPkt, remoteMAC)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ok {
		t.Fatal("expected NS to be recognized")
	}
	if !reply.IP.Equal(remoteIP) {
		t.Fatalf("expected sender ip %v, got %v", remoteIP, reply.IP)
	}
	if reply.MAC.String() != remoteMAC.String() {
		t.Fatalf("expected source link-layer address %v, got %v", remoteMAC, reply.MAC)
	}
}
