// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package encap

import (
	"net"
	"testing"

	"golang.org/x/net/ipv4"
)

func TestEncapsulateV4WritesDSCPAndLengths(t *testing.T) {
	inner := make([]byte, 100)
	out, err := Encapsulate(inner, FamilyV4, 13, net.IPv4(10, 0, 0, 1), Tunnel{Family: FamilyV4, Dst: net.IPv4(192, 0, 2, 1)})
	if err != nil {
		t.Fatalf("encapsulate: %v", err)
	}
	h, err := ipv4.ParseHeader(out[:ipv4.HeaderLen])
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if h.TOS>>2 != 13 {
		t.Fatalf("expected dscp 13 in tos byte, got tos=%d", h.TOS)
	}
	if h.TotalLen != ipv4.HeaderLen+len(inner) {
		t.Fatalf("expected total len %d, got %d", ipv4.HeaderLen+len(inner), h.TotalLen)
	}
	if len(out) != ipv4.HeaderLen+len(inner) {
		t.Fatalf("expected output length %d, got %d", ipv4.HeaderLen+len(inner), len(out))
	}
}

func TestEncapsulateV4InnerPayloadUntouched(t *testing.T) {
	inner := []byte{1, 2, 3, 4, 5}
	out, err := Encapsulate(inner, FamilyV4, 1, net.IPv4(10, 0, 0, 1), Tunnel{Family: FamilyV4, Dst: net.IPv4(192, 0, 2, 1)})
	if err != nil {
		t.Fatalf("encapsulate: %v", err)
	}
	got := out[len(out)-len(inner):]
	for i := range inner {
		if got[i] != inner[i] {
			t.Fatalf("inner payload mutated at byte %d: want %d got %d", i, inner[i], got[i])
		}
	}
}

func TestEncapsulateV6WritesTrafficClass(t *testing.T) {
	inner := make([]byte, 40)
	src := net.ParseIP("2001:db8::1")
	dst := net.ParseIP("2001:db8::2")
	out, err := Encapsulate(inner, FamilyV6, 63, src, Tunnel{Family: FamilyV6, Dst: dst})
	if err != nil {
		t.Fatalf("encapsulate: %v", err)
	}
	if len(out) != ipv6HeaderLen+len(inner) {
		t.Fatalf("expected length %d, got %d", ipv6HeaderLen+len(inner), len(out))
	}
	if out[0]>>4 != 6 {
		t.Fatalf("expected version 6, got %d", out[0]>>4)
	}
	trafficClass := (out[0]&0x0f)<<4 | out[1]>>4
	if trafficClass>>2 != 63 {
		t.Fatalf("expected dscp 63, got %d", trafficClass>>2)
	}
}

func TestEncapsulateRejectsUnknownFamily(t *testing.T) {
	_, err := Encapsulate(nil, FamilyV4, 0, net.IPv4(10, 0, 0, 1), Tunnel{Family: Family(9)})
	if err == nil {
		t.Fatal("expected an error for an unknown tunnel family")
	}
}
