// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package route

import (
	"net"
	"testing"

	"grimm.is/gatekeeper/internal/encap"
	"grimm.is/gatekeeper/internal/errors"
)

func TestStaticTableTunnelLookup(t *testing.T) {
	want := encap.Tunnel{Family: encap.FamilyV4, Dst: net.IPv4(192, 0, 2, 10)}
	tbl := NewStaticTable(map[uint32]encap.Tunnel{5: want}, net.IPv4(10, 0, 0, 1), nil)

	got, err := tbl.Tunnel(5)
	if err != nil {
		t.Fatalf("tunnel: %v", err)
	}
	if got.Family != want.Family || !got.Dst.Equal(want.Dst) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestStaticTableUnknownGrantorIsNotFound(t *testing.T) {
	tbl := NewStaticTable(nil, nil, nil)
	_, err := tbl.Tunnel(1)
	if errors.GetKind(err) != errors.KindNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestStaticTableSourceAddrByFamily(t *testing.T) {
	v4 := net.IPv4(10, 0, 0, 1)
	v6 := net.ParseIP("2001:db8::1")
	tbl := NewStaticTable(nil, v4, v6)

	got, err := tbl.SourceAddr(encap.FamilyV4)
	if err != nil || !got.Equal(v4) {
		t.Fatalf("expected v4 addr, got %v err=%v", got, err)
	}
	got, err = tbl.SourceAddr(encap.FamilyV6)
	if err != nil || !got.Equal(v6) {
		t.Fatalf("expected v6 addr, got %v err=%v", got, err)
	}
}

func TestStaticTableMissingSourceAddrIsNotFound(t *testing.T) {
	tbl := NewStaticTable(nil, nil, nil)
	_, err := tbl.SourceAddr(encap.FamilyV4)
	if errors.GetKind(err) != errors.KindNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
