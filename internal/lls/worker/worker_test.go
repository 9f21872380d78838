// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package worker

import (
	"net"
	"testing"
	"time"

	"github.com/mdlayher/ethernet"

	"grimm.is/gatekeeper/internal/lls/cache"
	"grimm.is/gatekeeper/internal/lls/resolver"
	"grimm.is/gatekeeper/internal/mailbox"
)

func newTestWorker() *Worker {
	w := &Worker{
		iface: &net.Interface{HardwareAddr: net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}},
	}
	w.families.V4 = resolver.NewARP(w.iface.HardwareAddr, net.IPv4(10, 0, 0, 1))
	w.families.V6 = resolver.NewND(w.iface.HardwareAddr, net.ParseIP("2001:db8::1"))
	w.caches.v4 = cache.New("arp", time.Minute, func(net.IP) error { return nil }, nil)
	w.caches.v6 = cache.New("nd", time.Minute, func(net.IP) error { return nil }, nil)
	return w
}

func TestHtonsSwapsBytes(t *testing.T) {
	if got := htons(0x0003); got != 0x0300 {
		t.Fatalf("expected 0x0300, got %#04x", got)
	}
}

func TestBroadcastOrMulticastARP(t *testing.T) {
	dst := broadcastOrMulticast(ethernet.EtherTypeARP, nil)
	want := net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if dst.String() != want.String() {
		t.Fatalf("expected broadcast mac, got %v", dst)
	}
}

func TestBroadcastOrMulticastND(t *testing.T) {
	l3 := make([]byte, 40)
	copy(l3[24:40], net.ParseIP("ff02::1:ffab:cdef").To16())
	dst := broadcastOrMulticast(ethernet.EtherTypeIPv6, l3)
	if dst[0] != 0x33 || dst[1] != 0x33 {
		t.Fatalf("expected multicast mac prefix 33:33, got %v", dst)
	}
}

func TestCacheForPicksFamilyByIPVersion(t *testing.T) {
	w := newTestWorker()
	if w.cacheFor(net.IPv4(10, 0, 0, 5)) != w.caches.v4 {
		t.Fatal("expected ipv4 address to route to v4 cache")
	}
	if w.cacheFor(net.ParseIP("2001:db8::5")) != w.caches.v6 {
		t.Fatal("expected ipv6 address to route to v6 cache")
	}
}

func TestHandleCommandHoldAndPut(t *testing.T) {
	w := newTestWorker()
	now := time.Now()

	fired := false
	w.handleCommand(mailbox.Command{
		Kind: mailbox.KindHold,
		Payload: HoldRequest{
			IP:       net.IPv4(10, 0, 0, 5),
			WorkerID: 1,
			Callback: func(status cache.CallbackStatus, mac net.HardwareAddr) {
				fired = true
			},
		},
	}, now)

	if w.caches.v4.Len() != 1 {
		t.Fatalf("expected hold to create a pending record, got len %d", w.caches.v4.Len())
	}

	w.handleCommand(mailbox.Command{
		Kind: mailbox.KindPut,
		Payload: PutRequest{
			IP:       net.IPv4(10, 0, 0, 5),
			WorkerID: 1,
		},
	}, now)

	w.caches.v4.Destroy()
	if fired {
		t.Fatal("expected put to have cancelled the hold before destroy")
	}
}

func TestHandleFrameARPObservesSender(t *testing.T) {
	w := newTestWorker()

	senderMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}
	senderIP := net.IPv4(10, 0, 0, 9)
	payload, err := resolver.NewARP(senderMAC, senderIP).Solicit(net.IPv4(10, 0, 0, 1))
	if err != nil {
		t.Fatalf("solicit: %v", err)
	}
	f := &ethernet.Frame{
		Destination: net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Source:      senderMAC,
		EtherType:   ethernet.EtherTypeARP,
		Payload:     payload,
	}
	raw, err := f.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	w.handleFrame(raw)

	if w.caches.v4.Len() != 1 {
		t.Fatalf("expected observed ARP sender to populate cache, got len %d", w.caches.v4.Len())
	}
}
