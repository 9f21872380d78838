// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package worker implements the LLS worker (spec.md §4.4, component C4):
// a single goroutine, pinned to its own core, that polls one interface's
// raw socket, dispatches ARP/ND traffic into a cache, drains its mailbox
// for HOLD/PUT commands from GK workers, and runs a periodic scan. ND
// hand-off commands (mailbox.KindND) are dequeued and freed without
// being processed.
package worker

import (
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"

	"grimm.is/gatekeeper/internal/errors"
	"grimm.is/gatekeeper/internal/lls/cache"
	"grimm.is/gatekeeper/internal/logging"
	"grimm.is/gatekeeper/internal/mailbox"
	"grimm.is/gatekeeper/internal/lls/resolver"
)

const (
	burstSize   = 64
	scanPeriod  = 10 * time.Second
	readTimeout = 100 * time.Millisecond
)

// Families groups the resolution capability for both address families on
// one interface.
type Families struct {
	V4 resolver.Family // nil if the interface carries no IPv4 address
	V6 resolver.Family // nil if the interface carries no IPv6 address
}

// Worker owns one interface's raw socket, flow caches, and mailbox.
type Worker struct {
	name    string
	iface   *net.Interface
	conn    *packet.Conn
	caches  struct {
		v4 *cache.Cache
		v6 *cache.Cache
	}
	families Families
	mbox     *mailbox.Mailbox
	cpu      int
	logger   *logging.Logger

	exiting atomic.Bool
}

// Config configures one LLS worker.
type Config struct {
	Name     string
	Iface    *net.Interface
	Families Families
	Mailbox  *mailbox.Mailbox
	Timeout  time.Duration // entry freshness TTL, shared by both family caches
	CPU      int           // -1 to skip affinity pinning
	Logger   *logging.Logger
}

// New opens a raw AF_PACKET socket on the configured interface and
// builds the worker's caches. The socket is not pinned to the calling
// goroutine's core until Run starts.
func New(cfg Config) (*Worker, error) {
	conn, err := packet.Listen(cfg.Iface, packet.Raw, htons(unix.ETH_P_ALL), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindTxFailure, "worker: open raw socket")
	}

	w := &Worker{
		name:     cfg.Name,
		iface:    cfg.Iface,
		conn:     conn,
		families: cfg.Families,
		mbox:     cfg.Mailbox,
		cpu:      cfg.CPU,
		logger:   cfg.Logger,
	}
	w.caches.v4 = cache.New("arp", cfg.Timeout, w.xmitRequest(cfg.Families.V4), cfg.Logger)
	w.caches.v6 = cache.New("nd", cfg.Timeout, w.xmitRequest(cfg.Families.V6), cfg.Logger)
	return w, nil
}

// htons converts a host-byte-order 16-bit value to network byte order,
// the form mdlayher/packet expects for the protocol argument to Listen.
func htons(v int) int {
	return int(uint16(v)<<8 | uint16(v)>>8)
}

func (w *Worker) xmitRequest(fam resolver.Family) func(ip net.IP) error {
	return func(ip net.IP) error {
		if fam == nil {
			return errors.New(errors.KindNotEnabled, "worker: no resolver configured for this family")
		}
		payload, err := fam.Solicit(ip)
		if err != nil {
			return err
		}
		return w.sendBroadcast(payload, etherTypeFor(fam))
	}
}

func etherTypeFor(fam resolver.Family) ethernet.EtherType {
	switch fam.(type) {
	case *resolver.ARP:
		return ethernet.EtherTypeARP
	default:
		return ethernet.EtherTypeIPv6
	}
}

func (w *Worker) sendBroadcast(l3 []byte, etherType ethernet.EtherType) error {
	frame := &ethernet.Frame{
		Destination: broadcastOrMulticast(etherType, l3),
		Source:      w.iface.HardwareAddr,
		EtherType:   etherType,
		Payload:     l3,
	}
	raw, err := frame.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, errors.KindTxFailure, "worker: marshal solicitation frame")
	}
	_, err = w.conn.WriteTo(raw, &packet.Addr{HardwareAddr: frame.Destination})
	if err != nil {
		return errors.Wrap(err, errors.KindTxFailure, "worker: write solicitation")
	}
	return nil
}

// broadcastOrMulticast picks the Ethernet destination for a solicitation:
// the all-ones broadcast for ARP, or the IPv6 multicast MAC derived from
// the IPv6 destination address (33:33:xx:xx:xx:xx, the low 32 bits of the
// destination) for ND.
func broadcastOrMulticast(etherType ethernet.EtherType, l3 []byte) net.HardwareAddr {
	if etherType == ethernet.EtherTypeARP {
		return net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	}
	if len(l3) < 40 {
		return net.HardwareAddr{0x33, 0x33, 0, 0, 0, 0x01}
	}
	dst := l3[24:40]
	return net.HardwareAddr{0x33, 0x33, dst[12], dst[13], dst[14], dst[15]}
}

// Run pins the calling goroutine to its configured core (if any) and
// blocks, polling the raw socket and draining the mailbox, until Stop is
// called. It is meant to be launched with `go w.Run()`.
func (w *Worker) Run() {
	if w.cpu >= 0 {
		runtime.LockOSThread()
		if err := pinToCPU(w.cpu); err != nil && w.logger != nil {
			w.logger.WithError(err).Warn("worker: failed to pin to cpu", "cpu", w.cpu)
		}
	}

	buf := make([]byte, 65536)
	lastScan := time.Now()

	for !w.exiting.Load() {
		_ = w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		w.pollOnce(buf)
		w.drainMailbox()

		if time.Since(lastScan) >= scanPeriod {
			now := time.Now()
			w.caches.v4.Scan(now)
			w.caches.v6.Scan(now)
			lastScan = now
		}
	}

	w.caches.v4.Destroy()
	w.caches.v6.Destroy()
	_ = w.conn.Close()
}

func (w *Worker) pollOnce(buf []byte) {
	for i := 0; i < burstSize; i++ {
		n, _, err := w.conn.ReadFrom(buf)
		if err != nil {
			return // deadline hit or transient error; resume next loop iteration
		}
		w.handleFrame(buf[:n])
	}
}

func (w *Worker) handleFrame(raw []byte) {
	var f ethernet.Frame
	if err := (&f).UnmarshalBinary(raw); err != nil {
		return
	}

	var fam resolver.Family
	var c *cache.Cache
	switch f.EtherType {
	case ethernet.EtherTypeARP:
		fam, c = w.families.V4, w.caches.v4
	case ethernet.EtherTypeIPv6:
		fam, c = w.families.V6, w.caches.v6
	default:
		return
	}
	if fam == nil {
		return
	}

	reply, ok, err := fam.Parse(f.EtherType, f.Payload, f.Source)
	if err != nil {
		if w.logger != nil {
			w.logger.WithError(err).Debug("worker: discarding malformed resolution frame")
		}
		return
	}
	if !ok {
		return
	}

	source := cache.SourceSolicited
	if reply.Gratuitous {
		source = cache.SourceUnsolicited
	}
	c.Observe(reply.IP, reply.MAC, source, time.Now())
}

// drainMailbox processes a bounded burst of queued commands per loop
// iteration so one LLS worker cannot be monopolized by a single noisy GK
// worker (spec.md §4.4).
func (w *Worker) drainMailbox() {
	if w.mbox == nil {
		return
	}
	cmds := w.mbox.DequeueBurst(burstSize)
	now := time.Now()
	for _, cmd := range cmds {
		w.handleCommand(cmd, now)
		_ = w.mbox.Free(cmd)
	}
}

func (w *Worker) handleCommand(cmd mailbox.Command, now time.Time) {
	switch cmd.Kind {
	case mailbox.KindHold:
		req, ok := cmd.Payload.(HoldRequest)
		if !ok {
			return
		}
		c := w.cacheFor(req.IP)
		if c == nil {
			req.Callback(cache.CallbackCancelled, nil)
			return
		}
		c.Hold(req.IP, req.WorkerID, req.Callback, now)
	case mailbox.KindPut:
		req, ok := cmd.Payload.(PutRequest)
		if !ok {
			return
		}
		if c := w.cacheFor(req.IP); c != nil {
			c.Put(req.IP, req.WorkerID)
		}
	}
}

func (w *Worker) cacheFor(ip net.IP) *cache.Cache {
	if ip.To4() != nil {
		return w.caches.v4
	}
	return w.caches.v6
}

// HoldRequest is the payload of a mailbox.KindHold command.
type HoldRequest struct {
	IP       net.IP
	WorkerID uint32
	Callback cache.Callback
}

// PutRequest is the payload of a mailbox.KindPut command.
type PutRequest struct {
	IP       net.IP
	WorkerID uint32
}

// Stop requests the worker's Run loop to exit after its current
// iteration. It is safe to call from any goroutine.
func (w *Worker) Stop() { w.exiting.Store(true) }

// Close releases the worker's raw socket directly, for callers unwinding
// a partially constructed startup before Run was ever called.
func (w *Worker) Close() error { return w.conn.Close() }
