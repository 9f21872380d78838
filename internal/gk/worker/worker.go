// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package worker implements the GK worker (spec.md §4, §5, §6): one
// goroutine pinned to one core, owning a single-writer flow table,
// polling its front-interface raw socket for packets and its mailbox
// for POLICY_ADD commands, classifying each packet through the flow
// state machine, and handing every packet it does not drop (REQUEST and
// GRANTED alike) to encapsulation and egress.
package worker

import (
	"fmt"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"

	"grimm.is/gatekeeper/internal/clock"
	"grimm.is/gatekeeper/internal/encap"
	"grimm.is/gatekeeper/internal/errors"
	"grimm.is/gatekeeper/internal/gk/flowtable"
	"grimm.is/gatekeeper/internal/gk/policy"
	"grimm.is/gatekeeper/internal/gk/statemachine"
	"grimm.is/gatekeeper/internal/logging"
	"grimm.is/gatekeeper/internal/mailbox"
	"grimm.is/gatekeeper/internal/metrics"
	"grimm.is/gatekeeper/internal/packetview"
	"grimm.is/gatekeeper/internal/route"
)

const (
	burstSize     = 32 // spec.md §6: "Poll-mode receive and transmit; burst size 32"
	policyBurst   = 32 // spec.md §4.7: "up to 32 policy commands per loop iteration"
	readTimeout   = 100 * time.Millisecond
)

// Egress transmits an already-encapsulated outer packet toward its
// tunnel endpoint. Concrete implementations own the L2 framing/next-hop
// addressing; this package only ever hands over a fully built outer
// packet.
type Egress interface {
	Transmit(outer []byte, tunnel encap.Tunnel) error
}

// Worker owns one core's flow table, raw socket, and mailbox.
type Worker struct {
	id     uint32
	iface  *net.Interface
	conn   *packet.Conn
	table  *flowtable.Table
	mbox   *mailbox.Mailbox
	rssKey [40]byte
	route  route.Resolver
	egress Egress
	clk    clock.Source
	logger *logging.Logger
	cpu    int
	label  string
	met    *metrics.Metrics

	exiting atomic.Bool
}

// Config configures one GK worker.
type Config struct {
	ID       uint32
	Iface    *net.Interface
	TableCap int
	Mailbox  *mailbox.Mailbox
	RSSKey   [40]byte
	Route    route.Resolver
	Egress   Egress
	Clock    clock.Source
	CPU      int // -1 to skip affinity pinning
	Logger   *logging.Logger
	Metrics  *metrics.Metrics // nil disables per-worker Prometheus counters
}

// New opens a raw AF_PACKET socket on the configured interface and
// builds the worker's flow table.
func New(cfg Config) (*Worker, error) {
	conn, err := packet.Listen(cfg.Iface, packet.Raw, htons(unix.ETH_P_ALL), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindTxFailure, "gkworker: open raw socket")
	}
	return &Worker{
		id:     cfg.ID,
		iface:  cfg.Iface,
		conn:   conn,
		table:  flowtable.New(cfg.TableCap),
		mbox:   cfg.Mailbox,
		rssKey: cfg.RSSKey,
		route:  cfg.Route,
		egress: cfg.Egress,
		clk:    cfg.Clock,
		cpu:    cfg.CPU,
		logger: cfg.Logger,
		label:  fmt.Sprintf("gk-%d", cfg.ID),
		met:    cfg.Metrics,
	}, nil
}

// incDropped bumps the dropped-packet counter labeled with reason, a no-op
// when the worker has no metrics registered.
func (w *Worker) incDropped(reason string) {
	if w.met == nil {
		return
	}
	w.met.PacketsDropped.WithLabelValues(w.label, reason).Inc()
}

func htons(v int) int {
	return int(uint16(v)<<8 | uint16(v)>>8)
}

// statemachineLog returns w.logger as a statemachine.Log, or a nil
// interface if no logger is configured — avoiding the typed-nil-pointer
// trap of handing a nil *logging.Logger straight to an interface
// parameter, which would make the callee's `log != nil` check true and
// then panic on call.
func (w *Worker) statemachineLog() statemachine.Log {
	if w.logger == nil {
		return nil
	}
	return w.logger
}

func (w *Worker) policyLog() policy.Log {
	if w.logger == nil {
		return nil
	}
	return w.logger
}

// Run pins the calling goroutine to its configured core (if any) and
// loops polling the socket and mailbox until Stop is called.
func (w *Worker) Run() {
	if w.cpu >= 0 {
		runtime.LockOSThread()
		if err := pinToCPU(w.cpu); err != nil && w.logger != nil {
			w.logger.WithError(err).Warn("gkworker: failed to pin to cpu", "cpu", w.cpu)
		}
	}

	buf := make([]byte, 65536)
	for !w.exiting.Load() {
		_ = w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		w.pollOnce(buf)
		w.drainMailbox()
	}
	_ = w.conn.Close()
}

// Stop requests loop exit; may be called from any goroutine.
func (w *Worker) Stop() { w.exiting.Store(true) }

// Close releases the worker's raw socket directly, for callers unwinding
// a partially constructed startup before Run was ever called.
func (w *Worker) Close() error { return w.conn.Close() }

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
	view, err := packetview.Extract(raw)
	if err != nil {
		if w.logger != nil {
			w.logger.WithError(err).Warn("gkworker: dropping unparsable frame")
		}
		if w.met != nil {
			w.met.ParseError.WithLabelValues(w.label).Inc()
		}
		w.incDropped("parse_error")
		return
	}

	now := w.clk.Now()
	hash := view.FlowKey.Hash(w.rssKey)
	idx, err := w.table.Insert(view.FlowKey, hash, func(e *statemachine.Entry) {
		statemachine.InitRequest(e, now)
	})
	if err != nil {
		if w.logger != nil {
			w.logger.WithError(err).Warn("gkworker: flow table full, dropping packet")
		}
		if w.met != nil {
			w.met.TableFull.WithLabelValues(w.label).Inc()
		}
		w.incDropped("table_full")
		return
	}

	entry := &w.table.Entries[idx]
	stateBefore := entry.State
	outcome, err := statemachine.Classify(entry, now, int(view.L3Len), w.statemachineLog())
	if err != nil {
		if w.logger != nil {
			w.logger.WithError(err).Warn("gkworker: classify failed, dropping packet")
		}
		w.incDropped("bad_state")
		return
	}
	if outcome.Drop {
		if stateBefore == statemachine.StateGranted {
			if w.met != nil {
				w.met.BudgetExhausted.WithLabelValues(w.label).Inc()
			}
			w.incDropped("budget_exhausted")
		} else {
			if w.met != nil {
				w.met.PacketsDeclined.WithLabelValues(w.label).Inc()
			}
			w.incDropped("declined")
		}
		return
	}
	if w.met != nil {
		switch stateBefore {
		case statemachine.StateRequest:
			w.met.PacketsRequest.WithLabelValues(w.label).Inc()
		case statemachine.StateGranted:
			w.met.PacketsGranted.WithLabelValues(w.label).Inc()
		}
	}

	w.transmit(view, outcome, entry.GrantorID)
}

func (w *Worker) transmit(view *packetview.View, outcome statemachine.Outcome, grantorID uint32) {
	tunnel, err := w.route.Tunnel(grantorID)
	if err != nil {
		if w.logger != nil {
			w.logger.WithError(err).Warn("gkworker: no tunnel for grantor, dropping packet", "grantor", grantorID)
		}
		return
	}
	src, err := w.route.SourceAddr(tunnel.Family)
	if err != nil {
		if w.logger != nil {
			w.logger.WithError(err).Warn("gkworker: no back-interface source address, dropping packet")
		}
		return
	}

	innerFamily := encap.FamilyV4
	if view.FlowKey.Family == packetview.FamilyV6 {
		innerFamily = encap.FamilyV6
	}

	outer, err := encap.Encapsulate(view.L3, innerFamily, outcome.DSCP, src, tunnel)
	if err != nil {
		if w.logger != nil {
			w.logger.WithError(err).Warn("gkworker: encapsulation failed, dropping packet")
		}
		return
	}
	if err := w.egress.Transmit(outer, tunnel); err != nil {
		if w.logger != nil {
			w.logger.WithError(err).Warn("gkworker: egress transmit failed")
		}
		if w.met != nil {
			w.met.TxFailure.WithLabelValues(w.label).Inc()
		}
		return
	}
	if w.met != nil {
		w.met.DSCP.WithLabelValues(w.label).Observe(float64(outcome.DSCP))
	}
}

func (w *Worker) drainMailbox() {
	cmds := w.mbox.DequeueBurst(policyBurst)
	for _, cmd := range cmds {
		if cmd.Kind == mailbox.KindPolicyAdd {
			if add, ok := cmd.Payload.(policy.Add); ok {
				if err := policy.Apply(w.table, add, w.clk.Now(), w.policyLog()); err != nil && w.logger != nil {
					w.logger.WithError(err).Warn("gkworker: policy apply failed")
				}
			}
		}
		w.mbox.Free(cmd)
	}
	if w.met != nil {
		w.met.MailboxOccupancy.WithLabelValues(w.label).Set(float64(w.mbox.Occupied()))
		w.met.FlowTableEntries.WithLabelValues(w.label).Set(float64(w.table.Count()))
	}
}
