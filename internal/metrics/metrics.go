// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the gatekeeper/LLS data plane's counters and
// gauges over Prometheus: per-worker packet outcomes, the fast-path error
// conditions named in spec.md §7 (mailbox full, table full, tx failure,
// parse error), granted-budget exhaustion, and the DSCP distribution
// actually written to the wire.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector wired to the data plane.
type Metrics struct {
	PacketsRequest  *prometheus.CounterVec
	PacketsGranted  *prometheus.CounterVec
	PacketsDeclined *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec

	MailboxFull    *prometheus.CounterVec
	TableFull      *prometheus.CounterVec
	TxFailure      *prometheus.CounterVec
	ParseError     *prometheus.CounterVec
	BudgetExhausted *prometheus.CounterVec

	DSCP *prometheus.HistogramVec

	MailboxOccupancy *prometheus.GaugeVec
	FlowTableEntries *prometheus.GaugeVec
}

// NewMetrics builds the collector set. worker is the label value every
// per-worker metric below is keyed on ("gk-0", "lls-0", ...).
func NewMetrics() *Metrics {
	return &Metrics{
		PacketsRequest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_packets_request_total",
			Help: "Packets classified into the REQUEST state.",
		}, []string{"worker"}),
		PacketsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_packets_granted_total",
			Help: "Packets classified into the GRANTED state and encapsulated.",
		}, []string{"worker"}),
		PacketsDeclined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_packets_declined_total",
			Help: "Packets classified into the DECLINED state and dropped.",
		}, []string{"worker"}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_packets_dropped_total",
			Help: "Packets dropped, labeled by reason (parse_error, table_full, bad_state, budget_exhausted, declined).",
		}, []string{"worker", "reason"}),

		MailboxFull: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_mailbox_full_total",
			Help: "Enqueue attempts rejected because a worker's mailbox was full.",
		}, []string{"worker"}),
		TableFull: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_table_full_total",
			Help: "Flow table inserts rejected after exhausting the bounded probe sequence.",
		}, []string{"worker"}),
		TxFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_tx_failure_total",
			Help: "Egress transmit failures.",
		}, []string{"worker"}),
		ParseError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_parse_error_total",
			Help: "Frames dropped during packet view extraction.",
		}, []string{"worker"}),
		BudgetExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_budget_exhausted_total",
			Help: "GRANTED packets dropped because the token-bucket budget was exhausted before its next renewal.",
		}, []string{"worker"}),

		DSCP: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatekeeper_dscp",
			Help:    "Distribution of DSCP values written onto encapsulated packets.",
			Buckets: prometheus.LinearBuckets(0, 4, 16), // DSCP is a 6-bit value, 0..63
		}, []string{"worker"}),

		MailboxOccupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatekeeper_mailbox_occupancy",
			Help: "Commands currently queued in a worker's mailbox.",
		}, []string{"worker"}),
		FlowTableEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatekeeper_flow_table_entries",
			Help: "Occupied slots in a worker's flow table.",
		}, []string{"worker"}),
	}
}

// MustRegister registers every collector against reg.
func (m *Metrics) MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		m.PacketsRequest, m.PacketsGranted, m.PacketsDeclined, m.PacketsDropped,
		m.MailboxFull, m.TableFull, m.TxFailure, m.ParseError, m.BudgetExhausted,
		m.DSCP, m.MailboxOccupancy, m.FlowTableEntries,
	)
}
