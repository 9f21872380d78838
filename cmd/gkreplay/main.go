// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command gkreplay drives the gatekeeper classification pipeline
// (packet view extraction, flow table lookup, state machine
// classification, encapsulation) against a synthetic stream of
// packets and POLICY_ADD commands, without binding to a real
// interface or PCAP file — a manual-testing harness for the core
// pipeline's behavior under a scripted sequence of events.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"net"

	"github.com/mdlayher/ethernet"

	"grimm.is/gatekeeper/internal/clock"
	"grimm.is/gatekeeper/internal/gk/flowtable"
	"grimm.is/gatekeeper/internal/gk/policy"
	"grimm.is/gatekeeper/internal/gk/statemachine"
	"grimm.is/gatekeeper/internal/packetview"
)

func buildIPv4Frame(src, dst net.IP) []byte {
	ipHeader := make([]byte, 20)
	ipHeader[0] = 0x45
	binary.BigEndian.PutUint16(ipHeader[2:4], 20)
	ipHeader[9] = 17 // UDP
	copy(ipHeader[12:16], src.To4())
	copy(ipHeader[16:20], dst.To4())

	f := &ethernet.Frame{
		Destination: net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
		Source:      net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
		EtherType:   ethernet.EtherTypeIPv4,
		Payload:     ipHeader,
	}
	b, err := f.MarshalBinary()
	if err != nil {
		log.Fatalf("marshal synthetic frame: %v", err)
	}
	return b
}

func main() {
	packets := flag.Int("packets", 10, "number of synthetic packets to replay for the flow")
	grant := flag.Int("grant-after", 3, "packet number (1-indexed) at which a POLICY_ADD grants the flow")
	flag.Parse()

	clk := clock.NewMockClock()
	tbl := flowtable.New(16)
	rssKey := [40]byte{}

	src := net.IPv4(10, 0, 0, 1)
	dst := net.IPv4(203, 0, 113, 5)
	key := packetview.NewFlowKeyV4(src, dst)
	hash := key.Hash(rssKey)

	for n := 1; n <= *packets; n++ {
		clk.Advance(clock.CyclesPerMillisecond(250))

		if n == *grant {
			idx, err := tbl.Insert(key, hash, func(e *statemachine.Entry) {
				statemachine.InitRequest(e, clk.Now())
			})
			if err != nil {
				log.Fatalf("insert for policy add: %v", err)
			}
			if err := policy.Apply(tbl, policy.Add{
				Key:   key,
				Hash:  hash,
				State: statemachine.StateGranted,
				Params: policy.Params{
					CapExpireSec:  60,
					TxRateKBSec:   1000,
					RenewalStepMs: 1000,
				},
			}, clk.Now(), nil); err != nil {
				log.Fatalf("apply policy: %v", err)
			}
			fmt.Printf("packet %2d: POLICY_ADD GRANTED installed (idx=%d)\n", n, idx)
			continue
		}

		raw := buildIPv4Frame(src, dst)
		view, err := packetview.Extract(raw)
		if err != nil {
			log.Fatalf("extract: %v", err)
		}

		idx, err := tbl.Insert(view.FlowKey, hash, func(e *statemachine.Entry) {
			statemachine.InitRequest(e, clk.Now())
		})
		if err != nil {
			fmt.Printf("packet %2d: table full, dropped\n", n)
			continue
		}
		entry := &tbl.Entries[idx]
		outcome, err := statemachine.Classify(entry, clk.Now(), int(view.L3Len), nil)
		if err != nil {
			fmt.Printf("packet %2d: classify error: %v\n", n, err)
			continue
		}
		if outcome.Drop {
			fmt.Printf("packet %2d: state=%v dropped\n", n, entry.State)
			continue
		}
		fmt.Printf("packet %2d: state=%v dscp=%d forwarded\n", n, entry.State, outcome.DSCP)
	}
}
