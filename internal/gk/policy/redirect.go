// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import "grimm.is/gatekeeper/internal/packetview"

// RedirectionTableSize is the NIC RSS redirection table size the
// policy-routing computation requires (spec.md §4.7, §6).
const RedirectionTableSize = 128

// RouteEntry returns the RSS redirection-table entry a flow key maps
// to, for a policy feeder routing a POLICY_ADD command to the worker
// whose RX queue that entry names. table must have RedirectionTableSize
// entries, indexed the same way the NIC's own redirection table is.
func RouteEntry(key packetview.FlowKey, rssKey [40]byte, table [RedirectionTableSize]int) int {
	h := key.Hash(rssKey)
	return table[h%RedirectionTableSize]
}
