// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package route

import (
	"net"

	"github.com/vishvananda/netlink"

	"grimm.is/gatekeeper/internal/errors"
)

// DiscoverSourceAddrs reads the v4/v6 addresses currently assigned to
// the named back interface via netlink, for building a StaticTable at
// startup without hand-configuring addresses that change with DHCP or
// router advertisements.
func DiscoverSourceAddrs(ifaceName string) (v4, v6 net.IP, err error) {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return nil, nil, errors.Wrapf(err, errors.KindUnavailable, "route: lookup interface %q", ifaceName)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return nil, nil, errors.Wrapf(err, errors.KindUnavailable, "route: list addresses on %q", ifaceName)
	}

	for _, a := range addrs {
		if a.IP == nil {
			continue
		}
		if v4 == nil && a.IP.To4() != nil {
			v4 = a.IP.To4()
		}
		if v6 == nil && a.IP.To4() == nil && a.IP.To16() != nil {
			v6 = a.IP.To16()
		}
	}
	return v4, v6, nil
}
