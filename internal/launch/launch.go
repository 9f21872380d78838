// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package launch stages gatekeeper/LLS startup and shutdown (spec.md §7):
// stage1 allocates in-memory resources (mailboxes, the route table,
// metrics) after reading the back interface's addresses, stage2 binds
// interfaces and
// starts workers. A stage2 failure partway through unwinds everything
// already constructed, in reverse order, before returning the error.
package launch

import (
	"net"
	"time"

	"grimm.is/gatekeeper/internal/clock"
	"grimm.is/gatekeeper/internal/encap"
	"grimm.is/gatekeeper/internal/errors"
	"grimm.is/gatekeeper/internal/gkconfig"
	gkworker "grimm.is/gatekeeper/internal/gk/worker"
	llsresolver "grimm.is/gatekeeper/internal/lls/resolver"
	llsworker "grimm.is/gatekeeper/internal/lls/worker"
	"grimm.is/gatekeeper/internal/logging"
	"grimm.is/gatekeeper/internal/mailbox"
	"grimm.is/gatekeeper/internal/metrics"
	"grimm.is/gatekeeper/internal/route"
)

// System is every resource allocated across stage1/stage2, ready to Run
// and, later, Shutdown.
type System struct {
	cfg     *gkconfig.Config
	logger  *logging.Logger
	clk     clock.Source
	Metrics *metrics.Metrics
	Route   *route.StaticTable

	mailboxes  map[string]*mailbox.Mailbox
	egress     *gkworker.RawEgress
	gkWorkers  []*gkworker.Worker
	llsWorkers []*llsworker.Worker
}

// Stage1 allocates mailboxes, the static route table, and the metrics
// registry — every resource that needs no interface binding. It reads the
// back interface's source addresses over netlink and fails if that
// interface cannot be found or its addresses cannot be listed.
func Stage1(cfg *gkconfig.Config, logger *logging.Logger) (*System, error) {
	tunnels := make(map[uint32]encap.Tunnel, len(cfg.Tunnels))
	for _, t := range cfg.Tunnels {
		ip := net.ParseIP(t.Dst)
		fam := encap.FamilyV4
		if t.Family == 6 {
			fam = encap.FamilyV6
		}
		tunnels[t.GrantorID] = encap.Tunnel{Family: fam, Dst: ip}
	}

	srcV4, srcV6, err := route.DiscoverSourceAddrs(cfg.BackInterface)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "launch: discover back-interface source addresses")
	}

	s := &System{
		cfg:       cfg,
		logger:    logger,
		clk:       clock.NewRealClock(),
		Metrics:   metrics.NewMetrics(),
		Route:     route.NewStaticTable(tunnels, srcV4, srcV6),
		mailboxes: make(map[string]*mailbox.Mailbox, len(cfg.GKInterfaces)),
	}
	for _, i := range cfg.GKInterfaces {
		s.mailboxes[i.Name] = mailbox.New(i.MailboxSize)
	}
	return s, nil
}

// Stage2 opens every configured interface's raw socket and constructs its
// worker. If any interface fails to bind, every worker already
// constructed in this call is stopped and its socket closed, in reverse
// construction order, before the error is returned — stage1's resources
// (mailboxes, route table, metrics) are left intact for a retry.
func (s *System) Stage2() (err error) {
	defer func() {
		if err != nil {
			s.unwindStage2()
		}
	}()

	backIface, berr := net.InterfaceByName(s.cfg.BackInterface)
	if berr != nil {
		return errors.Wrap(berr, errors.KindUnavailable, "launch: lookup back interface "+s.cfg.BackInterface)
	}
	var nextHopV4, nextHopV6 net.HardwareAddr
	if s.cfg.NextHopV4MAC != "" {
		if nextHopV4, err = net.ParseMAC(s.cfg.NextHopV4MAC); err != nil {
			return errors.Wrap(err, errors.KindValidation, "launch: parse next_hop_v4_mac")
		}
	}
	if s.cfg.NextHopV6MAC != "" {
		if nextHopV6, err = net.ParseMAC(s.cfg.NextHopV6MAC); err != nil {
			return errors.Wrap(err, errors.KindValidation, "launch: parse next_hop_v6_mac")
		}
	}
	s.egress, err = gkworker.NewRawEgress(backIface, nextHopV4, nextHopV6)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "launch: open back-interface egress socket")
	}

	for _, i := range s.cfg.GKInterfaces {
		iface, ierr := net.InterfaceByName(i.Name)
		if ierr != nil {
			return errors.Wrap(ierr, errors.KindUnavailable, "launch: lookup gk interface "+i.Name)
		}
		w, werr := gkworker.New(gkworker.Config{
			ID:       uint32(i.Core),
			Iface:    iface,
			TableCap: 1 << 16,
			Mailbox:  s.mailboxes[i.Name],
			Route:    s.Route,
			Egress:   s.egress,
			Clock:    s.clk,
			CPU:      i.Core,
			Logger:   s.logger,
			Metrics:  s.Metrics,
		})
		if werr != nil {
			return errors.Wrap(werr, errors.KindUnavailable, "launch: start gk worker on "+i.Name)
		}
		s.gkWorkers = append(s.gkWorkers, w)
	}

	for _, i := range s.cfg.LLSInterfaces {
		iface, ierr := net.InterfaceByName(i.Name)
		if ierr != nil {
			return errors.Wrap(ierr, errors.KindUnavailable, "launch: lookup lls interface "+i.Name)
		}
		srcV4, srcV6, derr := route.DiscoverSourceAddrs(i.Name)
		if derr != nil {
			return errors.Wrap(derr, errors.KindUnavailable, "launch: discover lls interface addresses "+i.Name)
		}
		var families llsworker.Families
		if srcV4 != nil {
			families.V4 = llsresolver.NewARP(iface.HardwareAddr, srcV4)
		}
		if srcV6 != nil {
			families.V6 = llsresolver.NewND(iface.HardwareAddr, srcV6)
		}
		w, werr := llsworker.New(llsworker.Config{
			Name:     i.Name,
			Iface:    iface,
			Families: families,
			Mailbox:  mailbox.New(256),
			Timeout:  time.Duration(i.TimeoutSec) * time.Second,
			CPU:      i.Core,
			Logger:   s.logger,
		})
		if werr != nil {
			return errors.Wrap(werr, errors.KindUnavailable, "launch: start lls worker on "+i.Name)
		}
		s.llsWorkers = append(s.llsWorkers, w)
	}

	return nil
}

// unwindStage2 stops every worker constructed so far, last-constructed
// first, releasing their sockets.
func (s *System) unwindStage2() {
	for i := len(s.llsWorkers) - 1; i >= 0; i-- {
		s.llsWorkers[i].Stop()
		_ = s.llsWorkers[i].Close()
	}
	s.llsWorkers = nil
	for i := len(s.gkWorkers) - 1; i >= 0; i-- {
		s.gkWorkers[i].Stop()
		_ = s.gkWorkers[i].Close()
	}
	s.gkWorkers = nil
	if s.egress != nil {
		_ = s.egress.Close()
		s.egress = nil
	}
}

// Run starts every worker's poll loop on its own goroutine.
func (s *System) Run() {
	for _, w := range s.gkWorkers {
		go w.Run()
	}
	for _, w := range s.llsWorkers {
		go w.Run()
	}
}

// Shutdown requests every worker's poll loop to exit; each worker closes
// its own socket once its Run loop observes the request, so Shutdown
// does not race a blocked read the way a direct unwind would.
func (s *System) Shutdown() {
	for i := len(s.llsWorkers) - 1; i >= 0; i-- {
		s.llsWorkers[i].Stop()
	}
	for i := len(s.gkWorkers) - 1; i >= 0; i-- {
		s.gkWorkers[i].Stop()
	}
}

// Mailbox returns the mailbox allocated in stage1 for the named GK
// interface, for a policy feeder to enqueue POLICY_ADD commands into.
func (s *System) Mailbox(ifaceName string) (*mailbox.Mailbox, bool) {
	m, ok := s.mailboxes[ifaceName]
	return m, ok
}
