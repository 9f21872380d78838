// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package gkconfig loads the static, load-once startup configuration for
// the gatekeeper/LLS data plane: core assignment, mailbox capacity,
// per-interface timeouts, GRANT/DECLINE defaults, and the RSS
// redirection table size (spec.md §6, §9).
package gkconfig

import (
	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/gatekeeper/internal/errors"
)

// Interface describes one front-interface a GK worker binds to.
type Interface struct {
	Name          string `hcl:"name,label"`
	Core          int    `hcl:"core"`
	MailboxSize   int    `hcl:"mailbox_size,optional"`
	ReadTimeoutMs int    `hcl:"read_timeout_ms,optional"`
}

// LLSInterface describes one interface an LLS worker binds to.
type LLSInterface struct {
	Name       string `hcl:"name,label"`
	Core       int    `hcl:"core"`
	TimeoutSec int    `hcl:"timeout_sec,optional"`
}

// Defaults holds GRANT/DECLINE parameter defaults read from the
// configuration file. policy.Apply does not consult them: it installs
// each POLICY_ADD command's own parameters as given, zero values included.
type Defaults struct {
	CapExpireSec  uint64 `hcl:"cap_expire_sec,optional"`
	TxRateKBSec   uint64 `hcl:"tx_rate_kb_sec,optional"`
	RenewalStepMs uint64 `hcl:"renewal_step_ms,optional"`
	ExpireSec     uint64 `hcl:"expire_sec,optional"`
}

// Tunnel describes one static grantor_id -> tunnel endpoint mapping
// (internal/route's StaticTable, spec.md §6's opaque route_lookup
// collaborator).
type Tunnel struct {
	GrantorID uint32 `hcl:"grantor_id"`
	Family    int    `hcl:"family"` // 4 or 6
	Dst       string `hcl:"dst"`
}

// Config is the root of the startup configuration file.
type Config struct {
	RedirectionTableSize int            `hcl:"redirection_table_size,optional"`
	GKInterfaces         []Interface    `hcl:"gk_interface,block"`
	LLSInterfaces        []LLSInterface `hcl:"lls_interface,block"`
	Defaults             *Defaults      `hcl:"defaults,block"`
	Tunnels              []Tunnel       `hcl:"tunnel,block"`
	BackInterface        string         `hcl:"back_interface"`
	NextHopV4MAC         string         `hcl:"next_hop_v4_mac,optional"`
	NextHopV6MAC         string         `hcl:"next_hop_v6_mac,optional"`
	MetricsAddr          string         `hcl:"metrics_addr,optional"`
}

// Load reads and decodes an HCL configuration file, then validates it.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "gkconfig: decode")
	}
	applyDefaults(&cfg)
	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, errors.Errorf(errors.KindValidation, "gkconfig: %s", errs.Error())
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.RedirectionTableSize == 0 {
		cfg.RedirectionTableSize = 128
	}
	for i := range cfg.GKInterfaces {
		if cfg.GKInterfaces[i].MailboxSize == 0 {
			cfg.GKInterfaces[i].MailboxSize = 1024
		}
		if cfg.GKInterfaces[i].ReadTimeoutMs == 0 {
			cfg.GKInterfaces[i].ReadTimeoutMs = 100
		}
	}
	for i := range cfg.LLSInterfaces {
		if cfg.LLSInterfaces[i].TimeoutSec == 0 {
			cfg.LLSInterfaces[i].TimeoutSec = 30
		}
	}
	if cfg.Defaults == nil {
		cfg.Defaults = &Defaults{}
	}
	if cfg.Defaults.CapExpireSec == 0 {
		cfg.Defaults.CapExpireSec = 60
	}
	if cfg.Defaults.RenewalStepMs == 0 {
		cfg.Defaults.RenewalStepMs = 1000
	}
	if cfg.Defaults.ExpireSec == 0 {
		cfg.Defaults.ExpireSec = 30
	}
}
