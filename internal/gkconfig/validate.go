// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package gkconfig

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError names a single misconfigured field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every misconfigured field found, rather than
// stopping at the first one.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// HasErrors reports whether any validation error was collected.
func (e ValidationErrors) HasErrors() bool { return len(e) > 0 }

// Validate checks the decoded configuration for internal consistency,
// collecting every error rather than returning on the first.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.BackInterface == "" {
		errs = append(errs, ValidationError{"back_interface", "must be set"})
	}
	if len(c.GKInterfaces) == 0 {
		errs = append(errs, ValidationError{"gk_interface", "at least one is required"})
	}
	if c.RedirectionTableSize <= 0 || c.RedirectionTableSize&(c.RedirectionTableSize-1) != 0 {
		errs = append(errs, ValidationError{"redirection_table_size", "must be a positive power of two"})
	}

	seenCores := map[int]string{}
	for _, i := range c.GKInterfaces {
		if i.Name == "" {
			errs = append(errs, ValidationError{"gk_interface", "name must be set"})
		}
		if owner, taken := seenCores[i.Core]; taken {
			errs = append(errs, ValidationError{"gk_interface." + i.Name + ".core",
				fmt.Sprintf("core %d already assigned to %s", i.Core, owner)})
		} else {
			seenCores[i.Core] = i.Name
		}
	}
	for _, i := range c.LLSInterfaces {
		if i.Name == "" {
			errs = append(errs, ValidationError{"lls_interface", "name must be set"})
		}
		if owner, taken := seenCores[i.Core]; taken {
			errs = append(errs, ValidationError{"lls_interface." + i.Name + ".core",
				fmt.Sprintf("core %d already assigned to %s", i.Core, owner)})
		} else {
			seenCores[i.Core] = i.Name
		}
	}

	seenGrantors := map[uint32]bool{}
	for _, t := range c.Tunnels {
		if t.Family != 4 && t.Family != 6 {
			errs = append(errs, ValidationError{"tunnel.family", "must be 4 or 6"})
		}
		if net.ParseIP(t.Dst) == nil {
			errs = append(errs, ValidationError{"tunnel.dst", fmt.Sprintf("%q is not a valid IP address", t.Dst)})
		}
		if seenGrantors[t.GrantorID] {
			errs = append(errs, ValidationError{"tunnel.grantor_id", fmt.Sprintf("duplicate grantor_id %d", t.GrantorID)})
		}
		seenGrantors[t.GrantorID] = true
	}

	return errs
}
