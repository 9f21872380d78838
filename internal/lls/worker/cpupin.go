// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package worker

import "golang.org/x/sys/unix"

// pinToCPU restricts the calling OS thread's scheduling affinity to a
// single core, the same way the GK worker pins itself (spec.md §6: "one
// worker per core, run-to-completion").
func pinToCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
