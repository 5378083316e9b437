// File: cpuset/cpuset.go
// Author: momentics <momentics@gmail.com>
//
// CPUSet is an immutable set of OS CPU ids, used throughout the
// arbiter to describe which cores a cgroup owns.
//
// Adapted from hashicorp/nomad's lib/cpuset package: same value
// semantics (immutable, safe for concurrent reads), same Linux cpuset
// list-format parsing/printing, trimmed to what the arbiter needs.

package cpuset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CPUSet is a set of CPU ids. The zero value is the empty set.
type CPUSet struct {
	cpus map[uint16]struct{}
}

// New builds a CPUSet containing the given cpu ids.
func New(cpus ...uint16) CPUSet {
	s := CPUSet{cpus: make(map[uint16]struct{}, len(cpus))}
	for _, c := range cpus {
		s.cpus[c] = struct{}{}
	}
	return s
}

// Size returns the number of cpus in the set.
func (c CPUSet) Size() int {
	return len(c.cpus)
}

// Contains reports whether cpu is a member of the set.
func (c CPUSet) Contains(cpu uint16) bool {
	_, ok := c.cpus[cpu]
	return ok
}

// ToSlice returns the set's members in ascending order.
func (c CPUSet) ToSlice() []uint16 {
	out := make([]uint16, 0, len(c.cpus))
	for cpu := range c.cpus {
		out = append(out, cpu)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsSubsetOf reports whether every member of c is also in other.
func (c CPUSet) IsSubsetOf(other CPUSet) bool {
	for cpu := range c.cpus {
		if _, ok := other.cpus[cpu]; !ok {
			return false
		}
	}
	return true
}

// Union returns a new set containing the members of both c and other.
func (c CPUSet) Union(other CPUSet) CPUSet {
	s := New()
	for cpu := range c.cpus {
		s.cpus[cpu] = struct{}{}
	}
	for cpu := range other.cpus {
		s.cpus[cpu] = struct{}{}
	}
	return s
}

// Difference returns the members of c not present in other.
func (c CPUSet) Difference(other CPUSet) CPUSet {
	s := New()
	for cpu := range c.cpus {
		if _, excluded := other.cpus[cpu]; !excluded {
			s.cpus[cpu] = struct{}{}
		}
	}
	return s
}

// String renders the set in Linux cpuset list format ("0-2,5,7-8").
func (c CPUSet) String() string {
	cores := c.ToSlice()
	if len(cores) == 0 {
		return ""
	}
	var parts []string
	start := cores[0]
	prev := cores[0]
	flush := func(end uint16) {
		if start == end {
			parts = append(parts, strconv.Itoa(int(start)))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}
	}
	for _, cpu := range cores[1:] {
		if cpu == prev+1 {
			prev = cpu
			continue
		}
		flush(prev)
		start, prev = cpu, cpu
	}
	flush(prev)
	return strings.Join(parts, ",")
}

// Parse parses the Linux cpuset list format ("http://man7.org/linux/man-pages/man7/cpuset.7.html#FORMATS").
func Parse(s string) (CPUSet, error) {
	out := New()
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, group := range strings.Split(s, ",") {
		bounds := strings.SplitN(group, "-", 2)
		lo, err := strconv.Atoi(bounds[0])
		if err != nil {
			return CPUSet{}, fmt.Errorf("cpuset: parse %q: %w", group, err)
		}
		hi := lo
		if len(bounds) == 2 {
			hi, err = strconv.Atoi(bounds[1])
			if err != nil {
				return CPUSet{}, fmt.Errorf("cpuset: parse %q: %w", group, err)
			}
		}
		for v := lo; v <= hi; v++ {
			out.cpus[uint16(v)] = struct{}{}
		}
	}
	return out, nil
}
