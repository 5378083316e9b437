//go:build linux
// +build linux

// File: cpuset/driver_linux.go
// Author: momentics <momentics@gmail.com>
//
// LinuxDriver is the real cgroup filesystem Driver, grounded in
// hashicorp/nomad's client/lib/cgutil (mount discovery, v1/v2
// detection, ReadFile/WriteFile helpers from
// github.com/opencontainers/runc/libcontainer/cgroups) and
// Idealist226-mydocker's cgroups/subsystems package (writing a pid
// into a cgroup's task-injection file, os.MkdirAll/os.Remove for
// cgroup directory lifecycle).

package cpuset

import (
	"os"
	"strconv"
	"strings"

	"github.com/opencontainers/runc/libcontainer/cgroups"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const dirPerm = 0o755

// LinuxDriver manipulates a real cgroup cpuset mount.
type LinuxDriver struct {
	useV2 bool
}

// NewLinuxDriver detects whether the host runs cgroup v2 unified mode
// and returns a ready-to-use Driver.
func NewLinuxDriver() *LinuxDriver {
	return &LinuxDriver{useV2: cgroups.IsCgroup2UnifiedMode()}
}

// NewPlatformDriver returns the real cgroup driver for this platform.
func NewPlatformDriver() (Driver, error) {
	return NewLinuxDriver(), nil
}

func (d *LinuxDriver) IsV2() bool { return d.useV2 }

// MountPoint returns the cpuset cgroup mount point: the unified
// hierarchy root under v2, or the cpuset-subsystem mount under v1.
func (d *LinuxDriver) MountPoint() (string, error) {
	if d.useV2 {
		mounts, err := cgroups.GetCgroupMounts(true)
		if err != nil {
			return "", errors.Wrap(err, "discover cgroup2 mount")
		}
		for _, m := range mounts {
			if len(m.Subsystems) == 0 || contains(m.Subsystems, "") {
				return m.Mountpoint, nil
			}
		}
		if len(mounts) > 0 {
			return mounts[0].Mountpoint, nil
		}
		return "", errors.New("no cgroup2 mount found")
	}
	mounts, err := cgroups.GetCgroupMounts(false)
	if err != nil {
		return "", errors.Wrap(err, "discover cgroup mounts")
	}
	for _, m := range mounts {
		if contains(m.Subsystems, "cpuset") {
			return m.Mountpoint, nil
		}
	}
	return "", errors.New("no cpuset cgroup mount found; is cgroup v1 cpuset mounted?")
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func (d *LinuxDriver) Mkdir(path string) error {
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return errors.Wrapf(err, "mkdir %s", path)
	}
	return nil
}

func (d *LinuxDriver) Rmdir(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "rmdir %s", path)
	}
	return nil
}

// cpus/mems file names are identical across cgroup v1 and v2; only the
// task-injection file name (tasksFile) differs between hierarchies.
const (
	cpusFileName = "cpuset.cpus"
	memsFileName = "cpuset.mems"
)

func (d *LinuxDriver) cpusFile() string { return cpusFileName }
func (d *LinuxDriver) memsFile() string { return memsFileName }

func (d *LinuxDriver) tasksFile() string {
	if d.useV2 {
		return "cgroup.procs"
	}
	return "tasks"
}

func (d *LinuxDriver) WriteCPUs(path string, set CPUSet) error {
	if err := cgroups.WriteFile(path, d.cpusFile(), set.String()); err != nil {
		return errors.Wrapf(err, "write %s/%s", path, d.cpusFile())
	}
	return nil
}

func (d *LinuxDriver) WriteMems(path, fromParent string) error {
	val, err := cgroups.ReadFile(fromParent, d.memsFile())
	if err != nil {
		return errors.Wrapf(err, "read %s/%s", fromParent, d.memsFile())
	}
	val = strings.TrimSpace(val)
	if val == "" {
		val = "0"
	}
	if err := cgroups.WriteFile(path, d.memsFile(), val); err != nil {
		return errors.Wrapf(err, "write %s/%s", path, d.memsFile())
	}
	return nil
}

// SetPartitionIsolated marks a v2 leaf cgroup "isolated", which is
// what makes the kernel refuse to schedule any other cgroup's tasks
// onto the core — without it, cpuset.cpus is advisory only.
func (d *LinuxDriver) SetPartitionIsolated(path string) error {
	if err := cgroups.WriteFile(path, "cpuset.cpus.partition", "isolated"); err != nil {
		return errors.Wrapf(err, "write %s/cpuset.cpus.partition", path)
	}
	return nil
}

func (d *LinuxDriver) Tasks(path string) ([]int, error) {
	raw, err := cgroups.ReadFile(path, d.tasksFile())
	if err != nil {
		return nil, errors.Wrapf(err, "read %s/%s", path, d.tasksFile())
	}
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// OnlineCPUs reports the cpus available to the root cpuset. It prefers
// cpuset.cpus.effective (the kernel's resolved view under v2, or under
// v1 when the controller is mounted) and falls back to cpuset.cpus at
// the mount point.
func (d *LinuxDriver) OnlineCPUs() (CPUSet, error) {
	mount, err := d.MountPoint()
	if err != nil {
		return CPUSet{}, err
	}
	raw, err := cgroups.ReadFile(mount, "cpuset.cpus.effective")
	if err == nil {
		if set, perr := Parse(raw); perr == nil {
			return set, nil
		}
	}
	raw, err = cgroups.ReadFile(mount, d.cpusFile())
	if err != nil {
		return CPUSet{}, errors.Wrapf(err, "read %s/%s", mount, d.cpusFile())
	}
	return Parse(raw)
}

func (d *LinuxDriver) MoveTask(path string, pid int) error {
	err := cgroups.WriteFile(path, d.tasksFile(), strconv.Itoa(pid))
	if err != nil {
		if errors.Is(err, unix.ESRCH) || strings.Contains(err.Error(), "no such process") {
			return errProcessVanished
		}
		return err
	}
	return nil
}
