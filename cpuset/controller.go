// File: cpuset/controller.go
// Author: momentics <momentics@gmail.com>
//
// Controller owns the cgroup cpuset hierarchy the arbiter uses to give
// threads exclusive access to individual cores. It mirrors how
// hashicorp/nomad's client/lib/cgutil package discovers the mounted
// cgroup hierarchy and picks a v1 or v2 strategy, and how
// Idealist226-mydocker's cgroups/subsystems package writes pids into a
// cgroup's task-injection file — generalized from "one cgroup per
// container" to "one cgroup per exclusive core, plus one Unmanaged
// sibling for everything else".
package cpuset

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// RootName is the cgroup directory the arbiter creates beneath the
// cpuset mount point to hold its entire hierarchy.
const RootName = "arbiter"

// UnmanagedName is the sibling cgroup that receives every task not
// currently granted an exclusive core.
const UnmanagedName = "Unmanaged"

// Driver abstracts the filesystem operations a Controller performs, so
// tests can substitute an in-memory fake instead of mutating a real
// cgroup mount.
type Driver interface {
	// MountPoint returns the cpuset cgroup mount point.
	MountPoint() (string, error)
	// IsV2 reports whether the unified (v2) hierarchy is in effect.
	IsV2() bool
	// Mkdir creates a cgroup directory.
	Mkdir(path string) error
	// Rmdir removes a cgroup directory. Must only be called once the
	// cgroup is empty of tasks and child directories.
	Rmdir(path string) error
	// WriteCPUs sets the cpuset.cpus (v1) / cpuset.cpus (v2) file for path.
	WriteCPUs(path string, cpus CPUSet) error
	// WriteMems copies the cpuset.mems value from the parent cgroup.
	WriteMems(path, fromParent string) error
	// SetPartitionIsolated marks a v2 leaf cgroup as an isolated
	// partition root, which is what makes cpuset exclusivity a
	// kernel-enforced guarantee rather than convention under v2.
	SetPartitionIsolated(path string) error
	// Tasks returns the pids currently resident in path.
	Tasks(path string) ([]int, error)
	// MoveTask writes pid into path's task-injection file
	// (cgroup.procs under v2, tasks under v1). ESRCH (pid vanished) is
	// reported via errProcessVanished so callers can treat it as benign.
	MoveTask(path string, pid int) error
	// OnlineCPUs returns the cpus available to the root cpuset, the
	// universe the arbiter partitions between Unmanaged and its
	// exclusive cores.
	OnlineCPUs() (CPUSet, error)
}

// ErrProcessVanished marks a MoveTask failure as the benign "target
// already exited" race.
var ErrProcessVanished = errors.New("cpuset: target process vanished")

// errProcessVanished is kept as the package-internal name used
// throughout this file; it is the same sentinel as ErrProcessVanished.
var errProcessVanished = ErrProcessVanished

// IsProcessVanished reports whether err represents the benign ESRCH
// race rather than a real cpuset manipulation failure.
func IsProcessVanished(err error) bool {
	return errors.Is(err, ErrProcessVanished)
}

// Controller creates, populates, and tears down the arbiter's cpuset
// hierarchy: one root, one Unmanaged sibling, and one child per
// exclusive core.
type Controller struct {
	log    hclog.Logger
	driver Driver

	rootPath      string
	unmanagedPath string
	corePaths     map[uint16]string
}

// NewController constructs a Controller. exclusiveCores must be
// disjoint from no other constraint — any online CPU id is valid —
// but must be non-empty; an arbiter with zero exclusive cores has
// nothing to arbitrate.
func NewController(log hclog.Logger, driver Driver, exclusiveCores []uint16) (*Controller, error) {
	if len(exclusiveCores) == 0 {
		return nil, errors.New("cpuset: at least one exclusive core is required")
	}
	mount, err := driver.MountPoint()
	if err != nil {
		return nil, errors.Wrap(err, "cpuset: discover mount point")
	}
	root := filepath.Join(mount, RootName)
	c := &Controller{
		log:           log.Named("cpuset"),
		driver:        driver,
		rootPath:      root,
		unmanagedPath: filepath.Join(root, UnmanagedName),
		corePaths:     make(map[uint16]string, len(exclusiveCores)),
	}
	for _, core := range exclusiveCores {
		c.corePaths[core] = filepath.Join(root, coreDirName(core))
	}
	return c, nil
}

func coreDirName(core uint16) string {
	return "core-" + itoa(core)
}

func itoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	digits := [6]byte{}
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[i:])
}

// CorePath returns the cgroup path for an exclusive core, or "" if
// core is not one of the configured exclusive cores.
func (c *Controller) CorePath(core uint16) string {
	return c.corePaths[core]
}

// ExclusiveCores returns the set of cores under management.
func (c *Controller) ExclusiveCores() []uint16 {
	out := make([]uint16, 0, len(c.corePaths))
	for core := range c.corePaths {
		out = append(out, core)
	}
	return out
}

// Start builds the full cpuset hierarchy: sweeps stale arbiter
// cpusets from a prior run, creates the root and Unmanaged sibling,
// migrates every currently resident task into Unmanaged, then creates
// one child cgroup per exclusive core. Any failure here is fatal: the
// machine is misconfigured and the daemon should not start
// arbitrating.
func (c *Controller) Start(exclusive CPUSet) error {
	if err := c.sweepStale(); err != nil {
		return errors.Wrap(err, "cpuset: sweep stale arbiter cpusets")
	}

	if err := c.driver.Mkdir(c.rootPath); err != nil {
		return errors.Wrap(err, "cpuset: create root cpuset")
	}

	online, err := c.onlineCPUs()
	if err != nil {
		return errors.Wrap(err, "cpuset: discover online cpus")
	}
	if !exclusive.IsSubsetOf(online) {
		return errors.Errorf("cpuset: requested exclusive cores %s are not all online (online: %s)",
			exclusive.String(), online.String())
	}
	if err := c.driver.WriteCPUs(c.rootPath, online); err != nil {
		return errors.Wrap(err, "cpuset: write root cpus")
	}
	if err := c.driver.WriteMems(c.rootPath, filepath.Dir(c.rootPath)); err != nil {
		return errors.Wrap(err, "cpuset: write root mems")
	}

	unmanagedCPUs := online.Difference(exclusive)
	if err := c.driver.Mkdir(c.unmanagedPath); err != nil {
		return errors.Wrap(err, "cpuset: create Unmanaged cpuset")
	}
	if err := c.driver.WriteCPUs(c.unmanagedPath, unmanagedCPUs); err != nil {
		return errors.Wrap(err, "cpuset: write Unmanaged cpus")
	}
	if err := c.driver.WriteMems(c.unmanagedPath, c.rootPath); err != nil {
		return errors.Wrap(err, "cpuset: write Unmanaged mems")
	}

	if err := c.moveAllTasks(filepath.Dir(c.rootPath), c.unmanagedPath); err != nil {
		return errors.Wrap(err, "cpuset: migrate existing tasks to Unmanaged")
	}

	for core, path := range c.corePaths {
		if !exclusive.Contains(core) {
			return errors.Errorf("cpuset: core %d has a path but is not in the exclusive set", core)
		}
		if err := c.driver.Mkdir(path); err != nil {
			return errors.Wrapf(err, "cpuset: create cpuset for core %d", core)
		}
		if err := c.driver.WriteCPUs(path, New(core)); err != nil {
			return errors.Wrapf(err, "cpuset: write cpus for core %d", core)
		}
		if err := c.driver.WriteMems(path, c.rootPath); err != nil {
			return errors.Wrapf(err, "cpuset: write mems for core %d", core)
		}
		if c.driver.IsV2() {
			if err := c.driver.SetPartitionIsolated(path); err != nil {
				return errors.Wrapf(err, "cpuset: isolate partition for core %d", core)
			}
		}
	}

	c.log.Info("cpuset hierarchy ready", "exclusive_cores", exclusive.String())
	return nil
}

// Stop tears down the entire arbiter cpuset hierarchy, returning any
// residual tasks to the cgroup root first. Children are removed before
// Unmanaged before the root, since the kernel refuses rmdir on a
// cgroup that still contains tasks or child directories.
func (c *Controller) Stop() error {
	parent := filepath.Dir(c.rootPath)
	for core, path := range c.corePaths {
		if err := c.moveAllTasks(path, parent); err != nil {
			c.log.Warn("failed to evacuate core cpuset before removal", "core", core, "error", err)
		}
		if err := c.driver.Rmdir(path); err != nil {
			c.log.Warn("failed to remove core cpuset", "core", core, "error", err)
		}
	}
	if err := c.moveAllTasks(c.unmanagedPath, parent); err != nil {
		c.log.Warn("failed to evacuate Unmanaged cpuset before removal", "error", err)
	}
	if err := c.driver.Rmdir(c.unmanagedPath); err != nil {
		c.log.Warn("failed to remove Unmanaged cpuset", "error", err)
	}
	if err := c.driver.Rmdir(c.rootPath); err != nil {
		return errors.Wrap(err, "cpuset: remove root cpuset")
	}
	return nil
}

// MoveThreadToExclusiveCore writes tid into core's task-injection file.
// ESRCH (the thread already exited) is a benign race: it is logged at
// debug level and the call returns nil, never a manipulation failure.
func (c *Controller) MoveThreadToExclusiveCore(tid int, core uint16) error {
	path, ok := c.corePaths[core]
	if !ok {
		return errors.Errorf("cpuset: core %d is not an exclusive core", core)
	}
	return c.moveTask(path, tid)
}

// RemoveThreadFromExclusiveCore writes tid back into the Unmanaged cpuset.
func (c *Controller) RemoveThreadFromExclusiveCore(tid int) error {
	return c.moveTask(c.unmanagedPath, tid)
}

func (c *Controller) moveTask(path string, pid int) error {
	if err := c.driver.MoveTask(path, pid); err != nil {
		if IsProcessVanished(err) {
			c.log.Debug("task vanished before cpuset move completed", "pid", pid, "path", path)
			return nil
		}
		return errors.Wrapf(err, "cpuset: move pid %d into %s", pid, path)
	}
	return nil
}

// moveAllTasks drains every pid from src into dst. Tasks that vanish
// mid-drain are skipped, never treated as errors.
func (c *Controller) moveAllTasks(src, dst string) error {
	pids, err := c.driver.Tasks(src)
	if err != nil {
		return errors.Wrapf(err, "cpuset: list tasks in %s", src)
	}
	for _, pid := range pids {
		if err := c.moveTask(dst, pid); err != nil {
			return err
		}
	}
	return nil
}

// sweepStale removes any arbiter cpuset hierarchy left behind by a
// prior run that crashed without tearing down cleanly.
func (c *Controller) sweepStale() error {
	if _, err := os.Stat(c.rootPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	c.log.Warn("removing stale arbiter cpuset hierarchy from a prior run", "path", c.rootPath)
	if err := c.moveAllTasks(c.rootPath, filepath.Dir(c.rootPath)); err != nil {
		return err
	}
	for core, path := range c.corePaths {
		if err := c.moveAllTasks(path, filepath.Dir(c.rootPath)); err != nil {
			c.log.Debug("stale core cpuset evacuation failed, continuing", "core", core, "error", err)
		}
		_ = c.driver.Rmdir(path)
	}
	_ = c.driver.Rmdir(c.unmanagedPath)
	return c.driver.Rmdir(c.rootPath)
}

func (c *Controller) onlineCPUs() (CPUSet, error) {
	return c.driver.OnlineCPUs()
}
