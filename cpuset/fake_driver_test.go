package cpuset

import (
	"sort"
)

// fakeDriver is an in-memory Driver used by controller_test.go so the
// suite can exercise Start/Stop/move semantics without a real cgroup
// mount — the same injected-policy pattern the arbiter's own fakes
// use.
type fakeDriver struct {
	v2      bool
	online  CPUSet
	dirs    map[string]bool
	cpus    map[string]string
	mems    map[string]string
	tasks   map[string]map[int]bool
	vanish  map[int]bool // pids that should report ESRCH on the next move
	removed []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		dirs:   make(map[string]bool),
		cpus:   make(map[string]string),
		mems:   make(map[string]string),
		tasks:  make(map[string]map[int]bool),
		vanish: make(map[int]bool),
	}
}

func (f *fakeDriver) MountPoint() (string, error) { return "/sys/fs/cgroup", nil }
func (f *fakeDriver) IsV2() bool                  { return f.v2 }

func (f *fakeDriver) OnlineCPUs() (CPUSet, error) {
	if f.online.Size() == 0 {
		return New(0, 1, 2, 3), nil
	}
	return f.online, nil
}

func (f *fakeDriver) Mkdir(path string) error {
	f.dirs[path] = true
	if f.tasks[path] == nil {
		f.tasks[path] = make(map[int]bool)
	}
	return nil
}

func (f *fakeDriver) Rmdir(path string) error {
	delete(f.dirs, path)
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeDriver) WriteCPUs(path string, cpus CPUSet) error {
	f.cpus[path] = cpus.String()
	return nil
}

func (f *fakeDriver) WriteMems(path, fromParent string) error {
	f.mems[path] = f.mems[fromParent]
	if f.mems[path] == "" {
		f.mems[path] = "0"
	}
	return nil
}

func (f *fakeDriver) SetPartitionIsolated(path string) error { return nil }

func (f *fakeDriver) Tasks(path string) ([]int, error) {
	set := f.tasks[path]
	out := make([]int, 0, len(set))
	for pid := range set {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out, nil
}

func (f *fakeDriver) MoveTask(path string, pid int) error {
	if f.vanish[pid] {
		delete(f.vanish, pid)
		return errProcessVanished
	}
	for _, set := range f.tasks {
		delete(set, pid)
	}
	if f.tasks[path] == nil {
		f.tasks[path] = make(map[int]bool)
	}
	f.tasks[path][pid] = true
	return nil
}

func (f *fakeDriver) seedRootTasks(root string, pids ...int) {
	f.tasks[root] = make(map[int]bool)
	for _, pid := range pids {
		f.tasks[root][pid] = true
	}
}
