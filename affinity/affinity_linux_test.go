//go:build linux
// +build linux

package affinity

import (
	"runtime"
	"testing"

	"golang.org/x/sys/unix"
)

func TestSetAffinityPinsCurrentThread(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var original unix.CPUSet
	if err := unix.SchedGetaffinity(0, &original); err != nil {
		t.Fatalf("SchedGetaffinity: %v", err)
	}
	defer unix.SchedSetaffinity(0, &original)

	target := -1
	for cpu := 0; cpu < 1024; cpu++ {
		if original.IsSet(cpu) {
			target = cpu
			break
		}
	}
	if target < 0 {
		t.Fatal("no cpu available in the original affinity mask")
	}

	if err := SetAffinity(target); err != nil {
		t.Fatalf("SetAffinity: %v", err)
	}

	var got unix.CPUSet
	if err := unix.SchedGetaffinity(0, &got); err != nil {
		t.Fatalf("SchedGetaffinity: %v", err)
	}
	if !got.IsSet(target) {
		t.Fatalf("expected cpu %d in the thread's affinity mask", target)
	}
	if got.Count() != 1 {
		t.Fatalf("expected a single-cpu mask, got %d cpus", got.Count())
	}
}
