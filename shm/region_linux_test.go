//go:build linux
// +build linux

package shm

import (
	"path/filepath"
	"testing"
)

func TestRegionReleaseRequestCountRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1234")
	r, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()

	if got := r.LoadReleaseRequestCount(); got != 0 {
		t.Fatalf("expected fresh region to start at 0, got %d", got)
	}
	r.StoreReleaseRequestCount(1)
	if got := r.LoadReleaseRequestCount(); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	r.StoreReleaseRequestCount(5)
	if got := r.LoadReleaseRequestCount(); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}

func TestRegionPreemptedFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "5678")
	r, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()

	if r.Preempted() {
		t.Fatal("expected fresh region to start un-preempted")
	}
	r.SetPreempted(true)
	if !r.Preempted() {
		t.Fatal("expected Preempted to report true after SetPreempted(true)")
	}
	r.SetPreempted(false)
	if r.Preempted() {
		t.Fatal("expected Preempted to report false after SetPreempted(false)")
	}
}

func TestRegionReopenExistingFileIsBenign(t *testing.T) {
	path := filepath.Join(t.TempDir(), "9999")
	r1, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	r1.StoreReleaseRequestCount(3)
	r1.Close()

	r2, err := Create(path)
	if err != nil {
		t.Fatalf("reopening an existing shm file should succeed, got: %v", err)
	}
	defer r2.Close()
	if got := r2.LoadReleaseRequestCount(); got != 3 {
		t.Fatalf("expected reopened region to preserve prior value 3, got %d", got)
	}
}

func TestUnlinkMissingFileIsBenign(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent")
	if err := Unlink(path); err != nil {
		t.Fatalf("Unlink of a missing file should be benign, got: %v", err)
	}
}

func TestDescriptorMatchesOffsets(t *testing.T) {
	size, release, preempted := Descriptor()
	if size != Size {
		t.Fatalf("expected size %d, got %d", Size, size)
	}
	if release != ReleaseRequestCountOffset {
		t.Fatalf("expected release offset %d, got %d", ReleaseRequestCountOffset, release)
	}
	if preempted != ThreadPreemptedOffset {
		t.Fatalf("expected preempted offset %d, got %d", ThreadPreemptedOffset, preempted)
	}
}
