package pool

import "testing"

func TestBytePoolAcquireRelease(t *testing.T) {
	p := NewBytePool(64)

	buf := p.Acquire(16)
	if len(buf) != 16 || cap(buf) < 64 {
		t.Fatalf("expected a 16-byte view of a pooled buffer, got len=%d cap=%d", len(buf), cap(buf))
	}
	p.Release(buf)

	big := p.Acquire(128)
	if len(big) != 128 {
		t.Fatalf("expected oversize fallback of 128 bytes, got %d", len(big))
	}
	p.Release(big) // dropped, not pooled
}

func TestSyncPoolCallsCreator(t *testing.T) {
	type record struct{ n int }
	created := 0
	p := NewSyncPool(func() *record {
		created++
		return &record{}
	})

	r := p.Get()
	r.n = 7
	p.Put(r)
	got := p.Get()

	if created == 0 {
		t.Fatal("expected the creator to run at least once")
	}
	_ = got
}
