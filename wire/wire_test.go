package wire

import "testing"

func TestRegistrationRoundTrip(t *testing.T) {
	r := Registration{ThreadID: 42, ProcessID: 7, ShmPathSuffix: "7"}
	buf := EncodeRegistration(r)
	got, n, err := DecodeRegistration(buf)
	if err != nil {
		t.Fatalf("DecodeRegistration: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("expected to consume %d bytes, consumed %d", len(buf), n)
	}
	if got != r {
		t.Fatalf("expected %+v, got %+v", r, got)
	}
}

func TestDecodeRegistrationShortRead(t *testing.T) {
	if _, _, err := DecodeRegistration([]byte{1, 2, 3}); err != ErrShortRead {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
	full := EncodeRegistration(Registration{ThreadID: 1, ProcessID: 2, ShmPathSuffix: "abcd"})
	if _, _, err := DecodeRegistration(full[:len(full)-1]); err != ErrShortRead {
		t.Fatalf("expected ErrShortRead on truncated path, got %v", err)
	}
}

func TestRegistrationResponseOKIncludesLayout(t *testing.T) {
	layout := ShmLayoutDescriptor{ShmSize: 4096, ReleaseRequestCountOffset: 0, ThreadPreemptedOffset: 8}
	buf := EncodeRegistrationResponse(true, layout)
	if len(buf) != RegistrationResponseOKLen+ShmLayoutDescriptorLen {
		t.Fatalf("unexpected response length %d", len(buf))
	}
	ok, got, err := DecodeRegistrationResponse(buf)
	if err != nil {
		t.Fatalf("DecodeRegistrationResponse: %v", err)
	}
	if !ok || got != layout {
		t.Fatalf("expected ok=true layout=%+v, got ok=%v layout=%+v", layout, ok, got)
	}
}

func TestRegistrationResponseRejectedOmitsLayout(t *testing.T) {
	buf := EncodeRegistrationResponse(false, ShmLayoutDescriptor{})
	if len(buf) != 1 {
		t.Fatalf("expected a single byte on rejection, got %d bytes", len(buf))
	}
	ok, _, err := DecodeRegistrationResponse(buf)
	if err != nil {
		t.Fatalf("DecodeRegistrationResponse: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false")
	}
}

func TestCoreRequestRoundTrip(t *testing.T) {
	counts := []uint32{2, 0, 1, 0}
	buf := EncodeCoreRequest(counts)
	got, err := DecodeCoreRequest(buf, len(counts))
	if err != nil {
		t.Fatalf("DecodeCoreRequest: %v", err)
	}
	if len(got) != len(counts) {
		t.Fatalf("expected %d counts, got %d", len(counts), len(got))
	}
	for i := range counts {
		if got[i] != counts[i] {
			t.Fatalf("count[%d]: expected %d, got %d", i, counts[i], got[i])
		}
	}
}

func TestDecodeOpcode(t *testing.T) {
	for _, op := range []Opcode{OpThreadBlock, OpCoreRequest, OpCountBlocked, OpTotalAvailable} {
		got, err := DecodeOpcode([]byte{byte(op)})
		if err != nil {
			t.Fatalf("DecodeOpcode(%v): %v", op, err)
		}
		if got != op {
			t.Fatalf("expected %v, got %v", op, got)
		}
	}
	if _, err := DecodeOpcode([]byte{200}); err != ErrUnknownOpcode {
		t.Fatalf("expected ErrUnknownOpcode, got %v", err)
	}
	if _, err := DecodeOpcode(nil); err != ErrShortRead {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
}

func TestCountRoundTrip(t *testing.T) {
	buf := EncodeCount(12345)
	got, err := DecodeCount(buf)
	if err != nil {
		t.Fatalf("DecodeCount: %v", err)
	}
	if got != 12345 {
		t.Fatalf("expected 12345, got %d", got)
	}
}
