// File: wire/wire.go
// Author: momentics <momentics@gmail.com>
//
// Fixed-length little-endian framing for the arbiter's client socket
// protocol. Lengths are implied by the opcode, so there is no explicit
// frame-length field — a short read or an unrecognized opcode is
// always a client fault, never a protocol error worth retrying.
package wire

import "encoding/binary"

// Opcode tags every message a client sends after registration.
type Opcode uint8

const (
	// OpThreadBlock carries no payload; it notifies the server that
	// the calling thread is voluntarily giving up its exclusive core.
	OpThreadBlock Opcode = iota
	// OpCoreRequest carries NumPriorities uint32 desired counts.
	OpCoreRequest
	// OpCountBlocked carries no payload; the response is a uint32 count.
	OpCountBlocked
	// OpTotalAvailable carries no payload; the response is a uint32 count.
	OpTotalAvailable
)

func (o Opcode) String() string {
	switch o {
	case OpThreadBlock:
		return "THREAD_BLOCK"
	case OpCoreRequest:
		return "CORE_REQUEST"
	case OpCountBlocked:
		return "COUNT_BLOCKED"
	case OpTotalAvailable:
		return "TOTAL_AVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether o is one of the four recognized opcodes.
func (o Opcode) IsValid() bool {
	return o <= OpTotalAvailable
}

// RegistrationRequestFixedLen is the length, in bytes, of the fixed
// portion of a registration message preceding the variable-length shm
// path: two pid_t-sized fields plus the path length.
const RegistrationRequestFixedLen = 4 + 4 + 2

// RegistrationResponseOKLen is the length of the {ok byte} response.
const RegistrationResponseOKLen = 1

// ShmLayoutDescriptorLen is the length of the fixed descriptor that
// follows a successful registration response, informing the client of
// its assigned shared-memory offsets without hard-coding them
// (resolves the "registration response informs the client of its
// assigned shared-memory layout offsets" requirement explicitly).
const ShmLayoutDescriptorLen = 4 + 4 + 4 + 16

// Registration is the first message on any newly accepted connection.
type Registration struct {
	ThreadID      int32
	ProcessID     int32
	ShmPathSuffix string
}

// DecodeRegistration parses the fixed header plus the variable-length
// shm path out of buf, returning the number of bytes consumed.
func DecodeRegistration(buf []byte) (Registration, int, error) {
	if len(buf) < RegistrationRequestFixedLen {
		return Registration{}, 0, ErrShortRead
	}
	threadID := int32(binary.LittleEndian.Uint32(buf[0:4]))
	processID := int32(binary.LittleEndian.Uint32(buf[4:8]))
	pathLen := int(binary.LittleEndian.Uint16(buf[8:10]))
	total := RegistrationRequestFixedLen + pathLen
	if len(buf) < total {
		return Registration{}, 0, ErrShortRead
	}
	return Registration{
		ThreadID:      threadID,
		ProcessID:     processID,
		ShmPathSuffix: string(buf[10:total]),
	}, total, nil
}

// EncodeRegistration renders r in wire format.
func EncodeRegistration(r Registration) []byte {
	buf := make([]byte, RegistrationRequestFixedLen+len(r.ShmPathSuffix))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.ThreadID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.ProcessID))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(r.ShmPathSuffix)))
	copy(buf[10:], r.ShmPathSuffix)
	return buf
}

// ShmLayoutDescriptor tells the client where in its mmapped region the
// two server-signalled fields live.
type ShmLayoutDescriptor struct {
	ShmSize                   uint32
	ReleaseRequestCountOffset uint32
	ThreadPreemptedOffset     uint32
}

// EncodeRegistrationResponse renders the {ok} byte, followed by the
// layout descriptor only when ok is true.
func EncodeRegistrationResponse(ok bool, layout ShmLayoutDescriptor) []byte {
	if !ok {
		return []byte{0}
	}
	buf := make([]byte, RegistrationResponseOKLen+ShmLayoutDescriptorLen)
	buf[0] = 1
	binary.LittleEndian.PutUint32(buf[1:5], layout.ShmSize)
	binary.LittleEndian.PutUint32(buf[5:9], layout.ReleaseRequestCountOffset)
	binary.LittleEndian.PutUint32(buf[9:13], layout.ThreadPreemptedOffset)
	return buf
}

// DecodeRegistrationResponse is the client-side counterpart, kept here
// only to exercise the wire format symmetrically in tests; the arbiter
// itself never calls it.
func DecodeRegistrationResponse(buf []byte) (bool, ShmLayoutDescriptor, error) {
	if len(buf) < RegistrationResponseOKLen {
		return false, ShmLayoutDescriptor{}, ErrShortRead
	}
	if buf[0] == 0 {
		return false, ShmLayoutDescriptor{}, nil
	}
	if len(buf) < RegistrationResponseOKLen+ShmLayoutDescriptorLen {
		return false, ShmLayoutDescriptor{}, ErrShortRead
	}
	return true, ShmLayoutDescriptor{
		ShmSize:                   binary.LittleEndian.Uint32(buf[1:5]),
		ReleaseRequestCountOffset: binary.LittleEndian.Uint32(buf[5:9]),
		ThreadPreemptedOffset:     binary.LittleEndian.Uint32(buf[9:13]),
	}, nil
}

// CoreRequestLen returns the payload length of a CORE_REQUEST message
// for a server configured with numPriorities levels.
func CoreRequestLen(numPriorities int) int {
	return numPriorities * 4
}

// PayloadLen returns the number of payload bytes that follow op's
// opcode byte for a server configured with numPriorities levels.
// Framing is implicit: the opcode alone determines the frame length.
func PayloadLen(op Opcode, numPriorities int) int {
	if op == OpCoreRequest {
		return CoreRequestLen(numPriorities)
	}
	return 0
}

// DecodeCoreRequest parses a CORE_REQUEST payload into a per-priority
// desired-count vector.
func DecodeCoreRequest(buf []byte, numPriorities int) ([]uint32, error) {
	want := CoreRequestLen(numPriorities)
	if len(buf) < want {
		return nil, ErrShortRead
	}
	out := make([]uint32, numPriorities)
	for i := 0; i < numPriorities; i++ {
		out[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	return out, nil
}

// EncodeCoreRequest is the client-side counterpart; kept for symmetric
// wire-level tests.
func EncodeCoreRequest(counts []uint32) []byte {
	buf := make([]byte, len(counts)*4)
	for i, c := range counts {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], c)
	}
	return buf
}

// EncodeCount renders a uint32 response, used for COUNT_BLOCKED and
// TOTAL_AVAILABLE.
func EncodeCount(n uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, n)
	return buf
}

// DecodeCount is the client-side counterpart.
func DecodeCount(buf []byte) (uint32, error) {
	if len(buf) < 4 {
		return 0, ErrShortRead
	}
	return binary.LittleEndian.Uint32(buf[:4]), nil
}

// WakeupByte is written to a thread's socket to wake it from a
// blocking read once it has been granted a core.
const WakeupByte byte = 1
