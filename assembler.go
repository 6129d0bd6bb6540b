package av1enc

import (
	"errors"
	"fmt"
	"iter"
)

// ErrPayloadTooLarge is returned when the compressed chunks of one frame
// exceed the assembler's capacity.
var ErrPayloadTooLarge = errors.New("compressed frame exceeds payload capacity")

// Assembly is the payload of one encode call.
// Payload aliases the assembler buffer and is valid until the next Assemble.
type Assembly struct {
	Payload   []byte
	Chunks    int  // Frame packets copied into Payload
	Discarded int  // Non-frame packets skipped
	Keyframe  bool // Any chunk was flagged as a keyframe
}

// Empty reports whether the encode call produced no frame bytes.
func (a Assembly) Empty() bool {
	return len(a.Payload) == 0
}

// Assembler concatenates the frame packets drained after one encode call
// into a single contiguous payload. The buffer is reused across calls and
// grows on demand, never past the configured limit.
type Assembler struct {
	buf   []byte
	limit int
}

// NewAssembler creates an assembler that refuses payloads larger than limit
// bytes. Use Session.MaxFrameSize for the limit.
func NewAssembler(limit int) *Assembler {
	initial := limit / 8
	if initial < 4096 {
		initial = min(limit, 4096)
	}
	return &Assembler{
		buf:   make([]byte, 0, initial),
		limit: limit,
	}
}

// Limit returns the payload capacity in bytes.
func (a *Assembler) Limit() int {
	return a.limit
}

// Assemble consumes packets to exhaustion. Chunks are appended in the order
// they are produced. If a chunk would overflow the limit, the remaining
// packets are still drained but the whole frame is rejected with
// ErrPayloadTooLarge and an empty Assembly.
func (a *Assembler) Assemble(packets iter.Seq[Packet]) (Assembly, error) {
	var (
		out      Assembly
		overflow int
	)
	a.buf = a.buf[:0]

	for pkt := range packets {
		if pkt.Kind != PacketKindFrame {
			out.Discarded++
			continue
		}
		if overflow > 0 {
			overflow += len(pkt.Data)
			continue
		}
		if len(a.buf)+len(pkt.Data) > a.limit {
			overflow = len(a.buf) + len(pkt.Data)
			continue
		}
		a.buf = append(a.buf, pkt.Data...)
		out.Chunks++
		if pkt.Keyframe {
			out.Keyframe = true
		}
	}

	if overflow > 0 {
		a.buf = a.buf[:0]
		return Assembly{Discarded: out.Discarded}, fmt.Errorf("%w: at least %d bytes, limit %d",
			ErrPayloadTooLarge, overflow, a.limit)
	}

	out.Payload = a.buf
	return out, nil
}
