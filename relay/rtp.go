package relay

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thesyncim/av1enc/od4"
)

// FourCC of the image readings the sinks forward.
const FourCC = "AV01"

// ErrSinkClosed is returned by Send after Close.
var ErrSinkClosed = errors.New("relay: sink closed")

// av1Frame returns the payload of an AV1 image reading.
func av1Frame(msg od4.Message) ([]byte, bool) {
	ir, ok := msg.(*od4.ImageReading)
	if !ok || ir.FourCC != FourCC || len(ir.Data) == 0 {
		return nil, false
	}
	return ir.Data, true
}

// RTPSinkStats counts what an RTPSink sent.
type RTPSinkStats struct {
	Frames  uint64
	Packets uint64
	Bytes   uint64
	Errors  uint64
}

// RTPSink sends AV1 frames as an RTP stream to a single UDP destination.
type RTPSink struct {
	conn       net.Conn
	packetizer *Packetizer
	buf        []byte

	mu        sync.Mutex
	running   atomic.Bool
	closeOnce sync.Once

	frames  atomic.Uint64
	packets atomic.Uint64
	bytes   atomic.Uint64
	errors  atomic.Uint64
}

// NewRTPSink dials addr (host:port) over UDP. A zero payloadType or mtu
// selects the default.
func NewRTPSink(addr string, payloadType uint8, mtu int) (*RTPSink, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", addr, err)
	}
	if payloadType == 0 {
		payloadType = DefaultPayloadType
	}
	if mtu <= 0 {
		mtu = DefaultMTU
	}

	s := &RTPSink{
		conn:       conn,
		packetizer: NewPacketizer(rand.Uint32(), payloadType, mtu, rand.Uint32()),
		buf:        make([]byte, mtu),
	}
	s.running.Store(true)
	logger.Infof("rtp stream to %s (ssrc %d, pt %d)", addr, s.packetizer.SSRC(), payloadType)
	return s, nil
}

// Send packetizes an AV1 image reading and writes every packet. Other
// messages are ignored. A failed packet write aborts the frame.
func (s *RTPSink) Send(msg od4.Message, sampleTime time.Time, senderStamp uint32) error {
	if !s.running.Load() {
		return ErrSinkClosed
	}
	frame, ok := av1Frame(msg)
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pkt := range s.packetizer.Packetize(frame, sampleTime) {
		n, err := pkt.MarshalTo(s.buf)
		if err != nil {
			s.errors.Add(1)
			return fmt.Errorf("relay: marshal rtp: %w", err)
		}
		if _, err := s.conn.Write(s.buf[:n]); err != nil {
			s.errors.Add(1)
			return fmt.Errorf("relay: write rtp: %w", err)
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(n))
	}
	s.frames.Add(1)
	return nil
}

// IsRunning reports whether the sink accepts frames.
func (s *RTPSink) IsRunning() bool { return s.running.Load() }

// Stats returns a snapshot of the send counters.
func (s *RTPSink) Stats() RTPSinkStats {
	return RTPSinkStats{
		Frames:  s.frames.Load(),
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
		Errors:  s.errors.Load(),
	}
}

// Close stops the sink. Safe to call multiple times.
func (s *RTPSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.running.Store(false)
		err = s.conn.Close()
	})
	return err
}
