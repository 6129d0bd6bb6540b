package relay

import (
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// RTP defaults for the AV1 stream.
const (
	DefaultMTU         = 1200
	DefaultPayloadType = 96
	ClockRate          = 90000

	rtpHeaderSize = 12
)

// Packetizer splits AV1 temporal units into RTP packets following the AV1
// RTP payload format. Timestamps run on the 90 kHz clock, anchored at the
// first frame's sample time.
type Packetizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
	payloader   *codecs.AV1Payloader

	baseTS   uint32
	baseTime time.Time

	mu sync.Mutex
}

// NewPacketizer creates a packetizer. baseTS is the RTP timestamp of the
// first frame.
func NewPacketizer(ssrc uint32, payloadType uint8, mtu int, baseTS uint32) *Packetizer {
	if mtu <= rtpHeaderSize {
		mtu = DefaultMTU
	}
	return &Packetizer{
		ssrc:        ssrc,
		payloadType: payloadType,
		mtu:         mtu,
		sequencer:   rtp.NewRandomSequencer(),
		payloader:   &codecs.AV1Payloader{},
		baseTS:      baseTS,
	}
}

// Timestamp maps a sample time onto the RTP clock. Times before the first
// frame map to the base timestamp.
func (p *Packetizer) Timestamp(sampleTime time.Time) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timestamp(sampleTime)
}

func (p *Packetizer) timestamp(sampleTime time.Time) uint32 {
	if p.baseTime.IsZero() {
		p.baseTime = sampleTime
	}
	elapsed := sampleTime.Sub(p.baseTime)
	if elapsed < 0 {
		elapsed = 0
	}
	ticks := elapsed.Nanoseconds() * ClockRate / int64(time.Second)
	return p.baseTS + uint32(ticks)
}

// Packetize converts one temporal unit into RTP packets. The marker bit is
// set on the last packet.
func (p *Packetizer) Packetize(frame []byte, sampleTime time.Time) []*rtp.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(frame) == 0 {
		return nil
	}
	ts := p.timestamp(sampleTime)

	payloads := p.payloader.Payload(uint16(p.mtu-rtpHeaderSize), frame)
	packets := make([]*rtp.Packet, len(payloads))
	for i, payload := range payloads {
		packets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    p.payloadType,
				SequenceNumber: p.sequencer.NextSequenceNumber(),
				Timestamp:      ts,
				SSRC:           p.ssrc,
			},
			Payload: payload,
		}
	}
	return packets
}

func (p *Packetizer) SSRC() uint32       { return p.ssrc }
func (p *Packetizer) PayloadType() uint8 { return p.payloadType }
func (p *Packetizer) MTU() int           { return p.mtu }

// Frame is a temporal unit rebuilt from RTP packets.
type Frame struct {
	Data      []byte
	Timestamp uint32
	Keyframe  bool // First packet opened a new coded video sequence
}

// Depacketizer rebuilds temporal units from RTP packets produced by a
// Packetizer. Output OBUs always carry size fields and start with a
// temporal delimiter, so a decoder can consume them directly.
type Depacketizer struct {
	packet    codecs.AV1Packet
	buf       []byte
	frag      []byte // OBU continued in the next packet
	seqHeader []byte
	timestamp uint32
	started   bool
	keyframe  bool

	mu sync.Mutex
}

// NewDepacketizer creates a depacketizer.
func NewDepacketizer() *Depacketizer {
	return &Depacketizer{}
}

// Depacketize consumes one packet. It returns a frame when the packet
// carries the marker bit, nil otherwise. Corrupt packets are dropped.
func (d *Depacketizer) Depacketize(pkt *rtp.Packet) *Frame {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(pkt.Payload) == 0 {
		return nil
	}
	if d.started && d.timestamp != pkt.Timestamp {
		d.buf = d.buf[:0]
		d.frag = d.frag[:0]
		d.keyframe = false
	}
	d.timestamp = pkt.Timestamp
	d.started = true

	if _, err := d.packet.Unmarshal(pkt.Payload); err != nil {
		logger.Debugf("drop packet %d: %v", pkt.SequenceNumber, err)
		return nil
	}
	if d.packet.N {
		d.keyframe = true
	}

	elements := d.packet.OBUElements
	for i, obu := range elements {
		if i == 0 && d.packet.Z {
			if len(d.frag) == 0 {
				// Head of this OBU was lost.
				continue
			}
			obu = append(d.frag, obu...)
			d.frag = d.frag[:0]
		}
		if i == len(elements)-1 && d.packet.Y {
			d.frag = append(d.frag[:0], obu...)
			continue
		}
		d.buf = append(d.buf, withSizeField(obu)...)
	}

	if !pkt.Marker {
		return nil
	}

	if d.keyframe {
		if sh := findSequenceHeader(d.buf); sh != nil {
			d.seqHeader = append(d.seqHeader[:0], sh...)
		}
	}

	out := make([]byte, 0, len(d.buf)+len(d.seqHeader)+2)
	out = append(out, temporalDelimiterByte, 0x00)
	if !d.keyframe && d.seqHeader != nil && (len(d.buf) == 0 || obuType(d.buf[0]) != obuSequenceHeader) {
		out = append(out, d.seqHeader...)
	}
	out = append(out, d.buf...)

	frame := &Frame{Data: out, Timestamp: d.timestamp, Keyframe: d.keyframe}
	d.buf = d.buf[:0]
	d.keyframe = false
	return frame
}
