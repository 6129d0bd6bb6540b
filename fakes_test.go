package av1enc

import (
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/thesyncim/av1enc/od4"
)

// fakeCodec hands out a preconfigured session.
type fakeCodec struct {
	defaults    EncoderConfig
	defaultsErr error
	openErr     error
	session     *fakeSession
	opened      []EncoderConfig
}

func (c *fakeCodec) Name() string { return "fake" }

func (c *fakeCodec) DefaultConfig(usage Usage) (EncoderConfig, error) {
	if c.defaultsErr != nil {
		return EncoderConfig{}, c.defaultsErr
	}
	cfg := c.defaults
	cfg.Usage = usage
	return cfg, nil
}

func (c *fakeCodec) Open(cfg EncoderConfig) (Session, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.opened = append(c.opened, cfg)
	if c.session == nil {
		c.session = newFakeSession(MaxCompressedSize(cfg.Width, cfg.Height))
	}
	return c.session, nil
}

type encodeCall struct {
	pts    int64
	forced bool
	first  byte // First luma byte of the submitted frame
}

// fakeSession scripts encoder behaviour by presentation index.
type fakeSession struct {
	maxFrame int
	failAt   map[int64]bool
	emptyAt  map[int64]bool

	// packets overrides the default output when set.
	packets func(pts int64, forced bool) []Packet

	// source is checked for a held lock during Encode.
	source *MemorySource

	calls              []encodeCall
	last               []Packet
	lockedDuringEncode bool
	closed             int
}

func newFakeSession(maxFrame int) *fakeSession {
	return &fakeSession{
		maxFrame: maxFrame,
		failAt:   make(map[int64]bool),
		emptyAt:  make(map[int64]bool),
	}
}

// fakePayload is the frame data the default script produces for pts.
func fakePayload(pts int64) []byte {
	return []byte{byte(pts), 0xAA, 0xBB}
}

func (s *fakeSession) Encode(frame *Frame, pts int64, forced bool) error {
	if s.closed > 0 {
		return ErrSessionClosed
	}
	if s.source != nil && s.source.Locked() {
		s.lockedDuringEncode = true
	}
	s.calls = append(s.calls, encodeCall{pts: pts, forced: forced, first: frame.Data[PlaneY][0]})
	s.last = nil

	if s.failAt[pts] {
		return fmt.Errorf("%w: scripted failure at %d", ErrEncode, pts)
	}
	switch {
	case s.emptyAt[pts]:
		s.last = []Packet{{Kind: PacketKindStats, Data: []byte{0xFF}}}
	case s.packets != nil:
		s.last = s.packets(pts, forced)
	default:
		p := fakePayload(pts)
		s.last = []Packet{
			{Kind: PacketKindStats, Data: []byte{0xEE}},
			{Kind: PacketKindFrame, Data: p[:2], Keyframe: forced, PTS: pts},
			{Kind: PacketKindPSNR},
			{Kind: PacketKindFrame, Data: p[2:], PTS: pts},
		}
	}
	return nil
}

func (s *fakeSession) Drain() iter.Seq[Packet] {
	packets := s.last
	return func(yield func(Packet) bool) {
		for _, p := range packets {
			if !yield(p) {
				return
			}
		}
	}
}

func (s *fakeSession) MaxFrameSize() int { return s.maxFrame }

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

func (s *fakeSession) forcedAt() []int64 {
	var out []int64
	for _, c := range s.calls {
		if c.forced {
			out = append(out, c.pts)
		}
	}
	return out
}

var errBusDown = errors.New("bus down")

type sentMessage struct {
	reading     od4.ImageReading
	sampleTime  time.Time
	senderStamp uint32
}

// recordingBus keeps a copy of every message it is asked to send.
type recordingBus struct {
	mu   sync.Mutex
	sent []sentMessage

	err       error // Returned from every Send
	stopAfter int   // Stop running after this many sends; 0 = never

	source           *MemorySource
	lockedDuringSend bool
	stopped          bool
}

func (b *recordingBus) Send(msg od4.Message, sampleTime time.Time, senderStamp uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.source != nil && b.source.Locked() {
		b.lockedDuringSend = true
	}
	if b.err != nil {
		return b.err
	}

	ir := *msg.(*od4.ImageReading)
	ir.Data = append([]byte(nil), ir.Data...)
	b.sent = append(b.sent, sentMessage{reading: ir, sampleTime: sampleTime, senderStamp: senderStamp})
	if b.stopAfter > 0 && len(b.sent) >= b.stopAfter {
		b.stopped = true
	}
	return nil
}

func (b *recordingBus) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.stopped
}

func (b *recordingBus) messages() []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentMessage(nil), b.sent...)
}

// stepClock returns a clock advancing by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(step)
		return t
	}
}
