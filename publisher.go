package av1enc

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/thesyncim/av1enc/od4"
)

// ErrEmptyPayload is returned when asked to publish zero bytes.
var ErrEmptyPayload = errors.New("empty payload")

// Bus delivers messages to subscribers. od4.Session implements it.
type Bus interface {
	// Send publishes msg stamped with the frame's sample time and the
	// sender's instance id.
	Send(msg od4.Message, sampleTime time.Time, senderStamp uint32) error

	// IsRunning reports whether the bus is still usable.
	IsRunning() bool
}

// MultiBus sends every message to a primary bus and any number of relays.
// Relay failures are logged and never reported; liveness follows the
// primary only.
type MultiBus struct {
	Primary Bus
	Relays  []Bus
}

// Send implements Bus. The primary's error is returned.
func (m *MultiBus) Send(msg od4.Message, sampleTime time.Time, senderStamp uint32) error {
	err := m.Primary.Send(msg, sampleTime, senderStamp)
	for _, relay := range m.Relays {
		if rerr := relay.Send(msg, sampleTime, senderStamp); rerr != nil {
			logger.Debugf("relay send: %v", rerr)
		}
	}
	return err
}

// IsRunning implements Bus.
func (m *MultiBus) IsRunning() bool {
	return m.Primary.IsRunning()
}

// PublisherStats counts publish outcomes.
type PublisherStats struct {
	Published  uint64
	Bytes      uint64
	SendErrors uint64
}

// Publisher wraps compressed frames as image readings and sends them.
type Publisher struct {
	bus         Bus
	senderStamp uint32

	published  atomic.Uint64
	bytes      atomic.Uint64
	sendErrors atomic.Uint64
}

// NewPublisher creates a publisher that stamps every message with
// senderStamp.
func NewPublisher(bus Bus, senderStamp uint32) *Publisher {
	return &Publisher{bus: bus, senderStamp: senderStamp}
}

// Publish sends one AV1 frame. Delivery is fire and forget: a transport
// error is counted and logged but not returned. Only an empty payload is
// refused.
func (p *Publisher) Publish(payload []byte, width, height int, sampleTime time.Time) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}

	msg := &od4.ImageReading{
		FourCC: FourCC,
		Width:  uint32(width),
		Height: uint32(height),
		Data:   payload,
	}
	if err := p.bus.Send(msg, sampleTime, p.senderStamp); err != nil {
		p.sendErrors.Add(1)
		logger.Debugf("send %d bytes: %v", len(payload), err)
		return nil
	}

	p.published.Add(1)
	p.bytes.Add(uint64(len(payload)))
	return nil
}

// Running reports whether the underlying bus is still running.
func (p *Publisher) Running() bool {
	return p.bus.IsRunning()
}

// SenderStamp returns the instance id stamped on every message.
func (p *Publisher) SenderStamp() uint32 {
	return p.senderStamp
}

// Stats returns a snapshot of the publish counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published:  p.published.Load(),
		Bytes:      p.bytes.Load(),
		SendErrors: p.sendErrors.Load(),
	}
}
