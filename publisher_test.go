package av1enc

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestPublisherPublish(t *testing.T) {
	bus := &recordingBus{}
	p := NewPublisher(bus, 42)
	sample := time.Unix(1700000000, 250_000_000)

	if err := p.Publish([]byte{1, 2, 3}, 640, 480, sample); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msgs := bus.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.reading.FourCC != "AV01" || m.reading.Width != 640 || m.reading.Height != 480 {
		t.Errorf("reading = %+v", m.reading)
	}
	if !bytes.Equal(m.reading.Data, []byte{1, 2, 3}) {
		t.Errorf("data = % x", m.reading.Data)
	}
	if !m.sampleTime.Equal(sample) || m.senderStamp != 42 {
		t.Errorf("sample time %v, sender stamp %d", m.sampleTime, m.senderStamp)
	}
	if stats := p.Stats(); stats.Published != 1 || stats.Bytes != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPublisherRefusesEmptyPayload(t *testing.T) {
	bus := &recordingBus{}
	p := NewPublisher(bus, 0)

	if err := p.Publish(nil, 64, 48, time.Now()); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("Publish(nil) = %v, want ErrEmptyPayload", err)
	}
	if len(bus.messages()) != 0 {
		t.Error("empty payload reached the bus")
	}
}

func TestPublisherSendErrorIsSwallowed(t *testing.T) {
	bus := &recordingBus{err: errBusDown}
	p := NewPublisher(bus, 0)

	if err := p.Publish([]byte{1}, 64, 48, time.Now()); err != nil {
		t.Errorf("Publish() = %v, want nil", err)
	}
	if stats := p.Stats(); stats.SendErrors != 1 || stats.Published != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMultiBus(t *testing.T) {
	primary := &recordingBus{}
	healthy := &recordingBus{}
	broken := &recordingBus{err: errBusDown}
	bus := &MultiBus{Primary: primary, Relays: []Bus{broken, healthy}}

	p := NewPublisher(bus, 3)
	if err := p.Publish([]byte{9}, 64, 48, time.Now()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(primary.messages()) != 1 || len(healthy.messages()) != 1 {
		t.Errorf("primary got %d, relay got %d", len(primary.messages()), len(healthy.messages()))
	}
	if stats := p.Stats(); stats.SendErrors != 0 {
		t.Errorf("relay failure counted against the primary: %+v", stats)
	}

	primary.stopped = true
	if bus.IsRunning() {
		t.Error("MultiBus running with a stopped primary")
	}
}
