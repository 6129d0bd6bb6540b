package od4

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGroupAddr(t *testing.T) {
	tests := []struct {
		cid     uint16
		want    string
		wantErr bool
	}{
		{111, "225.0.0.111:12175", false},
		{1, "225.0.0.1:12175", false},
		{254, "225.0.0.254:12175", false},
		{0, "", true},
		{255, "", true},
	}
	for _, tt := range tests {
		addr, err := GroupAddr(tt.cid)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidCID) {
				t.Errorf("GroupAddr(%d) error = %v, want ErrInvalidCID", tt.cid, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("GroupAddr(%d): %v", tt.cid, err)
		}
		if addr.String() != tt.want {
			t.Errorf("GroupAddr(%d) = %s, want %s", tt.cid, addr, tt.want)
		}
	}
}

func TestSessionRejectsOversizeDatagram(t *testing.T) {
	s, err := NewSession(111)
	if err != nil {
		t.Skipf("no UDP socket: %v", err)
	}
	defer s.Close()

	msg := &ImageReading{FourCC: "AV01", Data: make([]byte, MaxDatagramSize)}
	if err := s.Send(msg, time.Now(), 0); !errors.Is(err, ErrDatagramTooLarge) {
		t.Fatalf("Send() error = %v, want ErrDatagramTooLarge", err)
	}
	if _, dropped := s.Counters(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestSessionClose(t *testing.T) {
	s, err := NewSession(112)
	if err != nil {
		t.Skipf("no UDP socket: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("new session not running")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.IsRunning() {
		t.Error("closed session still running")
	}
	if err := s.Send(&ImageReading{}, time.Now(), 0); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Send after Close error = %v, want ErrSessionClosed", err)
	}
}

func TestSessionLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("multicast loopback in short mode")
	}

	s, err := NewSession(113)
	if err != nil {
		t.Skipf("no UDP socket: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	received := make(chan Envelope, 1)
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- s.Listen(ctx, func(e Envelope) {
			select {
			case received <- e:
			default:
			}
		})
	}()

	sample := time.Unix(1700000000, 5000)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case e := <-received:
			if e.DataType != ImageReadingID || e.SenderStamp != 9 {
				t.Fatalf("received %+v", e)
			}
			if !e.SampleTimeStamp.Equal(sample) {
				t.Errorf("SampleTimeStamp = %v, want %v", e.SampleTimeStamp, sample)
			}
			if e.Received.IsZero() {
				t.Error("Received not stamped")
			}
			return
		case err := <-listenErr:
			t.Skipf("multicast listen unavailable: %v", err)
		case <-ctx.Done():
			t.Skip("multicast loopback unavailable")
		case <-tick.C:
			s.Send(&ImageReading{FourCC: "AV01", Data: []byte{1}}, sample, 9)
		}
	}
}
