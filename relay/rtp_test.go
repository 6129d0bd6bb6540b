package relay

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"

	"github.com/thesyncim/av1enc/od4"
)

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("no loopback UDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readPackets(t *testing.T, conn *net.UDPConn) []*rtp.Packet {
	t.Helper()
	var packets []*rtp.Packet
	buf := make([]byte, 1500)
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("read: %v (after %d packets)", err, len(packets))
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(append([]byte(nil), buf[:n]...)); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		packets = append(packets, pkt)
		if pkt.Marker {
			return packets
		}
	}
}

func TestRTPSink(t *testing.T) {
	conn := listenUDP(t)

	sink, err := NewRTPSink(conn.LocalAddr().String(), 100, 600)
	if err != nil {
		t.Fatalf("NewRTPSink: %v", err)
	}
	defer sink.Close()

	sample := time.Unix(1700000000, 0)
	tu := temporalUnit(3000)
	msg := &od4.ImageReading{FourCC: FourCC, Width: 64, Height: 48, Data: tu}
	if err := sink.Send(msg, sample, 0); err != nil {
		t.Fatalf("Send: %v", err)
	}

	packets := readPackets(t, conn)
	if len(packets) < 5 {
		t.Fatalf("got %d packets, want at least 5", len(packets))
	}
	for i, pkt := range packets {
		if pkt.PayloadType != 100 {
			t.Errorf("packet %d: PayloadType = %d, want 100", i, pkt.PayloadType)
		}
		if pkt.Timestamp != packets[0].Timestamp {
			t.Errorf("packet %d: timestamp changed within a frame", i)
		}
	}

	d := NewDepacketizer()
	var frame *Frame
	for _, pkt := range packets {
		frame = d.Depacketize(pkt)
	}
	if frame == nil {
		t.Fatal("depacketizer returned no frame")
	}
	if !bytes.Contains(frame.Data, tu[len(tu)-3000:]) {
		t.Error("frame OBU payload not reassembled")
	}

	// Next frame 40ms later: 3600 ticks on the 90kHz clock.
	if err := sink.Send(&od4.ImageReading{FourCC: FourCC, Data: temporalUnit(10)}, sample.Add(40*time.Millisecond), 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	next := readPackets(t, conn)
	if got := next[0].Timestamp - packets[0].Timestamp; got != 3600 {
		t.Errorf("timestamp delta = %d, want 3600", got)
	}

	stats := sink.Stats()
	if stats.Frames != 2 || stats.Packets != uint64(len(packets)+len(next)) {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRTPSinkIgnoresOtherMessages(t *testing.T) {
	conn := listenUDP(t)
	sink, err := NewRTPSink(conn.LocalAddr().String(), 0, 0)
	if err != nil {
		t.Fatalf("NewRTPSink: %v", err)
	}
	defer sink.Close()

	tests := []od4.Message{
		&od4.ImageReading{FourCC: "h264", Data: []byte{1}},
		&od4.ImageReading{FourCC: FourCC},
	}
	for _, msg := range tests {
		if err := sink.Send(msg, time.Now(), 0); err != nil {
			t.Errorf("Send(%+v) = %v", msg, err)
		}
	}
	if stats := sink.Stats(); stats.Frames != 0 {
		t.Errorf("Frames = %d, want 0", stats.Frames)
	}
}

func TestRTPSinkClose(t *testing.T) {
	conn := listenUDP(t)
	sink, err := NewRTPSink(conn.LocalAddr().String(), 0, 0)
	if err != nil {
		t.Fatalf("NewRTPSink: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if sink.IsRunning() {
		t.Error("closed sink still running")
	}
	msg := &od4.ImageReading{FourCC: FourCC, Data: temporalUnit(10)}
	if err := sink.Send(msg, time.Now(), 0); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Send after Close = %v, want ErrSinkClosed", err)
	}
}
