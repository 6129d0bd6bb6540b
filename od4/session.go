package od4

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kataras/golog"
	"golang.org/x/net/ipv4"
)

// Session defaults.
const (
	Port = 12175

	// MaxDatagramSize is the largest UDP payload over IPv4.
	MaxDatagramSize = 65507

	multicastTTL = 1
)

var (
	ErrInvalidCID       = errors.New("od4: conference id must be in [1, 254]")
	ErrDatagramTooLarge = errors.New("od4: envelope exceeds UDP datagram size")
	ErrSessionClosed    = errors.New("od4: session closed")
)

var logger = golog.Child("[od4]")

// Session sends envelopes to one OD4 conference.
// Send is safe for concurrent use.
type Session struct {
	cid   uint16
	group *net.UDPAddr
	conn  *net.UDPConn

	running   atomic.Bool
	closeOnce sync.Once

	sent    atomic.Uint64
	dropped atomic.Uint64

	now func() time.Time
}

// GroupAddr returns the multicast address for a conference id.
func GroupAddr(cid uint16) (*net.UDPAddr, error) {
	if cid < 1 || cid > 254 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCID, cid)
	}
	return &net.UDPAddr{IP: net.IPv4(225, 0, 0, byte(cid)), Port: Port}, nil
}

// NewSession opens a sending socket for conference cid.
func NewSession(cid uint16) (*Session, error) {
	group, err := GroupAddr(cid)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("od4: open socket: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(multicastTTL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("od4: set multicast ttl: %w", err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("od4: set multicast loopback: %w", err)
	}

	s := &Session{
		cid:   cid,
		group: group,
		conn:  conn,
		now:   time.Now,
	}
	s.running.Store(true)
	logger.Debugf("session on %s (cid %d)", group, cid)
	return s, nil
}

// CID returns the conference id.
func (s *Session) CID() uint16 { return s.cid }

// IsRunning reports whether the session can still send.
func (s *Session) IsRunning() bool { return s.running.Load() }

// Send wraps msg in an envelope stamped with the current time and sends it.
func (s *Session) Send(msg Message, sampleTime time.Time, senderStamp uint32) error {
	return s.SendEnvelope(NewEnvelope(msg, sampleTime, senderStamp))
}

// SendEnvelope sends e. Sent is set when zero.
func (s *Session) SendEnvelope(e Envelope) error {
	if !s.running.Load() {
		return ErrSessionClosed
	}
	if e.Sent.IsZero() {
		e.Sent = s.now()
	}

	datagram, err := Encode(e)
	if err != nil {
		s.dropped.Add(1)
		return err
	}
	if len(datagram) > MaxDatagramSize {
		s.dropped.Add(1)
		return fmt.Errorf("%w: %d bytes", ErrDatagramTooLarge, len(datagram))
	}

	if _, err := s.conn.WriteToUDP(datagram, s.group); err != nil {
		s.dropped.Add(1)
		return fmt.Errorf("od4: send: %w", err)
	}
	s.sent.Add(1)
	return nil
}

// Counters returns the number of envelopes sent and dropped.
func (s *Session) Counters() (sent, dropped uint64) {
	return s.sent.Load(), s.dropped.Load()
}

// Close stops the session. Safe to call multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.running.Store(false)
		err = s.conn.Close()
	})
	return err
}

// Listen joins the conference group and calls fn for every envelope received
// until ctx is cancelled or the session is closed. Malformed datagrams are
// logged and skipped. Received is set to the arrival time.
func (s *Session) Listen(ctx context.Context, fn func(Envelope)) error {
	lc := net.ListenConfig{Control: reuseAddr}
	pconn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", Port))
	if err != nil {
		return fmt.Errorf("od4: listen: %w", err)
	}
	defer pconn.Close()

	pc := ipv4.NewPacketConn(pconn)
	if err := pc.JoinGroup(nil, &net.UDPAddr{IP: s.group.IP}); err != nil {
		return fmt.Errorf("od4: join %s: %w", s.group.IP, err)
	}
	defer pc.LeaveGroup(nil, &net.UDPAddr{IP: s.group.IP})
	if err := pc.SetControlMessage(ipv4.FlagDst, true); err != nil {
		logger.Debugf("destination filtering unavailable: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		pconn.SetReadDeadline(time.Now())
	}()

	buf := make([]byte, MaxDatagramSize)
	for s.running.Load() {
		n, cm, _, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("od4: read: %w", err)
		}
		// Other conferences may share the port.
		if cm != nil && cm.Dst != nil && !cm.Dst.Equal(s.group.IP) {
			continue
		}

		e, err := Decode(buf[:n])
		if err != nil {
			logger.Debugf("drop datagram: %v", err)
			continue
		}
		e.Received = s.now()
		fn(e)
	}
	return ErrSessionClosed
}

// SetLogLevel sets the package logger level ("debug", "info", ...).
func SetLogLevel(level string) {
	logger.SetLevel(level)
}
