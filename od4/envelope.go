package od4

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope header bytes and limits.
const (
	headerByte0 = 0x0D
	headerByte1 = 0xA4
	headerSize  = 5

	// MaxPayloadSize is the largest envelope that fits the 3-byte length.
	MaxPayloadSize = 1<<24 - 1
)

var (
	ErrShortDatagram = errors.New("od4: datagram shorter than header")
	ErrBadHeader     = errors.New("od4: bad envelope header")
	ErrTruncated     = errors.New("od4: envelope truncated")
	ErrTooLarge      = errors.New("od4: envelope exceeds 3-byte length field")
)

// Envelope wraps one serialized message with routing and timing metadata.
type Envelope struct {
	DataType        int32
	SerializedData  []byte
	Sent            time.Time
	Received        time.Time
	SampleTimeStamp time.Time
	SenderStamp     uint32
}

// NewEnvelope wraps msg. Sent is left for the session to fill in.
func NewEnvelope(msg Message, sampleTime time.Time, senderStamp uint32) Envelope {
	return Envelope{
		DataType:        msg.ID(),
		SerializedData:  msg.MarshalProto(),
		SampleTimeStamp: sampleTime,
		SenderStamp:     senderStamp,
	}
}

func appendTimeStamp(b []byte, num protowire.Number, t time.Time) []byte {
	var sec, usec int64
	if !t.IsZero() {
		sec = t.Unix()
		usec = int64(t.Nanosecond() / 1000)
	}
	var ts []byte
	ts = protowire.AppendTag(ts, 1, protowire.VarintType)
	ts = protowire.AppendVarint(ts, protowire.EncodeZigZag(int64(int32(sec))))
	ts = protowire.AppendTag(ts, 2, protowire.VarintType)
	ts = protowire.AppendVarint(ts, protowire.EncodeZigZag(int64(int32(usec))))

	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, ts)
}

func consumeTimeStamp(b []byte) (time.Time, error) {
	var sec, usec int32
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return time.Time{}, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType || (num != 1 && num != 2) {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return time.Time{}, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return time.Time{}, protowire.ParseError(n)
		}
		b = b[n:]
		if num == 1 {
			sec = int32(protowire.DecodeZigZag(v))
		} else {
			usec = int32(protowire.DecodeZigZag(v))
		}
	}
	if sec == 0 && usec == 0 {
		return time.Time{}, nil
	}
	return time.Unix(int64(sec), int64(usec)*1000), nil
}

// MarshalProto encodes the envelope fields without the OD4 header.
func (e *Envelope) MarshalProto() []byte {
	b := make([]byte, 0, len(e.SerializedData)+64)
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(e.DataType)))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, e.SerializedData)
	b = appendTimeStamp(b, 3, e.Sent)
	b = appendTimeStamp(b, 4, e.Received)
	b = appendTimeStamp(b, 5, e.SampleTimeStamp)
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.SenderStamp))
	return b
}

// UnmarshalProto decodes envelope fields. SerializedData aliases b.
func (e *Envelope) UnmarshalProto(b []byte) error {
	*e = Envelope{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("envelope: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case (num == 1 || num == 6) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("envelope field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			if num == 1 {
				e.DataType = int32(protowire.DecodeZigZag(v))
			} else {
				e.SenderStamp = uint32(v)
			}
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("envelope data: %w", protowire.ParseError(n))
			}
			e.SerializedData = v
			b = b[n:]
		case num >= 3 && num <= 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("envelope field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			ts, err := consumeTimeStamp(v)
			if err != nil {
				return fmt.Errorf("envelope field %d: %w", num, err)
			}
			switch num {
			case 3:
				e.Sent = ts
			case 4:
				e.Received = ts
			case 5:
				e.SampleTimeStamp = ts
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("envelope field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// Encode returns the datagram for e: OD4 header followed by the envelope.
func Encode(e Envelope) ([]byte, error) {
	payload := e.MarshalProto()
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}

	out := make([]byte, headerSize, headerSize+len(payload))
	out[0] = headerByte0
	out[1] = headerByte1
	out[2] = byte(len(payload))
	out[3] = byte(len(payload) >> 8)
	out[4] = byte(len(payload) >> 16)
	return append(out, payload...), nil
}

// Decode parses one datagram. SerializedData aliases datagram.
func Decode(datagram []byte) (Envelope, error) {
	var e Envelope
	if len(datagram) < headerSize {
		return e, ErrShortDatagram
	}
	if datagram[0] != headerByte0 || datagram[1] != headerByte1 {
		return e, fmt.Errorf("%w: % x", ErrBadHeader, datagram[:2])
	}
	length := int(datagram[2]) | int(datagram[3])<<8 | int(datagram[4])<<16
	if len(datagram)-headerSize < length {
		return e, fmt.Errorf("%w: have %d of %d bytes", ErrTruncated, len(datagram)-headerSize, length)
	}
	if err := e.UnmarshalProto(datagram[headerSize : headerSize+length]); err != nil {
		return e, err
	}
	return e, nil
}
