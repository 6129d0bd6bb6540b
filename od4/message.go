package od4

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is a payload that can be wrapped in an Envelope.
type Message interface {
	// ID returns the data type identifier carried in Envelope.DataType.
	ID() int32

	// ShortName returns the message name without its package.
	ShortName() string

	// MarshalProto encodes the message fields.
	MarshalProto() []byte
}

// ImageReadingID is the data type of opendlv.proxy.ImageReading.
const ImageReadingID int32 = 1055

// ImageReading is a compressed (or raw) image as published on the bus.
type ImageReading struct {
	FourCC string // Bitstream identifier, e.g. "AV01"
	Width  uint32
	Height uint32
	Data   []byte
}

func (m *ImageReading) ID() int32 { return ImageReadingID }

func (m *ImageReading) ShortName() string { return "ImageReading" }

// MarshalProto implements Message.
func (m *ImageReading) MarshalProto() []byte {
	b := make([]byte, 0, len(m.FourCC)+len(m.Data)+24)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.FourCC)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Width))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Height))
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Data)
	return b
}

// UnmarshalProto decodes an ImageReading. Data aliases b.
func (m *ImageReading) UnmarshalProto(b []byte) error {
	*m = ImageReading{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("image reading: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("image reading fourcc: %w", protowire.ParseError(n))
			}
			m.FourCC = v
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("image reading width: %w", protowire.ParseError(n))
			}
			m.Width = uint32(v)
			b = b[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("image reading height: %w", protowire.ParseError(n))
			}
			m.Height = uint32(v)
			b = b[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("image reading data: %w", protowire.ParseError(n))
			}
			m.Data = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("image reading field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}
