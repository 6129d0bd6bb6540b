package od4

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestImageReadingWireFormat(t *testing.T) {
	msg := &ImageReading{FourCC: "AV01", Width: 2, Height: 2, Data: []byte{1, 2}}

	want := []byte{
		0x0A, 0x04, 'A', 'V', '0', '1', // fourcc
		0x10, 0x02, // width
		0x18, 0x02, // height
		0x22, 0x02, 0x01, 0x02, // data
	}
	if got := msg.MarshalProto(); !bytes.Equal(got, want) {
		t.Fatalf("MarshalProto() = % x, want % x", got, want)
	}

	var decoded ImageReading
	if err := decoded.UnmarshalProto(want); err != nil {
		t.Fatalf("UnmarshalProto: %v", err)
	}
	if decoded.FourCC != "AV01" || decoded.Width != 2 || decoded.Height != 2 || !bytes.Equal(decoded.Data, []byte{1, 2}) {
		t.Errorf("decoded = %+v", decoded)
	}
	if msg.ID() != 1055 {
		t.Errorf("ID() = %d, want 1055", msg.ID())
	}
}

func TestEncodeHeader(t *testing.T) {
	e := NewEnvelope(&ImageReading{FourCC: "AV01", Data: make([]byte, 300)}, time.Time{}, 7)

	datagram, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if datagram[0] != 0x0D || datagram[1] != 0xA4 {
		t.Fatalf("header = % x", datagram[:2])
	}
	length := int(datagram[2]) | int(datagram[3])<<8 | int(datagram[4])<<16
	if length != len(datagram)-5 {
		t.Errorf("length field = %d, payload = %d", length, len(datagram)-5)
	}
}

func TestEnvelopeFields(t *testing.T) {
	sample := time.Unix(1700000000, 123456000)
	sent := time.Unix(1700000001, 999999000)
	msg := &ImageReading{FourCC: "AV01", Width: 640, Height: 480, Data: []byte{0xAA, 0xBB, 0xCC}}

	e := NewEnvelope(msg, sample, 42)
	e.Sent = sent

	datagram, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(datagram)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.DataType != ImageReadingID {
		t.Errorf("DataType = %d, want %d", got.DataType, ImageReadingID)
	}
	if got.SenderStamp != 42 {
		t.Errorf("SenderStamp = %d, want 42", got.SenderStamp)
	}
	if !got.SampleTimeStamp.Equal(sample) {
		t.Errorf("SampleTimeStamp = %v, want %v", got.SampleTimeStamp, sample)
	}
	if !got.Sent.Equal(sent) {
		t.Errorf("Sent = %v, want %v", got.Sent, sent)
	}
	if !got.Received.IsZero() {
		t.Errorf("Received = %v, want zero", got.Received)
	}

	var reading ImageReading
	if err := reading.UnmarshalProto(got.SerializedData); err != nil {
		t.Fatalf("UnmarshalProto: %v", err)
	}
	if reading.Width != 640 || reading.Height != 480 || !bytes.Equal(reading.Data, msg.Data) {
		t.Errorf("reading = %+v", reading)
	}
}

func TestEnvelopeSignedFieldsUseZigZag(t *testing.T) {
	e := Envelope{DataType: 1055}
	b := e.MarshalProto()

	num, typ, n := protowire.ConsumeTag(b)
	if num != 1 || typ != protowire.VarintType || n < 0 {
		t.Fatalf("first field = %d/%d", num, typ)
	}
	v, _ := protowire.ConsumeVarint(b[n:])
	if v != 2110 {
		t.Errorf("dataType varint = %d, want 2110", v)
	}
}

func TestEnvelopeSkipsUnknownFields(t *testing.T) {
	e := Envelope{DataType: 5, SenderStamp: 3}
	b := e.MarshalProto()
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	var got Envelope
	if err := got.UnmarshalProto(b); err != nil {
		t.Fatalf("UnmarshalProto: %v", err)
	}
	if got.DataType != 5 || got.SenderStamp != 3 {
		t.Errorf("got %+v", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	valid, err := Encode(Envelope{DataType: 1})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		datagram []byte
		want     error
	}{
		{"short", []byte{0x0D, 0xA4}, ErrShortDatagram},
		{"bad magic", append([]byte{0x0E, 0xA4}, valid[2:]...), ErrBadHeader},
		{"truncated", valid[:len(valid)-1], ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.datagram); !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}
