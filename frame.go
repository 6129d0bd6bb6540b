package av1enc

import (
	"errors"
	"fmt"
)

// ErrFrameSize is returned when a raw buffer does not match the I420 layout
// of the configured dimensions.
var ErrFrameSize = errors.New("raw frame size mismatch")

// Plane indexes an I420 plane.
type Plane int

const (
	PlaneY Plane = iota // Luma, full resolution
	PlaneU              // Chroma-a, quarter size
	PlaneV              // Chroma-b, quarter size
)

func (p Plane) String() string {
	switch p {
	case PlaneY:
		return "Y"
	case PlaneU:
		return "U"
	case PlaneV:
		return "V"
	default:
		return "Unknown"
	}
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	// Y plane: width * height
	// U plane: (width/2) * (height/2)
	// V plane: (width/2) * (height/2)
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return ySize + uvSize*2
}

// ValidateDimensions reports whether width and height describe a usable
// 4:2:0 frame. Odd dimensions would make the chroma planes lose a column.
func ValidateDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if width%2 != 0 || height%2 != 0 {
		return fmt.Errorf("dimensions %dx%d must be even for 4:2:0 subsampling", width, height)
	}
	return nil
}

// Frame is a raw I420 frame with fixed dimensions.
// The plane slices alias one contiguous backing buffer.
type Frame struct {
	Data   [3][]byte // Y, U, V
	Stride [3]int    // width, width/2, width/2
	Width  int
	Height int

	buf []byte
}

// NewFrame allocates a frame for the given dimensions.
func NewFrame(width, height int) (*Frame, error) {
	if err := ValidateDimensions(width, height); err != nil {
		return nil, err
	}

	ySize := width * height
	uvSize := ySize / 4
	buf := make([]byte, I420Size(width, height))

	return &Frame{
		Data: [3][]byte{
			buf[:ySize],
			buf[ySize : ySize+uvSize],
			buf[ySize+uvSize:],
		},
		Stride: [3]int{width, width / 2, width / 2},
		Width:  width,
		Height: height,
		buf:    buf,
	}, nil
}

// Size returns the number of bytes held by all three planes.
func (f *Frame) Size() int {
	return len(f.buf)
}

// Bytes returns the contiguous Y, U, V backing buffer.
func (f *Frame) Bytes() []byte {
	return f.buf
}

// CopyFrom copies a contiguous I420 buffer (luma first, then the two chroma
// planes) into the frame. src must be exactly Size() bytes.
func (f *Frame) CopyFrom(src []byte) error {
	if len(src) != len(f.buf) {
		return fmt.Errorf("%w: got %d bytes, want %d for %dx%d",
			ErrFrameSize, len(src), len(f.buf), f.Width, f.Height)
	}
	copy(f.buf, src)
	return nil
}

// Clone creates a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	clone, _ := NewFrame(f.Width, f.Height)
	copy(clone.buf, f.buf)
	return clone
}
