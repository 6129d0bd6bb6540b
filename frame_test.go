package av1enc

import (
	"bytes"
	"errors"
	"testing"
)

func TestI420Size(t *testing.T) {
	tests := []struct {
		width, height, want int
	}{
		{640, 480, 460800},
		{1280, 720, 1382400},
		{2, 2, 6},
	}
	for _, tt := range tests {
		if got := I420Size(tt.width, tt.height); got != tt.want {
			t.Errorf("I420Size(%d, %d) = %d, want %d", tt.width, tt.height, got, tt.want)
		}
	}
}

func TestNewFrameLayout(t *testing.T) {
	f, err := NewFrame(640, 480)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}

	if got := len(f.Data[PlaneY]); got != 640*480 {
		t.Errorf("Y plane = %d bytes", got)
	}
	if got := len(f.Data[PlaneU]); got != 640*480/4 {
		t.Errorf("U plane = %d bytes", got)
	}
	if got := len(f.Data[PlaneV]); got != 640*480/4 {
		t.Errorf("V plane = %d bytes", got)
	}
	if f.Stride != [3]int{640, 320, 320} {
		t.Errorf("Stride = %v", f.Stride)
	}
	if f.Size() != 460800 {
		t.Errorf("Size() = %d", f.Size())
	}
}

func TestNewFrameRejectsBadDimensions(t *testing.T) {
	for _, dims := range [][2]int{{0, 480}, {640, 0}, {-2, 2}, {641, 480}, {640, 481}} {
		if _, err := NewFrame(dims[0], dims[1]); err == nil {
			t.Errorf("NewFrame(%d, %d) succeeded", dims[0], dims[1])
		}
	}
}

func TestFrameCopyFrom(t *testing.T) {
	f, err := NewFrame(4, 2)
	if err != nil {
		t.Fatal(err)
	}

	src := []byte{
		1, 2, 3, 4, 5, 6, 7, 8, // Y
		9, 10, // U
		11, 12, // V
	}
	if err := f.CopyFrom(src); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	if !bytes.Equal(f.Data[PlaneY], src[:8]) || !bytes.Equal(f.Data[PlaneU], src[8:10]) || !bytes.Equal(f.Data[PlaneV], src[10:]) {
		t.Errorf("planes = % x / % x / % x", f.Data[PlaneY], f.Data[PlaneU], f.Data[PlaneV])
	}

	src[0] = 99
	if f.Data[PlaneY][0] == 99 {
		t.Error("frame aliases the source buffer")
	}

	for _, n := range []int{11, 13, 0} {
		if err := f.CopyFrom(make([]byte, n)); !errors.Is(err, ErrFrameSize) {
			t.Errorf("CopyFrom(%d bytes) = %v, want ErrFrameSize", n, err)
		}
	}
}

func TestFrameClone(t *testing.T) {
	f, err := NewFrame(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	fill(f.Bytes(), 7)

	c := f.Clone()
	if !bytes.Equal(c.Bytes(), f.Bytes()) {
		t.Error("clone differs")
	}
	c.Data[PlaneV][0] = 1
	if f.Data[PlaneV][0] != 7 {
		t.Error("clone shares memory with the original")
	}
}

func TestPlaneString(t *testing.T) {
	if PlaneY.String() != "Y" || PlaneU.String() != "U" || PlaneV.String() != "V" || Plane(5).String() != "Unknown" {
		t.Error("unexpected plane names")
	}
}
