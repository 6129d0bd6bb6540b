//go:build (darwin || linux) && !noav1

package av1enc

import (
	"errors"
	"testing"
)

func nativeCodec(t *testing.T) Codec {
	t.Helper()
	codec, err := NativeCodec()
	if err != nil {
		if errors.Is(err, ErrCodecNotAvailable) {
			t.Skipf("libav1bridge not available: %v", err)
		}
		t.Fatalf("NativeCodec: %v", err)
	}
	return codec
}

func TestBridgeConfigRoundTrip(t *testing.T) {
	cfg, err := Configure(&fakeCodec{}, Params{Width: 320, Height: 240, BitrateBps: 600_000})
	if err != nil {
		t.Fatal(err)
	}
	cfg.TimebaseNum, cfg.TimebaseDen = 1, 30
	if got := fromBridgeConfig(toBridgeConfig(cfg)); got != cfg {
		t.Errorf("bridge round trip:\n got %+v\nwant %+v", got, cfg)
	}
}

func TestNativeCodecEncode(t *testing.T) {
	codec := nativeCodec(t)
	if codec.Name() == "" {
		t.Error("codec name is empty")
	}

	const width, height = 160, 120
	cfg, err := Configure(codec, Params{Width: width, Height: height, BitrateBps: 300_000})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	session, err := codec.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer session.Close()

	if session.MaxFrameSize() != MaxCompressedSize(width, height) {
		t.Errorf("MaxFrameSize() = %d", session.MaxFrameSize())
	}

	frame, err := NewFrame(width, height)
	if err != nil {
		t.Fatal(err)
	}
	gen := NewPatternGenerator(width, height, PatternMovingBox)
	asm := NewAssembler(session.MaxFrameSize())

	produced := 0
	for i := range 12 {
		gen.Render(i, frame.Bytes())
		forced := i%DefaultGOP == 0
		if err := session.Encode(frame, int64(i), forced); err != nil {
			t.Fatalf("Encode(%d): %v", i, err)
		}
		out, err := asm.Assemble(session.Drain())
		if err != nil {
			t.Fatalf("Assemble(%d): %v", i, err)
		}
		if out.Empty() {
			continue
		}
		produced++
		if forced && !out.Keyframe {
			t.Errorf("frame %d: forced keyframe not flagged", i)
		}
	}
	if produced == 0 {
		t.Fatal("encoder produced no frames")
	}
}

func TestNativeSessionRejectsWrongFrame(t *testing.T) {
	codec := nativeCodec(t)
	cfg, err := Configure(codec, Params{Width: 64, Height: 48, BitrateBps: BitrateMin})
	if err != nil {
		t.Fatal(err)
	}
	session, err := codec.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	frame, _ := NewFrame(32, 32)
	if err := session.Encode(frame, 0, true); !errors.Is(err, ErrFrameSize) {
		t.Errorf("Encode(wrong size) = %v, want ErrFrameSize", err)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	frame, _ = NewFrame(64, 48)
	if err := session.Encode(frame, 1, false); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Encode after Close = %v, want ErrSessionClosed", err)
	}
	for range session.Drain() {
		t.Error("closed session drained a packet")
	}
}
