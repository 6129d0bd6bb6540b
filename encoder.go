package av1enc

import (
	"errors"
	"fmt"
	"io"
	"iter"
)

// Common errors
var (
	ErrCodecNotAvailable = errors.New("AV1 codec not available")
	ErrDefaultConfig     = errors.New("failed to get default encoder configuration")
	ErrOpen              = errors.New("failed to initialize encoder")
	ErrEncode            = errors.New("failed to encode frame")
	ErrSessionClosed     = errors.New("encoder session closed")
)

// Fixed encoder settings for low-latency constant-bitrate streaming.
const (
	EncoderThreads       = 4
	encoderUndershootPct = 95
	encoderBufferMs      = 6000
	encoderBufInitialMs  = 4000
	encoderBufOptimalMs  = 5000
	encoderMinQuantizer  = 4
	encoderMaxQuantizer  = 56
	encoderCPUUsed       = 4

	// KeyframeMaxDistanceDisabled is far enough away that the codec never
	// places a keyframe on its own; the pipeline forces them instead.
	KeyframeMaxDistanceDisabled = 999999
)

// Params are the caller-facing encoder knobs.
type Params struct {
	Width      int
	Height     int
	BitrateBps int // Clamped to [BitrateMin, BitrateMax]
}

// EncoderConfig is the full rate-control configuration handed to Open.
// Buffer sizes are in milliseconds of coded data at the target bitrate.
type EncoderConfig struct {
	Usage Usage

	Width      int
	Height     int
	BitrateBps int
	Threads    int

	RateControl   RateControlMode
	LagInFrames   int // 0 = one frame in, one frame out
	UndershootPct int

	BufferSizeMs    int
	BufferInitialMs int
	BufferOptimalMs int

	MinQuantizer int
	MaxQuantizer int

	KeyframeMaxDistance int
	CPUUsed             int

	TimebaseNum int
	TimebaseDen int
}

// Packet is one entry drained from a session after an encode call.
// Data is owned by the codec and valid until the next Encode.
type Packet struct {
	Kind     PacketKind
	Data     []byte // Only set for PacketKindFrame
	Keyframe bool
	PTS      int64
}

// Codec creates encoder sessions.
type Codec interface {
	// Name returns the codec implementation name.
	Name() string

	// DefaultConfig returns the codec defaults for a usage preset.
	DefaultConfig(usage Usage) (EncoderConfig, error)

	// Open allocates codec state for cfg.
	Open(cfg EncoderConfig) (Session, error)
}

// Session is one open encoder context. It is not safe for concurrent use.
type Session interface {
	io.Closer

	// Encode submits one raw frame. forceKeyframe is decided by the caller.
	// An error affects this frame only; the session stays usable.
	Encode(frame *Frame, pts int64, forceKeyframe bool) error

	// Drain returns the packets produced by the last Encode call.
	// Each Encode starts a fresh sequence.
	Drain() iter.Seq[Packet]

	// MaxFrameSize returns the largest compressed frame the session can
	// produce for its configured resolution.
	MaxFrameSize() int
}

// MaxCompressedSize returns the worst-case size of one compressed AV1 frame
// for the given dimensions: twice the raw I420 size plus room for sequence
// and frame headers. A keyframe of pure noise stays well below this.
func MaxCompressedSize(width, height int) int {
	return 2*I420Size(width, height) + 4096
}

// Configure fills the codec defaults for realtime usage and overrides them
// with the constant-bitrate, zero-lag configuration used for streaming.
func Configure(codec Codec, p Params) (EncoderConfig, error) {
	if err := ValidateDimensions(p.Width, p.Height); err != nil {
		return EncoderConfig{}, err
	}

	cfg, err := codec.DefaultConfig(UsageRealtime)
	if err != nil {
		if errors.Is(err, ErrDefaultConfig) {
			return EncoderConfig{}, err
		}
		return EncoderConfig{}, fmt.Errorf("%w: %v", ErrDefaultConfig, err)
	}

	cfg.Usage = UsageRealtime
	cfg.BitrateBps = ClampBitrate(p.BitrateBps)
	cfg.Width = p.Width
	cfg.Height = p.Height
	cfg.Threads = EncoderThreads
	cfg.LagInFrames = 0
	cfg.RateControl = RateControlCBR
	cfg.UndershootPct = encoderUndershootPct
	cfg.BufferSizeMs = encoderBufferMs
	cfg.BufferInitialMs = encoderBufInitialMs
	cfg.BufferOptimalMs = encoderBufOptimalMs
	cfg.MinQuantizer = encoderMinQuantizer
	cfg.MaxQuantizer = encoderMaxQuantizer
	cfg.KeyframeMaxDistance = KeyframeMaxDistanceDisabled
	cfg.CPUUsed = encoderCPUUsed

	return cfg, nil
}

// NativeCodec returns the libaom-backed codec for this build.
func NativeCodec() (Codec, error) {
	return newNativeCodec()
}
