package av1enc

// FourCC identifies the AV1 bitstream in published image readings.
const FourCC = "AV01"

// Bitrate bounds in bits per second.
const (
	BitrateMin     = 50_000
	BitrateDefault = 800_000
	BitrateMax     = 5_000_000
)

// DefaultGOP is the default number of frames between forced keyframes.
const DefaultGOP = 10

// ClampBitrate bounds a requested bitrate to [BitrateMin, BitrateMax].
func ClampBitrate(bps int) int {
	if bps < BitrateMin {
		return BitrateMin
	}
	if bps > BitrateMax {
		return BitrateMax
	}
	return bps
}

// Usage selects the encoder speed/quality preset family.
type Usage int

const (
	UsageGoodQuality Usage = 0
	UsageRealtime    Usage = 1
)

func (u Usage) String() string {
	switch u {
	case UsageGoodQuality:
		return "good-quality"
	case UsageRealtime:
		return "realtime"
	default:
		return "Unknown"
	}
}

// RateControlMode defines the encoder rate control mode.
// Values match libaom's aom_rc_mode.
type RateControlMode int

const (
	RateControlVBR RateControlMode = iota // Variable bitrate
	RateControlCBR                        // Constant bitrate
	RateControlCQ                         // Constrained quality
	RateControlQ                          // Constant quality
)

func (r RateControlMode) String() string {
	switch r {
	case RateControlVBR:
		return "VBR"
	case RateControlCBR:
		return "CBR"
	case RateControlCQ:
		return "CQ"
	case RateControlQ:
		return "Q"
	default:
		return "Unknown"
	}
}

// PacketKind tags the packets drained from a session.
// Values match libaom's aom_codec_cx_pkt_kind.
type PacketKind int

const (
	PacketKindFrame     PacketKind = 0   // Compressed frame data
	PacketKindStats     PacketKind = 1   // Two-pass statistics
	PacketKindFPMBStats PacketKind = 2   // First-pass macroblock statistics
	PacketKindPSNR      PacketKind = 3   // PSNR statistics
	PacketKindCustom    PacketKind = 256 // Algorithm extensions
)

func (k PacketKind) String() string {
	switch k {
	case PacketKindFrame:
		return "Frame"
	case PacketKindStats:
		return "Stats"
	case PacketKindFPMBStats:
		return "FPMBStats"
	case PacketKindPSNR:
		return "PSNR"
	case PacketKindCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// CadencePolicy selects which counter the keyframe cadence is measured
// against.
type CadencePolicy int

const (
	// CadenceSubmitted forces a keyframe every GOP frames taken from the
	// source, whether or not they were published.
	CadenceSubmitted CadencePolicy = iota
	// CadencePublished forces a keyframe every GOP published frames, so
	// dropped frames delay the next keyframe.
	CadencePublished
)

func (c CadencePolicy) String() string {
	switch c {
	case CadenceSubmitted:
		return "submitted"
	case CadencePublished:
		return "published"
	default:
		return "unknown"
	}
}

// ParseCadencePolicy parses "submitted" or "published".
func ParseCadencePolicy(s string) (CadencePolicy, bool) {
	switch s {
	case "", "submitted":
		return CadenceSubmitted, true
	case "published":
		return CadencePublished, true
	default:
		return CadenceSubmitted, false
	}
}
