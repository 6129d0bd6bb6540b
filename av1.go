//go:build (darwin || linux) && !noav1

package av1enc

import (
	"fmt"
	"iter"
)

// bridgeConfig mirrors av1bridge_config from clib/av1bridge.h field for field.
type bridgeConfig struct {
	Usage             int32
	Width             int32
	Height            int32
	Threads           int32
	TargetBitrateKbps int32
	EndUsage          int32
	LagInFrames       int32
	UndershootPct     int32
	BufSzMs           int32
	BufInitialSzMs    int32
	BufOptimalSzMs    int32
	MinQuantizer      int32
	MaxQuantizer      int32
	KfMaxDist         int32
	CPUUsed           int32
	TimebaseNum       int32
	TimebaseDen       int32
}

func toBridgeConfig(cfg EncoderConfig) bridgeConfig {
	return bridgeConfig{
		Usage:             int32(cfg.Usage),
		Width:             int32(cfg.Width),
		Height:            int32(cfg.Height),
		Threads:           int32(cfg.Threads),
		TargetBitrateKbps: int32(cfg.BitrateBps / 1000),
		EndUsage:          int32(cfg.RateControl),
		LagInFrames:       int32(cfg.LagInFrames),
		UndershootPct:     int32(cfg.UndershootPct),
		BufSzMs:           int32(cfg.BufferSizeMs),
		BufInitialSzMs:    int32(cfg.BufferInitialMs),
		BufOptimalSzMs:    int32(cfg.BufferOptimalMs),
		MinQuantizer:      int32(cfg.MinQuantizer),
		MaxQuantizer:      int32(cfg.MaxQuantizer),
		KfMaxDist:         int32(cfg.KeyframeMaxDistance),
		CPUUsed:           int32(cfg.CPUUsed),
		TimebaseNum:       int32(cfg.TimebaseNum),
		TimebaseDen:       int32(cfg.TimebaseDen),
	}
}

func fromBridgeConfig(bc bridgeConfig) EncoderConfig {
	return EncoderConfig{
		Usage:               Usage(bc.Usage),
		Width:               int(bc.Width),
		Height:              int(bc.Height),
		Threads:             int(bc.Threads),
		BitrateBps:          int(bc.TargetBitrateKbps) * 1000,
		RateControl:         RateControlMode(bc.EndUsage),
		LagInFrames:         int(bc.LagInFrames),
		UndershootPct:       int(bc.UndershootPct),
		BufferSizeMs:        int(bc.BufSzMs),
		BufferInitialMs:     int(bc.BufInitialSzMs),
		BufferOptimalMs:     int(bc.BufOptimalSzMs),
		MinQuantizer:        int(bc.MinQuantizer),
		MaxQuantizer:        int(bc.MaxQuantizer),
		KeyframeMaxDistance: int(bc.KfMaxDist),
		CPUUsed:             int(bc.CPUUsed),
		TimebaseNum:         int(bc.TimebaseNum),
		TimebaseDen:         int(bc.TimebaseDen),
	}
}

func checkFrame(cfg EncoderConfig, frame *Frame) error {
	if frame.Width != cfg.Width || frame.Height != cfg.Height {
		return fmt.Errorf("%w: frame %dx%d, session %dx%d",
			ErrFrameSize, frame.Width, frame.Height, cfg.Width, cfg.Height)
	}
	return nil
}

// emptyDrain is the sequence returned by a closed session.
func emptyDrain() iter.Seq[Packet] {
	return func(func(Packet) bool) {}
}
