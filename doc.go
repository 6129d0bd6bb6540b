// Package av1enc bridges raw I420 frames in shared memory to AV1 image
// readings on an OD4 session.
//
// Key pieces include:
//   - FrameSource: SharedMemory (futex-signalled, flock-guarded) and MemorySource
//   - Codec/Session: rate-controlled AV1 encoding backed by libaom
//   - Assembler: per-frame concatenation of drained codec packets
//   - Publisher: fire-and-forget ImageReading publication on a Bus
//   - Pipeline: the single-goroutine acquire/encode/publish loop
//
// # Architecture
//
//	FrameSource -> Frame -> Session.Encode -> Session.Drain -> Assembler -> Publisher -> Bus
//
// The pipeline forces a keyframe every GOP frames. The frame counter used for
// the cadence is selected with CadencePolicy.
//
// # Native Library
//
// The encoder loads libav1bridge, built from clib/ into build/ by the
// Makefile. Set AV1BRIDGE_LIB_PATH to the library file or the directory
// holding it; AV1ENC_LIB_DIR also names a directory.
// By default the package uses purego (CGO_ENABLED=0). With CGO enabled it
// links against the same bridge.
//
// # Build Tags
//
//   - noav1: build without the native encoder; NativeCodec returns
//     ErrCodecNotAvailable
//
// Subpackages od4 (OD4 session transport) and relay (RTP and WebRTC
// outputs) provide the buses used by cmd/av1-encoder.
package av1enc
