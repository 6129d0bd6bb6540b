//go:build (darwin || linux) && !noav1 && cgo

// AV1 encoder support via libav1bridge using CGO.

package av1enc

/*
#cgo CFLAGS: -I${SRCDIR}/clib
#cgo darwin LDFLAGS: -L${SRCDIR}/build -lav1bridge -Wl,-rpath,${SRCDIR}/build
#cgo linux LDFLAGS: -L${SRCDIR}/build -lav1bridge -Wl,-rpath,${SRCDIR}/build

#include "av1bridge.h"
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"iter"
	"unsafe"
)

func av1BridgeError() string {
	cstr := C.av1bridge_last_error()
	if cstr == nil || *cstr == 0 {
		return "unknown error"
	}
	return C.GoString(cstr)
}

func newNativeCodec() (Codec, error) {
	if C.av1bridge_available() == 0 {
		return nil, fmt.Errorf("%w: libaom built without encoder", ErrCodecNotAvailable)
	}
	return aomCodec{}, nil
}

// aomCodec implements Codec on top of libaom.
type aomCodec struct{}

func (aomCodec) Name() string {
	return C.GoString(C.av1bridge_codec_name())
}

func (aomCodec) DefaultConfig(usage Usage) (EncoderConfig, error) {
	var bc bridgeConfig
	if C.av1bridge_config_default(C.int32_t(usage), (*C.av1bridge_config)(unsafe.Pointer(&bc))) != C.AV1BRIDGE_OK {
		return EncoderConfig{}, fmt.Errorf("%w: %s", ErrDefaultConfig, av1BridgeError())
	}
	return fromBridgeConfig(bc), nil
}

func (aomCodec) Open(cfg EncoderConfig) (Session, error) {
	bc := toBridgeConfig(cfg)
	handle := C.av1bridge_encoder_open((*C.av1bridge_config)(unsafe.Pointer(&bc)))
	if handle == nil {
		return nil, fmt.Errorf("%w: %s", ErrOpen, av1BridgeError())
	}
	return &aomSession{
		handle:   handle,
		cfg:      cfg,
		maxFrame: MaxCompressedSize(cfg.Width, cfg.Height),
	}, nil
}

// aomSession implements Session.
type aomSession struct {
	handle   *C.av1bridge_encoder
	cfg      EncoderConfig
	maxFrame int
}

func (s *aomSession) Encode(frame *Frame, pts int64, forceKeyframe bool) error {
	if s.handle == nil {
		return ErrSessionClosed
	}
	if err := checkFrame(s.cfg, frame); err != nil {
		return err
	}

	force := C.int32_t(0)
	if forceKeyframe {
		force = 1
	}

	result := C.av1bridge_encoder_encode(
		s.handle,
		(*C.uint8_t)(unsafe.Pointer(&frame.Data[PlaneY][0])),
		(*C.uint8_t)(unsafe.Pointer(&frame.Data[PlaneU][0])),
		(*C.uint8_t)(unsafe.Pointer(&frame.Data[PlaneV][0])),
		C.int32_t(frame.Stride[PlaneY]),
		C.int32_t(frame.Stride[PlaneU]),
		C.int64_t(pts),
		force,
	)
	if result != C.AV1BRIDGE_OK {
		return fmt.Errorf("%w: %s", ErrEncode, C.GoString(C.av1bridge_encoder_error(s.handle)))
	}
	return nil
}

func (s *aomSession) Drain() iter.Seq[Packet] {
	if s.handle == nil {
		return emptyDrain()
	}
	handle := s.handle
	return func(yield func(Packet) bool) {
		for {
			var kind, keyframe C.int32_t
			var data *C.uint8_t
			var size C.size_t
			var pts C.int64_t

			if C.av1bridge_encoder_next_packet(handle, &kind, &data, &size, &keyframe, &pts) == 0 {
				return
			}

			pkt := Packet{Kind: PacketKind(kind), Keyframe: keyframe != 0, PTS: int64(pts)}
			if data != nil && size > 0 {
				pkt.Data = unsafe.Slice((*byte)(unsafe.Pointer(data)), int(size))
			}
			if !yield(pkt) {
				return
			}
		}
	}
}

func (s *aomSession) MaxFrameSize() int {
	return s.maxFrame
}

func (s *aomSession) Close() error {
	if s.handle != nil {
		C.av1bridge_encoder_close(s.handle)
		s.handle = nil
	}
	return nil
}
