//go:build (darwin || linux) && !noav1 && !cgo

// AV1 encoder support via libav1bridge using purego.

package av1enc

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	av1BridgeOnce    sync.Once
	av1BridgeHandle  uintptr
	av1BridgeInitErr error
)

// libav1bridge function pointers
var (
	av1bridgeAvailable         func() int32
	av1bridgeCodecName         func() uintptr
	av1bridgeConfigDefault     func(usage int32, cfg uintptr) int32
	av1bridgeEncoderOpen       func(cfg uintptr) uintptr
	av1bridgeEncoderEncode     func(enc, y, u, v uintptr, yStride, uvStride int32, pts int64, forceKeyframe int32) int32
	av1bridgeEncoderNextPacket func(enc, kind, data, size, keyframe, pts uintptr) int32
	av1bridgeEncoderError      func(enc uintptr) uintptr
	av1bridgeEncoderClose      func(enc uintptr)
	av1bridgeLastError         func() uintptr
)

func loadAV1Bridge() error {
	av1BridgeOnce.Do(func() {
		av1BridgeInitErr = loadAV1BridgeLib()
	})
	return av1BridgeInitErr
}

func loadAV1BridgeLib() error {
	var lastErr error
	for _, path := range av1BridgeLibPaths() {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		av1BridgeHandle = handle
		registerAV1BridgeSymbols()
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libav1bridge: %w", lastErr)
	}
	return errors.New("libav1bridge not found in any standard location")
}

func av1BridgeLibPaths() []string {
	var paths []string

	libName := "libav1bridge.so"
	if runtime.GOOS == "darwin" {
		libName = "libav1bridge.dylib"
	}

	// Environment variable overrides (highest priority)
	// AV1BRIDGE_LIB_PATH names the library itself or the directory holding it.
	if envPath := os.Getenv("AV1BRIDGE_LIB_PATH"); envPath != "" {
		if fi, err := os.Stat(envPath); err == nil && fi.IsDir() {
			envPath = filepath.Join(envPath, libName)
		}
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv("AV1ENC_LIB_DIR"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	if sourceRoot := findSourceRoot(); sourceRoot != "" {
		paths = append(paths, filepath.Join(sourceRoot, "build", libName))
	}
	if moduleRoot := findModuleRoot(); moduleRoot != "" {
		paths = append(paths, filepath.Join(moduleRoot, "build", libName))
	}

	// System paths (lowest priority)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/opt/homebrew/lib/"+libName,
		)
	case "linux":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/usr/lib/"+libName,
		)
	}

	return paths
}

func registerAV1BridgeSymbols() {
	purego.RegisterLibFunc(&av1bridgeAvailable, av1BridgeHandle, "av1bridge_available")
	purego.RegisterLibFunc(&av1bridgeCodecName, av1BridgeHandle, "av1bridge_codec_name")
	purego.RegisterLibFunc(&av1bridgeConfigDefault, av1BridgeHandle, "av1bridge_config_default")
	purego.RegisterLibFunc(&av1bridgeEncoderOpen, av1BridgeHandle, "av1bridge_encoder_open")
	purego.RegisterLibFunc(&av1bridgeEncoderEncode, av1BridgeHandle, "av1bridge_encoder_encode")
	purego.RegisterLibFunc(&av1bridgeEncoderNextPacket, av1BridgeHandle, "av1bridge_encoder_next_packet")
	purego.RegisterLibFunc(&av1bridgeEncoderError, av1BridgeHandle, "av1bridge_encoder_error")
	purego.RegisterLibFunc(&av1bridgeEncoderClose, av1BridgeHandle, "av1bridge_encoder_close")
	purego.RegisterLibFunc(&av1bridgeLastError, av1BridgeHandle, "av1bridge_last_error")
}

func av1BridgeError() string {
	if msg := goStringFromPtr(av1bridgeLastError()); msg != "" {
		return msg
	}
	return "unknown error"
}

func newNativeCodec() (Codec, error) {
	if err := loadAV1Bridge(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodecNotAvailable, err)
	}
	if av1bridgeAvailable() == 0 {
		return nil, fmt.Errorf("%w: libaom built without encoder", ErrCodecNotAvailable)
	}
	return aomCodec{}, nil
}

// aomCodec implements Codec on top of libaom.
type aomCodec struct{}

func (aomCodec) Name() string {
	return goStringFromPtr(av1bridgeCodecName())
}

func (aomCodec) DefaultConfig(usage Usage) (EncoderConfig, error) {
	var bc bridgeConfig
	if av1bridgeConfigDefault(int32(usage), uintptr(unsafe.Pointer(&bc))) != 0 {
		return EncoderConfig{}, fmt.Errorf("%w: %s", ErrDefaultConfig, av1BridgeError())
	}
	return fromBridgeConfig(bc), nil
}

func (aomCodec) Open(cfg EncoderConfig) (Session, error) {
	bc := toBridgeConfig(cfg)
	handle := av1bridgeEncoderOpen(uintptr(unsafe.Pointer(&bc)))
	if handle == 0 {
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
	handle   uintptr
	cfg      EncoderConfig
	maxFrame int
}

func (s *aomSession) Encode(frame *Frame, pts int64, forceKeyframe bool) error {
	if s.handle == 0 {
		return ErrSessionClosed
	}
	if err := checkFrame(s.cfg, frame); err != nil {
		return err
	}

	force := int32(0)
	if forceKeyframe {
		force = 1
	}

	result := av1bridgeEncoderEncode(
		s.handle,
		uintptr(unsafe.Pointer(&frame.Data[PlaneY][0])),
		uintptr(unsafe.Pointer(&frame.Data[PlaneU][0])),
		uintptr(unsafe.Pointer(&frame.Data[PlaneV][0])),
		int32(frame.Stride[PlaneY]),
		int32(frame.Stride[PlaneU]),
		pts,
		force,
	)
	runtime.KeepAlive(frame)

	if result != 0 {
		return fmt.Errorf("%w: %s", ErrEncode, goStringFromPtr(av1bridgeEncoderError(s.handle)))
	}
	return nil
}

func (s *aomSession) Drain() iter.Seq[Packet] {
	if s.handle == 0 {
		return emptyDrain()
	}
	handle := s.handle
	return func(yield func(Packet) bool) {
		for {
			var kind, keyframe int32
			var data, size uintptr
			var pts int64

			ok := av1bridgeEncoderNextPacket(
				handle,
				uintptr(unsafe.Pointer(&kind)),
				uintptr(unsafe.Pointer(&data)),
				uintptr(unsafe.Pointer(&size)),
				uintptr(unsafe.Pointer(&keyframe)),
				uintptr(unsafe.Pointer(&pts)),
			)
			if ok == 0 {
				return
			}

			pkt := Packet{Kind: PacketKind(kind), Keyframe: keyframe != 0, PTS: pts}
			if data != 0 && size > 0 {
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
	if s.handle != 0 {
		av1bridgeEncoderClose(s.handle)
		s.handle = 0
	}
	return nil
}
