package av1enc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSourceClosed is returned once a frame source is no longer valid.
var ErrSourceClosed = errors.New("frame source closed")

// FrameSource provides raw I420 frames from a buffer shared with a producer.
type FrameSource interface {
	io.Closer

	// WaitForFrame blocks until the producer signals a new frame.
	// It returns ErrSourceClosed when the source became invalid and
	// ctx.Err() when ctx is done.
	WaitForFrame(ctx context.Context) error

	// WithFrame calls fn with exclusive access to the frame buffer.
	// The buffer is only valid inside fn. The lock is released on every
	// return path, including when fn fails.
	WithFrame(fn func(buf []byte) error) error

	// Valid reports whether the source is still attached.
	Valid() bool

	// Size returns the buffer size in bytes.
	Size() int
}

// SourceKind identifies a frame source implementation.
type SourceKind int

const (
	SourceUnknown      SourceKind = iota
	SourceSharedMemory            // Named shared memory written by another process
	SourceMemory                  // In-process generator
)

func (k SourceKind) String() string {
	switch k {
	case SourceSharedMemory:
		return "shm"
	case SourceMemory:
		return "memory"
	default:
		return "Unknown"
	}
}

// ParseSourceKind parses "shm" or "memory".
func ParseSourceKind(s string) (SourceKind, bool) {
	switch s {
	case "", "shm":
		return SourceSharedMemory, true
	case "memory":
		return SourceMemory, true
	default:
		return SourceUnknown, false
	}
}

// SourceConfig describes the frames a source is expected to deliver.
type SourceConfig struct {
	Name     string        // Shared memory name
	Dir      string        // Shared memory directory; empty for the default
	Width    int           // Frame width in pixels
	Height   int           // Frame height in pixels
	Pattern  Pattern       // Generator pattern for SourceMemory
	Interval time.Duration // Pacing for SourceMemory; 0 = unpaced
}

// FrameSourceFactory opens a frame source.
type FrameSourceFactory func(cfg SourceConfig) (FrameSource, error)

// sourceRegistry holds registered source factories.
type sourceRegistry struct {
	factories map[SourceKind]FrameSourceFactory
	mu        sync.RWMutex
}

var globalSourceRegistry = &sourceRegistry{
	factories: make(map[SourceKind]FrameSourceFactory),
}

func init() {
	RegisterFrameSource(SourceMemory, func(cfg SourceConfig) (FrameSource, error) {
		return NewMemorySource(MemorySourceConfig{
			Width:    cfg.Width,
			Height:   cfg.Height,
			Pattern:  cfg.Pattern,
			Interval: cfg.Interval,
		})
	})
}

// RegisterFrameSource registers a factory for a source kind.
func RegisterFrameSource(kind SourceKind, factory FrameSourceFactory) {
	globalSourceRegistry.mu.Lock()
	defer globalSourceRegistry.mu.Unlock()
	globalSourceRegistry.factories[kind] = factory
}

// IsFrameSourceAvailable checks if a source kind is available on this build.
func IsFrameSourceAvailable(kind SourceKind) bool {
	globalSourceRegistry.mu.RLock()
	defer globalSourceRegistry.mu.RUnlock()
	_, ok := globalSourceRegistry.factories[kind]
	return ok
}

// OpenFrameSource opens a source of the given kind and checks that its
// buffer matches the I420 size of cfg's dimensions. A mismatch closes the
// source and returns ErrFrameSize.
func OpenFrameSource(kind SourceKind, cfg SourceConfig) (FrameSource, error) {
	globalSourceRegistry.mu.RLock()
	factory, ok := globalSourceRegistry.factories[kind]
	globalSourceRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("frame source not available: %v", kind)
	}

	src, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	if want := I420Size(cfg.Width, cfg.Height); src.Size() != want {
		src.Close()
		return nil, fmt.Errorf("%w: source holds %d bytes, want %d for %dx%d",
			ErrFrameSize, src.Size(), want, cfg.Width, cfg.Height)
	}
	return src, nil
}

// MemorySourceConfig configures a MemorySource.
type MemorySourceConfig struct {
	Width    int
	Height   int
	Frames   int           // Frames to deliver before closing; 0 = unlimited
	Interval time.Duration // Delay between frames; 0 = unpaced
	Pattern  Pattern       // Used when Fill is nil

	// Fill writes frame index into buf. Overrides Pattern.
	Fill func(index int, buf []byte)
}

// MemorySource is an in-process FrameSource. Every WaitForFrame renders the
// next frame into its buffer. The buffer lock is instrumented so tests can
// check how long and how often it is held.
type MemorySource struct {
	cfg  MemorySourceConfig
	buf  []byte
	gen  *PatternGenerator
	next int

	mu     sync.Mutex
	locked atomic.Bool
	closed atomic.Bool
	done   chan struct{}
	once   sync.Once

	acquisitions atomic.Uint64
	holdNs       atomic.Int64
	lastTick     time.Time
}

// NewMemorySource creates an in-memory source for the given dimensions.
func NewMemorySource(cfg MemorySourceConfig) (*MemorySource, error) {
	if err := ValidateDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	return &MemorySource{
		cfg:  cfg,
		buf:  make([]byte, I420Size(cfg.Width, cfg.Height)),
		gen:  NewPatternGenerator(cfg.Width, cfg.Height, cfg.Pattern),
		done: make(chan struct{}),
	}, nil
}

// WaitForFrame implements FrameSource.
func (s *MemorySource) WaitForFrame(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSourceClosed
	}
	if s.cfg.Frames > 0 && s.next >= s.cfg.Frames {
		s.Close()
		return ErrSourceClosed
	}

	if s.cfg.Interval > 0 && !s.lastTick.IsZero() {
		if wait := s.cfg.Interval - time.Since(s.lastTick); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-s.done:
				timer.Stop()
				return ErrSourceClosed
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lastTick = time.Now()

	s.mu.Lock()
	if s.cfg.Fill != nil {
		s.cfg.Fill(s.next, s.buf)
	} else {
		s.gen.Render(s.next, s.buf)
	}
	s.mu.Unlock()

	s.next++
	return nil
}

// WithFrame implements FrameSource.
func (s *MemorySource) WithFrame(fn func(buf []byte) error) error {
	if s.closed.Load() {
		return ErrSourceClosed
	}

	s.mu.Lock()
	s.locked.Store(true)
	start := time.Now()
	defer func() {
		s.holdNs.Add(int64(time.Since(start)))
		s.acquisitions.Add(1)
		s.locked.Store(false)
		s.mu.Unlock()
	}()

	return fn(s.buf)
}

// Valid implements FrameSource.
func (s *MemorySource) Valid() bool { return !s.closed.Load() }

// Size implements FrameSource.
func (s *MemorySource) Size() int { return len(s.buf) }

// Delivered returns the number of frames produced so far.
func (s *MemorySource) Delivered() int { return s.next }

// Locked reports whether the buffer lock is currently held.
func (s *MemorySource) Locked() bool { return s.locked.Load() }

// LockStats returns how many times the lock was taken and the total time
// it was held.
func (s *MemorySource) LockStats() (acquisitions uint64, held time.Duration) {
	return s.acquisitions.Load(), time.Duration(s.holdNs.Load())
}

// Close invalidates the source and wakes a paced WaitForFrame.
func (s *MemorySource) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}
