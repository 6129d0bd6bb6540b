//go:build linux

package av1enc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	futexWait = 0
	futexWake = 1

	// Upper bound on one futex sleep, so a vanished producer is noticed.
	livenessInterval = 250 * time.Millisecond
)

func init() {
	RegisterFrameSource(SourceSharedMemory, func(cfg SourceConfig) (FrameSource, error) {
		return AttachSharedMemory(cfg.Name, cfg.Dir)
	})
}

func shmPath(name, dir string) (string, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid shared memory name %q", name)
	}
	if dir == "" {
		dir = DefaultShmDir
	}
	return filepath.Join(dir, name), nil
}

func futexWaitTimeout(addr *uint32, val uint32, timeout time.Duration) {
	ts := unix.NsecToTimespec(int64(timeout))
	// EAGAIN, ETIMEDOUT and EINTR all mean: re-check the word.
	unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexWait,
		uintptr(val), uintptr(unsafe.Pointer(&ts)), 0, 0)
}

func futexWakeAll(addr *uint32) {
	unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexWake,
		uintptr(math.MaxInt32), 0, 0, 0)
}

// shmRegion is a mapped shared memory file.
type shmRegion struct {
	path string
	file *os.File
	mem  []byte
	data []byte

	seq    *uint32
	closed *uint32
}

func mapRegion(path string, f *os.File, size int) (*shmRegion, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &shmRegion{
		path:   path,
		file:   f,
		mem:    mem,
		seq:    (*uint32)(unsafe.Pointer(&mem[shmOffSeq])),
		closed: (*uint32)(unsafe.Pointer(&mem[shmOffClosed])),
	}, nil
}

func (r *shmRegion) lock() error {
	for {
		err := unix.Flock(int(r.file.Fd()), unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

func (r *shmRegion) unlock() error {
	return unix.Flock(int(r.file.Fd()), unix.LOCK_UN)
}

// livenessLock describes the OFD write lock a producer holds on the pid
// word for its whole life. The kernel drops it when the producer's file is
// closed, including on a crash, and the check works across pid namespaces.
func livenessLock(typ int16) unix.Flock_t {
	return unix.Flock_t{Type: typ, Whence: io.SeekStart, Start: shmOffPID, Len: 4}
}

func (r *shmRegion) holdLiveness() error {
	lk := livenessLock(unix.F_WRLCK)
	if err := unix.FcntlFlock(r.file.Fd(), unix.F_OFD_SETLK, &lk); err != nil {
		return fmt.Errorf("liveness lock %s: %w", r.path, err)
	}
	return nil
}

// producerAlive reports whether some open file description holds the
// liveness lock.
func (r *shmRegion) producerAlive() (bool, error) {
	lk := livenessLock(unix.F_RDLCK)
	if err := unix.FcntlFlock(r.file.Fd(), unix.F_OFD_GETLK, &lk); err != nil {
		return false, err
	}
	return lk.Type != unix.F_UNLCK, nil
}

func (r *shmRegion) release() error {
	err := unix.Munmap(r.mem)
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// SharedMemory is the consumer side of a named shared memory frame buffer.
// It is a FrameSource.
type SharedMemory struct {
	*shmRegion

	lastSeq uint32

	invalid atomic.Bool
	once    sync.Once
	err     error
}

// AttachSharedMemory maps an existing shared memory buffer created by a
// producer. dir defaults to DefaultShmDir.
func AttachSharedMemory(name, dir string) (*SharedMemory, error) {
	path, err := shmPath(name, dir)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("attach shared memory: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("attach shared memory: %w", err)
	}
	if fi.Size() < shmHeaderSize {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrSharedMemoryLayout, path, fi.Size())
	}

	r, err := mapRegion(path, f, int(fi.Size()))
	if err != nil {
		f.Close()
		return nil, err
	}

	le := binary.LittleEndian
	magic := le.Uint32(r.mem[shmOffMagic:])
	version := le.Uint32(r.mem[shmOffVersion:])
	size := int(le.Uint32(r.mem[shmOffSize:]))
	if magic != shmMagic || version != shmVersion || size > len(r.mem)-shmHeaderSize {
		r.release()
		return nil, fmt.Errorf("%w: %s (magic %#x, version %d, size %d)",
			ErrSharedMemoryLayout, path, magic, version, size)
	}
	r.data = r.mem[shmHeaderSize : shmHeaderSize+size]

	return &SharedMemory{
		shmRegion: r,
		lastSeq:   atomic.LoadUint32(r.seq),
	}, nil
}

// Dimensions returns the frame size announced by the producer.
func (s *SharedMemory) Dimensions() (width, height int) {
	le := binary.LittleEndian
	return int(le.Uint32(s.mem[shmOffWidth:])), int(le.Uint32(s.mem[shmOffHeight:]))
}

// FrameTime returns the producer's sample time of the current frame.
func (s *SharedMemory) FrameTime() time.Time {
	ns := int64(binary.LittleEndian.Uint64(s.mem[shmOffTime:]))
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *SharedMemory) producerGone() bool {
	if atomic.LoadUint32(s.closed) != 0 {
		return true
	}
	alive, err := s.producerAlive()
	if err != nil {
		logger.Debugf("liveness check on %s: %v", s.path, err)
		return false
	}
	return !alive
}

// WaitForFrame blocks until the producer publishes a frame newer than the
// last one returned. The wait has no deadline of its own; it ends when
// ctx is done or the producer goes away.
func (s *SharedMemory) WaitForFrame(ctx context.Context) error {
	if s.invalid.Load() {
		return ErrSourceClosed
	}
	stop := context.AfterFunc(ctx, func() { futexWakeAll(s.seq) })
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := atomic.LoadUint32(s.seq)
		if cur != s.lastSeq {
			s.lastSeq = cur
			if atomic.LoadUint32(s.closed) != 0 {
				s.invalid.Store(true)
				return ErrSourceClosed
			}
			return nil
		}
		if s.producerGone() {
			s.invalid.Store(true)
			return ErrSourceClosed
		}
		futexWaitTimeout(s.seq, cur, livenessInterval)
	}
}

// WithFrame implements FrameSource. The lock is an exclusive flock on the
// shared memory file, shared with the producer.
func (s *SharedMemory) WithFrame(fn func(buf []byte) error) error {
	if s.invalid.Load() {
		return ErrSourceClosed
	}
	if err := s.lock(); err != nil {
		return fmt.Errorf("lock shared memory: %w", err)
	}
	defer s.unlock()
	return fn(s.data)
}

// Valid implements FrameSource.
func (s *SharedMemory) Valid() bool {
	return !s.invalid.Load() && atomic.LoadUint32(s.closed) == 0
}

// Size implements FrameSource.
func (s *SharedMemory) Size() int { return len(s.data) }

// Close unmaps the buffer. Safe to call multiple times.
func (s *SharedMemory) Close() error {
	s.once.Do(func() {
		s.invalid.Store(true)
		s.err = s.release()
	})
	return s.err
}

// Producer is the writing side of a shared memory frame buffer.
type Producer struct {
	*shmRegion
	once sync.Once
	err  error
}

// CreateSharedMemory creates (or replaces) a named shared memory buffer
// sized for one I420 frame of the given dimensions.
func CreateSharedMemory(name, dir string, width, height int) (*Producer, error) {
	if err := ValidateDimensions(width, height); err != nil {
		return nil, err
	}
	path, err := shmPath(name, dir)
	if err != nil {
		return nil, err
	}

	size := I420Size(width, height)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("create shared memory: %w", err)
	}
	if err := f.Truncate(int64(shmHeaderSize + size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("size shared memory: %w", err)
	}

	r, err := mapRegion(path, f, shmHeaderSize+size)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	r.data = r.mem[shmHeaderSize:]
	if err := r.holdLiveness(); err != nil {
		r.release()
		os.Remove(path)
		return nil, err
	}

	le := binary.LittleEndian
	le.PutUint32(r.mem[shmOffMagic:], shmMagic)
	le.PutUint32(r.mem[shmOffVersion:], shmVersion)
	le.PutUint32(r.mem[shmOffSize:], uint32(size))
	le.PutUint32(r.mem[shmOffPID:], uint32(os.Getpid()))
	le.PutUint32(r.mem[shmOffWidth:], uint32(width))
	le.PutUint32(r.mem[shmOffHeight:], uint32(height))

	return &Producer{shmRegion: r}, nil
}

// Size returns the payload size in bytes.
func (p *Producer) Size() int { return len(p.data) }

// Path returns the backing file.
func (p *Producer) Path() string { return p.path }

// WriteFrame copies frame into the buffer under the lock and wakes waiting
// consumers.
func (p *Producer) WriteFrame(frame []byte, sampleTime time.Time) error {
	if len(frame) != len(p.data) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), len(p.data))
	}
	if err := p.lock(); err != nil {
		return fmt.Errorf("lock shared memory: %w", err)
	}
	copy(p.data, frame)
	binary.LittleEndian.PutUint64(p.mem[shmOffTime:], uint64(sampleTime.UnixNano()))
	if err := p.unlock(); err != nil {
		return fmt.Errorf("unlock shared memory: %w", err)
	}

	atomic.AddUint32(p.seq, 1)
	futexWakeAll(p.seq)
	return nil
}

// Close marks the buffer closed, wakes consumers and removes the file.
func (p *Producer) Close() error {
	p.once.Do(func() {
		atomic.StoreUint32(p.closed, 1)
		atomic.AddUint32(p.seq, 1)
		futexWakeAll(p.seq)

		err := p.release()
		if rerr := os.Remove(p.path); err == nil && !errors.Is(rerr, os.ErrNotExist) {
			err = rerr
		}
		p.err = err
	})
	return p.err
}
