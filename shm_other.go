//go:build !linux

package av1enc

import (
	"context"
	"time"
)

// SharedMemory is only available on Linux.
type SharedMemory struct{}

func AttachSharedMemory(name, dir string) (*SharedMemory, error) {
	return nil, ErrSharedMemoryUnsupported
}

func (s *SharedMemory) WaitForFrame(ctx context.Context) error    { return ErrSourceClosed }
func (s *SharedMemory) WithFrame(fn func(buf []byte) error) error { return ErrSourceClosed }
func (s *SharedMemory) Valid() bool                               { return false }
func (s *SharedMemory) Size() int                                 { return 0 }
func (s *SharedMemory) Close() error                              { return nil }

// Producer is only available on Linux.
type Producer struct{}

func CreateSharedMemory(name, dir string, width, height int) (*Producer, error) {
	return nil, ErrSharedMemoryUnsupported
}

func (p *Producer) Size() int    { return 0 }
func (p *Producer) Path() string { return "" }
func (p *Producer) WriteFrame(frame []byte, sampleTime time.Time) error {
	return ErrSharedMemoryUnsupported
}
func (p *Producer) Close() error { return nil }
