package av1enc

import "errors"

// Shared memory layout: a 64-byte header followed by the frame payload.
//
//	off  size  field
//	  0     4  magic "I420"
//	  4     4  layout version
//	  8     4  payload size in bytes
//	 12     4  producer pid, informational; the producer holds an OFD
//	           write lock on this word while it is alive
//	 16     4  frame sequence, also the futex word
//	 20     4  closed flag, set by the producer on exit
//	 24     4  width
//	 28     4  height
//	 32     8  sample time of the last frame, unix nanoseconds
const (
	shmMagic      uint32 = 0x30323449
	shmVersion    uint32 = 2
	shmHeaderSize        = 64

	shmOffMagic   = 0
	shmOffVersion = 4
	shmOffSize    = 8
	shmOffPID     = 12
	shmOffSeq     = 16
	shmOffClosed  = 20
	shmOffWidth   = 24
	shmOffHeight  = 28
	shmOffTime    = 32

	// DefaultShmDir is where named shared memory lives on Linux.
	DefaultShmDir = "/dev/shm"
)

var (
	ErrSharedMemoryUnsupported = errors.New("shared memory not supported on this platform")
	ErrSharedMemoryLayout      = errors.New("shared memory has unknown layout")
)
