//go:build linux

package shm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Attach creates or attaches the System V shared memory segment key with n
// entries.
func Attach(key, n int) (*Segment, error) {
	size := SegmentSize(n)
	id, err := unix.SysvShmGet(key, size, unix.IPC_CREAT|0600)
	if err != nil {
		return nil, fmt.Errorf("shmget: %w", err)
	}
	b, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shmat: %w", err)
	}
	if len(b) < size {
		_ = unix.SysvShmDetach(b)
		return nil, fmt.Errorf("shared memory segment too small: %d < %d", len(b), size)
	}
	s := &Segment{
		words:  unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), size/4),
		n:      n,
		detach: func() error { return unix.SysvShmDetach(b) },
	}
	if v := s.words[0]; v != 0 && v != Version {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %d", ErrVersion, v)
	}
	s.init()
	return s, nil
}
