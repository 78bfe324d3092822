//go:build !linux

package shm

import "errors"

func Attach(key, n int) (*Segment, error) {
	return nil, errors.New("System V shared memory not supported on this platform")
}
