package sync

import (
	"errors"
)

var (
	ErrUninitialized      = errors.New("time base manager not initialized")
	ErrInvalidTimeBaseID  = errors.New("invalid time base id")
	ErrInvalidPointer     = errors.New("invalid pointer or buffer")
	ErrInvalidTimestamp   = errors.New("invalid time stamp")
	ErrInvalidUserData    = errors.New("invalid user data")
	ErrAlreadyConnected   = errors.New("time base is connected to a time master")
	ErrNotConnected       = errors.New("time base is not connected to a time master")
	ErrServiceDisabled    = errors.New("service not configured for time base")
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrNotAvailable       = errors.New("value not available yet")
	ErrTimerPending       = errors.New("customer timer already pending")
	ErrTimerCapacity      = errors.New("no free customer timer")
	ErrInvalidCustomer    = errors.New("invalid customer id")
)
