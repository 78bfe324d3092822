package phc

import (
	"errors"
	"fmt"
)

var ErrUnsupported = errors.New("hardware clocks not supported on this platform")

// DevicePath returns the PHC device of Ethernet controller n.
func DevicePath(n uint8) string {
	return fmt.Sprintf("/dev/ptp%d", n)
}
