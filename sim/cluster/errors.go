package cluster

import (
	"errors"
	"fmt"
)

// ErrNodeNotFound is returned when a node id does not exist.
var ErrNodeNotFound = errors.New("node not found")

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("job not found")

// IndexRangeError reports a GPU index outside [0, Count-1].
type IndexRangeError struct {
	Index int
	Count int
}

func (e *IndexRangeError) Error() string {
	return fmt.Sprintf("GPU index %d is out of range (valid range: 0-%d)", e.Index, e.Count-1)
}

// OffBusError reports an operation against a GPU that has fallen off
// the bus. Callers surface it as a device-unavailable diagnostic, never
// a generic failure.
type OffBusError struct {
	Index int
	BusID string
}

func (e *OffBusError) Error() string {
	return fmt.Sprintf("GPU %d (%s) has fallen off the bus", e.Index, e.BusID)
}

// MIGError reports an illegal MIG operation.
type MIGError struct {
	Reason string
}

func (e *MIGError) Error() string {
	return e.Reason
}
