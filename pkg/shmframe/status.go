package shmframe

import "strconv"

// Status is the outcome of a Write or Read. The numeric values are stable
// and match the codes used by other bindings of the block protocol.
type Status int

// Status values.
const (
	StatusSuccess           Status = 0
	StatusFrameSizeMismatch Status = 1
	StatusBlockNotActive    Status = 2
	StatusNoNewFrame        Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFrameSizeMismatch:
		return "FRAME_SIZE_MISMATCH"
	case StatusBlockNotActive:
		return "BLOCK_NOT_ACTIVE"
	case StatusNoNewFrame:
		return "NO_NEW_FRAME"
	default:
		return "Status(" + strconv.Itoa(int(s)) + ")"
	}
}

// Err maps a status to its sentinel error. StatusSuccess maps to nil.
func (s Status) Err() error {
	switch s {
	case StatusSuccess:
		return nil
	case StatusFrameSizeMismatch:
		return ErrFrameSizeMismatch
	case StatusBlockNotActive:
		return ErrBlockNotActive
	case StatusNoNewFrame:
		return ErrNoNewFrame
	default:
		return newError(CodeInternal, "", "unknown status "+s.String(), nil)
	}
}
