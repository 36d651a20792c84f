package codec

import (
	"errors"
	"fmt"
)

// Errors reported while decoding and encoding
var (
	// ErrFatalShutdown is returned when a frame starts with 0xFF. It ends the session.
	ErrFatalShutdown     = errors.New("panic received from midi device, shutting down")
	ErrMalformedSysex    = errors.New("sysex frame missing 0xF7 terminator")
	ErrUnknownStatus     = errors.New("unknown status family")
	ErrOrderingViolation = errors.New("controller low byte received before its high byte")
	ErrOutOfRangeNote    = errors.New("note not in chromatic range")
	ErrTruncatedFrame    = errors.New("frame shorter than its message family requires")
	ErrEncode            = errors.New("unable to build midi frame")
)

// ConditionKind classifies a recoverable decoding condition
type ConditionKind int

const (
	CondMalformedSysex ConditionKind = iota
	CondUnknownStatus
	CondOrderingViolation
	CondOutOfRangeNote
	CondTruncatedFrame
)

// String returns the condition name used in logs and metric labels
func (k ConditionKind) String() string {
	switch k {
	case CondMalformedSysex:
		return "malformed_sysex"
	case CondUnknownStatus:
		return "unknown_status"
	case CondOrderingViolation:
		return "ordering_violation"
	case CondOutOfRangeNote:
		return "out_of_range_note"
	case CondTruncatedFrame:
		return "truncated_frame"
	default:
		return "unknown"
	}
}

func (k ConditionKind) sentinel() error {
	switch k {
	case CondMalformedSysex:
		return ErrMalformedSysex
	case CondUnknownStatus:
		return ErrUnknownStatus
	case CondOrderingViolation:
		return ErrOrderingViolation
	case CondOutOfRangeNote:
		return ErrOutOfRangeNote
	default:
		return ErrTruncatedFrame
	}
}

// Condition is a non-fatal problem found in one frame of a batch
type Condition struct {
	Kind  ConditionKind
	Index int // position of the frame in the batch
	Frame RawFrame
}

// Error implements error
func (c Condition) Error() string {
	return fmt.Sprintf("frame %d [% X]: %v", c.Index, c.Frame.Bytes(), c.Kind.sentinel())
}

// Unwrap exposes the matching sentinel error to errors.Is
func (c Condition) Unwrap() error {
	return c.Kind.sentinel()
}
