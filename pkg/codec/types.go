// Package codec decodes raw MIDI 1.0 frames into per-channel events and
// encodes semantic values back into wire frames.
package codec

import (
	"fmt"
)

// FrameCapacity is the fixed size of a RawFrame buffer
const FrameCapacity = 64

// NumChannels is the number of MIDI voice channels
const NumChannels = 16

// Status families (high nibble of the status byte)
const (
	FamilyNoteOff         = 0x80
	FamilyNoteOn          = 0x90
	FamilyPolyPressure    = 0xA0
	FamilyControlChange   = 0xB0
	FamilyProgramChange   = 0xC0
	FamilyChannelPressure = 0xD0
	FamilyPitchBend       = 0xE0
	FamilySystem          = 0xF0
)

// StatusPanic is the leading byte that aborts the session
const StatusPanic = 0xFF

// RawFrame is a single wire message with a block-relative timestamp.
// Bytes past Len are always zero.
type RawFrame struct {
	Data [FrameCapacity]byte
	Len  int
	Time uint32 // sample offset inside the current block
}

// NewFrame copies data into a RawFrame
func NewFrame(data []byte, ts uint32) (RawFrame, error) {
	var f RawFrame
	if len(data) > FrameCapacity {
		return f, fmt.Errorf("frame of %d bytes exceeds capacity %d", len(data), FrameCapacity)
	}
	f.Len = copy(f.Data[:], data)
	f.Time = ts
	return f, nil
}

// MustFrame is NewFrame for literals known to fit
func MustFrame(ts uint32, data ...byte) RawFrame {
	f, err := NewFrame(data, ts)
	if err != nil {
		panic(err)
	}
	return f
}

// Bytes returns the used part of the buffer
func (f RawFrame) Bytes() []byte {
	return f.Data[:f.Len]
}

// Status returns the first byte, or 0 for an empty frame
func (f RawFrame) Status() byte {
	if f.Len == 0 {
		return 0
	}
	return f.Data[0]
}

// Family returns the status family (status & 0xF0)
func (f RawFrame) Family() byte {
	return f.Status() & 0xF0
}

// Channel returns the 1-based channel encoded in the status byte
func (f RawFrame) Channel() uint8 {
	return f.Status()&0x0F + 1
}

// Equal reports whether both frames carry the same bytes
func (f RawFrame) Equal(b []byte) bool {
	if f.Len != len(b) {
		return false
	}
	for i := range b {
		if f.Data[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders the frame as hex bytes
func (f RawFrame) String() string {
	return fmt.Sprintf("% X @%d", f.Bytes(), f.Time)
}

// EventKind identifies the message family of a decoded event
type EventKind int

const (
	KindNoteOn EventKind = iota
	KindNoteOff
	KindPolyPressure
	KindControlChange
	KindProgramChange
	KindChannelPressure
	KindPitchBend
	KindSysExBoundary
)

// String returns the event kind name
func (k EventKind) String() string {
	switch k {
	case KindNoteOn:
		return "note_on"
	case KindNoteOff:
		return "note_off"
	case KindPolyPressure:
		return "poly_pressure"
	case KindControlChange:
		return "control_change"
	case KindProgramChange:
		return "program_change"
	case KindChannelPressure:
		return "channel_pressure"
	case KindPitchBend:
		return "pitch_bend"
	case KindSysExBoundary:
		return "sysex"
	default:
		return "unknown"
	}
}

// Note describes a MIDI note number.
// Name is empty when the number falls outside the chromatic table.
type Note struct {
	Number  uint8
	Name    string
	Octave  int
	InRange bool
}

// String returns e.g. "A0", or "#12" for out-of-range notes
func (n Note) String() string {
	if !n.InRange {
		return fmt.Sprintf("#%d", n.Number)
	}
	return fmt.Sprintf("%s%d", n.Name, n.Octave)
}

// ChannelEvent is one decoded channel message
type ChannelEvent struct {
	Channel uint8 // 1-16
	Kind    EventKind
	Time    uint32

	Note       Note    // NoteOn, NoteOff, PolyPressure
	Value      float64 // normalized velocity, pressure, controller or bend value
	Controller uint8   // ControlChange
	Resolution int     // 7 or 14 bits
	Raw        uint16  // un-normalized value
	SysExLen   int     // SysExBoundary: total frame length including F0/F7
	SysEx      *SysExInfo
}

// SysExInfo describes the payload of a terminated sysex frame
type SysExInfo struct {
	Manufacturer []byte // one byte, or three for extended IDs
	LCD          bool   // Mackie Control LCD text message
	LCDPosition  uint8
	Text         string
}

// String renders the manufacturer ID and any LCD text
func (s *SysExInfo) String() string {
	if s == nil {
		return ""
	}
	out := "mfr ?"
	if len(s.Manufacturer) > 0 {
		out = fmt.Sprintf("mfr % X", s.Manufacturer)
	}
	if s.LCD {
		out += fmt.Sprintf(" lcd@%d %q", s.LCDPosition, s.Text)
	}
	return out
}

// String renders a one-line description of the event
func (e ChannelEvent) String() string {
	switch e.Kind {
	case KindNoteOn, KindPolyPressure:
		return fmt.Sprintf("ch%d %s %s %.4f", e.Channel, e.Kind, e.Note, e.Value)
	case KindNoteOff:
		return fmt.Sprintf("ch%d %s %s", e.Channel, e.Kind, e.Note)
	case KindControlChange:
		return fmt.Sprintf("ch%d %s #%d %.5f (%d-bit)", e.Channel, e.Kind, e.Controller, e.Value, e.Resolution)
	case KindSysExBoundary:
		if e.SysEx != nil {
			return fmt.Sprintf("ch%d %s %d bytes %s", e.Channel, e.Kind, e.SysExLen, e.SysEx)
		}
		return fmt.Sprintf("ch%d %s %d bytes", e.Channel, e.Kind, e.SysExLen)
	default:
		return fmt.Sprintf("ch%d %s %.5f", e.Channel, e.Kind, e.Value)
	}
}

// Batch holds the decoded events of one block, one ordered sequence per
// channel. Index 0 is channel 1.
type Batch [NumChannels][]ChannelEvent

// For returns the events of a 1-based channel
func (b *Batch) For(channel uint8) []ChannelEvent {
	if channel < 1 || channel > NumChannels {
		return nil
	}
	return b[channel-1]
}

// Len returns the total number of events across all channels
func (b *Batch) Len() int {
	n := 0
	for i := range b {
		n += len(b[i])
	}
	return n
}

// Result is the outcome of decoding one batch of frames
type Result struct {
	Events     Batch
	Conditions []Condition
}

// Has reports whether a condition of the given kind was recorded
func (r *Result) Has(kind ConditionKind) bool {
	for _, c := range r.Conditions {
		if c.Kind == kind {
			return true
		}
	}
	return false
}
