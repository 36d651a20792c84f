package codec

import (
	"context"
	"fmt"
	"log/slog"
)

// Controller number ranges for 14-bit pairing
const (
	HighHalfMax   = 0x1F
	LowHalfMax    = 0x3F
	LowHalfOffset = 0x20
)

// Controller numbers with a name in the logs
const (
	CCModulation = 0x01
	CCPortamento = 0x05
)

// PairingState tracks a 14-bit controller whose high byte has been seen
// and whose low byte is the next frame of the batch.
type PairingState struct {
	Pending    bool
	Channel    uint8
	Controller uint8 // high-half controller number
	MSB        uint8
}

func (p PairingState) matches(channel, controller uint8) bool {
	return p.Pending && p.Channel == channel && p.Controller+LowHalfOffset == controller
}

// Observer is notified of every decoded event and condition.
// Implementations must not block.
type Observer interface {
	ObserveEvent(ChannelEvent)
	ObserveCondition(Condition)
}

// Decoder turns batches of raw frames into channel events. It owns the
// controller pairing state between calls and is not safe for concurrent use.
type Decoder struct {
	state    PairingState
	logger   *slog.Logger
	observer Observer
}

// NewDecoder creates a decoder. A nil logger falls back to slog.Default().
func NewDecoder(logger *slog.Logger, observer Observer) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger, observer: observer}
}

// Decode decodes one batch in arrival order. On a panic byte it returns
// the events decoded so far together with ErrFatalShutdown.
func (d *Decoder) Decode(frames []RawFrame) (Result, error) {
	state, res, err := DecodeBatch(d.state, frames, d.logger, d.observer)
	d.state = state
	return res, err
}

// Reset clears the pairing state. Called when the stream restarts.
func (d *Decoder) Reset() {
	d.state = PairingState{}
}

// DecodeBatch decodes frames starting from state and returns the updated state
func DecodeBatch(state PairingState, frames []RawFrame, logger *slog.Logger, observer Observer) (PairingState, Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := batchDecoder{
		state:    state,
		logger:   logger,
		observer: observer,
		debug:    logger.Enabled(context.Background(), slog.LevelDebug),
	}
	err := b.run(frames)
	return b.state, b.res, err
}

type batchDecoder struct {
	state    PairingState
	res      Result
	logger   *slog.Logger
	observer Observer
	debug    bool
}

func (b *batchDecoder) run(frames []RawFrame) error {
	for i := range frames {
		f := frames[i]

		if f.Len == 0 {
			b.condition(CondTruncatedFrame, i, f)
			continue
		}

		if f.Status() == StatusPanic {
			b.logger.Error("panic received from midi device, shutting down client", "index", i)
			return fmt.Errorf("frame %d: %w", i, ErrFatalShutdown)
		}

		if b.debug {
			b.logger.Debug("raw midi", "index", i, "channel", f.Channel(), "frame", f)
		}

		var next *RawFrame
		if i+1 < len(frames) {
			next = &frames[i+1]
		}
		b.frame(i, f, next)
	}
	return nil
}

// requiredLen returns the wire length of a channel-voice family
func requiredLen(family byte) int {
	switch family {
	case FamilyProgramChange, FamilyChannelPressure:
		return 2
	default:
		return 3
	}
}

// complete reports whether f holds n bytes and every data byte among them
// has the high bit clear. A status byte in a data position ends the message.
func complete(f RawFrame, n int) bool {
	if f.Len < n {
		return false
	}
	for _, d := range f.Data[1:n] {
		if d&0x80 != 0 {
			return false
		}
	}
	return true
}

func (b *batchDecoder) frame(i int, f RawFrame, next *RawFrame) {
	if f.Status()&0x80 == 0 {
		b.condition(CondUnknownStatus, i, f)
		return
	}

	family := f.Family()
	if family != FamilySystem && !complete(f, requiredLen(family)) {
		b.condition(CondTruncatedFrame, i, f)
		return
	}

	ch := f.Channel()
	d1 := f.Data[1]
	d2 := f.Data[2]

	switch family {
	case FamilyNoteOff, FamilyNoteOn:
		note := b.note(i, f, d1)
		if family == FamilyNoteOff || d2 == 0 {
			b.emit(ChannelEvent{Channel: ch, Kind: KindNoteOff, Time: f.Time, Note: note})
			return
		}
		b.emit(ChannelEvent{Channel: ch, Kind: KindNoteOn, Time: f.Time, Note: note, Value: norm7(d2), Resolution: 7, Raw: uint16(d2)})

	case FamilyPolyPressure:
		note := b.note(i, f, d1)
		b.emit(ChannelEvent{Channel: ch, Kind: KindPolyPressure, Time: f.Time, Note: note, Value: norm7(d2), Resolution: 7, Raw: uint16(d2)})

	case FamilyControlChange:
		b.controlChange(i, f, next, d1, d2)

	case FamilyProgramChange:
		b.logger.Debug("program change not used, ignored", "channel", ch, "program", d1)

	case FamilyChannelPressure:
		b.emit(ChannelEvent{Channel: ch, Kind: KindChannelPressure, Time: f.Time, Value: norm7(d1), Resolution: 7, Raw: uint16(d1)})

	case FamilyPitchBend:
		raw := combine14(d2, d1)
		b.emit(ChannelEvent{Channel: ch, Kind: KindPitchBend, Time: f.Time, Value: norm14(raw), Resolution: 14, Raw: raw})

	case FamilySystem:
		if f.Status() != SysExStart {
			b.condition(CondUnknownStatus, i, f)
			return
		}
		if !sysexTerminated(f.Bytes()) {
			b.condition(CondMalformedSysex, i, f)
			return
		}
		b.emit(ChannelEvent{Channel: ch, Kind: KindSysExBoundary, Time: f.Time, SysExLen: f.Len, SysEx: describeSysEx(f.Bytes())})
	}
}

// controlChange implements 14-bit controller pairing with one frame of look-ahead
func (b *batchDecoder) controlChange(i int, f RawFrame, next *RawFrame, controller, value uint8) {
	ch := f.Channel()

	switch {
	case controller <= HighHalfMax:
		if b.state.Pending {
			b.logger.Debug("pending controller pair superseded", "channel", b.state.Channel, "controller", b.state.Controller)
			b.state = PairingState{}
		}
		if next != nil && pairsWith(f, *next, controller) {
			b.state = PairingState{Pending: true, Channel: ch, Controller: controller, MSB: value}
			return
		}
		b.emit7(f, controller, value)

	case controller <= LowHalfMax:
		if b.state.matches(ch, controller) {
			raw := combine14(b.state.MSB, value)
			hi := b.state.Controller
			b.state = PairingState{}
			b.named(ch, hi, norm14(raw))
			b.emit(ChannelEvent{Channel: ch, Kind: KindControlChange, Time: f.Time, Controller: hi, Value: norm14(raw), Resolution: 14, Raw: raw})
			return
		}
		b.state = PairingState{}
		b.condition(CondOrderingViolation, i, f)
		b.emit7(f, controller, value)

	default:
		b.emit7(f, controller, value)
	}
}

func pairsWith(f, next RawFrame, controller uint8) bool {
	return complete(next, 3) &&
		next.Status() == f.Status() &&
		next.Data[1] == controller+LowHalfOffset
}

func (b *batchDecoder) emit7(f RawFrame, controller, value uint8) {
	b.named(f.Channel(), controller, norm7(value))
	b.emit(ChannelEvent{Channel: f.Channel(), Kind: KindControlChange, Time: f.Time, Controller: controller, Value: norm7(value), Resolution: 7, Raw: uint16(value)})
}

func (b *batchDecoder) named(ch, controller uint8, v float64) {
	if !b.debug {
		return
	}
	switch controller {
	case CCModulation:
		b.logger.Debug("modulation wheel", "channel", ch, "value", v)
	case CCPortamento:
		b.logger.Debug("portamento", "channel", ch, "value", v)
	}
}

func (b *batchDecoder) note(i int, f RawFrame, number uint8) Note {
	n := NoteFor(number)
	if !n.InRange {
		b.condition(CondOutOfRangeNote, i, f)
	}
	return n
}

func (b *batchDecoder) emit(ev ChannelEvent) {
	b.res.Events[ev.Channel-1] = append(b.res.Events[ev.Channel-1], ev)
	if b.observer != nil {
		b.observer.ObserveEvent(ev)
	}
}

func (b *batchDecoder) condition(kind ConditionKind, i int, f RawFrame) {
	c := Condition{Kind: kind, Index: i, Frame: f}
	b.res.Conditions = append(b.res.Conditions, c)
	b.logger.Warn(kind.sentinel().Error(), "condition", kind.String(), "index", i, "frame", f)
	if b.observer != nil {
		b.observer.ObserveCondition(c)
	}
}

func combine14(msb, lsb uint8) uint16 {
	return uint16(msb)<<7 | uint16(lsb)
}

func norm7(v uint8) float64 {
	return float64(v) / 127.0
}

func norm14(v uint16) float64 {
	return float64(v) / 16384.0
}
