package codec

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"
)

func frames(raw ...[]byte) []RawFrame {
	out := make([]RawFrame, 0, len(raw))
	for i, r := range raw {
		out = append(out, MustFrame(uint32(i), r...))
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestNoteNames(t *testing.T) {
	for n := LowestNote; n <= HighestNote; n++ {
		note := NoteFor(uint8(n))
		if !note.InRange {
			t.Fatalf("note %d should be in range", n)
		}
		if want := chromatic[(n-21)%12]; note.Name != want {
			t.Errorf("note %d name = %q, want %q", n, note.Name, want)
		}
		if want := n/12 - 1; note.Octave != want {
			t.Errorf("note %d octave = %d, want %d", n, note.Octave, want)
		}
	}

	tests := []struct {
		number uint8
		want   string
	}{
		{21, "A0"},
		{60, "C4"},
		{69, "A4"},
		{108, "C8"},
		{20, "#20"},
		{109, "#109"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := NoteFor(tt.number).String(); got != tt.want {
				t.Errorf("NoteFor(%d) = %q, want %q", tt.number, got, tt.want)
			}
		})
	}
}

func TestDecodeNotes(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		kind  EventKind
		ch    uint8
		value float64
	}{
		{"note on", []byte{0x90, 21, 127}, KindNoteOn, 1, 1.0},
		{"note on velocity 0 is note off", []byte{0x92, 60, 0}, KindNoteOff, 3, 0},
		{"note off family", []byte{0x8F, 60, 64}, KindNoteOff, 16, 0},
		{"poly pressure", []byte{0xA1, 64, 127}, KindPolyPressure, 2, 1.0},
		{"channel pressure", []byte{0xD4, 127}, KindChannelPressure, 5, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(quietLogger(), nil)
			res, err := d.Decode(frames(tt.frame))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			evs := res.Events.For(tt.ch)
			if len(evs) != 1 {
				t.Fatalf("channel %d events = %d, want 1", tt.ch, len(evs))
			}
			if evs[0].Kind != tt.kind {
				t.Errorf("kind = %v, want %v", evs[0].Kind, tt.kind)
			}
			if evs[0].Value != tt.value {
				t.Errorf("value = %v, want %v", evs[0].Value, tt.value)
			}
			if res.Events.Len() != 1 {
				t.Errorf("total events = %d, want 1", res.Events.Len())
			}
		})
	}
}

func TestDecodeNoteA0(t *testing.T) {
	d := NewDecoder(quietLogger(), nil)
	res, _ := d.Decode(frames([]byte{0x90, 21, 64}))
	ev := res.Events.For(1)[0]
	if ev.Note.Name != "A" || ev.Note.Octave != 0 {
		t.Errorf("note 21 = %s%d, want A0", ev.Note.Name, ev.Note.Octave)
	}
	if math.Abs(ev.Value-64.0/127.0) > 1e-12 {
		t.Errorf("velocity = %v, want %v", ev.Value, 64.0/127.0)
	}
}

func TestDecodeOutOfRangeNote(t *testing.T) {
	d := NewDecoder(quietLogger(), nil)
	res, err := d.Decode(frames([]byte{0x90, 12, 100}))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	ev := res.Events.For(1)[0]
	if ev.Note.InRange || ev.Note.Name != "" || ev.Note.Number != 12 {
		t.Errorf("out of range note = %+v, want numeric fallback", ev.Note)
	}
	if !res.Has(CondOutOfRangeNote) {
		t.Error("expected out_of_range_note condition")
	}
}

func TestDecode14BitPair(t *testing.T) {
	d := NewDecoder(quietLogger(), nil)
	res, err := d.Decode(frames(
		[]byte{0xB0, 0x07, 0x40},
		[]byte{0xB0, 0x27, 0x05},
	))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	evs := res.Events.For(1)
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1 combined event", len(evs))
	}
	want := float64(0x40<<7|0x05) / 16384.0
	if evs[0].Value != want {
		t.Errorf("value = %v, want %v", evs[0].Value, want)
	}
	if evs[0].Resolution != 14 || evs[0].Controller != 0x07 {
		t.Errorf("event = %+v, want 14-bit controller 7", evs[0])
	}
	if len(res.Conditions) != 0 {
		t.Errorf("unexpected conditions %v", res.Conditions)
	}
	if d.state.Pending {
		t.Error("pairing state should be cleared")
	}
}

func TestDecode14BitReversed(t *testing.T) {
	d := NewDecoder(quietLogger(), nil)
	res, err := d.Decode(frames(
		[]byte{0xB0, 0x27, 0x05},
		[]byte{0xB0, 0x07, 0x40},
	))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	evs := res.Events.For(1)
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2", len(evs))
	}
	if evs[0].Controller != 0x27 || evs[0].Value != 5.0/127.0 || evs[0].Resolution != 7 {
		t.Errorf("first event = %+v", evs[0])
	}
	if evs[1].Controller != 0x07 || evs[1].Value != 0x40/127.0 {
		t.Errorf("second event = %+v", evs[1])
	}
	if len(res.Conditions) != 1 || res.Conditions[0].Kind != CondOrderingViolation || res.Conditions[0].Index != 0 {
		t.Errorf("conditions = %v, want one ordering violation on frame 0", res.Conditions)
	}
	if !errors.Is(res.Conditions[0], ErrOrderingViolation) {
		t.Error("condition should unwrap to ErrOrderingViolation")
	}
}

func TestDecode14BitDifferentChannels(t *testing.T) {
	d := NewDecoder(quietLogger(), nil)
	res, _ := d.Decode(frames(
		[]byte{0xB0, 0x01, 0x40},
		[]byte{0xB1, 0x21, 0x05},
	))

	if n := len(res.Events.For(1)); n != 1 {
		t.Errorf("channel 1 events = %d, want 1", n)
	}
	if n := len(res.Events.For(2)); n != 1 {
		t.Errorf("channel 2 events = %d, want 1", n)
	}
	if res.Events.For(1)[0].Resolution != 7 {
		t.Error("channel 1 event should be standalone 7-bit")
	}
	if len(res.Conditions) != 1 || res.Conditions[0].Index != 1 {
		t.Errorf("conditions = %v, want ordering violation on frame 1", res.Conditions)
	}
}

func TestDecodeHighHalfLastInBatch(t *testing.T) {
	d := NewDecoder(quietLogger(), nil)
	res, _ := d.Decode(frames([]byte{0xB0, 0x07, 0x40}))
	evs := res.Events.For(1)
	if len(evs) != 1 || evs[0].Resolution != 7 {
		t.Fatalf("events = %+v, want one standalone event", evs)
	}
	if d.state.Pending {
		t.Error("last frame must not leave a pending pair")
	}

	// the sibling arriving in the next batch has nothing to pair with
	res, _ = d.Decode(frames([]byte{0xB0, 0x27, 0x05}))
	if !res.Has(CondOrderingViolation) {
		t.Error("expected ordering violation for orphan low byte")
	}
}

func TestDecodeLookAheadIsOneFrame(t *testing.T) {
	d := NewDecoder(quietLogger(), nil)
	res, _ := d.Decode(frames(
		[]byte{0xB0, 0x07, 0x40},
		[]byte{0x90, 60, 100},
		[]byte{0xB0, 0x27, 0x05},
	))
	evs := res.Events.For(1)
	if len(evs) != 3 {
		t.Fatalf("events = %d, want 3", len(evs))
	}
	if evs[0].Kind != KindControlChange || evs[1].Kind != KindNoteOn || evs[2].Kind != KindControlChange {
		t.Errorf("arrival order not preserved: %v", evs)
	}
}

func TestDecodePendingStateAcrossCalls(t *testing.T) {
	state := PairingState{Pending: true, Channel: 1, Controller: 0x07, MSB: 0x7F}
	next, res, err := DecodeBatch(state, frames([]byte{0xB0, 0x27, 0x7F}), quietLogger(), nil)
	if err != nil {
		t.Fatalf("DecodeBatch() error = %v", err)
	}
	if next.Pending {
		t.Error("state should be cleared after the pair completes")
	}
	ev := res.Events.For(1)[0]
	if ev.Raw != 16383 || ev.Resolution != 14 {
		t.Errorf("event = %+v, want raw 16383", ev)
	}
}

func TestDecodePlainController(t *testing.T) {
	d := NewDecoder(quietLogger(), nil)
	res, _ := d.Decode(frames([]byte{0xB0, 0x40, 0x7F}))
	ev := res.Events.For(1)[0]
	if ev.Controller != 0x40 || ev.Value != 1.0 || ev.Resolution != 7 {
		t.Errorf("event = %+v", ev)
	}
	if len(res.Conditions) != 0 {
		t.Errorf("unexpected conditions %v", res.Conditions)
	}
}

func TestDecodeUnpairedLowHalf(t *testing.T) {
	d := NewDecoder(quietLogger(), nil)
	res, _ := d.Decode(frames([]byte{0xB0, 0x3C, 0x41}))
	evs := res.Events.For(1)
	if len(evs) != 1 {
		t.Fatalf("events = %+v, want one 7-bit event", evs)
	}
	if evs[0].Controller != 0x3C || evs[0].Resolution != 7 || evs[0].Value != 0x41/127.0 {
		t.Errorf("event = %+v", evs[0])
	}
	if !res.Has(CondOrderingViolation) {
		t.Errorf("conditions = %v, want ordering_violation", res.Conditions)
	}
}

func TestDecodeStatusInDataPosition(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"controller number", []byte{0xB0, 0x87, 0x40}},
		{"controller value", []byte{0xB0, 0x07, 0xC0}},
		{"note velocity", []byte{0x90, 0x3C, 0x90}},
		{"channel pressure", []byte{0xD0, 0x80}},
		{"pitch bend msb", []byte{0xE0, 0x00, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(quietLogger(), nil)
			res, err := d.Decode(frames(tt.data))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if res.Events.Len() != 0 {
				t.Errorf("events = %v, want none", res.Events)
			}
			if !res.Has(CondTruncatedFrame) {
				t.Errorf("conditions = %v, want truncated_frame", res.Conditions)
			}
		})
	}
}

func TestDecodeHighBitLowHalfDoesNotPair(t *testing.T) {
	d := NewDecoder(quietLogger(), nil)
	res, _ := d.Decode(frames(
		[]byte{0xB0, 0x07, 0x40},
		[]byte{0xB0, 0x27, 0x80},
	))
	evs := res.Events.For(1)
	if len(evs) != 1 || evs[0].Resolution != 7 {
		t.Errorf("events = %+v, want a single 7-bit event", evs)
	}
	if d.state.Pending {
		t.Error("pairing state left pending")
	}
	if !res.Has(CondTruncatedFrame) {
		t.Errorf("conditions = %v, want truncated_frame", res.Conditions)
	}
}

func TestDecodePitchBend(t *testing.T) {
	tests := []struct {
		name     string
		lsb, msb byte
		want     float64
	}{
		{"minimum", 0x00, 0x00, 0.0},
		{"centre", 0x00, 0x40, 0.5},
		{"maximum", 0x7F, 0x7F, 16383.0 / 16384.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(quietLogger(), nil)
			res, _ := d.Decode(frames([]byte{0xE0, tt.lsb, tt.msb}))
			ev := res.Events.For(1)[0]
			if ev.Kind != KindPitchBend || ev.Value != tt.want {
				t.Errorf("pitch bend = %v, want %v", ev.Value, tt.want)
			}
		})
	}
}

func TestDecodeFatalShutdown(t *testing.T) {
	d := NewDecoder(quietLogger(), nil)
	res, err := d.Decode(frames(
		[]byte{0x90, 60, 100},
		[]byte{0xFF},
		[]byte{0x91, 62, 100},
	))
	if !errors.Is(err, ErrFatalShutdown) {
		t.Fatalf("error = %v, want ErrFatalShutdown", err)
	}
	if n := len(res.Events.For(1)); n != 1 {
		t.Errorf("channel 1 events = %d, want 1", n)
	}
	if n := len(res.Events.For(2)); n != 0 {
		t.Errorf("frames after panic were decoded: %d events", n)
	}
}

func TestDecodeSysex(t *testing.T) {
	var logs bytes.Buffer
	d := NewDecoder(slog.New(slog.NewTextHandler(&logs, nil)), nil)

	res, err := d.Decode(frames([]byte{0xF0, 0x00, 0x00, 0x66, 0x14, 0x12}))
	if err != nil {
		t.Fatalf("malformed sysex must not be fatal: %v", err)
	}
	if !res.Has(CondMalformedSysex) {
		t.Error("expected malformed_sysex condition")
	}
	if res.Events.Len() != 0 {
		t.Error("malformed sysex payload should be discarded")
	}
	if !strings.Contains(logs.String(), "malformed_sysex") {
		t.Errorf("log output %q does not mention malformed_sysex", logs.String())
	}

	res, _ = d.Decode(frames([]byte{0xF0, 0x7E, 0x00, 0x06, 0x01, 0xF7}))
	evs := res.Events.For(1)
	if len(evs) != 1 || evs[0].Kind != KindSysExBoundary || evs[0].SysExLen != 6 {
		t.Fatalf("events = %+v, want one sysex boundary of 6 bytes", evs)
	}
	if info := evs[0].SysEx; info == nil || !bytes.Equal(info.Manufacturer, []byte{0x7E}) || info.LCD {
		t.Errorf("sysex info = %+v, want manufacturer 7E without LCD text", info)
	}
}

func TestDecodeSysexLCDText(t *testing.T) {
	d := NewDecoder(quietLogger(), nil)
	res, _ := d.Decode(frames([]byte{0xF0, 0x00, 0x00, 0x66, 0x14, 0x12, 0x3F, 0x48, 0x69, 0xF7}))
	evs := res.Events.For(1)
	if len(evs) != 1 || evs[0].SysEx == nil {
		t.Fatalf("events = %+v, want one described sysex boundary", evs)
	}
	info := evs[0].SysEx
	if !bytes.Equal(info.Manufacturer, []byte{0x00, 0x00, 0x66}) {
		t.Errorf("manufacturer = % X", info.Manufacturer)
	}
	if !info.LCD || info.LCDPosition != 0x3F || info.Text != "Hi" {
		t.Errorf("lcd = %+v, want position 63 text Hi", info)
	}
	if got := evs[0].String(); !strings.Contains(got, `mfr 00 00 66 lcd@63 "Hi"`) {
		t.Errorf("String() = %q", got)
	}
}

func TestDecodeIgnoredAndUnknown(t *testing.T) {
	d := NewDecoder(quietLogger(), nil)
	res, err := d.Decode(frames(
		[]byte{0xC0, 0x05},
		[]byte{0xF8},
		[]byte{0x40, 0x10},
		[]byte{0x90, 0x40},
	))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if res.Events.Len() != 0 {
		t.Errorf("events = %d, want 0", res.Events.Len())
	}

	var unknown, truncated int
	for _, c := range res.Conditions {
		switch c.Kind {
		case CondUnknownStatus:
			unknown++
		case CondTruncatedFrame:
			truncated++
		}
	}
	if unknown != 2 || truncated != 1 {
		t.Errorf("unknown = %d truncated = %d, want 2 and 1", unknown, truncated)
	}
}

type recordingObserver struct {
	events     []ChannelEvent
	conditions []Condition
}

func (r *recordingObserver) ObserveEvent(ev ChannelEvent)   { r.events = append(r.events, ev) }
func (r *recordingObserver) ObserveCondition(c Condition) { r.conditions = append(r.conditions, c) }

func TestDecodeObserver(t *testing.T) {
	obs := &recordingObserver{}
	d := NewDecoder(quietLogger(), obs)
	_, _ = d.Decode(frames(
		[]byte{0xB0, 0x21, 0x10},
		[]byte{0x93, 64, 90},
	))
	if len(obs.events) != 2 {
		t.Errorf("observed events = %d, want 2", len(obs.events))
	}
	if len(obs.conditions) != 1 {
		t.Errorf("observed conditions = %d, want 1", len(obs.conditions))
	}
}

func TestDecoderReset(t *testing.T) {
	d := NewDecoder(quietLogger(), nil)
	d.state = PairingState{Pending: true, Channel: 1, Controller: 2, MSB: 3}
	d.Reset()
	if d.state.Pending {
		t.Error("Reset() should clear the pairing state")
	}
}
