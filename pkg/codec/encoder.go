package codec

import (
	"fmt"
	"math"
)

// LCD geometry of a Mackie Control surface
const (
	LCDStrips       = 8
	LCDLines        = 2
	LCDStripWidth   = 7
	MaxSysexTextLen = FrameCapacity - 8
)

// Encoder builds outbound frames. BlockSize bounds timestamps; zero
// disables the check.
type Encoder struct {
	BlockSize uint32
}

// NewEncoder creates an encoder for blocks of blockSize samples
func NewEncoder(blockSize uint32) *Encoder {
	return &Encoder{BlockSize: blockSize}
}

// BuildFrame assembles status + payload into a zero-padded frame
func (e *Encoder) BuildFrame(status byte, payload []byte, ts uint32) (RawFrame, error) {
	var f RawFrame
	if status&0x80 == 0 {
		return f, fmt.Errorf("status byte 0x%02X has no high bit: %w", status, ErrEncode)
	}
	if 1+len(payload) > FrameCapacity {
		return f, fmt.Errorf("%d bytes exceed frame capacity %d: %w", 1+len(payload), FrameCapacity, ErrEncode)
	}
	if e.BlockSize > 0 && ts >= e.BlockSize {
		return f, fmt.Errorf("timestamp %d outside block of %d samples: %w", ts, e.BlockSize, ErrEncode)
	}
	f.Data[0] = status
	f.Len = 1 + copy(f.Data[1:], payload)
	f.Time = ts
	return f, nil
}

// ValueToWireBytes splits a normalized value into two 7-bit data bytes.
// Values are clamped to [0, 16383/16384].
func ValueToWireBytes(v float64) (lsb, msb uint8) {
	raw := math.Round(v * 16384)
	if raw < 0 || math.IsNaN(raw) {
		raw = 0
	}
	if raw > 16383 {
		raw = 16383
	}
	r := uint16(raw)
	return uint8(r & 0x7F), uint8((r >> 7) & 0x7F)
}

// WireBytesToValue is the inverse of ValueToWireBytes
func WireBytesToValue(lsb, msb uint8) float64 {
	return norm14(combine14(msb&0x7F, lsb&0x7F))
}

// PitchBend builds a pitch bend frame for a 1-based channel
func (e *Encoder) PitchBend(channel uint8, v float64, ts uint32) (RawFrame, error) {
	status, err := channelStatus(FamilyPitchBend, channel)
	if err != nil {
		return RawFrame{}, err
	}
	lsb, msb := ValueToWireBytes(v)
	return e.BuildFrame(status, []byte{lsb, msb}, ts)
}

// ControlChange builds a 7-bit controller frame
func (e *Encoder) ControlChange(channel, controller, value uint8, ts uint32) (RawFrame, error) {
	status, err := channelStatus(FamilyControlChange, channel)
	if err != nil {
		return RawFrame{}, err
	}
	return e.BuildFrame(status, []byte{controller & 0x7F, value & 0x7F}, ts)
}

// ControlChange14 builds the high/low frame pair of a 14-bit controller
func (e *Encoder) ControlChange14(channel, controller uint8, v float64, ts uint32) ([2]RawFrame, error) {
	var out [2]RawFrame
	if controller > HighHalfMax {
		return out, fmt.Errorf("controller %d has no 14-bit pair: %w", controller, ErrEncode)
	}
	lsb, msb := ValueToWireBytes(v)
	hi, err := e.ControlChange(channel, controller, msb, ts)
	if err != nil {
		return out, err
	}
	lo, err := e.ControlChange(channel, controller+LowHalfOffset, lsb, ts)
	if err != nil {
		return out, err
	}
	out[0], out[1] = hi, lo
	return out, nil
}

// SysexText builds a Mackie LCD text frame for strip lcd (1-8) on line (1-2)
func (e *Encoder) SysexText(lcd, line int, text string, ts uint32) (RawFrame, error) {
	if lcd < 1 || lcd > LCDStrips {
		return RawFrame{}, fmt.Errorf("lcd index %d not in 1..%d: %w", lcd, LCDStrips, ErrEncode)
	}
	if line < 1 || line > LCDLines {
		return RawFrame{}, fmt.Errorf("line index %d not in 1..%d: %w", line, LCDLines, ErrEncode)
	}
	if len(text) > MaxSysexTextLen {
		return RawFrame{}, fmt.Errorf("text of %d bytes exceeds %d: %w", len(text), MaxSysexTextLen, ErrEncode)
	}
	position := byte(((lcd - 1) + (line-1)*LCDStrips) * LCDStripWidth)

	payload := make([]byte, 0, len(mackieLCDHeader)+len(text)+1)
	payload = append(payload, mackieLCDHeader[1:]...)
	payload = append(payload, position)
	for i := 0; i < len(text); i++ {
		if text[i] > 0x7F {
			return RawFrame{}, fmt.Errorf("non-ascii byte 0x%02X at %d: %w", text[i], i, ErrEncode)
		}
		payload = append(payload, text[i])
	}
	payload = append(payload, SysExEnd)
	return e.BuildFrame(SysExStart, payload, ts)
}

func channelStatus(family byte, channel uint8) (byte, error) {
	if channel < 1 || channel > NumChannels {
		return 0, fmt.Errorf("channel %d not in 1..%d: %w", channel, NumChannels, ErrEncode)
	}
	return family | (channel - 1), nil
}
