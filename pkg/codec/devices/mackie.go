package devices

import (
	"github.com/james-see/blendmidi/pkg/codec"
	"github.com/james-see/blendmidi/pkg/trigger"
)

// Mackie Control constants
const (
	MackieFaders    = 9 // 8 channel strips + master
	MackieJogCC     = 0x3C
	MackieJogCW     = 0x01
	MackieJogCCW    = 0x41
	MackieReference = 0.0
	MackieGreeting  = "Blender MIDI connected"
)

// Mackie implements Surface for Mackie Control compatible controllers
type Mackie struct{}

// NewMackie creates a new Mackie Control handler
func NewMackie() *Mackie {
	return &Mackie{}
}

// Name returns the surface name
func (m *Mackie) Name() string {
	return "Mackie Control"
}

// ID returns the registry key
func (m *Mackie) ID() string {
	return "mackie"
}

// Description returns a short summary
func (m *Mackie) Description() string {
	return "Mackie Control Universal protocol: 9 motor faders, 2x56 LCD, jog wheel"
}

// Rules maps the jog wheel to the first fader
func (m *Mackie) Rules() []trigger.Rule {
	return []trigger.Rule{
		{
			Label:   "CC #60 CW",
			Pattern: []byte{codec.FamilyControlChange, MackieJogCC, MackieJogCW},
			Status:  codec.FamilyPitchBend,
			Mode:    trigger.Fixed,
			Target:  1.0,
		},
		{
			Label:   "CC #60 CCW",
			Pattern: []byte{codec.FamilyControlChange, MackieJogCC, MackieJogCCW},
			Status:  codec.FamilyPitchBend,
			Mode:    trigger.Fixed,
			Target:  0.0,
		},
	}
}

// ConnectSequence parks every fader at the reference value and greets on the LCD
func (m *Mackie) ConnectSequence(enc *codec.Encoder) ([]codec.RawFrame, error) {
	return faderSequence(enc, MackieFaders, MackieReference, MackieGreeting)
}
