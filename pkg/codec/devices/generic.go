package devices

import (
	"github.com/james-see/blendmidi/pkg/codec"
	"github.com/james-see/blendmidi/pkg/trigger"
)

// Generic is a keyboard-style controller without motor faders
type Generic struct{}

// NewGeneric creates a Generic surface
func NewGeneric() *Generic {
	return &Generic{}
}

func (g *Generic) Name() string        { return "Generic controller" }
func (g *Generic) ID() string          { return "generic" }
func (g *Generic) Description() string { return "Any MIDI keyboard or controller; mod wheel at full forwards to pitch bend" }

// Rules forwards a fully raised modulation wheel as pitch bend
func (g *Generic) Rules() []trigger.Rule {
	return []trigger.Rule{
		{
			Label:   "Mod wheel max",
			Pattern: []byte{codec.FamilyControlChange, codec.CCModulation, 0x7F},
			Status:  codec.FamilyPitchBend,
			Mode:    trigger.Passthrough,
		},
	}
}

// ConnectSequence only sends the greeting
func (g *Generic) ConnectSequence(enc *codec.Encoder) ([]codec.RawFrame, error) {
	return faderSequence(enc, 0, 0, "Blender MIDI")
}
