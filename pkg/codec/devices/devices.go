// Package devices provides control-surface specific trigger tables and
// connection sequences
package devices

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/james-see/blendmidi/pkg/codec"
	"github.com/james-see/blendmidi/pkg/trigger"
)

// Surface describes a connected control surface
type Surface interface {
	Name() string
	ID() string
	Description() string
	// Rules returns the trigger rules applied to the surface's input
	Rules() []trigger.Rule
	// ConnectSequence returns the frames sent once when a stream starts
	ConnectSequence(enc *codec.Encoder) ([]codec.RawFrame, error)
}

var registry = map[string]func() Surface{
	"mackie":  func() Surface { return NewMackie() },
	"generic": func() Surface { return NewGeneric() },
}

// Lookup returns the surface registered under name
func Lookup(name string) (Surface, error) {
	switch strings.ToLower(name) {
	case "mcu", "mackie-control":
		name = "mackie"
	}
	ctor, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown surface %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// Names lists the registered surface IDs
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Initializer builds a surface's connect sequence once and replays it
type Initializer struct {
	surface Surface
	encoder *codec.Encoder

	once   sync.Once
	frames []codec.RawFrame
	err    error
}

// NewInitializer creates an Initializer for surface
func NewInitializer(surface Surface, encoder *codec.Encoder) *Initializer {
	return &Initializer{surface: surface, encoder: encoder}
}

// BuildConnectSequence returns the cached connect sequence
func (i *Initializer) BuildConnectSequence() ([]codec.RawFrame, error) {
	i.once.Do(func() {
		i.frames, i.err = i.surface.ConnectSequence(i.encoder)
	})
	if i.err != nil {
		return nil, i.err
	}
	out := make([]codec.RawFrame, len(i.frames))
	copy(out, i.frames)
	return out, nil
}

// faderSequence builds one pitch bend per fader channel at ref, then the greeting
func faderSequence(enc *codec.Encoder, faders int, ref float64, greeting string) ([]codec.RawFrame, error) {
	frames := make([]codec.RawFrame, 0, faders+1)
	for ch := 1; ch <= faders; ch++ {
		f, err := enc.PitchBend(uint8(ch), ref, 0)
		if err != nil {
			return nil, fmt.Errorf("fader %d: %w", ch, err)
		}
		frames = append(frames, f)
	}
	text, err := enc.SysexText(1, 1, greeting, 0)
	if err != nil {
		return nil, fmt.Errorf("greeting: %w", err)
	}
	return append(frames, text), nil
}
