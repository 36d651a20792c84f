package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/james-see/blendmidi/pkg/codec"
	"gitlab.com/gomidi/midi/v2/smf"
)

type recorded struct {
	sample uint64
	data   []byte
}

// Recorder captures channel-voice frames and writes them as a Standard MIDI File
type Recorder struct {
	mu              sync.Mutex
	events          []recorded
	sampleRate      int
	ticksPerQuarter uint16
	tempo           float64
}

// NewRecorder creates a recorder for a stream running at sampleRate
func NewRecorder(sampleRate int) *Recorder {
	return &Recorder{
		sampleRate:      sampleRate,
		ticksPerQuarter: 480,
		tempo:           120.0,
	}
}

// Record stores a frame at an absolute sample position. System messages
// are skipped.
func (r *Recorder) Record(sample uint64, f codec.RawFrame) {
	if f.Len == 0 || f.Status() < codec.FamilyNoteOff || f.Family() == codec.FamilySystem {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, recorded{sample: sample, data: append([]byte(nil), f.Bytes()...)})
	r.mu.Unlock()
}

// Len returns the number of captured frames
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *Recorder) ticks(sample uint64) uint32 {
	seconds := float64(sample) / float64(r.sampleRate)
	return uint32(seconds * r.tempo / 60.0 * float64(r.ticksPerQuarter))
}

// WriteTo encodes the capture as a single-track SMF
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	if r.sampleRate <= 0 {
		return 0, errors.New("recorder has no sample rate")
	}

	r.mu.Lock()
	events := make([]recorded, len(r.events))
	copy(events, r.events)
	r.mu.Unlock()

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(r.ticksPerQuarter)

	var track smf.Track

	// Tempo meta event
	microsecondsPerBeat := uint32(60000000.0 / r.tempo)
	track.Add(0, smf.Message([]byte{
		0xFF, 0x51, 0x03,
		byte(microsecondsPerBeat >> 16),
		byte(microsecondsPerBeat >> 8),
		byte(microsecondsPerBeat),
	}))

	var current uint32
	for _, ev := range events {
		tick := r.ticks(ev.sample)
		if tick < current {
			tick = current
		}
		track.Add(tick-current, ev.data)
		current = tick
	}

	track.Close(0)

	if err := s.Add(track); err != nil {
		return 0, fmt.Errorf("failed to add track: %w", err)
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return 0, fmt.Errorf("failed to write MIDI: %w", err)
	}
	return buf.WriteTo(w)
}

// WriteFile writes the capture to filename
func (r *Recorder) WriteFile(filename string) error {
	var buf bytes.Buffer
	if _, err := r.WriteTo(&buf); err != nil {
		return err
	}
	return os.WriteFile(filename, buf.Bytes(), 0644)
}

// ReadCapture parses an SMF and returns its channel-voice frames in file
// order, stamped with their absolute tick. Meta and system events are skipped.
func ReadCapture(data []byte) ([]codec.RawFrame, error) {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse MIDI: %w", err)
	}

	var frames []codec.RawFrame
	for _, track := range s.Tracks {
		var tick uint32
		for _, ev := range track {
			tick += ev.Delta
			msg := ev.Message
			if len(msg) == 0 || msg[0] < codec.FamilyNoteOff || msg[0] >= codec.FamilySystem {
				continue
			}
			f, err := codec.NewFrame(msg, tick)
			if err != nil {
				continue
			}
			frames = append(frames, f)
		}
	}
	return frames, nil
}

// LoadCapture reads a capture written by WriteFile
func LoadCapture(filename string) ([]codec.RawFrame, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read MIDI file: %w", err)
	}
	return ReadCapture(data)
}
