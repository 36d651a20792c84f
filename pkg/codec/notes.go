package codec

// Piano range covered by the chromatic table
const (
	LowestNote  = 21  // A0
	HighestNote = 108 // C8
)

var chromatic = [12]string{"A", "A#", "B", "C", "C#", "D", "D#", "E", "F", "F#", "G", "G#"}

// NoteFor resolves a note number to its name and octave.
// Numbers outside 21-108 keep only the raw number.
func NoteFor(number uint8) Note {
	if number < LowestNote || number > HighestNote {
		return Note{Number: number}
	}
	return Note{
		Number:  number,
		Name:    chromatic[(number-LowestNote)%12],
		Octave:  int(number)/12 - 1,
		InRange: true,
	}
}
