package abctrawl

import (
	"strings"
	"testing"
)

func TestDefaultIndexFixedLength(t *testing.T) {
	vector, err := DefaultIndex("C,D,E,F,G")
	if err != nil {
		t.Fatalf("DefaultIndex: %v", err)
	}
	parts := strings.Split(vector, ",")
	if len(parts) != IntervalVectorLength {
		t.Fatalf("got vector of length %d, want %d", len(parts), IntervalVectorLength)
	}
}

func TestDefaultIndexEmptyPitches(t *testing.T) {
	vector, err := DefaultIndex("")
	if err != nil {
		t.Fatalf("DefaultIndex: %v", err)
	}
	if vector != zeroVector() {
		t.Errorf("expected the zero vector for empty pitches, got %q", vector)
	}
}

func TestDefaultIndexIsTranspositionInvariant(t *testing.T) {
	a, err := DefaultIndex("C,D,E")
	if err != nil {
		t.Fatal(err)
	}
	b, err := DefaultIndex("^C,^D,^E") // every note shifted up a semitone
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("transposing every note should leave the interval vector unchanged: %q != %q", a, b)
	}
}

func TestAbcPitchToSemitoneOctaveMarks(t *testing.T) {
	low, ok := abcPitchToSemitone("C")
	if !ok {
		t.Fatal("expected C to parse")
	}
	high, ok := abcPitchToSemitone("c")
	if !ok {
		t.Fatal("expected c to parse")
	}
	if high-low != 12 {
		t.Errorf("lowercase c should be one octave above uppercase C, got delta %d", high-low)
	}

	upOctave, ok := abcPitchToSemitone("c'")
	if !ok {
		t.Fatal("expected c' to parse")
	}
	if upOctave-high != 12 {
		t.Errorf("c' should be one octave above c, got delta %d", upOctave-high)
	}
}
