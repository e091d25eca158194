package abctrawl

import "testing"

const sampleTunebook = `X:1
T:The Butterfly
C:Trad.
R:Slip Jig
K:Emin
E2B BAB|dBA ABd|e2f gfe|dBA ABd|
X:2
T:Kesh Jig
K:G
GFG AGA|Bcd efg|
`

func TestDefaultParseExtractsTunes(t *testing.T) {
	tunes, err := DefaultParse(sampleTunebook)
	if err != nil {
		t.Fatalf("DefaultParse: %v", err)
	}
	if len(tunes) != 2 {
		t.Fatalf("got %d tunes, want 2", len(tunes))
	}

	first := tunes[0]
	if first.Title != "The Butterfly" {
		t.Errorf("title = %q, want %q", first.Title, "The Butterfly")
	}
	if first.Composer != "Trad." {
		t.Errorf("composer = %q, want %q", first.Composer, "Trad.")
	}
	if first.Key != "Emin" {
		t.Errorf("key = %q, want %q", first.Key, "Emin")
	}
	if first.Rhythm != "Slip Jig" {
		t.Errorf("rhythm = %q, want %q", first.Rhythm, "Slip Jig")
	}
	if first.Pitches == "" {
		t.Error("expected non-empty extracted pitches")
	}

	second := tunes[1]
	if second.Title != "Kesh Jig" {
		t.Errorf("title = %q, want %q", second.Title, "Kesh Jig")
	}
}

func TestDefaultParseEmptyBody(t *testing.T) {
	tunes, err := DefaultParse("")
	if err != nil {
		t.Fatalf("DefaultParse: %v", err)
	}
	if len(tunes) != 0 {
		t.Errorf("got %d tunes from empty body, want 0", len(tunes))
	}
}

func TestExtractPitchesSkipsNonNoteTokens(t *testing.T) {
	pitches := ExtractPitches("E2B BAB|dBA ABd|")
	if pitches == "" {
		t.Fatal("expected at least one extracted pitch")
	}
}
