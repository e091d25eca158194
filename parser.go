package abctrawl

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseFunc extracts tunes out of a fetched document. It is the "opaque
// function" collaborator spec.md §1 delegates ABC parsing to; DefaultParse is
// a concrete ABC-notation implementation this repo ships, grounded in the
// regex-scanning style of dankinder-walker/parse.go's tag extraction (applied
// here to ABC header fields instead of HTML tags).
type ParseFunc func(body string) ([]ParsedTune, error)

// abcHeaderLine matches an ABC information field: a single letter of either
// case, a colon, and its value (the "X:", "T:", "C:", "K:" etc. lines of the ABC
// notation standard).
var abcHeaderLine = regexp.MustCompile(`^([A-Za-z]):\s*(.*)$`)

// DefaultParse splits body on ABC tune headers ("X:" lines, which number each
// tune within a tunebook) and extracts the header fields plus the tune body
// lines into a ParsedTune. It does not validate ABC grammar; anything that
// fails to produce at least a tune body is skipped rather than erroring the
// whole document, so one malformed tune in a tunebook does not lose the rest.
func DefaultParse(body string) ([]ParsedTune, error) {
	var tunes []ParsedTune
	var cur *ParsedTune
	var bodyLines []string

	flush := func() {
		if cur == nil {
			return
		}
		cur.TuneBody = strings.Join(bodyLines, "\n")
		cur.Pitches = ExtractPitches(cur.TuneBody)
		if strings.TrimSpace(cur.TuneBody) != "" {
			tunes = append(tunes, *cur)
		}
		cur = nil
		bodyLines = nil
	}

	for _, line := range strings.Split(body, "\n") {
		m := abcHeaderLine.FindStringSubmatch(line)
		if m == nil {
			if cur != nil {
				bodyLines = append(bodyLines, line)
			}
			continue
		}
		field, value := strings.ToUpper(m[1]), strings.TrimSpace(m[2])

		if field == "X" {
			flush()
			cur = &ParsedTune{}
			continue
		}
		if cur == nil {
			continue
		}
		switch field {
		case "T":
			if cur.Title == "" {
				cur.Title = value
			} else {
				cur.Title += " / " + value // ABC allows multiple T: lines
			}
		case "C":
			cur.Composer = value
		case "K":
			cur.Key = value
		case "R":
			cur.Rhythm = value
		default:
			bodyLines = append(bodyLines, line)
		}
	}
	flush()

	return tunes, nil
}

// abcNote matches one ABC pitch letter with its optional accidental and
// octave marks, e.g. "^c'" or "_B,,". Rests, bar lines, and decorations are
// not notes and are skipped.
var abcNote = regexp.MustCompile(`[\^_=]?[A-Ga-g][',]*`)

// ExtractPitches pulls the note tokens (letter plus any accidental and octave
// marks) out of a tune body as a comma-separated string, the raw material
// DefaultIndex turns into an interval vector. It is intentionally lossy (no rhythm, no octave-accurate
// MIDI mapping) since the only downstream consumer needs relative pitch
// movement, not full transcription.
func ExtractPitches(tuneBody string) string {
	matches := abcNote.FindAllString(tuneBody, -1)
	return strings.Join(matches, ",")
}

// ParseWorkFunc adapts a ParseFunc into a WorkFunc for the Parser role's
// Worker loop.
func ParseWorkFunc(parse ParseFunc) WorkFunc {
	return func(ctx context.Context, rawWork json.RawMessage) (json.RawMessage, error) {
		var work ParseWork
		if err := json.Unmarshal(rawWork, &work); err != nil {
			return nil, fmt.Errorf("unmarshal parse work: %w", err)
		}
		if !work.HasBody {
			return json.Marshal(ParseOutcome{Error: "no body to parse"})
		}
		tunes, err := parse(work.Body)
		if err != nil {
			return json.Marshal(ParseOutcome{Error: err.Error()})
		}
		return json.Marshal(ParseOutcome{Tunes: tunes})
	}
}
