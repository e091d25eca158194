// Package abctrawl crawls the open web for ABC music-notation documents,
// computes transposition-invariant pitch-interval fingerprints for the tunes
// it finds, and keeps a nearest-neighbor index of them searchable.
//
// This package holds the data model and the Dispatcher: the single process
// that owns all scheduling decisions over the crawl's URL/Host/Tunebook/Tune
// state. Fetcher, Parser and Indexer are stateless worker roles that connect
// to the Dispatcher over a local socket (see protocol.go) and process one
// assignment at a time.
package abctrawl

import "time"

// URLStatus is the crawl-state of a URL. The zero value ("") is the "new"
// status, matching the teacher's convention of using the empty string for the
// initial/default state of a row.
type URLStatus string

// The URL status vocabulary. A URL's Status is always exactly one of these.
const (
	StatusNew        URLStatus = ""
	StatusDispatched URLStatus = "dispatched"
	StatusFetched    URLStatus = "fetched"
	StatusParsing    URLStatus = "parsing"
	StatusParsed     URLStatus = "parsed"
	StatusIndexing   URLStatus = "indexing"
	StatusIndexed    URLStatus = "indexed"
	StatusError      URLStatus = "error"
)

// InFlight returns true if s is one of the statuses the liveness sweep and
// startup recovery are responsible for reclaiming.
func (s URLStatus) InFlight() bool {
	switch s {
	case StatusDispatched, StatusParsing, StatusIndexing:
		return true
	default:
		return false
	}
}

// Host-disabled reasons.
const (
	DisabledDNS     = "dns"
	DisabledTimeout = "timeout"
	DisabledManual  = "manual"
)

// ErasedDocument is the tombstone sentinel historically stored in URL.Document
// after a cleanup pass. Document stays a single overloaded column rather than
// a payload column plus an `erased` boolean. Nothing in this core writes the
// sentinel; the Dispatcher inlines Document as the parser's body, so an erased
// row would reach the parser as the literal text "erased".
const ErasedDocument = "erased"

// WorkKind identifies which worker role an assignment or claim is for.
type WorkKind string

const (
	WorkFetch WorkKind = "fetcher"
	WorkParse WorkKind = "parser"
	WorkIndex WorkKind = "indexer"
)

// URL is one row of the urls table: a single crawl target and everything the
// Dispatcher knows about its progress through the state machine in spec.md
// §4.4.
type URL struct {
	ID           int64
	URL          string
	Host         string
	CreatedAt    time.Time
	Status       URLStatus
	Retries      int
	DispatchedAt *time.Time
	DownloadedAt *time.Time
	MimeType     string
	HTTPStatus   int
	SizeBytes    int64
	Document     string
	HasABC       bool
	URLExtension string
	LinkDistance int
}

// Host is one row of the hosts table: the per-host politeness and
// fault-tolerance state consulted by the host policy (§4.2).
type Host struct {
	Host           string
	LastAccess     time.Time
	LastHTTPStatus int
	Downloads      int
	Disabled       bool
	DisabledReason string
	DisabledAt     *time.Time
}

// Tunebook is the set of tunes parsed out of one source URL.
type Tunebook struct {
	ID        int64
	URL       string
	Status    string // new, indexing, indexed
	CreatedAt time.Time
}

const (
	TunebookNew      = "new"
	TunebookIndexing = "indexing"
	TunebookIndexed  = "indexed"
)

// Tune is one piece within a Tunebook.
type Tune struct {
	ID         int64
	TunebookID int64
	Title      string
	Composer   string
	Key        string
	Rhythm     string
	TuneBody   string
	Pitches    string // comma-separated ABC note tokens (see ExtractPitches), not MIDI numbers
	Intervals  string // comma-separated semitone deltas, length 32
}

// IntervalVectorLength is the fixed length of a tune's transposition-invariant
// interval vector (spec.md GLOSSARY).
const IntervalVectorLength = 32

// FetchOutcome is the result a Fetcher reports back for one URL assignment.
type FetchOutcome struct {
	HTTPStatus int
	MimeType   string
	SizeBytes  int64
	Body       string
	Links      []string
	Error      string // "", or one of the FetchError* kinds below
}

// Fetch error kinds a Fetcher may report. The Dispatcher branches on these to
// decide retry vs. terminal vs. host-disabling behavior (spec.md §7).
const (
	FetchErrTransient = "transient" // timeout, reset, 5xx
	FetchErrDNS       = "dns"       // resolution failure, disables the host
	FetchErrHTTP4xx   = "http4xx"   // terminal, no retry, does not blame host
)

// ParsedTune is one tune a Parser extracted from a document.
type ParsedTune struct {
	Title    string
	Composer string
	Key      string
	Rhythm   string
	TuneBody string
	Pitches  string
}

// ParseOutcome is the result a Parser reports back for one URL assignment.
type ParseOutcome struct {
	Tunes []ParsedTune
	Error string
}

// IndexOutcome is the result an Indexer reports back for one Tunebook
// assignment: the computed interval vector for each of its tunes.
type IndexOutcome struct {
	IntervalsByTune map[int64]string
	Error           string
}
