package abctrawl

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// ProtocolVersion is the version tag every framed message carries, per
// spec.md §9's redesign note: the worker socket uses a closed tagged-variant
// message set with a version field, and unknown tags/versions are rejected
// rather than silently ignored.
const ProtocolVersion = 1

// MaxMessageBytes bounds a single framed message, guarding the Dispatcher
// against a misbehaving worker sending an unbounded length prefix.
const MaxMessageBytes = 64 << 20 // 64MiB

// MessageType enumerates the closed set of worker<->dispatcher message kinds
// (spec.md §4.3).
type MessageType string

const (
	MsgHello    MessageType = "HELLO"
	MsgRequest  MessageType = "REQUEST"
	MsgResult   MessageType = "RESULT"
	MsgPing     MessageType = "PING"
	MsgAssign   MessageType = "ASSIGN"
	MsgIdle     MessageType = "IDLE"
	MsgShutdown MessageType = "SHUTDOWN"
)

// Envelope is the length-framed JSON message exchanged on the worker socket.
// Every message, in either direction, is wrapped in an Envelope so framing and
// dispatch-by-tag stay uniform; Payload is re-decoded into the concrete type
// matching Type.
type Envelope struct {
	V       int             `json:"v"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload is sent once, as the first message on a new connection, to
// declare the connection's worker role and a stable worker id.
type HelloPayload struct {
	Role WorkKind `json:"role"`
	ID   string   `json:"id"`
}

// RequestPayload asks the Dispatcher for the next assignment. It carries no
// fields; it exists so REQUEST round-trips through the same Envelope shape as
// every other message.
type RequestPayload struct{}

// PingPayload is a keepalive; the Dispatcher does not reply to it beyond
// normal TCP-level liveness (no application-level PONG is specified).
type PingPayload struct{}

// ResultPayload reports the outcome of the most recently issued assignment.
// Outcome is one of FetchOutcome, ParseOutcome or IndexOutcome depending on
// the assignment's Kind, re-marshalled through RawOutcome.
type ResultPayload struct {
	AssignmentID string          `json:"assignment_id"`
	Kind         WorkKind        `json:"kind"`
	RawOutcome   json.RawMessage `json:"outcome"`
}

// AssignPayload is the Dispatcher's grant of exactly one unit of work to a
// worker connection. Payload is the Kind-specific work description: a URL for
// fetchers, the URL plus its fetched body inlined for parsers, or a
// Tunebook's tune rows for indexers. The parser body is inlined so the parser
// needs no second store round trip.
type AssignPayload struct {
	AssignmentID string          `json:"assignment_id"`
	Kind         WorkKind        `json:"kind"`
	RawWork      json.RawMessage `json:"payload"`
}

// FetchWork is the payload of an AssignPayload with Kind == WorkFetch.
type FetchWork struct {
	URLID int64  `json:"url_id"`
	URL   string `json:"url"`
}

// ParseWork is the payload of an AssignPayload with Kind == WorkParse.
type ParseWork struct {
	URLID   int64  `json:"url_id"`
	URL     string `json:"url"`
	Body    string `json:"body"`
	HasBody bool   `json:"has_body"`
}

// IndexWork is the payload of an AssignPayload with Kind == WorkIndex.
type IndexWork struct {
	TunebookID int64          `json:"tunebook_id"`
	Tunes      []TuneForIndex `json:"tunes"`
}

// TuneForIndex is the subset of Tune fields an Indexer needs to compute an
// interval vector.
type TuneForIndex struct {
	TuneID  int64  `json:"tune_id"`
	Pitches string `json:"pitches"`
}

// IdlePayload tells a worker there is no eligible work right now and how long
// to wait before asking again.
type IdlePayload struct {
	BackoffMS int `json:"backoff_ms"`
}

// ShutdownPayload ends the connection: Worker.serve returns on it and the
// connection is closed. Worker.Run then reconnects unless Stop was called.
type ShutdownPayload struct{}

// EncodeMessage wraps v in an Envelope of the given type and writes it to w as
// one length-prefixed frame: a 4-byte big-endian length followed by the JSON
// body (spec.md §4.3).
func EncodeMessage(w io.Writer, typ MessageType, v interface{}) error {
	var raw json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", typ, err)
		}
		raw = b
	}
	env := Envelope{V: ProtocolVersion, Type: typ, Payload: raw}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if len(body) > MaxMessageBytes {
		return fmt.Errorf("encoded message of %d bytes exceeds MaxMessageBytes", len(body))
	}

	var lenbuf [4]byte
	binary.BigEndian.PutUint32(lenbuf[:], uint32(len(body)))
	if _, err := w.Write(lenbuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// DecodeMessage reads one length-prefixed frame from r and unmarshals its
// Envelope. Callers inspect Type and then unmarshal Payload into the concrete
// struct they expect. An envelope whose V does not match ProtocolVersion, or
// whose Type is not one of the known MessageTypes, is rejected — the closed
// tagged-variant set spec.md §9 calls for.
func DecodeMessage(r io.Reader) (Envelope, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(r, lenbuf[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenbuf[:])
	if n > MaxMessageBytes {
		return Envelope{}, fmt.Errorf("incoming message of %d bytes exceeds MaxMessageBytes", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.V != ProtocolVersion {
		return Envelope{}, fmt.Errorf("unsupported protocol version %d", env.V)
	}
	switch env.Type {
	case MsgHello, MsgRequest, MsgResult, MsgPing, MsgAssign, MsgIdle, MsgShutdown:
	default:
		return Envelope{}, fmt.Errorf("unknown message type %q", env.Type)
	}
	return env, nil
}
