package abctrawl

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := HelloPayload{Role: WorkFetch, ID: "fetcher-1"}
	if err := EncodeMessage(&buf, MsgHello, want); err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, err := DecodeMessage(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != MsgHello {
		t.Fatalf("got type %s, want %s", env.Type, MsgHello)
	}
	var got HelloPayload
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	env := Envelope{V: ProtocolVersion, Type: "BOGUS"}
	body, _ := json.Marshal(env)
	var lenbuf [4]byte
	lenbuf[3] = byte(len(body))
	buf.Write(lenbuf[:])
	buf.Write(body)

	if _, err := DecodeMessage(&buf); err == nil {
		t.Error("expected an error decoding an unknown message type")
	}
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	var buf bytes.Buffer
	env := Envelope{V: ProtocolVersion + 1, Type: MsgPing}
	body, _ := json.Marshal(env)
	var lenbuf [4]byte
	lenbuf[3] = byte(len(body))
	buf.Write(lenbuf[:])
	buf.Write(body)

	if _, err := DecodeMessage(&buf); err == nil {
		t.Error("expected an error decoding a mismatched protocol version")
	}
}

func TestEncodeDecodeAssignFetchWork(t *testing.T) {
	var buf bytes.Buffer
	work := FetchWork{URLID: 42, URL: "http://example.com/tune.abc"}
	raw, err := json.Marshal(work)
	if err != nil {
		t.Fatal(err)
	}
	assign := AssignPayload{AssignmentID: "fetcher:42", Kind: WorkFetch, RawWork: raw}
	if err := EncodeMessage(&buf, MsgAssign, assign); err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, err := DecodeMessage(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var gotAssign AssignPayload
	if err := json.Unmarshal(env.Payload, &gotAssign); err != nil {
		t.Fatal(err)
	}
	var gotWork FetchWork
	if err := json.Unmarshal(gotAssign.RawWork, &gotWork); err != nil {
		t.Fatal(err)
	}
	if gotWork != work {
		t.Errorf("got %+v, want %+v", gotWork, work)
	}
}
