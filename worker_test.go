package abctrawl

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"
)

// TestWorkerServeRoundTrip drives a Worker against an in-process net.Pipe
// standing in for the Dispatcher, exercising REQUEST -> ASSIGN -> RESULT and
// REQUEST -> SHUTDOWN without a real TCP listener.
func TestWorkerServeRoundTrip(t *testing.T) {
	SetDefaultConfig()
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()

	did := make(chan FetchWork, 1)
	do := func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var work FetchWork
		if err := json.Unmarshal(raw, &work); err != nil {
			return nil, err
		}
		did <- work
		return json.Marshal(FetchOutcome{HTTPStatus: 200})
	}

	w := NewWorker(WorkFetch, "fetcher-test", "", do)

	done := make(chan error, 1)
	go func() { done <- w.serve(context.Background(), clientConn) }()

	// Server side: read HELLO and REQUEST, reply with one ASSIGN, expect a
	// RESULT, then read the next REQUEST and answer it with SHUTDOWN.
	env, err := DecodeMessage(serverConn)
	if err != nil || env.Type != MsgHello {
		t.Fatalf("expected HELLO, got %+v err=%v", env, err)
	}

	env, err = DecodeMessage(serverConn)
	if err != nil || env.Type != MsgRequest {
		t.Fatalf("expected REQUEST, got %+v err=%v", env, err)
	}

	rawWork, _ := json.Marshal(FetchWork{URLID: 1, URL: "http://example.com/a.abc"})
	if err := EncodeMessage(serverConn, MsgAssign, AssignPayload{
		AssignmentID: "fetcher:1", Kind: WorkFetch, RawWork: rawWork,
	}); err != nil {
		t.Fatalf("send ASSIGN: %v", err)
	}

	select {
	case w := <-did:
		if w.URLID != 1 {
			t.Errorf("worker executed with URLID %d, want 1", w.URLID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker to execute assignment")
	}

	env, err = DecodeMessage(serverConn)
	if err != nil || env.Type != MsgResult {
		t.Fatalf("expected RESULT, got %+v err=%v", env, err)
	}
	var res ResultPayload
	if err := json.Unmarshal(env.Payload, &res); err != nil {
		t.Fatal(err)
	}
	if res.AssignmentID != "fetcher:1" {
		t.Errorf("result assignment id = %q, want fetcher:1", res.AssignmentID)
	}

	env, err = DecodeMessage(serverConn)
	if err != nil || env.Type != MsgRequest {
		t.Fatalf("expected second REQUEST, got %+v err=%v", env, err)
	}

	if err := EncodeMessage(serverConn, MsgShutdown, ShutdownPayload{}); err != nil {
		t.Fatalf("send SHUTDOWN: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("worker.serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after SHUTDOWN")
	}
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	max := 1000 * time.Millisecond
	cur := 900 * time.Millisecond
	for i := 0; i < 10; i++ {
		cur = nextBackoff(cur, max)
		if cur > max+max/4+time.Millisecond {
			t.Fatalf("backoff grew past max+jitter bound: %v", cur)
		}
	}
}
