package abctrawl

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"time"
)

// WorkFunc performs one unit of work and returns the outcome to report back,
// marshalled as json.RawMessage so Worker stays generic over the three
// concrete outcome types. Role-specific files (fetcher.go, parser.go,
// indexer.go) supply the WorkFunc for their role.
type WorkFunc func(ctx context.Context, rawWork json.RawMessage) (json.RawMessage, error)

// Worker is the shared connect/request/backoff skeleton every worker role
// (Fetcher, Parser, Indexer) runs, grounded on dankinder-walker's
// FetchManager run loop but generalized from a domain-claim poll into a
// REQUEST/ASSIGN round trip against the Dispatcher's socket (spec.md §4.3).
type Worker struct {
	Role WorkKind
	ID   string
	Addr string
	Do   WorkFunc
	Quit chan struct{}
}

// NewWorker builds a Worker for the given role, connecting to addr
// ("host:port") and executing do for each ASSIGN it receives.
func NewWorker(role WorkKind, id, addr string, do WorkFunc) *Worker {
	return &Worker{Role: role, ID: id, Addr: addr, Do: do, Quit: make(chan struct{})}
}

// Stop signals Run to exit after its current assignment (if any) completes.
func (w *Worker) Stop() { close(w.Quit) }

// Run connects to the Dispatcher and processes assignments until Stop is
// called; it returns only then. A SHUTDOWN from the Dispatcher ends the
// current connection like any disconnect, and Run does not exit on it. After
// a failed connect it retries with capped exponential backoff (spec.md §5),
// rather than exiting, so a Dispatcher restart does not require restarting
// every worker.
func (w *Worker) Run(ctx context.Context) error {
	backoff := time.Duration(Config.Worker.ReconnectBackoffMinMS) * time.Millisecond
	maxBackoff := time.Duration(Config.Worker.ReconnectBackoffMaxMS) * time.Millisecond

	for {
		select {
		case <-w.Quit:
			return nil
		default:
		}

		conn, err := net.DialTimeout("tcp", w.Addr, 10*time.Second)
		if err != nil {
			logger().Warn("%s %s: connect failed: %v, retrying in %v", w.Role, w.ID, err, backoff)
			if !sleepOrQuit(backoff, w.Quit) {
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		backoff = time.Duration(Config.Worker.ReconnectBackoffMinMS) * time.Millisecond
		if err := w.serve(ctx, conn); err != nil {
			logger().Warn("%s %s: connection ended: %v", w.Role, w.ID, err)
		}
		conn.Close()

		select {
		case <-w.Quit:
			return nil
		default:
		}
	}
}

func (w *Worker) serve(ctx context.Context, conn net.Conn) error {
	if err := EncodeMessage(conn, MsgHello, HelloPayload{Role: w.Role, ID: w.ID}); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}

	for {
		select {
		case <-w.Quit:
			return nil
		default:
		}

		if err := EncodeMessage(conn, MsgRequest, RequestPayload{}); err != nil {
			return fmt.Errorf("send REQUEST: %w", err)
		}

		env, err := DecodeMessage(conn)
		if err != nil {
			return fmt.Errorf("read reply: %w", err)
		}

		switch env.Type {
		case MsgIdle:
			var idle IdlePayload
			if err := json.Unmarshal(env.Payload, &idle); err != nil {
				return fmt.Errorf("bad IDLE payload: %w", err)
			}
			if !sleepOrQuit(time.Duration(idle.BackoffMS)*time.Millisecond, w.Quit) {
				return nil
			}

		case MsgAssign:
			var assign AssignPayload
			if err := json.Unmarshal(env.Payload, &assign); err != nil {
				return fmt.Errorf("bad ASSIGN payload: %w", err)
			}
			outcome, err := w.Do(ctx, assign.RawWork)
			if err != nil {
				logger().Error("%s %s: work failed: %v", w.Role, w.ID, err)
				continue
			}
			if err := EncodeMessage(conn, MsgResult, ResultPayload{
				AssignmentID: assign.AssignmentID,
				Kind:         assign.Kind,
				RawOutcome:   outcome,
			}); err != nil {
				return fmt.Errorf("send RESULT: %w", err)
			}

		case MsgShutdown:
			return nil

		default:
			return fmt.Errorf("unexpected message %s from dispatcher", env.Type)
		}
	}
}

func sleepOrQuit(d time.Duration, quit chan struct{}) bool {
	select {
	case <-time.After(d):
		return true
	case <-quit:
		return false
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		next = max
	}
	// add jitter so reconnecting workers don't all retry in lockstep
	jitter := time.Duration(rand.Int63n(int64(next)/4 + 1))
	return next + jitter
}
