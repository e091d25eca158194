package abctrawl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// dispatchStore is the subset of *store.Store the Dispatcher needs. Defining
// it as an interface (rather than depending on *store.Store directly) keeps
// the scheduler testable against a fake in the dispatcher tests, the same
// separation dankinder-walker draws between its Dispatcher and Datastore
// interfaces.
type dispatchStore interface {
	ClaimNextURL(ctx context.Context, kind WorkKind, now time.Time, cooldown time.Duration) (*URL, error)
	ClaimNextTunebook(ctx context.Context, now time.Time) (*Tunebook, []Tune, error)
	ApplyFetchResult(ctx context.Context, urlID int64, out FetchOutcome, now time.Time) error
	ApplyParseResult(ctx context.Context, urlID int64, out ParseOutcome, now time.Time) error
	ApplyIndexResult(ctx context.Context, tunebookID int64, out IndexOutcome, now time.Time) error
	ReleaseStuck(ctx context.Context, now time.Time, ttl time.Duration) (int, error)
	ResetOnStartup(ctx context.Context) (int, error)
	DisableHost(ctx context.Context, host, reason string, now time.Time) error
}

// Dispatcher is the single process that owns every scheduling decision over
// the crawl. It accepts worker connections on a TCP socket (spec.md §4.3),
// hands out one assignment per REQUEST, applies RESULTs through the store,
// and runs a periodic liveness sweep to reclaim stuck in-flight rows. It is
// not a single scheduling loop: each worker connection is served on its own
// goroutine, alongside the sweep and log-scan goroutines, so claims and
// result applications from different connections run concurrently. All
// correctness here rests on the store's transaction semantics rather than on
// any in-process mutex.
type Dispatcher struct {
	Store  dispatchStore
	Policy *HostPolicy

	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup

	logScanOffset int64

	clockNow func() time.Time // overridable for tests
}

// NewDispatcher builds a Dispatcher bound to st.
func NewDispatcher(st dispatchStore) *Dispatcher {
	return &Dispatcher{
		Store:    st,
		Policy:   NewHostPolicy(),
		quit:     make(chan struct{}),
		clockNow: time.Now,
	}
}

func (d *Dispatcher) now() time.Time {
	if d.clockNow != nil {
		return d.clockNow()
	}
	return time.Now()
}

// Start performs startup recovery, opens the listener, and begins accepting
// worker connections and running the liveness sweep. It does not block: the
// accept loop and sweeps run on background goroutines until Stop is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	n, err := d.Store.ResetOnStartup(ctx)
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	if n > 0 {
		logger().Info("Startup recovery reclaimed %d in-flight urls", n)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", Config.DispatcherPort))
	if err != nil {
		return fmt.Errorf("listen on dispatcher port: %w", err)
	}
	d.listener = ln

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sweepLoop(ctx)
	}()

	if Config.LogScanPath != "" {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.logScanLoop(ctx)
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.acceptLoop(ctx)
	}()

	return nil
}

// Stop closes the listener and waits for the accept and sweep loops to exit.
// Connected workers observe the closed connection and are responsible for
// their own graceful shutdown (spec.md §5).
func (d *Dispatcher) Stop() {
	close(d.quit)
	if d.listener != nil {
		d.listener.Close()
	}
	d.wg.Wait()
}

func (d *Dispatcher) acceptLoop(ctx context.Context) {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.quit:
				return
			default:
				logger().Error("accept error: %v", err)
				return
			}
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.serveConn(ctx, conn)
		}()
	}
}

// sweepLoop runs the periodic liveness sweep (spec.md §5): any URL whose
// in-flight status has outlived the configured TTL is reverted to its
// pre-claim status, without touching its retry count.
func (d *Dispatcher) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(Config.LivenessSweepSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
			n, err := d.Store.ReleaseStuck(ctx, d.now(), InflightTTL())
			if err != nil {
				logger().Error("liveness sweep failed: %v", err)
				continue
			}
			if n > 0 {
				logger().Info("liveness sweep reclaimed %d urls", n)
			}
		}
	}
}

// dnsLogSignature matches the fixed-format line Fetcher logs on a DNS
// resolution failure (see fetcher.go's Fetch). Advisory and best-effort: it is
// a fallback for DNS failures whose RESULT never reaches the Dispatcher, not
// the primary reporting path.
var dnsLogSignature = regexp.MustCompile(`DNS resolution failed host=(\S+)`)

// logScanLoop periodically tails Config.LogScanPath for dnsLogSignature lines
// and disables each matched host, reason "dns" (spec.md §4.4's "Host-disable
// sweep from logs"). It is idempotent: disabling an already-disabled host is
// a no-op as far as observable state goes.
func (d *Dispatcher) logScanLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(Config.LogScanIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
			if err := d.scanLogOnce(ctx); err != nil {
				logger().Error("log scan failed: %v", err)
			}
		}
	}
}

func (d *Dispatcher) scanLogOnce(ctx context.Context) error {
	f, err := os.Open(Config.LogScanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < d.logScanOffset {
		// File was truncated or rotated out from under us; start over.
		d.logScanOffset = 0
	}
	if _, err := f.Seek(d.logScanOffset, 0); err != nil {
		return err
	}

	scanner := bufio.NewScanner(f)
	seen := map[string]bool{}
	for scanner.Scan() {
		m := dnsLogSignature.FindStringSubmatch(scanner.Text())
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		if err := d.Store.DisableHost(ctx, m[1], DisabledDNS, d.now()); err != nil {
			logger().Error("log scan: disable host %s: %v", m[1], err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	d.logScanOffset = info.Size()
	return nil
}

// serveConn handles one worker connection end to end: HELLO, then a
// REQUEST/ASSIGN-or-IDLE/RESULT loop until the connection closes or the
// Dispatcher is stopping.
func (d *Dispatcher) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	env, err := DecodeMessage(conn)
	if err != nil {
		logger().Debug("worker handshake failed: %v", err)
		return
	}
	if env.Type != MsgHello {
		logger().Debug("expected HELLO, got %s", env.Type)
		return
	}
	var hello HelloPayload
	if err := decodePayload(env, &hello); err != nil {
		logger().Debug("bad HELLO payload: %v", err)
		return
	}
	logger().Info("worker %s (%s) connected", hello.ID, hello.Role)

	for {
		select {
		case <-d.quit:
			EncodeMessage(conn, MsgShutdown, ShutdownPayload{})
			return
		default:
		}

		env, err := DecodeMessage(conn)
		if err != nil {
			return
		}

		switch env.Type {
		case MsgRequest:
			d.handleRequest(ctx, conn, hello.Role)
		case MsgResult:
			var res ResultPayload
			if err := decodePayload(env, &res); err != nil {
				logger().Debug("bad RESULT payload: %v", err)
				return
			}
			d.handleResult(ctx, res)
		case MsgPing:
			// No application-level reply; the read loop itself is the
			// liveness signal.
		default:
			logger().Debug("unexpected message %s from worker", env.Type)
			return
		}
	}
}

func decodePayload(env Envelope, v interface{}) error {
	if len(env.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(env.Payload, v)
}

func (d *Dispatcher) handleRequest(ctx context.Context, conn net.Conn, role WorkKind) {
	now := d.now()

	switch role {
	case WorkFetch, WorkParse:
		u, err := d.Store.ClaimNextURL(ctx, role, now, d.Policy.Cooldown)
		if err != nil {
			logger().Error("claim failed for %s: %v", role, err)
			EncodeMessage(conn, MsgIdle, IdlePayload{BackoffMS: Config.Worker.IdleBackoffMaxMS})
			return
		}
		if u == nil {
			EncodeMessage(conn, MsgIdle, IdlePayload{BackoffMS: idleBackoff()})
			return
		}
		var raw []byte
		var payloadErr error
		switch role {
		case WorkFetch:
			raw, payloadErr = json.Marshal(FetchWork{URLID: u.ID, URL: u.URL})
		case WorkParse:
			raw, payloadErr = json.Marshal(ParseWork{URLID: u.ID, URL: u.URL, Body: u.Document, HasBody: u.Document != ""})
		}
		if payloadErr != nil {
			logger().Error("marshal work payload: %v", payloadErr)
			return
		}
		EncodeMessage(conn, MsgAssign, AssignPayload{
			AssignmentID: assignmentID(role, u.ID),
			Kind:         role,
			RawWork:      raw,
		})

	case WorkIndex:
		tb, tunes, err := d.Store.ClaimNextTunebook(ctx, now)
		if err != nil {
			logger().Error("claim failed for indexer: %v", err)
			EncodeMessage(conn, MsgIdle, IdlePayload{BackoffMS: Config.Worker.IdleBackoffMaxMS})
			return
		}
		if tb == nil {
			EncodeMessage(conn, MsgIdle, IdlePayload{BackoffMS: idleBackoff()})
			return
		}
		work := IndexWork{TunebookID: tb.ID}
		for _, t := range tunes {
			work.Tunes = append(work.Tunes, TuneForIndex{TuneID: t.ID, Pitches: t.Pitches})
		}
		raw, err := json.Marshal(work)
		if err != nil {
			logger().Error("marshal index work: %v", err)
			return
		}
		EncodeMessage(conn, MsgAssign, AssignPayload{
			AssignmentID: assignmentID(role, tb.ID),
			Kind:         role,
			RawWork:      raw,
		})

	default:
		EncodeMessage(conn, MsgIdle, IdlePayload{BackoffMS: Config.Worker.IdleBackoffMaxMS})
	}
}

func (d *Dispatcher) handleResult(ctx context.Context, res ResultPayload) {
	now := d.now()
	id, err := parseAssignmentID(res.AssignmentID)
	if err != nil {
		logger().Error("bad assignment id %q: %v", res.AssignmentID, err)
		return
	}
	if kind, _, _ := strings.Cut(res.AssignmentID, ":"); WorkKind(kind) != res.Kind {
		logger().Error("assignment id %q does not match result kind %s", res.AssignmentID, res.Kind)
		return
	}

	switch res.Kind {
	case WorkFetch:
		var out FetchOutcome
		if err := json.Unmarshal(res.RawOutcome, &out); err != nil {
			logger().Error("bad fetch outcome: %v", err)
			return
		}
		if err := d.Store.ApplyFetchResult(ctx, id, out, now); err != nil {
			logger().Error("apply fetch result: %v", err)
		}
	case WorkParse:
		var out ParseOutcome
		if err := json.Unmarshal(res.RawOutcome, &out); err != nil {
			logger().Error("bad parse outcome: %v", err)
			return
		}
		if err := d.Store.ApplyParseResult(ctx, id, out, now); err != nil {
			logger().Error("apply parse result: %v", err)
		}
	case WorkIndex:
		var out IndexOutcome
		if err := json.Unmarshal(res.RawOutcome, &out); err != nil {
			logger().Error("bad index outcome: %v", err)
			return
		}
		if err := d.Store.ApplyIndexResult(ctx, id, out, now); err != nil {
			logger().Error("apply index result: %v", err)
		}
	}
}

// assignmentID ties a claimed row's id to its WorkKind so handleResult can
// validate the RESULT's Kind matches what was assigned without a separate
// in-memory assignment table; the Dispatcher stays stateless between
// REQUEST/RESULT pairs beyond what the store itself tracks.
func assignmentID(kind WorkKind, id int64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

func parseAssignmentID(s string) (int64, error) {
	_, idPart, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("malformed assignment id %q", s)
	}
	return strconv.ParseInt(idPart, 10, 64)
}

// idleBackoff returns a jittered backoff within the configured idle window,
// so many idle workers polling the same Dispatcher don't thunder together.
func idleBackoff() int {
	lo, hi := Config.Worker.IdleBackoffMinMS, Config.Worker.IdleBackoffMaxMS
	if hi <= lo {
		return lo
	}
	return lo + rand.Intn(hi-lo)
}
