// Package supervisor exposes the HTTP control surface for starting, stopping
// and inspecting abctrawl's worker processes, the generalization of
// dankinder-walker/console's gorilla/mux + unrolled/render REST surface
// (console/rest.go, console/controllers.go) from a domain/link CRUD API into
// a process-control and host-policy API.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/unrolled/render"

	"github.com/abctrawl/abctrawl"
	"github.com/abctrawl/abctrawl/store"
)

// render_ is the package-level renderer every handler writes through,
// following console/rendering.go's single global Render instance.
var render_ = render.New(render.Options{IndentJSON: true})

// sessionStore backs a short-lived flash message (the last action a client
// performed) cookie, following console/rendering.go's use of gorilla/sessions
// for UI state that doesn't belong in the database.
var sessionStore = sessions.NewCookieStore([]byte("abctrawl-supervisor-flash"))

const flashSessionName = "abctrawl-flash"

// runningWorker tracks an in-process worker the supervisor started, so Stop
// can cancel it without restarting the whole supervisor process.
type runningWorker struct {
	worker *abctrawl.Worker
	role   abctrawl.WorkKind
	id     string
}

// Supervisor owns the set of workers it has started in-process and the store
// handle workers and the dispatcher share.
type Supervisor struct {
	st *store.Store

	mu      sync.Mutex
	running map[string]*runningWorker // key: role/id
}

// New builds a Supervisor bound to st.
func New(st *store.Store) *Supervisor {
	return &Supervisor{st: st, running: map[string]*runningWorker{}}
}

func procKey(role abctrawl.WorkKind, id string) string {
	return string(role) + "/" + id
}

// Routes returns the supervisor's route table. Kept as a slice of (path,
// methods, handler) rather than wiring mux directly, so tests can enumerate
// routes without standing up a listener — the same shape as
// console/controllers.go's Route/Routes().
type Route struct {
	Path    string
	Methods []string
	Handler http.HandlerFunc
}

func (s *Supervisor) Routes() []Route {
	return []Route{
		{Path: "/procs", Methods: []string{"GET"}, Handler: s.handleListProcs},
		{Path: "/procs/{role}/{id}/start", Methods: []string{"POST"}, Handler: s.handleStart},
		{Path: "/procs/{role}/{id}/stop", Methods: []string{"POST"}, Handler: s.handleStop},
		{Path: "/procs/stop-all", Methods: []string{"POST"}, Handler: s.handleStopAll},
		{Path: "/hosts", Methods: []string{"GET"}, Handler: s.handleListHosts},
		{Path: "/hosts/{host}/disable", Methods: []string{"POST"}, Handler: s.handleDisableHost},
		{Path: "/hosts/{host}/enable", Methods: []string{"POST"}, Handler: s.handleEnableHost},
		{Path: "/stats", Methods: []string{"GET"}, Handler: s.handleStats},
	}
}

// Handler builds the gorilla/mux router serving every Route.
func (s *Supervisor) Handler() http.Handler {
	r := mux.NewRouter()
	for _, route := range s.Routes() {
		r.HandleFunc(route.Path, route.Handler).Methods(route.Methods...)
	}
	return r
}

// ListenAndServe starts the HTTP server on addr.
func (s *Supervisor) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.Handler())
}

type errorResponse struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func renderError(w http.ResponseWriter, status int, tag, format string, args ...interface{}) {
	render_.JSON(w, status, errorResponse{Tag: tag, Message: fmt.Sprintf(format, args...)})
}

func (s *Supervisor) handleListProcs(w http.ResponseWriter, req *http.Request) {
	procs, err := s.st.ListProcesses(req.Context())
	if err != nil {
		renderError(w, http.StatusInternalServerError, "list-processes-failed", "%v", err)
		return
	}
	render_.JSON(w, http.StatusOK, procs)
}

func validRole(role string) bool {
	switch abctrawl.WorkKind(role) {
	case abctrawl.WorkFetch, abctrawl.WorkParse, abctrawl.WorkIndex:
		return true
	default:
		return false
	}
}

func (s *Supervisor) handleStart(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	role, id := vars["role"], vars["id"]
	if !validRole(role) {
		renderError(w, http.StatusBadRequest, "unknown-role", "unknown worker role %q", role)
		return
	}

	key := procKey(abctrawl.WorkKind(role), id)
	s.mu.Lock()
	if _, alreadyRunning := s.running[key]; alreadyRunning {
		s.mu.Unlock()
		renderError(w, http.StatusConflict, "already-running", "%s %s is already running", role, id)
		return
	}

	do, err := workFuncForRole(abctrawl.WorkKind(role))
	if err != nil {
		s.mu.Unlock()
		renderError(w, http.StatusInternalServerError, "worker-setup-failed", "%v", err)
		return
	}

	addr := fmt.Sprintf("127.0.0.1:%d", abctrawl.Config.DispatcherPort)
	worker := abctrawl.NewWorker(abctrawl.WorkKind(role), id, addr, do)
	s.running[key] = &runningWorker{worker: worker, role: abctrawl.WorkKind(role), id: id}
	s.mu.Unlock()

	go worker.Run(context.Background())

	now := time.Now()
	if err := s.st.UpsertProcess(req.Context(), store.Process{
		Role: role, ID: id, PID: os.Getpid(), Status: "running", StartedAt: &now,
	}); err != nil {
		renderError(w, http.StatusInternalServerError, "persist-process-failed", "%v", err)
		return
	}

	setFlash(w, req, fmt.Sprintf("started %s %s", role, id))
	render_.JSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Supervisor) handleStop(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	role, id := vars["role"], vars["id"]
	key := procKey(abctrawl.WorkKind(role), id)

	s.mu.Lock()
	rw, ok := s.running[key]
	if ok {
		delete(s.running, key)
	}
	s.mu.Unlock()

	if !ok {
		renderError(w, http.StatusNotFound, "not-running", "%s %s is not running", role, id)
		return
	}
	rw.worker.Stop()

	if err := s.st.UpsertProcess(req.Context(), store.Process{Role: role, ID: id, Status: "stopped"}); err != nil {
		renderError(w, http.StatusInternalServerError, "persist-process-failed", "%v", err)
		return
	}

	setFlash(w, req, fmt.Sprintf("stopped %s %s", role, id))
	render_.JSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Supervisor) handleStopAll(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	workers := make([]*runningWorker, 0, len(s.running))
	for k, rw := range s.running {
		workers = append(workers, rw)
		delete(s.running, k)
	}
	s.mu.Unlock()

	for _, rw := range workers {
		rw.worker.Stop()
		if err := s.st.UpsertProcess(req.Context(), store.Process{Role: string(rw.role), ID: rw.id, Status: "stopped"}); err != nil {
			renderError(w, http.StatusInternalServerError, "persist-process-failed", "%v", err)
			return
		}
	}

	setFlash(w, req, fmt.Sprintf("stopped %d workers", len(workers)))
	render_.JSON(w, http.StatusOK, map[string]int{"stopped": len(workers)})
}

func (s *Supervisor) handleListHosts(w http.ResponseWriter, req *http.Request) {
	hosts, err := s.st.ListHosts(req.Context())
	if err != nil {
		renderError(w, http.StatusInternalServerError, "list-hosts-failed", "%v", err)
		return
	}
	render_.JSON(w, http.StatusOK, hosts)
}

type disableHostRequest struct {
	Reason string `json:"reason"`
}

func (s *Supervisor) handleDisableHost(w http.ResponseWriter, req *http.Request) {
	host := mux.Vars(req)["host"]
	var body disableHostRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		renderError(w, http.StatusBadRequest, "bad-json-decode", "%v", err)
		return
	}
	if body.Reason == "" {
		body.Reason = abctrawl.DisabledManual
	}
	if err := s.st.DisableHost(req.Context(), host, body.Reason, time.Now()); err != nil {
		renderError(w, http.StatusInternalServerError, "disable-host-failed", "%v", err)
		return
	}
	setFlash(w, req, fmt.Sprintf("disabled host %s", host))
	render_.JSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (s *Supervisor) handleEnableHost(w http.ResponseWriter, req *http.Request) {
	host := mux.Vars(req)["host"]
	if err := s.st.EnableHost(req.Context(), host); err != nil {
		renderError(w, http.StatusInternalServerError, "enable-host-failed", "%v", err)
		return
	}
	setFlash(w, req, fmt.Sprintf("enabled host %s", host))
	render_.JSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (s *Supervisor) handleStats(w http.ResponseWriter, req *http.Request) {
	stats, err := s.st.Stats(req.Context())
	if err != nil {
		renderError(w, http.StatusInternalServerError, "stats-failed", "%v", err)
		return
	}
	render_.JSON(w, http.StatusOK, stats)
}

func setFlash(w http.ResponseWriter, req *http.Request, message string) {
	session, err := sessionStore.Get(req, flashSessionName)
	if err != nil {
		return
	}
	session.AddFlash(message)
	session.Save(req, w)
}

func workFuncForRole(role abctrawl.WorkKind) (abctrawl.WorkFunc, error) {
	switch role {
	case abctrawl.WorkFetch:
		client, err := abctrawl.NewDefaultFetchClient(8, "abctrawlbot/1.0")
		if err != nil {
			return nil, err
		}
		return abctrawl.FetchWorkFunc(client), nil
	case abctrawl.WorkParse:
		return abctrawl.ParseWorkFunc(abctrawl.DefaultParse), nil
	case abctrawl.WorkIndex:
		return abctrawl.IndexWorkFunc(abctrawl.DefaultIndex), nil
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
}
