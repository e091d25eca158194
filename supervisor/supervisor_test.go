package supervisor

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abctrawl/abctrawl/store"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func TestRoutesAreWellFormed(t *testing.T) {
	sup := newTestSupervisor(t)
	routes := sup.Routes()
	require.NotEmpty(t, routes)
	for _, r := range routes {
		assert.NotEmpty(t, r.Path)
		assert.NotEmpty(t, r.Methods, "route %s has no methods", r.Path)
		assert.NotNil(t, r.Handler, "route %s has a nil handler", r.Path)
	}
}

func TestHandleStatsEmptyStore(t *testing.T) {
	sup := newTestSupervisor(t)
	handler := sup.Handler()

	req := httptest.NewRequest("GET", "/stats", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code, w.Body.String())
}

func TestHandleListHostsEmptyStore(t *testing.T) {
	sup := newTestSupervisor(t)
	handler := sup.Handler()

	req := httptest.NewRequest("GET", "/hosts", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code, w.Body.String())
}

func TestHandleStartUnknownRole(t *testing.T) {
	sup := newTestSupervisor(t)
	handler := sup.Handler()

	req := httptest.NewRequest("POST", "/procs/bogus/1/start", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code, w.Body.String())
}

func TestHandleStopAllWithNothingRunning(t *testing.T) {
	sup := newTestSupervisor(t)
	handler := sup.Handler()

	req := httptest.NewRequest("POST", "/procs/stop-all", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code, w.Body.String())
}
