package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/abctrawl/abctrawl"
)

// newMockStore wires a go-sqlmock connection into a *Store the same way
// ryansgi-swearjar's repo tests drive database/sql through sqlmock: the
// Store's exported methods are exercised against expectation-ordered
// ExpectBegin/ExpectQuery/ExpectExec/ExpectCommit calls rather than a live
// database.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}, mock
}

func TestClaimNextURLHappyPath(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT u\.id FROM urls u`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(`UPDATE urls SET status = \?, dispatched_at = \?`).
		WithArgs(string(abctrawl.StatusDispatched), now, int64(7), string(abctrawl.StatusNew)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO hosts`).
		WithArgs(int64(7), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, url, host, created_at`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "url", "host", "created_at", "status", "retries", "dispatched_at", "downloaded_at",
			"mime_type", "http_status", "size_bytes", "document", "has_abc", "url_extension", "link_distance",
		}).AddRow(7, "http://example.com/a.abc", "example.com", now, string(abctrawl.StatusDispatched), 0, now, nil,
			"", 0, 0, "", 1, ".abc", 0))
	mock.ExpectCommit()

	u, err := st.ClaimNextURL(context.Background(), abctrawl.WorkFetch, now, 30*time.Second)
	if err != nil {
		t.Fatalf("ClaimNextURL: %v", err)
	}
	if u == nil || u.ID != 7 {
		t.Fatalf("got %+v, want claimed url id 7", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestClaimNextURLNothingEligible(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT u\.id FROM urls u`).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	u, err := st.ClaimNextURL(context.Background(), abctrawl.WorkFetch, now, 30*time.Second)
	if err != nil {
		t.Fatalf("ClaimNextURL: %v", err)
	}
	if u != nil {
		t.Errorf("expected no claimable url, got %+v", u)
	}
}

func TestClaimNextURLLostRace(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT u\.id FROM urls u`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
	mock.ExpectExec(`UPDATE urls SET status = \?, dispatched_at = \?`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	u, err := st.ClaimNextURL(context.Background(), abctrawl.WorkFetch, now, 30*time.Second)
	if err != nil {
		t.Fatalf("ClaimNextURL: %v", err)
	}
	if u != nil {
		t.Errorf("expected nil on a lost claim race, got %+v", u)
	}
}

func TestReleaseStuckRevertsWithoutBumpingRetries(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()
	abctrawl.SetDefaultConfig()

	mock.ExpectQuery(`SELECT id, status FROM urls`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).
			AddRow(3, string(abctrawl.StatusDispatched)))
	mock.ExpectExec(`UPDATE urls SET status = \?, dispatched_at = NULL`).
		WithArgs(string(abctrawl.StatusNew), int64(3), string(abctrawl.StatusDispatched)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := st.ReleaseStuck(context.Background(), now, time.Minute)
	if err != nil {
		t.Fatalf("ReleaseStuck: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d reclaimed, want 1", n)
	}
}

func TestApplyFetchResultInsertsDiscoveredLinks(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, url, host, created_at`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "url", "host", "created_at", "status", "retries", "dispatched_at", "downloaded_at",
			"mime_type", "http_status", "size_bytes", "document", "has_abc", "url_extension", "link_distance",
		}).AddRow(7, "http://example.com/a", "example.com", now, string(abctrawl.StatusDispatched), 0, now, nil,
			"", 0, 0, "", 0, "", 1))
	mock.ExpectQuery(`SELECT host, last_access, last_http_status, downloads, disabled, disabled_reason, disabled_at`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO hosts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE urls SET status = \?, downloaded_at = \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO urls \(url, host, created_at, status, url_extension, has_abc, link_distance\)`).
		WithArgs("http://example.com/b", "example.com", now, "", 0, 2).
		WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectCommit()

	out := abctrawl.FetchOutcome{
		HTTPStatus: 200,
		MimeType:   "text/html",
		Links:      []string{"http://example.com/b"},
	}
	if err := st.ApplyFetchResult(context.Background(), 7, out, now); err != nil {
		t.Fatalf("ApplyFetchResult: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRevertStatus(t *testing.T) {
	cases := map[abctrawl.URLStatus]abctrawl.URLStatus{
		abctrawl.StatusDispatched: abctrawl.StatusNew,
		abctrawl.StatusParsing:    abctrawl.StatusFetched,
		abctrawl.StatusIndexing:   abctrawl.StatusParsed,
		abctrawl.StatusError:      abctrawl.StatusError,
	}
	for in, want := range cases {
		if got := revertStatus(in); got != want {
			t.Errorf("revertStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
