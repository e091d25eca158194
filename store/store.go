// Package store is the persistence and claim layer for abctrawl's crawl
// state. It generalizes the claim technique of
// dankinder-walker/cassandra/datastore.go's tryClaimHosts (a compare-and-set
// loop over Cassandra's claim_tok column) into a SQL transaction: SQLite's
// BEGIN IMMEDIATE already serializes writers for us, so the "compare" and the
// "set" collapse into a single guarded UPDATE inside one transaction, with no
// retry-on-contention loop needed. See go-mizu-mizu/blueprints/bi/store/sqlite
// for the database/sql + mattn/go-sqlite3 bootstrap pattern this package's
// Open/Ensure methods follow.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/abctrawl/abctrawl"
)

// Store wraps the crawl database. All methods are safe for concurrent use;
// SQLite's own locking plus BEGIN IMMEDIATE transactions provide the
// exactly-once claim guarantee spec.md §5 requires across the Dispatcher's
// single goroutine and any future multi-writer scenario.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and ensures the
// schema exists. The connection string options mirror go-mizu-mizu's sqlite
// store: WAL journaling so readers never block the writer, a busy timeout so
// lock contention waits instead of erroring, and foreign keys on; _txlock
// makes every BeginTx open a BEGIN IMMEDIATE transaction.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The claim protocol depends on SQLite's single-writer semantics; a
	// connection pool would let two goroutines start overlapping write
	// transactions and defeat BEGIN IMMEDIATE's serialization.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Ensure(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Ensure creates the schema if it does not already exist.
func (s *Store) Ensure(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func claimFromStatus(kind abctrawl.WorkKind) abctrawl.URLStatus {
	switch kind {
	case abctrawl.WorkFetch:
		return abctrawl.StatusNew
	case abctrawl.WorkParse:
		return abctrawl.StatusFetched
	default:
		return abctrawl.StatusError
	}
}

func claimToStatus(kind abctrawl.WorkKind) abctrawl.URLStatus {
	switch kind {
	case abctrawl.WorkFetch:
		return abctrawl.StatusDispatched
	case abctrawl.WorkParse:
		return abctrawl.StatusParsing
	default:
		return abctrawl.StatusError
	}
}

// ClaimNextURL atomically selects and claims the best-eligible URL for the
// given work kind. Fetcher claims honor the ABC-tier priority rule (spec.md
// §4.4: rows whose extension matches the configured ABC priority extension
// are assigned before any other pending row, ties broken by created_at then
// id) and the host policy's cooldown/disabled gate; parser claims are not
// host-gated (a URL's host state has nothing to do with whether its already
// -fetched body is ready to parse) and order by dispatched_at then id instead.
// It returns (nil, nil) if nothing is eligible right now.
func (s *Store) ClaimNextURL(ctx context.Context, kind abctrawl.WorkKind, now time.Time, cooldown time.Duration) (*abctrawl.URL, error) {
	from, to := claimFromStatus(kind), claimToStatus(kind)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var row *sql.Row
	switch kind {
	case abctrawl.WorkFetch:
		row = tx.QueryRowContext(ctx, `
			SELECT u.id FROM urls u
			LEFT JOIN hosts h ON h.host = u.host
			WHERE u.status = ?
			  AND (h.host IS NULL OR (
				h.disabled = 0 AND
				(h.last_access IS NULL OR (julianday(?) - julianday(h.last_access)) * 86400.0 >= ?)
			  ))
			ORDER BY u.has_abc DESC, u.created_at ASC, u.id ASC
			LIMIT 1`, string(from), now, cooldown.Seconds())
	default:
		row = tx.QueryRowContext(ctx, `
			SELECT id FROM urls
			WHERE status = ?
			ORDER BY dispatched_at ASC, id ASC
			LIMIT 1`, string(from))
	}

	var id int64
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE urls SET status = ?, dispatched_at = ?
		WHERE id = ? AND status = ?`, string(to), now, id, string(from))
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n != 1 {
		// Lost the race inside our own serialized writer connection, which
		// should not happen with MaxOpenConns(1); treat as no-op rather than
		// panic so a future pooled-connection change fails safe.
		return nil, nil
	}

	if kind == abctrawl.WorkFetch {
		// Stamp the host's last_access at claim time, not just on fetch
		// completion: two concurrent fetchers must not both claim the same
		// host's urls within one cooldown window (spec.md §8 scenario 2), and
		// last_access is the column Eligible checks to enforce that.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO hosts (host, last_access, last_http_status, downloads, disabled, disabled_reason, disabled_at)
			VALUES ((SELECT host FROM urls WHERE id = ?), ?, 0, 0, 0, '', NULL)
			ON CONFLICT(host) DO UPDATE SET last_access = excluded.last_access`, id, now); err != nil {
			return nil, err
		}
	}

	u, err := scanURL(tx.QueryRowContext(ctx, urlSelectCols+` WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	return u, tx.Commit()
}

// ClaimNextTunebook atomically selects and claims the oldest tunebook ready
// to index, along with its tunes, and advances the owning URL's status to
// indexing alongside it.
func (s *Store) ClaimNextTunebook(ctx context.Context, now time.Time) (*abctrawl.Tunebook, []abctrawl.Tune, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var id int64
	row := tx.QueryRowContext(ctx, `SELECT id FROM tunebooks WHERE status = ? ORDER BY created_at ASC LIMIT 1`, abctrawl.TunebookNew)
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE tunebooks SET status = ? WHERE id = ? AND status = ?`,
		abctrawl.TunebookIndexing, id, abctrawl.TunebookNew)
	if err != nil {
		return nil, nil, err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, nil, nil
	}

	var tb abctrawl.Tunebook
	var created time.Time
	err = tx.QueryRowContext(ctx, `SELECT id, url, status, created_at FROM tunebooks WHERE id = ?`, id).
		Scan(&tb.ID, &tb.URL, &tb.Status, &created)
	if err != nil {
		return nil, nil, err
	}
	tb.CreatedAt = created

	rows, err := tx.QueryContext(ctx, `SELECT id, tunebook_id, title, composer, key, rhythm, tune_body, pitches, intervals
		FROM tunes WHERE tunebook_id = ?`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var tunes []abctrawl.Tune
	for rows.Next() {
		var t abctrawl.Tune
		if err := rows.Scan(&t.ID, &t.TunebookID, &t.Title, &t.Composer, &t.Key, &t.Rhythm, &t.TuneBody, &t.Pitches, &t.Intervals); err != nil {
			return nil, nil, err
		}
		tunes = append(tunes, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE urls SET status = ? WHERE url = ? AND status = ?`,
		abctrawl.StatusIndexing, tb.URL, abctrawl.StatusParsed); err != nil {
		return nil, nil, err
	}

	return &tb, tunes, tx.Commit()
}

const urlSelectCols = `SELECT id, url, host, created_at, status, retries, dispatched_at, downloaded_at,
	mime_type, http_status, size_bytes, document, has_abc, url_extension, link_distance FROM urls`

func scanURL(row *sql.Row) (*abctrawl.URL, error) {
	var u abctrawl.URL
	var created time.Time
	var dispatched, downloaded sql.NullTime
	var hasABC int
	if err := row.Scan(&u.ID, &u.URL, &u.Host, &created, &u.Status, &u.Retries, &dispatched, &downloaded,
		&u.MimeType, &u.HTTPStatus, &u.SizeBytes, &u.Document, &hasABC, &u.URLExtension, &u.LinkDistance); err != nil {
		return nil, err
	}
	u.CreatedAt = created
	if dispatched.Valid {
		t := dispatched.Time
		u.DispatchedAt = &t
	}
	if downloaded.Valid {
		t := downloaded.Time
		u.DownloadedAt = &t
	}
	u.HasABC = hasABC != 0
	return &u, nil
}

// GetURL returns a single URL row by id.
func (s *Store) GetURL(ctx context.Context, id int64) (*abctrawl.URL, error) {
	u, err := scanURL(s.db.QueryRowContext(ctx, urlSelectCols+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// InsertURL inserts a new URL row in StatusNew if it does not already exist
// (URLs are deduplicated on their normalized form). It returns the row's id
// whether newly inserted or pre-existing.
func (s *Store) InsertURL(ctx context.Context, rawURL, host, extension string, linkDistance int, now time.Time) (int64, error) {
	hasABC := 0
	if extension == abctrawl.Config.ABCPriorityExtension {
		hasABC = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO urls (url, host, created_at, status, url_extension, has_abc, link_distance)
		VALUES (?, ?, ?, '', ?, ?, ?)
		ON CONFLICT(url) DO NOTHING`, rawURL, host, now, extension, hasABC, linkDistance)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM urls WHERE url = ?`, rawURL).Scan(&id)
	return id, err
}

// ApplyFetchResult records a Fetcher's outcome for one URL, advancing or
// reverting its status per spec.md §7's error taxonomy, and updates the
// owning Host row via abctrawl.HostPolicy so the next claim sees an accurate
// cooldown/disabled state.
func (s *Store) ApplyFetchResult(ctx context.Context, urlID int64, out abctrawl.FetchOutcome, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	u, err := scanURL(tx.QueryRowContext(ctx, urlSelectCols+` WHERE id = ?`, urlID))
	if err != nil {
		return err
	}

	h, err := getHostTx(ctx, tx, u.Host)
	if err != nil {
		return err
	}
	policy := abctrawl.NewHostPolicy()

	success := out.Error == ""
	dnsFailure := out.Error == abctrawl.FetchErrDNS
	consecutiveTimeouts := 0
	if !success && out.Error == abctrawl.FetchErrTransient {
		consecutiveTimeouts = u.Retries + 1
	}
	policy.OnFetchComplete(h, now, out.HTTPStatus, success, dnsFailure, consecutiveTimeouts)
	if err := putHostTx(ctx, tx, h); err != nil {
		return err
	}

	switch {
	case success:
		_, err = tx.ExecContext(ctx, `
			UPDATE urls SET status = ?, downloaded_at = ?, mime_type = ?, http_status = ?,
				size_bytes = ?, document = ? WHERE id = ?`,
			abctrawl.StatusFetched, now, out.MimeType, out.HTTPStatus, out.SizeBytes, out.Body, urlID)
		if err == nil {
			err = insertLinksTx(ctx, tx, u, out.Links, now)
		}
	case out.Error == abctrawl.FetchErrHTTP4xx:
		// Terminal per spec.md §7: a 4xx is the client's own fault, never retried.
		_, err = tx.ExecContext(ctx, `UPDATE urls SET status = ?, http_status = ? WHERE id = ?`,
			abctrawl.StatusError, out.HTTPStatus, urlID)
	case u.Retries+1 >= abctrawl.Config.MaxRetries:
		_, err = tx.ExecContext(ctx, `UPDATE urls SET status = ?, retries = retries + 1 WHERE id = ?`,
			abctrawl.StatusError, urlID)
	default:
		_, err = tx.ExecContext(ctx, `UPDATE urls SET status = ?, retries = retries + 1 WHERE id = ?`,
			abctrawl.StatusNew, urlID)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// insertLinksTx inserts each link a Fetcher discovered as a new URL row,
// status new, link_distance one past its parent (spec.md §4.4: "On success:
// … insert each distinct new link at status=new, retries=0,
// link_distance=parent+1"). Insertion is ON CONFLICT(url) DO NOTHING, so a
// link already known under any status is left untouched; this dedup is what
// the §8 round-trip law relies on.
func insertLinksTx(ctx context.Context, tx *sql.Tx, parent *abctrawl.URL, links []string, now time.Time) error {
	for _, raw := range links {
		normalized, err := abctrawl.NormalizeURL(raw)
		if err != nil {
			continue
		}
		host, err := abctrawl.ExtractHost(normalized)
		if err != nil {
			continue
		}
		extension := abctrawl.URLExtension(normalized)
		hasABC := 0
		if extension == abctrawl.Config.ABCPriorityExtension {
			hasABC = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO urls (url, host, created_at, status, url_extension, has_abc, link_distance)
			VALUES (?, ?, ?, '', ?, ?, ?)
			ON CONFLICT(url) DO NOTHING`,
			normalized, host, now, extension, hasABC, parent.LinkDistance+1); err != nil {
			return err
		}
	}
	return nil
}

// ApplyParseResult records a Parser's outcome: on success it inserts a new
// Tunebook row (status new) plus one Tune row per ParsedTune and advances the
// URL to StatusParsed; on failure it follows the same retry/error rules as
// ApplyFetchResult but without any host-policy interaction, since a parse
// failure says nothing about the host's health.
func (s *Store) ApplyParseResult(ctx context.Context, urlID int64, out abctrawl.ParseOutcome, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	u, err := scanURL(tx.QueryRowContext(ctx, urlSelectCols+` WHERE id = ?`, urlID))
	if err != nil {
		return err
	}

	if out.Error != "" {
		if u.Retries+1 >= abctrawl.Config.MaxRetries {
			_, err = tx.ExecContext(ctx, `UPDATE urls SET status = ?, retries = retries + 1 WHERE id = ?`,
				abctrawl.StatusError, urlID)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE urls SET status = ?, retries = retries + 1 WHERE id = ?`,
				abctrawl.StatusFetched, urlID)
		}
		if err != nil {
			return err
		}
		return tx.Commit()
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO tunebooks (url, status, created_at) VALUES (?, ?, ?)`,
		u.URL, abctrawl.TunebookNew, now)
	if err != nil {
		return err
	}
	tunebookID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, t := range out.Tunes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tunes (tunebook_id, title, composer, key, rhythm, tune_body, pitches)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tunebookID, t.Title, t.Composer, t.Key, t.Rhythm, t.TuneBody, t.Pitches); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE urls SET status = ? WHERE id = ?`, abctrawl.StatusParsed, urlID); err != nil {
		return err
	}
	return tx.Commit()
}

// ApplyIndexResult writes an Indexer's computed interval vectors back onto
// their Tune rows and marks the tunebook (and its owning URL) indexed.
func (s *Store) ApplyIndexResult(ctx context.Context, tunebookID int64, out abctrawl.IndexOutcome, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if out.Error != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE tunebooks SET status = ? WHERE id = ?`, abctrawl.TunebookNew, tunebookID); err != nil {
			return err
		}
		var url string
		if err := tx.QueryRowContext(ctx, `SELECT url FROM tunebooks WHERE id = ?`, tunebookID).Scan(&url); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE urls SET status = ? WHERE url = ?`, abctrawl.StatusParsed, url); err != nil {
			return err
		}
		return tx.Commit()
	}

	for tuneID, vector := range out.IntervalsByTune {
		if _, err := tx.ExecContext(ctx, `UPDATE tunes SET intervals = ? WHERE id = ? AND tunebook_id = ?`,
			vector, tuneID, tunebookID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tunebooks SET status = ? WHERE id = ?`, abctrawl.TunebookIndexed, tunebookID); err != nil {
		return err
	}
	var url string
	if err := tx.QueryRowContext(ctx, `SELECT url FROM tunebooks WHERE id = ?`, tunebookID).Scan(&url); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE urls SET status = ? WHERE url = ?`, abctrawl.StatusIndexed, url); err != nil {
		return err
	}
	return tx.Commit()
}

// ReleaseStuck reclaims any URL whose in-flight status has outlived ttl,
// reverting it to the status it was claimed from. This is the periodic half
// of the liveness sweep spec.md §5 calls for. A worker crash or lost socket
// is handled entirely by this sweep (spec.md §7): it sets the URL back to
// its prior queueable status and increments nothing, since the work was
// never actually attempted from the crawl's point of view.
func (s *Store) ReleaseStuck(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	cutoff := now.Add(-ttl)
	rows, err := s.db.QueryContext(ctx, `SELECT id, status FROM urls
		WHERE status IN (?, ?, ?) AND dispatched_at IS NOT NULL AND dispatched_at < ?`,
		abctrawl.StatusDispatched, abctrawl.StatusParsing, abctrawl.StatusIndexing, cutoff)
	if err != nil {
		return 0, err
	}
	type stuck struct {
		id     int64
		status abctrawl.URLStatus
	}
	var victims []stuck
	for rows.Next() {
		var v stuck
		if err := rows.Scan(&v.id, &v.status); err != nil {
			rows.Close()
			return 0, err
		}
		victims = append(victims, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	n := 0
	for _, v := range victims {
		next := revertStatus(v.status)
		res, err := s.db.ExecContext(ctx, `UPDATE urls SET status = ?, dispatched_at = NULL
			WHERE id = ? AND status = ?`, next, v.id, v.status)
		if err != nil {
			return n, err
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			n++
		}
	}
	return n, nil
}

func revertStatus(s abctrawl.URLStatus) abctrawl.URLStatus {
	switch s {
	case abctrawl.StatusDispatched:
		return abctrawl.StatusNew
	case abctrawl.StatusParsing:
		return abctrawl.StatusFetched
	case abctrawl.StatusIndexing:
		return abctrawl.StatusParsed
	default:
		return s
	}
}

// ResetOnStartup reverts every in-flight URL unconditionally, without
// touching retry counts or bumping anything to StatusError. Any worker that
// had claimed one of these rows is assumed gone, since this runs once, before
// the Dispatcher accepts any worker connection (spec.md §5's startup
// recovery, grounded on dankinder-walker/util/cleandb.go's UnclaimAll).
func (s *Store) ResetOnStartup(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE urls SET
			status = CASE status
				WHEN ? THEN ?
				WHEN ? THEN ?
				WHEN ? THEN ?
			END,
			dispatched_at = NULL
		WHERE status IN (?, ?, ?)`,
		abctrawl.StatusDispatched, abctrawl.StatusNew,
		abctrawl.StatusParsing, abctrawl.StatusFetched,
		abctrawl.StatusIndexing, abctrawl.StatusParsed,
		abctrawl.StatusDispatched, abctrawl.StatusParsing, abctrawl.StatusIndexing)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func getHostTx(ctx context.Context, tx *sql.Tx, host string) (*abctrawl.Host, error) {
	var h abctrawl.Host
	var lastAccess, disabledAt sql.NullTime
	var disabled int
	err := tx.QueryRowContext(ctx, `SELECT host, last_access, last_http_status, downloads, disabled, disabled_reason, disabled_at
		FROM hosts WHERE host = ?`, host).
		Scan(&h.Host, &lastAccess, &h.LastHTTPStatus, &h.Downloads, &disabled, &h.DisabledReason, &disabledAt)
	if err == sql.ErrNoRows {
		return &abctrawl.Host{Host: host}, nil
	}
	if err != nil {
		return nil, err
	}
	if lastAccess.Valid {
		h.LastAccess = lastAccess.Time
	}
	if disabledAt.Valid {
		t := disabledAt.Time
		h.DisabledAt = &t
	}
	h.Disabled = disabled != 0
	return &h, nil
}

func putHostTx(ctx context.Context, tx *sql.Tx, h *abctrawl.Host) error {
	disabled := 0
	if h.Disabled {
		disabled = 1
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO hosts (host, last_access, last_http_status, downloads, disabled, disabled_reason, disabled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET
			last_access = excluded.last_access,
			last_http_status = excluded.last_http_status,
			downloads = excluded.downloads,
			disabled = excluded.disabled,
			disabled_reason = excluded.disabled_reason,
			disabled_at = excluded.disabled_at`,
		h.Host, h.LastAccess, h.LastHTTPStatus, h.Downloads, disabled, h.DisabledReason, h.DisabledAt)
	return err
}

// GetHost returns a host's row, or a zero-value Host (not disabled, never
// accessed) if no row exists yet.
func (s *Store) GetHost(ctx context.Context, host string) (*abctrawl.Host, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return getHostTx(ctx, tx, host)
}

// DisableHost marks a host disabled for the given reason (spec.md §4.2's
// manual-disable path, exposed through the supervisor API).
func (s *Store) DisableHost(ctx context.Context, host, reason string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	h, err := getHostTx(ctx, tx, host)
	if err != nil {
		return err
	}
	h.Disabled = true
	h.DisabledReason = reason
	t := now
	h.DisabledAt = &t
	if err := putHostTx(ctx, tx, h); err != nil {
		return err
	}
	return tx.Commit()
}

// EnableHost clears a host's disabled state.
func (s *Store) EnableHost(ctx context.Context, host string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	h, err := getHostTx(ctx, tx, host)
	if err != nil {
		return err
	}
	h.Disabled = false
	h.DisabledReason = ""
	h.DisabledAt = nil
	if err := putHostTx(ctx, tx, h); err != nil {
		return err
	}
	return tx.Commit()
}

// ListHosts returns every host row, ordered by host name, for the supervisor
// API's host listing endpoint.
func (s *Store) ListHosts(ctx context.Context) ([]abctrawl.Host, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT host, last_access, last_http_status, downloads, disabled, disabled_reason, disabled_at
		FROM hosts ORDER BY host ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []abctrawl.Host
	for rows.Next() {
		var h abctrawl.Host
		var lastAccess, disabledAt sql.NullTime
		var disabled int
		if err := rows.Scan(&h.Host, &lastAccess, &h.LastHTTPStatus, &h.Downloads, &disabled, &h.DisabledReason, &disabledAt); err != nil {
			return nil, err
		}
		if lastAccess.Valid {
			h.LastAccess = lastAccess.Time
		}
		if disabledAt.Valid {
			t := disabledAt.Time
			h.DisabledAt = &t
		}
		h.Disabled = disabled != 0
		out = append(out, h)
	}
	return out, rows.Err()
}

// Process is one row of the processes table: the supervisor's record of a
// worker it has started, independent of whether that worker is actually
// still running (the supervisor reconciles that at query time).
type Process struct {
	Role      string
	ID        string
	PID       int
	Status    string
	StartedAt *time.Time
}

// UpsertProcess records a process's current status, creating the row if it
// does not exist yet.
func (s *Store) UpsertProcess(ctx context.Context, p Process) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processes (role, id, pid, status, started_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(role, id) DO UPDATE SET pid = excluded.pid, status = excluded.status, started_at = excluded.started_at`,
		p.Role, p.ID, p.PID, p.Status, p.StartedAt)
	return err
}

// ListProcesses returns every tracked process, ordered by role then id, for
// the supervisor's GET /procs endpoint.
func (s *Store) ListProcesses(ctx context.Context) ([]Process, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role, id, pid, status, started_at FROM processes ORDER BY role, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Process
	for rows.Next() {
		var p Process
		var startedAt sql.NullTime
		if err := rows.Scan(&p.Role, &p.ID, &p.PID, &p.Status, &startedAt); err != nil {
			return nil, err
		}
		if startedAt.Valid {
			t := startedAt.Time
			p.StartedAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Stats summarizes URL counts by status, used by the supervisor dashboard.
func (s *Store) Stats(ctx context.Context) (map[abctrawl.URLStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM urls GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[abctrawl.URLStatus]int{}
	for rows.Next() {
		var status abctrawl.URLStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
