// Package store implements read-only access to the decrypted
// chat-history database. It is the only code that knows about the
// store's on-disk layouts: everything above it consumes one fixed
// row schema (MessageRow, SessionSummary) regardless of which
// generation of store produced the data.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound means the store path does not exist or is not a
	// database this package understands. Fatal: no scan is
	// attempted.
	ErrNotFound = errors.New("store not found")

	// ErrExtrasUnavailable means the bulk extras fast path cannot
	// be served by this store layout. Recoverable: callers fall
	// back to a full scan.
	ErrExtrasUnavailable = errors.New("extras not available")
)

// storeLayout identifies which table/column generation a store
// uses.
type storeLayout int

const (
	// layoutModern: message/session/contact tables, plain-text
	// content for text messages, epoch-second timestamps. The only
	// layout that can serve the extras fast path.
	layoutModern storeLayout = iota
	// layoutLegacy: MSG/Session/Contact tables, compressed
	// content blobs, epoch-millisecond timestamps.
	layoutLegacy
)

// maxSQLVars keeps IN clauses within SQLite's default bind
// variable limit.
const maxSQLVars = 500

var log = logrus.WithField("component", "store")

// Store is a read-only handle on one decrypted chat database.
type Store struct {
	reader *sql.DB
	layout storeLayout

	contactMu sync.RWMutex
	contacts  map[string]Contact
}

// makeDSN builds the read-only SQLite connection string.
func makeDSN(path string) string {
	params := url.Values{}
	params.Set("mode", "ro")
	params.Set("_busy_timeout", "5000")
	params.Set("_mmap_size", "268435456")
	params.Set("_cache_size", "-64000")
	return path + "?" + params.Encode()
}

// Open opens the store at path and detects its layout. A missing
// path or an unrecognized schema is fatal.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	reader, err := sql.Open("sqlite3", makeDSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	reader.SetMaxOpenConns(4)

	st := &Store{reader: reader}
	if err := st.detectLayout(); err != nil {
		reader.Close()
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"path":   path,
		"layout": st.layoutName(),
	}).Debug("store opened")
	return st, nil
}

// Close releases the connection pool.
func (st *Store) Close() error {
	return st.reader.Close()
}

func (st *Store) layoutName() string {
	if st.layout == layoutModern {
		return "modern"
	}
	return "legacy"
}

// detectLayout probes sqlite_master for the message table of each
// known generation.
func (st *Store) detectLayout() error {
	var count int
	err := st.reader.QueryRow(
		`SELECT count(*) FROM sqlite_master
		 WHERE type='table' AND name='message'`,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("%w: probing schema: %v", ErrNotFound, err)
	}
	if count > 0 {
		st.layout = layoutModern
		return nil
	}

	err = st.reader.QueryRow(
		`SELECT count(*) FROM sqlite_master
		 WHERE type='table' AND name='MSG'`,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("%w: probing schema: %v", ErrNotFound, err)
	}
	if count > 0 {
		st.layout = layoutLegacy
		return nil
	}
	return fmt.Errorf("%w: no recognized message table", ErrNotFound)
}

// timeScale converts epoch seconds to the store's native
// timestamp unit.
func (st *Store) timeScale() int64 {
	if st.layout == layoutLegacy {
		return 1000
	}
	return 1
}

// inPlaceholders returns a "(?,?,...)" string and []any args for
// a slice of string ids.
func inPlaceholders(ids []string) (string, []any) {
	ph := make([]byte, 0, len(ids)*2+1)
	args := make([]any, len(ids))
	ph = append(ph, '(')
	for i, id := range ids {
		if i > 0 {
			ph = append(ph, ',')
		}
		ph = append(ph, '?')
		args[i] = id
	}
	ph = append(ph, ')')
	return string(ph), args
}

// queryChunked executes fn for each chunk of ids, splitting at
// maxSQLVars to avoid SQLite bind-variable limits.
func queryChunked(ids []string, fn func(chunk []string) error) error {
	for i := 0; i < len(ids); i += maxSQLVars {
		end := min(i+maxSQLVars, len(ids))
		if err := fn(ids[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// ping is used by tests to verify a store handle is usable.
func (st *Store) ping(ctx context.Context) error {
	return st.reader.PingContext(ctx)
}
