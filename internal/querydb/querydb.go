// Package querydb implements the query surface of the resolver's long-term
// query database.  The database itself is owned and written by the resolver;
// this package only reads it, in pages shaped like the history engine's
// store requests.
package querydb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/adhole/ftlbridge/internal/ftlmem"
	"github.com/adhole/ftlbridge/internal/history"

	// Register the pure-Go SQLite driver.
	_ "modernc.org/sqlite"
)

// Config is the store configuration.
type Config struct {
	// Logger is used for operational logging.  It must not be nil.
	Logger *slog.Logger

	// Path is the path to the resolver's long-term database file.
	Path string
}

// Store reads the resolver's long-term query database.
type Store struct {
	logger *slog.Logger
	db     *sql.DB
}

// type check
var _ history.Store = (*Store)(nil)

// New opens the database read-only.
func New(conf *Config) (s *Store, err error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", conf.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("querydb: opening %q: %w", conf.Path, err)
	}

	return &Store{
		logger: conf.Logger,
		db:     db,
	}, nil
}

// Close closes the database.
func (s *Store) Close() (err error) {
	return s.db.Close()
}

// dbQueryType converts a query type to the 1-based encoding the resolver
// uses in the database.
func dbQueryType(qt ftlmem.QueryType) (dbType int) {
	return int(qt) + 1
}

// blockedStatusArgs returns the database encodings of the blocking statuses
// and the matching SQL placeholder list.
func blockedStatusArgs() (placeholders string, args []any) {
	args = make([]any, 0, len(ftlmem.BlockedStatuses))
	for _, st := range ftlmem.BlockedStatuses {
		args = append(args, int(st))
	}

	placeholders = strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")

	return placeholders, args
}

// buildQuery translates a store request into SQL.  Filters the database
// schema cannot express, DNSSEC and reply types, only exist for live
// records and are not part of the store request at all.
func buildQuery(q *history.StoreQuery) (sqlText string, args []any) {
	b := &strings.Builder{}
	b.WriteString(`SELECT id, timestamp, type, status, domain, client, forward FROM queries`)

	var conds []string
	cond := func(c string, a ...any) {
		conds = append(conds, c)
		args = append(args, a...)
	}

	if q.StartID > 0 {
		cond(`id <= ?`, q.StartID)
	}

	if q.From != 0 {
		cond(`timestamp >= ?`, q.From)
	}

	if q.Until != 0 {
		cond(`timestamp <= ?`, q.Until)
	}

	if q.Domain != "" {
		cond(`domain LIKE ?`, like(q.Domain))
	}

	if q.Client != "" {
		cond(`client LIKE ?`, like(q.Client))
	}

	if q.Upstream != "" {
		cond(`forward LIKE ?`, like(q.Upstream))
	}

	if q.QueryType != nil {
		cond(`type = ?`, dbQueryType(*q.QueryType))
	}

	if q.Status != nil {
		cond(`status = ?`, int(*q.Status))
	}

	if q.Blocked != nil {
		placeholders, blockedArgs := blockedStatusArgs()
		op := "IN"
		if !*q.Blocked {
			op = "NOT IN"
		}

		cond(fmt.Sprintf(`status %s (%s)`, op, placeholders), blockedArgs...)
	}

	if len(conds) > 0 {
		b.WriteString(` WHERE `)
		b.WriteString(strings.Join(conds, ` AND `))
	}

	// One row past the limit probes for a further page.
	b.WriteString(` ORDER BY id DESC LIMIT ?`)
	args = append(args, q.Limit+1)

	return b.String(), args
}

// like wraps a substring filter into a LIKE pattern.
func like(substr string) (pattern string) {
	return "%" + substr + "%"
}

// Search implements the [history.Store] interface for *Store.
func (s *Store) Search(
	ctx context.Context,
	q *history.StoreQuery,
) (rows []history.StoreRecord, nextID int64, err error) {
	sqlText, args := buildQuery(q)

	dbRows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querydb: querying: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, dbRows.Close()) }()

	for dbRows.Next() {
		var rec history.StoreRecord
		var dbType, dbStatus int
		var forward sql.NullString

		err = dbRows.Scan(
			&rec.RowID,
			&rec.Timestamp,
			&dbType,
			&dbStatus,
			&rec.Domain,
			&rec.Client,
			&forward,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("querydb: scanning row: %w", err)
		}

		if dbType >= 1 && dbType <= int(ftlmem.QueryTypeCount) {
			rec.Type = ftlmem.QueryType(dbType - 1)
		}

		rec.Status = ftlmem.QueryStatus(dbStatus)
		rec.Upstream = forward.String

		rows = append(rows, rec)
	}

	err = dbRows.Err()
	if err != nil {
		return nil, 0, fmt.Errorf("querydb: reading rows: %w", err)
	}

	// The extra row is not returned; its id is where the next page starts.
	if len(rows) == q.Limit+1 {
		nextID = rows[q.Limit].RowID
		rows = rows[:q.Limit]
	}

	return rows, nextID, nil
}
