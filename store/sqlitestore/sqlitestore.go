// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package sqlitestore is a sqlite-backed store.Database, one of the
// pluggable persistence implementations component E (spec.md §4.E) allows.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dsahistorian/historian/core/value"
	"github.com/dsahistorian/historian/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS sample (
	path      TEXT    NOT NULL,
	ts_nanos  INTEGER NOT NULL,
	type      INTEGER NOT NULL,
	bool_val  INTEGER NOT NULL,
	num_val   REAL    NOT NULL,
	str_val   TEXT    NOT NULL,
	extra     TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS sample_path_ts ON sample (path, ts_nanos);
`

// dbSample is the row shape sqlair binds Write/Query statements against,
// following the db-tagged-struct convention the teacher uses for every
// table (domain/resource/state/types.go).
type dbSample struct {
	Path    string  `db:"path"`
	TSNanos int64   `db:"ts_nanos"`
	Type    int     `db:"type"`
	Bool    int     `db:"bool_val"`
	Num     float64 `db:"num_val"`
	Str     string  `db:"str_val"`
	Extra   string  `db:"extra"`
}

type rangeArgs struct {
	Path string `db:"path"`
	From int64  `db:"from_nanos"`
	To   int64  `db:"to_nanos"`
}

// Store is a store.Database backed by a single sqlite file, accessed
// through sqlair the way the teacher's domain/resource/state package
// accesses its own tables: prepared, db-tagged statements run inside
// db.Txn.
type Store struct {
	sqlDB *sql.DB
	db    *sqlair.DB
	clk   clock.Clock

	insertStmt      *sqlair.Statement
	selectRangeStmt *sqlair.Statement
}

// Open opens (creating if necessary) a sqlite database at path and
// ensures the sample table exists.
func Open(path string, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.WallClock
	}
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Annotatef(err, "opening sqlite database %q", path)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Annotate(err, "applying sample schema")
	}

	insertStmt, err := sqlair.Prepare(`
INSERT INTO sample (*)
VALUES ($dbSample.*)
`, dbSample{})
	if err != nil {
		_ = sqlDB.Close()
		return nil, errors.Annotate(err, "preparing insert statement")
	}

	selectRangeStmt, err := sqlair.Prepare(`
SELECT &dbSample.*
FROM   sample
WHERE  path = $rangeArgs.path
AND    ts_nanos >= $rangeArgs.from_nanos
AND    ts_nanos <= $rangeArgs.to_nanos
ORDER  BY ts_nanos ASC
`, dbSample{}, rangeArgs{})
	if err != nil {
		_ = sqlDB.Close()
		return nil, errors.Annotate(err, "preparing range select statement")
	}

	return &Store{
		sqlDB:           sqlDB,
		db:              sqlair.NewDB(sqlDB),
		clk:             clk,
		insertStmt:      insertStmt,
		selectRangeStmt: selectRangeStmt,
	}, nil
}

// Close releases the underlying sqlite connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Write persists v for path at time t, retrying transient sqlite
// busy/locked errors the way the teacher's write paths retry transient
// I/O (github.com/juju/retry), since a single-writer sqlite file
// regularly contends with WatchGroups flushing concurrently.
func (s *Store) Write(ctx context.Context, path string, v value.Value, t time.Time) error {
	row, err := toRow(path, v, t)
	if err != nil {
		return errors.Trace(err)
	}

	return retry.Call(retry.CallArgs{
		Func: func() error {
			return s.db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
				return tx.Query(ctx, s.insertStmt, row).Run()
			})
		},
		IsFatalError: func(err error) bool { return !isTransient(err) },
		Attempts:     5,
		Delay:        10 * time.Millisecond,
		Clock:        s.clk,
	})
}

// Query streams every sample for path in [from, to] to handler in
// ascending time order, stopping early on store.ErrStopIteration.
func (s *Store) Query(ctx context.Context, path string, from, to time.Time, handler store.RowHandler) error {
	args := rangeArgs{Path: path, From: from.UnixNano(), To: to.UnixNano()}

	var rows []dbSample
	err := s.db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, s.selectRangeStmt, args).GetAll(&rows)
	})
	if err != nil {
		return errors.Annotatef(err, "querying %q", path)
	}

	for _, row := range rows {
		v, t, err := fromRow(row)
		if err != nil {
			return errors.Trace(err)
		}
		if err := handler(v, t); err != nil {
			if errors.Is(err, store.ErrStopIteration) {
				return nil
			}
			return errors.Trace(err)
		}
	}
	return nil
}

func toRow(path string, v value.Value, t time.Time) (dbSample, error) {
	row := dbSample{Path: path, TSNanos: t.UnixNano(), Type: int(v.Type)}
	switch v.Type {
	case value.TypeBool:
		if v.Bool {
			row.Bool = 1
		}
	case value.TypeNumber:
		row.Num = v.Number
	case value.TypeString:
		row.Str = v.String
	case value.TypeTime:
		row.Str = v.Time.Format(time.RFC3339Nano)
	case value.TypeDynamic:
		encoded, err := json.Marshal(v.Dynamic)
		if err != nil {
			return dbSample{}, errors.Annotate(err, "encoding dynamic value")
		}
		row.Extra = string(encoded)
	}
	return row, nil
}

func fromRow(row dbSample) (value.Value, time.Time, error) {
	t := time.Unix(0, row.TSNanos).UTC()
	v := value.Value{Type: value.Type(row.Type), Timestamp: t}
	switch v.Type {
	case value.TypeBool:
		v.Bool = row.Bool != 0
	case value.TypeNumber:
		v.Number = row.Num
	case value.TypeString:
		v.String = row.Str
	case value.TypeTime:
		parsed, err := time.Parse(time.RFC3339Nano, row.Str)
		if err != nil {
			return value.Value{}, time.Time{}, errors.Annotate(err, "decoding time value")
		}
		v.Time = parsed
	case value.TypeDynamic:
		var decoded any
		if err := json.Unmarshal([]byte(row.Extra), &decoded); err != nil {
			return value.Value{}, time.Time{}, errors.Annotate(err, "decoding dynamic value")
		}
		v.Dynamic = decoded
	}
	return v, t, nil
}

// isTransient reports whether err looks like a sqlite busy/locked
// condition worth retrying rather than giving up on immediately.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

var _ store.Database = (*Store)(nil)
