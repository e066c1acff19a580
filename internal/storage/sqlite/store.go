// Package sqlite implements storage.Store on an embedded SQLite database
// using database/sql and the pure-Go modernc.org/sqlite driver.
//
// A read-write store holds a single connection: the engine is the only
// writer, in-memory databases live inside that connection, and statements
// relying on per-connection state stay on it. Read-only stores open the file
// with mode=ro and allow a few concurrent connections.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	kgxerr "kgxops/internal/errors"
	"kgxops/internal/schema"
	"kgxops/internal/storage"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// querier is the subset of *sql.DB and *sql.Tx used by the store.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Store is a SQLite-backed storage.Store.
type Store struct {
	db       *sql.DB
	q        querier
	tx       *sql.Tx
	path     string
	readOnly bool
	log      *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if needed) the database described by cfg.
func Open(ctx context.Context, cfg storage.Config) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	inMemory := path == "" || path == ":memory:"
	if inMemory && cfg.ReadOnly {
		return nil, kgxerr.New(kgxerr.CodeConfigValidateInvalidValue,
			"sqlite: read-only mode requires a database file")
	}

	dsn := ":memory:"
	if !inMemory {
		if cfg.ReadOnly {
			if _, err := os.Stat(path); err != nil {
				return nil, kgxerr.Wrap(err, kgxerr.CodeStoreTableNotFound,
					"sqlite: database file not found", kgxerr.FieldPath(path))
			}
			dsn = fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
		} else {
			dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: open")
	}
	if cfg.ReadOnly {
		db.SetMaxOpenConns(4)
	} else {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: ping")
	}

	s := &Store{
		db:       db,
		q:        db,
		path:     path,
		readOnly: cfg.ReadOnly,
		log:      cfg.Logger,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if inMemory {
		s.path = ""
	}
	return s, nil
}

// Close closes the underlying database. Stores bound to a transaction by
// Atomic do not own the database and ignore Close.
func (s *Store) Close() error {
	if s.tx != nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ReadOnly() bool { return s.readOnly }

func (s *Store) Size() int64 {
	if s.path == "" {
		return 0
	}
	fi, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// Atomic implements storage.Store.Atomic. Nested calls join the enclosing
// transaction.
func (s *Store) Atomic(ctx context.Context, fn func(storage.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: begin tx")
	}
	child := &Store{db: s.db, q: tx, tx: tx, path: s.path, readOnly: s.readOnly, log: s.log}
	if err := fn(child); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: commit")
	}
	return nil
}

// mutate runs fn against a transaction-bound store, opening a transaction
// if s is not already bound to one. All statements inside fn must go through
// t: the connection pool has a single connection in read-write mode.
func (s *Store) mutate(ctx context.Context, op string, fn func(t *Store) error) error {
	if s.readOnly {
		return kgxerr.New(kgxerr.CodeStoreReadOnly, "sqlite: store is read-only", kgxerr.Field("op", op))
	}
	return s.Atomic(ctx, func(st storage.Store) error {
		return fn(st.(*Store))
	})
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	s.log.Debug("sqlite exec", zap.String("sql", query))
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, kgxerr.Wrapf(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: exec %s", firstLine(query))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: list tables")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: list tables")
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) HasTable(ctx context.Context, table string) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: has table", kgxerr.FieldTable(table))
	}
	return n > 0, nil
}

func (s *Store) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: table info", kgxerr.FieldTable(table))
	}
	defer rows.Close()
	var out []schema.Column
	for rows.Next() {
		var name, decl string
		if err := rows.Scan(&name, &decl); err != nil {
			return nil, kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: table info", kgxerr.FieldTable(table))
		}
		out = append(out, schema.Column{Name: name, Type: fromSQLType(decl)})
	}
	if err := rows.Err(); err != nil {
		return nil, kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: table info", kgxerr.FieldTable(table))
	}
	if len(out) == 0 {
		return nil, kgxerr.New(kgxerr.CodeStoreTableNotFound, "sqlite: no such table", kgxerr.FieldTable(table))
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	if err != nil {
		if ok, _ := s.HasTable(ctx, table); !ok {
			return 0, kgxerr.New(kgxerr.CodeStoreTableNotFound, "sqlite: no such table", kgxerr.FieldTable(table))
		}
		return 0, kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: count", kgxerr.FieldTable(table))
	}
	return n, nil
}

func (s *Store) CreateTable(ctx context.Context, table string, cols []schema.Column) error {
	if len(cols) == 0 {
		return kgxerr.New(kgxerr.CodeStoreDatabaseFailure, "sqlite: create table without columns", kgxerr.FieldTable(table))
	}
	return s.mutate(ctx, "create_table", func(t *Store) error {
		_, err := t.exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), columnDefs(cols)))
		return err
	})
}

func (s *Store) AddColumns(ctx context.Context, table string, cols []schema.Column) ([]schema.Column, error) {
	var added []schema.Column
	err := s.mutate(ctx, "add_columns", func(t *Store) error {
		var err error
		added, err = t.addColumns(ctx, table, cols)
		return err
	})
	return added, err
}

func (s *Store) addColumns(ctx context.Context, table string, cols []schema.Column) ([]schema.Column, error) {
	have, err := s.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	missing := schema.Missing(have, cols)
	for _, c := range missing {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			quoteIdent(table), quoteIdent(c.Name), sqlType(c.Type.Materialized()))
		if _, err := s.exec(ctx, stmt); err != nil {
			return nil, err
		}
	}
	return missing, nil
}

func (s *Store) DropTable(ctx context.Context, table string) error {
	return s.mutate(ctx, "drop_table", func(t *Store) error {
		_, err := t.exec(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table))
		return err
	})
}

// Insert appends rows using a prepared single-row INSERT inside one
// transaction. Every row must have len(cols) values.
func (s *Store) Insert(ctx context.Context, table string, cols []string, rows [][]any) (int64, error) {
	if len(cols) == 0 {
		return 0, kgxerr.New(kgxerr.CodeStoreDatabaseFailure, "sqlite: insert without columns", kgxerr.FieldTable(table))
	}
	if len(rows) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmtSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), quoteList(cols), placeholders)

	var inserted int64
	err := s.mutate(ctx, "insert", func(t *Store) error {
		stmt, err := t.q.PrepareContext(ctx, stmtSQL)
		if err != nil {
			return kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: prepare insert", kgxerr.FieldTable(table))
		}
		defer stmt.Close()

		args := make([]any, len(cols))
		for i, row := range rows {
			if len(row) != len(cols) {
				return kgxerr.Errorf(kgxerr.CodeStoreDatabaseFailure,
					"sqlite: insert into %s: row %d has %d values, want %d", table, i, len(row), len(cols))
			}
			for j, v := range row {
				if args[j], err = encodeValue(v); err != nil {
					return kgxerr.Wrapf(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: encode %s.%s", table, cols[j])
				}
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: insert", kgxerr.FieldTable(table))
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Scan reads the selected columns in insertion order. Rows are buffered
// before fn is called so fn may use the store.
func (s *Store) Scan(ctx context.Context, table string, cols []string, fn func(storage.Row) error) error {
	all, err := s.Columns(ctx, table)
	if err != nil {
		return err
	}
	selected := all
	if cols != nil {
		selected = make([]schema.Column, 0, len(cols))
		for _, name := range cols {
			c, ok := schema.Lookup(all, name)
			if !ok {
				return kgxerr.New(kgxerr.CodeStoreTableNotFound, "sqlite: no such column",
					kgxerr.FieldTable(table), kgxerr.Field("column", name))
			}
			selected = append(selected, c)
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", quoteList(schema.Names(selected)), quoteIdent(table))
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: scan", kgxerr.FieldTable(table))
	}
	buffered, err := readRows(rows, selected)
	if err != nil {
		return kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "sqlite: scan", kgxerr.FieldTable(table))
	}
	for _, row := range buffered {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func readRows(rows *sql.Rows, cols []schema.Column) ([]storage.Row, error) {
	defer rows.Close()
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	var out []storage.Row
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(storage.Row, len(cols))
		for i, c := range cols {
			row[c.Name] = decodeValue(vals[i], c.Type)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func firstLine(query string) string {
	query = strings.TrimSpace(query)
	if i := strings.IndexByte(query, '\n'); i >= 0 {
		query = query[:i]
	}
	if len(query) > 80 {
		query = query[:80] + "..."
	}
	return query
}
