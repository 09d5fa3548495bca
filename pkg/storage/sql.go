package storage

import (
	"context"
	"database/sql"

	"github.com/everpan/idorm/pkg/errs"
)

// Conn is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLExecutor runs statements on a database/sql handle.
type SQLExecutor struct {
	conn Conn
}

func NewSQL(conn Conn) *SQLExecutor {
	return &SQLExecutor{conn: conn}
}

func (s *SQLExecutor) Execute(ctx context.Context, stmt *Statement) (*Result, error) {
	if stmt.Kind == KindSelect {
		rows, err := s.query(ctx, stmt)
		if err != nil {
			return nil, errs.WrapDatabase(string(stmt.Kind), stmt.SQL, err)
		}
		return &Result{Rows: rows}, nil
	}
	res, err := s.conn.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, errs.WrapDatabase(string(stmt.Kind), stmt.SQL, err)
	}
	return fromSQLResult(stmt, res)
}

func (s *SQLExecutor) query(ctx context.Context, stmt *Statement) ([]map[string]any, error) {
	rows, err := s.conn.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// scanRows reads every row into column -> value; NULL stays nil.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var ret []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		normalizeRow(row)
		ret = append(ret, row)
	}
	return ret, rows.Err()
}

// Begin needs the handle to be a *sql.DB.
func (s *SQLExecutor) Begin(ctx context.Context) (Tx, error) {
	db, ok := s.conn.(*sql.DB)
	if !ok {
		return nil, errs.WrapDatabase("BEGIN", "", ErrNoTransaction)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.WrapDatabase("BEGIN", "", err)
	}
	return &sqlTx{SQLExecutor: NewSQL(tx), tx: tx}, nil
}

type sqlTx struct {
	*SQLExecutor
	tx *sql.Tx
}

func (t *sqlTx) Commit() error {
	return errs.WrapDatabase("COMMIT", "", t.tx.Commit())
}

func (t *sqlTx) Rollback() error {
	return errs.WrapDatabase("ROLLBACK", "", t.tx.Rollback())
}
