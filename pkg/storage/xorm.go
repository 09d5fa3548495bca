package storage

import (
	"context"
	"database/sql"

	"github.com/everpan/idorm/pkg/errs"
	"xorm.io/xorm"
	"xorm.io/xorm/core"
)

// XormExecutor runs statements on a xorm engine or on an open session.
type XormExecutor struct {
	engine  *xorm.Engine
	session *xorm.Session
}

func NewXorm(engine *xorm.Engine) *XormExecutor {
	return &XormExecutor{engine: engine}
}

// NewXormSession wraps a session the caller began; commit and rollback stay with
// the caller.
func NewXormSession(session *xorm.Session) *XormExecutor {
	return &XormExecutor{session: session}
}

func (x *XormExecutor) sess(ctx context.Context) *xorm.Session {
	if x.session != nil {
		return x.session.Context(ctx)
	}
	return x.engine.Context(ctx)
}

func (x *XormExecutor) Execute(ctx context.Context, stmt *Statement) (*Result, error) {
	if stmt.Kind == KindSelect {
		rows, err := x.query(ctx, stmt)
		if err != nil {
			return nil, errs.WrapDatabase(string(stmt.Kind), stmt.SQL, err)
		}
		return &Result{Rows: rows}, nil
	}
	sqlOrArgs := append([]any{stmt.SQL}, stmt.Args...)
	res, err := x.sess(ctx).Exec(sqlOrArgs...)
	if err != nil {
		return nil, errs.WrapDatabase(string(stmt.Kind), stmt.SQL, err)
	}
	return fromSQLResult(stmt, res)
}

// query scans through the core handles; Session.QueryInterface turns NULL into
// zero values on sqlite.
func (x *XormExecutor) query(ctx context.Context, stmt *Statement) ([]map[string]any, error) {
	var (
		rows *core.Rows
		err  error
	)
	switch {
	case x.session != nil && x.session.Tx() != nil:
		rows, err = x.session.Tx().QueryContext(ctx, stmt.SQL, stmt.Args...)
	case x.session != nil:
		rows, err = x.session.DB().QueryContext(ctx, stmt.SQL, stmt.Args...)
	default:
		rows, err = x.engine.DB().QueryContext(ctx, stmt.SQL, stmt.Args...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows.Rows)
}

// Begin opens a transaction on a fresh session of the engine.
func (x *XormExecutor) Begin(ctx context.Context) (Tx, error) {
	if x.session != nil {
		return nil, errs.WrapDatabase("BEGIN", "", ErrNoTransaction)
	}
	s := x.engine.NewSession().Context(ctx)
	if err := s.Begin(); err != nil {
		s.Close()
		return nil, errs.WrapDatabase("BEGIN", "", err)
	}
	return &xormTx{XormExecutor: NewXormSession(s)}, nil
}

type xormTx struct {
	*XormExecutor
}

func (t *xormTx) Commit() error {
	defer t.session.Close()
	return errs.WrapDatabase("COMMIT", "", t.session.Commit())
}

func (t *xormTx) Rollback() error {
	defer t.session.Close()
	return errs.WrapDatabase("ROLLBACK", "", t.session.Rollback())
}

func fromSQLResult(stmt *Statement, res sql.Result) (*Result, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errs.WrapDatabase(string(stmt.Kind), stmt.SQL, err)
	}
	ret := &Result{Affected: affected}
	if stmt.Kind == KindInsert {
		// postgres has no LastInsertId, the key is then left to the caller
		if id, err := res.LastInsertId(); err == nil {
			ret.LastInsertID = id
		}
	}
	return ret, nil
}

func normalizeRow(row map[string]any) {
	for k, v := range row {
		switch t := v.(type) {
		case []byte:
			row[k] = string(t)
		case sql.RawBytes:
			row[k] = string(t)
		}
	}
}
