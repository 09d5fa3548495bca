package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/everpan/idorm/pkg/errs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"xorm.io/xorm"
)

func newMock(t *testing.T) (*SQLExecutor, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQL(db), mock
}

func TestSQLExecutor_Execute(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		stmt   *Statement
		expect func(m sqlmock.Sqlmock)
		check  func(t *testing.T, res *Result, err error)
	}{
		{"select", &Statement{Kind: KindSelect, Table: "t", SQL: "SELECT * FROM t WHERE id=?", Args: []any{1}},
			func(m sqlmock.Sqlmock) {
				m.ExpectQuery("SELECT * FROM t WHERE id=?").WithArgs(1).
					WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), []byte("a")))
			},
			func(t *testing.T, res *Result, err error) {
				require.NoError(t, err)
				assert.Equal(t, []map[string]any{{"id": int64(1), "name": "a"}}, res.Rows)
			}},
		{"update", &Statement{Kind: KindUpdate, Table: "t", SQL: "UPDATE t SET a=? WHERE id<?", Args: []any{"x", 3}},
			func(m sqlmock.Sqlmock) {
				m.ExpectExec("UPDATE t SET a=? WHERE id<?").WithArgs("x", 3).WillReturnResult(sqlmock.NewResult(0, 2))
			},
			func(t *testing.T, res *Result, err error) {
				require.NoError(t, err)
				assert.Equal(t, int64(2), res.Affected)
				assert.Zero(t, res.LastInsertID)
			}},
		{"insert", &Statement{Kind: KindInsert, Table: "t", SQL: "INSERT INTO t (a) Values (?)", Args: []any{"x"}},
			func(m sqlmock.Sqlmock) {
				m.ExpectExec("INSERT INTO t (a) Values (?)").WithArgs("x").WillReturnResult(sqlmock.NewResult(9, 1))
			},
			func(t *testing.T, res *Result, err error) {
				require.NoError(t, err)
				assert.Equal(t, int64(9), res.LastInsertID)
			}},
		{"constraint violation", &Statement{Kind: KindUpdate, Table: "t", SQL: "UPDATE t SET a=?", Args: []any{"x"}},
			func(m sqlmock.Sqlmock) {
				m.ExpectExec("UPDATE t SET a=?").WillReturnError(errors.New("UNIQUE constraint failed: t.a"))
			},
			func(t *testing.T, res *Result, err error) {
				assert.Nil(t, res)
				var dbErr *errs.DatabaseError
				require.ErrorAs(t, err, &dbErr)
				assert.Equal(t, "UPDATE", dbErr.Op)
				assert.Equal(t, "UPDATE t SET a=?", dbErr.SQL)
				assert.EqualError(t, dbErr.Cause, "UNIQUE constraint failed: t.a")
			}},
		{"query error", &Statement{Kind: KindSelect, Table: "t", SQL: "SELECT * FROM nope"},
			func(m sqlmock.Sqlmock) {
				m.ExpectQuery("SELECT * FROM nope").WillReturnError(errors.New("no such table: nope"))
			},
			func(t *testing.T, res *Result, err error) {
				assert.True(t, errs.IsDatabaseError(err))
			}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, mock := newMock(t)
			tt.expect(mock)
			res, err := exec.Execute(ctx, tt.stmt)
			tt.check(t, res, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLExecutor_Begin(t *testing.T) {
	ctx := context.Background()
	exec, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM t WHERE id=?").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	tx, err := exec.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Execute(ctx, &Statement{Kind: KindDelete, SQL: "DELETE FROM t WHERE id=?", Args: []any{1}})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = tx.(Beginner).Begin(ctx)
	assert.ErrorIs(t, err, ErrNoTransaction)
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	exec, mock := newMock(t)
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, stmt *Statement) (*Result, error) {
				order = append(order, name)
				return next(ctx, stmt)
			}
		}
	}
	chained := Chain(exec, mw("a"), mw("b"))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE t SET a=? WHERE id=?").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := chained.(Beginner).Begin(ctx)
	require.NoError(t, err)
	res, err := tx.Execute(ctx, &Statement{Kind: KindUpdate, SQL: "UPDATE t SET a=? WHERE id=?", Args: []any{"x", 1}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)
	require.NoError(t, tx.Commit())
	assert.Equal(t, []string{"a", "b"}, order)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Same(t, exec, Chain(exec))
}

func TestXormExecutor(t *testing.T) {
	ctx := context.Background()
	engine, err := xorm.NewEngine("sqlite3", filepath.Join(t.TempDir(), "storage.db"))
	require.NoError(t, err)
	defer engine.Close()
	_, err = engine.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT, score INTEGER)")
	require.NoError(t, err)

	exec := NewXorm(engine)
	res, err := exec.Execute(ctx, &Statement{Kind: KindInsert, Table: "t", SQL: "INSERT INTO t (name) Values (?)", Args: []any{"a"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.LastInsertID)
	assert.Equal(t, int64(1), res.Affected)

	tx, err := exec.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Execute(ctx, &Statement{Kind: KindUpdate, Table: "t", SQL: "UPDATE t SET name=?", Args: []any{"rolled back"}})
	require.NoError(t, err)
	res, err = tx.Execute(ctx, &Statement{Kind: KindSelect, Table: "t", SQL: "SELECT name, score FROM t"})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"name": "rolled back", "score": nil}}, res.Rows, "reads go through the transaction")
	require.NoError(t, tx.Rollback())

	sess := engine.NewSession()
	defer sess.Close()
	res, err = NewXormSession(sess).Execute(ctx, &Statement{Kind: KindSelect, Table: "t", SQL: "SELECT name, score FROM t"})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"name": "a", "score": nil}}, res.Rows)

	res, err = exec.Execute(ctx, &Statement{Kind: KindSelect, Table: "t", SQL: "SELECT * FROM t WHERE id=?", Args: []any{1}})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "a", res.Rows[0]["name"])
	assert.Nil(t, res.Rows[0]["score"])

	_, err = exec.Execute(ctx, &Statement{Kind: KindUpdate, Table: "nope", SQL: "UPDATE nope SET a=?", Args: []any{1}})
	assert.True(t, errs.IsDatabaseError(err))

	assert.True(t, (&Statement{SQL: "UPDATE t SET a=? WHERE id=?"}).HasWhere())
	assert.False(t, (&Statement{SQL: "UPDATE t SET a=?"}).HasWhere())
}
