package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrNoTransaction is returned by Begin when the executor cannot open transactions.
var ErrNoTransaction = errors.New("executor does not support transactions")

// Kind is the statement verb.
type Kind string

const (
	KindSelect Kind = "SELECT"
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

// Statement is one parameterized SQL statement.
type Statement struct {
	Kind  Kind
	Table string
	SQL   string
	Args  []any
}

// HasWhere reports whether the statement carries a WHERE clause.
func (s *Statement) HasWhere() bool {
	return strings.Contains(strings.ToUpper(s.SQL), " WHERE ")
}

// Result is what a statement produced. Rows is only set for SELECT.
type Result struct {
	Rows         []map[string]any
	Affected     int64
	LastInsertID int64
}

// Executor sends statements to the database. Failures are *errs.DatabaseError.
type Executor interface {
	Execute(ctx context.Context, stmt *Statement) (*Result, error)
}

// Tx is an Executor bound to an open transaction.
type Tx interface {
	Executor
	Commit() error
	Rollback() error
}

// Beginner is implemented by executors able to open a transaction.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// Handler is the function form of Executor, the unit middlewares wrap.
type Handler func(ctx context.Context, stmt *Statement) (*Result, error)

type Middleware func(next Handler) Handler

type chained struct {
	root    Executor
	handler Handler
	mws     []Middleware
}

// Chain wraps exec with mws; the first middleware runs outermost. Begin on the
// result opens a transaction on exec whose statements run through the same chain.
func Chain(exec Executor, mws ...Middleware) Executor {
	if len(mws) == 0 {
		return exec
	}
	h := exec.Execute
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return &chained{root: exec, handler: h, mws: mws}
}

func (c *chained) Execute(ctx context.Context, stmt *Statement) (*Result, error) {
	return c.handler(ctx, stmt)
}

func (c *chained) Begin(ctx context.Context) (Tx, error) {
	b, ok := c.root.(Beginner)
	if !ok {
		return nil, ErrNoTransaction
	}
	tx, err := b.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &chainedTx{Tx: tx, exec: Chain(tx, c.mws...)}, nil
}

type chainedTx struct {
	Tx
	exec Executor
}

func (c *chainedTx) Execute(ctx context.Context, stmt *Statement) (*Result, error) {
	return c.exec.Execute(ctx, stmt)
}
