package orm

import (
	"context"
	"strings"

	"github.com/everpan/idorm/pkg/errs"
	"github.com/everpan/idorm/pkg/model"
	"github.com/everpan/idorm/pkg/query"
	"github.com/everpan/idorm/pkg/relation"
	"github.com/everpan/idorm/pkg/storage"
	"xorm.io/builder"
)

// QueryBuilder is a single request. Steps only record; nothing is sent before
// Execute (or Exec, Find, First), and a builder executes at most once.
type QueryBuilder struct {
	db    *DB
	class *model.Class
	op    query.Op

	payload any
	columns []string
	filter  query.Filter
	orders  []*query.Order
	limit   *query.Limit

	inst   *model.Instance
	rel    relation.Descriptor
	owners []*model.Instance
	byID   *model.Instance

	err      error
	consumed bool
}

// Result of Execute. Rows is set for select; Instance is the written instance of
// a single row insert or an instance scoped update.
type Result struct {
	Affected     int64
	Rows         []*model.Instance
	Instance     *model.Instance
	LastInsertID int64
}

func (qb *QueryBuilder) setErr(err error) {
	if qb.err == nil && err != nil {
		qb.err = err
	}
}

func (qb *QueryBuilder) Class() *model.Class { return qb.class }

// Select reads the given columns (or properties), all of them when none.
func (qb *QueryBuilder) Select(cols ...string) *QueryBuilder {
	qb.op = query.OpSelect
	qb.columns = qb.columns[:0]
	for _, c := range cols {
		col, err := qb.column(c)
		qb.setErr(err)
		qb.columns = append(qb.columns, col)
	}
	return qb
}

// Insert writes payload: a *model.Instance, a property map, JSON bytes or a
// struct marshalled through JSON.
func (qb *QueryBuilder) Insert(payload any) *QueryBuilder {
	qb.op = query.OpInsert
	qb.payload = payload
	return qb
}

// Update writes payload validated against the full schema. Primary key
// properties of the payload are never written.
func (qb *QueryBuilder) Update(payload any) *QueryBuilder {
	qb.op = query.OpUpdate
	qb.payload = payload
	return qb
}

// Patch is Update with required properties left unchecked.
func (qb *QueryBuilder) Patch(payload any) *QueryBuilder {
	qb.op = query.OpPatch
	qb.payload = payload
	return qb
}

func (qb *QueryBuilder) Delete() *QueryBuilder {
	qb.op = query.OpDelete
	qb.payload = nil
	return qb
}

// Where ANDs col op val onto everything added so far.
func (qb *QueryBuilder) Where(col, op string, val any) *QueryBuilder {
	qb.filter.Where(qb.predicate(col, op, val))
	return qb
}

func (qb *QueryBuilder) WhereEq(col string, val any) *QueryBuilder {
	return qb.Where(col, "=", val)
}

// OrWhere ORs col op val with everything added so far.
func (qb *QueryBuilder) OrWhere(col, op string, val any) *QueryBuilder {
	qb.filter.OrWhere(qb.predicate(col, op, val))
	return qb
}

func (qb *QueryBuilder) OrWhereEq(col string, val any) *QueryBuilder {
	return qb.OrWhere(col, "=", val)
}

// WhereGroup ANDs the predicates fn adds, as one parenthesized group.
func (qb *QueryBuilder) WhereGroup(fn func(g *QueryBuilder)) *QueryBuilder {
	qb.filter.Where(qb.group(fn))
	return qb
}

func (qb *QueryBuilder) OrWhereGroup(fn func(g *QueryBuilder)) *QueryBuilder {
	qb.filter.OrWhere(qb.group(fn))
	return qb
}

// AddFilter ANDs a prebuilt condition; its columns are used as given.
func (qb *QueryBuilder) AddFilter(c builder.Cond) *QueryBuilder {
	qb.filter.Where(c)
	return qb
}

// ApplyWheres appends the where DSL, each item joined by its tie.
func (qb *QueryBuilder) ApplyWheres(wheres []*query.Where) *QueryBuilder {
	qb.setErr(query.ApplyWheres(&qb.filter, wheres, qb.column))
	return qb
}

func (qb *QueryBuilder) OrderBy(col, dir string) *QueryBuilder {
	c, err := qb.column(col)
	if err != nil {
		qb.setErr(err)
		return qb
	}
	o, err := query.NewOrder(c, dir)
	qb.setErr(err)
	if err == nil {
		qb.orders = append(qb.orders, o)
	}
	return qb
}

func (qb *QueryBuilder) Limit(num, offset int) *QueryBuilder {
	qb.limit = &query.Limit{Num: num, Offset: offset}
	return qb
}

func (qb *QueryBuilder) predicate(col, op string, val any) builder.Cond {
	c, err := qb.column(col)
	if err != nil {
		qb.setErr(err)
		return nil
	}
	cond, err := query.Predicate(c, op, val)
	qb.setErr(err)
	return cond
}

func (qb *QueryBuilder) group(fn func(g *QueryBuilder)) builder.Cond {
	g := qb.db.newBuilder(qb.class)
	fn(g)
	qb.setErr(g.err)
	return g.filter.Cond()
}

// column accepts table qualified names and columns as is and maps properties
// to their column.
func (qb *QueryBuilder) column(name string) (string, error) {
	if qb.class == nil {
		return name, nil
	}
	if strings.Contains(name, ".") || qb.class.HasColumn(name) {
		return name, nil
	}
	if col, ok := qb.class.Column(name); ok {
		return col, nil
	}
	return "", errs.NewConfigurationError(qb.class.Name(), "", "unknown column '%s'", name)
}

// Build compiles the statement Execute would send, without running hooks or
// validation.
func (qb *QueryBuilder) Build() (*storage.Statement, error) {
	if qb.err != nil {
		return nil, qb.err
	}
	req, err := qb.request()
	if err != nil {
		return nil, err
	}
	if qb.op == query.OpInsert || qb.op.IsUpdate() {
		target, err := qb.target()
		if err != nil {
			return nil, err
		}
		if qb.op == query.OpInsert && qb.rel != nil {
			target = target.Clone()
			if err := qb.rel.ApplyToInsert(target, qb.owners); err != nil {
				return nil, err
			}
		}
		req.Values = qb.values(target)
	}
	return req.Build(qb.db.dialect)
}

// Execute resolves the request. It runs at most once per builder.
func (qb *QueryBuilder) Execute(ctx context.Context) (*Result, error) {
	if qb.consumed {
		return nil, errs.ErrQueryConsumed
	}
	qb.consumed = true
	if qb.err != nil {
		return nil, qb.err
	}
	switch qb.op {
	case query.OpInsert:
		return qb.insert(ctx)
	case query.OpUpdate, query.OpPatch:
		return qb.update(ctx)
	case query.OpDelete:
		return qb.delete(ctx)
	default:
		return qb.find(ctx)
	}
}

// Exec executes and returns the affected row count, the row count for select.
func (qb *QueryBuilder) Exec(ctx context.Context) (int64, error) {
	res, err := qb.Execute(ctx)
	if err != nil {
		return 0, err
	}
	if qb.op == query.OpSelect {
		return int64(len(res.Rows)), nil
	}
	return res.Affected, nil
}

func (qb *QueryBuilder) Find(ctx context.Context) ([]*model.Instance, error) {
	if qb.op != query.OpSelect {
		return nil, errs.NewConfigurationError(qb.className(), "", "Find on a %s query", qb.op)
	}
	res, err := qb.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// First returns the first selected row or errs.ErrNotFound.
func (qb *QueryBuilder) First(ctx context.Context) (*model.Instance, error) {
	if qb.limit == nil {
		qb.Limit(1, 0)
	}
	rows, err := qb.Find(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.ErrNotFound
	}
	return rows[0], nil
}

func (qb *QueryBuilder) className() string {
	if qb.class == nil {
		return ""
	}
	return qb.class.Name()
}
