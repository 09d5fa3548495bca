package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/everpan/idorm/pkg/errs"
	"github.com/everpan/idorm/pkg/model"
	"github.com/everpan/idorm/pkg/storage"
	"xorm.io/builder"
)

// Op is the operation of a request.
type Op string

const (
	OpSelect Op = "select"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpPatch  Op = "patch"
	OpDelete Op = "delete"
)

// Kind returns the statement verb of the op.
func (o Op) Kind() storage.Kind {
	switch o {
	case OpInsert:
		return storage.KindInsert
	case OpUpdate, OpPatch:
		return storage.KindUpdate
	case OpDelete:
		return storage.KindDelete
	default:
		return storage.KindSelect
	}
}

func (o Op) IsUpdate() bool { return o == OpUpdate || o == OpPatch }

// Request is one statement in the making. Values are keyed by column.
type Request struct {
	Class   *model.Class
	Op      Op
	Values  map[string]any
	Columns []string
	Filter  Filter
	Orders  []*Order
	Limit   *Limit

	scope builder.Cond
}

func NewRequest(cls *model.Class, op Op) *Request {
	return &Request{Class: cls, Op: op}
}

// Scope ANDs c into the owner scope of the request.
func (r *Request) Scope(c builder.Cond) *Request {
	if c == nil {
		return r
	}
	if r.scope == nil {
		r.scope = c
	} else {
		r.scope = builder.And(r.scope, c)
	}
	return r
}

func (r *Request) HasScope() bool { return r.scope != nil }

// Cond is the final predicate: the scope ANDed with the whole caller tree.
func (r *Request) Cond() builder.Cond {
	switch {
	case r.scope == nil:
		return r.Filter.Cond()
	case r.Filter.IsEmpty():
		return r.scope
	default:
		return builder.And(r.scope, r.Filter.Cond())
	}
}

// Build compiles the request for dialect d.
func (r *Request) Build(d Dialect) (*storage.Statement, error) {
	if r.Class == nil {
		return nil, errs.NewConfigurationError("", "", "request has no model")
	}
	table := r.Class.Table()
	cond := r.Cond()
	bld := d.builder()
	switch r.Op {
	case OpSelect:
		bld.Select(r.Columns...).From(table)
		if cond != nil {
			bld.Where(cond)
		}
		if len(r.Orders) > 0 {
			os := make([]string, 0, len(r.Orders))
			for _, o := range r.Orders {
				os = append(os, o.String())
			}
			bld.OrderBy(strings.Join(os, ","))
		}
		if r.Limit != nil && r.Limit.Num > 0 {
			bld.Limit(r.Limit.Num, r.Limit.Offset)
		}
	case OpInsert:
		if len(r.Values) == 0 {
			return nil, errs.NewValidationError(r.Class.Name(), nil, errs.Violation{Message: "no columns to insert"})
		}
		bld.Insert(columnEqs(r.Values)...).Into(table)
	case OpUpdate, OpPatch:
		if len(r.Values) == 0 {
			return nil, errs.NewValidationError(r.Class.Name(), nil, errs.Violation{Message: "no columns to update"})
		}
		eqs := columnEqs(r.Values)
		conds := make([]builder.Cond, len(eqs))
		for i, eq := range eqs {
			conds[i] = eq.(builder.Eq)
		}
		bld.Update(conds...).From(table)
		if cond != nil {
			bld.Where(cond)
		}
	case OpDelete:
		if cond == nil {
			// builder always writes a WHERE for deletes
			return &storage.Statement{Kind: storage.KindDelete, Table: table, SQL: "DELETE FROM " + table}, nil
		}
		bld.Delete(cond).From(table)
	default:
		return nil, fmt.Errorf("unknown op '%s'", r.Op)
	}
	sql, args, err := bld.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build %s statement on '%s': %w", r.Op, table, err)
	}
	return &storage.Statement{Kind: r.Op.Kind(), Table: table, SQL: sql, Args: args}, nil
}

// columnEqs returns one Eq per column, ordered by column name, so that
// statements render deterministically.
func columnEqs(values map[string]any) []any {
	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	ret := make([]any, len(cols))
	for i, col := range cols {
		ret[i] = builder.Eq{col: values[col]}
	}
	return ret
}
