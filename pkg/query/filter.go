package query

import (
	"fmt"
	"reflect"
	"strings"

	"xorm.io/builder"
)

// Never matches no row.
func Never() builder.Cond {
	return builder.Expr("1=0")
}

// Filter is the caller predicate tree. Where and OrWhere compose left to right:
// Where(p) turns the tree t into (t AND p), OrWhere(p) into (t OR p).
type Filter struct {
	cond builder.Cond
}

func (f *Filter) Where(c builder.Cond) *Filter {
	if !valid(c) {
		return f
	}
	if f.cond == nil {
		f.cond = c
	} else {
		f.cond = builder.And(f.cond, c)
	}
	return f
}

func (f *Filter) OrWhere(c builder.Cond) *Filter {
	if !valid(c) {
		return f
	}
	if f.cond == nil {
		f.cond = c
	} else {
		f.cond = builder.Or(f.cond, c)
	}
	return f
}

// Cond returns the tree, nil when no predicate was added.
func (f *Filter) Cond() builder.Cond {
	return f.cond
}

func (f *Filter) IsEmpty() bool {
	return f.cond == nil
}

func valid(c builder.Cond) bool {
	return c != nil && c.IsValid()
}

// Predicate builds col <op> val. op accepts SQL symbols (=, <>, <, like, in, ...)
// and the where DSL names (eq, ne, lt, like, in, ...).
func Predicate(col, op string, val any) (builder.Cond, error) {
	if col == "" {
		return nil, fmt.Errorf("predicate column is required")
	}
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "=", "==", "eq":
		if val == nil {
			return builder.IsNull{col}, nil
		}
		return builder.Eq{col: val}, nil
	case "!=", "<>", "ne":
		if val == nil {
			return builder.NotNull{col}, nil
		}
		return builder.Neq{col: val}, nil
	case "<", "lt":
		return builder.Lt{col: val}, nil
	case "<=", "lte":
		return builder.Lte{col: val}, nil
	case ">", "gt":
		return builder.Gt{col: val}, nil
	case ">=", "gte":
		return builder.Gte{col: val}, nil
	case "like":
		// builder.Like 会自动补 %, 这里按原样使用调用方的模式
		return builder.Expr(col+" LIKE ?", fmt.Sprint(val)), nil
	case "not like", "notlike":
		return builder.Expr(col+" NOT LIKE ?", fmt.Sprint(val)), nil
	case "in":
		vals := flatten(val)
		if len(vals) == 0 {
			return Never(), nil
		}
		return builder.In(col, vals...), nil
	case "not in", "notin":
		vals := flatten(val)
		if len(vals) == 0 {
			return builder.Expr("1=1"), nil
		}
		return builder.NotIn(col, vals...), nil
	case "is null", "isnull":
		return builder.IsNull{col}, nil
	case "is not null", "notnull":
		return builder.NotNull{col}, nil
	case "between":
		vals := flatten(val)
		if len(vals) != 2 {
			return nil, fmt.Errorf("between needs exactly two values, got %d", len(vals))
		}
		return builder.Between{Col: col, LessVal: vals[0], MoreVal: vals[1]}, nil
	case "":
		return nil, fmt.Errorf("predicate operator is required")
	default:
		return nil, fmt.Errorf("unsupported operator '%s'", op)
	}
}

func flatten(val any) []any {
	if val == nil {
		return nil
	}
	if vs, ok := val.([]any); ok {
		return vs
	}
	rv := reflect.ValueOf(val)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{val}
	}
	// []byte 作为单个值
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return []any{val}
	}
	ret := make([]any, rv.Len())
	for i := range ret {
		ret[i] = rv.Index(i).Interface()
	}
	return ret
}

// KeyIn restricts cols to the given key tuples. Tuples holding a nil are
// skipped; when none remain the result is Never. Composite keys use a row value
// IN list when the dialect has one and an OR of ANDs otherwise.
func KeyIn(d Dialect, cols []string, tuples [][]any) builder.Cond {
	tuples = NonNullTuples(tuples)
	if len(tuples) == 0 || len(cols) == 0 {
		return Never()
	}
	if len(cols) == 1 {
		vals := make([]any, len(tuples))
		for i, t := range tuples {
			vals[i] = t[0]
		}
		return builder.In(cols[0], vals...)
	}
	if d.TupleIn {
		ph := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"
		phs := make([]string, len(tuples))
		args := make([]any, 0, len(cols)*len(tuples))
		for i, t := range tuples {
			phs[i] = ph
			args = append(args, t...)
		}
		return builder.Expr(fmt.Sprintf("(%s) IN (%s)", strings.Join(cols, ","), strings.Join(phs, ",")), args...)
	}
	ors := make([]builder.Cond, len(tuples))
	for i, t := range tuples {
		ands := make([]builder.Cond, len(cols))
		for j, col := range cols {
			ands[j] = builder.Eq{col: t[j]}
		}
		ors[i] = builder.And(ands...)
	}
	return builder.Or(ors...)
}

// NonNullTuples drops the tuples holding a nil, which can match no row.
func NonNullTuples(tuples [][]any) [][]any {
	ret := make([][]any, 0, len(tuples))
next:
	for _, t := range tuples {
		for _, v := range t {
			if v == nil {
				continue next
			}
		}
		ret = append(ret, t)
	}
	return ret
}
