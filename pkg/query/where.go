package query

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"xorm.io/builder"
)

type Where struct {
	Col      string   `json:"col,omitempty"`
	Op       string   `json:"op,omitempty"` // operate
	Val      any      `json:"val,omitempty"`
	Tie      string   `json:"tie,omitempty"`   // 与上一个where的接连方式
	SubWhere []*Where `json:"where,omitempty"` // 子条件
}

// ColumnMapper turns a caller supplied column (or property) name into a column.
type ColumnMapper func(name string) (string, error)

func parseWhere(data []byte) ([]*Where, error) {
	if data == nil {
		return nil, nil
	}
	var result []*Where
	err := json.Unmarshal(data, &result)
	if err != nil {
		return nil, err
	}
	err = VerifyWhere(result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ToCond renders the where with its sub conditions; sub conditions are grouped
// and ANDed with the where's own predicate.
func (w *Where) ToCond(mapCol ColumnMapper) (builder.Cond, error) {
	var own builder.Cond
	if w.Col != "" {
		col := w.Col
		if mapCol != nil {
			var err error
			if col, err = mapCol(w.Col); err != nil {
				return nil, err
			}
		}
		if w.Op == "expr" {
			return nil, fmt.Errorf("expr not impl")
		}
		var err error
		if own, err = Predicate(col, w.Op, w.Val); err != nil {
			return nil, err
		}
	}
	if len(w.SubWhere) == 0 {
		return own, nil
	}
	var sub Filter
	if err := ApplyWheres(&sub, w.SubWhere, mapCol); err != nil {
		return nil, err
	}
	if own == nil {
		return sub.Cond(), nil
	}
	return builder.And(own, sub.Cond()), nil
}

// ApplyWheres appends wheres to f honoring each where's tie.
func ApplyWheres(f *Filter, wheres []*Where, mapCol ColumnMapper) error {
	for _, w := range wheres {
		cond, err := w.ToCond(mapCol)
		if err != nil {
			return err
		}
		if w.Tie == "or" {
			f.OrWhere(cond)
		} else {
			f.Where(cond)
		}
	}
	return nil
}

func (w *Where) Verify() error {
	if w == nil {
		return errors.New("where is nil")
	}
	if w.Tie != "" {
		if w.Tie != "and" && w.Tie != "or" {
			return errors.New("where tie must be 'and' or 'or'")
		}
	}
	if w.Col == "" && len(w.SubWhere) == 0 {
		return errors.New("where col is required")
	}
	if w.Col != "" && w.Op == "" {
		return errors.New("where op is required")
	}
	return nil
}

func VerifyWhere(ws []*Where) error {
	if len(ws) == 0 {
		return errors.New("where is empty")
	}
	for _, w := range ws {
		err := w.Verify()
		if err != nil {
			return err
		}
		if w.SubWhere != nil {
			err = VerifyWhere(w.SubWhere)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
