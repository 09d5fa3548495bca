// Package requirewhere refuses UPDATE and DELETE statements that would touch a
// whole table.
package requirewhere

import (
	"context"

	"github.com/everpan/idorm/pkg/errs"
	"github.com/everpan/idorm/pkg/storage"
)

type MiddlewareBuilder struct{}

func NewMiddlewareBuilder() *MiddlewareBuilder {
	return &MiddlewareBuilder{}
}

func (m MiddlewareBuilder) Build() storage.Middleware {
	return func(next storage.Handler) storage.Handler {
		return func(ctx context.Context, stmt *storage.Statement) (*storage.Result, error) {
			switch stmt.Kind {
			case storage.KindUpdate, storage.KindDelete:
				if !stmt.HasWhere() {
					return nil, errs.WrapDatabase(string(stmt.Kind), stmt.SQL, errs.ErrUnsafeStatement)
				}
			}
			return next(ctx, stmt)
		}
	}
}
