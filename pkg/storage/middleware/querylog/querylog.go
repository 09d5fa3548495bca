package querylog

import (
	"context"

	"github.com/everpan/idorm/pkg/storage"
	"go.uber.org/zap"
)

type MiddlewareBuilder struct {
	// 参数可能包含敏感数据, 默认不打印
	logFunc func(stmt *storage.Statement)
}

func NewMiddlewareBuilder(fn func(stmt *storage.Statement)) *MiddlewareBuilder {
	return &MiddlewareBuilder{logFunc: fn}
}

// ZapLogFunc logs at debug level, with args only when withArgs is set.
func ZapLogFunc(logger *zap.Logger, withArgs bool) func(stmt *storage.Statement) {
	return func(stmt *storage.Statement) {
		fields := []zap.Field{zap.String("kind", string(stmt.Kind)), zap.String("table", stmt.Table), zap.String("sql", stmt.SQL)}
		if withArgs {
			fields = append(fields, zap.Any("args", stmt.Args))
		}
		logger.Debug("query", fields...)
	}
}

func (m MiddlewareBuilder) Build() storage.Middleware {
	return func(next storage.Handler) storage.Handler {
		return func(ctx context.Context, stmt *storage.Statement) (*storage.Result, error) {
			if m.logFunc != nil {
				m.logFunc(stmt)
			}
			return next(ctx, stmt)
		}
	}
}
