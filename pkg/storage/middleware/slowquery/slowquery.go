package slowquery

import (
	"context"
	"time"

	"github.com/everpan/idorm/pkg/storage"
	"go.uber.org/zap"
)

type MiddlewareBuilder struct {
	logFunc func(stmt *storage.Statement, duration time.Duration)

	// 慢查询阈值
	threshold time.Duration
}

func NewMiddlewareBuilder(threshold time.Duration, fn func(stmt *storage.Statement, duration time.Duration)) *MiddlewareBuilder {
	return &MiddlewareBuilder{
		logFunc:   fn,
		threshold: threshold,
	}
}

// ZapLogFunc reports slow statements as warnings.
func ZapLogFunc(logger *zap.Logger) func(stmt *storage.Statement, duration time.Duration) {
	return func(stmt *storage.Statement, duration time.Duration) {
		logger.Warn("slow query", zap.String("table", stmt.Table), zap.String("sql", stmt.SQL), zap.Duration("duration", duration))
	}
}

func (m MiddlewareBuilder) Build() storage.Middleware {
	return func(next storage.Handler) storage.Handler {
		return func(ctx context.Context, stmt *storage.Statement) (*storage.Result, error) {
			startTime := time.Now()
			defer func() {
				duration := time.Since(startTime)
				if duration <= m.threshold || m.logFunc == nil {
					return
				}
				m.logFunc(stmt, duration)
			}()
			return next(ctx, stmt)
		}
	}
}
