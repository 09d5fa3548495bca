package opentelemetry

import (
	"context"
	"fmt"

	"github.com/everpan/idorm/pkg/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/everpan/idorm/pkg/storage/middleware/opentelemetry"

type MiddlewareBuilder struct {
	Tracer trace.Tracer
}

func (m MiddlewareBuilder) Build() storage.Middleware {
	if m.Tracer == nil {
		m.Tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}
	return func(next storage.Handler) storage.Handler {
		return func(ctx context.Context, stmt *storage.Statement) (*storage.Result, error) {
			// span name: UPDATE-Model1
			spanCtx, span := m.Tracer.Start(ctx, fmt.Sprintf("%s-%s", stmt.Kind, stmt.Table))
			defer span.End()

			// 不记录参数, 避免敏感数据和大字段进入 tracing
			span.SetAttributes(
				attribute.String("sql", stmt.SQL),
				attribute.String("table", stmt.Table),
				attribute.String("component", "idorm"),
			)

			res, err := next(spanCtx, stmt)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return res, err
		}
	}
}
