package prometheus

import (
	"context"
	"errors"
	"time"

	"github.com/everpan/idorm/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
)

type MiddlewareBuilder struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string

	// nil 时使用 prometheus.DefaultRegisterer
	Registerer prometheus.Registerer
}

func (m MiddlewareBuilder) Build() storage.Middleware {
	vector := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name:      m.Name,
		Subsystem: m.Subsystem,
		Namespace: m.Namespace,
		Help:      m.Help,

		// 0.5: 0.01 表示 0.5 分位, 误差范围 0.49-0.51
		Objectives: map[float64]float64{
			0.5:   0.01,
			0.75:  0.01,
			0.90:  0.01,
			0.99:  0.001,
			0.999: 0.0001,
		},
	}, []string{
		"kind",   // SELECT/INSERT/UPDATE/DELETE
		"table",  // 表名
		"status", // ok 或 error
	})

	reg := m.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(vector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
		vector = are.ExistingCollector.(*prometheus.SummaryVec)
	}

	return func(next storage.Handler) storage.Handler {
		return func(ctx context.Context, stmt *storage.Statement) (*storage.Result, error) {
			startTime := time.Now()
			res, err := next(ctx, stmt)
			status := "ok"
			if err != nil {
				status = "error"
			}
			vector.WithLabelValues(string(stmt.Kind), stmt.Table, status).
				Observe(float64(time.Since(startTime).Milliseconds()))
			return res, err
		}
	}
}
