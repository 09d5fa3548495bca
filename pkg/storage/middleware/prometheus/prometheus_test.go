package prometheus

import (
	"context"
	"errors"
	"testing"

	"github.com/everpan/idorm/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct{ err error }

func (f fakeExec) Execute(context.Context, *storage.Statement) (*storage.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &storage.Result{}, nil
}

func TestMiddlewareBuilder(t *testing.T) {
	reg := prometheus.NewRegistry()
	builder := MiddlewareBuilder{
		Namespace:  "idorm",
		Subsystem:  "storage",
		Name:       "query_duration_ms",
		Help:       "statement latency",
		Registerer: reg,
	}
	ok := storage.Chain(fakeExec{}, builder.Build())
	// 重复注册复用已有的 collector
	bad := storage.Chain(fakeExec{err: errors.New("boom")}, builder.Build())

	ctx := context.Background()
	stmt := &storage.Statement{Kind: storage.KindUpdate, Table: "Model1", SQL: "UPDATE Model1 SET a=?"}
	_, err := ok.Execute(ctx, stmt)
	require.NoError(t, err)
	_, err = ok.Execute(ctx, stmt)
	require.NoError(t, err)
	_, err = bad.Execute(ctx, stmt)
	require.Error(t, err)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	assert.Equal(t, "idorm_storage_query_duration_ms", mfs[0].GetName())

	counts := map[string]uint64{}
	for _, m := range mfs[0].GetMetric() {
		labels := map[string]string{}
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		assert.Equal(t, "UPDATE", labels["kind"])
		assert.Equal(t, "Model1", labels["table"])
		counts[labels["status"]] = m.GetSummary().GetSampleCount()
	}
	assert.Equal(t, map[string]uint64{"ok": 2, "error": 1}, counts)
}
