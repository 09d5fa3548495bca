package orm_test

import (
	"context"
	"testing"

	"github.com/everpan/idorm/pkg/model"
	"github.com/everpan/idorm/pkg/model/modeltest"
	"github.com/everpan/idorm/pkg/orm"
	"github.com/everpan/idorm/pkg/query"
	"github.com/everpan/idorm/pkg/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"xorm.io/xorm"
)

var ctx = context.Background()

// countHook counts its calls on the instance under the transient key name and
// keeps the options of the last call under name+"Options".
func countHook(name string) model.HookFunc {
	return func(_ context.Context, inst *model.Instance, opts *model.HookOptions) error {
		inst.SetTransient(name, calls(inst, name)+1)
		inst.SetTransient(name+"Options", opts)
		return nil
	}
}

func calls(inst *model.Instance, name string) int {
	v, _ := inst.Transient(name)
	n, _ := v.(int)
	return n
}

func hookOptions(inst *model.Instance, name string) *model.HookOptions {
	v, _ := inst.Transient(name + "Options")
	opts, _ := v.(*model.HookOptions)
	return opts
}

func countingHooks() model.Hooks {
	return model.HookFuncs{
		OnAfterValidate: countHook("afterValidateCalled"),
		OnBeforeInsert:  countHook("beforeInsertCalled"),
		OnAfterInsert:   countHook("afterInsertCalled"),
		OnBeforeUpdate:  countHook("beforeUpdateCalled"),
		OnAfterUpdate:   countHook("afterUpdateCalled"),
	}
}

var (
	typedSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":          map[string]any{"type": []any{"number", "null"}},
			"model1Prop1": map[string]any{"type": "string"},
			"model1Prop2": map[string]any{"type": "number"},
		},
	}
	requiredSchema = map[string]any{
		"type":     "object",
		"required": []any{"model1Prop2"},
		"properties": map[string]any{
			"id":          map[string]any{"type": []any{"number", "null"}},
			"model1Prop1": map[string]any{"type": "string"},
			"model1Prop2": map[string]any{"type": "number"},
		},
	}
	integerIDSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{"type": "integer"},
		},
	}
)

// definitions are the fixture models with counting hooks on Model1 and its
// schema variants.
func definitions() []model.Definition {
	m1 := modeltest.Model1()
	m1.Hooks = countingHooks()
	return []model.Definition{
		m1,
		m1.Variant("Model1Typed", typedSchema),
		m1.Variant("Model1Required", requiredSchema),
		m1.Variant("Model1IntID", integerIDSchema),
		modeltest.Model2(),
		modeltest.Account(),
		modeltest.AccountTag(),
		modeltest.Role(),
	}
}

func newRegistry(t testing.TB) *model.Registry {
	reg := model.NewRegistry()
	require.NoError(t, reg.Register(definitions()...))
	return reg
}

type env struct {
	t      *testing.T
	engine *xorm.Engine
	reg    *model.Registry
	db     *orm.DB
}

func newEnv(t *testing.T, opts ...orm.Option) *env {
	t.Helper()
	reg := newRegistry(t)
	engine := modeltest.OpenEngine(t)
	opts = append([]orm.Option{
		orm.WithRegistry(reg),
		orm.WithDialect(query.DialectFor("sqlite3", nil)),
		orm.WithLogger(zaptest.NewLogger(t)),
	}, opts...)
	db, err := orm.New(storage.NewXorm(engine), opts...)
	require.NoError(t, err)
	return &env{t: t, engine: engine, reg: reg, db: db}
}

func (e *env) class(name string) *model.Class {
	c, err := e.reg.Class(name)
	require.NoError(e.t, err)
	return c
}

func (e *env) exec(stmts ...string) {
	modeltest.Exec(e.t, e.engine, stmts...)
}

func (e *env) column(table, orderBy, col string) []any {
	return modeltest.Column(e.t, e.engine, table, orderBy, col)
}

// find returns every instance of name keyed by the value of prop.
func (e *env) find(name, prop string) map[int64]*model.Instance {
	rows, err := e.db.Query(name).Find(ctx)
	require.NoError(e.t, err)
	ret := make(map[int64]*model.Instance, len(rows))
	for _, r := range rows {
		ret[r.Value(prop).(int64)] = r
	}
	return ret
}

func (e *env) seedModel1() {
	e.exec(
		"INSERT INTO Model1 (id, model1Prop1) VALUES (1, 'hello 1'), (2, 'hello 2'), (3, 'hello 3')",
		"INSERT INTO model_2 (id_col, model_2_prop_1, model_2_prop_2, model_1_id) VALUES (1, 'text 1', 2, 1), (2, 'text 2', 1, 1)",
	)
}
