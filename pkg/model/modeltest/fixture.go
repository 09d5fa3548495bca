// Package modeltest holds the models and sqlite tables shared by package tests.
package modeltest

import (
	"path/filepath"
	"testing"

	"github.com/everpan/idorm/pkg/model"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"xorm.io/xorm"
)

var ddl = []string{
	`CREATE TABLE Model1 (id INTEGER PRIMARY KEY, model1Prop1 TEXT, model1Prop2 INTEGER, model1Id INTEGER)`,
	`CREATE TABLE model_2 (id_col INTEGER PRIMARY KEY, model_2_prop_1 TEXT, model_2_prop_2 INTEGER, model_1_id INTEGER)`,
	`CREATE TABLE Model1Model2 (id INTEGER PRIMARY KEY AUTOINCREMENT, model1Id INTEGER, model2Id INTEGER)`,
	`CREATE TABLE account (tenant_id INTEGER, user_id INTEGER, name TEXT, PRIMARY KEY (tenant_id, user_id))`,
	`CREATE TABLE account_tag (id INTEGER PRIMARY KEY, tenant_id INTEGER, user_id INTEGER, label TEXT)`,
	`CREATE TABLE role (tenant_id INTEGER, role_id INTEGER, title TEXT, PRIMARY KEY (tenant_id, role_id))`,
	`CREATE TABLE account_role (acc_tenant_id INTEGER, acc_user_id INTEGER, role_tenant_id INTEGER, role_id INTEGER)`,
}

// Model1 is self related through model1Id and owns many Model2 rows.
func Model1() model.Definition {
	return model.Definition{
		Name:       "Model1",
		Table:      "Model1",
		Columns:    model.Cols("id", "model1Prop1", "model1Prop2", "model1Id"),
		PrimaryKey: []string{"id"},
		Relations: []model.RelationDef{
			{Name: "model1Relation1", Kind: model.BelongsToOne, Related: "Model1", From: []string{"model1Id"}, To: []string{"id"}},
			{Name: "model1Relation2", Kind: model.HasMany, Related: "Model2", From: []string{"id"}, To: []string{"model_1_id"}},
		},
	}
}

// Model2 maps snake_case columns to camelCase properties.
func Model2() model.Definition {
	return model.Definition{
		Name:  "Model2",
		Table: "model_2",
		Columns: []model.ColumnDef{
			{Name: "id_col", Property: "idCol"},
			{Name: "model_2_prop_1", Property: "model2Prop1"},
			{Name: "model_2_prop_2", Property: "model2Prop2"},
			{Name: "model_1_id", Property: "model1Id"},
		},
		PrimaryKey: []string{"id_col"},
		Relations: []model.RelationDef{
			{Name: "model2Relation1", Kind: model.ManyToMany, Related: "Model1", From: []string{"id_col"}, To: []string{"id"},
				Through: &model.Through{Table: "Model1Model2", From: []string{"model2Id"}, To: []string{"model1Id"}}},
		},
	}
}

// Account has a composite key, many tags and many roles.
func Account() model.Definition {
	return model.Definition{
		Name:       "Account",
		Table:      "account",
		Naming:     model.NamingSnake,
		Columns:    model.Cols("tenant_id", "user_id", "name"),
		PrimaryKey: []string{"tenant_id", "user_id"},
		Relations: []model.RelationDef{
			{Name: "tags", Kind: model.HasMany, Related: "AccountTag", From: []string{"tenant_id", "user_id"}, To: []string{"tenant_id", "user_id"}},
			{Name: "roles", Kind: model.ManyToMany, Related: "Role", From: []string{"tenant_id", "user_id"}, To: []string{"tenant_id", "role_id"},
				Through: &model.Through{Table: "account_role", From: []string{"acc_tenant_id", "acc_user_id"}, To: []string{"role_tenant_id", "role_id"}}},
		},
	}
}

func AccountTag() model.Definition {
	return model.Definition{
		Name:       "AccountTag",
		Table:      "account_tag",
		Naming:     model.NamingSnake,
		Columns:    model.Cols("id", "tenant_id", "user_id", "label"),
		PrimaryKey: []string{"id"},
	}
}

func Role() model.Definition {
	return model.Definition{
		Name:       "Role",
		Table:      "role",
		Naming:     model.NamingSnake,
		Columns:    model.Cols("tenant_id", "role_id", "title"),
		PrimaryKey: []string{"tenant_id", "role_id"},
	}
}

func Definitions() []model.Definition {
	return []model.Definition{Model1(), Model2(), Account(), AccountTag(), Role()}
}

// NewRegistry registers Definitions plus extra into a fresh registry.
func NewRegistry(t testing.TB, extra ...model.Definition) *model.Registry {
	t.Helper()
	reg := model.NewRegistry()
	require.NoError(t, reg.Register(append(Definitions(), extra...)...))
	return reg
}

// OpenEngine opens a sqlite file under t.TempDir with every fixture table created.
func OpenEngine(t testing.TB) *xorm.Engine {
	t.Helper()
	engine, err := xorm.NewEngine("sqlite3", filepath.Join(t.TempDir(), "idorm_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	CreateTables(t, engine)
	return engine
}

// CreateTables creates every fixture table on engine.
func CreateTables(t testing.TB, engine *xorm.Engine) {
	t.Helper()
	Exec(t, engine, ddl...)
}

func Exec(t testing.TB, engine *xorm.Engine, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		_, err := engine.Exec(s)
		require.NoError(t, err, s)
	}
}

// Rows returns every row of table ordered by orderBy, read on the raw *sql.DB so
// NULL stays nil and text comes back as string.
func Rows(t testing.TB, engine *xorm.Engine, table, orderBy string) []map[string]any {
	t.Helper()
	rows, err := engine.DB().DB.Query("SELECT * FROM " + table + " ORDER BY " + orderBy)
	require.NoError(t, err)
	defer rows.Close()
	cols, err := rows.Columns()
	require.NoError(t, err)
	var ret []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		require.NoError(t, rows.Scan(ptrs...))
		r := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				vals[i] = string(b)
			}
			r[c] = vals[i]
		}
		ret = append(ret, r)
	}
	require.NoError(t, rows.Err())
	return ret
}

// Count runs a SELECT COUNT(*) statement on the raw *sql.DB.
func Count(t testing.TB, engine *xorm.Engine, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, engine.DB().DB.QueryRow(query, args...).Scan(&n), query)
	return n
}

// Column returns one column of Rows.
func Column(t testing.TB, engine *xorm.Engine, table, orderBy, col string) []any {
	t.Helper()
	rows := Rows(t, engine, table, orderBy)
	ret := make([]any, len(rows))
	for i, r := range rows {
		ret[i] = r[col]
	}
	return ret
}
