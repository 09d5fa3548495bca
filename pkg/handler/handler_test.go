package handler

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/everpan/idorm/pkg/config"
	"github.com/everpan/idorm/pkg/core"
	"github.com/everpan/idorm/pkg/model"
	"github.com/everpan/idorm/pkg/model/modeltest"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"xorm.io/xorm"
)

func TestMain(m *testing.M) {
	config.SetLogger(zap.NewNop())
	typed := modeltest.Model1().Variant("Model1Typed", map[string]any{
		"type":     "object",
		"required": []any{"model1Prop1"},
		"properties": map[string]any{
			"id":          map[string]any{"type": []any{"number", "null"}},
			"model1Prop1": map[string]any{"type": "string"},
			"model1Prop2": map[string]any{"type": []any{"number", "null"}},
		},
	})
	if err := model.Register(append(modeltest.Definitions(), typed)...); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func newApp(t *testing.T) (*fiber.App, *xorm.Engine) {
	viper.Set("datasource.default.driver", "sqlite3")
	viper.Set("datasource.default.dsn", filepath.Join(t.TempDir(), "handler.db"))
	require.NoError(t, config.ApplyReloadFuncs())
	t.Cleanup(core.CloseEngines)

	ds, err := config.GetDataSource("")
	require.NoError(t, err)
	engine, err := core.GetEngine(ds)
	require.NoError(t, err)
	modeltest.CreateTables(t, engine)
	modeltest.Exec(t, engine,
		`INSERT INTO Model1 (id, model1Prop1, model1Id) VALUES (1, 'hello 1', NULL), (2, 'hello 2', 1), (3, 'hello 3', NULL)`,
		`INSERT INTO model_2 (id_col, model_2_prop_1, model_2_prop_2, model_1_id) VALUES (1, 'text 1', 2, 1), (2, 'text 2', 1, 1), (3, 'text 3', 3, 2)`,
	)
	return core.CreateApp(), engine
}

type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

func call(t *testing.T, app *fiber.App, method, path, body string) (int, *envelope) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	env := &envelope{}
	require.NoError(t, json.Unmarshal(data, env), string(data))
	return resp.StatusCode, env
}

func rows(t *testing.T, env *envelope) []map[string]any {
	t.Helper()
	list, ok := env.Data.([]any)
	require.True(t, ok, "data is %T", env.Data)
	ret := make([]map[string]any, len(list))
	for i, v := range list {
		ret[i] = v.(map[string]any)
	}
	return ret
}

func Test_getMeta(t *testing.T) {
	app, _ := newApp(t)

	status, env := call(t, app, http.MethodGet, "/api/v1/model/Model2/meta", "")
	require.Equal(t, http.StatusOK, status, env.Msg)
	meta := env.Data.(map[string]any)
	assert.Equal(t, "model_2", meta["table"])
	assert.Equal(t, []any{"id_col"}, meta["primary_key"])
	assert.Equal(t, map[string]any{"name": "id_col", "property": "idCol"}, meta["columns"].([]any)[0])
	assert.Equal(t, "model2Relation1", meta["relations"].([]any)[0].(map[string]any)["name"])

	status, env = call(t, app, http.MethodGet, "/api/v1/model/Nope/meta", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, core.CodeConfiguration, env.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/model/Model1/meta", nil)
	req.Header.Set(config.DataSourceHeader, "missing")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown datasource")
}

func Test_select(t *testing.T) {
	app, _ := newApp(t)

	status, env := call(t, app, http.MethodPost, "/api/v1/model/Model1/select",
		`{"select":["id","model1Prop1"],"where":[{"col":"id","op":"gt","val":1}],"order":[{"col":"id","opt":"desc"}]}`)
	require.Equal(t, http.StatusOK, status, env.Msg)
	assert.Equal(t, []map[string]any{
		{"id": float64(3), "model1Prop1": "hello 3"},
		{"id": float64(2), "model1Prop1": "hello 2"},
	}, rows(t, env))

	q := base64.URLEncoding.EncodeToString([]byte(`{"where":[{"col":"model1Prop1","op":"eq","val":"hello 2"}]}`))
	status, env = call(t, app, http.MethodGet, "/api/v1/model/Model1/select/"+q, "")
	require.Equal(t, http.StatusOK, status, env.Msg)
	require.Len(t, rows(t, env), 1)
	assert.Equal(t, float64(2), rows(t, env)[0]["id"])

	status, env = call(t, app, http.MethodPost, "/api/v1/model/Model2/select", `{"id":3}`)
	require.Equal(t, http.StatusOK, status, env.Msg)
	assert.Equal(t, []map[string]any{{"idCol": float64(3), "model2Prop1": "text 3", "model2Prop2": float64(3), "model1Id": float64(2)}}, rows(t, env))

	status, env = call(t, app, http.MethodPost, "/api/v1/model/Model1/select", `{"where":[{"col":"nope","op":"eq","val":1}]}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, core.CodeConfiguration, env.Code)

	status, env = call(t, app, http.MethodPost, "/api/v1/model/Model1/select", `{"limit":{"num":0}}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, core.CodeBadRequest, env.Code)
}

func Test_mutations(t *testing.T) {
	app, engine := newApp(t)
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   int
		wantData   any
	}{
		{"insert", "/api/v1/model/Model1/insert", `{"vals":{"model1Prop1":"new"}}`, http.StatusOK, core.CodeOK,
			map[string]any{"id": float64(4), "model1Prop1": "new", "model1Prop2": nil, "model1Id": nil}},
		{"insert invalid", "/api/v1/model/Model1Typed/insert", `{"vals":{"model1Prop1":5}}`, http.StatusUnprocessableEntity, core.CodeValidation, nil},
		{"patch by id", "/api/v1/model/Model1/patch", `{"id":2,"vals":{"model1Prop2":7}}`, http.StatusOK, core.CodeOK,
			map[string]any{"id": float64(2), "model1Prop1": "hello 2", "model1Prop2": float64(7), "model1Id": float64(1)}},
		{"patch missing row", "/api/v1/model/Model1/patch", `{"id":42,"vals":{"model1Prop2":7}}`, http.StatusNotFound, core.CodeNotFound, nil},
		{"update required", "/api/v1/model/Model1Typed/update", `{"id":[1],"vals":{"model1Prop2":1}}`, http.StatusUnprocessableEntity, core.CodeValidation, nil},
		{"update where", "/api/v1/model/Model1/update", `{"vals":{"model1Prop2":1},"where":[{"col":"id","op":"lt","val":3}]}`, http.StatusOK, core.CodeOK,
			map[string]any{"affected": float64(2)}},
		{"delete needs where", "/api/v1/model/Model1/delete", `{}`, http.StatusBadRequest, core.CodeConfiguration, nil},
		{"delete bad id", "/api/v1/model/Model1/delete", `{"id":[1,2]}`, http.StatusBadRequest, core.CodeConfiguration, nil},
		{"delete by id", "/api/v1/model/Model1/delete", `{"id":3}`, http.StatusOK, core.CodeOK, map[string]any{"affected": float64(1)}},
		{"bad json", "/api/v1/model/Model1/insert", `{"vals":`, http.StatusBadRequest, core.CodeBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := call(t, app, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, status, env.Msg)
			assert.Equal(t, tt.wantCode, env.Code)
			if tt.wantData != nil {
				assert.Equal(t, tt.wantData, env.Data)
			}
		})
	}

	assert.Equal(t, []any{"hello 1", "hello 2", "new"}, modeltest.Column(t, engine, "Model1", "id", "model1Prop1"))
	assert.Equal(t, []any{int64(1), int64(1), nil}, modeltest.Column(t, engine, "Model1", "id", "model1Prop2"))
}

func Test_validationViolations(t *testing.T) {
	app, _ := newApp(t)
	status, env := call(t, app, http.MethodPost, "/api/v1/model/Model1Typed/insert", `{"vals":{"model1Prop1":5}}`)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	violations, ok := env.Data.([]any)
	require.True(t, ok)
	require.NotEmpty(t, violations)
	assert.Contains(t, violations[0].(map[string]any)["path"], "model1Prop1")
}

func Test_related(t *testing.T) {
	app, engine := newApp(t)
	base := "/api/v1/model/Model1/related/model1Relation2/"

	status, env := call(t, app, http.MethodPost, base+"select", `{"owners":[{"id":1}],"order":[{"col":"idCol"}]}`)
	require.Equal(t, http.StatusOK, status, env.Msg)
	got := rows(t, env)
	require.Len(t, got, 2)
	assert.Equal(t, "text 1", got[0]["model2Prop1"])

	status, env = call(t, app, http.MethodPost, base+"select", `{"owners":[{"id":1},{"id":2}],"where":[{"col":"model2Prop2","op":"gte","val":2}]}`)
	require.Equal(t, http.StatusOK, status, env.Msg)
	assert.Len(t, rows(t, env), 2)

	status, env = call(t, app, http.MethodPost, base+"patch",
		`{"owners":[{"id":1}],"vals":{"model2Prop1":"x"},"where":[{"col":"model2Prop2","op":"eq","val":1}]}`)
	require.Equal(t, http.StatusOK, status, env.Msg)
	assert.Equal(t, map[string]any{"affected": float64(1)}, env.Data)

	status, env = call(t, app, http.MethodPost, base+"insert", `{"owners":[{"id":3}],"vals":{"idCol":9,"model2Prop1":"child"}}`)
	require.Equal(t, http.StatusOK, status, env.Msg)
	assert.Equal(t, float64(3), env.Data.(map[string]any)["model1Id"])

	status, env = call(t, app, http.MethodPost, base+"delete", `{"owners":[{"id":2}]}`)
	require.Equal(t, http.StatusOK, status, env.Msg)
	assert.Equal(t, map[string]any{"affected": float64(1)}, env.Data)

	status, env = call(t, app, http.MethodPost, "/api/v1/model/Model1/related/nope/select", `{"owners":[{"id":1}]}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, core.CodeNotFound, env.Code)

	status, env = call(t, app, http.MethodPost, base+"select", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, core.CodeConfiguration, env.Code)

	status, env = call(t, app, http.MethodPost, base+"update", `{"owners":[{"model1Prop1":"no key"}],"vals":{"model2Prop1":"y"}}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, core.CodeConfiguration, env.Code)

	assert.Equal(t, []any{"text 1", "x", "child"}, modeltest.Column(t, engine, "model_2", "id_col", "model_2_prop_1"))
}
