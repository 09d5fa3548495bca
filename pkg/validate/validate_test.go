package validate

import (
	"context"
	"sync"
	"testing"

	"github.com/everpan/idorm/pkg/errs"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	model1Schema = map[string]any{
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
	integerSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{"type": "integer"},
		},
	}
)

func TestCUEValidator_Validate(t *testing.T) {
	v, err := NewCUEValidator(8)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name     string
		schema   map[string]any
		doc      map[string]any
		patch    bool
		wantErr  bool
		wantPath string
	}{
		{"type mismatch", model1Schema, map[string]any{"model1Prop1": 666}, false, true, "model1Prop1"},
		{"valid", model1Schema, map[string]any{"model1Prop1": "text", "id": nil}, false, false, ""},
		{"undeclared property allowed", model1Schema, map[string]any{"other": true}, false, false, ""},
		{"missing required", requiredSchema, map[string]any{"model1Prop1": "text"}, false, true, ""},
		{"patch relaxes required", requiredSchema, map[string]any{"model1Prop1": "text"}, true, false, ""},
		{"patch still checks types", requiredSchema, map[string]any{"model1Prop1": 1}, true, true, "model1Prop1"},
		{"required present", requiredSchema, map[string]any{"model1Prop1": "text", "model1Prop2": float64(3)}, false, false, ""},
		{"integral float is an integer", integerSchema, map[string]any{"id": float64(1)}, false, false, ""},
		{"fraction is not an integer", integerSchema, map[string]any{"id": 1.5}, false, true, "id"},
		{"json number", integerSchema, map[string]any{"id": json.Number("7")}, false, false, ""},
		{"no schema", nil, map[string]any{"anything": 1}, false, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(ctx, tt.schema, tt.doc, Options{Model: "Model1", Patch: tt.patch})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var vErr *errs.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, "Model1", vErr.Model)
			require.NotEmpty(t, vErr.Violations)
			if tt.wantPath != "" {
				paths := make([]string, 0, len(vErr.Violations))
				for _, vl := range vErr.Violations {
					paths = append(paths, vl.Path)
					assert.NotEmpty(t, vl.Message)
				}
				assert.Contains(t, paths, tt.wantPath)
			}
		})
	}
}

func TestCUEValidator_Cache(t *testing.T) {
	v, err := NewCUEValidator(0)
	require.NoError(t, err)
	ctx := context.Background()
	doc := map[string]any{"model1Prop1": "a", "model1Prop2": 1}
	cached := func(schema map[string]any) bool {
		key, err := SchemaHash(schema)
		require.NoError(t, err)
		return v.cache.Contains(key)
	}

	require.NoError(t, v.Validate(ctx, requiredSchema, doc, Options{}))
	require.NoError(t, v.Validate(ctx, requiredSchema, doc, Options{}))
	assert.Equal(t, 1, v.Len())
	assert.False(t, cached(model1Schema))

	// patch compiles the relaxed schema, which has the same content as model1Schema
	require.NoError(t, v.Validate(ctx, requiredSchema, doc, Options{Patch: true}))
	assert.Equal(t, 2, v.Len())
	assert.True(t, cached(RelaxRequired(requiredSchema)))
	assert.True(t, cached(model1Schema))
	require.NoError(t, v.Validate(ctx, model1Schema, doc, Options{}))
	assert.Equal(t, 2, v.Len(), "model1Schema hits the relaxed entry")

	assert.False(t, cached(integerSchema))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := v.Validate(ctx, integerSchema, map[string]any{"id": i}, Options{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.True(t, cached(integerSchema))
	assert.Equal(t, 3, v.Len())
}

func TestRelaxRequired(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"a"},
		"properties": map[string]any{
			"a":        map[string]any{"type": "object", "required": []string{"b"}},
			"required": map[string]any{"type": "boolean"},
		},
	}
	relaxed := RelaxRequired(schema)
	assert.NotContains(t, relaxed, "required")
	props := relaxed["properties"].(map[string]any)
	assert.NotContains(t, props["a"], "required")
	assert.Contains(t, props, "required")
	// 原 schema 不变
	assert.Contains(t, schema, "required")
}

func TestSchemaHash(t *testing.T) {
	a, err := SchemaHash(map[string]any{"type": "object", "required": []any{"x"}})
	require.NoError(t, err)
	b, err := SchemaHash(map[string]any{"required": []any{"x"}, "type": "object"})
	require.NoError(t, err)
	c, err := SchemaHash(RelaxRequired(map[string]any{"type": "object", "required": []any{"x"}}))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
