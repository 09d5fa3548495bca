// Package validate checks instance documents against JSON Schema. Schemas are
// lowered to CUE once and kept in an LRU cache.
package validate

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/encoding/jsonschema"
	"github.com/everpan/idorm/pkg/errs"
	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

const DefaultCacheSize = 256

// Options of one validation call.
type Options struct {
	Model string
	// Patch 时忽略 required
	Patch bool
}

// Validator returns *errs.ValidationError when doc violates schema. A nil schema
// accepts everything.
type Validator interface {
	Validate(ctx context.Context, schema map[string]any, doc map[string]any, opts Options) error
}

// CUEValidator is safe for concurrent use.
type CUEValidator struct {
	// cue.Context 不能并发使用
	mu    sync.Mutex
	cue   *cue.Context
	cache *lru.Cache
	group singleflight.Group
}

func NewCUEValidator(cacheSize int) (*CUEValidator, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema cache: %w", err)
	}
	return &CUEValidator{cue: cuecontext.New(), cache: cache}, nil
}

func (v *CUEValidator) Validate(_ context.Context, schema map[string]any, doc map[string]any, opts Options) error {
	if schema == nil {
		return nil
	}
	sv, err := v.compile(schema, opts)
	if err != nil {
		return err
	}
	v.mu.Lock()
	err = sv.Unify(v.cue.Encode(normalize(doc))).Validate(cue.Concrete(true))
	v.mu.Unlock()
	if err != nil {
		return errs.NewValidationError(opts.Model, err, violations(err)...)
	}
	return nil
}

// Len is the number of compiled schemas held.
func (v *CUEValidator) Len() int {
	return v.cache.Len()
}

func (v *CUEValidator) compile(schema map[string]any, opts Options) (cue.Value, error) {
	if opts.Patch {
		schema = RelaxRequired(schema)
	}
	key, data, err := schemaKey(schema)
	if err != nil {
		return cue.Value{}, errs.NewConfigurationError(opts.Model, "", "invalid schema: %v", err)
	}
	if cached, ok := v.cache.Get(key); ok {
		return cached.(cue.Value), nil
	}
	val, err, _ := v.group.Do(key, func() (any, error) {
		v.mu.Lock()
		defer v.mu.Unlock()
		raw := v.cue.CompileBytes(data)
		if raw.Err() != nil {
			return nil, raw.Err()
		}
		f, err := jsonschema.Extract(raw, &jsonschema.Config{})
		if err != nil {
			return nil, err
		}
		sv := v.cue.BuildFile(f)
		if sv.Err() != nil {
			return nil, sv.Err()
		}
		v.cache.Add(key, sv)
		return sv, nil
	})
	if err != nil {
		return cue.Value{}, errs.NewConfigurationError(opts.Model, "", "invalid schema: %v", err)
	}
	return val.(cue.Value), nil
}

// SchemaHash identifies a schema by content.
func SchemaHash(schema map[string]any) (string, error) {
	key, _, err := schemaKey(schema)
	return key, err
}

func schemaKey(schema map[string]any) (string, []byte, error) {
	// map 序列化时 key 有序
	data, err := json.Marshal(schema)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), data, nil
}

// RelaxRequired returns a copy of schema with every "required" list removed.
func RelaxRequired(schema map[string]any) map[string]any {
	return relax(schema).(map[string]any)
}

func relax(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			if _, isList := val.([]any); isList && k == "required" {
				continue
			}
			if _, isList := val.([]string); isList && k == "required" {
				continue
			}
			m[k] = relax(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = relax(val)
		}
		return s
	default:
		return v
	}
}

// normalize turns integral floats into ints, JSON decoding yields float64 for
// every number and CUE keeps int and float apart.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = normalize(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = normalize(val)
		}
		return s
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	case float32:
		return normalize(float64(t))
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

func violations(err error) []errs.Violation {
	var ret []errs.Violation
	seen := map[errs.Violation]bool{}
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		vl := errs.Violation{Path: strings.Join(e.Path(), "."), Message: fmt.Sprintf(format, args...)}
		if seen[vl] {
			continue
		}
		seen[vl] = true
		ret = append(ret, vl)
	}
	if len(ret) == 0 {
		ret = append(ret, errs.Violation{Message: err.Error()})
	}
	return ret
}
